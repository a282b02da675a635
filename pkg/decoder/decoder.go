// Package decoder turns the buffers of an executed call into host values.
package decoder

import (
	"github.com/ha1tch/callbind/pkg/call"
	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// Result holds one value per OUT or INOUT parameter, in statement order.
// IN parameters have no entry.
type Result struct {
	values   []sqltype.Value
	slots    []int
	warnings []*cberrors.Error
	outcome  *call.Outcome
}

// Len returns the number of values.
func (r Result) Len() int { return len(r.values) }

// Values returns the values. The slice is shared.
func (r Result) Values() []sqltype.Value { return r.values }

// At returns the i-th value.
func (r Result) At(i int) sqltype.Value { return r.values[i] }

// SlotIndex returns the statement position of the i-th value.
func (r Result) SlotIndex(i int) int { return r.slots[i] }

// Interfaces returns the values as nil, string, int64 or decimal.Decimal.
func (r Result) Interfaces() []interface{} {
	out := make([]interface{}, len(r.values))
	for i, v := range r.values {
		out[i] = v.Interface()
	}
	return out
}

// Warnings returns truncation and other warnings raised while binding and
// executing the call.
func (r Result) Warnings() []*cberrors.Error { return r.warnings }

// Outcome returns the executor's report.
func (r Result) Outcome() *call.Outcome { return r.outcome }

// Decode reads every OUT and INOUT buffer of c in one pass and releases
// the context, also when a buffer cannot be read. It refuses contexts that did not execute successfully; a
// failed call has no result and its buffers are not read.
func Decode(c *call.Context, outcome *call.Outcome) (Result, error) {
	if c == nil {
		return Result{}, cberrors.InvalidState("Decode", "no call context").Err()
	}
	if outcome == nil {
		return Result{}, cberrors.InvalidState("Decode", "call has no outcome").
			WithField("call_id", c.ID).
			Err()
	}
	if st := c.State(); st != call.StateExecuted {
		return Result{}, cberrors.InvalidState("Decode", "call is "+st.String()).
			WithField("call_id", c.ID).
			Err()
	}

	n := c.Outputs()
	r := Result{
		values:  make([]sqltype.Value, 0, n),
		slots:   make([]int, 0, n),
		outcome: outcome,
	}
	for _, s := range c.Slots() {
		if !s.Direction.Returns() {
			continue
		}
		v, err := s.Buffer.Load()
		if err != nil {
			c.Release()
			return Result{}, cberrors.Wrapf(err, cberrors.ErrCodeDecodeFailed, "parameter %d", s.Index+1).
				WithOp("Decode").
				WithField("index", s.Index).
				WithField("type", s.Desc.String()).
				Err()
		}
		r.values = append(r.values, v)
		r.slots = append(r.slots, s.Index)
	}
	r.warnings = c.Warnings()

	if err := c.Release(); err != nil {
		return Result{}, err
	}
	return r, nil
}
