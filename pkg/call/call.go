// Package call holds the state of one bound stored-procedure call and the
// interfaces an engine must satisfy to prepare and execute it.
//
// A Context moves through Bound, Executing, Executed (or Failed) and
// Released. Binding creates it, Run executes it once, and decoding
// releases it. Buffers belong to exactly one Context and are never reused.
package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/param"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// Prepared is a statement handle produced by an engine.
type Prepared interface {
	// NumInput returns the number of parameter placeholders.
	NumInput() int
	// Text returns the statement text.
	Text() string
}

// Describer is implemented by prepared statements that know the declared
// type and mode of their parameters.
type Describer interface {
	DescribeParam(i int) (sqltype.Descriptor, param.Direction, bool)
}

// Preparer turns statement text into a Prepared handle.
type Preparer interface {
	Prepare(ctx context.Context, text string) (Prepared, error)
}

// Executor performs a bound call. For every OUT or INOUT slot it either
// leaves the buffer NULL or writes a value no longer than the buffer's
// capacity. Engine failures are returned as errors wrapping
// *errors.EngineError.
type Executor interface {
	Execute(ctx context.Context, c *Context) (*Outcome, error)
}

// Outcome is what an executor reports besides the buffers it wrote.
type Outcome struct {
	RowsAffected int64
	Warnings     []*cberrors.Error
	Messages     []string
	Duration     time.Duration
}

// Slot is one bound parameter.
type Slot struct {
	Index     int
	Direction param.Direction
	Desc      sqltype.Descriptor
	Buffer    *sqltype.Buffer
}

func (s *Slot) String() string {
	return fmt.Sprintf("%d:%s:%s", s.Index+1, s.Direction, s.Desc)
}

// State is the lifecycle position of a Context.
type State int32

const (
	StateBound State = iota
	StateExecuting
	StateExecuted
	StateFailed
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateBound:
		return "bound"
	case StateExecuting:
		return "executing"
	case StateExecuted:
		return "executed"
	case StateFailed:
		return "failed"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Context is a bound call: the statement, its slots and the warnings
// raised while binding and executing.
type Context struct {
	ID        string
	Statement Prepared

	slots []*Slot
	state atomic.Int32

	mu       sync.Mutex
	warnings []*cberrors.Error
}

// NewContext creates a Context in the Bound state.
func NewContext(id string, stmt Prepared, slots []*Slot) *Context {
	return &Context{ID: id, Statement: stmt, slots: slots}
}

// Slots returns the slots in statement order.
func (c *Context) Slots() []*Slot { return c.slots }

// Slot returns slot i, or nil when out of range.
func (c *Context) Slot(i int) *Slot {
	if i < 0 || i >= len(c.slots) {
		return nil
	}
	return c.slots[i]
}

// Len returns the number of slots.
func (c *Context) Len() int { return len(c.slots) }

// Outputs counts OUT and INOUT slots.
func (c *Context) Outputs() int {
	n := 0
	for _, s := range c.slots {
		if s.Direction.Returns() {
			n++
		}
	}
	return n
}

// State returns the current lifecycle state.
func (c *Context) State() State { return State(c.state.Load()) }

// Warn records a warning.
func (c *Context) Warn(w *cberrors.Error) {
	if w == nil {
		return
	}
	c.mu.Lock()
	c.warnings = append(c.warnings, w)
	c.mu.Unlock()
}

// Warnings returns a copy of the recorded warnings.
func (c *Context) Warnings() []*cberrors.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*cberrors.Error, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// Begin moves a Bound context to Executing. A context that is already
// executing reports ErrCodeConcurrentCall; any other state is
// ErrCodeInvalidState.
func (c *Context) Begin() error {
	if c.state.CompareAndSwap(int32(StateBound), int32(StateExecuting)) {
		return nil
	}
	st := c.State()
	if st == StateExecuting {
		return cberrors.New(cberrors.ErrCodeConcurrentCall, "call is already executing").
			WithOp("Context.Begin").
			WithField("call_id", c.ID).
			Err()
	}
	return cberrors.InvalidState("Context.Begin", "call is "+st.String()).
		WithField("call_id", c.ID).
		Err()
}

// Finish ends execution. A nil err leaves the context Executed.
func (c *Context) Finish(err error) {
	next := StateExecuted
	if err != nil {
		next = StateFailed
	}
	c.state.CompareAndSwap(int32(StateExecuting), int32(next))
}

// Release drops the buffers. It fails while executing or when already
// released.
func (c *Context) Release() error {
	for {
		st := c.State()
		switch st {
		case StateExecuting, StateReleased:
			return cberrors.InvalidState("Context.Release", "call is "+st.String()).
				WithField("call_id", c.ID).
				Err()
		}
		if c.state.CompareAndSwap(int32(st), int32(StateReleased)) {
			for _, s := range c.slots {
				s.Buffer = nil
			}
			return nil
		}
	}
}

// Run executes c once through exec. Outcome warnings are added to the
// context. The context ends Executed or Failed.
func Run(ctx context.Context, exec Executor, c *Context) (*Outcome, error) {
	if err := c.Begin(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := exec.Execute(ctx, c)
	if err == nil && out == nil {
		out = &Outcome{}
	}
	if out != nil {
		if out.Duration == 0 {
			out.Duration = time.Since(start)
		}
		for _, w := range out.Warnings {
			c.Warn(w)
		}
	}
	if err != nil && ctx.Err() != nil && !cberrors.IsCategory(err, "execution") {
		err = interrupted(ctx.Err(), err)
	}
	c.Finish(err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func interrupted(ctxErr, cause error) error {
	code := cberrors.ErrCodeCallCancelled
	if ctxErr == context.DeadlineExceeded {
		code = cberrors.ErrCodeCallTimeout
	}
	return cberrors.Wrapf(cause, code, "call interrupted: %v", ctxErr).WithOp("call.Run").Err()
}
