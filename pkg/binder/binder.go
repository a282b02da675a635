// Package binder lowers a parameter list onto a prepared statement,
// producing a call.Context whose buffers are ready for an executor.
//
// Binding never talks to the engine. Arity is checked before anything
// else, so a wrong parameter count fails without side effects.
package binder

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/ha1tch/callbind/pkg/call"
	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/log"
	"github.com/ha1tch/callbind/pkg/param"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// Config holds the sizes used when neither the caller nor the statement
// gives one.
type Config struct {
	DefaultCharLength       int
	DefaultVarCharLength    int
	DefaultDecimalPrecision int
	DefaultDecimalScale     int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultCharLength:       1,
		DefaultVarCharLength:    4000,
		DefaultDecimalPrecision: 15,
		DefaultDecimalScale:     2,
	}
}

// Binder builds call contexts.
type Binder struct {
	config Config
	logger *log.Logger
	seq    atomic.Uint64
}

// New creates a Binder. Zero sizes in cfg take the defaults.
func New(cfg Config, logger *log.Logger) *Binder {
	def := DefaultConfig()
	if cfg.DefaultCharLength <= 0 {
		cfg.DefaultCharLength = def.DefaultCharLength
	}
	if cfg.DefaultVarCharLength <= 0 {
		cfg.DefaultVarCharLength = def.DefaultVarCharLength
	}
	if cfg.DefaultDecimalPrecision <= 0 {
		cfg.DefaultDecimalPrecision = def.DefaultDecimalPrecision
		cfg.DefaultDecimalScale = def.DefaultDecimalScale
	}
	return &Binder{config: cfg, logger: logger}
}

// Config returns the binder's configuration.
func (b *Binder) Config() Config { return b.config }

// Bind checks the list against the statement and allocates one buffer per
// placeholder. IN and INOUT buffers are seeded with the caller's value;
// OUT buffers start NULL and the caller's value, if any, is ignored.
// Strings longer than their slot are truncated and recorded as warnings
// on the returned context.
func (b *Binder) Bind(stmt call.Prepared, list param.List) (*call.Context, error) {
	if stmt == nil {
		return nil, cberrors.New(cberrors.ErrCodeNotPrepared, "statement is not prepared").
			WithOp("Binder.Bind").
			Err()
	}
	if want := stmt.NumInput(); list.Len() != want {
		return nil, cberrors.Arity(want, list.Len()).
			WithOp("Binder.Bind").
			WithField("statement", stmt.Text()).
			Err()
	}

	describer, _ := stmt.(call.Describer)
	id := fmt.Sprintf("call-%d", b.seq.Add(1))
	logger := b.logger.Bind().WithFields("call_id", id)

	slots := make([]*call.Slot, len(list))
	var warnings []*cberrors.Error

	for i, spec := range list {
		if !spec.Direction.Valid() {
			return nil, cberrors.Newf(cberrors.ErrCodeInvalidDirection,
				"parameter %d: invalid direction %d", i+1, int(spec.Direction)).
				WithOp("Binder.Bind").
				WithField("index", i).
				Err()
		}

		value := sqltype.Null()
		if spec.Direction.Sends() {
			v, ok := sqltype.ValueOf(spec.Value)
			if !ok {
				want := "a string, integer, decimal or nil"
				if spec.Type.Type.Valid() {
					want = spec.Type.String()
				}
				return nil, cberrors.TypeMismatch(i, want, spec.Value).WithOp("Binder.Bind").Err()
			}
			value = v
		}

		var (
			described sqltype.Descriptor
			declared  param.Direction
			hasDesc   bool
		)
		if describer != nil {
			described, declared, hasDesc = describer.DescribeParam(i)
		}

		desc, err := b.resolve(i, spec, value, described, hasDesc)
		if err != nil {
			return nil, err
		}
		if hasDesc && spec.Direction.Returns() && !declared.Returns() {
			logger.Debug("output requested for input-only parameter", "slot", i+1, "declared", declared.String())
		}

		buf := sqltype.NewBuffer(desc)
		if spec.Direction.Sends() {
			truncated, err := buf.Store(value)
			if err != nil {
				return nil, cberrors.Wrapf(err, cberrors.GetCode(err), "parameter %d", i+1).
					WithOp("Binder.Bind").
					WithField("index", i).
					Err()
			}
			if truncated {
				w := cberrors.Truncation(i, desc.String(), "bind").Build()
				warnings = append(warnings, w)
				logger.Warn("input truncated", "slot", i+1, "type", desc.String())
			}
		}

		slots[i] = &call.Slot{Index: i, Direction: spec.Direction, Desc: desc, Buffer: buf}
		logger.Debug("slot bound",
			"slot", i+1,
			"direction", spec.Direction.String(),
			"type", desc.String(),
			"indicator", buf.Indicator().String())
	}

	c := call.NewContext(id, stmt, slots)
	for _, w := range warnings {
		c.Warn(w)
	}
	return c, nil
}

// resolve picks the descriptor for slot i. A type the statement declares
// wins over the caller's type of the same family; a caller type from a
// different family is a mismatch. Without a declaration the caller's type
// is used, and without either the type is inferred from the value.
func (b *Binder) resolve(i int, spec param.Spec, v sqltype.Value, described sqltype.Descriptor, hasDesc bool) (sqltype.Descriptor, error) {
	requested := spec.Type
	if requested.Type != sqltype.TypeUnknown && !requested.Type.Valid() {
		return sqltype.Descriptor{}, cberrors.Unsupported(i, requested.Type.String()).WithOp("Binder.Bind").Err()
	}
	if hasDesc && !described.Type.Valid() {
		hasDesc = false
	}

	var d sqltype.Descriptor
	switch {
	case requested.Type == sqltype.TypeUnknown && hasDesc:
		d = described
	case requested.Type == sqltype.TypeUnknown:
		d = b.infer(v)
	case hasDesc && described.Family() == requested.Family():
		d = described
		if !d.Sized() {
			d = mergeSize(d, requested)
		}
	case hasDesc:
		return sqltype.Descriptor{}, cberrors.TypeMismatch(i, described.String(), spec.Value).
			WithOp("Binder.Bind").
			WithField("requested", requested.String()).
			Err()
	default:
		d = requested
	}

	d = b.withDefaults(d)
	if err := d.Validate(); err != nil {
		return sqltype.Descriptor{}, cberrors.Wrapf(err, cberrors.GetCode(err), "parameter %d", i+1).
			WithField("index", i).
			Err()
	}
	return d, nil
}

func mergeSize(d, from sqltype.Descriptor) sqltype.Descriptor {
	if d.Length == 0 {
		d.Length = from.Length
	}
	if d.Precision == 0 {
		d.Precision, d.Scale = from.Precision, from.Scale
	}
	return d
}

func (b *Binder) withDefaults(d sqltype.Descriptor) sqltype.Descriptor {
	switch d.Type {
	case sqltype.TypeChar:
		if d.Length == 0 {
			d.Length = b.config.DefaultCharLength
		}
	case sqltype.TypeVarChar:
		if d.Length == 0 {
			d.Length = b.config.DefaultVarCharLength
		}
	case sqltype.TypeDecimal:
		if d.Precision == 0 {
			d.Precision, d.Scale = b.config.DefaultDecimalPrecision, b.config.DefaultDecimalScale
		}
	}
	return d
}

// infer picks a descriptor wide enough for v.
func (b *Binder) infer(v sqltype.Value) sqltype.Descriptor {
	switch v.Kind() {
	case sqltype.KindString:
		s, _ := v.AsString()
		n := len(s)
		if n == 0 {
			n = 1
		}
		if n > sqltype.MaxStringLength {
			n = sqltype.MaxStringLength
		}
		return sqltype.VarChar(n)
	case sqltype.KindInt:
		n, _ := v.AsInt()
		if n < math.MinInt32 || n > math.MaxInt32 {
			return sqltype.BigInt()
		}
		return sqltype.Integer()
	case sqltype.KindDecimal:
		dec, _ := v.AsDecimal()
		return b.decimalFor(dec)
	default:
		return sqltype.VarChar(b.config.DefaultVarCharLength)
	}
}

func (b *Binder) decimalFor(dec decimal.Decimal) sqltype.Descriptor {
	scale := 0
	if exp := int(dec.Exponent()); exp < 0 {
		scale = -exp
	}
	if scale < b.config.DefaultDecimalScale {
		scale = b.config.DefaultDecimalScale
	}
	intDigits := len(dec.Truncate(0).Abs().String())
	precision := intDigits + scale
	if precision < b.config.DefaultDecimalPrecision {
		precision = b.config.DefaultDecimalPrecision
	}
	if precision > sqltype.MaxDecimalPrecision {
		precision = sqltype.MaxDecimalPrecision
		if scale > precision-intDigits {
			scale = precision - intDigits
		}
	}
	return sqltype.Decimal(precision, scale)
}
