package sqltype

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	cberrors "github.com/ha1tch/callbind/pkg/errors"
)

// Coerce converts v to the canonical form of d:
//   - CHAR(n): string, truncated to n bytes, blank padded to exactly n
//   - VARCHAR(n): string, truncated to n bytes, never padded
//   - integer types: int64 within the type's range
//   - DECIMAL(p,s): decimal truncated to s places, at most p-s integer digits
//
// NULL stays NULL for every type. truncated reports that characters were
// dropped from a string; it is never an error.
func (d Descriptor) Coerce(v Value) (out Value, truncated bool, err error) {
	if v.IsNull() {
		return Null(), false, nil
	}
	switch d.Family() {
	case FamilyString:
		s := v.text()
		if d.Length > 0 {
			s, truncated = truncateString(s, d.Length)
		}
		if d.Type == TypeChar {
			s = padRight(s, d.Length)
		}
		return Str(s), truncated, nil

	case FamilyInteger:
		n, err := v.integer(d)
		if err != nil {
			return Value{}, false, err
		}
		if err := checkIntRange(d.Type, n); err != nil {
			return Value{}, false, err
		}
		return Int(n), false, nil

	case FamilyDecimal:
		dec, err := v.decimal(d)
		if err != nil {
			return Value{}, false, err
		}
		if d.Precision > 0 {
			dec = dec.Truncate(int32(d.Scale))
			limit := decimal.New(1, int32(d.Precision-d.Scale))
			if dec.Abs().GreaterThanOrEqual(limit) {
				return Value{}, false, cberrors.Newf(cberrors.ErrCodeValueOutOfRange,
					"value %s out of range for %s", dec, d).
					WithField("type", d.String()).
					Err()
			}
		}
		return Dec(dec), false, nil

	default:
		return Value{}, false, cberrors.Newf(cberrors.ErrCodeUnsupportedType, "unsupported SQL type %s", d.Type).
			WithField("type", d.Type.String()).
			Err()
	}
}

func (v Value) text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindDecimal:
		return v.dec.String()
	default:
		return ""
	}
}

func (v Value) integer(d Descriptor) (int64, error) {
	switch v.kind {
	case KindInt:
		return v.num, nil
	case KindDecimal:
		// assignment to an integer drops the fraction
		whole := v.dec.Truncate(0)
		if whole.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
			return 0, outOfRange(v, d)
		}
		return whole.IntPart(), nil
	case KindString:
		s := strings.TrimSpace(v.str)
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
				return 0, outOfRange(v, d)
			}
			return 0, mismatch(v, d)
		}
		return n, nil
	default:
		return 0, mismatch(v, d)
	}
}

func (v Value) decimal(d Descriptor) (decimal.Decimal, error) {
	switch v.kind {
	case KindDecimal:
		return v.dec, nil
	case KindInt:
		return decimal.NewFromInt(v.num), nil
	case KindString:
		dec, err := decimal.NewFromString(strings.TrimSpace(v.str))
		if err != nil {
			return decimal.Decimal{}, mismatch(v, d)
		}
		return dec, nil
	default:
		return decimal.Decimal{}, mismatch(v, d)
	}
}

func checkIntRange(t Type, n int64) error {
	var lo, hi int64
	switch t {
	case TypeSmallInt:
		lo, hi = math.MinInt16, math.MaxInt16
	case TypeInteger:
		lo, hi = math.MinInt32, math.MaxInt32
	case TypeBigInt:
		return nil
	default:
		return cberrors.Newf(cberrors.ErrCodeUnsupportedType, "%s is not an integer type", t).Err()
	}
	if n < lo || n > hi {
		return cberrors.Newf(cberrors.ErrCodeValueOutOfRange, "value %d out of range for %s", n, t).
			WithField("type", t.String()).
			Err()
	}
	return nil
}

func mismatch(v Value, d Descriptor) error {
	return cberrors.Newf(cberrors.ErrCodeTypeMismatch, "cannot convert %s value %s to %s", v.kind, v, d).
		WithField("want", d.String()).
		Err()
}

func outOfRange(v Value, d Descriptor) error {
	return cberrors.Newf(cberrors.ErrCodeValueOutOfRange, "value %s out of range for %s", v, d).
		WithField("type", d.String()).
		Err()
}
