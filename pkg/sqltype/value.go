package sqltype

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindDecimal
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "integer"
	case KindDecimal:
		return "decimal"
	default:
		return "invalid"
	}
}

// Value is a host value crossing the call boundary: NULL, a string, an
// integer or a decimal. The zero Value is NULL.
type Value struct {
	kind Kind
	str  string
	num  int64
	dec  decimal.Decimal
}

// Null returns the NULL value.
func Null() Value { return Value{} }

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindString, str: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Dec returns a decimal value.
func Dec(d decimal.Decimal) Value { return Value{kind: KindDecimal, dec: d} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) {
	return v.num, v.kind == KindInt
}

// AsDecimal returns the decimal payload.
func (v Value) AsDecimal() (decimal.Decimal, bool) {
	return v.dec, v.kind == KindDecimal
}

// Interface returns nil, string, int64 or decimal.Decimal.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return v.num
	case KindDecimal:
		return v.dec
	default:
		return nil
	}
}

// Equal compares kind and payload. Decimals compare numerically.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.num == o.num
	case KindDecimal:
		return v.dec.Equal(o.dec)
	default:
		return true
	}
}

// String renders the value for logs and CLI output; strings are quoted so
// padding stays visible.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindDecimal:
		return v.dec.String()
	default:
		return "NULL"
	}
}

// MarshalJSON encodes NULL as null, strings as strings and numbers as numbers.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return []byte(strconv.Quote(v.str)), nil
	case KindInt:
		return []byte(strconv.FormatInt(v.num, 10)), nil
	case KindDecimal:
		return []byte(v.dec.String()), nil
	default:
		return []byte("null"), nil
	}
}

// ValueOf converts a host value into a Value. Accepted: nil, Value,
// string, []byte, signed and unsigned integers that fit in int64,
// decimal.Decimal, pointers to those, the sql.Null* wrappers and any
// driver.Valuer producing one of them. Anything else reports false.
func ValueOf(x interface{}) (Value, bool) {
	switch v := x.(type) {
	case nil:
		return Null(), true
	case Value:
		return v, true
	case string:
		return Str(v), true
	case []byte:
		if v == nil {
			return Null(), true
		}
		return Str(string(v)), true
	case int:
		return Int(int64(v)), true
	case int8:
		return Int(int64(v)), true
	case int16:
		return Int(int64(v)), true
	case int32:
		return Int(int64(v)), true
	case int64:
		return Int(v), true
	case uint8:
		return Int(int64(v)), true
	case uint16:
		return Int(int64(v)), true
	case uint32:
		return Int(int64(v)), true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return Value{}, false
		}
		return Int(int64(v)), true
	case uint64:
		if v > math.MaxInt64 {
			return Value{}, false
		}
		return Int(int64(v)), true
	case decimal.Decimal:
		return Dec(v), true
	case decimal.NullDecimal:
		if !v.Valid {
			return Null(), true
		}
		return Dec(v.Decimal), true
	case *string:
		if v == nil {
			return Null(), true
		}
		return Str(*v), true
	case *int64:
		if v == nil {
			return Null(), true
		}
		return Int(*v), true
	case *int:
		if v == nil {
			return Null(), true
		}
		return Int(int64(*v)), true
	case sql.NullString:
		if !v.Valid {
			return Null(), true
		}
		return Str(v.String), true
	case sql.NullInt64:
		if !v.Valid {
			return Null(), true
		}
		return Int(v.Int64), true
	case sql.NullInt32:
		if !v.Valid {
			return Null(), true
		}
		return Int(int64(v.Int32)), true
	case sql.NullInt16:
		if !v.Valid {
			return Null(), true
		}
		return Int(int64(v.Int16)), true
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil {
			return Value{}, false
		}
		if _, loops := dv.(driver.Valuer); loops {
			return Value{}, false
		}
		return ValueOf(dv)
	default:
		return Value{}, false
	}
}

// FromDriverValue converts a value scanned from database/sql into a Value.
// Drivers hand back wider types than callers bind, so floats become
// decimals, booleans become 0/1 and timestamps become ISO strings.
func FromDriverValue(x interface{}) (Value, error) {
	switch v := x.(type) {
	case float64:
		return Dec(decimal.NewFromFloat(v)), nil
	case float32:
		return Dec(decimal.NewFromFloat32(v)), nil
	case bool:
		if v {
			return Int(1), nil
		}
		return Int(0), nil
	case time.Time:
		return Str(v.Format(time.RFC3339Nano)), nil
	}
	if val, ok := ValueOf(x); ok {
		return val, nil
	}
	return Value{}, fmt.Errorf("unsupported driver value of type %T", x)
}
