// Package sqltype describes the SQL parameter types callbind can bind and
// the rules for moving values in and out of call buffers.
//
// CHAR(n) is fixed width: values are truncated to n and blank-padded to
// exactly n, in both directions. VARCHAR(n) is variable width: values are
// truncated to n and never padded, so "" stays "". Integer types carry no
// NULL sentinel; NULL lives only in the buffer indicator.
//
// Lengths are byte lengths. Truncation backs off to a UTF-8 rune boundary
// so a multi-byte character is never split.
package sqltype

import (
	"fmt"
	"strconv"
	"strings"

	cberrors "github.com/ha1tch/callbind/pkg/errors"
)

// Type is a SQL parameter type tag.
type Type uint8

const (
	TypeUnknown  Type = iota // resolve from statement description or value
	TypeChar                 // CHAR(n), fixed width, blank padded
	TypeVarChar              // VARCHAR(n), variable width
	TypeSmallInt             // 16-bit signed
	TypeInteger              // 32-bit signed
	TypeBigInt               // 64-bit signed
	TypeDecimal              // DECIMAL(p,s)
)

func (t Type) String() string {
	switch t {
	case TypeUnknown:
		return "UNKNOWN"
	case TypeChar:
		return "CHAR"
	case TypeVarChar:
		return "VARCHAR"
	case TypeSmallInt:
		return "SMALLINT"
	case TypeInteger:
		return "INTEGER"
	case TypeBigInt:
		return "BIGINT"
	case TypeDecimal:
		return "DECIMAL"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// Valid reports whether t is a concrete, supported type.
func (t Type) Valid() bool {
	return t >= TypeChar && t <= TypeDecimal
}

// Family groups types whose values convert into each other without a
// change of kind.
type Family uint8

const (
	FamilyNone Family = iota
	FamilyString
	FamilyInteger
	FamilyDecimal
)

func (f Family) String() string {
	switch f {
	case FamilyString:
		return "string"
	case FamilyInteger:
		return "integer"
	case FamilyDecimal:
		return "decimal"
	default:
		return "none"
	}
}

// Family returns the family of t.
func (t Type) Family() Family {
	switch t {
	case TypeChar, TypeVarChar:
		return FamilyString
	case TypeSmallInt, TypeInteger, TypeBigInt:
		return FamilyInteger
	case TypeDecimal:
		return FamilyDecimal
	default:
		return FamilyNone
	}
}

// Descriptor is a type tag plus its declared size.
// Length applies to CHAR/VARCHAR; Precision and Scale to DECIMAL.
// A zero Length on a string type means "not sized yet".
type Descriptor struct {
	Type      Type
	Length    int
	Precision int
	Scale     int
}

// Char returns CHAR(n).
func Char(n int) Descriptor { return Descriptor{Type: TypeChar, Length: n} }

// VarChar returns VARCHAR(n).
func VarChar(n int) Descriptor { return Descriptor{Type: TypeVarChar, Length: n} }

// SmallInt returns SMALLINT.
func SmallInt() Descriptor { return Descriptor{Type: TypeSmallInt} }

// Integer returns INTEGER.
func Integer() Descriptor { return Descriptor{Type: TypeInteger} }

// BigInt returns BIGINT.
func BigInt() Descriptor { return Descriptor{Type: TypeBigInt} }

// Decimal returns DECIMAL(p,s).
func Decimal(precision, scale int) Descriptor {
	return Descriptor{Type: TypeDecimal, Precision: precision, Scale: scale}
}

// Unsized returns a descriptor with only the type tag set.
func Unsized(t Type) Descriptor { return Descriptor{Type: t} }

// Family returns the family of the descriptor's type.
func (d Descriptor) Family() Family { return d.Type.Family() }

// Sized reports whether every size attribute the type needs is present.
func (d Descriptor) Sized() bool {
	switch d.Type {
	case TypeChar, TypeVarChar:
		return d.Length > 0
	case TypeDecimal:
		return d.Precision > 0
	case TypeSmallInt, TypeInteger, TypeBigInt:
		return true
	default:
		return false
	}
}

// Capacity is the buffer size in bytes a value of this type needs.
func (d Descriptor) Capacity() int {
	switch d.Type {
	case TypeChar, TypeVarChar:
		return d.Length
	case TypeSmallInt:
		return 2
	case TypeInteger:
		return 4
	case TypeBigInt:
		return 8
	case TypeDecimal:
		// digits, sign and decimal point
		return d.Precision + 2
	default:
		return 0
	}
}

func (d Descriptor) String() string {
	switch d.Type {
	case TypeChar, TypeVarChar:
		if d.Length > 0 {
			return fmt.Sprintf("%s(%d)", d.Type, d.Length)
		}
		return d.Type.String()
	case TypeDecimal:
		if d.Precision > 0 {
			return fmt.Sprintf("DECIMAL(%d,%d)", d.Precision, d.Scale)
		}
		return "DECIMAL"
	default:
		return d.Type.String()
	}
}

// Validate checks size attributes for internal consistency.
func (d Descriptor) Validate() error {
	if !d.Type.Valid() {
		return cberrors.Newf(cberrors.ErrCodeUnsupportedType, "unsupported SQL type %s", d.Type).
			WithField("type", d.Type.String()).
			Err()
	}
	if d.Length < 0 || d.Precision < 0 || d.Scale < 0 {
		return cberrors.Newf(cberrors.ErrCodeUnsupportedType, "negative size in %s", d).Err()
	}
	if d.Family() == FamilyString && d.Length > MaxStringLength {
		return cberrors.Newf(cberrors.ErrCodeUnsupportedType, "length of %s exceeds %d", d, MaxStringLength).
			WithField("length", d.Length).
			Err()
	}
	if d.Type == TypeDecimal && d.Precision > 0 && (d.Scale > d.Precision || d.Precision > MaxDecimalPrecision) {
		return cberrors.Newf(cberrors.ErrCodeUnsupportedType, "invalid precision/scale in %s", d).Err()
	}
	return nil
}

// Size limits, as DB2 for i applies them to VARCHAR and DECIMAL.
const (
	MaxStringLength     = 32740
	MaxDecimalPrecision = 63
)

// ParseDescriptor parses a SQL type declaration such as "CHAR(10)",
// "character varying(20)", "INT" or "DECIMAL(9,2)".
func ParseDescriptor(s string) (Descriptor, error) {
	decl := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	name, args, sized := decl, "", false
	if open := strings.IndexByte(decl, '('); open >= 0 {
		if !strings.HasSuffix(decl, ")") {
			return Descriptor{}, parseError(s)
		}
		name = strings.TrimSpace(decl[:open])
		args = decl[open+1 : len(decl)-1]
		sized = true
	}
	if sized && strings.TrimSpace(args) == "" {
		return Descriptor{}, parseError(s)
	}

	var nums []int
	if args != "" {
		for _, part := range strings.Split(args, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 0 || (len(nums) == 0 && n == 0) {
				return Descriptor{}, parseError(s)
			}
			nums = append(nums, n)
		}
	}

	var d Descriptor
	switch name {
	case "CHAR", "CHARACTER":
		d.Type = TypeChar
	case "VARCHAR", "CHAR VARYING", "CHARACTER VARYING":
		d.Type = TypeVarChar
	case "SMALLINT":
		d.Type = TypeSmallInt
	case "INT", "INTEGER":
		d.Type = TypeInteger
	case "BIGINT":
		d.Type = TypeBigInt
	case "DECIMAL", "DEC", "NUMERIC":
		d.Type = TypeDecimal
	default:
		return Descriptor{}, cberrors.Newf(cberrors.ErrCodeUnsupportedType, "unsupported SQL type %q", s).
			WithField("type", s).
			Err()
	}

	switch d.Family() {
	case FamilyString:
		if len(nums) > 1 {
			return Descriptor{}, parseError(s)
		}
		if len(nums) == 1 {
			d.Length = nums[0]
		} else if d.Type == TypeChar {
			// SQL: CHAR without a length is CHAR(1)
			d.Length = 1
		}
	case FamilyDecimal:
		if len(nums) > 2 {
			return Descriptor{}, parseError(s)
		}
		if len(nums) >= 1 {
			d.Precision = nums[0]
		}
		if len(nums) == 2 {
			d.Scale = nums[1]
		}
	default:
		if len(nums) != 0 {
			return Descriptor{}, parseError(s)
		}
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func parseError(s string) error {
	return cberrors.Newf(cberrors.ErrCodeUnsupportedType, "malformed type declaration %q", s).
		WithField("type", s).
		Err()
}
