// Package param describes the parameters a caller supplies for a
// stored-procedure call: a host value, a direction and a SQL type.
package param

import (
	"fmt"
	"strings"

	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// Direction indicates which way a parameter value travels.
type Direction int

const (
	In    Direction = iota // caller to engine only
	Out                    // engine to caller only
	InOut                  // both ways
)

func (d Direction) String() string {
	switch d {
	case In:
		return "IN"
	case Out:
		return "OUT"
	case InOut:
		return "INOUT"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether d is one of In, Out, InOut.
func (d Direction) Valid() bool {
	return d >= In && d <= InOut
}

// Returns reports whether a slot with this direction produces a result.
func (d Direction) Returns() bool {
	return d == Out || d == InOut
}

// Sends reports whether the caller's value reaches the engine.
func (d Direction) Sends() bool {
	return d == In || d == InOut
}

// ParseDirection accepts IN, OUT, INOUT and IN_OUT in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN":
		return In, nil
	case "OUT", "OUTPUT":
		return Out, nil
	case "INOUT", "IN_OUT", "IN OUT":
		return InOut, nil
	default:
		return In, cberrors.Newf(cberrors.ErrCodeInvalidDirection, "invalid parameter direction %q", s).
			WithField("direction", s).
			Err()
	}
}

// Spec is one parameter of a call.
//
// Value is a host value (nil, string, integer, decimal.Decimal or a
// sqltype.Value); it is converted when the list is bound. For Out the
// value is ignored. Type may be left as sqltype.TypeUnknown to take the
// type from the statement or from the value.
type Spec struct {
	Value     interface{}
	Direction Direction
	Type      sqltype.Descriptor
}

// NewIn returns an IN parameter.
func NewIn(v interface{}, t sqltype.Descriptor) Spec {
	return Spec{Value: v, Direction: In, Type: t}
}

// NewOut returns an OUT parameter.
func NewOut(t sqltype.Descriptor) Spec {
	return Spec{Direction: Out, Type: t}
}

// NewInOut returns an INOUT parameter.
func NewInOut(v interface{}, t sqltype.Descriptor) Spec {
	return Spec{Value: v, Direction: InOut, Type: t}
}

func (s Spec) String() string {
	var b strings.Builder
	b.WriteString(s.Direction.String())
	if s.Type.Type != sqltype.TypeUnknown {
		b.WriteString(":")
		b.WriteString(s.Type.String())
	}
	if s.Direction != Out {
		if v, ok := sqltype.ValueOf(s.Value); ok {
			b.WriteString("=")
			b.WriteString(v.String())
		} else {
			fmt.Fprintf(&b, "=%T", s.Value)
		}
	}
	return b.String()
}

// List is an ordered parameter list, aligned with statement placeholders.
type List []Spec

// Len returns the number of parameters.
func (l List) Len() int { return len(l) }

// Outputs counts the parameters that produce a result value.
func (l List) Outputs() int {
	n := 0
	for _, s := range l {
		if s.Direction.Returns() {
			n++
		}
	}
	return n
}

// Clone returns a copy that later changes to l do not affect.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	copy(out, l)
	return out
}

// Parse reads a parameter written as DIR[:TYPE][=VALUE], for example
// "IN:CHAR(1)=a", "OUT:INT" or "INOUT:VARCHAR(10)=". The bare word null
// is NULL; quote it ('null') for the literal string. A missing "=" on an
// IN or INOUT parameter also means NULL.
func Parse(s string) (Spec, error) {
	head, value, hasValue := s, "", false
	if eq := strings.IndexByte(s, '='); eq >= 0 {
		head, value, hasValue = s[:eq], s[eq+1:], true
	}

	dirPart, typePart := head, ""
	if colon := strings.IndexByte(head, ':'); colon >= 0 {
		dirPart, typePart = head[:colon], head[colon+1:]
	}

	dir, err := ParseDirection(dirPart)
	if err != nil {
		return Spec{}, err
	}
	spec := Spec{Direction: dir}

	if strings.TrimSpace(typePart) != "" {
		d, err := sqltype.ParseDescriptor(typePart)
		if err != nil {
			return Spec{}, err
		}
		spec.Type = d
	}

	if hasValue && dir != Out {
		spec.Value = parseValue(value)
	}
	return spec, nil
}

func parseValue(s string) interface{} {
	if s == "null" || s == "NULL" {
		return nil
	}
	if len(s) >= 2 {
		if q := s[0]; (q == '\'' || q == '"') && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ParseList parses each argument with Parse.
func ParseList(args []string) (List, error) {
	list := make(List, 0, len(args))
	for i, a := range args {
		spec, err := Parse(a)
		if err != nil {
			return nil, cberrors.Wrapf(err, cberrors.GetCode(err), "parameter %d (%q)", i+1, a).
				WithField("index", i).
				Err()
		}
		list = append(list, spec)
	}
	return list, nil
}
