package param

import (
	"testing"

	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

func TestDirectionString(t *testing.T) {
	tests := []struct {
		d    Direction
		want string
	}{
		{In, "IN"},
		{Out, "OUT"},
		{InOut, "INOUT"},
		{Direction(9), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.d.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
	if Direction(9).Valid() {
		t.Error("Direction(9) should not be valid")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Spec
		wantErr cberrors.Code
	}{
		{"IN:CHAR(1)=a", Spec{Value: "a", Direction: In, Type: sqltype.Char(1)}, 0},
		{"out:int", Spec{Direction: Out, Type: sqltype.Integer()}, 0},
		{"OUT:VARCHAR(5)=ignored", Spec{Direction: Out, Type: sqltype.VarChar(5)}, 0},
		{"INOUT:VARCHAR(10)=", Spec{Value: "", Direction: InOut, Type: sqltype.VarChar(10)}, 0},
		{"INOUT:VARCHAR(10)=null", Spec{Value: nil, Direction: InOut, Type: sqltype.VarChar(10)}, 0},
		{"INOUT:VARCHAR(10)='null'", Spec{Value: "null", Direction: InOut, Type: sqltype.VarChar(10)}, 0},
		{"IN=a=b", Spec{Value: "a=b", Direction: In}, 0},
		{"IN", Spec{Direction: In}, 0},
		{"SIDEWAYS:INT=1", Spec{}, cberrors.ErrCodeInvalidDirection},
		{"IN:CLOB=1", Spec{}, cberrors.ErrCodeUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr != 0 {
				if !cberrors.IsCode(err, tt.wantErr) {
					t.Fatalf("Parse(%q) err = %v, want code %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseListKeepsCode(t *testing.T) {
	_, err := ParseList([]string{"IN:INT=1", "BOTH:INT"})
	if !cberrors.IsCode(err, cberrors.ErrCodeInvalidDirection) {
		t.Fatalf("err = %v, want invalid direction", err)
	}
	if idx := cberrors.GetFields(err)["index"]; idx != 1 {
		t.Errorf("index field = %v, want 1", idx)
	}
}

func TestListOutputs(t *testing.T) {
	l := List{
		NewIn("a", sqltype.Char(1)),
		NewInOut("b", sqltype.Char(1)),
		NewOut(sqltype.Char(1)),
		NewIn(nil, sqltype.Integer()),
	}
	if l.Len() != 4 {
		t.Errorf("Len() = %d, want 4", l.Len())
	}
	if l.Outputs() != 2 {
		t.Errorf("Outputs() = %d, want 2", l.Outputs())
	}

	c := l.Clone()
	c[0].Value = "z"
	if l[0].Value != "a" {
		t.Error("Clone shares storage with the original")
	}
}
