package decoder

import (
	"context"
	"testing"

	"github.com/ha1tch/callbind/pkg/call"
	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/param"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

type textStmt string

func (s textStmt) NumInput() int { return call.CountPlaceholders(string(s)) }
func (s textStmt) Text() string  { return string(s) }

type execFunc func(c *call.Context) error

func (f execFunc) Execute(_ context.Context, c *call.Context) (*call.Outcome, error) {
	if err := f(c); err != nil {
		return nil, err
	}
	return &call.Outcome{}, nil
}

func slot(i int, dir param.Direction, d sqltype.Descriptor) *call.Slot {
	return &call.Slot{Index: i, Direction: dir, Desc: d, Buffer: sqltype.NewBuffer(d)}
}

func TestDecodeElidesInputs(t *testing.T) {
	c := call.NewContext("d-1", textStmt("CALL P(?,?,?,?,?)"), []*call.Slot{
		slot(0, param.In, sqltype.Char(1)),
		slot(1, param.InOut, sqltype.Char(3)),
		slot(2, param.In, sqltype.Integer()),
		slot(3, param.Out, sqltype.VarChar(4)),
		slot(4, param.Out, sqltype.Integer()),
	})

	out, err := call.Run(context.Background(), execFunc(func(c *call.Context) error {
		c.Slot(0).Buffer.WriteString("z")
		c.Slot(1).Buffer.WriteString("B")
		c.Slot(3).Buffer.WriteString("")
		return c.Slot(4).Buffer.PutInt(-9)
	}), c)
	if err != nil {
		t.Fatal(err)
	}

	r, err := Decode(c, out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want := []sqltype.Value{sqltype.Str("B  "), sqltype.Str(""), sqltype.Int(-9)}
	if r.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", r.Len(), len(want))
	}
	for i, w := range want {
		if !r.At(i).Equal(w) {
			t.Errorf("value %d = %s, want %s", i, r.At(i), w)
		}
	}
	if r.SlotIndex(0) != 1 || r.SlotIndex(2) != 4 {
		t.Errorf("slot indexes = %d, %d", r.SlotIndex(0), r.SlotIndex(2))
	}
	if got := r.Interfaces(); got[2] != int64(-9) {
		t.Errorf("Interfaces()[2] = %#v", got[2])
	}
	if c.State() != call.StateReleased {
		t.Errorf("state = %v, want released", c.State())
	}
}

func TestDecodeUntouchedOutputIsNull(t *testing.T) {
	c := call.NewContext("d-2", textStmt("CALL P(?)"), []*call.Slot{slot(0, param.Out, sqltype.Char(2))})
	out, err := call.Run(context.Background(), execFunc(func(*call.Context) error { return nil }), c)
	if err != nil {
		t.Fatal(err)
	}
	r, err := Decode(c, out)
	if err != nil {
		t.Fatal(err)
	}
	if !r.At(0).IsNull() {
		t.Errorf("value = %s, want NULL", r.At(0))
	}
}

func TestDecodeRefusesBadStates(t *testing.T) {
	engineErr := cberrors.Engine("test", &cberrors.EngineError{NativeCode: -1}).Err()

	failed := call.NewContext("d-3", textStmt("CALL P(?)"), []*call.Slot{slot(0, param.Out, sqltype.Char(1))})
	_, runErr := call.Run(context.Background(), execFunc(func(*call.Context) error { return engineErr }), failed)
	if runErr == nil {
		t.Fatal("expected execution error")
	}

	bound := call.NewContext("d-4", textStmt("CALL P(?)"), []*call.Slot{slot(0, param.Out, sqltype.Char(1))})

	tests := []struct {
		name    string
		c       *call.Context
		outcome *call.Outcome
	}{
		{"nil context", nil, &call.Outcome{}},
		{"failed call", failed, &call.Outcome{}},
		{"never executed", bound, &call.Outcome{}},
		{"missing outcome", bound, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.c, tt.outcome)
			if !cberrors.IsCode(err, cberrors.ErrCodeInvalidState) {
				t.Errorf("err = %v, want invalid state", err)
			}
		})
	}
}

func TestDecodeTwiceFails(t *testing.T) {
	c := call.NewContext("d-5", textStmt("CALL P(?)"), []*call.Slot{slot(0, param.InOut, sqltype.VarChar(2))})
	out, _ := call.Run(context.Background(), execFunc(func(*call.Context) error { return nil }), c)
	if _, err := Decode(c, out); err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(c, out); !cberrors.IsCode(err, cberrors.ErrCodeInvalidState) {
		t.Errorf("second Decode err = %v, want invalid state", err)
	}
}

func TestDecodeFailureReleases(t *testing.T) {
	c := call.NewContext("d-6", textStmt("CALL P(?,?)"), []*call.Slot{
		slot(0, param.Out, sqltype.VarChar(2)),
		slot(1, param.Out, sqltype.Decimal(5, 2)),
	})
	out, err := call.Run(context.Background(), execFunc(func(c *call.Context) error {
		c.Slot(0).Buffer.WriteString("ok")
		c.Slot(1).Buffer.WriteString("abc")
		return nil
	}), c)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decode(c, out); !cberrors.IsCode(err, cberrors.ErrCodeDecodeFailed) {
		t.Fatalf("err = %v, want decode failure", err)
	}
	if c.State() != call.StateReleased {
		t.Errorf("state = %v, want released", c.State())
	}
	if c.Slot(1).Buffer != nil {
		t.Error("buffers kept after failed decode")
	}
}
