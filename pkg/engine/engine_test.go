package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ha1tch/callbind/pkg/binder"
	"github.com/ha1tch/callbind/pkg/call"
	"github.com/ha1tch/callbind/pkg/decoder"
	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/log"
	"github.com/ha1tch/callbind/pkg/param"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Config{}, log.Discard())
	if err := LoadSamples(e.Registry()); err != nil {
		t.Fatalf("LoadSamples: %v", err)
	}
	return e
}

func callProc(t *testing.T, e *Engine, text string, list param.List) (decoder.Result, error) {
	t.Helper()
	stmt, err := e.Prepare(context.Background(), text)
	if err != nil {
		return decoder.Result{}, err
	}
	c, err := binder.New(binder.Config{}, log.Discard()).Bind(stmt, list)
	if err != nil {
		return decoder.Result{}, err
	}
	out, err := call.Run(context.Background(), e, c)
	if err != nil {
		return decoder.Result{}, err
	}
	return decoder.Decode(c, out)
}

func assertValues(t *testing.T, r decoder.Result, want ...sqltype.Value) {
	t.Helper()
	if r.Len() != len(want) {
		t.Fatalf("result has %d values %v, want %d", r.Len(), r.Values(), len(want))
	}
	for i, w := range want {
		if !r.At(i).Equal(w) {
			t.Errorf("result[%d] = %s, want %s", i, r.At(i), w)
		}
	}
}

func nativeCode(t *testing.T, err error) int {
	t.Helper()
	ee, ok := cberrors.GetEngineError(err)
	if !ok {
		t.Fatalf("err = %v, want an engine error", err)
	}
	return ee.NativeCode
}

func TestPrepareErrors(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		text string
		code int
	}{
		{"CALL NOPE(?)", -204},
		{"CALL CALLBIND.SP_FAIL(?, ?)", -440},
		{"CALL SP_FAIL", -440},
		{"SELECT 1", -104},
		{"CALL SP_FAIL(1)", -104},
		{"CALL SP_FAIL(?", -104},
		{"CALL A.B.C(?)", -104},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := e.Prepare(context.Background(), tt.text)
			if got := nativeCode(t, err); got != tt.code {
				t.Errorf("native code = %d, want %d", got, tt.code)
			}
			if !cberrors.IsCode(err, cberrors.ErrCodeEngineExecution) {
				t.Errorf("code = %v, want engine execution", cberrors.GetCode(err))
			}
		})
	}
}

func TestPrepareDescribes(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Prepare(context.Background(), "call callbind.sp_with_chars(?, ?, ?, ?);")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if p.NumInput() != 4 {
		t.Errorf("NumInput() = %d, want 4", p.NumInput())
	}
	d, mode, ok := p.(call.Describer).DescribeParam(1)
	if !ok || d != sqltype.SmallInt() || mode != param.In {
		t.Errorf("DescribeParam(1) = %s %s %v", d, mode, ok)
	}
	if _, _, ok := p.(call.Describer).DescribeParam(4); ok {
		t.Error("DescribeParam(4) should report false")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry("lib")
	body := func(*Frame) error { return nil }

	if err := r.Register(&Procedure{Name: "p", Body: body}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&Procedure{Name: "P", Body: body}); nativeCode(t, err) != -454 {
		t.Errorf("duplicate register err = %v", err)
	}
	if err := r.Replace(&Procedure{Schema: "lib", Name: "P", Body: body}); err != nil {
		t.Errorf("Replace: %v", err)
	}
	if _, err := r.Lookup("Lib.p"); err != nil {
		t.Errorf("qualified lookup: %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}

	invalid := []*Procedure{
		{Name: "NOBODY"},
		{Name: "BADMODE", Body: body, Params: []ParamDecl{{Name: "A", Mode: param.Direction(5), Type: sqltype.Char(1)}}},
		{Name: "UNSIZED", Body: body, Params: []ParamDecl{{Name: "A", Type: sqltype.Unsized(sqltype.TypeVarChar)}}},
		{Name: "DUP", Body: body, Params: []ParamDecl{{Name: "A", Type: sqltype.Char(1)}, {Name: "a", Type: sqltype.Char(1)}}},
	}
	for _, p := range invalid {
		if err := r.Register(p); err == nil {
			t.Errorf("Register(%s) should fail", p.Name)
		}
	}

	if err := r.Drop("p"); err != nil {
		t.Errorf("Drop: %v", err)
	}
	if err := r.Drop("p"); nativeCode(t, err) != -204 {
		t.Errorf("second Drop err = %v", err)
	}
}

func TestVarCharParameters(t *testing.T) {
	e := newTestEngine(t)
	const text = "CALL SP_TEST_PARAMS(?,?,?,?,?,?,?,?,?)"
	args := func(in, inout, out interface{}) param.List {
		return param.List{
			param.NewIn(in, sqltype.Char(1)),
			param.NewInOut(inout, sqltype.Char(1)),
			{Value: out, Direction: param.Out, Type: sqltype.Char(1)},
			param.NewOut(sqltype.Integer()), param.NewOut(sqltype.Integer()), param.NewOut(sqltype.Integer()),
			param.NewOut(sqltype.Char(1)), param.NewOut(sqltype.Char(1)), param.NewOut(sqltype.Char(1)),
		}
	}
	null := sqltype.Null()

	tests := []struct {
		name            string
		in, inout, out  interface{}
		want            []sqltype.Value
		bindTruncations int
	}{
		{"single character", "a", "b", "c",
			[]sqltype.Value{sqltype.Str("B"), null, sqltype.Int(1), sqltype.Int(1), null, sqltype.Str("a"), sqltype.Str("b"), null}, 0},
		{"empty", "", "", "",
			[]sqltype.Value{sqltype.Str(""), null, sqltype.Int(0), sqltype.Int(0), null, sqltype.Str(""), sqltype.Str(""), null}, 0},
		{"null", nil, nil, nil,
			[]sqltype.Value{null, null, null, null, null, null, null, null}, 0},
		{"too long", "aa", "bb", "cc",
			[]sqltype.Value{sqltype.Str("B"), null, sqltype.Int(1), sqltype.Int(1), null, sqltype.Str("a"), sqltype.Str("b"), null}, 2},
		{"single space", " ", " ", " ",
			[]sqltype.Value{sqltype.Str(" "), null, sqltype.Int(1), sqltype.Int(1), null, sqltype.Str(" "), sqltype.Str(" "), null}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := e.JobLog().Count(MsgTruncated)
			r, err := callProc(t, e, text, args(tt.in, tt.inout, tt.out))
			if err != nil {
				t.Fatalf("call: %v", err)
			}
			assertValues(t, r, tt.want...)
			if got := len(r.Warnings()); got != tt.bindTruncations {
				t.Errorf("warnings = %d, want %d", got, tt.bindTruncations)
			}
			if e.JobLog().Count(MsgTruncated) != before {
				t.Error("engine logged SQL0445 for a value the client already fitted")
			}
		})
	}
}

func TestLegacyCharsProcedure(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		param1 string
		num    int
		want0  string
	}{
		{"a", 1, "a"},
		{" ", 2, " "},
		{"", 3, " "},
	}
	for _, tt := range tests {
		list := param.List{
			{Value: tt.param1, Direction: param.InOut},
			{Value: tt.num, Direction: param.InOut},
			{Value: "", Direction: param.InOut},
			{Value: "", Direction: param.InOut},
		}
		r, err := callProc(t, e, "CALL SP_WITH_CHARS(?,?,?,?)", list)
		if err != nil {
			t.Fatalf("call %d: %v", tt.num, err)
		}
		assertValues(t, r, sqltype.Str(tt.want0), sqltype.Int(int64(tt.num)), sqltype.Str("N"), sqltype.Str(""))
	}
}

func TestEngineInputTruncationLogged(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Prepare(context.Background(), "CALL SP_BASICS(?,?,?,?,?)")
	if err != nil {
		t.Fatal(err)
	}

	// A client buffer wider than the declared parameter.
	slots := make([]*call.Slot, 5)
	for i := range slots {
		d := sqltype.VarChar(2)
		dir := param.Out
		if i == 0 {
			d, dir = sqltype.VarChar(8), param.In
		}
		slots[i] = &call.Slot{Index: i, Direction: dir, Desc: d, Buffer: sqltype.NewBuffer(d)}
	}
	slots[0].Buffer.WriteString("abcdef")
	c := call.NewContext("wide", p, slots)

	out, err := call.Run(context.Background(), e, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r, err := decoder.Decode(c, out)
	if err != nil {
		t.Fatal(err)
	}
	assertValues(t, r, sqltype.Str("AB"), sqltype.Null(), sqltype.Null(), sqltype.Null())

	if n := e.JobLog().Count(MsgTruncated); n != 1 {
		t.Errorf("SQL0445 count = %d, want 1", n)
	}
	var printed int
	for _, m := range out.Messages {
		if strings.Contains(m, MsgPrint) {
			printed++
		}
	}
	if printed != 4 {
		t.Errorf("printed %d lines, want 4: %v", printed, out.Messages)
	}
}

func TestOutputTruncationWarns(t *testing.T) {
	e := newTestEngine(t)
	p, err := e.Prepare(context.Background(), "CALL SP_WITH_CHARS(?,?,?,?)")
	if err != nil {
		t.Fatal(err)
	}
	descs := []sqltype.Descriptor{sqltype.Char(1), sqltype.SmallInt(), sqltype.Char(1), sqltype.VarChar(6)}
	dirs := []param.Direction{param.In, param.In, param.Out, param.Out}
	slots := make([]*call.Slot, 4)
	for i := range slots {
		slots[i] = &call.Slot{Index: i, Direction: dirs[i], Desc: descs[i], Buffer: sqltype.NewBuffer(descs[i])}
	}
	slots[0].Buffer.WriteString("b")
	slots[1].Buffer.PutInt(1)
	c := call.NewContext("narrow", p, slots)

	out, err := call.Run(context.Background(), e, c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	r, err := decoder.Decode(c, out)
	if err != nil {
		t.Fatal(err)
	}
	assertValues(t, r, sqltype.Str("Y"), sqltype.Str("PARAM1"))
	if len(r.Warnings()) != 1 || r.Warnings()[0].Fields["index"] != 3 {
		t.Errorf("warnings = %v", r.Warnings())
	}
}

func TestBodyFailures(t *testing.T) {
	e := New(Config{ExecTimeout: 20 * time.Millisecond}, log.Discard())
	long := []ParamDecl{{Name: "P", Mode: param.InOut, Type: sqltype.VarChar(2)}}
	procs := []*Procedure{
		{Name: "TOO_LONG", Params: long, Body: func(f *Frame) error { return f.Set("P", sqltype.Str("abc")) }},
		{Name: "BLANKS_OK", Params: long, Body: func(f *Frame) error { return f.Set("P", sqltype.Str("ab   ")) }},
		{Name: "NO_VAR", Params: long, Body: func(f *Frame) error { f.Get("Q"); return nil }},
		{Name: "PANICS", Params: long, Body: func(f *Frame) error { panic("boom") }},
		{Name: "GO_ERROR", Params: long, Body: func(f *Frame) error { return errors.New("disk on fire") }},
		{Name: "RAISES", Params: long, Body: func(f *Frame) error { return f.Raise("75002", -438, "custom") }},
		{Name: "SLOW", Params: long, Body: func(f *Frame) error {
			<-f.Context().Done()
			return nil
		}},
	}
	for _, p := range procs {
		if err := e.Registry().Register(p); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		proc   string
		native int
		code   cberrors.Code
	}{
		{"TOO_LONG", -404, cberrors.ErrCodeEngineExecution},
		{"BLANKS_OK", 0, 0},
		{"NO_VAR", -206, cberrors.ErrCodeEngineExecution},
		{"PANICS", -443, cberrors.ErrCodeEngineExecution},
		{"GO_ERROR", -443, cberrors.ErrCodeEngineExecution},
		{"RAISES", -438, cberrors.ErrCodeEngineExecution},
		{"SLOW", 0, cberrors.ErrCodeCallTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.proc, func(t *testing.T) {
			r, err := callProc(t, e, "CALL "+tt.proc+"(?)", param.List{param.NewInOut("x", sqltype.Unsized(sqltype.TypeUnknown))})
			if tt.code == 0 {
				if err != nil {
					t.Fatalf("call: %v", err)
				}
				assertValues(t, r, sqltype.Str("ab"))
				return
			}
			if !cberrors.IsCode(err, tt.code) {
				t.Fatalf("err = %v, want code %v", err, tt.code)
			}
			if tt.native != 0 && nativeCode(t, err) != tt.native {
				t.Errorf("native code = %d, want %d", nativeCode(t, err), tt.native)
			}
		})
	}

	st := e.Stats()
	if st.TotalExecutions != int64(len(tests)) || st.FailedExecutions != int64(len(tests)-1) {
		t.Errorf("stats = %+v", st)
	}
}

func TestProcedureStats(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 3; i++ {
		if _, err := callProc(t, e, "CALL SP_PAD(?,?,?)", param.List{
			param.NewIn(" ab ", sqltype.Unsized(sqltype.TypeUnknown)),
			param.NewOut(sqltype.Unsized(sqltype.TypeUnknown)),
			param.NewOut(sqltype.Unsized(sqltype.TypeUnknown)),
		}); err != nil {
			t.Fatal(err)
		}
	}
	p, _ := e.Registry().Lookup("SP_PAD")
	if p.ExecCount() != 3 {
		t.Errorf("ExecCount() = %d, want 3", p.ExecCount())
	}
	if p.LastExecAt().IsZero() {
		t.Error("LastExecAt not recorded")
	}
	if e.Stats().Procedures != len(Samples()) {
		t.Errorf("Procedures = %d", e.Stats().Procedures)
	}
}

func TestJobLogWindow(t *testing.T) {
	j := NewJobLog(2)
	j.Add(MsgPrint, "", "one")
	j.Add(MsgTruncated, "", "two")
	m := j.Add(MsgPrint, "", "three")

	if got := len(j.Entries()); got != 2 {
		t.Errorf("Entries() = %d, want 2", got)
	}
	if j.Count(MsgPrint) != 2 || j.Count(MsgTruncated) != 1 {
		t.Errorf("counts = %d/%d", j.Count(MsgPrint), j.Count(MsgTruncated))
	}
	if since := j.Since(m.Seq - 1); len(since) != 1 || since[0].Text != "three" {
		t.Errorf("Since = %v", since)
	}
}
