package engine

import (
	"github.com/shopspring/decimal"

	"github.com/ha1tch/callbind/pkg/param"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// Samples returns a small catalogue of procedures exercising CHAR and
// VARCHAR parameters in every direction. The CLI demo and the tests use it.
func Samples() []*Procedure {
	return []*Procedure{
		{
			Name: "SP_WITH_CHARS",
			Params: []ParamDecl{
				{Name: "PARAM1", Mode: param.In, Type: sqltype.Char(1)},
				{Name: "TESTNUM", Mode: param.In, Type: sqltype.SmallInt()},
				{Name: "ERR", Mode: param.Out, Type: sqltype.Char(1)},
				{Name: "ERRMSG", Mode: param.Out, Type: sqltype.VarChar(50)},
			},
			Body: spWithChars,
		},
		echoProcedure("SP_TEST_PARAMS", sqltype.VarChar(1)),
		echoProcedure("SP_TEST_CHAR1", sqltype.Char(1)),
		echoProcedure("SP_TEST_CHAR10", sqltype.Char(10)),
		{
			Name: "SP_BASICS",
			Params: []ParamDecl{
				{Name: "P_IN", Mode: param.In, Type: sqltype.VarChar(2)},
				{Name: "P_OUT", Mode: param.Out, Type: sqltype.VarChar(2)},
				{Name: "P_OUT1", Mode: param.Out, Type: sqltype.VarChar(2)},
				{Name: "P_OUT2", Mode: param.Out, Type: sqltype.VarChar(2)},
				{Name: "P_OUT3", Mode: param.Out, Type: sqltype.VarChar(2)},
			},
			Body: spBasics,
		},
		{
			Name: "SP_PAD",
			Params: []ParamDecl{
				{Name: "P_IN", Mode: param.In, Type: sqltype.VarChar(10)},
				{Name: "P_FIXED", Mode: param.Out, Type: sqltype.Char(5)},
				{Name: "P_LEN", Mode: param.Out, Type: sqltype.Integer()},
			},
			Body: spPad,
		},
		{
			Name: "SP_TOTAL",
			Params: []ParamDecl{
				{Name: "P_AMOUNT", Mode: param.In, Type: sqltype.Decimal(9, 2)},
				{Name: "P_QTY", Mode: param.In, Type: sqltype.Integer()},
				{Name: "P_TOTAL", Mode: param.Out, Type: sqltype.Decimal(11, 2)},
			},
			Body: spTotal,
		},
		{
			Name: "SP_FAIL",
			Params: []ParamDecl{
				{Name: "P_MSG", Mode: param.In, Type: sqltype.VarChar(70)},
			},
			Body: func(f *Frame) error {
				msg, _ := f.Get("P_MSG").AsString()
				return f.Raise("75001", -438, msg)
			},
		},
	}
}

// LoadSamples registers the sample catalogue, replacing existing
// procedures of the same names.
func LoadSamples(r *Registry) error {
	for _, p := range Samples() {
		if err := r.Replace(p); err != nil {
			return err
		}
	}
	return nil
}

func spWithChars(f *Frame) error {
	if err := f.Set("ERR", sqltype.Str("N")); err != nil {
		return err
	}
	fail := func(msg string) error {
		if err := f.Set("ERR", sqltype.Str("Y")); err != nil {
			return err
		}
		return f.Set("ERRMSG", sqltype.Str(msg))
	}

	p1 := f.Get("PARAM1")
	n, _ := f.Get("TESTNUM").AsInt()

	if l, ok := f.Length("PARAM1").AsInt(); ok && l != 1 {
		if err := fail("PARAM1 length expected to be 1"); err != nil {
			return err
		}
	}
	if n == 1 && !p1.IsNull() && !p1.Equal(sqltype.Str("a")) {
		if err := fail("PARAM1 expected to have a value of 'a'"); err != nil {
			return err
		}
	}
	if (n == 2 || n == 3) && !p1.IsNull() && !p1.Equal(sqltype.Str(" ")) {
		if err := fail("PARAM1 expected to have a value of ' '"); err != nil {
			return err
		}
	}
	return f.Set("PARAM1", sqltype.Str("A"))
}

// echoProcedure declares IN, INOUT and OUT parameters of type d, reports
// their lengths and values as seen inside the body, then uppercases all
// three.
func echoProcedure(name string, d sqltype.Descriptor) *Procedure {
	return &Procedure{
		Name: name,
		Params: []ParamDecl{
			{Name: "P_IN", Mode: param.In, Type: d},
			{Name: "P_INOUT", Mode: param.InOut, Type: d},
			{Name: "P_OUT", Mode: param.Out, Type: d},
			{Name: "P_IN_LEN", Mode: param.Out, Type: sqltype.Integer()},
			{Name: "P_INOUT_LEN", Mode: param.Out, Type: sqltype.Integer()},
			{Name: "P_OUT_LEN", Mode: param.Out, Type: sqltype.Integer()},
			{Name: "P_IN_INSIDE", Mode: param.Out, Type: d},
			{Name: "P_INOUT_INSIDE", Mode: param.Out, Type: d},
			{Name: "P_OUT_INSIDE", Mode: param.Out, Type: d},
		},
		Body: spEcho,
	}
}

func spEcho(f *Frame) error {
	f.Print("P_IN LENGTH=%s", f.Length("P_IN"))
	f.Print("P_IN VALUE=>%s<", f.Get("P_IN"))

	assignments := []struct {
		name string
		v    sqltype.Value
	}{
		{"P_IN_LEN", f.Length("P_IN")},
		{"P_INOUT_LEN", f.Length("P_INOUT")},
		{"P_OUT_LEN", f.Length("P_OUT")},
		{"P_IN_INSIDE", f.Get("P_IN")},
		{"P_INOUT_INSIDE", f.Get("P_INOUT")},
		{"P_OUT_INSIDE", f.Get("P_OUT")},
		{"P_IN", Upper(f.Get("P_IN"))},
		{"P_INOUT", Upper(f.Get("P_INOUT"))},
		{"P_OUT", Upper(f.Get("P_OUT"))},
	}
	for _, a := range assignments {
		if err := f.Set(a.name, a.v); err != nil {
			return err
		}
	}
	return nil
}

func spBasics(f *Frame) error {
	describe := func(when, name string) {
		if f.IsNull(name) {
			f.Print("%s - %s IS NULL", when, name)
			return
		}
		f.Print("%s - %s LENGTH=%s VALUE=>%s<", when, name, f.Length(name), f.Get(name))
	}
	describe("BEFORE", "P_IN")
	describe("BEFORE", "P_OUT")

	if !f.IsNull("P_IN") {
		if err := f.Set("P_OUT", Upper(f.Get("P_IN"))); err != nil {
			return err
		}
	}

	describe("AFTER", "P_IN")
	describe("AFTER", "P_OUT")
	return nil
}

func spPad(f *Frame) error {
	if err := f.Set("P_FIXED", Trim(f.Get("P_IN"))); err != nil {
		return err
	}
	return f.Set("P_LEN", f.Length("P_FIXED"))
}

func spTotal(f *Frame) error {
	amount, ok := f.Get("P_AMOUNT").AsDecimal()
	if !ok {
		return nil
	}
	qty, ok := f.Get("P_QTY").AsInt()
	if !ok {
		return nil
	}
	total := amount.Mul(decimal.NewFromInt(qty))
	return f.Set("P_TOTAL", sqltype.Dec(total))
}
