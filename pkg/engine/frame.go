package engine

import (
	"context"
	"fmt"
	"strings"

	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// Frame holds the parameter variables of one procedure execution.
// Variables are addressed by parameter name, ignoring case.
type Frame struct {
	ctx      context.Context
	proc     *Procedure
	vars     []sqltype.Value
	assigned []bool
	joblog   *JobLog
	err      error
}

func newFrame(ctx context.Context, proc *Procedure, joblog *JobLog) *Frame {
	return &Frame{
		ctx:      ctx,
		proc:     proc,
		vars:     make([]sqltype.Value, len(proc.Params)),
		assigned: make([]bool, len(proc.Params)),
		joblog:   joblog,
	}
}

// Context returns the execution context.
func (f *Frame) Context() context.Context { return f.ctx }

// Procedure returns the executing procedure.
func (f *Frame) Procedure() *Procedure { return f.proc }

// Get returns the value of a parameter. An unknown name yields NULL and
// fails the execution with SQLCODE -206.
func (f *Frame) Get(name string) sqltype.Value {
	i := f.lookup(name)
	if i < 0 {
		return sqltype.Null()
	}
	return f.vars[i]
}

// IsNull reports whether a parameter is NULL.
func (f *Frame) IsNull(name string) bool {
	return f.Get(name).IsNull()
}

// Length returns SQL LENGTH of a parameter: NULL for NULL, otherwise the
// byte length of its string form.
func (f *Frame) Length(name string) sqltype.Value {
	return Length(f.Get(name))
}

// Set assigns a parameter. The value is converted to the declared type.
// A string that does not fit, other than by trailing blanks, fails with
// SQLCODE -404.
func (f *Frame) Set(name string, v sqltype.Value) error {
	i := f.lookup(name)
	if i < 0 {
		return f.err
	}
	decl := f.proc.Params[i]
	cv, truncated, err := decl.Type.Coerce(v)
	if err != nil {
		return engineError("Frame.Set", sqlIncompatible, stateIncompatible,
			"value for %s not compatible with %s: %v", decl.Name, decl.Type, err)
	}
	if truncated && !onlyBlanksDropped(v, decl.Type.Length) {
		return engineError("Frame.Set", sqlTooLong, stateTooLong,
			"value for %s too long", decl.Name)
	}
	f.vars[i] = cv
	f.assigned[i] = true
	return nil
}

// Print writes a line to the job log.
func (f *Frame) Print(format string, args ...interface{}) {
	f.joblog.Add(MsgPrint, f.proc.QualifiedName(), fmt.Sprintf(format, args...))
}

// Raise returns an engine error carrying the given SQLSTATE, SQLCODE and
// message. Bodies return it to fail the call.
func (f *Frame) Raise(sqlstate string, code int, msg string) error {
	return cberrors.Engine("Frame.Raise", &cberrors.EngineError{
		NativeCode: code,
		SQLState:   sqlstate,
		Message:    msg,
	}).WithField("procedure", f.proc.QualifiedName()).Err()
}

func (f *Frame) lookup(name string) int {
	i := f.proc.param(name)
	if i < 0 && f.err == nil {
		f.err = engineError("Frame", sqlUndefinedVar, stateUndefinedVar,
			"variable %s not found in %s", strings.ToUpper(name), f.proc.QualifiedName())
	}
	return i
}

func onlyBlanksDropped(in sqltype.Value, length int) bool {
	s, ok := in.AsString()
	if !ok || len(s) <= length {
		return false
	}
	return strings.TrimRight(s[length:], " ") == ""
}

// Length is SQL LENGTH: NULL stays NULL.
func Length(v sqltype.Value) sqltype.Value {
	switch v.Kind() {
	case sqltype.KindNull:
		return sqltype.Null()
	case sqltype.KindString:
		s, _ := v.AsString()
		return sqltype.Int(int64(len(s)))
	default:
		return sqltype.Int(int64(len(v.String())))
	}
}

// Upper is SQL UPPER: NULL stays NULL, non-strings are unchanged.
func Upper(v sqltype.Value) sqltype.Value {
	if s, ok := v.AsString(); ok {
		return sqltype.Str(strings.ToUpper(s))
	}
	return v
}

// Concat is SQL CONCAT over any number of operands: NULL if any is NULL.
func Concat(vs ...sqltype.Value) sqltype.Value {
	var b strings.Builder
	for _, v := range vs {
		switch v.Kind() {
		case sqltype.KindNull:
			return sqltype.Null()
		case sqltype.KindString:
			s, _ := v.AsString()
			b.WriteString(s)
		default:
			b.WriteString(v.String())
		}
	}
	return sqltype.Str(b.String())
}

// Trim is SQL TRIM of blanks on both sides.
func Trim(v sqltype.Value) sqltype.Value {
	if s, ok := v.AsString(); ok {
		return sqltype.Str(strings.Trim(s, " "))
	}
	return v
}
