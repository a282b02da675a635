package engine

import (
	"fmt"

	cberrors "github.com/ha1tch/callbind/pkg/errors"
)

// SQLCODE and SQLSTATE pairs reported by the engine.
const (
	sqlSyntax         = -104 // token not valid
	sqlUndefinedVar   = -206 // variable not found
	sqlIncompatible   = -303 // value not compatible with host variable
	sqlTooLong        = -404 // value too long for variable
	sqlArity          = -440 // no routine with matching argument count
	sqlRoutineFailed  = -443 // routine returned an error
	sqlDuplicate      = -454 // routine signature already exists
	sqlDuplicateParam = -590 // duplicate parameter name
	sqlUndefinedName  = -204 // object not found

	stateSyntax         = "42601"
	stateUndefinedVar   = "42703"
	stateIncompatible   = "42806"
	stateTooLong        = "22001"
	stateArity          = "42884"
	stateRoutineFailed  = "38000"
	stateDuplicate      = "42723"
	stateDuplicateParam = "42734"
	stateUndefinedName  = "42704"
)

func engineError(op string, code int, state, format string, args ...interface{}) error {
	return cberrors.Engine(op, &cberrors.EngineError{
		NativeCode: code,
		SQLState:   state,
		Message:    fmt.Sprintf(format, args...),
	}).Err()
}
