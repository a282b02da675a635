package errors

import (
	"fmt"
	"strings"
)

// EngineError is a failure reported by the database engine itself.
// NativeCode and Message are carried exactly as the engine produced them;
// Cause keeps the driver's own error value for errors.As.
type EngineError struct {
	NativeCode int
	SQLState   string
	Message    string
	Cause      error
}

func (e *EngineError) Error() string {
	var buf strings.Builder
	if e.SQLState != "" {
		fmt.Fprintf(&buf, "SQLSTATE %s, ", e.SQLState)
	}
	fmt.Fprintf(&buf, "native code %d: %s", e.NativeCode, e.Message)
	return buf.String()
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Engine wraps an engine failure as an ErrCodeEngineExecution error.
// The engine's message stays unchanged in the EngineError cause.
func Engine(op string, ee *EngineError) *Builder {
	return Wrap(ee, ErrCodeEngineExecution, "engine reported an error").
		WithOp(op).
		WithField("native_code", ee.NativeCode).
		WithField("sqlstate", ee.SQLState)
}

// GetEngineError returns the EngineError in err's chain, if any.
func GetEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if As(err, &ee) {
		return ee, true
	}
	return nil, false
}
