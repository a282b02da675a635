package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeCategory(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{ErrCodeConfigParse, "configuration"},
		{ErrCodeConnectionClosed, "connection"},
		{ErrCodeBindArity, "bind"},
		{ErrCodeTypeMismatch, "bind"},
		{ErrCodeEngineExecution, "execution"},
		{ErrCodeDecodeFailed, "decode"},
		{ErrCodeTruncation, "warning"},
		{ErrCodeInternal, "internal"},
		{Code(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := tt.code.Category(); got != tt.want {
				t.Errorf("Category() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArityError(t *testing.T) {
	err := Arity(4, 3).WithOp("Binder.Bind").Err()

	if !IsCode(err, ErrCodeBindArity) {
		t.Fatalf("expected ErrCodeBindArity, got %v", GetCode(err))
	}
	if !IsCategory(err, "bind") {
		t.Error("expected bind category")
	}
	fields := GetFields(err)
	if fields["expected"] != 4 || fields["got"] != 3 {
		t.Errorf("unexpected fields: %v", fields)
	}
	if !strings.HasPrefix(err.Error(), "E3001: ") {
		t.Errorf("Error() = %q, want E3001 prefix", err.Error())
	}
}

func TestEngineErrorChain(t *testing.T) {
	driverErr := stderrors.New("driver said no")
	ee := &EngineError{NativeCode: -204, SQLState: "42704", Message: "PROC not found", Cause: driverErr}
	err := Engine("Engine.Execute", ee).Err()

	if !IsCode(err, ErrCodeEngineExecution) {
		t.Fatalf("GetCode = %v, want %v", GetCode(err), ErrCodeEngineExecution)
	}

	got, ok := GetEngineError(err)
	if !ok {
		t.Fatal("EngineError not found in chain")
	}
	if got.NativeCode != -204 || got.Message != "PROC not found" {
		t.Errorf("engine error altered: %+v", got)
	}
	if !Is(err, driverErr) {
		t.Error("driver error should remain reachable through the chain")
	}
	if !strings.Contains(err.Error(), "PROC not found") {
		t.Errorf("Error() = %q, want the engine message", err.Error())
	}
	if !strings.Contains(err.Error(), "SQLSTATE 42704") {
		t.Errorf("Error() = %q, want SQLSTATE in text", err.Error())
	}
}

func TestGetCodeOnForeignError(t *testing.T) {
	if got := GetCode(fmt.Errorf("plain")); got != ErrCodeInternal {
		t.Errorf("GetCode(plain) = %v, want %v", got, ErrCodeInternal)
	}
	if IsCode(nil, ErrCodeInternal) {
		t.Error("IsCode(nil) should be false")
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		err  error
		want Severity
	}{
		{Truncation(0, "CHAR(1)", "bind").Err(), SeverityWarning},
		{Arity(2, 1).Err(), SeverityError},
		{New(ErrCodeConnectionFailed, "ping").Critical().Err(), SeverityCritical},
		{fmt.Errorf("wrapped: %w", New(ErrCodeConnectionFailed, "ping").Critical().Err()), SeverityCritical},
		{fmt.Errorf("plain"), SeverityError},
	}
	for _, tt := range tests {
		if got := GetSeverity(tt.err); got != tt.want {
			t.Errorf("GetSeverity(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestDetailedFormat(t *testing.T) {
	err := New(ErrCodeInvalidState, "context released").
		WithOp("Decoder.Decode").
		WithField("slots", 3).
		WithStack().
		Build()

	out := fmt.Sprintf("%+v", err)
	for _, want := range []string{"Operation: Decoder.Decode", "slots: 3", "Stack:"} {
		if !strings.Contains(out, want) {
			t.Errorf("detailed format missing %q:\n%s", want, out)
		}
	}
}
