package errors

import (
	goerrors "errors"
	"testing"
)

func TestNewError(t *testing.T) {
	base := goerrors.New("boom")
	err := NewError(base, ValidationFailedExitCode)
	if err.GetExitCode() != ValidationFailedExitCode {
		t.Fatalf("unexpected exit code %v", err.GetExitCode())
	}
	if err.Error() != "boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !goerrors.Is(err, base) {
		t.Fatal("wrapped error should unwrap to the base error")
	}
}

func TestNewErrorNil(t *testing.T) {
	if err := NewError(nil, TaskFailedExitCode); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	var e *ExitCodeError
	if e.GetExitCode() != 0 {
		t.Fatal("nil receiver should report exit code 0")
	}
}
