// Package errors defines the engine's error taxonomy and the process exit
// codes reported to callers. Structural errors (validation, expansion,
// path mapping) are fatal before any session starts; execution errors are
// converted into per-action status events and surface only through the
// overall exit code.
package errors

type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

func (e *ExitCodeError) Unwrap() error {
	return e.error
}
