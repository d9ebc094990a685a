package errors

import "fmt"

// ExitError carries the exit code a command wants the process to end with.
// Codes come from the gofulmen foundry catalog (foundry.ExitInvalidArgument
// and friends).
type ExitError struct {
	Code int
	Msg  string
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError.
func NewExitError(code int, msg string, err error) *ExitError {
	return &ExitError{Code: code, Msg: msg, Err: err}
}
