package cli

import (
	"errors"
	"fmt"

	"github.com/surrealdb/surrealmirror/pkg/supervisor"
)

// ExitError carries the process exit status of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// configError reports a bad flag or config file.
func configError(message string, err error) *ExitError {
	return WrapExitError(supervisor.ExitConfig, message, err)
}

// ExitCode extracts the exit status from err. Errors that are not an
// ExitError are classified like a relay failure.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return supervisor.ExitCode(err)
}
