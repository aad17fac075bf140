package errors

import (
	"errors"
)

type ErrorType string

const (
	// ErrorTypePrecondition covers failures detected before any side effect
	// is performed (dirty tree, missing tool). Always exit code 1.
	ErrorTypePrecondition ErrorType = "PRECONDITION"
	// ErrorTypeTool covers external tool invocations that returned
	// non-zero. The run aborts with the tool's own exit code.
	ErrorTypeTool ErrorType = "TOOL"
	// ErrorTypeInternal covers everything else. Exit code 1.
	ErrorTypeInternal ErrorType = "INTERNAL"
)

var (
	ErrDirtyTree   = errors.New("the repo is not clean")
	ErrToolMissing = errors.New("required tool not found")
)

type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Precondition(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypePrecondition,
		Message: message,
		Code:    1,
		Err:     err,
	}
}

func Tool(message string, code int, err error) *Error {
	if code == 0 {
		code = 1
	}
	return &Error{
		Type:    ErrorTypeTool,
		Message: message,
		Code:    code,
		Err:     err,
	}
}

func Internal(message string, err error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Code:    1,
		Err:     err,
	}
}

// ExitCode maps an error chain to the process exit status: tool errors
// carry the failing tool's code, everything else is 1, nil is 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 1
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
