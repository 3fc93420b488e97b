package registry

import (
	"errors"
	"fmt"
)

// Code classifies registry failures. Store implementations return coded
// errors so the adaptation layer can distinguish absence from real faults
// without string matching.
type Code string

const (
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeDoesNotExist    Code = "DOES_NOT_EXIST"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnsupported     Code = "UNSUPPORTED"
	CodeTimeout         Code = "TIMEOUT"
	CodeOperationFailed Code = "OPERATION_FAILED"
	CodeInternal        Code = "INTERNAL"
)

// Error is a coded registry error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("registry: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a coded error from a format string.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrorCode extracts the code from err, or CodeInternal for uncoded errors.
func ErrorCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsNotFound reports whether err is a DOES_NOT_EXIST registry error.
func IsNotFound(err error) bool { return is(err, CodeDoesNotExist) }

// IsAlreadyExists reports whether err is an ALREADY_EXISTS registry error.
func IsAlreadyExists(err error) bool { return is(err, CodeAlreadyExists) }

// IsInvalidArgument reports whether err is an INVALID_ARGUMENT registry error.
func IsInvalidArgument(err error) bool { return is(err, CodeInvalidArgument) }

// IsUnsupported reports whether err is an UNSUPPORTED registry error.
func IsUnsupported(err error) bool { return is(err, CodeUnsupported) }

// IsTimeout reports whether err is a TIMEOUT registry error.
func IsTimeout(err error) bool { return is(err, CodeTimeout) }

// IsOperationFailed reports whether err is an OPERATION_FAILED registry error.
func IsOperationFailed(err error) bool { return is(err, CodeOperationFailed) }
