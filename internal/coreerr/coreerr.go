// Package coreerr defines the coded, retryable error taxonomy shared by
// every subsystem so the Operation Manager can classify failures uniformly
// without type-switching on each package's error type.
package coreerr

import (
	"errors"
	"fmt"
	"strings"
)

// Code is one of the wire-visible error codes.
type Code string

const (
	CodeEndpointNotFound    Code = "E_ENDPOINT_NOT_FOUND"
	CodeEndpointUnreachable Code = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         Code = "E_AUTH_INVALID"
	CodeTimeout             Code = "E_TIMEOUT"
	CodeStagingUnavailable  Code = "E_STAGING_UNAVAILABLE"
	CodeStageTooLarge       Code = "E_STAGE_TOO_LARGE"
	CodeIndexFailed         Code = "E_INDEX_FAILED"
	CodeUnknown             Code = "E_UNKNOWN"
)

// Coded is implemented by any subsystem error that carries a wire code and
// a retryability hint.
type Coded interface {
	error
	CodeValue() string
	RetryableStatus() bool
}

// Error is the concrete Coded implementation used throughout the module.
type Error struct {
	Code      Code
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeValue satisfies Coded.
func (e *Error) CodeValue() string { return string(e.Code) }

// RetryableStatus satisfies Coded.
func (e *Error) RetryableStatus() bool { return e.Retryable }

// New constructs a coded error.
func New(code Code, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// Classify inspects a plain error (or a Coded one, possibly wrapped) and returns its wire
// code and retryability, applying the message-sniffing heuristics the
// Operation Manager uses when a subsystem didn't already return a Coded
// error: deadline-exceeded phrasing maps to E_TIMEOUT, "unreachable" maps to
// E_ENDPOINT_UNREACHABLE, "auth" maps to E_AUTH_INVALID, everything else is
// E_UNKNOWN and retryable by default.
func Classify(err error) (Code, bool) {
	if err == nil {
		return "", false
	}
	var c Coded
	if errors.As(err, &c) {
		return Code(c.CodeValue()), c.RetryableStatus()
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return CodeTimeout, true
	case strings.Contains(msg, "unreachable"):
		return CodeEndpointUnreachable, true
	case strings.Contains(msg, "auth"):
		return CodeAuthInvalid, false
	default:
		return CodeUnknown, true
	}
}
