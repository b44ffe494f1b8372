// File: api/errors.go
// Package api defines the closed error taxonomy and wire-level constants
// shared by every xShm package.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "fmt"

// ErrorCode is a closed set of failure categories returned across the
// exported surface.
type ErrorCode int

const (
	// CodeSuccess is never attached to a returned *Error; it exists only
	// so ErrorCode has a defined zero value.
	CodeSuccess ErrorCode = iota
	CodeInvalidParam
	CodeMemory
	CodeTimeout
	CodeEmpty
	CodeExists
	CodeNotFound
	CodeAccess
	CodeNotReady
	CodeProtocol
	CodeFull
	CodeNoSlot
)

func (c ErrorCode) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeInvalidParam:
		return "invalid_param"
	case CodeMemory:
		return "memory"
	case CodeTimeout:
		return "timeout"
	case CodeEmpty:
		return "empty"
	case CodeExists:
		return "exists"
	case CodeNotFound:
		return "not_found"
	case CodeAccess:
		return "access"
	case CodeNotReady:
		return "not_ready"
	case CodeProtocol:
		return "protocol"
	case CodeFull:
		return "full"
	case CodeNoSlot:
		return "no_slot"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across the xShm surface. It
// carries the failing operation name, a closed error code, an optional
// wrapped cause, and free-form structured context for logging.
type Error struct {
	Op      string
	Code    ErrorCode
	Err     error
	Context map[string]any
}

// NewError constructs an *Error for op with the given code. The message
// always names op and code; a cause attached via WithCause is appended.
func NewError(op string, code ErrorCode) *Error {
	return &Error{Op: op, Code: code}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if len(e.Context) == 0 {
			return fmt.Sprintf("xshm: %s: %s: %v", e.Op, e.Code, e.Err)
		}
		return fmt.Sprintf("xshm: %s: %s: %v (context: %+v)", e.Op, e.Code, e.Err, e.Context)
	}
	if len(e.Context) == 0 {
		return fmt.Sprintf("xshm: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("xshm: %s: %s (context: %+v)", e.Op, e.Code, e.Context)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// WithCause attaches an underlying cause (e.g. a wrapped windows.Errno).
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// WithContext attaches structured diagnostic context; call sites chain
// it after NewError.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Is reports whether target is an *Error with the same Code, so callers
// can write errors.Is(err, api.NewError("", api.CodeTimeout)).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}
