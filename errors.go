// Package ugen is the library engine: it maps a generic submit/cancel/poll
// transfer contract onto UGEN's five async ioctls (plus the legacy
// synchronous REQUEST path) and drains completions from a host event pump
// (§4.8-4.10).
package ugen

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/ugen-project/ugen/internal/errno"
	"github.com/ugen-project/ugen/internal/uapi"
)

// Error is a structured UGEN error with context and errno mapping.
type Error struct {
	Op       string            // operation that failed, e.g. "Submit", "Cancel"
	Endpoint uapi.EndpointKey  // zero value if not applicable
	Context  uint64            // the request context, 0 if not applicable
	Code     UGENErrorCode     // high-level error category
	Errno    syscall.Errno     // POSIX errno, 0 if not applicable
	Msg      string            // human-readable message
	Inner    error             // wrapped error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op == "" {
		return fmt.Sprintf("ugen: %s", msg)
	}
	if e.Errno != 0 {
		return fmt.Sprintf("ugen: %s: %s (errno=%d)", e.Op, msg, e.Errno)
	}
	return fmt.Sprintf("ugen: %s: %s", e.Op, msg)
}

// Unwrap supports errors.Is/errors.As against the wrapped error.
func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison against both a *Error (matched by Code)
// and the legacy UGENErrorCode string constants below.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if code, ok := target.(UGENErrorCode); ok {
		return e.Code == code
	}
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// UGENErrorCode enumerates the eight abstract error kinds from §7.
type UGENErrorCode string

const (
	ErrCodeInvalid      UGENErrorCode = "invalid"
	ErrCodeNoMemory     UGENErrorCode = "no-memory"
	ErrCodeIOError      UGENErrorCode = "io-error"
	ErrCodeCancelled    UGENErrorCode = "cancelled"
	ErrCodeStall        UGENErrorCode = "stall"
	ErrCodeTimeout      UGENErrorCode = "timeout"
	ErrCodeNotSupported UGENErrorCode = "not-supported"
	ErrCodeNoDevice     UGENErrorCode = "no-device"
	ErrCodeAccess       UGENErrorCode = "access"
)

func (c UGENErrorCode) Error() string { return string(c) }

// codeFromErrnoCode adapts internal/errno.Code to the public UGENErrorCode.
func codeFromErrnoCode(c errno.Code) UGENErrorCode {
	switch c {
	case errno.Invalid:
		return ErrCodeInvalid
	case errno.NoMemory:
		return ErrCodeNoMemory
	case errno.IOError:
		return ErrCodeIOError
	case errno.Cancelled:
		return ErrCodeCancelled
	case errno.Stall:
		return ErrCodeStall
	case errno.Timeout:
		return ErrCodeTimeout
	case errno.NotSupported:
		return ErrCodeNotSupported
	case errno.NoDevice:
		return ErrCodeNoDevice
	case errno.Access:
		return ErrCodeAccess
	default:
		return ErrCodeIOError
	}
}

// NewError creates a plain structured error with no errno/endpoint context.
func NewError(op string, code UGENErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewErrorWithErrno wraps a raw ioctl-return errno into the public error
// taxonomy via the "standard dictionary" mapping (§7): this is the one and
// only place a syscall.Errno crossing the ioctl boundary gets classified.
func NewErrorWithErrno(op string, e syscall.Errno) *Error {
	code := errno.FromErrno(e)
	return &Error{
		Op:    op,
		Code:  codeFromErrnoCode(code),
		Errno: e,
		Msg:   e.Error(),
	}
}

// NewEndpointError attaches endpoint context to a structured error.
func NewEndpointError(op string, ep uapi.EndpointKey, code UGENErrorCode, msg string) *Error {
	return &Error{Op: op, Endpoint: ep, Code: code, Msg: msg}
}

// NewRequestError attaches endpoint and request-context identity, used by
// Submit/Cancel/HandleEvents failures tied to one in-flight transfer.
func NewRequestError(op string, ep uapi.EndpointKey, requestContext uint64, code UGENErrorCode, msg string) *Error {
	return &Error{Op: op, Endpoint: ep, Context: requestContext, Code: code, Msg: msg}
}

// WrapError adapts an arbitrary error (commonly a syscall.Errno surfaced by
// an ioctl call) into the public taxonomy, preserving an existing *Error's
// fields if inner already is one.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ue, ok := inner.(*Error); ok {
		return &Error{Op: op, Endpoint: ue.Endpoint, Context: ue.Context, Code: ue.Code, Errno: ue.Errno, Msg: ue.Msg, Inner: ue.Inner}
	}
	if e, ok := inner.(syscall.Errno); ok {
		return NewErrorWithErrno(op, e)
	}
	return &Error{Op: op, Code: ErrCodeIOError, Msg: inner.Error(), Inner: inner}
}

// Sentinel errors for the Non-goals named in §1/§4.8: isochronous
// async transfers, bulk streams, interrupt-OUT with the zero-packet flag.
var (
	ErrNotSupported = &Error{Code: ErrCodeNotSupported, Msg: "transfer type not supported asynchronously"}
	ErrNotFound     = &Error{Code: ErrCodeInvalid, Msg: "no such outstanding request"}
)

// IsCode reports whether err (anywhere in its chain) carries code.
func IsCode(err error, code UGENErrorCode) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code == code
	}
	return false
}
