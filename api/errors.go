// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sentinel errors and the structured error type shared by runtime packages.

package api

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	ErrEventExists      = errors.New("event already registered for descriptor")
	ErrNoFiber          = errors.New("no running fiber in context")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrOperationTimeout = errors.New("operation timeout")
	ErrNotSupported     = errors.New("operation not supported")
	ErrNotFound         = errors.New("resource not found")
)

// IsTimeout reports whether err is a hook-level timeout, either the
// ETIMEDOUT errno returned by blocking-style calls or ErrOperationTimeout.
func IsTimeout(err error) bool {
	return errors.Is(err, unix.ETIMEDOUT) || errors.Is(err, ErrOperationTimeout)
}

// ErrorCode classifies an Error.
type ErrorCode int

const (
	ErrCodeInternal ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeInternal:
		return "internal"
	case ErrCodeInvalidArgument:
		return "invalid argument"
	case ErrCodeResourceExhausted:
		return "resource exhausted"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is a failure of a setup operation (bind, listen) carrying the
// descriptor, address or family it concerned.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if len(e.Context) != 0 {
		sb.WriteString(" [")
		for i, k := range slices.Sorted(maps.Keys(e.Context)) {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
		sb.WriteByte(']')
	}
	return sb.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// NewError returns an Error without a cause.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap returns an Error around cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// WithContext records key=value on e and returns e.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
