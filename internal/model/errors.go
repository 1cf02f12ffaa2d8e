// Package model holds the domain types shared across the SDK: wire
// command tags, persisted entities, dispatched events and the error
// taxonomy every other package wraps with %w.
package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure the way a caller needs to react to it,
// independent of which component raised it.
type ErrorCode int

const (
	ErrUnknown ErrorCode = iota
	ErrProtocol
	ErrTransport
	ErrAuth
	ErrTimeout
	ErrNotConnected
	ErrStore
	ErrMaxRetries
	ErrMaxReconnectAttempts
	ErrKickedOut
)

func (c ErrorCode) String() string {
	switch c {
	case ErrProtocol:
		return "protocol"
	case ErrTransport:
		return "transport"
	case ErrAuth:
		return "auth"
	case ErrTimeout:
		return "timeout"
	case ErrNotConnected:
		return "not_connected"
	case ErrStore:
		return "store"
	case ErrMaxRetries:
		return "max_retries"
	case ErrMaxReconnectAttempts:
		return "max_reconnect_attempts"
	case ErrKickedOut:
		return "kicked_out"
	default:
		return "unknown"
	}
}

// SDKError is the concrete error type carried through the stack. Every
// package wraps the underlying cause with fmt.Errorf("...: %w", err) so
// errors.Is/errors.As keep working across component boundaries.
type SDKError struct {
	Code   ErrorCode
	Reason string
	Cause  error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Cause)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return e.Code.String()
}

func (e *SDKError) Unwrap() error { return e.Cause }

// Code extracts the ErrorCode from err, or ErrUnknown if err is not (or
// does not wrap) an *SDKError.
func Code(err error) ErrorCode {
	var se *SDKError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrUnknown
}

// New builds an *SDKError with no underlying cause.
func New(code ErrorCode, reason string) error {
	return &SDKError{Code: code, Reason: reason}
}

// Wrap builds an *SDKError around an underlying cause.
func Wrap(code ErrorCode, reason string, cause error) error {
	return &SDKError{Code: code, Reason: reason, Cause: cause}
}
