// Package terminalerrors defines the error kinds raised by the terminal SDK.
//
// Kinds are concrete exported types so callers can use errors.As instead of
// string matching. Request-scoped errors (ValidationError, NotFoundError,
// TradeError, ...) never mutate connection-global state; see §7 of the spec.
package terminalerrors

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError is returned when a request fails a local precondition
// (unknown action, missing required field) before it ever reaches the wire.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NotConnectedError is raised when the transport is down and a request was
// issued anyway.
type NotConnectedError struct {
	AccountID string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("account %s: not connected", e.AccountID)
}

// TimeoutError is raised when any deadline (request, connect, waitSynchronized, ...) expires.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Operation, e.Timeout)
}

// NotFoundError is raised when the server reports no such entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Entity, e.ID)
}

// UnauthorizedError is raised when the server rejects credentials.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return fmt.Sprintf("unauthorized: %s", e.Message)
}

// TooManyRequestsError is raised when the server throttles the caller.
type TooManyRequestsError struct {
	RetryAfter time.Duration
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("too many requests, retry after %s", e.RetryAfter)
}

// InternalError wraps an unknown server-side failure.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}

// TradeError is raised when a trade response carries a failure retcode.
// It carries all three server-reported fields so callers can branch on the
// numeric code without parsing the message string.
type TradeError struct {
	NumericCode uint32
	StringCode  string
	Message     string
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("trade failed: %s (%d): %s", e.StringCode, e.NumericCode, e.Message)
}

// ConnectionClosed is returned by the transport for requests still pending
// when the transport is closed and for requests attempted afterward, and by
// the synchronization engine for a synchronize attempt that finishes after
// the engine was closed or superseded. Connection.Close does not close the
// shared transport, so it does not fail requests already in flight.
type ConnectionClosed struct {
	AccountID string
}

func (e *ConnectionClosed) Error() string {
	return fmt.Sprintf("account %s: connection closed", e.AccountID)
}

// GapDetected describes a sequence gap that outlived the ordering timeout
// (§4.B). It is not a caller-facing error, and nothing in the SDK constructs
// it: the packet orderer reports gaps through its GapHandler, and the
// transport delivers them to the synchronization engine as a "gapDetected"
// envelope.
type GapDetected struct {
	AccountID string
	Missing   []uint64
}

func (e *GapDetected) Error() string {
	return fmt.Sprintf("account %s: gap detected, missing sequence(s) %v", e.AccountID, e.Missing)
}

// Is* helpers let callers check kinds without importing errors.As boilerplate.

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

func IsConnectionClosed(err error) bool {
	var e *ConnectionClosed
	return errors.As(err, &e)
}

func IsTrade(err error) (*TradeError, bool) {
	var e *TradeError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
