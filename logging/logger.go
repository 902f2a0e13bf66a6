// Package logging defines the leveled logging port used across the SDK.
//
// Every component that needs to log (transport, synchronization engine,
// packet orderer, terminal state, health monitor, SQLite history storage)
// takes a Logger at construction
// time instead of calling the standard log package directly, so tests can
// inject a capturing implementation and callers can swap in their own
// adapter without touching SDK internals.
package logging

import "context"

// Logger is a standard interface for structured, leveled logging.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]any)
	Info(ctx context.Context, msg string, fields ...map[string]any)
	Warn(ctx context.Context, msg string, fields ...map[string]any)
	Error(ctx context.Context, err error, msg string, fields ...map[string]any)
}

// noop discards everything; used where a caller does not supply a Logger.
type noop struct{}

func (noop) Debug(context.Context, string, ...map[string]any)        {}
func (noop) Info(context.Context, string, ...map[string]any)         {}
func (noop) Warn(context.Context, string, ...map[string]any)         {}
func (noop) Error(context.Context, error, string, ...map[string]any) {}

// NoOp returns a Logger that discards all output.
func NoOp() Logger { return noop{} }
