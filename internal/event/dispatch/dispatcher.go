package dispatch

import (
	"context"
	"time"
)

// Handler is the interface for message handlers.
// This mirrors event.Handler so the packages do not import each other.
type Handler interface {
	Handle(ctx context.Context, msg any) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg any) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg any) error {
	return f(ctx, msg)
}

// Result represents the outcome of a handler execution.
type Result struct {
	// Success is true if the handler completed without error or panic.
	Success bool

	// Error is the error returned by the handler, if any.
	Error error

	// Panicked is true if the handler panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the handler took to execute.
	Duration time.Duration

	// Skipped is true if the handler was not executed (context cancelled).
	Skipped bool
}

// IsSuccess returns true if the result indicates successful execution.
func (r Result) IsSuccess() bool {
	return r.Success && !r.Panicked && r.Error == nil
}

// IsError returns true if the handler returned an error (not a panic).
func (r Result) IsError() bool {
	return r.Error != nil && !r.Panicked
}

// IsPanic returns true if the handler panicked.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// PanicHandler is called when a handler panics.
type PanicHandler func(msg any, panicValue any, stack []byte)

// ErrorHandler is called when an asynchronously run handler returns an error.
// Async failures have no caller to return to, so this is their only outlet.
type ErrorHandler func(msg any, err error)

func defaultPanicHandler(any, any, []byte) {}

func defaultErrorHandler(any, error) {}
