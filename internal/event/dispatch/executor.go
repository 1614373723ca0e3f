package dispatch

import (
	"context"
	"runtime/debug"
	"time"
)

// Executor runs a single handler with panic recovery and timing.
type Executor struct {
	panicHandler PanicHandler
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		panicHandler: defaultPanicHandler,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorPanicHandler sets the panic handler for the executor.
func WithExecutorPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		if h != nil {
			e.panicHandler = h
		}
	}
}

// Execute runs handler with msg and returns the result.
func (e *Executor) Execute(ctx context.Context, msg any, handler Handler) (result Result) {
	select {
	case <-ctx.Done():
		return Result{Error: ctx.Err(), Skipped: true}
	default:
	}

	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()

			result.Success = false
			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = stack

			// A panicking panic handler must not take the caller down with it.
			func() {
				defer func() { _ = recover() }()
				e.panicHandler(msg, r, stack)
			}()
		}
	}()

	if err := handler.Handle(ctx, msg); err != nil {
		result.Error = err
		return result
	}

	result.Success = true
	return result
}

// ExecuteWithTimeout runs a handler with a deadline. The handler must watch
// ctx for the deadline to have any effect.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, msg any, handler Handler, timeout time.Duration) Result {
	if timeout <= 0 {
		return e.Execute(ctx, msg, handler)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.Execute(ctx, msg, handler)
}
