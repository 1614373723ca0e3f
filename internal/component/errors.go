package component

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned when Init is called twice.
	ErrAlreadyInitialized = errors.New("component already initialized")

	// ErrDestroyed is returned when using a destroyed component.
	ErrDestroyed = errors.New("component destroyed")

	// ErrNoRPC is returned when a component has no rpc client or server.
	ErrNoRPC = errors.New("component has no rpc endpoint")
)

// LifecycleError reports a failed lifecycle hook.
type LifecycleError struct {
	Component string
	Phase     string
	Err       error
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("component %s: %s: %v", e.Component, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *LifecycleError) Unwrap() error {
	return e.Err
}
