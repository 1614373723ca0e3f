package rpc

import (
	"errors"
	"fmt"

	"github.com/dshills/keyweave/internal/event/topic"
)

// Sentinel errors.
var (
	// ErrNoResponder is returned when no responder serves the topic at call time.
	ErrNoResponder = errors.New("no responder")

	// ErrTimeout is returned when no reply arrives before the deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed is returned after the client or server has been closed.
	ErrClosed = errors.New("rpc closed")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrRequestType is returned by typed handlers given a payload of the wrong type.
	ErrRequestType = errors.New("unexpected request type")

	// ErrResultType is returned by Call when the result has the wrong type.
	ErrResultType = errors.New("unexpected result type")
)

// RequestError describes a request that failed before a responder answered.
type RequestError struct {
	Topic         topic.Topic
	CorrelationID string
	Err           error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("rpc request %s: %v", e.Topic, e.Err)
}

// Unwrap returns the underlying error.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// ResponderError carries a responder's failure back to the caller. Its
// message is exactly the responder's error message.
type ResponderError struct {
	Topic     topic.Topic
	Responder string
	Panicked  bool
	Err       error
}

// Error returns the responder's message verbatim.
func (e *ResponderError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the responder's error.
func (e *ResponderError) Unwrap() error {
	return e.Err
}

// IsNoResponder reports whether err means nobody served the topic.
func IsNoResponder(err error) bool {
	return errors.Is(err, ErrNoResponder)
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// panicError converts a recovered value to an error, keeping errors as-is.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
