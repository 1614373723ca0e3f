package event

import "context"

// Priority determines handler execution order.
// Lower values execute first; equal priorities run in subscription order.
type Priority int

const (
	// PriorityCritical is for handlers that keep shared state consistent.
	PriorityCritical Priority = 0

	// PriorityHigh is for service components.
	PriorityHigh Priority = 100

	// PriorityNormal is the default priority.
	PriorityNormal Priority = 200

	// PriorityLow is for metrics and logging handlers that run last.
	PriorityLow Priority = 300
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch {
	case p <= PriorityCritical:
		return "critical"
	case p <= PriorityHigh:
		return "high"
	case p <= PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Handler is the interface for message handlers.
type Handler interface {
	// Handle processes one published message. A handler that starts further
	// work and needs a synchronous publisher to wait for it must block until
	// that work is done.
	Handle(ctx context.Context, env Envelope) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, env Envelope) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// FilterFunc is a predicate evaluated at publish time.
// Return true to deliver the message, false to skip this subscription.
type FilterFunc func(env Envelope) bool

// Stats contains event bus statistics.
type Stats struct {
	// MessagesPublished is the number of publishes that reached at least one subscriber.
	MessagesPublished uint64

	// MessagesDropped is the number of async deliveries rejected by a full queue.
	MessagesDropped uint64

	// HandlersExecuted is the total number of handler executions.
	HandlersExecuted uint64

	// HandlersSucceeded is the number of handler executions without error.
	HandlersSucceeded uint64

	// HandlerErrors is the number of handlers that returned errors.
	HandlerErrors uint64

	// HandlerPanics is the number of handlers that panicked.
	HandlerPanics uint64

	// ActiveSubscriptions is the current number of active subscriptions.
	ActiveSubscriptions int

	// QueueDepth is the current async queue depth.
	QueueDepth int
}
