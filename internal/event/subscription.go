package event

import (
	"context"
	"sync/atomic"

	"github.com/dshills/keyweave/internal/event/dispatch"
	"github.com/dshills/keyweave/internal/event/topic"
)

// SubscriptionState represents the state of a subscription.
type SubscriptionState int32

const (
	// SubscriptionStateActive means the subscription is receiving messages.
	SubscriptionStateActive SubscriptionState = iota

	// SubscriptionStatePaused means the subscription is temporarily not receiving messages.
	SubscriptionStatePaused

	// SubscriptionStateCancelled means the subscription has been permanently cancelled.
	SubscriptionStateCancelled
)

// String returns a human-readable state name.
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionStateActive:
		return "active"
	case SubscriptionStatePaused:
		return "paused"
	case SubscriptionStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Subscription is the handle for one registration. It is the only way to
// remove that registration, so removing it can never disturb registrations
// owned by anyone else on the same topic.
type Subscription interface {
	// ID returns the unique subscription identifier.
	ID() string

	// Topic returns the subscribed topic pattern.
	Topic() topic.Topic

	// State returns the current subscription state.
	State() SubscriptionState

	// IsActive returns true if the subscription can receive messages.
	IsActive() bool

	// IsCancelled returns true once the subscription is removed for good,
	// including a once-subscription that has fired.
	IsCancelled() bool

	// Pause temporarily stops delivery to this subscription.
	Pause()

	// Resume restarts delivery after a pause.
	Resume()
}

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig struct {
	// Priority determines execution order (lower values execute first).
	Priority Priority

	// Filter is an optional predicate; messages it rejects are skipped.
	Filter FilterFunc

	// Once removes the subscription after its first delivery.
	Once bool
}

// DefaultSubscriptionConfig returns a default subscription configuration.
func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		Priority: PriorityNormal,
	}
}

// SubscriptionOption is a function that configures a subscription.
type SubscriptionOption func(*SubscriptionConfig)

// WithPriority sets the subscription priority.
func WithPriority(p Priority) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Priority = p
	}
}

// WithFilter sets a filter predicate.
func WithFilter(f FilterFunc) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Filter = f
	}
}

// WithOnce removes the subscription after its first delivery.
func WithOnce() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Once = true
	}
}

type subscription struct {
	id      string
	seq     uint64
	topic   topic.Topic
	handler Handler
	config  SubscriptionConfig
	state   atomic.Int32
}

func newSubscription(id string, seq uint64, t topic.Topic, h Handler, opts ...SubscriptionOption) *subscription {
	config := DefaultSubscriptionConfig()
	for _, opt := range opts {
		opt(&config)
	}

	s := &subscription{
		id:      id,
		seq:     seq,
		topic:   t,
		handler: h,
		config:  config,
	}
	s.state.Store(int32(SubscriptionStateActive))
	return s
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Topic() topic.Topic {
	return s.topic
}

func (s *subscription) Config() SubscriptionConfig {
	return s.config
}

func (s *subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

func (s *subscription) IsActive() bool {
	return s.State() == SubscriptionStateActive
}

func (s *subscription) IsCancelled() bool {
	return s.State() == SubscriptionStateCancelled
}

func (s *subscription) Pause() {
	s.state.CompareAndSwap(int32(SubscriptionStateActive), int32(SubscriptionStatePaused))
}

func (s *subscription) Resume() {
	s.state.CompareAndSwap(int32(SubscriptionStatePaused), int32(SubscriptionStateActive))
}

func (s *subscription) cancel() {
	s.state.Store(int32(SubscriptionStateCancelled))
}

// claimOnce moves an active once-subscription to cancelled. Only the caller
// that wins the swap delivers, so a once-subscription fires at most once even
// under concurrent publishes.
func (s *subscription) claimOnce() bool {
	return s.state.CompareAndSwap(int32(SubscriptionStateActive), int32(SubscriptionStateCancelled))
}

// accepts reports whether the filter lets env through.
func (s *subscription) accepts(env Envelope) bool {
	return s.config.Filter == nil || s.config.Filter(env)
}

// deliverer returns the dispatch handler for one delivery. Unless claimed is
// set, the state is checked again right before the call: a handler removed or
// paused after the publish snapshot was taken is skipped. invoked, when set,
// counts the calls that go through; it is only touched by the goroutine
// running the delivery.
func (s *subscription) deliverer(claimed bool, invoked *int) dispatch.Handler {
	return dispatch.HandlerFunc(func(ctx context.Context, msg any) error {
		if !claimed && !s.IsActive() {
			return nil
		}
		if invoked != nil {
			*invoked++
		}
		return s.handler.Handle(ctx, msg.(Envelope))
	})
}
