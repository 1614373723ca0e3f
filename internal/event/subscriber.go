package event

import (
	"sync"

	"github.com/dshills/keyweave/internal/event/topic"
)

// Subscriber owns a set of registrations on a bus. Each component gets its
// own Subscriber; Close removes exactly the registrations made through it and
// leaves everyone else's alone.
type Subscriber struct {
	bus           Bus
	mu            sync.Mutex
	subscriptions []Subscription
	closed        bool
}

// NewSubscriber creates a new Subscriber wrapping the given bus.
func NewSubscriber(bus Bus) *Subscriber {
	return &Subscriber{
		bus:           bus,
		subscriptions: make([]Subscription, 0),
	}
}

// Subscribe creates a subscription tracked for removal on Close.
func (s *Subscriber) Subscribe(pattern topic.Topic, handler Handler, opts ...SubscriptionOption) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSubscriberClosed
	}

	sub, err := s.bus.Subscribe(pattern, handler, opts...)
	if err != nil {
		return nil, err
	}

	s.prune()
	s.subscriptions = append(s.subscriptions, sub)
	return sub, nil
}

// prune forgets subscriptions the bus already cancelled, such as
// once-subscriptions that fired. Callers hold s.mu.
func (s *Subscriber) prune() {
	kept := s.subscriptions[:0]
	for _, sub := range s.subscriptions {
		if !sub.IsCancelled() {
			kept = append(kept, sub)
		}
	}
	clear(s.subscriptions[len(kept):])
	s.subscriptions = kept
}

// SubscribeFunc creates a subscription with a function handler.
func (s *Subscriber) SubscribeFunc(pattern topic.Topic, fn HandlerFunc, opts ...SubscriptionOption) (Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return s.Subscribe(pattern, fn, opts...)
}

// SubscribeOnce creates a subscription removed after its first delivery.
func (s *Subscriber) SubscribeOnce(pattern topic.Topic, handler Handler, opts ...SubscriptionOption) (Subscription, error) {
	opts = append(opts, WithOnce())
	return s.Subscribe(pattern, handler, opts...)
}

// Unsubscribe removes one subscription made through this Subscriber.
// Subscriptions this Subscriber does not own are rejected.
func (s *Subscriber) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return ErrInvalidSubscription
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	for i, tracked := range s.subscriptions {
		if tracked.ID() == sub.ID() {
			s.subscriptions = append(s.subscriptions[:i], s.subscriptions[i+1:]...)
			return s.bus.Unsubscribe(tracked)
		}
	}

	return ErrSubscriptionNotFound
}

// Owns reports whether sub was made through this Subscriber and is still tracked.
func (s *Subscriber) Owns(sub Subscription) bool {
	if sub == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()
	for _, tracked := range s.subscriptions {
		if tracked.ID() == sub.ID() {
			return true
		}
	}
	return false
}

// Close removes every tracked subscription and rejects new ones. It is safe
// to call more than once.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, sub := range s.subscriptions {
		// Once-subscriptions may already be gone.
		_ = s.bus.Unsubscribe(sub)
	}
	s.subscriptions = nil

	return nil
}

// Count returns the number of live subscriptions made through this
// Subscriber. Fired once-subscriptions are not counted.
func (s *Subscriber) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	return len(s.subscriptions)
}

// IsClosed returns true if the subscriber has been closed.
func (s *Subscriber) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Bus returns the underlying bus.
func (s *Subscriber) Bus() Bus {
	return s.bus
}
