package event

import (
	"context"
	"fmt"

	"github.com/dshills/keyweave/internal/event/topic"
)

// Key binds a topic to the payload type carried on it. Publishing and
// subscribing through a Key is checked at compile time; the bus itself still
// moves opaque payloads.
type Key[T any] struct {
	topic topic.Topic
}

// NewKey declares a typed topic.
func NewKey[T any](t topic.Topic) Key[T] {
	return Key[T]{topic: t}
}

// Topic returns the underlying topic.
func (k Key[T]) Topic() topic.Topic {
	return k.topic
}

// String returns the topic name.
func (k Key[T]) String() string {
	return k.topic.String()
}

// Emit publishes payload on k asynchronously.
func Emit[T any](ctx context.Context, p *Publisher, k Key[T], payload T, opts ...PublishOption) error {
	return p.Publish(ctx, k.topic, payload, opts...)
}

// EmitSync publishes payload on k with barrier semantics.
func EmitSync[T any](ctx context.Context, p *Publisher, k Key[T], payload T, opts ...PublishOption) error {
	return p.PublishSync(ctx, k.topic, payload, opts...)
}

// TypedHandler wraps fn as a Handler for payloads of type T.
// A payload of any other type fails with ErrPayloadType.
func TypedHandler[T any](fn func(ctx context.Context, payload T) error) Handler {
	return HandlerFunc(func(ctx context.Context, env Envelope) error {
		payload, ok := env.Payload.(T)
		if !ok {
			var want T
			return fmt.Errorf("%w on %s: got %T, want %T", ErrPayloadType, env.Topic, env.Payload, want)
		}
		return fn(ctx, payload)
	})
}

// On subscribes fn to k through s.
func On[T any](s *Subscriber, k Key[T], fn func(ctx context.Context, payload T) error, opts ...SubscriptionOption) (Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return s.Subscribe(k.topic, TypedHandler(fn), opts...)
}
