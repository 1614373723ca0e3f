package event

import (
	"context"

	"github.com/dshills/keyweave/internal/event/topic"
)

// Publisher stamps a fixed source on everything it publishes.
type Publisher struct {
	bus    Bus
	source string
}

// NewPublisher creates a Publisher for the named source.
func NewPublisher(bus Bus, source string) *Publisher {
	return &Publisher{
		bus:    bus,
		source: source,
	}
}

// Publish delivers asynchronously.
func (p *Publisher) Publish(ctx context.Context, t topic.Topic, payload any, opts ...PublishOption) error {
	return p.bus.Publish(ctx, t, payload, p.withSource(opts)...)
}

// PublishSync delivers with barrier semantics.
func (p *Publisher) PublishSync(ctx context.Context, t topic.Topic, payload any, opts ...PublishOption) error {
	return p.bus.PublishSync(ctx, t, payload, p.withSource(opts)...)
}

// PublishWithCorrelation publishes asynchronously with a correlation ID.
func (p *Publisher) PublishWithCorrelation(ctx context.Context, t topic.Topic, payload any, correlationID string) error {
	return p.Publish(ctx, t, payload, WithCorrelationID(correlationID))
}

// Source returns the publisher's source identifier.
func (p *Publisher) Source() string {
	return p.source
}

// Bus returns the underlying bus.
func (p *Publisher) Bus() Bus {
	return p.bus
}

func (p *Publisher) withSource(opts []PublishOption) []PublishOption {
	// Source goes first so callers can still override it.
	return append([]PublishOption{WithSource(p.source)}, opts...)
}
