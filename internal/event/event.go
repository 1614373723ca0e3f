package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/dshills/keyweave/internal/event/topic"
)

// Envelope is what handlers receive: the topic, the opaque payload and the
// metadata stamped at publish time.
type Envelope struct {
	// Topic is the concrete topic the message was published on.
	Topic topic.Topic

	// Payload is the type-erased message body.
	Payload any

	// Metadata is stamped by the bus at publish time.
	Metadata Metadata
}

// Metadata contains standard information attached to every message.
type Metadata struct {
	// ID is a unique identifier for this message.
	ID string

	// Timestamp is when the message was published.
	Timestamp time.Time

	// Source names the component that published the message.
	Source string

	// CorrelationID links related messages, such as an RPC call and its reply.
	CorrelationID string
}

// timeNow is a variable to allow testing with fixed timestamps.
var timeNow = time.Now

func newEnvelope(t topic.Topic, payload any, meta Metadata) Envelope {
	if meta.ID == "" {
		meta.ID = generateID()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = timeNow()
	}
	return Envelope{
		Topic:    t,
		Payload:  payload,
		Metadata: meta,
	}
}

// generateID returns a new random identifier.
func generateID() string {
	return uuid.NewString()
}
