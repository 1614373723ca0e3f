package rpc

import (
	"context"
	"time"

	"github.com/dshills/keyweave/internal/event/topic"
)

// Internal topic roots.
const (
	callRoot  topic.Topic = "rpc.call"
	groupRoot topic.Topic = "rpc.group"
	replyRoot topic.Topic = "rpc.reply"
)

// CallTopic is the bus topic requests for t are published on.
func CallTopic(t topic.Topic) topic.Topic {
	return topic.Join(callRoot.String(), t.String())
}

// GroupTopic is the bus topic fan-out calls for t are published on.
func GroupTopic(t topic.Topic) topic.Topic {
	return topic.Join(groupRoot.String(), t.String())
}

// ReplyTopic is the private reply topic of the client with the given ID.
func ReplyTopic(clientID string) topic.Topic {
	return replyRoot.Child(clientID)
}

// Request is the call envelope. Responders receive it as-is.
type Request struct {
	CorrelationID string
	Topic         topic.Topic
	Payload       any
	Sender        string
	ReplyTo       topic.Topic
	CreatedAt     time.Time
	Deadline      time.Time
}

// Reply is the answer to one Request.
type Reply struct {
	CorrelationID string
	Responder     string
	Result        any
	Err           error

	// Skipped is set by group members that declined a request from
	// themselves. Gather does not return skipped replies.
	Skipped bool
}

// Handler serves requests on a capability topic.
type Handler interface {
	Serve(ctx context.Context, req Request) (any, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Serve implements Handler.
func (f HandlerFunc) Serve(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}
