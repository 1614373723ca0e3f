package rpc

import (
	"context"
	"fmt"

	"github.com/dshills/keyweave/internal/event/topic"
)

// Handle adapts a typed function to Handler. A request whose payload is not
// a Req fails with ErrRequestType.
func Handle[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) Handler {
	return HandlerFunc(func(ctx context.Context, r Request) (any, error) {
		req, ok := r.Payload.(Req)
		if !ok {
			var want Req
			return nil, fmt.Errorf("%w on %s: got %T, want %T", ErrRequestType, r.Topic, r.Payload, want)
		}
		return fn(ctx, req)
	})
}

// Call issues a typed request. A nil result yields the zero Resp.
func Call[Req, Resp any](ctx context.Context, c *Client, t topic.Topic, req Req, opts ...RequestOption) (Resp, error) {
	var zero Resp

	result, err := c.Request(ctx, t, req, opts...)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}

	resp, ok := result.(Resp)
	if !ok {
		return zero, fmt.Errorf("%w from %s: got %T, want %T", ErrResultType, t, result, zero)
	}
	return resp, nil
}
