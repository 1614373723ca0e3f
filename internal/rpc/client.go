package rpc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/event/topic"
)

// ClientStats contains request statistics.
type ClientStats struct {
	Requests          uint64
	Succeeded         uint64
	NoResponder       uint64
	Timeouts          uint64
	ResponderFailures uint64
	LateReplies       uint64
	Pending           int
}

// Client issues requests and gathers group replies.
type Client struct {
	id         string
	bus        event.Bus
	replyTopic topic.Topic
	replySub   event.Subscription
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
	done    chan struct{}

	requests          atomic.Uint64
	succeeded         atomic.Uint64
	noResponder       atomic.Uint64
	timeouts          atomic.Uint64
	responderFailures atomic.Uint64
	lateReplies       atomic.Uint64
}

type pendingCall struct {
	topic     topic.Topic
	createdAt time.Time

	mu      sync.Mutex
	replies []Reply
	ready   chan struct{}
}

func (p *pendingCall) add(r Reply) {
	p.mu.Lock()
	p.replies = append(p.replies, r)
	p.mu.Unlock()

	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *pendingCall) take() []Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	replies := p.replies
	p.replies = nil
	return replies
}

// NewClient creates a Client and subscribes its private reply topic.
func NewClient(bus event.Bus, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		id:      uuid.NewString(),
		bus:     bus,
		timeout: o.timeout,
		pending: make(map[string]*pendingCall),
		done:    make(chan struct{}),
	}
	c.replyTopic = ReplyTopic(c.id)
	c.logger = o.logger.With("component", "rpc.client", "client_id", c.id)

	sub, err := bus.Subscribe(c.replyTopic, event.HandlerFunc(c.handleReply))
	if err != nil {
		return nil, err
	}
	c.replySub = sub

	return c, nil
}

// ID returns the client identifier.
func (c *Client) ID() string {
	return c.id
}

// Timeout returns the default request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Request calls the responder for t and waits for its reply.
//
// It fails fast with ErrNoResponder when t has no responder, and with
// ErrTimeout when no reply arrives in time. A responder failure is returned
// as a *ResponderError.
func (c *Client) Request(ctx context.Context, t topic.Topic, payload any, opts ...RequestOption) (any, error) {
	cfg := c.requestConfig(opts)
	c.requests.Add(1)

	if c.bus.ExactSubscriberCount(CallTopic(t)) == 0 {
		c.noResponder.Add(1)
		return nil, &RequestError{Topic: t, Err: ErrNoResponder}
	}

	id, p, err := c.register(t)
	if err != nil {
		return nil, &RequestError{Topic: t, Err: err}
	}
	defer c.unregister(id)

	timer := time.NewTimer(cfg.timeout)
	defer timer.Stop()

	delivered, err := c.send(ctx, CallTopic(t), c.newRequest(id, t, payload, cfg))
	if err != nil {
		return nil, &RequestError{Topic: t, CorrelationID: id, Err: err}
	}
	if delivered == 0 {
		// The responder left between the check and the publish.
		c.noResponder.Add(1)
		return nil, &RequestError{Topic: t, CorrelationID: id, Err: ErrNoResponder}
	}

	select {
	case <-p.ready:
		reply := p.take()[0]
		if reply.Err != nil {
			c.responderFailures.Add(1)
			return nil, reply.Err
		}
		c.succeeded.Add(1)
		return reply.Result, nil
	case <-timer.C:
		c.timeouts.Add(1)
		c.logger.Warn("request timed out", "topic", t, "correlation_id", id, "timeout", cfg.timeout)
		return nil, &RequestError{Topic: t, CorrelationID: id, Err: ErrTimeout}
	case <-ctx.Done():
		return nil, &RequestError{Topic: t, CorrelationID: id, Err: ctx.Err()}
	case <-c.done:
		return nil, &RequestError{Topic: t, CorrelationID: id, Err: ErrClosed}
	}
}

// Gather calls every member of the group t that the request reaches and
// returns the replies received before the timeout, in arrival order. The
// number of replies waited for is the number of members the publish was
// delivered to. With no members it returns nothing and no error. On timeout
// it returns the replies received so far together with ErrTimeout.
func (c *Client) Gather(ctx context.Context, t topic.Topic, payload any, opts ...RequestOption) ([]Reply, error) {
	cfg := c.requestConfig(opts)
	c.requests.Add(1)

	if c.bus.ExactSubscriberCount(GroupTopic(t)) == 0 {
		return nil, nil
	}

	id, p, err := c.register(t)
	if err != nil {
		return nil, &RequestError{Topic: t, Err: err}
	}
	defer c.unregister(id)

	timer := time.NewTimer(cfg.timeout)
	defer timer.Stop()

	members, err := c.send(ctx, GroupTopic(t), c.newRequest(id, t, payload, cfg))
	if err != nil {
		return nil, &RequestError{Topic: t, CorrelationID: id, Err: err}
	}
	if members == 0 {
		return nil, nil
	}

	replies := make([]Reply, 0, members)
	for received := 0; received < members; {
		select {
		case <-p.ready:
			for _, reply := range p.take() {
				if received == members {
					break
				}
				received++
				if reply.Skipped {
					continue
				}
				if reply.Err != nil {
					c.responderFailures.Add(1)
				}
				replies = append(replies, reply)
			}
		case <-timer.C:
			c.timeouts.Add(1)
			c.logger.Warn("gather timed out", "topic", t, "correlation_id", id, "members", members, "received", received)
			return replies, &RequestError{Topic: t, CorrelationID: id, Err: ErrTimeout}
		case <-ctx.Done():
			return replies, &RequestError{Topic: t, CorrelationID: id, Err: ctx.Err()}
		case <-c.done:
			return replies, &RequestError{Topic: t, CorrelationID: id, Err: ErrClosed}
		}
	}

	c.succeeded.Add(1)
	return replies, nil
}

// RequestWhenReady is Request that, when t has no responder yet, waits for
// one publish on ready and then tries exactly once more. The wait is bounded
// only by ctx.
func (c *Client) RequestWhenReady(ctx context.Context, t topic.Topic, payload any, ready topic.Topic, opts ...RequestOption) (any, error) {
	readyCh := make(chan struct{})
	var once sync.Once
	sub, err := c.bus.Subscribe(ready, event.HandlerFunc(func(context.Context, event.Envelope) error {
		once.Do(func() { close(readyCh) })
		return nil
	}), event.WithOnce())
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.bus.Unsubscribe(sub) }()

	result, err := c.Request(ctx, t, payload, opts...)
	if !errors.Is(err, ErrNoResponder) {
		return result, err
	}

	c.logger.Debug("deferring request until ready", "topic", t, "ready", ready)
	select {
	case <-readyCh:
	case <-ctx.Done():
		return nil, &RequestError{Topic: t, Err: ctx.Err()}
	case <-c.done:
		return nil, &RequestError{Topic: t, Err: ErrClosed}
	}

	return c.Request(ctx, t, payload, opts...)
}

// Close stops the client. Waiting requests fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	if err := c.bus.Unsubscribe(c.replySub); err != nil && !errors.Is(err, event.ErrSubscriptionNotFound) {
		return err
	}
	return nil
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()

	return ClientStats{
		Requests:          c.requests.Load(),
		Succeeded:         c.succeeded.Load(),
		NoResponder:       c.noResponder.Load(),
		Timeouts:          c.timeouts.Load(),
		ResponderFailures: c.responderFailures.Load(),
		LateReplies:       c.lateReplies.Load(),
		Pending:           pending,
	}
}

func (c *Client) requestConfig(opts []RequestOption) requestConfig {
	cfg := requestConfig{timeout: c.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c *Client) newRequest(id string, t topic.Topic, payload any, cfg requestConfig) Request {
	now := time.Now()
	return Request{
		CorrelationID: id,
		Topic:         t,
		Payload:       payload,
		Sender:        cfg.sender,
		ReplyTo:       c.replyTopic,
		CreatedAt:     now,
		Deadline:      now.Add(cfg.timeout),
	}
}

// send publishes the request synchronously to the subscriptions registered
// on exactly t and returns how many responders it reached. Responders only
// hand the request to a goroutine, so this never waits on responder work.
func (c *Client) send(ctx context.Context, t topic.Topic, req Request) (int, error) {
	var delivered int
	err := c.bus.PublishSync(ctx, t, req,
		event.Exact(),
		event.Delivered(&delivered),
		event.WithSource(req.Sender),
		event.WithCorrelationID(req.CorrelationID),
	)
	return delivered, err
}

func (c *Client) register(t topic.Topic) (string, *pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", nil, ErrClosed
	}

	id := uuid.NewString()
	p := &pendingCall{
		topic:     t,
		createdAt: time.Now(),
		ready:     make(chan struct{}, 1),
	}
	c.pending[id] = p
	return id, p, nil
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) handleReply(_ context.Context, env event.Envelope) error {
	reply, ok := env.Payload.(Reply)
	if !ok {
		return nil
	}

	c.mu.Lock()
	p, ok := c.pending[reply.CorrelationID]
	c.mu.Unlock()

	if !ok {
		c.lateReplies.Add(1)
		c.logger.Debug("late reply dropped", "correlation_id", reply.CorrelationID, "responder", reply.Responder)
		return nil
	}

	p.add(reply)
	return nil
}
