package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/event/topic"
)

// ServerStats contains responder statistics.
type ServerStats struct {
	Responders  int
	Members     int
	InFlight    int64
	Served      uint64
	Failed      uint64
	Panicked    uint64
	Skipped     uint64
	ReplyErrors uint64
}

// Server hosts responders and group members on a bus.
type Server struct {
	bus    event.Bus
	logger *slog.Logger

	mu         sync.Mutex
	responders map[topic.Topic]*Registration
	members    map[*Registration]struct{}
	closed     bool

	wg       sync.WaitGroup
	inFlight atomic.Int64

	served      atomic.Uint64
	failed      atomic.Uint64
	panicked    atomic.Uint64
	skipped     atomic.Uint64
	replyErrors atomic.Uint64
}

// Registration is a live responder or group membership.
type Registration struct {
	server *Server
	topic  topic.Topic
	name   string
	group  bool
	sub    event.Subscription
	closed atomic.Bool
}

// Topic returns the capability topic.
func (r *Registration) Topic() topic.Topic {
	return r.topic
}

// Name returns the responder name.
func (r *Registration) Name() string {
	return r.name
}

// Close removes the registration. A responder that has since been replaced
// is left alone. Close is safe to call more than once.
func (r *Registration) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.server.remove(r)
}

// NewServer creates a Server on bus.
func NewServer(bus event.Bus, opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		bus:        bus,
		logger:     o.logger.With("component", "rpc.server"),
		responders: make(map[topic.Topic]*Registration),
		members:    make(map[*Registration]struct{}),
	}
}

// Respond makes h the single active responder for t, replacing any
// previous responder. name identifies the responder in replies and logs.
func (s *Server) Respond(t topic.Topic, name string, h Handler) (*Registration, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if !t.IsValid() || t.IsWildcard() {
		return nil, event.ErrInvalidTopic
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	// The previous responder goes first so the call topic never has two.
	if prev, ok := s.responders[t]; ok {
		prev.closed.Store(true)
		_ = s.bus.Unsubscribe(prev.sub)
		delete(s.responders, t)
		s.logger.Debug("responder replaced", "topic", t, "previous", prev.name, "responder", name)
	}

	reg := &Registration{server: s, topic: t, name: name}
	sub, err := s.bus.Subscribe(CallTopic(t), s.serveFunc(reg, h))
	if err != nil {
		return nil, err
	}
	reg.sub = sub
	s.responders[t] = reg

	return reg, nil
}

// Join adds h as a member named name of the fan-out group t.
func (s *Server) Join(t topic.Topic, name string, h Handler) (*Registration, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if !t.IsValid() || t.IsWildcard() {
		return nil, event.ErrInvalidTopic
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	reg := &Registration{server: s, topic: t, name: name, group: true}
	sub, err := s.bus.Subscribe(GroupTopic(t), s.serveFunc(reg, h))
	if err != nil {
		return nil, err
	}
	reg.sub = sub
	s.members[reg] = struct{}{}

	return reg, nil
}

// Serves reports whether t has an active responder.
func (s *Server) Serves(t topic.Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.responders[t]
	return ok
}

// Close removes every registration and waits for in-flight requests to
// finish or for ctx to end.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	regs := make([]*Registration, 0, len(s.responders)+len(s.members))
	for _, r := range s.responders {
		regs = append(regs, r)
	}
	for r := range s.members {
		regs = append(regs, r)
	}
	s.responders = make(map[topic.Topic]*Registration)
	s.members = make(map[*Registration]struct{})
	s.mu.Unlock()

	for _, r := range regs {
		r.closed.Store(true)
		_ = s.bus.Unsubscribe(r.sub)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight requests: %w", ctx.Err())
	}
}

// Stats returns a snapshot of server statistics.
func (s *Server) Stats() ServerStats {
	s.mu.Lock()
	responders, members := len(s.responders), len(s.members)
	s.mu.Unlock()

	return ServerStats{
		Responders:  responders,
		Members:     members,
		InFlight:    s.inFlight.Load(),
		Served:      s.served.Load(),
		Failed:      s.failed.Load(),
		Panicked:    s.panicked.Load(),
		Skipped:     s.skipped.Load(),
		ReplyErrors: s.replyErrors.Load(),
	}
}

func (s *Server) remove(r *Registration) error {
	s.mu.Lock()
	if r.group {
		delete(s.members, r)
	} else if s.responders[r.topic] == r {
		delete(s.responders, r.topic)
	} else {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.bus.Unsubscribe(r.sub); err != nil && !errors.Is(err, event.ErrSubscriptionNotFound) {
		return err
	}
	return nil
}

// serveFunc returns the bus handler for reg. It hands each request to its
// own goroutine and returns immediately.
func (s *Server) serveFunc(reg *Registration, h Handler) event.Handler {
	return event.HandlerFunc(func(ctx context.Context, env event.Envelope) error {
		req, ok := env.Payload.(Request)
		if !ok {
			return fmt.Errorf("%w on %s: got %T", event.ErrPayloadType, env.Topic, env.Payload)
		}

		if reg.group && req.Sender != "" && req.Sender == reg.name {
			s.skipped.Add(1)
			s.reply(req, Reply{CorrelationID: req.CorrelationID, Responder: reg.name, Skipped: true})
			return nil
		}

		s.wg.Add(1)
		s.inFlight.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.inFlight.Add(-1)
			s.reply(req, s.serve(ctx, reg, h, req))
		}()
		return nil
	})
}

func (s *Server) serve(ctx context.Context, reg *Registration, h Handler, req Request) (reply Reply) {
	reply = Reply{CorrelationID: req.CorrelationID, Responder: reg.name}

	ctx = context.WithoutCancel(ctx)
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			s.panicked.Add(1)
			s.logger.Error("responder panicked",
				"topic", req.Topic,
				"responder", reg.name,
				"correlation_id", req.CorrelationID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			reply.Result = nil
			reply.Err = &ResponderError{Topic: req.Topic, Responder: reg.name, Panicked: true, Err: panicError(r)}
		}
	}()

	start := time.Now()
	result, err := h.Serve(ctx, req)
	if err != nil {
		s.failed.Add(1)
		s.logger.Debug("responder failed", "topic", req.Topic, "responder", reg.name, "error", err)
		reply.Err = &ResponderError{Topic: req.Topic, Responder: reg.name, Err: err}
		return reply
	}

	s.served.Add(1)
	s.logger.Debug("request served", "topic", req.Topic, "responder", reg.name, "duration", time.Since(start))
	reply.Result = result
	return reply
}

func (s *Server) reply(req Request, reply Reply) {
	if req.ReplyTo == "" {
		return
	}
	err := s.bus.PublishSync(context.Background(), req.ReplyTo, reply,
		event.Exact(),
		event.WithSource(reply.Responder),
		event.WithCorrelationID(req.CorrelationID),
	)
	if err != nil {
		s.replyErrors.Add(1)
		s.logger.Warn("reply not delivered", "topic", req.Topic, "correlation_id", req.CorrelationID, "error", err)
	}
}
