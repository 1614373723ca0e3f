package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dshills/keyweave/internal/event/dispatch"
	"github.com/dshills/keyweave/internal/event/topic"
)

// Bus is the shared message bus.
type Bus interface {
	// Publish delivers payload to every current subscriber of t without
	// blocking the caller. Handlers run in subscription order on a worker;
	// their errors and panics are reported, never returned. With the
	// Synchronous option it behaves like PublishSync.
	Publish(ctx context.Context, t topic.Topic, payload any, opts ...PublishOption) error

	// PublishSync invokes every current subscriber of t in the caller's
	// goroutine, in subscription order, waiting for each to finish before the
	// next starts. The first handler error or panic stops delivery and is
	// returned.
	PublishSync(ctx context.Context, t topic.Topic, payload any, opts ...PublishOption) error

	// Subscribe registers handler for a topic or wildcard pattern. The handler
	// is never invoked during registration.
	Subscribe(pattern topic.Topic, handler Handler, opts ...SubscriptionOption) (Subscription, error)

	// SubscribeFunc is Subscribe for a plain function.
	SubscribeFunc(pattern topic.Topic, fn HandlerFunc, opts ...SubscriptionOption) (Subscription, error)

	// Unsubscribe removes exactly the registration behind sub.
	Unsubscribe(sub Subscription) error

	// HasSubscribers reports whether a publish on t would reach anyone.
	HasSubscribers(t topic.Topic) bool

	// SubscriberCount returns how many active subscriptions match t.
	SubscriberCount(t topic.Topic) int

	// ExactSubscriberCount returns how many active subscriptions are
	// registered on exactly t, ignoring wildcard patterns.
	ExactSubscriberCount(t topic.Topic) int

	Start() error
	Stop(ctx context.Context) error
	Pause()
	Resume()

	Stats() Stats
	IsRunning() bool
	IsPaused() bool
}

type bus struct {
	registry *Registry

	syncDispatcher  *dispatch.SyncDispatcher
	asyncDispatcher *dispatch.AsyncDispatcher

	running atomic.Bool
	paused  atomic.Bool
	seq     atomic.Uint64

	config busConfig
	logger *slog.Logger

	messagesPublished atomic.Uint64
	messagesDropped   atomic.Uint64
}

// NewBus creates a new event bus with the given options.
func NewBus(opts ...BusOption) Bus {
	config := defaultBusConfig()
	for _, opt := range opts {
		opt(&config)
	}

	b := &bus{
		registry: NewRegistry(),
		config:   config,
		logger:   config.logger.With("component", "event.bus"),
	}

	b.syncDispatcher = dispatch.NewSyncDispatcher()
	b.asyncDispatcher = dispatch.NewAsyncDispatcher(
		dispatch.WithQueueSize(config.asyncQueueSize),
		dispatch.WithWorkerCount(config.asyncWorkerCount),
		dispatch.WithAsyncTimeout(config.handlerTimeout),
		dispatch.WithAsyncErrorHandler(b.reportAsyncError),
		dispatch.WithAsyncPanicHandler(b.reportAsyncPanic),
	)

	return b
}

// Start starts the async worker pool.
func (b *bus) Start() error {
	if b.running.Load() {
		return ErrBusAlreadyRunning
	}
	if err := b.asyncDispatcher.Start(); err != nil {
		return err
	}
	b.running.Store(true)
	return nil
}

// Stop stops the bus, waiting for queued async deliveries to finish or for
// ctx to end.
func (b *bus) Stop(ctx context.Context) error {
	if !b.running.Swap(false) {
		return ErrBusNotRunning
	}
	return b.asyncDispatcher.Stop(ctx)
}

// Pause drops publishes until Resume is called.
func (b *bus) Pause() {
	b.paused.Store(true)
}

// Resume restarts delivery after a pause.
func (b *bus) Resume() {
	b.paused.Store(false)
}

func (b *bus) IsRunning() bool {
	return b.running.Load()
}

func (b *bus) IsPaused() bool {
	return b.paused.Load()
}

func (b *bus) Publish(ctx context.Context, t topic.Topic, payload any, opts ...PublishOption) error {
	cfg := publishConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.synchronous {
		return b.publishSync(ctx, t, payload, cfg)
	}
	return b.publishAsync(ctx, t, payload, cfg)
}

func (b *bus) PublishSync(ctx context.Context, t topic.Topic, payload any, opts ...PublishOption) error {
	cfg := publishConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return b.publishSync(ctx, t, payload, cfg)
}

func (b *bus) publishSync(ctx context.Context, t topic.Topic, payload any, cfg publishConfig) error {
	var invoked int
	if cfg.delivered != nil {
		defer func() { *cfg.delivered = invoked }()
	}

	env, subs, err := b.prepare(t, payload, cfg)
	if err != nil || len(subs) == 0 {
		return err
	}

	handlers, targets := b.deliverers(env, subs, &invoked)
	if len(handlers) == 0 {
		return nil
	}

	results := b.syncDispatcher.DispatchUntilError(ctx, env, handlers)

	last := results[len(results)-1]
	if last.IsSuccess() {
		return nil
	}

	failed := targets[len(results)-1]
	switch {
	case last.Panicked:
		return &PanicError{
			SubscriptionID: failed.ID(),
			Topic:          t.String(),
			Value:          last.PanicValue,
			Stack:          string(last.PanicStack),
		}
	case last.Skipped:
		return last.Error
	default:
		return &HandlerError{
			SubscriptionID: failed.ID(),
			Topic:          t.String(),
			Err:            last.Error,
		}
	}
}

func (b *bus) publishAsync(ctx context.Context, t topic.Topic, payload any, cfg publishConfig) error {
	if cfg.delivered != nil {
		*cfg.delivered = 0
	}

	env, subs, err := b.prepare(t, payload, cfg)
	if err != nil || len(subs) == 0 {
		return err
	}

	handlers, _ := b.deliverers(env, subs, nil)
	if len(handlers) == 0 {
		return nil
	}

	if err := b.asyncDispatcher.Enqueue(ctx, env, handlers...); err != nil {
		b.messagesDropped.Add(1)
		b.logger.Warn("async delivery dropped", "topic", t, "subscribers", len(handlers), "error", err)
		if errors.Is(err, dispatch.ErrQueueFull) {
			return ErrQueueFull
		}
		return err
	}
	if cfg.delivered != nil {
		*cfg.delivered = len(handlers)
	}
	return nil
}

// prepare validates the publish and snapshots the matching subscriptions.
func (b *bus) prepare(t topic.Topic, payload any, cfg publishConfig) (Envelope, []*subscription, error) {
	if !b.running.Load() {
		return Envelope{}, nil, ErrBusNotRunning
	}
	if !t.IsValid() {
		return Envelope{}, nil, ErrInvalidTopic
	}
	if t.IsWildcard() {
		return Envelope{}, nil, ErrWildcardPublish
	}
	if b.paused.Load() {
		return Envelope{}, nil, nil
	}

	var subs []*subscription
	if cfg.exact {
		subs = b.registry.MatchExact(t)
	} else {
		subs = b.registry.MatchActive(t)
	}
	if len(subs) == 0 {
		return Envelope{}, nil, nil
	}

	b.messagesPublished.Add(1)
	return newEnvelope(t, payload, cfg.meta), subs, nil
}

// deliverers turns a subscription snapshot into the ordered handler list for
// one publish. Filters run here, and once-subscriptions are claimed and
// removed so that no other publish can deliver to them again. When invoked
// is set it counts the handlers that actually run.
func (b *bus) deliverers(env Envelope, subs []*subscription, invoked *int) ([]dispatch.Handler, []*subscription) {
	handlers := make([]dispatch.Handler, 0, len(subs))
	targets := make([]*subscription, 0, len(subs))

	for _, sub := range subs {
		if !sub.accepts(env) {
			continue
		}

		claimed := false
		if sub.Config().Once {
			if !sub.claimOnce() {
				continue
			}
			b.registry.Remove(sub.ID())
			claimed = true
		}

		handlers = append(handlers, sub.deliverer(claimed, invoked))
		targets = append(targets, sub)
	}

	return handlers, targets
}

func (b *bus) Subscribe(pattern topic.Topic, handler Handler, opts ...SubscriptionOption) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if !pattern.IsValid() {
		return nil, ErrInvalidTopic
	}

	sub := newSubscription(generateID(), b.seq.Add(1), pattern, handler, opts...)
	b.registry.Add(sub)

	return sub, nil
}

func (b *bus) SubscribeFunc(pattern topic.Topic, fn HandlerFunc, opts ...SubscriptionOption) (Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return b.Subscribe(pattern, fn, opts...)
}

// Unsubscribe cancels sub and removes it from the registry. A delivery that
// was already snapshotted but has not reached sub yet will skip it.
func (b *bus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return ErrInvalidSubscription
	}

	if s, ok := sub.(*subscription); ok {
		s.cancel()
	}
	if !b.registry.Remove(sub.ID()) {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (b *bus) HasSubscribers(t topic.Topic) bool {
	return len(b.registry.MatchActive(t)) > 0
}

func (b *bus) SubscriberCount(t topic.Topic) int {
	return len(b.registry.MatchActive(t))
}

func (b *bus) ExactSubscriberCount(t topic.Topic) int {
	return b.registry.CountByTopic(t)
}

func (b *bus) Stats() Stats {
	asyncStats := b.asyncDispatcher.Stats()
	syncStats := b.syncDispatcher.Stats()

	return Stats{
		MessagesPublished:   b.messagesPublished.Load(),
		MessagesDropped:     b.messagesDropped.Load(),
		HandlersExecuted:    syncStats.Dispatched - syncStats.Skipped + asyncStats.Succeeded + asyncStats.Failed + asyncStats.Panicked,
		HandlersSucceeded:   syncStats.Succeeded + asyncStats.Succeeded,
		HandlerErrors:       syncStats.Failed + asyncStats.Failed,
		HandlerPanics:       syncStats.Panicked + asyncStats.Panicked,
		ActiveSubscriptions: b.registry.CountActive(),
		QueueDepth:          asyncStats.QueueDepth,
	}
}

func (b *bus) reportAsyncError(msg any, err error) {
	env, _ := msg.(Envelope)
	b.logger.Error("async handler failed",
		"topic", env.Topic,
		"message_id", env.Metadata.ID,
		"source", env.Metadata.Source,
		"error", err,
	)
	if b.config.errorHandler != nil {
		b.config.errorHandler(env, err)
	}
}

func (b *bus) reportAsyncPanic(msg any, value any, stack []byte) {
	env, _ := msg.(Envelope)
	b.logger.Error("async handler panicked",
		"topic", env.Topic,
		"message_id", env.Metadata.ID,
		"panic", value,
		"stack", string(stack),
	)
	if b.config.errorHandler != nil {
		b.config.errorHandler(env, fmt.Errorf("%w: %v", ErrHandlerPanic, value))
	}
}
