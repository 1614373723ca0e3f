package component

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/event/binding"
	"github.com/dshills/keyweave/internal/event/events"
	"github.com/dshills/keyweave/internal/event/topic"
	"github.com/dshills/keyweave/internal/rpc"
)

// DefaultHandshakeTimeout bounds the late-join handshake when Env leaves it unset.
const DefaultHandshakeTimeout = 2 * time.Second

// Env is what the host hands every component.
type Env struct {
	Bus              event.Bus
	Client           *rpc.Client
	Server           *rpc.Server
	Logger           *slog.Logger
	HandshakeTimeout time.Duration
}

// Initializer is implemented by components with setup work. OnInit runs
// after the handshake has merged existing state into the cache.
type Initializer interface {
	OnInit(ctx context.Context) error
}

// Destroyer is implemented by components with teardown work.
type Destroyer interface {
	OnDestroy(ctx context.Context) error
}

// StateReporter is implemented by components that answer the handshake with
// something other than their cache. Every reported slot counts as owned. The
// returned map must not be retained by the caller; it is copied before it
// leaves the component.
type StateReporter interface {
	CurrentState() map[string]any
}

// StateReceiver is implemented by components that merge handshake snapshots
// themselves. It must only merge, and merging the same snapshot twice must
// leave the component as merging it once.
type StateReceiver interface {
	HandleInitialState(sender string, state map[string]any)
}

// Base carries the lifecycle, bookkeeping and cache of one component.
type Base struct {
	name   string
	env    Env
	self   any
	logger *slog.Logger

	state atomic.Int32

	sub    *event.Subscriber
	pub    *event.Publisher
	binder *binding.Binder
	cache  *Cache

	mu            sync.Mutex
	registrations []*rpc.Registration
	torn          bool
}

// NewBase creates the base for the component self, which should be the
// struct embedding the returned Base. self may implement Initializer,
// Destroyer, StateReporter and StateReceiver.
func NewBase(name string, env Env, self any) *Base {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.HandshakeTimeout <= 0 {
		env.HandshakeTimeout = DefaultHandshakeTimeout
	}

	logger := env.Logger.With("component", name)
	sub := event.NewSubscriber(env.Bus)

	return &Base{
		name:   name,
		env:    env,
		self:   self,
		logger: logger,
		sub:    sub,
		pub:    event.NewPublisher(env.Bus, name),
		binder: binding.New(sub, logger),
		cache:  NewCache(nil),
	}
}

// Name returns the component name.
func (b *Base) Name() string {
	return b.name
}

// State returns the lifecycle state.
func (b *Base) State() State {
	return State(b.state.Load())
}

// IsActive reports whether Init has completed and Destroy has not run.
func (b *Base) IsActive() bool {
	return b.State() == StateActive
}

// Logger returns the component's logger.
func (b *Base) Logger() *slog.Logger {
	return b.logger
}

// Env returns the environment the component was built with.
func (b *Base) Env() Env {
	return b.env
}

// Cache returns the component's cache.
func (b *Base) Cache() *Cache {
	return b.cache
}

// Publisher returns a publisher stamped with the component name.
func (b *Base) Publisher() *event.Publisher {
	return b.pub
}

// Subscriber returns the subscriber that owns the component's subscriptions.
func (b *Base) Subscriber() *event.Subscriber {
	return b.sub
}

// ExtendCache declares cache slots with their defaults. Slots that already
// exist keep their values.
func (b *Base) ExtendCache(fields map[string]any) {
	b.cache.Extend(fields)
}

// OwnCache declares cache slots this component owns. Owned values win over
// mirrored ones in the handshake, and received state never overwrites them.
func (b *Base) OwnCache(fields map[string]any) {
	b.cache.Own(fields)
}

// Init runs the handshake, then OnInit, then joins the handshake group.
func (b *Base) Init(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateConstructed), int32(StateInitializing)) {
		if b.State() == StateDestroyed {
			return ErrDestroyed
		}
		return ErrAlreadyInitialized
	}

	start := time.Now()
	b.handshake(ctx)

	if init, ok := b.self.(Initializer); ok {
		if err := init.OnInit(ctx); err != nil {
			b.state.CompareAndSwap(int32(StateInitializing), int32(StateFailed))
			return &LifecycleError{Component: b.name, Phase: "init", Err: err}
		}
	}

	if err := b.joinHandshake(); err != nil {
		b.state.CompareAndSwap(int32(StateInitializing), int32(StateFailed))
		return &LifecycleError{Component: b.name, Phase: "join", Err: err}
	}

	if !b.state.CompareAndSwap(int32(StateInitializing), int32(StateActive)) {
		return ErrDestroyed
	}

	b.logger.Debug("component initialized", "duration", time.Since(start))
	_ = event.Emit(ctx, b.pub, events.ComponentInitialized, events.ComponentLifecyclePayload{Name: b.name})
	return nil
}

// Destroy removes every subscription, responder and binding this component
// registered, runs OnDestroy when Init was started, and drops the cache. It
// is safe from any state and safe to call more than once.
func (b *Base) Destroy(ctx context.Context) error {
	prev := State(b.state.Swap(int32(StateDestroyed)))
	if prev == StateDestroyed {
		return nil
	}

	b.teardown()

	var err error
	if prev != StateConstructed {
		if d, ok := b.self.(Destroyer); ok {
			if derr := d.OnDestroy(ctx); derr != nil {
				err = &LifecycleError{Component: b.name, Phase: "destroy", Err: derr}
			}
		}
	}

	b.cache.drop()

	if prev == StateActive {
		_ = event.Emit(ctx, b.pub, events.ComponentDestroyed, events.ComponentLifecyclePayload{Name: b.name})
	}
	b.logger.Debug("component destroyed", "previous_state", prev)
	return err
}

func (b *Base) teardown() {
	b.mu.Lock()
	regs := b.registrations
	b.registrations = nil
	b.torn = true
	b.mu.Unlock()

	for _, r := range regs {
		if err := r.Close(); err != nil {
			b.logger.Debug("closing registration", "topic", r.Topic(), "error", err)
		}
	}
	b.binder.Close()
	_ = b.sub.Close()
}

// AddEventListener subscribes handler to pattern on behalf of this component.
func (b *Base) AddEventListener(pattern topic.Topic, handler event.Handler, opts ...event.SubscriptionOption) (event.Subscription, error) {
	return b.sub.Subscribe(pattern, handler, opts...)
}

// RemoveEventListener removes one of this component's subscriptions.
func (b *Base) RemoveEventListener(sub event.Subscription) error {
	return b.sub.Unsubscribe(sub)
}

// On subscribes a typed handler on behalf of b.
func On[T any](b *Base, key event.Key[T], fn func(ctx context.Context, payload T) error, opts ...event.SubscriptionOption) (event.Subscription, error) {
	return event.On(b.sub, key, fn, opts...)
}

// Respond registers h as the responder for t on behalf of this component.
func (b *Base) Respond(t topic.Topic, h rpc.Handler) (*rpc.Registration, error) {
	if b.env.Server == nil {
		return nil, ErrNoRPC
	}
	reg, err := b.env.Server.Respond(t, b.name, h)
	if err != nil {
		return nil, err
	}
	if err := b.track(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Bind subscribes handler to pattern under an idempotent key.
func (b *Base) Bind(key string, pattern topic.Topic, handler event.Handler, opts ...event.SubscriptionOption) (bool, error) {
	return b.binder.Bind(key, pattern, handler, opts...)
}

// Attach registers fn on an external source under an idempotent key.
func (b *Base) Attach(key string, src binding.Source, name string, fn func(payload any)) (bool, error) {
	return b.binder.Attach(key, src, name, fn)
}

// Forward republishes an external source's events on t under an idempotent key.
func (b *Base) Forward(key string, src binding.Source, name string, t topic.Topic) (bool, error) {
	return b.binder.Forward(key, src, name, b.pub, t)
}

// Emit publishes asynchronously with the component as source.
func (b *Base) Emit(ctx context.Context, t topic.Topic, payload any) error {
	return b.pub.Publish(ctx, t, payload)
}

// EmitSync publishes with barrier semantics with the component as source.
func (b *Base) EmitSync(ctx context.Context, t topic.Topic, payload any) error {
	return b.pub.PublishSync(ctx, t, payload)
}

// Request calls a capability with the component as sender.
func (b *Base) Request(ctx context.Context, t topic.Topic, payload any, opts ...rpc.RequestOption) (any, error) {
	if b.env.Client == nil {
		return nil, ErrNoRPC
	}
	opts = append([]rpc.RequestOption{rpc.WithSender(b.name)}, opts...)
	return b.env.Client.Request(ctx, t, payload, opts...)
}

// track records reg for removal on Destroy. A registration made after
// teardown is closed at once.
func (b *Base) track(reg *rpc.Registration) error {
	b.mu.Lock()
	if !b.torn {
		b.registrations = append(b.registrations, reg)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := reg.Close(); err != nil && !errors.Is(err, event.ErrSubscriptionNotFound) {
		b.logger.Debug("closing late registration", "topic", reg.Topic(), "error", err)
	}
	return ErrDestroyed
}
