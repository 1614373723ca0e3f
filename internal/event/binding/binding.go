package binding

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/event/topic"
)

var (
	// ErrClosed is returned when binding through a closed Binder.
	ErrClosed = errors.New("binder is closed")

	// ErrEmptyKey is returned when a binding key is empty.
	ErrEmptyKey = errors.New("binding key cannot be empty")

	// ErrNilSource is returned when attaching to a nil Source.
	ErrNilSource = errors.New("source cannot be nil")

	// ErrNilListener is returned when attaching a nil listener.
	ErrNilListener = errors.New("listener cannot be nil")
)

// Source is anything outside the bus that emits named events.
type Source interface {
	// AddListener registers fn for the named event and returns a function
	// that removes it.
	AddListener(name string, fn func(payload any)) (remove func())
}

// SourceFunc adapts a function to Source.
type SourceFunc func(name string, fn func(payload any)) (remove func())

// AddListener implements Source.
func (f SourceFunc) AddListener(name string, fn func(payload any)) func() {
	return f(name, fn)
}

type entry struct {
	sub    event.Subscription
	remove func()
}

// Binder tracks key-addressed bindings for one owner.
type Binder struct {
	sub    *event.Subscriber
	logger *slog.Logger

	mu       sync.Mutex
	bindings map[string]entry
	closed   bool
}

// New creates a Binder that subscribes through sub.
func New(sub *event.Subscriber, logger *slog.Logger) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{
		sub:      sub,
		logger:   logger,
		bindings: make(map[string]entry),
	}
}

// Bind subscribes handler to pattern under key. It returns false without
// subscribing when key is already bound.
func (b *Binder) Bind(key string, pattern topic.Topic, handler event.Handler, opts ...event.SubscriptionOption) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false, ErrClosed
	}
	if _, ok := b.bindings[key]; ok {
		return false, nil
	}

	sub, err := b.sub.Subscribe(pattern, handler, opts...)
	if err != nil {
		return false, err
	}
	b.bindings[key] = entry{sub: sub}
	return true, nil
}

// Attach registers fn on src for the named event under key. It returns false
// without attaching when key is already bound.
func (b *Binder) Attach(key string, src Source, name string, fn func(payload any)) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if src == nil {
		return false, ErrNilSource
	}
	if fn == nil {
		return false, ErrNilListener
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false, ErrClosed
	}
	if _, ok := b.bindings[key]; ok {
		return false, nil
	}

	remove := src.AddListener(name, fn)
	b.bindings[key] = entry{remove: remove}
	return true, nil
}

// Forward attaches a listener on src that publishes each payload on t.
func (b *Binder) Forward(key string, src Source, name string, pub *event.Publisher, t topic.Topic) (bool, error) {
	if pub == nil {
		return false, ErrNilListener
	}
	return b.Attach(key, src, name, func(payload any) {
		if err := pub.Publish(context.Background(), t, payload); err != nil {
			b.logger.Warn("forward failed", "key", key, "source_event", name, "topic", t, "error", err)
		}
	})
}

// Unbind removes the binding under key. It reports whether one existed.
func (b *Binder) Unbind(key string) bool {
	b.mu.Lock()
	e, ok := b.bindings[key]
	if ok {
		delete(b.bindings, key)
	}
	b.mu.Unlock()

	if ok {
		b.release(key, e)
	}
	return ok
}

// Has reports whether key is bound.
func (b *Binder) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.bindings[key]
	return ok
}

// Len returns the number of bindings.
func (b *Binder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bindings)
}

// Keys returns the bound keys in sorted order.
func (b *Binder) Keys() []string {
	b.mu.Lock()
	keys := make([]string, 0, len(b.bindings))
	for k := range b.bindings {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Close removes every binding and rejects new ones. Safe to call twice.
func (b *Binder) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	bindings := b.bindings
	b.bindings = make(map[string]entry)
	b.mu.Unlock()

	for key, e := range bindings {
		b.release(key, e)
	}
}

func (b *Binder) release(key string, e entry) {
	if e.remove != nil {
		e.remove()
	}
	if e.sub != nil {
		if err := b.sub.Unsubscribe(e.sub); err != nil && !errors.Is(err, event.ErrSubscriptionNotFound) {
			b.logger.Debug("unbind failed", "key", key, "error", err)
		}
	}
}
