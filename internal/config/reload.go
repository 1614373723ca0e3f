package config

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dshills/keyweave/internal/config/watcher"
	"github.com/dshills/keyweave/internal/event"
)

// Reload broadcasts.
var (
	// Reloaded is published after the config file was reloaded and validated.
	Reloaded = event.NewKey[ReloadedPayload]("config.reloaded")

	// ReloadFailed is published when a changed config file does not load.
	ReloadFailed = event.NewKey[ReloadFailedPayload]("config.reload_failed")
)

// ReloadedPayload carries the new and the previous configuration.
type ReloadedPayload struct {
	Path     string
	Config   *Config
	Previous *Config
}

// ReloadFailedPayload carries the reason a reload was rejected.
type ReloadFailedPayload struct {
	Path string
	Err  error
}

// Reloader keeps the current configuration in sync with its file.
type Reloader struct {
	path    string
	pub     *event.Publisher
	logger  *slog.Logger
	opts    []LoadOption
	watcher *watcher.Watcher

	mu      sync.RWMutex
	current *Config
	closed  bool
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithReloadLogger sets the logger.
func WithReloadLogger(logger *slog.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLoadOptions sets the options every reload passes to Load.
func WithLoadOptions(opts ...LoadOption) ReloaderOption {
	return func(r *Reloader) {
		r.opts = opts
	}
}

// NewReloader creates a Reloader for path starting from initial. It does
// not watch until Start is called.
func NewReloader(path string, initial *Config, bus event.Bus, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		path:    path,
		pub:     event.NewPublisher(bus, "config"),
		logger:  slog.Default(),
		current: initial,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "config.reloader", "path", path)
	return r
}

// Start watches the config file.
func (r *Reloader) Start(opts ...watcher.Option) error {
	opts = append([]watcher.Option{watcher.WithErrorHandler(func(err error) {
		r.logger.Warn("config watcher error", "error", err)
	})}, opts...)

	w, err := watcher.New(opts...)
	if err != nil {
		return err
	}
	if err := w.Watch(r.path); err != nil {
		_ = w.Close()
		return err
	}
	w.OnChange(func(e watcher.Event) {
		if e.Op == watcher.OpRemove || e.Op == watcher.OpRename {
			r.logger.Debug("config file gone, keeping current config", "op", e.Op)
			return
		}
		_ = r.Reload(context.Background())
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = w.Close()
		return ErrReloaderClosed
	}
	r.watcher = w
	return nil
}

// Current returns the configuration in effect.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Reload loads the file now. On failure the current configuration stays
// in effect and ReloadFailed is published.
func (r *Reloader) Reload(ctx context.Context) error {
	cfg, err := Load(r.path, r.opts...)
	if err != nil {
		r.logger.Warn("config reload rejected", "error", err)
		_ = event.Emit(ctx, r.pub, ReloadFailed, ReloadFailedPayload{Path: r.path, Err: err})
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrReloaderClosed
	}
	prev := r.current
	r.current = cfg
	r.mu.Unlock()

	r.logger.Info("config reloaded")
	return event.Emit(ctx, r.pub, Reloaded, ReloadedPayload{Path: r.path, Config: cfg, Previous: prev})
}

// Close stops watching. Safe to call more than once.
func (r *Reloader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	w := r.watcher
	r.mu.Unlock()

	if w != nil {
		return w.Close()
	}
	return nil
}
