// Package app hosts the editor's components. It owns the bus, the rpc
// client and server, the logger and the configuration, and drives every
// component through Init and Destroy.
package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dshills/keyweave/internal/component"
	"github.com/dshills/keyweave/internal/config"
	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/metrics"
	"github.com/dshills/keyweave/internal/rpc"
)

// Component is what the application manages. Anything embedding
// *component.Base satisfies it.
type Component interface {
	Name() string
	Init(ctx context.Context) error
	Destroy(ctx context.Context) error
}

// Options configures the application.
type Options struct {
	// Config is the starting configuration. Defaults to config.Default().
	Config *config.Config

	// ConfigPath enables live reload of the given file when set.
	ConfigPath string

	// Logger overrides the logger built from Config.Log.
	Logger *slog.Logger

	// LogLevel is adjusted on config reloads when the logger was built
	// from Config.Log.
	LogLevel *slog.LevelVar
}

// Application is the central coordinator for all components.
type Application struct {
	mu sync.RWMutex

	cfg        *config.Config
	logger     *slog.Logger
	rootLogger *slog.Logger
	logLevel   *slog.LevelVar

	bus      event.Bus
	client   *rpc.Client
	server   *rpc.Server
	pub      *event.Publisher
	sub      *event.Subscriber
	reloader *config.Reloader
	metrics  *metrics.Server

	components []Component
	byName     map[string]Component

	running  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// New creates an Application. Components are added with Add before or
// after Start.
func New(opts Options) (*Application, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	logger := opts.Logger
	level := opts.LogLevel
	if logger == nil {
		if level == nil {
			level = new(slog.LevelVar)
		}
		logger = NewLogger(LoggerConfigFrom(cfg.Log, level))
	}

	bus := event.NewBus(
		event.WithAsyncWorkerCount(cfg.Bus.AsyncWorkers),
		event.WithAsyncQueueSize(cfg.Bus.AsyncQueueSize),
		event.WithHandlerTimeout(cfg.Bus.HandlerTimeout.Std()),
		event.WithLogger(logger),
	)

	client, err := rpc.NewClient(bus,
		rpc.WithDefaultTimeout(cfg.RPC.RequestTimeout.Std()),
		rpc.WithLogger(logger),
	)
	if err != nil {
		return nil, NewComponentError("rpc", "create client", err)
	}

	app := &Application{
		cfg:      cfg,
		logger:   logger.With("component", "app"),
		logLevel: level,
		bus:      bus,
		client:   client,
		server:   rpc.NewServer(bus, rpc.WithLogger(logger)),
		pub:      event.NewPublisher(bus, "app"),
		sub:      event.NewSubscriber(bus),
		byName:   make(map[string]Component),
		done:     make(chan struct{}),
	}
	app.rootLogger = logger

	if opts.ConfigPath != "" {
		app.reloader = config.NewReloader(opts.ConfigPath, cfg, bus, config.WithReloadLogger(logger))
	}

	return app, nil
}

// Env returns the environment components are built with.
func (app *Application) Env() component.Env {
	return component.Env{
		Bus:              app.bus,
		Client:           app.client,
		Server:           app.server,
		Logger:           app.rootLogger,
		HandshakeTimeout: app.Config().RPC.HandshakeTimeout.Std(),
	}
}

// Add registers c. When the application is already running, c is
// initialized at once and a failed Init leaves it unregistered.
func (app *Application) Add(ctx context.Context, c Component) error {
	app.mu.Lock()
	if _, ok := app.byName[c.Name()]; ok {
		app.mu.Unlock()
		return NewComponentError(c.Name(), "add", ErrDuplicateComponent)
	}
	app.byName[c.Name()] = c
	app.components = append(app.components, c)
	app.mu.Unlock()

	if !app.running.Load() {
		return nil
	}

	if err := c.Init(ctx); err != nil {
		app.remove(c)
		_ = c.Destroy(ctx)
		return NewComponentError(c.Name(), "init", err)
	}
	app.logger.Debug("component added", "name", c.Name())
	return nil
}

// Component returns the component registered under name.
func (app *Application) Component(name string) (Component, bool) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	c, ok := app.byName[name]
	return c, ok
}

// Components returns the registered component names in registration order.
func (app *Application) Components() []string {
	app.mu.RLock()
	defer app.mu.RUnlock()
	names := make([]string, len(app.components))
	for i, c := range app.components {
		names[i] = c.Name()
	}
	return names
}

// Bus returns the event bus.
func (app *Application) Bus() event.Bus {
	return app.bus
}

// Client returns the rpc client.
func (app *Application) Client() *rpc.Client {
	return app.client
}

// Server returns the rpc server.
func (app *Application) Server() *rpc.Server {
	return app.server
}

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger {
	return app.logger
}

// Config returns the configuration in effect.
func (app *Application) Config() *config.Config {
	if app.reloader != nil {
		return app.reloader.Current()
	}
	return app.cfg
}

// IsRunning reports whether Start has completed and Shutdown has not.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Done is closed when Shutdown completes.
func (app *Application) Done() <-chan struct{} {
	return app.done
}

func (app *Application) snapshot() []Component {
	app.mu.RLock()
	defer app.mu.RUnlock()
	out := make([]Component, len(app.components))
	copy(out, app.components)
	return out
}

func (app *Application) remove(c Component) {
	app.mu.Lock()
	defer app.mu.Unlock()
	delete(app.byName, c.Name())
	for i, existing := range app.components {
		if existing == c {
			app.components = append(app.components[:i], app.components[i+1:]...)
			break
		}
	}
}
