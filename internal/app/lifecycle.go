package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/keyweave/internal/config"
	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/event/events"
	"github.com/dshills/keyweave/internal/metrics"
)

// DefaultShutdownTimeout bounds Shutdown when Run is cancelled.
const DefaultShutdownTimeout = 5 * time.Second

// Start starts the bus and the optional services, then initializes every
// registered component in registration order. The first failing component
// aborts startup; components already initialized are destroyed again.
func (app *Application) Start(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := app.bus.Start(); err != nil {
		app.running.Store(false)
		return NewComponentError("bus", "start", err)
	}

	if err := app.startServices(); err != nil {
		app.abort(ctx, nil)
		return err
	}

	var started []Component
	for _, c := range app.snapshot() {
		if err := c.Init(ctx); err != nil {
			app.logger.Error("component init failed", "name", c.Name(), "error", err)
			app.abort(ctx, append(started, c))
			return NewComponentError(c.Name(), "init", err)
		}
		started = append(started, c)
	}

	names := app.Components()
	if err := event.Emit(ctx, app.pub, events.AppReady, events.AppReadyPayload{Components: names}); err != nil {
		app.logger.Warn("app ready not published", "error", err)
	}
	app.logger.Info("application started", "components", len(names))
	return nil
}

func (app *Application) startServices() error {
	if app.logLevel != nil {
		if _, err := event.On(app.sub, config.Reloaded, func(_ context.Context, p config.ReloadedPayload) error {
			app.logLevel.Set(ParseLogLevel(p.Config.Log.Level))
			return nil
		}); err != nil {
			return NewComponentError("logging", "subscribe", err)
		}
	}

	if app.reloader != nil {
		if err := app.reloader.Start(); err != nil {
			return NewComponentError("config", "watch", err)
		}
	}

	mc := app.Config().Metrics
	if !mc.Enabled {
		return nil
	}
	reg, err := metrics.NewRegistry(metrics.NewCollector(mc.Namespace, metrics.Sources{
		Bus:    app.bus.Stats,
		Client: app.client.Stats,
		Server: app.server.Stats,
	}))
	if err != nil {
		return NewComponentError("metrics", "register", err)
	}
	app.metrics = metrics.NewServer(mc.Listen, mc.Path, reg, app.rootLogger)
	if err := app.metrics.Start(); err != nil {
		return NewComponentError("metrics", "listen", err)
	}
	return nil
}

// abort unwinds a failed Start.
func (app *Application) abort(ctx context.Context, started []Component) {
	for i := len(started) - 1; i >= 0; i-- {
		_ = started[i].Destroy(ctx)
	}
	_ = app.stopServices(ctx)
	_ = app.bus.Stop(ctx)
	app.running.Store(false)
}

// Shutdown destroys components in reverse registration order, stops the
// rpc layer, the watcher and the metrics server, and finally drains the
// bus. All errors are joined.
func (app *Application) Shutdown(ctx context.Context) error {
	if !app.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	defer app.doneOnce.Do(func() { close(app.done) })

	var errs []error
	comps := app.snapshot()
	for i := len(comps) - 1; i >= 0; i-- {
		if err := comps[i].Destroy(ctx); err != nil {
			errs = append(errs, NewComponentError(comps[i].Name(), "destroy", err))
		}
	}

	if err := app.stopServices(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := app.bus.Stop(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrShutdownTimeout
		}
		errs = append(errs, NewComponentError("bus", "stop", err))
	}

	app.logger.Info("application stopped")
	return errors.Join(errs...)
}

func (app *Application) stopServices(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if app.reloader != nil {
		g.Go(func() error {
			if err := app.reloader.Close(); err != nil {
				return NewComponentError("config", "close", err)
			}
			return nil
		})
	}
	if app.metrics != nil {
		g.Go(func() error {
			if err := app.metrics.Stop(gctx); err != nil {
				return NewComponentError("metrics", "stop", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := app.server.Close(gctx); err != nil {
			return NewComponentError("rpc", "close server", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := app.client.Close(); err != nil {
			return NewComponentError("rpc", "close client", err)
		}
		return nil
	})

	err := g.Wait()
	_ = app.sub.Close()
	return err
}

// Run starts the application and blocks until ctx is cancelled, then shuts
// down within DefaultShutdownTimeout.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	return app.Shutdown(shutdownCtx)
}
