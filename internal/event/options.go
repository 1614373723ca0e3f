package event

import (
	"log/slog"
	"time"
)

// BusOption configures an event Bus.
type BusOption func(*busConfig)

type busConfig struct {
	asyncQueueSize   int
	asyncWorkerCount int

	// handlerTimeout bounds each async handler execution.
	handlerTimeout time.Duration

	logger *slog.Logger

	// errorHandler receives failures of async handlers, which have no
	// publisher to return to.
	errorHandler func(env Envelope, err error)
}

func defaultBusConfig() busConfig {
	return busConfig{
		asyncQueueSize:   4096,
		asyncWorkerCount: 4,
		handlerTimeout:   5 * time.Second,
		logger:           slog.Default(),
	}
}

// WithAsyncQueueSize sets the async delivery queue size.
func WithAsyncQueueSize(size int) BusOption {
	return func(c *busConfig) {
		if size > 0 {
			c.asyncQueueSize = size
		}
	}
}

// WithAsyncWorkerCount sets the number of async worker goroutines.
func WithAsyncWorkerCount(count int) BusOption {
	return func(c *busConfig) {
		if count > 0 {
			c.asyncWorkerCount = count
		}
	}
}

// WithHandlerTimeout bounds each async handler execution. Synchronous
// publishes are never bounded; the publisher waits for every handler.
func WithHandlerTimeout(timeout time.Duration) BusOption {
	return func(c *busConfig) {
		c.handlerTimeout = timeout
	}
}

// WithLogger sets the logger used to report async handler failures.
func WithLogger(logger *slog.Logger) BusOption {
	return func(c *busConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithErrorHandler registers a callback for async handler errors and panics,
// in addition to logging them.
func WithErrorHandler(h func(env Envelope, err error)) BusOption {
	return func(c *busConfig) {
		c.errorHandler = h
	}
}

// PublishOption configures a single publish.
type PublishOption func(*publishConfig)

type publishConfig struct {
	meta        Metadata
	synchronous bool
	exact       bool
	delivered   *int
}

// Synchronous makes Publish behave like PublishSync.
func Synchronous() PublishOption {
	return func(c *publishConfig) {
		c.synchronous = true
	}
}

// WithSource stamps the publishing component's name on the message.
func WithSource(source string) PublishOption {
	return func(c *publishConfig) {
		c.meta.Source = source
	}
}

// WithCorrelationID stamps a correlation ID on the message.
func WithCorrelationID(id string) PublishOption {
	return func(c *publishConfig) {
		c.meta.CorrelationID = id
	}
}

// Exact restricts delivery to subscriptions registered on exactly the
// published topic. Wildcard patterns are not consulted.
func Exact() PublishOption {
	return func(c *publishConfig) {
		c.exact = true
	}
}

// Delivered stores in n how many handlers the publish reached. For a
// synchronous publish that is the number of handlers actually invoked; a
// handler removed after the snapshot was taken is not counted. For an async
// publish it is the number of handlers scheduled.
func Delivered(n *int) PublishOption {
	return func(c *publishConfig) {
		c.delivered = n
	}
}
