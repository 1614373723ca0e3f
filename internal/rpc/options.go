package rpc

import (
	"log/slog"
	"time"
)

// DefaultTimeout bounds requests made without WithTimeout.
const DefaultTimeout = 5 * time.Second

// Option configures a Client or Server.
type Option func(*options)

type options struct {
	timeout time.Duration
	logger  *slog.Logger
}

func defaultOptions() options {
	return options{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
}

// WithDefaultTimeout sets the client's request timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// RequestOption configures a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	timeout time.Duration
	sender  string
}

// WithTimeout overrides the timeout for one request.
func WithTimeout(d time.Duration) RequestOption {
	return func(c *requestConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSender names the caller. Group members skip requests from a sender
// with their own name.
func WithSender(name string) RequestOption {
	return func(c *requestConfig) {
		c.sender = name
	}
}
