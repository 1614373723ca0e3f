package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/dshills/keyweave/internal/config/loader"
)

// Config is the complete keyweave configuration.
type Config struct {
	Bus     BusConfig     `toml:"bus" mapstructure:"bus"`
	RPC     RPCConfig     `toml:"rpc" mapstructure:"rpc"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

// BusConfig configures the event bus.
type BusConfig struct {
	// AsyncWorkers is the number of goroutines delivering async publishes.
	AsyncWorkers int `toml:"async_workers" mapstructure:"async_workers"`

	// AsyncQueueSize is how many async deliveries may wait; more are dropped.
	AsyncQueueSize int `toml:"async_queue_size" mapstructure:"async_queue_size"`

	// HandlerTimeout bounds each handler invocation. Zero means no bound.
	HandlerTimeout Duration `toml:"handler_timeout" mapstructure:"handler_timeout"`
}

// RPCConfig configures requests and the component handshake.
type RPCConfig struct {
	RequestTimeout   Duration `toml:"request_timeout" mapstructure:"request_timeout"`
	HandshakeTimeout Duration `toml:"handshake_timeout" mapstructure:"handshake_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" mapstructure:"level"`

	// Format is text or json.
	Format string `toml:"format" mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled" mapstructure:"enabled"`
	Namespace string `toml:"namespace" mapstructure:"namespace"`
	Listen    string `toml:"listen" mapstructure:"listen"`
	Path      string `toml:"path" mapstructure:"path"`
}

// Duration is a time.Duration written as a string such as "5s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			AsyncWorkers:   4,
			AsyncQueueSize: 4096,
		},
		RPC: RPCConfig{
			RequestTimeout:   Duration(5 * time.Second),
			HandshakeTimeout: Duration(2 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "keyweave",
			Listen:    ":9464",
			Path:      "/metrics",
		},
	}
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	envPrefix string
	env       bool
}

// WithEnvPrefix sets the prefix of environment overrides.
func WithEnvPrefix(prefix string) LoadOption {
	return func(c *loadConfig) {
		c.envPrefix = prefix
	}
}

// WithoutEnv skips environment overrides.
func WithoutEnv() LoadOption {
	return func(c *loadConfig) {
		c.env = false
	}
}

// Load builds the configuration from defaults, the TOML file at path and
// the environment, then validates it. A missing file is not an error; an
// empty path skips the file layer.
func Load(path string, opts ...LoadOption) (*Config, error) {
	lc := loadConfig{envPrefix: loader.DefaultEnvPrefix, env: true}
	for _, opt := range opts {
		opt(&lc)
	}

	cfg := Default()

	fileData, err := loader.ForPath(path).Load()
	if err != nil {
		return nil, err
	}
	if err := decode(fileData, cfg, true); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	if lc.env {
		envData, err := loader.NewEnvLoader(lc.envPrefix).Load()
		if err != nil {
			return nil, err
		}
		if err := decode(envData, cfg, false); err != nil {
			return nil, fmt.Errorf("decoding environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode writes data over cfg. Settings absent from data keep their value.
func decode(data map[string]any, cfg *Config, strict bool) error {
	if len(data) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      strict,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}

// durationHook accepts time.Duration values produced by Go callers.
func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(Duration(0)) {
		return data, nil
	}
	if d, ok := data.(time.Duration); ok {
		return Duration(d), nil
	}
	return data, nil
}

// Validate checks every setting and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(path string, value any, msg string) {
		errs = append(errs, &ValidationError{Path: path, Value: value, Message: msg})
	}

	if c.Bus.AsyncWorkers < 1 {
		add("bus.async_workers", c.Bus.AsyncWorkers, "must be at least 1")
	}
	if c.Bus.AsyncQueueSize < 1 {
		add("bus.async_queue_size", c.Bus.AsyncQueueSize, "must be at least 1")
	}
	if c.Bus.HandlerTimeout < 0 {
		add("bus.handler_timeout", c.Bus.HandlerTimeout, "must not be negative")
	}
	if c.RPC.RequestTimeout <= 0 {
		add("rpc.request_timeout", c.RPC.RequestTimeout, "must be positive")
	}
	if c.RPC.HandshakeTimeout <= 0 {
		add("rpc.handshake_timeout", c.RPC.HandshakeTimeout, "must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", c.Log.Format, "must be text or json")
	}
	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			add("metrics.listen", c.Metrics.Listen, "required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			add("metrics.path", c.Metrics.Path, "must start with /")
		}
	}

	return errors.Join(errs...)
}

// Marshal encodes the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return loader.Marshal(c)
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
