// Package config provides the configuration system for keyweave.
//
// Configuration is layered, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← KEYWEAVE_SECTION_KEY
//	├─────────────────────────────┤
//	│  2. Config File             │  ← keyweave.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// # Sub-packages
//
//   - loader: TOML, YAML and environment sources, DeepMerge
//   - watcher: fsnotify-based file watching
//
// # Basic Usage
//
//	cfg, err := config.Load("keyweave.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	timeout := cfg.RPC.RequestTimeout.Std()
//
// # Live Reload
//
// A Reloader watches the config file and publishes Reloaded on the bus
// after every successful reload, or ReloadFailed when the new file does not
// load or validate. A failed reload keeps the previous configuration.
//
//	r := config.NewReloader("keyweave.toml", cfg, bus)
//	if err := r.Start(); err != nil {
//	    return err
//	}
//	event.On(sub, config.Reloaded, func(ctx context.Context, p config.ReloadedPayload) error {
//	    logger.Info("config reloaded", "path", p.Path)
//	    return nil
//	})
package config
