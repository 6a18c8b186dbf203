package config

import (
	"os"
	"strings"
	"time"
)

const (
	DefaultListen          = "localhost:2121"
	DefaultWelcome         = "Service ready for new user"
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsListen   = "localhost:9121"
)

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	return cfg
}

// ApplyDefaults fills zero-valued fields and normalizes the log level.
// The idle timeout is left alone since 0 disables it.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Server.Root == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Server.Root = wd
		}
	}
	if cfg.Server.Welcome == "" {
		cfg.Server.Welcome = DefaultWelcome
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	for i, c := range cfg.Server.DisableCommands {
		cfg.Server.DisableCommands[i] = strings.ToUpper(strings.TrimSpace(c))
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "DEBUG"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}
}
