// Package config loads the ftpd configuration from a YAML file, FTPD_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. FTPD_SERVER_ROOT.
const EnvPrefix = "FTPD"

// Config is the static ftpd configuration.
//
// Sources in order of precedence:
//  1. Environment variables (FTPD_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Passive  PassiveConfig  `mapstructure:"passive" yaml:"passive"`
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// ServerConfig configures the control listener and sessions.
type ServerConfig struct {
	// Listen is the control connection address.
	Listen string `mapstructure:"listen" validate:"required,hostname_port" yaml:"listen"`

	// Root is the directory exposed to clients. It must exist.
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// Welcome is the text of the 220 greeting.
	Welcome string `mapstructure:"welcome" yaml:"welcome"`

	// IdleTimeout bounds the wait for each command. 0 disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0" yaml:"idle_timeout"`

	MaxConnections      int `mapstructure:"max_connections" validate:"gte=0" yaml:"max_connections"`
	MaxConnectionsPerIP int `mapstructure:"max_connections_per_ip" validate:"gte=0" yaml:"max_connections_per_ip"`

	// ShutdownTimeout is how long serve waits for sessions to end after a signal.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// DisableCommands lists verbs answered with 502.
	DisableCommands []string `mapstructure:"disable_commands" yaml:"disable_commands,omitempty"`

	// ReadOnly disables every verb that modifies the filesystem.
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`
}

// PassiveConfig configures PASV listeners.
type PassiveConfig struct {
	// PublicHost is advertised in 227 replies instead of the control address.
	PublicHost string `mapstructure:"public_host" validate:"omitempty,ipv4" yaml:"public_host,omitempty"`

	MinPort int `mapstructure:"min_port" validate:"gte=0,lte=65535" yaml:"min_port"`
	MaxPort int `mapstructure:"max_port" validate:"gte=0,lte=65535" yaml:"max_port"`
}

// TransferConfig configures data transfers.
type TransferConfig struct {
	// BandwidthLimit is shared by all transfers, in bytes per second.
	BandwidthLimit int64 `mapstructure:"bandwidth_limit" validate:"gte=0" yaml:"bandwidth_limit"`

	// BandwidthLimitPerSession applies to each session, in bytes per second.
	BandwidthLimitPerSession int64 `mapstructure:"bandwidth_limit_per_session" validate:"gte=0" yaml:"bandwidth_limit_per_session"`

	// Log is the xferlog file. Empty disables it.
	Log string `mapstructure:"log" yaml:"log,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" validate:"omitempty,hostname_port" yaml:"listen"`
}

// Load reads the configuration. An empty path uses the default location.
// A missing file is not an error: defaults and environment still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	if (cfg.Passive.MinPort == 0) != (cfg.Passive.MaxPort == 0) {
		return errors.New("passive.min_port and passive.max_port must be set together")
	}
	if cfg.Passive.MinPort > cfg.Passive.MaxPort {
		return fmt.Errorf("passive.min_port %d is greater than passive.max_port %d",
			cfg.Passive.MinPort, cfg.Passive.MaxPort)
	}

	info, err := os.Stat(cfg.Server.Root)
	if err != nil {
		return fmt.Errorf("server.root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("server.root: %s is not a directory", cfg.Server.Root)
	}
	return nil
}

// Save writes cfg as YAML, creating the parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// FTPD_SERVER_ROOT overrides server.root.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(ConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// setDefaults registers every key so that environment variables are seen
// by Unmarshal even without a config file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.root", d.Server.Root)
	v.SetDefault("server.welcome", d.Server.Welcome)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_connections", d.Server.MaxConnections)
	v.SetDefault("server.max_connections_per_ip", d.Server.MaxConnectionsPerIP)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.disable_commands", d.Server.DisableCommands)
	v.SetDefault("server.read_only", d.Server.ReadOnly)
	v.SetDefault("passive.public_host", d.Passive.PublicHost)
	v.SetDefault("passive.min_port", d.Passive.MinPort)
	v.SetDefault("passive.max_port", d.Passive.MaxPort)
	v.SetDefault("transfer.bandwidth_limit", d.Transfer.BandwidthLimit)
	v.SetDefault("transfer.bandwidth_limit_per_session", d.Transfer.BandwidthLimitPerSession)
	v.SetDefault("transfer.log", d.Transfer.Log)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to read config file: %w", err)
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook accepts "30s"-style strings and raw nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML may decode numbers as float64.
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// ConfigDir is $XDG_CONFIG_HOME/ftpd, or ~/.config/ftpd.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ftpd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ftpd")
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
