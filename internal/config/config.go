// Package config loads daemon configuration from a YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "INKWELL_"

// Config is the root daemon configuration.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Store  StoreConfig  `koanf:"store"`
	Remote RemoteConfig `koanf:"remote"`
	Retry  RetryConfig  `koanf:"retry"`
	Syncer SyncerConfig `koanf:"syncer"`
	Log    LogConfig    `koanf:"log"`
}

// ServerConfig configures the local control API and metrics listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required,nefield=Port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// StoreConfig configures the on-disk operation queue.
type StoreConfig struct {
	Path        string        `koanf:"path" validate:"required"`
	BusyTimeout time.Duration `koanf:"busy_timeout"`
	// Retention is how long completed operations are kept before the
	// janitor prunes them.
	Retention     time.Duration `koanf:"retention" validate:"min=1m"`
	PruneInterval time.Duration `koanf:"prune_interval" validate:"min=1m"`
}

// RemoteConfig configures the connection to the note service.
type RemoteConfig struct {
	BaseURL      string        `koanf:"base_url" validate:"required,url"`
	SessionToken string        `koanf:"session_token"`
	Timeout      time.Duration `koanf:"timeout" validate:"min=1s"`
	RateLimit    float64       `koanf:"rate_limit" validate:"gt=0"`
	Burst        int           `koanf:"burst" validate:"min=1"`
}

// RetryConfig configures the failure policy.
type RetryConfig struct {
	MaxRetryCount  int           `koanf:"max_retry_count" validate:"min=1,max=100"`
	BaseRetryDelay time.Duration `koanf:"base_retry_delay" validate:"min=100ms"`
	MaxRetryDelay  time.Duration `koanf:"max_retry_delay" validate:"gtefield=BaseRetryDelay"`
}

// SyncerConfig configures the drain scheduler.
type SyncerConfig struct {
	DrainInterval time.Duration `koanf:"drain_interval" validate:"min=1s"`
	// AssumeOnline starts the coordinator in the online state when no
	// connectivity source is wired in.
	AssumeOnline bool `koanf:"assume_online"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              "7420",
			MetricsPort:       "7421",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Store: StoreConfig{
			Path:          defaultStorePath(),
			BusyTimeout:   5 * time.Second,
			Retention:     7 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Remote: RemoteConfig{
			Timeout:   15 * time.Second,
			RateLimit: 5,
			Burst:     1,
		},
		Retry: RetryConfig{
			MaxRetryCount:  5,
			BaseRetryDelay: time.Second,
			MaxRetryDelay:  60 * time.Second,
		},
		Syncer: SyncerConfig{
			DrainInterval: 30 * time.Second,
			AssumeOnline:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the optional YAML file at path, then from
// INKWELL_* environment variables, on top of the defaults. An empty path
// skips the file layer; a missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// INKWELL_REMOTE_BASE_URL overrides remote.base_url. Single-word keys
	// map directly; the rest join on the first underscore group.
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.Replace(s, "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}

		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("validate config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "inkwell-sync.db"
	}
	return home + "/.inkwell/sync.db"
}
