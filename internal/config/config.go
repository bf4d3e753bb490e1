// Package config loads mixlabctl settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root CLI configuration. Environment variables override values
// read from the file.
type Config struct {
	BaseURL        string        `yaml:"base_url" env:"MIXLAB_BASE_URL" env-default:"http://localhost:8000/api"`
	RenewalTimeout time.Duration `yaml:"renewal_timeout" env:"MIXLAB_RENEWAL_TIMEOUT" env-default:"10s"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"MIXLAB_REQUEST_TIMEOUT" env-default:"30s"`
	LogLevel       string        `yaml:"log_level" env:"MIXLAB_LOG_LEVEL" env-default:"warn"`
	Session        SessionConfig `yaml:"session"`
}

// SessionConfig selects where the session record is persisted. A non-empty
// RedisURL wins over StateDir.
type SessionConfig struct {
	StateDir    string        `yaml:"state_dir" env:"MIXLAB_STATE_DIR"`
	Key         string        `yaml:"key" env:"MIXLAB_SESSION_KEY" env-default:"mixlab-auth"`
	RedisURL    string        `yaml:"redis_url" env:"MIXLAB_REDIS_URL"`
	RedisPrefix string        `yaml:"redis_prefix" env:"MIXLAB_REDIS_PREFIX" env-default:"mixlab:session"`
	RedisTTL    time.Duration `yaml:"redis_ttl" env:"MIXLAB_REDIS_TTL" env-default:"168h"`
}

// DefaultPath is the config file looked up when no path is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mixlab", "config.yaml")
}

// Load reads configuration with this priority:
// explicit path, MIXLAB_CONFIG, DefaultPath if it exists, environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("MIXLAB_CONFIG")
		if path == "" {
			if def := DefaultPath(); def != "" {
				if _, err := os.Stat(def); err == nil {
					path = def
				}
			}
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
	}

	if path != "" {
		// ReadConfig overlays the environment after parsing the file.
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	if cfg.Session.StateDir == "" && cfg.Session.RedisURL == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, err
		}
		cfg.Session.StateDir = dir
	}
	return &cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base_url is required")
	}
	if c.Session.Key == "" {
		return errors.New("config: session.key is required")
	}
	return nil
}

func defaultStateDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve state dir: %w", err)
	}
	return filepath.Join(dir, "mixlab"), nil
}
