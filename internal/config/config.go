// Package config loads server settings from defaults, an optional YAML file
// and the environment, in that order of precedence (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const minSecretLen = 32

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Session SessionConfig `yaml:"session"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Session creations allowed per client IP per minute.
	OpenLimitPerMin int `yaml:"open_limit_per_min"`
	// TrustProxy keys the limit on X-Forwarded-For instead of the peer
	// address. Only set it behind a proxy that rewrites the header.
	TrustProxy bool `yaml:"trust_proxy"`
}

type SessionConfig struct {
	Secret        string        `yaml:"secret"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

func Default() Config {
	return Config{
		Port:     "8080",
		LogLevel: "info",
		Session: SessionConfig{
			IdleTTL:       30 * time.Minute,
			MaxAge:        12 * time.Hour,
			SweepInterval: time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		OpenLimitPerMin: 20,
	}
}

// Load starts from Default, overlays the YAML file at path when path is not
// empty, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("PORT", &cfg.Port)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("SESSION_SECRET", &cfg.Session.Secret)
	str("METRICS_TOKEN", &cfg.Metrics.Token)

	if err := dur("SESSION_TTL", &cfg.Session.IdleTTL); err != nil {
		return err
	}
	if err := dur("SESSION_MAX_AGE", &cfg.Session.MaxAge); err != nil {
		return err
	}

	if err := boolean("METRICS_ENABLED", &cfg.Metrics.Enabled); err != nil {
		return err
	}
	if err := boolean("TRUST_PROXY", &cfg.TrustProxy); err != nil {
		return err
	}
	if v, ok := lookup("OPEN_LIMIT_PER_MIN"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OPEN_LIMIT_PER_MIN: %w", err)
		}
		cfg.OpenLimitPerMin = n
	}
	return nil
}

// Validate checks what the HTTP server needs to start.
func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("%w: port is required", ErrInvalid)
	case len(c.Session.Secret) < minSecretLen:
		return fmt.Errorf("%w: session secret must be at least %d chars", ErrInvalid, minSecretLen)
	case c.Session.IdleTTL <= 0:
		return fmt.Errorf("%w: session idle_ttl must be positive", ErrInvalid)
	case c.Session.MaxAge <= 0:
		return fmt.Errorf("%w: session max_age must be positive", ErrInvalid)
	case c.Session.SweepInterval <= 0:
		return fmt.Errorf("%w: session sweep_interval must be positive", ErrInvalid)
	case c.OpenLimitPerMin <= 0:
		return fmt.Errorf("%w: open_limit_per_min must be positive", ErrInvalid)
	}
	return nil
}

func (c Config) Addr() string { return ":" + c.Port }
