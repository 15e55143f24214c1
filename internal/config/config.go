// Package config loads floodsync settings.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// CUE or YAML file, an optional .env file and the process environment.
// Environment keys carry the FLOODSYNC_ prefix, e.g. FLOODSYNC_REMOTE_URL.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/roach88/floodsync/internal/remote"
)

// EnvPrefix prefixes every environment key.
const EnvPrefix = "FLOODSYNC_"

// DefaultChannel is the push channel used when none is configured.
const DefaultChannel = "suarobanjir_updates"

// Config centralises every runtime setting.
type Config struct {
	DBPath       string        `env:"DB_PATH"`
	LogLevel     string        `env:"LOG_LEVEL"`
	PollInterval time.Duration `env:"POLL_INTERVAL"`
	Remote       RemoteConfig  `envPrefix:"REMOTE_"`
	Admin        AdminConfig   `envPrefix:"ADMIN_"`
}

// RemoteConfig describes the shared remote mirror. Leaving both URL and
// Key empty runs the device local-only.
type RemoteConfig struct {
	URL     string        `env:"URL"`
	Key     string        `env:"KEY"`
	Timeout time.Duration `env:"TIMEOUT"`
	Channel string        `env:"CHANNEL"`
}

// AdminConfig is the local admin gate. PasswordHash is a bcrypt hash.
type AdminConfig struct {
	Username     string `env:"USERNAME"`
	PasswordHash string `env:"PASSWORD_HASH"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath:       "floodsync.db",
		LogLevel:     "info",
		PollInterval: 3 * time.Second,
		Remote: RemoteConfig{
			Timeout: 4 * time.Second,
			Channel: DefaultChannel,
		},
	}
}

// Sources names the inputs of Load. Empty fields are skipped.
type Sources struct {
	// File is a .cue, .yaml or .yml configuration file.
	File string

	// DotEnv is a .env file. A missing file is not an error.
	DotEnv string

	// Environ overrides os.Environ, in "KEY=value" form.
	Environ []string
}

// Load builds a Config from defaults and the given sources.
func Load(src Sources) (Config, error) {
	cfg := Default()

	if src.File != "" {
		if err := applyFile(&cfg, src.File); err != nil {
			return Config{}, err
		}
	}

	environ := src.Environ
	if environ == nil {
		environ = os.Environ()
	}
	vars := make(map[string]string, len(environ))
	if src.DotEnv != "" {
		dot, err := godotenv.Read(src.DotEnv)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", src.DotEnv, err)
		}
		for k, v := range dot {
			vars[k] = v
		}
	}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the local settings. The remote section is checked
// separately by RemoteConfig.Validate, since a bad remote only disables
// sync for the session.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("DB_PATH is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive, got %s", c.Remote.Timeout)
	}
	return nil
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown LOG_LEVEL %q", s)
}

// Configured reports whether any remote setting was given.
func (r RemoteConfig) Configured() bool {
	return r.URL != "" || r.Key != ""
}

// Validate reports whether the remote endpoint is usable. It returns
// remote.ErrNotConfigured when nothing is set and an error matching
// remote.ErrMalformed when only part of it is, or it does not parse.
func (r RemoteConfig) Validate() error {
	_, err := remote.ParseEndpoint(r.URL, r.Key)
	return err
}

// Options converts r for remote.Dial.
func (r RemoteConfig) Options() remote.Options {
	return remote.Options{
		URL:     r.URL,
		Key:     r.Key,
		Timeout: r.Timeout,
		Channel: r.Channel,
	}
}
