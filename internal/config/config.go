package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds the evaluator daemon's runtime configuration. Its
// fields mirror the handful of keys Hydra's own flat `key = value`
// config file carries for the evaluator; everything else that
// configuration format supports is simply ignored by this reader.
type Config struct {
	// DatabaseURL is a postgres:// connection string.
	DatabaseURL string

	// MaxConcurrentEvals bounds State.MaxEvals. Clamped to at least 1.
	MaxConcurrentEvals int

	// StatusAddr optionally serves the read-only status endpoint.
	// Empty disables it.
	StatusAddr string

	LogLevel  string
	LogFormat string
}

// Default returns the evaluator's baseline configuration, used before
// any config file or flag overrides are applied.
func Default() Config {
	return Config{
		DatabaseURL:        "postgres:///hydra?sslmode=disable",
		MaxConcurrentEvals: 4,
		StatusAddr:         "",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load reads path (a Java-properties-style `key = value` file, the
// same flat format Hydra's own config uses) via viper and overlays it
// onto the defaults. A missing path is not an error: the evaluator
// runs on defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("props")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}

	if v.IsSet("database_url") {
		cfg.DatabaseURL = v.GetString("database_url")
	}
	if v.IsSet("max_concurrent_evals") {
		cfg.MaxConcurrentEvals = v.GetInt("max_concurrent_evals")
	}
	if v.IsSet("status_addr") {
		cfg.StatusAddr = v.GetString("status_addr")
	}
	if v.IsSet("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("log_format") {
		cfg.LogFormat = v.GetString("log_format")
	}

	if cfg.MaxConcurrentEvals < 1 {
		cfg.MaxConcurrentEvals = 1
	}
	return cfg, nil
}
