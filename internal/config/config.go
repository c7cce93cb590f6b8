// Package config loads daemon configuration from the environment, an
// optional .env file and an optional YAML tuning file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/teslashibe/go-proctor/pkg/session"
)

// Defaults
const (
	DefaultPort      = "8080"
	DefaultLogLevel  = "info"
	DefaultQueueSize = 256
)

// Config is the daemon configuration.
type Config struct {
	Port       string
	LogLevel   string
	Env        string // GO_ENV
	Strict     bool
	Debug      bool
	TuningFile string
	QueueSize  int // Buffered frames between ingest and engine

	Tuning *Tuning // Loaded from TuningFile, nil without one
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg := &Config{
		Port:       getEnv("PROCTOR_PORT", DefaultPort),
		LogLevel:   getEnv("PROCTOR_LOG_LEVEL", DefaultLogLevel),
		Env:        os.Getenv("GO_ENV"),
		TuningFile: os.Getenv("PROCTOR_TUNING_FILE"),
	}

	var err error
	if cfg.Strict, err = getEnvBool("PROCTOR_STRICT", false); err != nil {
		return nil, err
	}
	if cfg.Debug, err = getEnvBool("PROCTOR_DEBUG", false); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = getEnvInt("PROCTOR_QUEUE_SIZE", DefaultQueueSize); err != nil {
		return nil, err
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("config: PROCTOR_QUEUE_SIZE must be positive, got %d", cfg.QueueSize)
	}

	if cfg.TuningFile != "" {
		if cfg.Tuning, err = LoadTuning(cfg.TuningFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// IsProduction reports GO_ENV=production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SessionConfig builds a validated engine config with tuning applied.
func (c *Config) SessionConfig(logger *slog.Logger) (*session.Config, error) {
	sc := session.DefaultConfig()
	if c.Tuning != nil {
		c.Tuning.Apply(sc)
	}
	sc.Apply(session.WithStrict(c.Strict), session.WithLogger(logger))
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
