// Package config loads process configuration from the environment, with an
// optional YAML file for relay tuning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/karpay/payments/internal/outbox"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr string
	DB       DB
	Relay    Relay
}

// DB holds Postgres connection settings.
type DB struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the Postgres connection URL.
func (d DB) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// Relay tunes the outbox relay. Zero values fall back to the relay's own
// defaults.
type Relay struct {
	BatchSize       int           `yaml:"batch_size"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Workers         int           `yaml:"workers"`
	LeaseDuration   time.Duration `yaml:"lease_duration"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	PendingInterval time.Duration `yaml:"pending_interval"`
}

// UnmarshalYAML accepts Go duration strings ("5s", "2m") for the duration
// fields and leaves absent keys untouched.
func (r *Relay) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BatchSize       *int    `yaml:"batch_size"`
		PollInterval    *string `yaml:"poll_interval"`
		Workers         *int    `yaml:"workers"`
		LeaseDuration   *string `yaml:"lease_duration"`
		MaxAttempts     *int    `yaml:"max_attempts"`
		RetryBackoff    *string `yaml:"retry_backoff"`
		MaxRetryDelay   *string `yaml:"max_retry_delay"`
		DeliveryTimeout *string `yaml:"delivery_timeout"`
		PendingInterval *string `yaml:"pending_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.BatchSize != nil {
		r.BatchSize = *raw.BatchSize
	}
	if raw.Workers != nil {
		r.Workers = *raw.Workers
	}
	if raw.MaxAttempts != nil {
		r.MaxAttempts = *raw.MaxAttempts
	}

	for _, field := range []struct {
		raw  *string
		dst  *time.Duration
		name string
	}{
		{raw.PollInterval, &r.PollInterval, "poll_interval"},
		{raw.LeaseDuration, &r.LeaseDuration, "lease_duration"},
		{raw.RetryBackoff, &r.RetryBackoff, "retry_backoff"},
		{raw.MaxRetryDelay, &r.MaxRetryDelay, "max_retry_delay"},
		{raw.DeliveryTimeout, &r.DeliveryTimeout, "delivery_timeout"},
		{raw.PendingInterval, &r.PendingInterval, "pending_interval"},
	} {
		if field.raw == nil {
			continue
		}

		d, err := time.ParseDuration(*field.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", field.name, err)
		}
		*field.dst = d
	}

	return nil
}

// Options converts the set fields into relay options.
func (r Relay) Options() []outbox.RelayOption {
	var opts []outbox.RelayOption

	if r.BatchSize > 0 {
		opts = append(opts, outbox.WithBatchSize(r.BatchSize))
	}
	if r.PollInterval > 0 {
		opts = append(opts, outbox.WithPollInterval(r.PollInterval))
	}
	if r.Workers > 0 {
		opts = append(opts, outbox.WithWorkers(r.Workers))
	}
	if r.LeaseDuration > 0 {
		opts = append(opts, outbox.WithLeaseDuration(r.LeaseDuration))
	}
	if r.MaxAttempts > 0 {
		opts = append(opts, outbox.WithMaxAttempts(r.MaxAttempts))
	}
	if r.RetryBackoff > 0 {
		opts = append(opts, outbox.WithRetryBackoff(r.RetryBackoff))
	}
	if r.MaxRetryDelay > 0 {
		opts = append(opts, outbox.WithMaxRetryDelay(r.MaxRetryDelay))
	}
	if r.DeliveryTimeout > 0 {
		opts = append(opts, outbox.WithDeliveryTimeout(r.DeliveryTimeout))
	}
	if r.PendingInterval > 0 {
		opts = append(opts, outbox.WithPendingInterval(r.PendingInterval))
	}

	return opts
}

// Load reads configuration from the environment (with defaults).
func Load() Config {
	return Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		DB: DB{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "karpay"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Relay: Relay{
			BatchSize:       getEnvAsInt("RELAY_BATCH_SIZE", 0),
			PollInterval:    getEnvAsDuration("RELAY_POLL_INTERVAL", 0),
			Workers:         getEnvAsInt("RELAY_WORKERS", 0),
			LeaseDuration:   getEnvAsDuration("RELAY_LEASE_DURATION", 0),
			MaxAttempts:     getEnvAsInt("RELAY_MAX_ATTEMPTS", 0),
			RetryBackoff:    getEnvAsDuration("RELAY_RETRY_BACKOFF", 0),
			MaxRetryDelay:   getEnvAsDuration("RELAY_MAX_RETRY_DELAY", 0),
			DeliveryTimeout: getEnvAsDuration("RELAY_DELIVERY_TIMEOUT", 0),
			PendingInterval: getEnvAsDuration("RELAY_PENDING_INTERVAL", 0),
		},
	}
}

// ApplyRelayFile overlays relay tuning from a YAML file. Keys absent from
// the file keep their current values.
func (c *Config) ApplyRelayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read relay config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &c.Relay); err != nil {
		return fmt.Errorf("parse relay config file: %w", err)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}

	return fallback
}
