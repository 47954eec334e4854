// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Journal drivers.
const (
	JournalNone     = "none"
	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

// Config holds every tunable of the needs server.
type Config struct {
	Addr     string        `env:"NEEDS_ADDR" envDefault:":3001"`
	TickRate time.Duration `env:"NEEDS_TICK_RATE" envDefault:"1s"`

	LogLevel  string `env:"NEEDS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"NEEDS_LOG_FORMAT" envDefault:"console"`

	// Journal is an append-only audit trail. It is never read back to restore state.
	JournalDriver string `env:"NEEDS_JOURNAL_DRIVER" envDefault:"sqlite"`
	JournalDSN    string `env:"NEEDS_JOURNAL_DSN" envDefault:"data/needs.db"`
	JournalTicks  bool   `env:"NEEDS_JOURNAL_TICKS" envDefault:"false"`

	Profile          string        `env:"NEEDS_PROFILE" envDefault:"default"`
	SnapshotTTL      time.Duration `env:"NEEDS_SNAPSHOT_TTL" envDefault:"30s"`
	EventLogCapacity int           `env:"NEEDS_EVENT_LOG_CAPACITY" envDefault:"4096"`
	SeedCharacters   bool          `env:"NEEDS_SEED_CHARACTERS" envDefault:"true"`
	TuningInterval   time.Duration `env:"NEEDS_TUNING_INTERVAL" envDefault:"1m"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the server configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	if c.TickRate <= 0 {
		return fmt.Errorf("NEEDS_TICK_RATE must be positive, got %s", c.TickRate)
	}
	switch c.JournalDriver {
	case JournalNone, JournalSQLite, JournalPostgres:
	default:
		return fmt.Errorf("invalid NEEDS_JOURNAL_DRIVER %q (supported: %s, %s, %s)",
			c.JournalDriver, JournalNone, JournalSQLite, JournalPostgres)
	}
	if c.JournalDriver != JournalNone && c.JournalDSN == "" {
		return fmt.Errorf("NEEDS_JOURNAL_DSN is required for driver %q", c.JournalDriver)
	}
	if c.EventLogCapacity < 1 {
		return fmt.Errorf("NEEDS_EVENT_LOG_CAPACITY must be positive, got %d", c.EventLogCapacity)
	}
	return nil
}
