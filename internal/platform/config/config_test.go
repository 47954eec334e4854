package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickRate != time.Second {
		t.Errorf("TickRate = %s, want 1s", cfg.TickRate)
	}
	if cfg.Addr != ":3001" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.JournalDriver != JournalSQLite {
		t.Errorf("JournalDriver = %q", cfg.JournalDriver)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NEEDS_TICK_RATE", "250ms")
	t.Setenv("NEEDS_JOURNAL_DRIVER", "none")
	t.Setenv("NEEDS_SEED_CHARACTERS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickRate != 250*time.Millisecond {
		t.Errorf("TickRate = %s", cfg.TickRate)
	}
	if cfg.SeedCharacters {
		t.Error("SeedCharacters should be false")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, key, value, wantErr string
	}{
		{"driver", "NEEDS_JOURNAL_DRIVER", "mongo", "NEEDS_JOURNAL_DRIVER"},
		{"tick rate", "NEEDS_TICK_RATE", "0s", "NEEDS_TICK_RATE"},
		{"capacity", "NEEDS_EVENT_LOG_CAPACITY", "0", "NEEDS_EVENT_LOG_CAPACITY"},
		{"unparsable", "NEEDS_TICK_RATE", "soon", "parse env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
