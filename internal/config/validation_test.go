package config

import (
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/leadfeed/internal/availability"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 4010, ClientEventBuffer: 500},
		Feed: FeedConfig{
			TickInterval:      3 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			RestartEvery:      8,
			HistoryCapacity:   300,
			Advisors:          availability.DefaultRecords(),
		},
		Idempotency: IdempotencyConfig{Backend: "memory"},
		Chaos:       ChaosConfig{LatencyProfile: LatencyNormal},
		Client: ClientConfig{
			MaxAttempts:   3,
			BackoffBase:   350 * time.Millisecond,
			BackoffMax:    2 * time.Second,
			ReconnectBase: time.Second,
			ReconnectMax:  8 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected no error for valid config, got: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Chaos.FailMode = "explode"
	cfg.Feed.Advisors = append(cfg.Feed.Advisors, availability.Record{ID: "adv-001", AvailableSlots: 12})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	verrs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	// port, fail mode, slot ceiling, duplicate id
	if len(verrs.Fields) != 4 {
		t.Errorf("expected 4 field errors, got %d: %v", len(verrs.Fields), verrs)
	}

	msg := err.Error()
	for _, want := range []string{"server.port", "chaos.fail_mode", "explode", "duplicate id adv-001"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %q, got: %s", want, msg)
		}
	}
}

func TestValidate_BackendRequirements(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		key     string
	}{
		{"mysql without dsn", "mysql", "idempotency.mysql.dsn"},
		{"pebble without dir", "pebble", "idempotency.pebble.dir"},
		{"unknown backend", "etcd", "idempotency.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Idempotency.Backend = tt.backend
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("expected error mentioning %s, got %v", tt.key, err)
			}
		})
	}
}

func TestValidate_LoggingLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestValidationErrors_Empty(t *testing.T) {
	errs := &ValidationErrors{}
	if errs.HasErrors() {
		t.Error("empty ValidationErrors should not have errors")
	}
}
