package config

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"
)

// FieldError is one invalid setting.
type FieldError struct {
	Key    string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []FieldError
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationErrors) add(key, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Key: key, Reason: fmt.Sprintf(format, args...)})
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.Fields {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", f.Key, f.Reason))
	}
	return sb.String()
}

func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs.add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ClientEventBuffer < 1 {
		errs.add("server.client_event_buffer", "must be >= 1")
	}

	if c.Feed.TickInterval <= 0 {
		errs.add("feed.tick_interval", "must be positive")
	}
	if c.Feed.HeartbeatInterval <= 0 {
		errs.add("feed.heartbeat_interval", "must be positive")
	}
	if c.Feed.RestartEvery < 0 {
		errs.add("feed.restart_every", "must be >= 0 (0 disables restarts)")
	}
	if c.Feed.HistoryCapacity < 1 {
		errs.add("feed.history_capacity", "must be >= 1")
	}
	seen := make(map[string]bool)
	for i, rec := range c.Feed.Advisors {
		if err := rec.Validate(); err != nil {
			errs.add(fmt.Sprintf("feed.advisors[%d]", i), "%v", err)
		}
		if seen[rec.ID] {
			errs.add(fmt.Sprintf("feed.advisors[%d]", i), "duplicate id %s", rec.ID)
		}
		seen[rec.ID] = true
	}

	if !ValidBackends[c.Idempotency.Backend] {
		errs.add("idempotency.backend", "%q is not one of %s", c.Idempotency.Backend, keys(ValidBackends))
	}
	if c.Idempotency.Backend == "mysql" && c.Idempotency.MySQL.DSN == "" {
		errs.add("idempotency.mysql.dsn", "required when backend is mysql")
	}
	if c.Idempotency.Backend == "pebble" && c.Idempotency.Pebble.Dir == "" {
		errs.add("idempotency.pebble.dir", "required when backend is pebble")
	}

	if err := c.Notify.Validate(); err != nil {
		errs.add("notify", "%v", err)
	}

	if !ValidLatencyProfiles[c.Chaos.LatencyProfile] {
		errs.add("chaos.latency_profile", "%q is not one of %s", c.Chaos.LatencyProfile, keys(ValidLatencyProfiles))
	}
	if !ValidFailModes[c.Chaos.FailMode] {
		errs.add("chaos.fail_mode", "%q is not one of %s", c.Chaos.FailMode, keys(ValidFailModes))
	}

	if c.Quote.LockDays < 0 {
		errs.add("quote.lock_days", "must be >= 0")
	}

	if c.Client.MaxAttempts < 1 {
		errs.add("client.max_attempts", "must be >= 1")
	}
	if c.Client.BackoffBase > c.Client.BackoffMax {
		errs.add("client.backoff_base", "must not exceed client.backoff_max")
	}
	if c.Client.ReconnectBase > c.Client.ReconnectMax {
		errs.add("client.reconnect_base", "must not exceed client.reconnect_max")
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		errs.add("logging.level", "%v", err)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func keys(m map[string]bool) string {
	out := make([]string, 0, len(m))
	for k := range m {
		if k == "" {
			k = `""`
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
