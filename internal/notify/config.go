package notify

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds accepted-lead notification settings.
type Config struct {
	Ntfy NtfyConfig `mapstructure:"ntfy"`
	AMQP AMQPConfig `mapstructure:"amqp"`
	// Filter is an optional CEL expression; leads for which it evaluates to
	// false are not announced.
	Filter string `mapstructure:"filter"`
}

// NtfyConfig holds ntfy push settings.
type NtfyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`  // Whether notifications are enabled
	Server   string `mapstructure:"server"`   // ntfy server URL (default: https://ntfy.sh)
	Topic    string `mapstructure:"topic"`    // Topic name (required if enabled)
	Priority string `mapstructure:"priority"` // Message priority: min, low, default, high, urgent
	Tags     string `mapstructure:"tags"`     // Comma-separated emoji tags (e.g., "incoming_envelope")
	Token    string `mapstructure:"token"`    // Optional access token for private topics
}

// AMQPConfig holds the broker settings for lead events.
type AMQPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Queue   string `mapstructure:"queue"`
}

// Validate checks configuration is valid when enabled.
func (c *Config) Validate() error {
	var errs []string

	if c.Ntfy.Enabled {
		if c.Ntfy.Topic == "" {
			errs = append(errs, "notify.ntfy.topic is required when ntfy is enabled")
		}
		validPriorities := map[string]bool{
			"min": true, "low": true, "default": true, "high": true, "urgent": true,
		}
		if !validPriorities[c.Ntfy.Priority] {
			errs = append(errs, fmt.Sprintf("invalid notify.ntfy.priority: %s (valid: min, low, default, high, urgent)", c.Ntfy.Priority))
		}
	}

	if c.AMQP.Enabled {
		if c.AMQP.URL == "" {
			errs = append(errs, "notify.amqp.url is required when amqp is enabled")
		}
		if c.AMQP.Queue == "" {
			errs = append(errs, "notify.amqp.queue is required when amqp is enabled")
		}
	}

	if c.Filter != "" {
		if _, err := NewFilter(c.Filter); err != nil {
			errs = append(errs, fmt.Sprintf("invalid notify.filter: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
