// Package notify announces accepted leads to external sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier is the interface for announcing accepted leads.
type Notifier interface {
	LeadAccepted(ctx context.Context, a Accepted) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     NtfyConfig
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg NtfyConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// LeadAccepted pushes a notification for a newly accepted lead.
func (c *Client) LeadAccepted(ctx context.Context, a Accepted) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Lead Accepted: %s", a.TrackingID)
	message := FormatAcceptedMessage(a)
	tags := c.config.Tags + ",white_check_mark"

	return c.send(ctx, title, message, tags, c.config.Priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// LeadAccepted is a no-op.
func (n *NoopNotifier) LeadAccepted(context.Context, Accepted) error {
	return nil
}

// Multi fans one announcement out to several notifiers. Every notifier is
// called even when an earlier one fails.
type Multi []Notifier

func (m Multi) LeadAccepted(ctx context.Context, a Accepted) error {
	var errs []error
	for _, n := range m {
		if err := n.LeadAccepted(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New creates the notifier chain described by cfg.
func New(cfg Config, logger *zap.Logger) (Notifier, error) {
	var sinks Multi
	if cfg.Ntfy.Enabled {
		sinks = append(sinks, NewClient(cfg.Ntfy, logger))
	}
	if cfg.AMQP.Enabled {
		sinks = append(sinks, NewAMQPPublisher(cfg.AMQP, logger))
	}

	var n Notifier
	switch len(sinks) {
	case 0:
		return &NoopNotifier{}, nil
	case 1:
		n = sinks[0]
	default:
		n = sinks
	}

	if cfg.Filter == "" {
		return n, nil
	}
	filter, err := NewFilter(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("compile notify filter: %w", err)
	}
	return filter.Wrap(n), nil
}
