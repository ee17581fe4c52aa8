package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultQueue is the durable queue accepted leads are published to.
const DefaultQueue = "lead.accepted"

// AMQPPublisher publishes accepted leads as persistent JSON messages. It
// dials the broker once per publish.
type AMQPPublisher struct {
	config AMQPConfig
	logger *zap.Logger
}

// NewAMQPPublisher creates a publisher for cfg.
func NewAMQPPublisher(cfg AMQPConfig, logger *zap.Logger) *AMQPPublisher {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	return &AMQPPublisher{config: cfg, logger: logger}
}

// LeadAccepted publishes a to the configured queue.
func (p *AMQPPublisher) LeadAccepted(ctx context.Context, a Accepted) error {
	conn, err := amqp.DialConfig(p.config.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      dialContext(ctx),
	})
	if err != nil {
		p.logger.Warn("rabbitmq dial failed", zap.Error(err))
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		p.config.Queue, // name
		true,           // durable
		false,          // autoDelete
		false,          // exclusive
		false,          // noWait
		nil,            // args
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", p.config.Queue, err)
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal lead event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    a.TrackingID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",             // default exchange
		p.config.Queue, // routing key = queue name
		false,          // mandatory
		false,          // immediate
		pub,
	); err != nil {
		return fmt.Errorf("publish %s: %w", a.TrackingID, err)
	}

	p.logger.Debug("lead event published",
		zap.String("queue", p.config.Queue),
		zap.String("trackingId", a.TrackingID),
	)
	return nil
}

// dialContext bounds the TCP connect and the AMQP handshake by ctx. The
// library clears the deadline once the connection is open.
func dialContext(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
}
