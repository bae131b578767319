// Package events publishes notification lifecycle events to the message bus
// for downstream consumers (reporting, webhooks). Publication is never on
// the critical path: failures are logged and swallowed so an unreachable
// bus cannot fail or retry a delivery.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const ExchangeName = "notification.events"

// Routing keys for lifecycle events.
const (
	NotificationSent      = "notification.sent"
	NotificationDelivered = "notification.delivered"
	NotificationFailed    = "notification.failed"
)

// Event is the payload published for every lifecycle transition.
type Event struct {
	Type           string    `json:"type"`
	NotificationID string    `json:"notificationId,omitempty"`
	JobID          string    `json:"jobId,omitempty"`
	Queue          string    `json:"queue,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	Channel        string    `json:"channel,omitempty"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Publisher sends events to a durable topic exchange.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *zap.Logger
}

// NewPublisher connects and declares the exchange.
func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, logger: logger}, nil
}

// Publish sends one event. Callers that must not fail on bus errors should
// use Emit instead.
func (p *Publisher) Publish(e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.channel.Publish(
		ExchangeName,
		e.Type,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
		},
	)
}

// Emit is the fire-and-forget path: publish failures are logged, never
// propagated into the dispatch pipeline.
func (p *Publisher) Emit(e Event) {
	if err := p.Publish(e); err != nil {
		p.logger.Warn("Failed to publish lifecycle event",
			zap.String("event_type", e.Type),
			zap.String("notification_id", e.NotificationID),
			zap.Error(err),
		)
	}
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
