package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// KindProvisioningCompleted follows a run that created every resource.
	KindProvisioningCompleted = "provisioning.completed"
	// KindProvisioningFailed follows a run that left at least one resource missing.
	KindProvisioningFailed = "provisioning.failed"
	// KindKYCStatusChanged follows any verification status change.
	KindKYCStatusChanged = "kyc.status_changed"
)

// Message describes a notification payload.
type Message struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	UserID     string         `json:"user_id"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger when no broker is configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "user_id", message.UserID, "data", message.Data)
	return nil
}

// Publisher is the subset of *amqp.Channel used for publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes persistent JSON messages to a topic exchange, routed by kind.
type AMQPNotifier struct {
	publisher Publisher
	exchange  string
}

// NewAMQPNotifier builds a broker-backed notifier.
func NewAMQPNotifier(publisher Publisher, exchange string) *AMQPNotifier {
	return &AMQPNotifier{publisher: publisher, exchange: exchange}
}

// Send serializes message and publishes it with the kind as routing key.
func (n *AMQPNotifier) Send(ctx context.Context, message Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.OccurredAt.IsZero() {
		message.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return n.publisher.PublishWithContext(ctx, n.exchange, message.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    message.ID,
		Type:         message.Kind,
		Body:         body,
		Timestamp:    message.OccurredAt,
		DeliveryMode: amqp.Persistent,
	})
}
