// Package notify dispatches customer notification events. Delivery transport
// (email/SMS rendering) lives outside the core; the engine only publishes
// events fire-and-forget. A dispatcher failure never blocks or rolls back a
// committed transfer.
package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Notifier is what the orchestrator sees.
type Notifier interface {
	Notify(userID int64, template string, payload map[string]any)
}

// Event is the wire format published to the notifications topic.
type Event struct {
	UserID    int64          `json:"user_id"`
	Template  string         `json:"template"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// KafkaNotifier publishes events to a Kafka topic, keyed by user so a
// consumer sees one customer's notifications in order.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

// Notify publishes asynchronously. Errors are logged and dropped.
func (n *KafkaNotifier) Notify(userID int64, template string, payload map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ev := Event{UserID: userID, Template: template, Payload: payload, CreatedAt: time.Now()}
		body, err := json.Marshal(ev)
		if err != nil {
			n.logger.Error("notification marshal failed", zap.Error(err))
			return
		}
		msg := kafka.Message{
			Key:   []byte(strconv.FormatInt(userID, 10)),
			Value: body,
		}
		if err := n.writer.WriteMessages(ctx, msg); err != nil {
			n.logger.Error("notification publish failed",
				zap.Int64("user_id", userID),
				zap.String("template", template),
				zap.Error(err))
		}
	}()
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// Noop discards notifications; used in tests and the benchmark tool.
type Noop struct{}

func (Noop) Notify(int64, string, map[string]any) {}
