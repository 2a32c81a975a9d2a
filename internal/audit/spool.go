package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pawpoint/admin-identity/internal/model"
)

// KafkaSpool publishes audit events to a topic that the replay job drains
// back into the store.
type KafkaSpool struct {
	writer *kafka.Writer
}

func NewKafkaSpool(brokers []string, topic string) *KafkaSpool {
	return &KafkaSpool{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			MaxAttempts:  3,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (s *KafkaSpool) Enqueue(ctx context.Context, event model.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ID),
		Value: payload,
		Time:  event.OccurredAt,
	})
}

func (s *KafkaSpool) Close() error {
	return s.writer.Close()
}
