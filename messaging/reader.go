package messaging

import (
	"context"

	"github.com/segmentio/kafka-go"

	"intellikeeper/config"
)

// MessageReader is the part of *kafka.Reader a listener uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewPartitionReader reads one partition of topic directly, without a
// consumer group, starting at the newest offset.
func NewPartitionReader(cfg *config.MessagingConfig, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       topic,
		Partition:   cfg.Partition,
		MinBytes:    cfg.Kafka.MinBytes,
		MaxBytes:    cfg.Kafka.MaxBytes,
		StartOffset: kafka.LastOffset,
	})
}
