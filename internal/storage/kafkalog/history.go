// Package kafkalog mirrors the event history onto a Kafka topic so other
// services can tail the pipeline's output without touching the database.
package kafkalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/orderflow-io/pipeline/internal/processor"
)

// History writes one record per dispatched envelope, keyed by correlation
// id so all events of one order land on the same partition.
type History struct {
	writer *kafka.Writer
}

func NewHistory(brokers []string, topic string) *History {
	return &History{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (h *History) Append(ctx context.Context, entry processor.EventHistoryEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}

	err = h.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.CorrelationID.String()),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("write history to kafka: %w", err)
	}
	return nil
}

func (h *History) Close() error {
	return h.writer.Close()
}
