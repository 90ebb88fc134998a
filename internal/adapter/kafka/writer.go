package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/reservoir-etl/internal/config"
	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

const eventType = "snapshot_committed"

// Notifier publishes snapshot events to a Kafka topic.
// It implements pipeline.Notifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured snapshot topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Notifier{writer: w, logger: logger}
}

// Notify publishes one SnapshotCommitted event keyed by run id.
func (n *Notifier) Notify(ctx context.Context, event domain.SnapshotCommitted) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish snapshot event: %w", err)
	}
	n.logger.Info("snapshot event published",
		"run_id", event.RunID,
		"topic", n.writer.Topic,
		"total_records", event.TotalRecords,
	)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a SnapshotCommitted event into a Kafka message.
func serializeToMessage(event domain.SnapshotCommitted) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize snapshot event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.RunID),
		Value: data,
		Time:  event.LastUpdatedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "payload_kind", Value: []byte(event.PayloadKind)},
			{Key: "committed_at", Value: []byte(event.LastUpdatedAt.Format(time.RFC3339))},
		},
	}, nil
}
