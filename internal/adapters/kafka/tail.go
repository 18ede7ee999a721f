package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"
)

// MessageReader is the part of kafka-go's Reader the change log tail uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// NewTailReader returns a consumer-group reader positioned on the change log.
func NewTailReader(brokers []string, topic, groupID string) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Tail feeds change records to fn until ctx ends. A record is committed only
// after fn returns, so a crash replays it. Records that do not decode are
// logged and committed.
func Tail(ctx context.Context, reader MessageReader, fn func(ChangeRecord)) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch change record: %w", err)
		}

		var record ChangeRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			slog.Warn("Skipping malformed change record", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else {
			fn(record)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}
