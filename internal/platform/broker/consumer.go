package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const readErrorBackoff = time.Second

// RecordHandler receives every record read from a topic.
type RecordHandler func(ctx context.Context, topic, key string, value []byte) error

type KafkaConsumer struct {
	reader *kafka.Reader
}

func NewKafkaConsumer(brokers []string, groupID string, topic string) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     groupID,
			Topic:       topic,
			StartOffset: kafka.LastOffset,
		}),
	}
}

// Consume reads until ctx is cancelled. Handler errors are logged and the record is skipped.
func (c *KafkaConsumer) Consume(ctx context.Context, handler RecordHandler) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			slog.Warn("kafka reader close failed", slog.Any("error", err))
		}
	}()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			slog.Warn("kafka read error", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readErrorBackoff):
			}
			continue
		}
		handleRecord(ctx, m, handler)
	}
}

func handleRecord(ctx context.Context, m kafka.Message, handler RecordHandler) {
	slog.Debug("kafka message consumed",
		slog.String("topic", m.Topic),
		slog.Int("partition", m.Partition),
		slog.Int64("offset", m.Offset),
		slog.String("key", string(m.Key)),
	)
	if err := handler(ctx, m.Topic, string(m.Key), m.Value); err != nil {
		slog.Warn("kafka handler error",
			slog.String("topic", m.Topic),
			slog.Int64("offset", m.Offset),
			slog.Any("error", err),
		)
	}
}
