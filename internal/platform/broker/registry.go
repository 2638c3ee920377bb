package broker

import (
	"context"
	"log/slog"
	"sync"

	"marketWs/internal/modules/realtime/infrastructure"
)

// StartKafkaConsumers runs one consumer per registered topic. The returned WaitGroup completes
// once every consumer stopped after ctx is cancelled.
func StartKafkaConsumers(
	ctx context.Context,
	registry *infrastructure.HandlerRegistry,
	brokers []string,
	groupID string,
) *sync.WaitGroup {
	var wg sync.WaitGroup
	if len(brokers) == 0 {
		slog.Info("kafka disabled, no brokers configured")
		return &wg
	}
	for _, topic := range registry.Topics() {
		wg.Add(1)
		go func(tp string) {
			defer wg.Done()
			slog.Info("kafka consumer started", slog.String("topic", tp), slog.String("groupId", groupID))
			consumer := NewKafkaConsumer(brokers, groupID, tp)
			if err := consumer.Consume(ctx, registry.Dispatch); err != nil {
				slog.Error("kafka consumer stopped", slog.String("topic", tp), slog.Any("error", err))
			}
		}(topic)
	}
	return &wg
}
