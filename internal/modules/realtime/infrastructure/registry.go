package infrastructure

import (
	"context"
	"log/slog"
	"sort"

	"marketWs/internal/modules/realtime/application/port"
)

// HandlerRegistry routes broker records to the handler registered for their topic.
type HandlerRegistry struct {
	handlers map[string]port.EventHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]port.EventHandler)}
}

func (r *HandlerRegistry) Register(h port.EventHandler) {
	r.handlers[h.Topic()] = h
}

// Topics lists the registered topics in sorted order.
func (r *HandlerRegistry) Topics() []string {
	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Dispatch ignores records on topics nobody registered for.
func (r *HandlerRegistry) Dispatch(ctx context.Context, topic, key string, value []byte) error {
	handler, ok := r.handlers[topic]
	if !ok {
		slog.Debug("broker record without handler", slog.String("topic", topic))
		return nil
	}
	return handler.Handle(ctx, key, value)
}
