package port

import "context"

// EventHandler consumes broker records published on Topic.
type EventHandler interface {
	Topic() string
	Handle(ctx context.Context, key string, value []byte) error
}
