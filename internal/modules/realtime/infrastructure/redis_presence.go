package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"marketWs/internal/modules/realtime/application/port"
)

const (
	presenceKeyPrefix     = "presence:"
	presenceOnline        = "online"
	DefaultPresenceTTL    = 5 * time.Minute
	presenceOfflineLinger = time.Minute
	presenceOfflineMarker = "offline"
)

// RedisPresence shares presence across instances. Online keys expire unless refreshed, so a
// crashed instance cannot leave users online forever.
type RedisPresence struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisPresence(client redis.Cmdable, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisPresence{client: client, ttl: ttl}
}

// ConnectRedis opens a client and verifies the server answers.
func ConnectRedis(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.With("operation", "ping redis").With("addr", opts.Addr).Wrap(err)
	}
	return client, nil
}

func (p *RedisPresence) SetOnline(ctx context.Context, userID string) error {
	if err := p.client.Set(ctx, presenceKeyPrefix+userID, presenceOnline, p.ttl).Err(); err != nil {
		return oops.With("operation", "set online").With("user_id", userID).Wrap(err)
	}
	return nil
}

// SetOffline keeps a short-lived offline marker to avoid flicker between reconnects.
func (p *RedisPresence) SetOffline(ctx context.Context, userID string) error {
	if err := p.client.Set(ctx, presenceKeyPrefix+userID, presenceOfflineMarker, presenceOfflineLinger).Err(); err != nil {
		return oops.With("operation", "set offline").With("user_id", userID).Wrap(err)
	}
	return nil
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	val, err := p.client.Get(ctx, presenceKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, oops.With("operation", "get presence").With("user_id", userID).Wrap(err)
	}
	return val == presenceOnline, nil
}

var _ port.PresenceTracker = (*RedisPresence)(nil)
