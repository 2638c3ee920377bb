package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"marketWs/internal/modules/realtime/application/port"
	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/platform/metrics"
)

// BroadcastUseCase fans events out to connections. Delivery never blocks: a connection whose
// buffer is full is closed, and its close hook releases it from the hub.
type BroadcastUseCase struct {
	hub     port.ConnectionHub
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewBroadcastUseCase(hub port.ConnectionHub, rec *metrics.Recorder) *BroadcastUseCase {
	return &BroadcastUseCase{hub: hub, metrics: rec, now: time.Now}
}

// Execute pushes ev to every authenticated connection except exclude and returns the number of
// connections that accepted it.
func (uc *BroadcastUseCase) Execute(ctx context.Context, ev domain.Event, exclude *domain.Connection) int {
	conns := uc.hub.Connections()
	targets := conns[:0:0]
	for _, c := range conns {
		if c.Authenticated() {
			targets = append(targets, c)
		}
	}
	return uc.Deliver(ctx, targets, ev, exclude)
}

// ToRoom pushes ev to the current members of roomID except exclude.
func (uc *BroadcastUseCase) ToRoom(ctx context.Context, roomID string, ev domain.Event, exclude *domain.Connection) int {
	return uc.Deliver(ctx, uc.hub.Members(roomID), ev, exclude)
}

// ToUser pushes ev to every live connection of userID.
func (uc *BroadcastUseCase) ToUser(ctx context.Context, userID string, ev domain.Event) int {
	return uc.Deliver(ctx, uc.hub.Resolve(userID), ev, nil)
}

// Deliver encodes ev once and queues the frame on every connection in conns.
func (uc *BroadcastUseCase) Deliver(ctx context.Context, conns []*domain.Connection, ev domain.Event, exclude *domain.Connection) int {
	if len(conns) == 0 {
		return 0
	}
	event := ev.Kind().String()
	data, err := domain.Encode(ev, uc.now())
	if err != nil {
		slog.ErrorContext(ctx, "broadcast encode failed", slog.String("event", event), slog.Any("error", err))
		return 0
	}

	delivered := 0
	for _, c := range conns {
		if c == nil || c == exclude {
			continue
		}
		err := c.DeliverRaw(data)
		switch {
		case err == nil:
			delivered++
			uc.metrics.Delivery(event, "delivered")
		case errors.Is(err, domain.ErrBufferFull):
			uc.metrics.Delivery(event, "dropped")
			slog.WarnContext(ctx, "ws slow consumer released", slog.String("connectionId", c.ID()), slog.String("userId", c.UserID()), slog.String("event", event))
			go c.Close()
		default:
			uc.metrics.Delivery(event, "closed")
		}
	}
	return delivered
}
