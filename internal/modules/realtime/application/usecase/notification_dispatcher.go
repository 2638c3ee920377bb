package usecase

import (
	"context"
	"log/slog"
	"strings"

	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/platform/metrics"
)

// NotificationDispatcher pushes notifications to a user's live connections. It never persists:
// producers store the notification before dispatching it.
type NotificationDispatcher struct {
	broadcaster *BroadcastUseCase
	metrics     *metrics.Recorder
}

func NewNotificationDispatcher(broadcaster *BroadcastUseCase, rec *metrics.Recorder) *NotificationDispatcher {
	return &NotificationDispatcher{broadcaster: broadcaster, metrics: rec}
}

// Dispatch reports OutcomePending when target has no live connection accepting the push.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, target string, n domain.Notification) domain.DeliveryOutcome {
	target = strings.TrimSpace(target)
	if n.UserID == "" {
		n.UserID = target
	}
	if target == "" {
		return d.record(ctx, n, domain.OutcomePending)
	}
	return d.DispatchTo(ctx, d.broadcaster.hub.Resolve(target), n)
}

// DispatchTo pushes n to a chosen subset of the target's connections.
func (d *NotificationDispatcher) DispatchTo(ctx context.Context, conns []*domain.Connection, n domain.Notification) domain.DeliveryOutcome {
	outcome := domain.OutcomePending
	if d.broadcaster.Deliver(ctx, conns, domain.NewNotification{Notification: n}, nil) > 0 {
		outcome = domain.OutcomeDelivered
	}
	return d.record(ctx, n, outcome)
}

func (d *NotificationDispatcher) record(ctx context.Context, n domain.Notification, outcome domain.DeliveryOutcome) domain.DeliveryOutcome {
	d.metrics.NotificationDispatch(outcome.String())
	slog.DebugContext(ctx, "notification dispatched", slog.String("userId", n.UserID), slog.String("notificationId", n.ID), slog.String("type", string(n.Category)), slog.String("outcome", outcome.String()))
	return outcome
}
