package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketWs/internal/modules/realtime/application/port"
	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/platform/metrics"
	"marketWs/internal/shared/auth"
)

const (
	presenceQueueSize      = 256
	defaultPresenceTimeout = 2 * time.Second
	defaultPresenceRefresh = 2 * time.Minute
)

type AuthenticateInput struct {
	UserID string
	Token  string
}

type presenceUpdate struct {
	userID string
	online bool
}

// ConnectionRegistry authenticates connections and keeps presence in sync with the hub.
type ConnectionRegistry struct {
	hub             port.ConnectionHub
	validator       auth.TokenValidator
	presence        port.PresenceTracker
	broadcaster     *BroadcastUseCase
	metrics         *metrics.Recorder
	presenceTimeout time.Duration
	presenceRefresh time.Duration
	updates         chan presenceUpdate
}

// NewConnectionRegistry wires the registry. presence may be nil when no tracker is configured.
func NewConnectionRegistry(hub port.ConnectionHub, validator auth.TokenValidator, presence port.PresenceTracker, broadcaster *BroadcastUseCase, rec *metrics.Recorder) *ConnectionRegistry {
	return &ConnectionRegistry{
		hub:             hub,
		validator:       validator,
		presence:        presence,
		broadcaster:     broadcaster,
		metrics:         rec,
		presenceTimeout: defaultPresenceTimeout,
		presenceRefresh: defaultPresenceRefresh,
		updates:         make(chan presenceUpdate, presenceQueueSize),
	}
}

// Register tracks a newly accepted connection. Closing the connection releases it.
func (r *ConnectionRegistry) Register(conn *domain.Connection) {
	r.hub.Register(conn)
	r.metrics.ConnectionOpened()
	conn.AddCloseHook(func(c *domain.Connection) {
		r.Release(context.Background(), c)
	})
}

func (r *ConnectionRegistry) Authenticate(ctx context.Context, conn *domain.Connection, input AuthenticateInput) (*domain.Authenticated, error) {
	token := strings.TrimSpace(input.Token)
	if token == "" {
		return nil, r.reject(ctx, conn, "missing credential", fmt.Errorf("%w: %w", domain.ErrAuth, auth.ErrMissingToken))
	}

	claims, err := r.validator.Validate(token)
	if err != nil {
		slog.WarnContext(ctx, "ws token validation failed", slog.String("connectionId", conn.ID()), slog.Any("error", err))
		return nil, r.reject(ctx, conn, "invalid credential", fmt.Errorf("%w: %w", domain.ErrAuth, err))
	}
	if !claims.Matches(input.UserID) {
		return nil, r.reject(ctx, conn, "credential does not match user", fmt.Errorf("%w: claimed identity %q does not match credential", domain.ErrAuth, input.UserID))
	}

	first, err := r.hub.Authenticate(conn, claims.UserID(), claims.DisplayName())
	if err != nil {
		if errors.Is(err, domain.ErrConnectionClosed) {
			return nil, err
		}
		return nil, r.reject(ctx, conn, "connection already bound to another user", err)
	}

	ack := domain.Authenticated{UserID: conn.UserID(), ConnectionID: conn.ID(), DisplayName: conn.DisplayName()}
	if err := conn.Deliver(ack); err != nil {
		slog.WarnContext(ctx, "ws authenticated ack not delivered", slog.String("connectionId", conn.ID()), slog.Any("error", err))
	}
	r.metrics.ConnectionAuthenticated()
	slog.InfoContext(ctx, "ws user authenticated", slog.String("userId", ack.UserID), slog.String("connectionId", conn.ID()), slog.Bool("firstConnection", first))

	if first {
		r.enqueuePresence(ack.UserID, true)
		r.broadcaster.Execute(ctx, domain.UserOnline{UserID: ack.UserID}, conn)
	}
	return &ack, nil
}

func (r *ConnectionRegistry) reject(ctx context.Context, conn *domain.Connection, reason string, err error) error {
	if derr := conn.Deliver(domain.AuthError{Reason: reason}); derr != nil {
		slog.DebugContext(ctx, "ws authError not delivered", slog.String("connectionId", conn.ID()), slog.Any("error", derr))
	}
	return err
}

// ResolveConnections returns every live connection of userID, empty when offline.
func (r *ConnectionRegistry) ResolveConnections(userID string) []*domain.Connection {
	return r.hub.Resolve(userID)
}

// IsOnline answers from the hub first and falls back to the shared presence tracker so other
// instances' users are visible too.
func (r *ConnectionRegistry) IsOnline(ctx context.Context, userID string) (bool, error) {
	if len(r.hub.Resolve(userID)) > 0 {
		return true, nil
	}
	if r.presence == nil {
		return false, nil
	}
	online, err := r.presence.IsOnline(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: presence lookup: %w", domain.ErrPersistence, err)
	}
	return online, nil
}

// Release is idempotent. The user's last connection going away marks them offline.
func (r *ConnectionRegistry) Release(ctx context.Context, conn *domain.Connection) {
	userID, last, released := r.hub.Release(conn)
	if !released {
		return
	}
	r.metrics.ConnectionReleased()
	if userID == "" || !last {
		return
	}
	r.enqueuePresence(userID, false)
	r.broadcaster.Execute(ctx, domain.UserOffline{UserID: userID}, conn)
}

func (r *ConnectionRegistry) enqueuePresence(userID string, online bool) {
	if r.presence == nil {
		return
	}
	select {
	case r.updates <- presenceUpdate{userID: userID, online: online}:
	default:
		slog.Warn("presence update dropped, queue full", slog.String("userId", userID), slog.Bool("online", online))
	}
}

// WithPresenceRefresh sets how often online users are re-announced to the tracker. It must stay
// below the tracker's expiry.
func (r *ConnectionRegistry) WithPresenceRefresh(every time.Duration) *ConnectionRegistry {
	if every > 0 {
		r.presenceRefresh = every
	}
	return r
}

// RunPresence applies queued presence updates in order until ctx is done and periodically
// refreshes every locally online user.
func (r *ConnectionRegistry) RunPresence(ctx context.Context) {
	if r.presence == nil {
		return
	}
	refresh := time.NewTicker(r.presenceRefresh)
	defer refresh.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-r.updates:
			r.applyPresence(ctx, u)
		case <-refresh.C:
			for _, userID := range r.hub.OnlineUsers() {
				r.applyPresence(ctx, presenceUpdate{userID: userID, online: true})
			}
		}
	}
}

func (r *ConnectionRegistry) applyPresence(ctx context.Context, u presenceUpdate) {
	ctx, cancel := context.WithTimeout(ctx, r.presenceTimeout)
	defer cancel()
	var err error
	if u.online {
		err = r.presence.SetOnline(ctx, u.userID)
	} else {
		err = r.presence.SetOffline(ctx, u.userID)
	}
	if err != nil {
		slog.Warn("presence update failed", slog.String("userId", u.userID), slog.Bool("online", u.online), slog.Any("error", err))
	}
}
