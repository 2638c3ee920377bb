package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/modules/realtime/infrastructure"
	"marketWs/internal/platform/metrics"
	"marketWs/internal/shared/auth"
	"marketWs/internal/shared/ids"
)

const testSecret = "test-secret"

var errStoreDown = errors.New("store down")

// flakyStore wraps the in-memory store with switchable failures.
type flakyStore struct {
	*infrastructure.MemoryStore
	failHistory atomic.Bool
	failSave    atomic.Bool
	failRead    atomic.Bool
}

func (s *flakyStore) History(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error) {
	if s.failHistory.Load() {
		return nil, errStoreDown
	}
	return s.MemoryStore.History(ctx, roomID, limit)
}

func (s *flakyStore) SaveMessage(ctx context.Context, msg domain.ChatMessage) error {
	if s.failSave.Load() {
		return errStoreDown
	}
	return s.MemoryStore.SaveMessage(ctx, msg)
}

func (s *flakyStore) MarkRead(ctx context.Context, roomID, readerID string, messageIDs []string) ([]string, error) {
	if s.failRead.Load() {
		return nil, errStoreDown
	}
	return s.MemoryStore.MarkRead(ctx, roomID, readerID, messageIDs)
}

type fixture struct {
	hub         *infrastructure.Hub
	store       *flakyStore
	presence    *infrastructure.MemoryPresence
	broadcaster *BroadcastUseCase
	registry    *ConnectionRegistry
	rooms       *RoomMembership
	router      *MessageRouter
	dispatcher  *NotificationDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := metrics.NewWithRegistry(prometheus.NewRegistry())
	hub := infrastructure.NewHub()
	store := &flakyStore{MemoryStore: infrastructure.NewMemoryStore()}
	presence := infrastructure.NewMemoryPresence()
	broadcaster := NewBroadcastUseCase(hub, rec)
	dispatcher := NewNotificationDispatcher(broadcaster, rec)
	rooms := NewRoomMembership(hub, store, 0)
	f := &fixture{
		hub:         hub,
		store:       store,
		presence:    presence,
		broadcaster: broadcaster,
		registry:    NewConnectionRegistry(hub, auth.NewJWTValidator(testSecret), presence, broadcaster, rec),
		rooms:       rooms,
		router:      NewMessageRouter(rooms, store, broadcaster, dispatcher, rec, 0),
		dispatcher:  dispatcher,
	}
	t.Cleanup(hub.Close)
	return f
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now()
	tok, err := auth.IssueHS256(testSecret, auth.Claims{
		Name: "User " + userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return tok
}

func (f *fixture) open(buf int) *domain.Connection {
	conn := domain.NewConnection(ids.New(), buf)
	f.registry.Register(conn)
	return conn
}

// connect opens and authenticates a connection, then discards the frames it received so far.
func (f *fixture) connect(t *testing.T, userID string) *domain.Connection {
	t.Helper()
	conn := f.open(64)
	_, err := f.registry.Authenticate(context.Background(), conn, AuthenticateInput{UserID: userID, Token: tokenFor(t, userID)})
	require.NoError(t, err)
	drain(t, conn)
	return conn
}

func (f *fixture) join(t *testing.T, conn *domain.Connection, roomID string) domain.ChatHistory {
	t.Helper()
	history, err := f.rooms.Join(context.Background(), conn, roomID)
	require.NoError(t, err)
	drain(t, conn)
	return history
}

func drain(t *testing.T, conn *domain.Connection) []domain.Event {
	t.Helper()
	var out []domain.Event
	for {
		select {
		case raw, ok := <-conn.Outbound():
			if !ok {
				return out
			}
			ev, _, err := domain.Decode(raw)
			require.NoError(t, err)
			out = append(out, ev)
		default:
			return out
		}
	}
}

func ofKind[T domain.Event](events []domain.Event) []T {
	var out []T
	for _, ev := range events {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
