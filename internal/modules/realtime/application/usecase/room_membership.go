package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"marketWs/internal/modules/realtime/application/port"
	"marketWs/internal/modules/realtime/domain"
)

const defaultHistoryLimit = 50

// RoomMembership manages live room membership and replays history on join.
// Joins and sends on the same room are serialized so a joiner sees its history before any
// message persisted after it.
type RoomMembership struct {
	hub          port.ConnectionHub
	store        port.MessageStore
	cache        *historyCache
	locks        *roomLocks
	historyLimit int
}

func NewRoomMembership(hub port.ConnectionHub, store port.MessageStore, historyLimit int) *RoomMembership {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &RoomMembership{
		hub:          hub,
		store:        store,
		cache:        newHistoryCache(historyLimit),
		locks:        newRoomLocks(),
		historyLimit: historyLimit,
	}
}

func (m *RoomMembership) Join(ctx context.Context, conn *domain.Connection, roomID string) (domain.ChatHistory, error) {
	if !conn.Authenticated() {
		return domain.ChatHistory{}, fmt.Errorf("%w: join requires an authenticated connection", domain.ErrAuth)
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return domain.ChatHistory{}, fmt.Errorf("%w: room id is required", domain.ErrValidation)
	}
	if !domain.CanAccessRoom(conn.UserID(), roomID) {
		return domain.ChatHistory{}, fmt.Errorf("%w: not a participant of %s", domain.ErrAuth, roomID)
	}

	unlock := m.locks.lock(roomID)
	defer unlock()

	if _, err := m.hub.Join(conn, roomID); err != nil {
		return domain.ChatHistory{}, err
	}
	history := m.loadHistory(ctx, roomID)
	if err := conn.Deliver(history); err != nil {
		slog.WarnContext(ctx, "ws chat history not delivered", slog.String("connectionId", conn.ID()), slog.String("roomId", roomID), slog.Any("error", err))
	}
	return history, nil
}

func (m *RoomMembership) loadHistory(ctx context.Context, roomID string) domain.ChatHistory {
	messages, err := m.store.History(ctx, roomID, m.historyLimit)
	if err == nil {
		m.cache.set(roomID, messages)
		if messages == nil {
			messages = []domain.ChatMessage{}
		}
		return domain.ChatHistory{RoomID: roomID, Messages: messages}
	}

	slog.ErrorContext(ctx, "chat history load failed", slog.String("roomId", roomID), slog.Any("error", err))
	if cached, ok := m.cache.get(roomID); ok {
		slog.InfoContext(ctx, "serving cached chat history", slog.String("roomId", roomID), slog.Time("fetchedAt", cached.fetchedAt))
		return domain.ChatHistory{RoomID: roomID, Messages: cached.messages, Stale: true}
	}
	return domain.ChatHistory{RoomID: roomID, Messages: []domain.ChatMessage{}, Stale: true}
}

// Leave is a no-op when conn is not a member.
func (m *RoomMembership) Leave(conn *domain.Connection, roomID string) bool {
	return m.hub.Leave(conn, strings.TrimSpace(roomID))
}

func (m *RoomMembership) MembersOf(roomID string) []*domain.Connection {
	return m.hub.Members(strings.TrimSpace(roomID))
}

// withRoom runs fn while holding roomID's lock.
func (m *RoomMembership) withRoom(roomID string, fn func()) {
	unlock := m.locks.lock(roomID)
	defer unlock()
	fn()
}

type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

// lock acquires roomID's lock and returns its release func. Entries are dropped once unused.
func (l *roomLocks) lock(roomID string) func() {
	l.mu.Lock()
	rl := l.locks[roomID]
	if rl == nil {
		rl = &roomLock{}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomID)
		}
		l.mu.Unlock()
	}
}
