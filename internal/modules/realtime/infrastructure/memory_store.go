package infrastructure

import (
	"context"
	"sort"
	"sync"

	"marketWs/internal/modules/realtime/application/port"
	"marketWs/internal/modules/realtime/domain"
)

// MemoryStore keeps messages and notifications in process. It backs local runs without a
// database and the use case tests.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      map[string][]domain.ChatMessage
	notifications map[string][]domain.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:      make(map[string][]domain.ChatMessage),
		notifications: make(map[string][]domain.Notification),
	}
}

func (s *MemoryStore) SaveMessage(_ context.Context, msg domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], msg)
	return nil
}

func (s *MemoryStore) History(_ context.Context, roomID string, limit int) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// MarkRead only transitions messages the reader did not send.
func (s *MemoryStore) MarkRead(_ context.Context, roomID, readerID string, messageIDs []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []string
	msgs := s.messages[roomID]
	for i := range msgs {
		if _, ok := wanted[msgs[i].ID]; !ok {
			continue
		}
		if msgs[i].SenderID == readerID || msgs[i].Status == domain.StatusRead {
			continue
		}
		msgs[i].Status = domain.StatusRead
		changed = append(changed, msgs[i].ID)
	}
	return changed, nil
}

func (s *MemoryStore) SaveNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.UserID] = append(s.notifications[n.UserID], n)
	return nil
}

// ListNotifications returns the newest first.
func (s *MemoryStore) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.notifications[userID]
	out := make([]domain.Notification, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if unreadOnly && items[i].Read {
			continue
		}
		out = append(out, items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.notifications[userID] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.notifications[userID]
	for i := range items {
		if items[i].ID == notificationID {
			items[i].Read = true
			return nil
		}
	}
	return domain.ErrNotFound
}

// MemoryPresence is the single-instance presence tracker.
type MemoryPresence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{online: make(map[string]struct{})}
}

func (p *MemoryPresence) SetOnline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = struct{}{}
	return nil
}

func (p *MemoryPresence) SetOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
	return nil
}

func (p *MemoryPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok, nil
}

var (
	_ port.MessageStore      = (*MemoryStore)(nil)
	_ port.NotificationStore = (*MemoryStore)(nil)
	_ port.PresenceTracker   = (*MemoryPresence)(nil)
)
