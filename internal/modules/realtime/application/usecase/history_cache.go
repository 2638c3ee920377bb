package usecase

import (
	"strings"
	"sync"
	"time"

	"marketWs/internal/modules/realtime/domain"
)

// historyCache keeps the last good history per room so a join can still be served
// when the message store is unavailable.
type historyCache struct {
	mu      sync.RWMutex
	limit   int
	entries map[string]*historyCacheEntry
}

type historyCacheEntry struct {
	roomID    string
	messages  []domain.ChatMessage
	fetchedAt time.Time
}

func newHistoryCache(limit int) *historyCache {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &historyCache{limit: limit, entries: make(map[string]*historyCacheEntry)}
}

func (c *historyCache) set(roomID string, messages []domain.ChatMessage) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[roomID] = &historyCacheEntry{
		roomID:    roomID,
		messages:  c.tail(messages),
		fetchedAt: time.Now().UTC(),
	}
}

// append records a freshly persisted message on an already cached room.
// Rooms that were never loaded stay uncached.
func (c *historyCache) append(msg domain.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.entries[msg.RoomID]
	if entry == nil {
		return
	}
	entry.messages = c.tail(append(entry.messages, msg))
}

func (c *historyCache) get(roomID string) (*historyCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[strings.TrimSpace(roomID)]
	if !ok {
		return nil, false
	}
	return entry.clone(), true
}

// markRead mirrors a store read transition so a fallback history does not resurrect unread state.
func (c *historyCache) markRead(roomID string, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	ids := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.entries[strings.TrimSpace(roomID)]
	if entry == nil {
		return
	}
	for i := range entry.messages {
		if _, ok := ids[entry.messages[i].ID]; ok {
			entry.messages[i].Status = domain.StatusRead
		}
	}
}

func (c *historyCache) tail(messages []domain.ChatMessage) []domain.ChatMessage {
	if len(messages) > c.limit {
		messages = messages[len(messages)-c.limit:]
	}
	out := make([]domain.ChatMessage, len(messages))
	copy(out, messages)
	return out
}

func (e *historyCacheEntry) clone() *historyCacheEntry {
	if e == nil {
		return nil
	}
	cloned := *e
	cloned.messages = make([]domain.ChatMessage, len(e.messages))
	copy(cloned.messages, e.messages)
	return &cloned
}
