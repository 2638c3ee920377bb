package infrastructure

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"marketWs/internal/modules/realtime/application/port"
	"marketWs/internal/modules/realtime/domain"
)

// Hub is the process-wide connection registry and room membership table.
// It is constructed at startup and closed at shutdown; tests build isolated instances.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*domain.Connection
	users       map[string]map[*domain.Connection]struct{}
	rooms       map[string]map[*domain.Connection]struct{}
	closed      bool
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*domain.Connection),
		users:       make(map[string]map[*domain.Connection]struct{}),
		rooms:       make(map[string]map[*domain.Connection]struct{}),
	}
}

func (h *Hub) Register(c *domain.Connection) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return
	}
	h.connections[c.ID()] = c
	h.mu.Unlock()
	slog.Debug("ws connection registered", slog.String("connectionId", c.ID()))
}

func (h *Hub) Authenticate(c *domain.Connection, userID, displayName string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c.ID()]; !ok {
		return false, domain.ErrConnectionClosed
	}
	if err := c.Bind(userID, displayName); err != nil {
		return false, err
	}
	userID = c.UserID()
	set := h.users[userID]
	if set == nil {
		set = make(map[*domain.Connection]struct{})
		h.users[userID] = set
	}
	if _, already := set[c]; already {
		return false, nil
	}
	set[c] = struct{}{}
	slog.Info("ws connection authenticated", slog.String("userId", userID), slog.String("connectionId", c.ID()), slog.Int("userConnections", len(set)))
	return len(set) == 1, nil
}

func (h *Hub) Release(c *domain.Connection) (string, bool, bool) {
	if c == nil {
		return "", false, false
	}
	h.mu.Lock()
	userID, last, released := h.releaseLocked(c)
	h.mu.Unlock()
	if released {
		c.Close()
		slog.Info("ws connection released", slog.String("userId", userID), slog.String("connectionId", c.ID()), slog.Bool("lastForUser", last))
	}
	return userID, last, released
}

func (h *Hub) releaseLocked(c *domain.Connection) (string, bool, bool) {
	if existing, ok := h.connections[c.ID()]; !ok || existing != c {
		return c.UserID(), false, false
	}
	delete(h.connections, c.ID())
	for _, room := range c.Rooms() {
		h.leaveLocked(c, room)
	}
	userID := c.UserID()
	last := false
	if set, ok := h.users[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, userID)
			last = true
		}
	}
	return userID, last, true
}

func (h *Hub) Resolve(userID string) []*domain.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedConnections(h.users[strings.TrimSpace(userID)])
}

func (h *Hub) Join(c *domain.Connection, roomID string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c.ID()]; !ok {
		return false, domain.ErrConnectionClosed
	}
	if !c.Authenticated() {
		return false, fmt.Errorf("%w: join requires an authenticated connection", domain.ErrAuth)
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*domain.Connection]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	added := c.AddRoom(roomID)
	if added {
		slog.Debug("ws room joined", slog.String("userId", c.UserID()), slog.String("connectionId", c.ID()), slog.String("roomId", roomID))
	}
	return added, nil
}

func (h *Hub) Leave(c *domain.Connection, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := h.leaveLocked(c, roomID)
	if removed {
		slog.Debug("ws room left", slog.String("userId", c.UserID()), slog.String("connectionId", c.ID()), slog.String("roomId", roomID))
	}
	return removed
}

func (h *Hub) leaveLocked(c *domain.Connection, roomID string) bool {
	if subs, ok := h.rooms[roomID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}
	return c.RemoveRoom(roomID)
}

func (h *Hub) Members(roomID string) []*domain.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedConnections(h.rooms[roomID])
}

func (h *Hub) Connections() []*domain.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*domain.Connection, 0, len(h.connections))
	for _, c := range h.connections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.users))
	for user := range h.users {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// Close releases every connection and rejects further registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*domain.Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	for _, c := range conns {
		h.releaseLocked(c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	slog.Info("ws hub closed", slog.Int("connections", len(conns)))
}

func sortedConnections(set map[*domain.Connection]struct{}) []*domain.Connection {
	out := make([]*domain.Connection, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

var _ port.ConnectionHub = (*Hub)(nil)
