package domain

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Connection is one live transport session. Its user identity is bound at most once.
type Connection struct {
	id          string
	connectedAt time.Time
	send        chan []byte

	mu          sync.RWMutex
	userID      string
	displayName string
	rooms       map[string]struct{}
	closed      bool
	closeHooks  []func(*Connection)
}

// NewConnection creates an unauthenticated connection with an outbound buffer of size buf.
func NewConnection(id string, buf int) *Connection {
	if buf <= 0 {
		buf = 1
	}
	return &Connection{
		id:          id,
		connectedAt: time.Now().UTC(),
		send:        make(chan []byte, buf),
		rooms:       make(map[string]struct{}),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// UserID returns the bound identity, or "" while unauthenticated.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// DisplayName falls back to the user id when no name was supplied.
func (c *Connection) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.displayName != "" {
		return c.displayName
	}
	return c.userID
}

func (c *Connection) Authenticated() bool {
	return c.UserID() != ""
}

// Bind attaches userID to the connection. Binding the same identity again is a no-op;
// binding a different identity fails with ErrAuth.
func (c *Connection) Bind(userID, displayName string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: empty user identity", ErrAuth)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if c.userID != "" && c.userID != userID {
		return fmt.Errorf("%w: connection already authenticated as another user", ErrAuth)
	}
	c.userID = userID
	if name := strings.TrimSpace(displayName); name != "" {
		c.displayName = name
	}
	return nil
}

// AddRoom records roomID and reports whether it was newly added.
func (c *Connection) AddRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; ok {
		return false
	}
	c.rooms[roomID] = struct{}{}
	return true
}

// RemoveRoom forgets roomID and reports whether it was present.
func (c *Connection) RemoveRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; !ok {
		return false
	}
	delete(c.rooms, roomID)
	return true
}

func (c *Connection) InRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Rooms returns the joined room ids in sorted order.
func (c *Connection) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Deliver encodes ev and queues it without blocking.
func (c *Connection) Deliver(ev Event) error {
	data, err := Encode(ev, time.Now())
	if err != nil {
		return err
	}
	return c.DeliverRaw(data)
}

// DeliverRaw queues an already encoded frame. Fan-out encodes once and calls this per member.
func (c *Connection) DeliverRaw(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Outbound is drained by the transport writer. It is closed when the connection closes.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

func (c *Connection) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// AddCloseHook registers fn to run once when the connection closes.
func (c *Connection) AddCloseHook(fn func(*Connection)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn(c)
		return
	}
	c.closeHooks = append(c.closeHooks, fn)
	c.mu.Unlock()
}

// Close marks the connection closed, closes the outbound buffer and runs close hooks.
// It reports whether this call performed the close.
func (c *Connection) Close() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	close(c.send)
	hooks := c.closeHooks
	c.closeHooks = nil
	c.mu.Unlock()

	for _, hook := range hooks {
		func(h func(*Connection)) {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("connection close hook panic", slog.String("connectionId", c.id), slog.Any("error", r))
				}
			}()
			h(c)
		}(hook)
	}
	return true
}
