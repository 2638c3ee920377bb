package port

import "marketWs/internal/modules/realtime/domain"

// ConnectionHub owns the connection registry and room membership maps.
// All mutation is serialized by the implementation.
type ConnectionHub interface {
	// Register tracks a freshly accepted, unauthenticated connection.
	Register(conn *domain.Connection)
	// Authenticate binds userID to conn and reports whether it is the user's first live connection.
	Authenticate(conn *domain.Connection, userID, displayName string) (first bool, err error)
	// Release forgets conn and all its memberships. last reports whether the user has no live
	// connection left; released is false when conn was already released.
	Release(conn *domain.Connection) (userID string, last bool, released bool)
	Resolve(userID string) []*domain.Connection
	Join(conn *domain.Connection, roomID string) (added bool, err error)
	Leave(conn *domain.Connection, roomID string) bool
	Members(roomID string) []*domain.Connection
	Connections() []*domain.Connection
	OnlineUsers() []string
}
