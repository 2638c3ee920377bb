package domain

import "errors"

// Error taxonomy shared by the delivery side and the client manager.
var (
	// ErrAuth indicates a missing or invalid credential; the connection stays unauthenticated.
	ErrAuth = errors.New("authentication failed")
	// ErrValidation rejects a request locally; nothing is persisted or fanned out.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence reports an external store failure; the operation is considered not done.
	ErrPersistence = errors.New("persistence failed")
	// ErrTransport reports a network level failure.
	ErrTransport = errors.New("transport failure")
	// ErrNotFound marks an unknown room or target.
	ErrNotFound = errors.New("not found")

	ErrConnectionClosed = errors.New("connection closed")
	ErrBufferFull       = errors.New("connection send buffer full")
)

// ErrorCode returns the wire code used in error events for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
