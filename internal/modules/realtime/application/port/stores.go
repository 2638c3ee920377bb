package port

import (
	"context"

	"marketWs/internal/modules/realtime/domain"
)

// MessageStore persists chat messages. Implementations must return history oldest first.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg domain.ChatMessage) error
	History(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error)
	// MarkRead transitions the given messages to read for readerID and returns the ids that changed.
	MarkRead(ctx context.Context, roomID, readerID string, messageIDs []string) ([]string, error)
}

// NotificationStore is owned by notification producers and the pull API; the dispatcher never writes to it.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	// MarkNotificationRead returns domain.ErrNotFound when the notification does not belong to userID.
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

// PresenceTracker records which users have at least one live connection.
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}
