package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketWs/internal/modules/realtime/application/port"
	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/shared/ids"
)

const (
	defaultNotificationPage = 50
	maxNotificationPage     = 200
)

// NotificationService is the producer and pull surface over the notification store.
type NotificationService struct {
	store      port.NotificationStore
	dispatcher *NotificationDispatcher
	now        func() time.Time
}

func NewNotificationService(store port.NotificationStore, dispatcher *NotificationDispatcher) *NotificationService {
	return &NotificationService{store: store, dispatcher: dispatcher, now: time.Now}
}

type PublishNotificationInput struct {
	UserID   string
	SenderID string
	Category string
	Message  string
	Payload  map[string]string
}

// Publish stores the notification then dispatches it.
func (s *NotificationService) Publish(ctx context.Context, input PublishNotificationInput) (domain.Notification, domain.DeliveryOutcome, error) {
	category, ok := domain.ParseCategory(input.Category)
	if !ok {
		return domain.Notification{}, domain.OutcomePending, fmt.Errorf("%w: unknown notification type %q", domain.ErrValidation, input.Category)
	}
	now := s.now().UTC()
	n := domain.Notification{
		ID:        ids.NewAt(now),
		UserID:    strings.TrimSpace(input.UserID),
		SenderID:  strings.TrimSpace(input.SenderID),
		Category:  category,
		Message:   strings.TrimSpace(input.Message),
		Payload:   input.Payload,
		CreatedAt: now,
	}
	if err := n.Validate(); err != nil {
		return domain.Notification{}, domain.OutcomePending, err
	}
	if err := s.store.SaveNotification(ctx, n); err != nil {
		return domain.Notification{}, domain.OutcomePending, fmt.Errorf("%w: save notification: %w", domain.ErrPersistence, err)
	}
	return n, s.dispatcher.Dispatch(ctx, n.UserID, n), nil
}

func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	switch {
	case limit <= 0:
		limit = defaultNotificationPage
	case limit > maxNotificationPage:
		limit = maxNotificationPage
	}
	items, err := s.store.ListNotifications(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list notifications: %w", domain.ErrPersistence, err)
	}
	if items == nil {
		items = []domain.Notification{}
	}
	return items, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.store.UnreadCount(ctx, strings.TrimSpace(userID))
	if err != nil {
		return 0, fmt.Errorf("%w: unread count: %w", domain.ErrPersistence, err)
	}
	return count, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	err := s.store.MarkNotificationRead(ctx, strings.TrimSpace(userID), notificationID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return err
	default:
		return fmt.Errorf("%w: mark notification read: %w", domain.ErrPersistence, err)
	}
}
