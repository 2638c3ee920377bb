package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketWs/internal/modules/realtime/application/port"
	"marketWs/internal/modules/realtime/application/usecase"
	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/shared/ids"
)

// NotificationStreamHandler pushes notification events published by other services to the
// target user's live connections. Producers persist before publishing.
type NotificationStreamHandler struct {
	kafkaTopic     string
	allowedActions map[string]struct{}
	dispatcher     *usecase.NotificationDispatcher
	now            func() time.Time
}

func NewNotificationStreamHandler(kafkaTopic string, allowedActions []string, dispatcher *usecase.NotificationDispatcher) *NotificationStreamHandler {
	actionSet := make(map[string]struct{}, len(allowedActions))
	for _, a := range allowedActions {
		if v := strings.TrimSpace(strings.ToLower(a)); v != "" {
			actionSet[v] = struct{}{}
		}
	}
	return &NotificationStreamHandler{
		kafkaTopic:     kafkaTopic,
		allowedActions: actionSet,
		dispatcher:     dispatcher,
		now:            time.Now,
	}
}

func (h *NotificationStreamHandler) Topic() string { return h.kafkaTopic }

type notificationPayload struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	SenderID  string            `json:"senderId"`
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Payload   map[string]string `json:"payload"`
	CreatedAt time.Time         `json:"createdAt"`
	Read      bool              `json:"read"`
}

// notificationRecord accepts both a bare notification and the entity/action envelope other
// services publish, where the notification sits under data.
type notificationRecord struct {
	Entity string               `json:"entity"`
	Action string               `json:"action"`
	Data   *notificationPayload `json:"data"`
	notificationPayload
}

// Handle returns an ErrValidation wrapped error for records that cannot be dispatched.
func (h *NotificationStreamHandler) Handle(ctx context.Context, key string, value []byte) error {
	var record notificationRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return fmt.Errorf("%w: decode notification record: %v", domain.ErrValidation, err)
	}
	if len(h.allowedActions) > 0 && record.Action != "" {
		if _, ok := h.allowedActions[strings.ToLower(record.Action)]; !ok {
			return nil
		}
	}

	payload := record.notificationPayload
	if record.Data != nil {
		payload = *record.Data
	}
	n, err := h.toNotification(payload, key)
	if err != nil {
		return err
	}

	outcome := h.dispatcher.Dispatch(ctx, n.UserID, n)
	slog.InfoContext(ctx, "notification event dispatched", slog.String("topic", h.kafkaTopic), slog.String("userId", n.UserID), slog.String("notificationId", n.ID), slog.String("outcome", outcome.String()))
	return nil
}

func (h *NotificationStreamHandler) toNotification(p notificationPayload, key string) (domain.Notification, error) {
	category, ok := domain.ParseCategory(p.Type)
	if !ok {
		return domain.Notification{}, fmt.Errorf("%w: unknown notification type %q", domain.ErrValidation, p.Type)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = h.now()
	}
	n := domain.Notification{
		ID:        strings.TrimSpace(p.ID),
		UserID:    strings.TrimSpace(p.UserID),
		SenderID:  strings.TrimSpace(p.SenderID),
		Category:  category,
		Message:   strings.TrimSpace(p.Message),
		Payload:   p.Payload,
		CreatedAt: createdAt.UTC(),
		Read:      p.Read,
	}
	if n.UserID == "" {
		n.UserID = strings.TrimSpace(key)
	}
	if n.ID == "" {
		n.ID = ids.NewAt(n.CreatedAt)
	}
	if err := n.Validate(); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

var _ port.EventHandler = (*NotificationStreamHandler)(nil)
