package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketWs/internal/modules/realtime/application/port"
	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/platform/metrics"
	"marketWs/internal/shared/ids"
)

const DefaultMaxBodyRunes = 4000

// SendInput addresses a room directly or a user through their direct room.
type SendInput struct {
	RoomID   string
	ToUser   string
	Body     string
	ClientID string
}

type MessageRouter struct {
	rooms       *RoomMembership
	store       port.MessageStore
	broadcaster *BroadcastUseCase
	dispatcher  *NotificationDispatcher
	metrics     *metrics.Recorder
	maxBody     int
	now         func() time.Time
}

func NewMessageRouter(rooms *RoomMembership, store port.MessageStore, broadcaster *BroadcastUseCase, dispatcher *NotificationDispatcher, rec *metrics.Recorder, maxBody int) *MessageRouter {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyRunes
	}
	return &MessageRouter{
		rooms:       rooms,
		store:       store,
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
		metrics:     rec,
		maxBody:     maxBody,
		now:         time.Now,
	}
}

// Send persists a message and fans it out to the room's current members, then acks the sender.
// Nothing is fanned out when persisting fails.
func (r *MessageRouter) Send(ctx context.Context, conn *domain.Connection, input SendInput) (domain.ChatMessage, error) {
	msg, err := r.send(ctx, conn, input)
	if err != nil {
		r.metrics.MessageSend(domain.ErrorCode(err))
		return domain.ChatMessage{}, err
	}
	r.metrics.MessageSend("sent")
	return msg, nil
}

func (r *MessageRouter) send(ctx context.Context, conn *domain.Connection, input SendInput) (domain.ChatMessage, error) {
	if !conn.Authenticated() {
		return domain.ChatMessage{}, fmt.Errorf("%w: send requires an authenticated connection", domain.ErrAuth)
	}
	body, err := domain.NormalizeBody(input.Body, r.maxBody)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	roomID, err := r.resolveRoom(conn.UserID(), input)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	now := r.now().UTC()
	msg := domain.ChatMessage{
		ID:         ids.NewAt(now),
		RoomID:     roomID,
		SenderID:   conn.UserID(),
		SenderName: conn.DisplayName(),
		Body:       body,
		CreatedAt:  now,
		Status:     domain.StatusSent,
		ClientID:   strings.TrimSpace(input.ClientID),
	}

	var saveErr error
	r.rooms.withRoom(roomID, func() {
		if saveErr = r.store.SaveMessage(ctx, msg); saveErr != nil {
			return
		}
		r.rooms.cache.append(msg)
		delivered := r.broadcaster.Deliver(ctx, r.rooms.MembersOf(roomID), domain.NewMessage{ChatMessage: msg}, nil)
		slog.DebugContext(ctx, "chat message routed", slog.String("roomId", roomID), slog.String("messageId", msg.ID), slog.Int("delivered", delivered))
	})
	if saveErr != nil {
		slog.ErrorContext(ctx, "chat message persist failed", slog.String("roomId", roomID), slog.String("userId", msg.SenderID), slog.Any("error", saveErr))
		return domain.ChatMessage{}, fmt.Errorf("%w: save message: %w", domain.ErrPersistence, saveErr)
	}

	r.notifyDirect(ctx, msg)
	if err := conn.Deliver(domain.MessageSent{Message: msg, ClientID: msg.ClientID}); err != nil {
		slog.WarnContext(ctx, "ws messageSent ack not delivered", slog.String("connectionId", conn.ID()), slog.String("messageId", msg.ID), slog.Any("error", err))
	}
	return msg, nil
}

func (r *MessageRouter) resolveRoom(senderID string, input SendInput) (string, error) {
	roomID := strings.TrimSpace(input.RoomID)
	toUser := strings.TrimSpace(input.ToUser)
	if roomID == "" && toUser != "" {
		if toUser == senderID {
			return "", fmt.Errorf("%w: cannot message yourself", domain.ErrValidation)
		}
		roomID = domain.DirectRoomID(senderID, toUser)
	}
	if roomID == "" {
		return "", fmt.Errorf("%w: room id or recipient is required", domain.ErrValidation)
	}
	if !domain.CanAccessRoom(senderID, roomID) {
		return "", fmt.Errorf("%w: not a participant of %s", domain.ErrAuth, roomID)
	}
	return roomID, nil
}

// notifyDirect nudges the recipient of a direct message on each of their connections that is
// not watching the room. The sender's own devices already get the newMessage fan-out when they
// watch the room and are not nudged about their own message. Offline recipients find the
// message in history.
func (r *MessageRouter) notifyDirect(ctx context.Context, msg domain.ChatMessage) {
	a, b, ok := domain.DirectRoomParticipants(msg.RoomID)
	if !ok {
		return
	}
	recipient := a
	if recipient == msg.SenderID {
		recipient = b
	}
	var targets []*domain.Connection
	for _, c := range r.broadcaster.hub.Resolve(recipient) {
		if !c.InRoom(msg.RoomID) {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		return
	}
	n := domain.Notification{
		ID:        ids.NewAt(msg.CreatedAt),
		UserID:    recipient,
		SenderID:  msg.SenderID,
		Category:  domain.CategoryMessageReceived,
		Message:   fmt.Sprintf("New message from %s", nameOr(msg.SenderName, msg.SenderID)),
		Payload:   map[string]string{"roomId": msg.RoomID, "messageId": msg.ID},
		CreatedAt: msg.CreatedAt,
	}
	if r.dispatcher != nil {
		r.dispatcher.DispatchTo(ctx, targets, n)
		return
	}
	r.broadcaster.Deliver(ctx, targets, domain.NewNotification{Notification: n}, nil)
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// Typing is best-effort and never persisted.
func (r *MessageRouter) Typing(ctx context.Context, conn *domain.Connection, roomID string) error {
	if !conn.Authenticated() {
		return fmt.Errorf("%w: typing requires an authenticated connection", domain.ErrAuth)
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return fmt.Errorf("%w: room id is required", domain.ErrValidation)
	}
	if !domain.CanAccessRoom(conn.UserID(), roomID) {
		return fmt.Errorf("%w: not a participant of %s", domain.ErrAuth, roomID)
	}
	r.broadcaster.Deliver(ctx, r.rooms.MembersOf(roomID), domain.UserTyping{
		RoomID:      roomID,
		UserID:      conn.UserID(),
		DisplayName: conn.DisplayName(),
	}, conn)
	return nil
}

// MarkRead transitions messages to read and tells the room which ones changed.
func (r *MessageRouter) MarkRead(ctx context.Context, conn *domain.Connection, roomID string, messageIDs []string) ([]string, error) {
	if !conn.Authenticated() {
		return nil, fmt.Errorf("%w: markRead requires an authenticated connection", domain.ErrAuth)
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, fmt.Errorf("%w: room id is required", domain.ErrValidation)
	}
	if !domain.CanAccessRoom(conn.UserID(), roomID) {
		return nil, fmt.Errorf("%w: not a participant of %s", domain.ErrAuth, roomID)
	}
	cleaned := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: message ids are required", domain.ErrValidation)
	}

	changed, err := r.store.MarkRead(ctx, roomID, conn.UserID(), cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: mark read: %w", domain.ErrPersistence, err)
	}
	if len(changed) == 0 {
		return changed, nil
	}
	r.rooms.cache.markRead(roomID, changed)
	r.broadcaster.ToRoom(ctx, roomID, domain.MessagesRead{RoomID: roomID, UserID: conn.UserID(), MessageIDs: changed}, nil)
	return changed, nil
}
