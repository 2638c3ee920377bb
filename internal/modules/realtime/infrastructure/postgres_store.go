package infrastructure

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"marketWs/internal/modules/realtime/application/port"
	"marketWs/internal/modules/realtime/domain"
)

//go:embed migrations/001_realtime.sql
var migrationSQL string

// poolIface is the subset of pgxpool.Pool the store uses; pgxmock implements it in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists chat messages and notifications.
type PostgresStore struct {
	pool poolIface
}

func NewPostgresStore(pool poolIface) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ConnectPostgres opens a pool and verifies the database answers.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.With("operation", "connect postgres").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.With("operation", "ping postgres").Wrap(err)
	}
	return pool, nil
}

// Migrate creates the tables when missing. It is safe to run on every start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return oops.With("operation", "migrate realtime schema").Wrap(err)
	}
	return nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, msg domain.ChatMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, room_id, sender_id, sender_name, body, status, client_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.Body, string(msg.Status), msg.ClientID, msg.CreatedAt)
	if err != nil {
		return oops.With("operation", "save message").With("room_id", msg.RoomID).With("message_id", msg.ID).Wrap(err)
	}
	return nil
}

// History returns the newest limit messages of roomID, oldest first. A limit of zero returns all.
func (s *PostgresStore) History(ctx context.Context, roomID string, limit int) ([]domain.ChatMessage, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, sender_id, sender_name, body, status, client_id, created_at FROM (
		   SELECT id, room_id, sender_id, sender_name, body, status, client_id, created_at
		   FROM chat_messages WHERE room_id = $1 ORDER BY id DESC LIMIT $2
		 ) recent ORDER BY id ASC`,
		roomID, limitArg)
	if err != nil {
		return nil, oops.With("operation", "load history").With("room_id", roomID).Wrap(err)
	}
	defer rows.Close()

	messages := make([]domain.ChatMessage, 0)
	for rows.Next() {
		var msg domain.ChatMessage
		var status string
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.Body, &status, &msg.ClientID, &msg.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan message row").With("room_id", roomID).Wrap(err)
		}
		msg.Status = domain.MessageStatus(status)
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate history").With("room_id", roomID).Wrap(err)
	}
	return messages, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, roomID, readerID string, messageIDs []string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE chat_messages SET status = 'read'
		 WHERE room_id = $1 AND id = ANY($2) AND sender_id <> $3 AND status <> 'read'
		 RETURNING id`,
		roomID, messageIDs, readerID)
	if err != nil {
		return nil, oops.With("operation", "mark messages read").With("room_id", roomID).Wrap(err)
	}
	defer rows.Close()

	var changed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, oops.With("operation", "scan read message id").With("room_id", roomID).Wrap(err)
		}
		changed = append(changed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate read message ids").With("room_id", roomID).Wrap(err)
	}
	return changed, nil
}

func (s *PostgresStore) SaveNotification(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(nonNilPayload(n.Payload))
	if err != nil {
		return oops.With("operation", "encode notification payload").With("notification_id", n.ID).Wrap(err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, sender_id, type, message, payload, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, n.SenderID, string(n.Category), n.Message, payload, n.Read, n.CreatedAt)
	if err != nil {
		return oops.With("operation", "save notification").With("user_id", n.UserID).With("notification_id", n.ID).Wrap(err)
	}
	return nil
}

// ListNotifications returns the newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, sender_id, type, message, payload, read, created_at
		 FROM notifications
		 WHERE user_id = $1 AND ($2 = FALSE OR read = FALSE)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		userID, unreadOnly, limit)
	if err != nil {
		return nil, oops.With("operation", "list notifications").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	items := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		var category string
		var payload []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.SenderID, &category, &n.Message, &payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan notification row").With("user_id", userID).Wrap(err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &n.Payload); err != nil {
				return nil, oops.With("operation", "decode notification payload").With("notification_id", n.ID).Wrap(err)
			}
		}
		n.Category = domain.Category(category)
		n.CreatedAt = n.CreatedAt.UTC()
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate notifications").With("user_id", userID).Wrap(err)
	}
	return items, nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read = FALSE`,
		userID).Scan(&count)
	if err != nil {
		return 0, oops.With("operation", "count unread notifications").With("user_id", userID).Wrap(err)
	}
	return count, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`,
		notificationID, userID)
	if err != nil {
		return oops.With("operation", "mark notification read").With("notification_id", notificationID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: notification %s", domain.ErrNotFound, notificationID)
	}
	return nil
}

func nonNilPayload(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return p
}

var (
	_ port.MessageStore      = (*PostgresStore)(nil)
	_ port.NotificationStore = (*PostgresStore)(nil)
)
