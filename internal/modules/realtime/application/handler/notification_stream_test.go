package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketWs/internal/modules/realtime/application/usecase"
	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/modules/realtime/infrastructure"
)

type harness struct {
	hub     *infrastructure.Hub
	handler *NotificationStreamHandler
}

func newHarness(t *testing.T, actions ...string) *harness {
	t.Helper()
	hub := infrastructure.NewHub()
	t.Cleanup(hub.Close)
	dispatcher := usecase.NewNotificationDispatcher(usecase.NewBroadcastUseCase(hub, nil), nil)
	return &harness{hub: hub, handler: NewNotificationStreamHandler("marketplace.notifications", actions, dispatcher)}
}

func (h *harness) online(t *testing.T, userID string) *domain.Connection {
	t.Helper()
	conn := domain.NewConnection(userID+"-conn", 8)
	h.hub.Register(conn)
	_, err := h.hub.Authenticate(conn, userID, "")
	require.NoError(t, err)
	return conn
}

func received(t *testing.T, conn *domain.Connection) []domain.NewNotification {
	t.Helper()
	var out []domain.NewNotification
	for {
		select {
		case raw := <-conn.Outbound():
			ev, _, err := domain.Decode(raw)
			require.NoError(t, err)
			if n, ok := ev.(domain.NewNotification); ok {
				out = append(out, n)
			}
		default:
			return out
		}
	}
}

func TestNotificationStreamHandler_BareRecord(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.online(t, "freelancer")

	err := h.handler.Handle(context.Background(), "", []byte(`{"id":"n-9","userId":"freelancer","type":"application_approved","message":"Hired","payload":{"jobId":"job-42"}}`))
	require.NoError(t, err)

	got := received(t, conn)
	require.Len(t, got, 1)
	assert.Equal(t, "n-9", got[0].ID)
	assert.Equal(t, domain.CategoryApplicationApproved, got[0].Category)
	assert.Equal(t, "job-42", got[0].Payload["jobId"])
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestNotificationStreamHandler_EnvelopeRecordUsesKeyAsTarget(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "created")
	conn := h.online(t, "freelancer")

	err := h.handler.Handle(context.Background(), "freelancer", []byte(`{"entity":"notification","action":"created","data":{"type":"info","message":"Profile viewed"}}`))
	require.NoError(t, err)

	got := received(t, conn)
	require.Len(t, got, 1)
	assert.Equal(t, "freelancer", got[0].UserID)
	assert.NotEmpty(t, got[0].ID)
}

func TestNotificationStreamHandler_SkipsFilteredActions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "created")
	conn := h.online(t, "freelancer")

	err := h.handler.Handle(context.Background(), "freelancer", []byte(`{"entity":"notification","action":"deleted","data":{"message":"gone"}}`))
	require.NoError(t, err)
	assert.Empty(t, received(t, conn))
}

func TestNotificationStreamHandler_RejectsInvalidRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, raw := range []string{
		`not json`,
		`{"userId":"freelancer","type":"gossip","message":"x"}`,
		`{"userId":"freelancer","type":"info"}`,
		`{"type":"info","message":"nobody to tell"}`,
	} {
		err := h.handler.Handle(context.Background(), "", []byte(raw))
		assert.ErrorIs(t, err, domain.ErrValidation, raw)
	}
}

func TestNotificationStreamHandler_OfflineTargetIsNotAnError(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := h.handler.Handle(context.Background(), "", []byte(`{"userId":"offline","message":"later"}`))
	require.NoError(t, err)
}
