package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketWs/internal/modules/realtime/application/usecase"
	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/modules/realtime/infrastructure"
	"marketWs/internal/platform/metrics"
	"marketWs/internal/shared/auth"
)

const testSecret = "transport-secret"

type server struct {
	*httptest.Server
	hub      *infrastructure.Hub
	store    *infrastructure.MemoryStore
	registry *usecase.ConnectionRegistry
}

func newServer(t *testing.T) *server {
	t.Helper()
	rec := metrics.NewWithRegistry(prometheus.NewRegistry())
	hub := infrastructure.NewHub()
	store := infrastructure.NewMemoryStore()
	validator := auth.NewJWTValidator(testSecret)

	broadcaster := usecase.NewBroadcastUseCase(hub, rec)
	dispatcher := usecase.NewNotificationDispatcher(broadcaster, rec)
	registry := usecase.NewConnectionRegistry(hub, validator, infrastructure.NewMemoryPresence(), broadcaster, rec)
	rooms := usecase.NewRoomMembership(hub, store, 0)
	router := usecase.NewMessageRouter(rooms, store, broadcaster, dispatcher, rec, 0)

	commands := infrastructure.NewCommandProcessor(rec)
	RegisterCommands(commands, registry, rooms, router)

	e := echo.New()
	RegisterRoutes(e, Routes{
		Websocket:     NewWebsocketHandler(registry, commands, WebsocketOptions{SendBuffer: 64}),
		Notifications: NewNotificationHandlers(usecase.NewNotificationService(store, dispatcher), "service"),
		Registry:      registry,
		Validator:     validator,
		Metrics:       rec.Handler(),
	})

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return &server{Server: srv, hub: hub, store: store, registry: registry}
}

func tokenFor(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	now := time.Now()
	tok, err := auth.IssueHS256(testSecret, auth.Claims{
		Name:  strings.ToUpper(userID[:1]) + userID[1:],
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return tok
}

func (s *server) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	cmd, err := domain.NewCommand(event, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(cmd))
}

// await reads frames until one decodes to T.
func await[T domain.Event](t *testing.T, ws *websocket.Conn) T {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err)
		ev, _, err := domain.Decode(raw)
		require.NoError(t, err)
		if typed, ok := ev.(T); ok {
			return typed
		}
	}
}

func (s *server) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	ws := s.dial(t, "?token="+tokenFor(t, userID))
	ack := await[domain.Authenticated](t, ws)
	require.Equal(t, userID, ack.UserID)
	return ws
}

func TestWebsocket_AuthenticateCommand(t *testing.T) {
	s := newServer(t)
	ws := s.dial(t, "")

	send(t, ws, domain.CommandAuthenticate, domain.AuthenticateCommand{UserID: "alice", Token: "garbage"})
	rejected := await[domain.AuthError](t, ws)
	assert.Equal(t, "invalid credential", rejected.Reason)

	send(t, ws, domain.CommandAuthenticate, domain.AuthenticateCommand{UserID: "alice", Token: tokenFor(t, "alice")})
	ack := await[domain.Authenticated](t, ws)
	assert.Equal(t, "alice", ack.UserID)
	assert.Equal(t, "Alice", ack.DisplayName)
	assert.NotEmpty(t, ack.ConnectionID)
}

func TestWebsocket_JoinAndSend(t *testing.T) {
	s := newServer(t)
	alice := s.connect(t, "alice")
	bob := s.connect(t, "bob")

	send(t, alice, domain.CommandJoinRoom, domain.JoinRoomCommand{RoomID: "job-42"})
	history := await[domain.ChatHistory](t, alice)
	assert.Equal(t, "job-42", history.RoomID)
	assert.Empty(t, history.Messages)

	send(t, bob, domain.CommandJoinRoom, domain.JoinRoomCommand{RoomID: "job-42"})
	await[domain.ChatHistory](t, bob)

	send(t, alice, domain.CommandSendMessage, domain.SendMessageCommand{RoomID: "job-42", Body: "  Hi Bob  ", ClientID: "c-1"})

	got := await[domain.NewMessage](t, bob)
	assert.Equal(t, "Hi Bob", got.Body)
	assert.Equal(t, "alice", got.SenderID)

	ack := await[domain.MessageSent](t, alice)
	assert.Equal(t, "c-1", ack.ClientID)
	assert.Equal(t, got.ID, ack.Message.ID)
}

func TestWebsocket_CommandErrorsKeepConnectionOpen(t *testing.T) {
	s := newServer(t)
	ws := s.dial(t, "")

	send(t, ws, domain.CommandJoinRoom, domain.JoinRoomCommand{RoomID: "job-42"})
	failed := await[domain.ErrorEvent](t, ws)
	assert.Equal(t, "auth", failed.Code)
	assert.Equal(t, domain.CommandJoinRoom, failed.Command)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	malformed := await[domain.ErrorEvent](t, ws)
	assert.Equal(t, "validation", malformed.Code)

	send(t, ws, domain.CommandPing, nil)
	await[domain.Pong](t, ws)
}

func TestWebsocket_DisconnectBroadcastsOffline(t *testing.T) {
	s := newServer(t)
	watcher := s.connect(t, "watcher")
	alice := s.connect(t, "alice")
	online := await[domain.UserOnline](t, watcher)
	assert.Equal(t, "alice", online.UserID)

	require.NoError(t, alice.Close())
	offline := await[domain.UserOffline](t, watcher)
	assert.Equal(t, "alice", offline.UserID)
	assert.Empty(t, s.registry.ResolveConnections("alice"))
}

func TestWebsocket_RejectsDisallowedOrigin(t *testing.T) {
	up := newUpgrader([]string{"https://market.example/"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(r))

	r.Header.Set("Origin", "https://MARKET.example")
	assert.True(t, up.CheckOrigin(r))

	r.Header.Del("Origin")
	assert.True(t, up.CheckOrigin(r))
}

func (s *server) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type publishedBody struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

func decodePublished(t *testing.T, resp *http.Response) publishedBody {
	t.Helper()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body publishedBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.ID)
	return body
}

func TestNotificationsAPI_PublishDeliversLive(t *testing.T) {
	s := newServer(t)
	freelancer := s.connect(t, "freelancer")

	resp := s.do(t, http.MethodPost, "/api/notifications", tokenFor(t, "jobs-service", "service"), PublishNotificationRequest{
		UserID:  "freelancer",
		Type:    "application_approved",
		Message: "You were hired",
		Payload: map[string]string{"jobId": "job-42"},
	})
	published := decodePublished(t, resp)
	assert.Equal(t, "delivered", published.Outcome)

	pushed := await[domain.NewNotification](t, freelancer)
	assert.Equal(t, published.ID, pushed.ID)
	assert.Equal(t, domain.CategoryApplicationApproved, pushed.Category)
	assert.Equal(t, "job-42", pushed.Payload["jobId"])
}

func TestNotificationsAPI_PullFlow(t *testing.T) {
	s := newServer(t)
	service := tokenFor(t, "jobs-service", "service")
	user := tokenFor(t, "freelancer")

	resp := s.do(t, http.MethodPost, "/api/notifications", service, PublishNotificationRequest{UserID: "freelancer", Type: "info", Message: "Welcome"})
	published := decodePublished(t, resp)
	assert.Equal(t, "pending", published.Outcome)

	resp = s.do(t, http.MethodGet, "/api/notifications/unread-count", user, nil)
	var count UnreadCountResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&count))
	assert.Equal(t, 1, count.Count)

	resp = s.do(t, http.MethodPost, "/api/notifications/"+published.ID+"/read", user, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/notifications?unread=true", user, nil)
	var list NotificationListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Empty(t, list.Items)

	resp = s.do(t, http.MethodPost, "/api/notifications/unknown/read", user, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotificationsAPI_Rejections(t *testing.T) {
	s := newServer(t)

	resp := s.do(t, http.MethodGet, "/api/notifications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/notifications", tokenFor(t, "freelancer"), PublishNotificationRequest{UserID: "x", Type: "info", Message: "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/notifications", tokenFor(t, "svc", "service"), PublishNotificationRequest{UserID: "x", Type: "fireworks", Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPresenceAndHealth(t *testing.T) {
	s := newServer(t)
	s.connect(t, "alice")
	token := tokenFor(t, "bob")

	resp := s.do(t, http.MethodGet, "/api/presence/alice", token, nil)
	var presence PresenceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presence))
	assert.True(t, presence.Online)

	resp = s.do(t, http.MethodGet, "/api/presence/carol", token, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presence))
	assert.False(t, presence.Online)

	resp = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
