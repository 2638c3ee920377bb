package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketWs/internal/modules/realtime/domain"
)

// authServer answers an authenticate command with Authenticated and records the handshake
// Authorization header.
func authServer(t *testing.T, headers chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var cmd domain.Command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if cmd.Name() != domain.NormalizeCommandName(domain.CommandAuthenticate) {
				continue
			}
			raw, err := domain.Encode(domain.Authenticated{UserID: "u1", ConnectionID: "c1", DisplayName: "Ana"}, time.Now())
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWebsocketProvider_DialSendReceive(t *testing.T) {
	headers := make(chan string, 1)
	srv := authServer(t, headers)
	defer srv.Close()

	p := NewWebsocketProvider(wsURL(srv))
	require.True(t, p.Available())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := p.Dial(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", <-headers)

	cmd, err := domain.NewCommand(domain.CommandAuthenticate, domain.AuthenticateCommand{Token: "tok"})
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, cmd))

	raw, err := tr.Receive(ctx)
	require.NoError(t, err)
	ev, _, err := domain.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.Authenticated{UserID: "u1", ConnectionID: "c1", DisplayName: "Ana"}, ev)

	require.NoError(t, tr.Close())
	_, err = tr.Receive(ctx)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestWebsocketProvider_DialFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewWebsocketProvider(wsURL(srv)).Dial(context.Background(), "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.NotErrorIs(t, err, ErrUnavailable)

	var empty *WebsocketProvider
	assert.False(t, empty.Available())
	_, err = (&WebsocketProvider{}).Dial(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestManager_OverWebsocket(t *testing.T) {
	headers := make(chan string, 4)
	srv := authServer(t, headers)
	defer srv.Close()

	m := NewManager(NewWebsocketProvider(wsURL(srv)), Config{BaseDelay: time.Millisecond})
	authenticated := make(chan domain.Authenticated, 1)
	m.On(KindAuthenticated, func(ev Event) {
		authenticated <- ev.(Inbound).Event.(domain.Authenticated)
	})

	m.Connect("tok")
	select {
	case got := <-authenticated:
		assert.Equal(t, "u1", got.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("authenticated not received")
	}
	assert.Equal(t, StateConnected, m.State())

	m.Disconnect()
	assert.Equal(t, StateClosed, m.State())
}
