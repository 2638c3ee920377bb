package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketWs/internal/modules/realtime/domain"
)

// ErrUnavailable is returned by providers that cannot open a transport at all.
var ErrUnavailable = fmt.Errorf("%w: transport unavailable", domain.ErrTransport)

// Transport is one live connection to the server.
type Transport interface {
	Send(ctx context.Context, cmd domain.Command) error
	// Receive blocks for the next frame. It fails once the transport is closed.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// TransportProvider opens transports. Available reports whether Dial can ever succeed.
type TransportProvider interface {
	Available() bool
	Dial(ctx context.Context, token string) (Transport, error)
}

// LocalOnlyProvider never connects; the manager keeps working local-only.
type LocalOnlyProvider struct{}

func (LocalOnlyProvider) Available() bool { return false }

func (LocalOnlyProvider) Dial(context.Context, string) (Transport, error) {
	return nil, ErrUnavailable
}

// WebsocketProvider dials the server's /ws endpoint, passing the token on the handshake.
type WebsocketProvider struct {
	URL    string
	Dialer *websocket.Dialer
	Header http.Header
	// WriteWait bounds each frame write.
	WriteWait time.Duration
}

func NewWebsocketProvider(rawURL string) *WebsocketProvider {
	return &WebsocketProvider{URL: rawURL, Dialer: websocket.DefaultDialer, WriteWait: 10 * time.Second}
}

func (p *WebsocketProvider) Available() bool { return p != nil && p.URL != "" }

func (p *WebsocketProvider) Dial(ctx context.Context, token string) (Transport, error) {
	if !p.Available() {
		return nil, ErrUnavailable
	}
	target, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %w", domain.ErrTransport, err)
	}
	header := p.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, target.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrTransport, target.Host, err)
	}
	writeWait := p.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &websocketTransport{conn: conn, writeWait: writeWait}, nil
}

type websocketTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
	writeMu   sync.Mutex
}

func (t *websocketTransport) Send(ctx context.Context, cmd domain.Command) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline := time.Now().Add(t.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("%w: write %s: %w", domain.ErrTransport, cmd.Event, err)
	}
	return nil
}

func (t *websocketTransport) Receive(context.Context) ([]byte, error) {
	_, raw, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", domain.ErrTransport, err)
	}
	return raw, nil
}

// Close sends a close frame when possible and releases the socket. Receive unblocks with an
// error afterwards.
func (t *websocketTransport) Close() error {
	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.writeMu.Unlock()
	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
