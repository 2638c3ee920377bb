package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"marketWs/internal/modules/realtime/domain"
)

// ClientConfig tunes the per-socket pumps.
type ClientConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

// DefaultClientConfig mirrors the keep-alive timings used in production.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     30 * time.Second,
		MaxMessageSize: 1 << 16,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig()
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait / 2
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	return c
}

// Client binds a gorilla socket to a domain connection: the write pump drains the connection's
// outbound buffer and the read pump feeds commands to the processor.
type Client struct {
	conn     *domain.Connection
	ws       *websocket.Conn
	commands *CommandProcessor
	cfg      ClientConfig
}

func NewClient(conn *domain.Connection, ws *websocket.Conn, commands *CommandProcessor, cfg ClientConfig) *Client {
	return &Client{conn: conn, ws: ws, commands: commands, cfg: cfg.withDefaults()}
}

func (c *Client) Connection() *domain.Connection { return c.conn }

// WritePump returns when the connection closes or a write fails. It closes the socket on exit,
// which unblocks the read pump.
func (c *Client) WritePump() {
	ping := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.conn.Outbound():
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Warn("websocket write error", slog.String("connectionId", c.conn.ID()), slog.Any("error", err))
				c.conn.Close()
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				slog.Warn("websocket ping error", slog.String("connectionId", c.conn.ID()), slog.Any("error", err))
				c.conn.Close()
				return
			}
		}
	}
}

// ReadPump blocks until the peer disconnects or stops answering pings, then closes the
// connection so it is released everywhere.
func (c *Client) ReadPump(ctx context.Context) {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
	defer func() {
		c.conn.Close()
		_ = c.ws.Close()
	}()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read error", slog.String("connectionId", c.conn.ID()), slog.String("userId", c.conn.UserID()), slog.Any("error", err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		var cmd domain.Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			slog.Debug("websocket malformed frame", slog.String("connectionId", c.conn.ID()), slog.Any("error", err))
			reportError(c.conn, cmd, fmt.Errorf("%w: malformed frame", domain.ErrValidation))
			continue
		}
		if c.commands != nil {
			c.commands.Process(ctx, c.conn, cmd)
		}
	}
}
