package transport

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"marketWs/internal/modules/realtime/application/usecase"
	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/modules/realtime/infrastructure"
	"marketWs/internal/shared/auth"
	"marketWs/internal/shared/ids"
)

const handshakeAuthTimeout = 5 * time.Second

// WebsocketOptions configures the /ws endpoint.
type WebsocketOptions struct {
	SendBuffer     int
	AllowedOrigins []string
	Client         infrastructure.ClientConfig
	// BaseContext outlives the upgrade request and bounds the read pumps. Defaults to Background.
	BaseContext context.Context
}

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))] = struct{}{}
	}
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			_, ok := allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
			return ok
		},
	}
}

// NewWebsocketHandler exposes /ws. The socket starts unauthenticated; a token supplied on the
// handshake (Authorization header or ?token=) authenticates it before the first command is read.
func NewWebsocketHandler(registry *usecase.ConnectionRegistry, commands *infrastructure.CommandProcessor, opts WebsocketOptions) echo.HandlerFunc {
	upgrader := newUpgrader(opts.AllowedOrigins)
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	sendBuffer := opts.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = 64
	}

	return func(c echo.Context) error {
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		peerIP := c.RealIP()
		token := auth.FromRequest(c.Request(), auth.DefaultQueryParam)

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader has already answered the request
			slog.Warn("ws upgrade failed", slog.String("ip", peerIP), slog.String("reqID", requestID), slog.Any("error", err))
			return nil
		}

		conn := domain.NewConnection(ids.New(), sendBuffer)
		registry.Register(conn)
		client := infrastructure.NewClient(conn, ws, commands, opts.Client)
		go client.WritePump()

		if token != "" {
			ctx, cancel := context.WithTimeout(baseCtx, handshakeAuthTimeout)
			if _, err := registry.Authenticate(ctx, conn, usecase.AuthenticateInput{Token: token}); err != nil {
				slog.Info("ws handshake token rejected", slog.String("connectionId", conn.ID()), slog.String("ip", peerIP), slog.Any("error", err))
			}
			cancel()
		}

		go client.ReadPump(baseCtx)
		slog.Info("ws connected", slog.String("connectionId", conn.ID()), slog.String("userId", conn.UserID()), slog.String("ip", peerIP), slog.String("reqID", requestID))
		return nil
	}
}
