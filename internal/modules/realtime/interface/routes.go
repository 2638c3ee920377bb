package transport

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"marketWs/internal/modules/realtime/application/usecase"
	"marketWs/internal/shared/auth"
)

// Routes groups what RegisterRoutes mounts.
type Routes struct {
	Websocket     echo.HandlerFunc
	Notifications *NotificationHandlers
	Registry      *usecase.ConnectionRegistry
	Validator     auth.TokenValidator
	Metrics       http.Handler
}

func RegisterRoutes(e *echo.Echo, r Routes) {
	e.GET("/healthz", healthz)
	if r.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(r.Metrics))
	}
	if r.Websocket != nil {
		e.GET("/ws", r.Websocket)
	}

	api := e.Group("/api", RequireToken(r.Validator))
	if r.Notifications != nil {
		api.POST("/notifications", r.Notifications.Publish)
		api.GET("/notifications", r.Notifications.List)
		api.GET("/notifications/unread-count", r.Notifications.UnreadCount)
		api.POST("/notifications/:id/read", r.Notifications.MarkRead)
	}
	if r.Registry != nil {
		api.GET("/presence/:userId", NewPresenceHandler(r.Registry))
	}
}
