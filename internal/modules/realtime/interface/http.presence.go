package transport

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"marketWs/internal/modules/realtime/application/usecase"
	"marketWs/internal/modules/realtime/domain"
)

type PresenceResponse struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// NewPresenceHandler answers GET /api/presence/:userId.
func NewPresenceHandler(registry *usecase.ConnectionRegistry) echo.HandlerFunc {
	mapper := newErrorMapper()
	return func(c echo.Context) error {
		userID := strings.TrimSpace(c.Param("userId"))
		if userID == "" {
			return mapper.Respond(c, domain.ErrValidation)
		}
		online, err := registry.IsOnline(c.Request().Context(), userID)
		if err != nil {
			return mapper.Respond(c, err)
		}
		return c.JSON(http.StatusOK, PresenceResponse{UserID: userID, Online: online})
	}
}

type HealthResponse struct {
	Status string `json:"status"`
}

func healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
