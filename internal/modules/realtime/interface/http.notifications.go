package transport

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"marketWs/internal/modules/realtime/application/usecase"
	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/shared/errutil"
	"marketWs/internal/shared/httputil"
)

// PublishNotificationRequest is the body of POST /api/notifications.
type PublishNotificationRequest struct {
	UserID   string            `json:"userId"`
	SenderID string            `json:"senderId,omitempty"`
	Type     string            `json:"type"`
	Message  string            `json:"message"`
	Payload  map[string]string `json:"payload,omitempty"`
}

type PublishNotificationResponse struct {
	ID      string                 `json:"id"`
	Outcome domain.DeliveryOutcome `json:"outcome"`
}

type NotificationListResponse struct {
	Items []domain.Notification `json:"items"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

// NotificationHandlers serves the producer and pull endpoints. Every route runs behind
// RequireToken.
type NotificationHandlers struct {
	service       *usecase.NotificationService
	publisherRole string
	errors        *httputil.ErrorMapper
}

func NewNotificationHandlers(service *usecase.NotificationService, publisherRole string) *NotificationHandlers {
	return &NotificationHandlers{service: service, publisherRole: publisherRole, errors: newErrorMapper()}
}

// Publish lets producers with the publisher role store and push a notification.
func (h *NotificationHandlers) Publish(c echo.Context) error {
	claims := claimsFrom(c)
	if claims == nil || (h.publisherRole != "" && !claims.HasRole(h.publisherRole)) {
		return c.JSON(http.StatusForbidden, httputil.ErrorResponse{Error: "publisher role required", Code: "auth"})
	}

	var req PublishNotificationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid request body", Code: "validation"})
	}

	n, outcome, err := h.service.Publish(c.Request().Context(), usecase.PublishNotificationInput{
		UserID:   req.UserID,
		SenderID: req.SenderID,
		Category: req.Type,
		Message:  req.Message,
		Payload:  req.Payload,
	})
	if err != nil {
		return h.fail(c, "notification publish failed", err)
	}
	slog.Info("notification published", slog.String("notificationId", n.ID), slog.String("userId", n.UserID), slog.String("publisher", claims.UserID()), slog.String("outcome", outcome.String()))
	return c.JSON(http.StatusCreated, PublishNotificationResponse{ID: n.ID, Outcome: outcome})
}

// List returns the caller's notifications, newest first. ?unread=true keeps unread ones only.
func (h *NotificationHandlers) List(c echo.Context) error {
	unreadOnly, _ := strconv.ParseBool(c.QueryParam("unread"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	items, err := h.service.List(c.Request().Context(), claimsFrom(c).UserID(), unreadOnly, limit)
	if err != nil {
		return h.fail(c, "notification list failed", err)
	}
	return c.JSON(http.StatusOK, NotificationListResponse{Items: items})
}

func (h *NotificationHandlers) UnreadCount(c echo.Context) error {
	count, err := h.service.UnreadCount(c.Request().Context(), claimsFrom(c).UserID())
	if err != nil {
		return h.fail(c, "notification unread count failed", err)
	}
	return c.JSON(http.StatusOK, UnreadCountResponse{Count: count})
}

func (h *NotificationHandlers) MarkRead(c echo.Context) error {
	if err := h.service.MarkRead(c.Request().Context(), claimsFrom(c).UserID(), c.Param("id")); err != nil {
		return h.fail(c, "notification mark read failed", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *NotificationHandlers) fail(c echo.Context, msg string, err error) error {
	if h.errors.Map(err).Status >= http.StatusInternalServerError {
		errutil.LogError(c.Request().Context(), nil, msg, err, slog.String("path", c.Path()))
	} else {
		slog.Debug(msg, slog.String("path", c.Path()), slog.Any("error", err))
	}
	return h.errors.Respond(c, err)
}
