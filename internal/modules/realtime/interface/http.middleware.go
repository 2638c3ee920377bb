package transport

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/shared/auth"
	"marketWs/internal/shared/httputil"
)

const claimsKey = "claims"

// newErrorMapper maps the domain taxonomy onto HTTP statuses.
func newErrorMapper() *httputil.ErrorMapper {
	return httputil.NewErrorMapper().
		WithMapping(domain.ErrValidation, http.StatusBadRequest, "validation", "invalid request").
		WithMapping(domain.ErrAuth, http.StatusUnauthorized, "auth", "unauthorized").
		WithMapping(domain.ErrNotFound, http.StatusNotFound, "not_found", "not found").
		WithMapping(domain.ErrPersistence, http.StatusServiceUnavailable, "persistence", "store unavailable")
}

// RequireToken validates the bearer token and stores its claims on the echo context.
func RequireToken(validator auth.TokenValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := auth.BearerFromHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				return c.JSON(http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing bearer token", Code: "auth"})
			}
			claims, err := validator.Validate(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid bearer token", Code: "auth"})
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

func claimsFrom(c echo.Context) *auth.Claims {
	claims, _ := c.Get(claimsKey).(*auth.Claims)
	return claims
}
