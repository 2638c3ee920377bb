package auth

import (
	"net/http"
	"strings"
)

// DefaultQueryParam carries the handshake token for browser sockets that cannot set headers.
const DefaultQueryParam = "token"

// BearerFromHeader returns the token of an "Authorization: Bearer <token>" value, or "".
// The scheme is matched case-insensitively.
func BearerFromHeader(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// FromRequest looks at the Authorization header first and then the query parameter.
func FromRequest(r *http.Request, queryParam string) string {
	if r == nil {
		return ""
	}
	if token := BearerFromHeader(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if queryParam == "" {
		queryParam = DefaultQueryParam
	}
	if r.URL == nil {
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get(queryParam))
}
