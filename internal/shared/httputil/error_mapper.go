package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HTTPErrorInfo contains the HTTP status code and message for an error.
type HTTPErrorInfo struct {
	Status  int
	Message string
	Code    string
}

type errorMapping struct {
	target error
	info   HTTPErrorInfo
}

// ErrorMapper maps sentinel errors to HTTP responses. Mappings are matched with errors.Is in
// registration order.
type ErrorMapper struct {
	mappings []errorMapping
	fallback HTTPErrorInfo
}

func NewErrorMapper() *ErrorMapper {
	return &ErrorMapper{
		fallback: HTTPErrorInfo{Status: http.StatusInternalServerError, Message: "internal server error", Code: "internal"},
	}
}

func (m *ErrorMapper) WithMapping(err error, status int, code, message string) *ErrorMapper {
	m.mappings = append(m.mappings, errorMapping{target: err, info: HTTPErrorInfo{Status: status, Message: message, Code: code}})
	return m
}

func (m *ErrorMapper) WithDefault(status int, message string) *ErrorMapper {
	m.fallback.Status = status
	m.fallback.Message = message
	return m
}

// Map converts an error to HTTP status and message. Context errors win over registered mappings.
func (m *ErrorMapper) Map(err error) HTTPErrorInfo {
	switch {
	case err == nil:
		return HTTPErrorInfo{Status: http.StatusOK}
	case errors.Is(err, context.DeadlineExceeded):
		return HTTPErrorInfo{Status: http.StatusGatewayTimeout, Message: "request timeout", Code: "timeout"}
	case errors.Is(err, context.Canceled):
		return HTTPErrorInfo{Status: http.StatusServiceUnavailable, Message: "request cancelled", Code: "cancelled"}
	}
	for _, mapping := range m.mappings {
		if errors.Is(err, mapping.target) {
			return mapping.info
		}
	}
	return m.fallback
}

// Respond writes the mapped error as JSON. Validation style mappings expose the error text so
// callers can see which field failed.
func (m *ErrorMapper) Respond(c echo.Context, err error) error {
	info := m.Map(err)
	msg := info.Message
	if info.Status == http.StatusBadRequest && err != nil {
		msg = err.Error()
	}
	return c.JSON(info.Status, ErrorResponse{Error: msg, Code: info.Code})
}
