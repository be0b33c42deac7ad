package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/oa2a/oa2a/internal/protocol"
)

// Error is an upstream failure carrying the client-facing error type and
// the HTTP status to relay.
type Error struct {
	Type       string
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Response converts the error into the client error body.
func (e *Error) Response() protocol.ErrorResponse {
	return protocol.NewErrorResponse(e.Type, e.Message)
}

// classifyTransportError maps a transport-level failure onto the client
// taxonomy: deadline and timeout failures become timeout_error, the rest
// connection_error.
func classifyTransportError(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{
			Type:       protocol.ErrTimeout,
			Message:    "Request timed out",
			StatusCode: http.StatusGatewayTimeout,
		}
	}
	return &Error{
		Type:       protocol.ErrConnection,
		Message:    err.Error(),
		StatusCode: http.StatusBadGateway,
	}
}

// errorFromResponse extracts the most useful message a non-200 upstream
// response offers: the embedded error.message, then the raw body, then
// the status text, then a generic fallback.
func errorFromResponse(statusCode int, body []byte) *Error {
	text := strings.TrimSpace(string(body))
	message := text
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		message = msg.String()
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	if message == "" {
		message = fmt.Sprintf("Upstream API error (%d)", statusCode)
	}
	return &Error{
		Type:       protocol.ErrAPI,
		Message:    message,
		StatusCode: statusCode,
	}
}
