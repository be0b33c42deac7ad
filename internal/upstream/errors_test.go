package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/oa2a/oa2a/internal/protocol"
)

func TestErrorFromResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{
			"embedded error message",
			500,
			`{"error":{"message":"model overloaded","type":"server_error"}}`,
			"model overloaded",
		},
		{
			"plain text body",
			502,
			"upstream exploded",
			"upstream exploded",
		},
		{
			"empty body falls back to status text",
			503,
			"",
			http.StatusText(503),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := errorFromResponse(tt.status, []byte(tt.body))
			if e.Type != protocol.ErrAPI {
				t.Errorf("type = %q", e.Type)
			}
			if e.StatusCode != tt.status {
				t.Errorf("status = %d", e.StatusCode)
			}
			if e.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", e.Message, tt.wantMsg)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTransportError(t *testing.T) {
	if e := classifyTransportError(context.DeadlineExceeded); e.Type != protocol.ErrTimeout {
		t.Errorf("deadline = %q", e.Type)
	}
	if e := classifyTransportError(timeoutErr{}); e.Type != protocol.ErrTimeout || e.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("net timeout = %+v", e)
	}
	if e := classifyTransportError(errors.New("connection refused")); e.Type != protocol.ErrConnection || e.StatusCode != http.StatusBadGateway {
		t.Errorf("refused = %+v", e)
	}
}
