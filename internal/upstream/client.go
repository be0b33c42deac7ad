package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"

	"github.com/oa2a/oa2a/internal/config"
	"github.com/oa2a/oa2a/internal/json"
	log "github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/protocol"
)

// Client talks to the Chat Completions backend. Settings are read
// through a function so config reloads take effect without rebuilding
// the client.
type Client struct {
	http     *http.Client
	settings func() config.Settings

	unaryBreaker  *gobreaker.CircuitBreaker
	streamBreaker *gobreaker.TwoStepCircuitBreaker
	modelsRetry   failsafe.Executor[[]byte]
}

// breakerSettings trips after sustained failures but never on client
// mistakes: 4xx responses count as successes for breaker purposes.
func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if ue, ok := err.(*Error); ok {
				return ue.Type == protocol.ErrAPI && ue.StatusCode < 500
			}
			return false
		},
	}
}

// NewClient builds an upstream client over the shared transport.
func NewClient(settings func() config.Settings) *Client {
	retry := retrypolicy.NewBuilder[[]byte]().
		WithMaxRetries(2).
		WithBackoff(500*time.Millisecond, 5*time.Second).
		WithJitter(250*time.Millisecond).
		HandleIf(func(_ []byte, err error) bool {
			ue, ok := err.(*Error)
			if !ok {
				return err != nil
			}
			// Client errors are final; retry timeouts, transport drops,
			// rate limits and 5xx.
			return ue.Type != protocol.ErrAPI || ue.StatusCode == http.StatusTooManyRequests || ue.StatusCode >= 500
		}).
		Build()

	return &Client{
		http:          &http.Client{Transport: SharedTransport()},
		settings:      settings,
		unaryBreaker:  gobreaker.NewCircuitBreaker(breakerSettings("upstream-unary")),
		streamBreaker: gobreaker.NewTwoStepCircuitBreaker(breakerSettings("upstream-stream")),
		modelsRetry:   failsafe.With(retry),
	}
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	s := c.settings()
	for k, v := range s.UpstreamHeaders() {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// CreateChatCompletion performs one unary completion call. Errors are
// always *Error.
func (c *Client) CreateChatCompletion(ctx context.Context, chatReq *protocol.ChatCompletionRequest) (*protocol.ChatCompletion, error) {
	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, &Error{Type: protocol.ErrInternal, Message: err.Error(), StatusCode: http.StatusInternalServerError}
	}

	result, err := c.unaryBreaker.Execute(func() (any, error) {
		return c.doCompletion(ctx, payload)
	})
	if err != nil {
		if ue, ok := err.(*Error); ok {
			return nil, ue
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &Error{Type: protocol.ErrAPI, Message: "upstream temporarily unavailable", StatusCode: http.StatusServiceUnavailable}
		}
		return nil, &Error{Type: protocol.ErrInternal, Message: err.Error(), StatusCode: http.StatusInternalServerError}
	}
	return result.(*protocol.ChatCompletion), nil
}

func (c *Client) doCompletion(ctx context.Context, payload []byte) (*protocol.ChatCompletion, error) {
	s := c.settings()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.RequestTimeout*float64(time.Second)))
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, s.ChatCompletionsURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Type: protocol.ErrInternal, Message: err.Error(), StatusCode: http.StatusInternalServerError}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := readDecoded(resp)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp.StatusCode, body)
	}

	var completion protocol.ChatCompletion
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, &Error{
			Type:       protocol.ErrAPI,
			Message:    fmt.Sprintf("invalid upstream response: %v", err),
			StatusCode: http.StatusBadGateway,
		}
	}
	if raw := gjson.GetBytes(body, "usage"); raw.Exists() {
		completion.ClientUsage = protocol.NormalizeUsage([]byte(raw.Raw))
	}
	return &completion, nil
}

// OpenStream starts a streaming completion. The returned stream must be
// closed by the caller. Errors are always *Error.
func (c *Client) OpenStream(ctx context.Context, chatReq *protocol.ChatCompletionRequest) (*Stream, error) {
	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, &Error{Type: protocol.ErrInternal, Message: err.Error(), StatusCode: http.StatusInternalServerError}
	}

	done, err := c.streamBreaker.Allow()
	if err != nil {
		return nil, &Error{Type: protocol.ErrAPI, Message: "upstream temporarily unavailable", StatusCode: http.StatusServiceUnavailable}
	}

	s := c.settings()
	req, err := c.newRequest(ctx, http.MethodPost, s.ChatCompletionsURL(), bytes.NewReader(payload))
	if err != nil {
		done(false)
		return nil, &Error{Type: protocol.ErrInternal, Message: err.Error(), StatusCode: http.StatusInternalServerError}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		done(false)
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, readErr := readDecoded(resp)
		resp.Body.Close()
		done(false)
		if readErr != nil {
			body = nil
		}
		return nil, errorFromResponse(resp.StatusCode, body)
	}

	decoded, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		done(false)
		return nil, classifyTransportError(err)
	}
	return newStream(ctx, decoded, done), nil
}

// ListModels proxies the upstream model catalog. Idempotent, so
// transient failures are retried with backoff.
func (c *Client) ListModels(ctx context.Context) ([]byte, error) {
	body, err := c.modelsRetry.WithContext(ctx).Get(func() ([]byte, error) {
		s := c.settings()
		req, err := c.newRequest(ctx, http.MethodGet, s.ModelsURL(), nil)
		if err != nil {
			return nil, &Error{Type: protocol.ErrInternal, Message: err.Error(), StatusCode: http.StatusInternalServerError}
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, classifyTransportError(err)
		}
		defer resp.Body.Close()

		body, err := readDecoded(resp)
		if err != nil {
			return nil, classifyTransportError(err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, errorFromResponse(resp.StatusCode, body)
		}
		return body, nil
	})
	if err != nil {
		if ue, ok := err.(*Error); ok {
			return nil, ue
		}
		return nil, &Error{Type: protocol.ErrConnection, Message: err.Error(), StatusCode: http.StatusBadGateway}
	}
	return body, nil
}

func readDecoded(resp *http.Response) ([]byte, error) {
	rc, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
