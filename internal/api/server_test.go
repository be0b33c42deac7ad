package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/oa2a/oa2a/internal/config"
	"github.com/oa2a/oa2a/internal/upstream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer wires the full router against a fake upstream.
func newTestServer(t *testing.T, upstreamHandler http.Handler, mutate func(*config.Settings)) *httptest.Server {
	t.Helper()
	fake := httptest.NewServer(upstreamHandler)
	t.Cleanup(fake.Close)

	settings := config.Defaults()
	settings.OpenAIBaseURL = fake.URL
	settings.OpenAIAPIKey = "sk-test"
	if mutate != nil {
		mutate(&settings)
	}
	store := config.NewStore(settings)

	srv := NewServer(store, upstream.NewClient(store.Current), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func unaryUpstream(t *testing.T, body string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected upstream path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("upstream auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})
}

func postJSON(t *testing.T, url, body string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(data)
}

const simpleMessages = `{"model":"claude-test","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`

func TestHealth(t *testing.T) {
	ts := newTestServer(t, http.NotFoundHandler(), nil)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || gjson.GetBytes(body, "status").Str != "healthy" {
		t.Errorf("status %d body %s", resp.StatusCode, body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, unaryUpstream(t, `{"id":"c1","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`),
		func(s *config.Settings) { s.APIKey = "proxy-key" })

	resp, body := postJSON(t, ts.URL+"/v1/messages", simpleMessages, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	if gjson.Get(body, "error.type").Str != "authentication_error" {
		t.Errorf("body %s", body)
	}

	resp, _ = postJSON(t, ts.URL+"/v1/messages", simpleMessages, map[string]string{"x-api-key": "proxy-key"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with x-api-key: status %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts.URL+"/v1/messages", simpleMessages, map[string]string{"Authorization": "Bearer proxy-key"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with bearer: status %d", resp.StatusCode)
	}

	// Health stays open.
	hr, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	hr.Body.Close()
	if hr.StatusCode != http.StatusOK {
		t.Errorf("health status %d", hr.StatusCode)
	}
}

func TestMessagesValidation(t *testing.T) {
	ts := newTestServer(t, http.NotFoundHandler(), nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing model", `{"max_tokens":10,"messages":[{"role":"user","content":"hi"}]}`},
		{"empty model", `{"model":"","messages":[{"role":"user","content":"hi"}]}`},
		{"model not string", `{"model":42,"messages":[{"role":"user","content":"hi"}]}`},
		{"missing messages", `{"model":"m","max_tokens":10}`},
		{"empty messages", `{"model":"m","messages":[]}`},
		{"max_tokens not number", `{"model":"m","max_tokens":"many","messages":[{"role":"user","content":"hi"}]}`},
		{"not an object", `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, ts.URL+"/v1/messages", tt.body, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status %d body %s", resp.StatusCode, body)
			}
			if gjson.Get(body, "error.type").Str != "invalid_request_error" {
				t.Errorf("body %s", body)
			}
		})
	}
}

func TestMessagesUnary(t *testing.T) {
	ts := newTestServer(t, unaryUpstream(t, `{
		"id":"chatcmpl-1",
		"choices":[{"message":{"role":"assistant","content":"Hello there"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}
	}`), nil)

	resp, body := postJSON(t, ts.URL+"/v1/messages", simpleMessages, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	if gjson.Get(body, "type").Str != "message" || gjson.Get(body, "role").Str != "assistant" {
		t.Errorf("body %s", body)
	}
	if gjson.Get(body, "content.0.type").Str != "text" || gjson.Get(body, "content.0.text").Str != "Hello there" {
		t.Errorf("content %s", gjson.Get(body, "content").Raw)
	}
	if gjson.Get(body, "stop_reason").Str != "end_turn" {
		t.Errorf("stop_reason %s", gjson.Get(body, "stop_reason").Str)
	}
	if gjson.Get(body, "usage.input_tokens").Int() != 12 || gjson.Get(body, "usage.output_tokens").Int() != 4 {
		t.Errorf("usage %s", gjson.Get(body, "usage").Raw)
	}
}

func TestMessagesUpstreamErrorPassthrough(t *testing.T) {
	ts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}), nil)

	resp, body := postJSON(t, ts.URL+"/v1/messages", simpleMessages, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	if gjson.Get(body, "error.message").Str != "rate limited" {
		t.Errorf("body %s", body)
	}
}

func TestMessagesStream(t *testing.T) {
	chunks := []string{
		`{"id":"chatcmpl-s","choices":[{"delta":{"role":"assistant","content":"Hel"},"index":0}]}`,
		`{"id":"chatcmpl-s","choices":[{"delta":{"content":"lo"},"index":0}]}`,
		`{"id":"chatcmpl-s","choices":[{"delta":{},"finish_reason":"stop","index":0}]}`,
		`{"id":"chatcmpl-s","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`,
	}
	ts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			w.Write([]byte("data: " + c + "\n\n"))
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}), nil)

	streamReq := `{"model":"claude-test","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"hi"}]}`
	resp, body := postJSON(t, ts.URL+"/v1/messages", streamReq, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type %q", ct)
	}

	for _, want := range []string{
		"event: message_start",
		"event: ping",
		"event: content_block_start",
		`"text_delta","text":"Hel"`,
		`"text_delta","text":"lo"`,
		"event: content_block_stop",
		"event: message_delta",
		`"output_tokens":2`,
		"event: message_stop",
		"data: [DONE]",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("stream output missing %q\n%s", want, body)
		}
	}
	if strings.Count(body, "event: message_delta") != 1 {
		t.Errorf("expected exactly one message_delta\n%s", body)
	}
}

func TestMessagesStreamUpstreamFailure(t *testing.T) {
	ts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"backend down"}}`))
	}), nil)

	streamReq := `{"model":"claude-test","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	resp, body := postJSON(t, ts.URL+"/v1/messages", streamReq, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(body, "event: error") || !strings.Contains(body, "backend down") {
		t.Errorf("body %s", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Errorf("missing DONE marker\n%s", body)
	}
}

func TestCountTokens(t *testing.T) {
	ts := newTestServer(t, http.NotFoundHandler(), nil)

	resp, body := postJSON(t, ts.URL+"/v1/messages/count_tokens", simpleMessages, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	if n := gjson.Get(body, "input_tokens"); !n.Exists() || n.Int() <= 0 {
		t.Errorf("body %s", body)
	}
}

func TestModelsProxy(t *testing.T) {
	ts := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"gpt-test","object":"model"}]}`))
	}), nil)

	resp, err := http.Get(ts.URL + "/v1/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	if gjson.GetBytes(body, "data.0.id").Str != "gpt-test" {
		t.Errorf("body %s", body)
	}
}

func TestEventLoggingSink(t *testing.T) {
	ts := newTestServer(t, http.NotFoundHandler(), nil)
	resp, _ := postJSON(t, ts.URL+"/api/event_logging/batch", `{"events":[]}`, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status %d", resp.StatusCode)
	}
}

func TestUsageStatsDisabled(t *testing.T) {
	ts := newTestServer(t, http.NotFoundHandler(), nil)
	resp, err := http.Get(ts.URL + "/v1/usage/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d", resp.StatusCode)
	}
}
