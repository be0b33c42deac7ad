package servertools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.HandlerFunc) *TavilyClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewTavilyClient("tvly-test", 5*time.Second, 5)
	c.baseURL = srv.URL
	return c
}

func TestTavilySearchSuccess(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"url":"https://example.com","title":"Example","published_date":"2024-01-01","content":"body"}
		]}`))
	})

	results, errCode := c.Search(context.Background(), "test query")
	if errCode != "" {
		t.Fatalf("error code = %q", errCode)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	r := results[0]
	if r.Type != "web_search_result" || r.URL != "https://example.com" || r.Title != "Example" {
		t.Errorf("result = %+v", r)
	}
	if r.PageAge != "2024-01-01" || r.EncryptedContent != "body" {
		t.Errorf("result = %+v", r)
	}
}

func TestTavilySearchStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusBadRequest, SearchErrInvalidInput},
		{http.StatusTooManyRequests, SearchErrTooManyRequests},
		{http.StatusRequestEntityTooLarge, SearchErrQueryTooLong},
		{http.StatusInternalServerError, SearchErrUnavailable},
		{http.StatusBadGateway, SearchErrUnavailable},
	}

	for _, tt := range tests {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		if _, errCode := c.Search(context.Background(), "q"); errCode != tt.want {
			t.Errorf("status %d: error code = %q, want %q", tt.status, errCode, tt.want)
		}
	}
}

func TestTavilySearchDisabled(t *testing.T) {
	c := NewTavilyClient("", time.Second, 5)
	if results, errCode := c.Search(context.Background(), "q"); errCode != SearchErrUnavailable || results != nil {
		t.Errorf("disabled client: results=%v errCode=%q", results, errCode)
	}
}

func TestTavilySearchEmptyQuery(t *testing.T) {
	c := NewTavilyClient("tvly-test", time.Second, 5)
	if _, errCode := c.Search(context.Background(), "   "); errCode != SearchErrInvalidInput {
		t.Errorf("error code = %q, want %q", errCode, SearchErrInvalidInput)
	}
}

func TestTavilySearchConnectionRefused(t *testing.T) {
	c := NewTavilyClient("tvly-test", time.Second, 5)
	c.baseURL = "http://127.0.0.1:1"
	if _, errCode := c.Search(context.Background(), "q"); errCode != SearchErrUnavailable {
		t.Errorf("error code = %q, want %q", errCode, SearchErrUnavailable)
	}
}
