package servertools

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/oa2a/oa2a/internal/json"
	log "github.com/oa2a/oa2a/internal/logging"
)

// Tavily error codes surfaced in web_search_tool_result_error blocks.
const (
	SearchErrUnavailable     = "unavailable"
	SearchErrInvalidInput    = "invalid_input"
	SearchErrTooManyRequests = "too_many_requests"
	SearchErrQueryTooLong    = "query_too_long"
	SearchErrMaxUsesExceeded = "max_uses_exceeded"
)

const defaultTavilyBaseURL = "https://api.tavily.com"

// SearchResult is one web search hit in the client-facing shape.
type SearchResult struct {
	Type             string `json:"type"`
	URL              string `json:"url"`
	Title            string `json:"title"`
	PageAge          string `json:"page_age,omitempty"`
	EncryptedContent string `json:"encrypted_content,omitempty"`
}

// TavilyClient calls the Tavily search API. A client without an API key
// is disabled and fails every search with unavailable.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	http       *http.Client
	limiter    *rate.Limiter
}

// NewTavilyClient builds a search client. timeout bounds one search
// call; maxResults caps the hits requested per query.
func NewTavilyClient(apiKey string, timeout time.Duration, maxResults int) *TavilyClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &TavilyClient{
		apiKey:     apiKey,
		baseURL:    defaultTavilyBaseURL,
		maxResults: maxResults,
		http:       &http.Client{Timeout: timeout},
		// Tavily meters per key; smooth local bursts before they 429.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// Enabled reports whether the client has an API key.
func (c *TavilyClient) Enabled() bool { return c.apiKey != "" }

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		URL           string `json:"url"`
		Title         string `json:"title"`
		PublishedDate string `json:"published_date"`
		Content       string `json:"content"`
	} `json:"results"`
}

// Search runs one query. The second return value is the error code, or
// empty on success.
func (c *TavilyClient) Search(ctx context.Context, query string) ([]SearchResult, string) {
	if !c.Enabled() {
		return nil, SearchErrUnavailable
	}
	if strings.TrimSpace(query) == "" {
		return nil, SearchErrInvalidInput
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, SearchErrUnavailable
	}

	payload, err := json.Marshal(tavilyRequest{
		APIKey:     c.apiKey,
		Query:      query,
		MaxResults: c.maxResults,
	})
	if err != nil {
		return nil, SearchErrUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, SearchErrUnavailable
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warnf("tavily search failed: %v", err)
		return nil, SearchErrUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest:
		return nil, SearchErrInvalidInput
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, SearchErrTooManyRequests
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return nil, SearchErrQueryTooLong
	default:
		log.Warnf("tavily search returned status %d", resp.StatusCode)
		return nil, SearchErrUnavailable
	}

	var parsed tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, SearchErrUnavailable
	}

	results := make([]SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, SearchResult{
			Type:             "web_search_result",
			URL:              r.URL,
			Title:            r.Title,
			PageAge:          r.PublishedDate,
			EncryptedContent: r.Content,
		})
	}
	return results, ""
}
