package servertools

import (
	"context"
	"sync"
	"time"

	"github.com/oa2a/oa2a/internal/config"
	"github.com/oa2a/oa2a/internal/json"
	log "github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/protocol"
)

// Client-facing identifiers of the web search tool.
const (
	WebSearchToolType = "web_search_20250305"
	WebSearchToolName = "web_search"
)

// WebSearchTool executes web_search_20250305 requests through Tavily.
type WebSearchTool struct {
	mu      sync.Mutex
	client  *TavilyClient
	apiKey  string
	baseURL string
}

// NewWebSearchTool returns a web search tool. The Tavily client is
// built lazily from settings and rebuilt when the API key changes.
func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{}
}

func (w *WebSearchTool) Type() string { return WebSearchToolType }
func (w *WebSearchTool) Name() string { return WebSearchToolName }

func (w *WebSearchTool) Enabled(s config.Settings) bool {
	return s.TavilyAPIKey != ""
}

func (w *WebSearchTool) tavily(s config.Settings) *TavilyClient {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil || w.apiKey != s.TavilyAPIKey || w.baseURL != s.TavilyBaseURL {
		w.client = NewTavilyClient(
			s.TavilyAPIKey,
			time.Duration(s.TavilyTimeout*float64(time.Second)),
			s.TavilyMaxResults,
		)
		if s.TavilyBaseURL != "" {
			w.client.baseURL = s.TavilyBaseURL
		}
		w.apiKey = s.TavilyAPIKey
		w.baseURL = s.TavilyBaseURL
	}
	return w.client
}

func (w *WebSearchTool) Config(def protocol.ToolDefinition) (map[string]any, bool) {
	if def.Type != WebSearchToolType {
		return nil, false
	}
	cfg := make(map[string]any, len(def.Extra))
	for k, v := range def.Extra {
		cfg[k] = v
	}
	return cfg, true
}

func (w *WebSearchTool) UpstreamTool(cfg map[string]any) protocol.ChatTool {
	return protocol.ChatTool{
		Type: "function",
		Function: protocol.ChatToolFunction{
			Name:        WebSearchToolName,
			Description: "Search the web for current information. Returns relevant results with titles and URLs.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (w *WebSearchTool) CallArgs(call protocol.ToolCall) (map[string]any, bool) {
	if call.Function == nil || call.Function.Name != WebSearchToolName {
		return nil, false
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return nil, false
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, false
	}
	return args, true
}

func (w *WebSearchTool) Execute(ctx context.Context, callID string, args, cfg map[string]any, s config.Settings) ToolResult {
	query, _ := args["query"].(string)
	log.Debugf("web search %s: %q", callID, query)

	results, errCode := w.tavily(s).Search(ctx, query)
	usage := map[string]int{"web_search_requests": 1}
	if errCode != "" {
		return ToolResult{Success: false, ErrorCode: errCode, UsageIncrement: usage}
	}
	content := make([]any, len(results))
	for i, r := range results {
		content[i] = r
	}
	return ToolResult{Success: true, Content: content, UsageIncrement: usage}
}

// ContentBlocks renders the search as the server_tool_use block plus its
// web_search_tool_result companion. Failures carry a
// web_search_tool_result_error payload instead of hits.
func (w *WebSearchTool) ContentBlocks(callID string, args map[string]any, result ToolResult) []protocol.ContentBlock {
	use := protocol.ContentBlock{
		Type:  protocol.BlockServerToolUse,
		ID:    callID,
		Name:  WebSearchToolName,
		Input: args,
	}
	if use.Input == nil {
		use.Input = map[string]any{}
	}

	var payload any
	if result.Success {
		payload = result.Content
	} else {
		payload = map[string]any{
			"type":       "web_search_tool_result_error",
			"error_code": result.ErrorCode,
		}
	}
	raw, _ := json.Marshal(payload)

	res := protocol.ContentBlock{
		Type:      protocol.BlockWebSearchToolResult,
		ToolUseID: callID,
		Results:   payload,
		Content:   raw,
	}
	return []protocol.ContentBlock{use, res}
}

// ResultMessage renders the search outcome as the role:tool message fed
// back to the model on the next iteration.
func (w *WebSearchTool) ResultMessage(callID string, args map[string]any, result ToolResult) protocol.ChatMessage {
	query, _ := args["query"].(string)
	var body map[string]any
	if result.Success {
		body = map[string]any{
			"query":   query,
			"results": result.Content,
		}
	} else {
		body = map[string]any{
			"query":   query,
			"error":   result.ErrorCode,
			"message": "Web search failed.",
		}
	}
	text, _ := json.MarshalString(body)
	return protocol.ChatMessage{
		Role:       "tool",
		ToolCallID: callID,
		Content:    text,
	}
}
