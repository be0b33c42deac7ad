package servertools

import (
	"testing"

	"github.com/oa2a/oa2a/internal/json"
	"github.com/oa2a/oa2a/internal/protocol"
)

func TestWebSearchUpstreamTool(t *testing.T) {
	tool := NewWebSearchTool().UpstreamTool(nil)
	if tool.Type != "function" || tool.Function.Name != WebSearchToolName {
		t.Fatalf("tool = %+v", tool)
	}
	props, ok := tool.Function.Parameters["properties"].(map[string]any)
	if !ok {
		t.Fatalf("parameters = %+v", tool.Function.Parameters)
	}
	if _, ok := props["query"]; !ok {
		t.Error("schema is missing the query property")
	}
}

func TestWebSearchCallArgs(t *testing.T) {
	w := NewWebSearchTool()
	call := func(name, args string) protocol.ToolCall {
		return protocol.ToolCall{
			ID:       "call_1",
			Type:     "function",
			Function: &protocol.ToolFunction{Name: name, Arguments: args},
		}
	}

	tests := []struct {
		name string
		call protocol.ToolCall
		ok   bool
	}{
		{"valid", call(WebSearchToolName, `{"query":"golang"}`), true},
		{"wrong name", call("get_weather", `{"query":"golang"}`), false},
		{"bad json", call(WebSearchToolName, `{"query":`), false},
		{"missing query", call(WebSearchToolName, `{"q":"golang"}`), false},
		{"empty query", call(WebSearchToolName, `{"query":""}`), false},
		{"non-string query", call(WebSearchToolName, `{"query":42}`), false},
		{"no function", protocol.ToolCall{ID: "call_1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, ok := w.CallArgs(tt.call)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && args["query"] != "golang" {
				t.Errorf("args = %v", args)
			}
		})
	}
}

func TestWebSearchContentBlocksSuccess(t *testing.T) {
	w := NewWebSearchTool()
	result := ToolResult{
		Success: true,
		Content: []any{SearchResult{Type: "web_search_result", URL: "https://example.com", Title: "Example"}},
	}
	blocks := w.ContentBlocks("srvtoolu_abc", map[string]any{"query": "golang"}, result)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}

	use := blocks[0]
	if use.Type != protocol.BlockServerToolUse || use.ID != "srvtoolu_abc" || use.Name != WebSearchToolName {
		t.Errorf("use block = %+v", use)
	}
	if use.Input["query"] != "golang" {
		t.Errorf("use input = %v", use.Input)
	}

	res := blocks[1]
	if res.Type != protocol.BlockWebSearchToolResult || res.ToolUseID != "srvtoolu_abc" {
		t.Errorf("result block = %+v", res)
	}
	hits, ok := res.Results.([]any)
	if !ok || len(hits) != 1 {
		t.Fatalf("results = %v", res.Results)
	}
	var parsed []map[string]any
	if err := json.Unmarshal(res.Content, &parsed); err != nil || len(parsed) != 1 {
		t.Fatalf("content = %s (err %v)", res.Content, err)
	}
	if parsed[0]["url"] != "https://example.com" {
		t.Errorf("content entry = %v", parsed[0])
	}
}

func TestWebSearchContentBlocksError(t *testing.T) {
	w := NewWebSearchTool()
	blocks := w.ContentBlocks("srvtoolu_abc", nil, ToolResult{Success: false, ErrorCode: SearchErrTooManyRequests})
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	if blocks[0].Input == nil || len(blocks[0].Input) != 0 {
		t.Errorf("nil args must render as empty input, got %v", blocks[0].Input)
	}
	payload, ok := blocks[1].Results.(map[string]any)
	if !ok {
		t.Fatalf("results = %v", blocks[1].Results)
	}
	if payload["type"] != "web_search_tool_result_error" || payload["error_code"] != SearchErrTooManyRequests {
		t.Errorf("error payload = %v", payload)
	}
}

func TestWebSearchResultMessage(t *testing.T) {
	w := NewWebSearchTool()
	args := map[string]any{"query": "golang"}

	msg := w.ResultMessage("call_up_1", args, ToolResult{
		Success: true,
		Content: []any{SearchResult{Title: "Example"}},
	})
	if msg.Role != "tool" || msg.ToolCallID != "call_up_1" {
		t.Fatalf("message = %+v", msg)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(msg.Content.(string)), &body); err != nil {
		t.Fatalf("content: %v", err)
	}
	if body["query"] != "golang" || body["results"] == nil {
		t.Errorf("body = %v", body)
	}

	msg = w.ResultMessage("call_up_1", args, ToolResult{Success: false, ErrorCode: SearchErrUnavailable})
	if err := json.Unmarshal([]byte(msg.Content.(string)), &body); err != nil {
		t.Fatalf("content: %v", err)
	}
	if body["error"] != SearchErrUnavailable || body["message"] != "Web search failed." {
		t.Errorf("body = %v", body)
	}
}
