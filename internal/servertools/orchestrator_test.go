package servertools

import (
	"context"
	"errors"
	"testing"

	"github.com/oa2a/oa2a/internal/config"
	"github.com/oa2a/oa2a/internal/protocol"
)

// fakeCaller replays a scripted sequence of completions, recording each
// request it receives.
type fakeCaller struct {
	completions []*protocol.ChatCompletion
	err         error
	requests    []*protocol.ChatCompletionRequest
}

func (f *fakeCaller) CreateChatCompletion(_ context.Context, req *protocol.ChatCompletionRequest) (*protocol.ChatCompletion, error) {
	clone := *req
	clone.Messages = append([]protocol.ChatMessage(nil), req.Messages...)
	f.requests = append(f.requests, &clone)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.completions) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := f.completions[0]
	f.completions = f.completions[1:]
	return next, nil
}

// fakeSearchTool is a minimal in-process server tool so orchestrator
// tests need no HTTP backend.
type fakeSearchTool struct {
	executions int
}

func (f *fakeSearchTool) Type() string                 { return "fake_search_20250101" }
func (f *fakeSearchTool) Name() string                 { return "fake_search" }
func (f *fakeSearchTool) Enabled(config.Settings) bool { return true }

func (f *fakeSearchTool) Config(def protocol.ToolDefinition) (map[string]any, bool) {
	if def.Type != f.Type() {
		return nil, false
	}
	return def.Extra, true
}

func (f *fakeSearchTool) UpstreamTool(map[string]any) protocol.ChatTool {
	return protocol.ChatTool{Type: "function", Function: protocol.ChatToolFunction{Name: f.Name()}}
}

func (f *fakeSearchTool) CallArgs(call protocol.ToolCall) (map[string]any, bool) {
	if call.Function == nil || call.Function.Name != f.Name() {
		return nil, false
	}
	return map[string]any{"query": "q"}, true
}

func (f *fakeSearchTool) Execute(_ context.Context, _ string, _, _ map[string]any, _ config.Settings) ToolResult {
	f.executions++
	return ToolResult{
		Success:        true,
		Content:        []any{map[string]any{"title": "hit"}},
		UsageIncrement: map[string]int{"web_search_requests": 1},
	}
}

func (f *fakeSearchTool) ContentBlocks(callID string, args map[string]any, result ToolResult) []protocol.ContentBlock {
	var results any = result.Content
	if !result.Success {
		results = map[string]any{"type": "web_search_tool_result_error", "error_code": result.ErrorCode}
	}
	return []protocol.ContentBlock{
		{Type: protocol.BlockServerToolUse, ID: callID, Name: f.Name(), Input: args},
		{Type: protocol.BlockWebSearchToolResult, ToolUseID: callID, Results: results},
	}
}

func (f *fakeSearchTool) ResultMessage(callID string, _ map[string]any, result ToolResult) protocol.ChatMessage {
	body := `{"results":[]}`
	if !result.Success {
		body = `{"error":"` + result.ErrorCode + `"}`
	}
	return protocol.ChatMessage{Role: "tool", ToolCallID: callID, Content: body}
}

func toolCallCompletion(id, name string) *protocol.ChatCompletion {
	return &protocol.ChatCompletion{
		ID: "chatcmpl-loop",
		Choices: []protocol.ChatChoice{{
			Message: protocol.ChatMessage{
				Role: "assistant",
				ToolCalls: []protocol.ToolCall{{
					ID:       id,
					Type:     "function",
					Function: &protocol.ToolFunction{Name: name, Arguments: `{"query":"q"}`},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}
}

func textCompletion(text string) *protocol.ChatCompletion {
	return &protocol.ChatCompletion{
		ID: "chatcmpl-final",
		Choices: []protocol.ChatChoice{{
			Message:      protocol.ChatMessage{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: &protocol.ChatUsage{PromptTokens: 10, CompletionTokens: 5},
	}
}

func activeFake(tool *fakeSearchTool, cfg map[string]any) []ActiveTool {
	return []ActiveTool{{Tool: tool, Config: cfg}}
}

func baseRequest() *protocol.ChatCompletionRequest {
	return &protocol.ChatCompletionRequest{
		Model:         "gpt-test",
		Messages:      []protocol.ChatMessage{{Role: "user", Content: "hi"}},
		Stream:        true,
		StreamOptions: &protocol.StreamOptions{IncludeUsage: true},
	}
}

func TestOrchestratorNoServerCalls(t *testing.T) {
	tool := &fakeSearchTool{}
	caller := &fakeCaller{completions: []*protocol.ChatCompletion{textCompletion("hello")}}
	o := NewOrchestrator(caller, NewRegistry(tool))

	msg, err := o.Run(context.Background(), baseRequest(), activeFake(tool, nil), "claude-test", config.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Content) != 1 || msg.Content[0].Type != protocol.BlockText || msg.Content[0].Text != "hello" {
		t.Errorf("content = %+v", msg.Content)
	}
	if msg.Usage == nil || msg.Usage.ServerToolUse != nil {
		t.Errorf("usage = %+v", msg.Usage)
	}
	if tool.executions != 0 {
		t.Errorf("executions = %d, want 0", tool.executions)
	}
	if req := caller.requests[0]; req.Stream || req.StreamOptions != nil {
		t.Error("orchestrator must force unary upstream calls")
	}
}

func TestOrchestratorExecutesAndSplices(t *testing.T) {
	tool := &fakeSearchTool{}
	caller := &fakeCaller{completions: []*protocol.ChatCompletion{
		toolCallCompletion("call_up_1", "fake_search"),
		textCompletion("answer"),
	}}
	o := NewOrchestrator(caller, NewRegistry(tool))

	msg, err := o.Run(context.Background(), baseRequest(), activeFake(tool, nil), "claude-test", config.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if tool.executions != 1 {
		t.Fatalf("executions = %d, want 1", tool.executions)
	}

	kinds := make([]string, len(msg.Content))
	for i, b := range msg.Content {
		kinds[i] = b.Type
	}
	want := []string{protocol.BlockServerToolUse, protocol.BlockWebSearchToolResult, protocol.BlockText}
	if len(kinds) != len(want) {
		t.Fatalf("block kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("block kinds = %v, want %v", kinds, want)
		}
	}
	if msg.Content[0].ID == "call_up_1" {
		t.Error("client-facing block must carry a minted id, not the upstream call id")
	}
	if msg.Content[1].ToolUseID != msg.Content[0].ID {
		t.Errorf("tool_use_id %q does not match use id %q", msg.Content[1].ToolUseID, msg.Content[0].ID)
	}
	if msg.Usage == nil || msg.Usage.ServerToolUse == nil || msg.Usage.ServerToolUse.WebSearchRequests != 1 {
		t.Errorf("usage = %+v", msg.Usage)
	}

	// Second round must carry the spliced assistant turn and tool result.
	if len(caller.requests) != 2 {
		t.Fatalf("upstream calls = %d, want 2", len(caller.requests))
	}
	msgs := caller.requests[1].Messages
	assistant := msgs[len(msgs)-2]
	toolMsg := msgs[len(msgs)-1]
	if assistant.Role != "assistant" || assistant.Content != "" {
		t.Errorf("assistant turn = %+v", assistant)
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_up_1" {
		t.Errorf("assistant tool calls = %+v", assistant.ToolCalls)
	}
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_up_1" {
		t.Errorf("tool turn = %+v", toolMsg)
	}
}

func TestOrchestratorMaxUsesCeiling(t *testing.T) {
	tool := &fakeSearchTool{}
	caller := &fakeCaller{completions: []*protocol.ChatCompletion{
		toolCallCompletion("call_up_1", "fake_search"),
		toolCallCompletion("call_up_2", "fake_search"),
		textCompletion("best effort answer"),
	}}
	o := NewOrchestrator(caller, NewRegistry(tool))

	active := activeFake(tool, map[string]any{"max_uses": float64(1)})
	msg, err := o.Run(context.Background(), baseRequest(), active, "claude-test", config.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if tool.executions != 1 {
		t.Fatalf("executions = %d, want 1", tool.executions)
	}

	// One successful round plus one refused round, then the final text.
	if len(msg.Content) != 5 {
		t.Fatalf("blocks = %d, want 5: %+v", len(msg.Content), msg.Content)
	}
	refused := msg.Content[3]
	payload, ok := refused.Results.(map[string]any)
	if !ok || payload["error_code"] != SearchErrMaxUsesExceeded {
		t.Errorf("refused block results = %v", refused.Results)
	}

	// The model saw a refusal tool message for the second call.
	msgs := caller.requests[2].Messages
	toolMsg := msgs[len(msgs)-1]
	if toolMsg.ToolCallID != "call_up_2" {
		t.Errorf("tool turn = %+v", toolMsg)
	}
}

func TestOrchestratorUpstreamErrorAborts(t *testing.T) {
	tool := &fakeSearchTool{}
	caller := &fakeCaller{err: errors.New("upstream down")}
	o := NewOrchestrator(caller, NewRegistry(tool))

	msg, err := o.Run(context.Background(), baseRequest(), activeFake(tool, nil), "claude-test", config.Defaults())
	if err == nil || msg != nil {
		t.Fatalf("msg = %v, err = %v", msg, err)
	}
}

func TestOrchestratorIgnoresClientToolCalls(t *testing.T) {
	tool := &fakeSearchTool{}
	caller := &fakeCaller{completions: []*protocol.ChatCompletion{
		toolCallCompletion("call_up_1", "get_weather"),
	}}
	o := NewOrchestrator(caller, NewRegistry(tool))

	msg, err := o.Run(context.Background(), baseRequest(), activeFake(tool, nil), "claude-test", config.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if tool.executions != 0 {
		t.Errorf("executions = %d, want 0", tool.executions)
	}
	if len(msg.Content) != 1 || msg.Content[0].Type != protocol.BlockToolUse {
		t.Errorf("content = %+v", msg.Content)
	}
	if msg.StopReason != protocol.StopToolUse {
		t.Errorf("stop reason = %v", msg.StopReason)
	}
}

func TestNumeric(t *testing.T) {
	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{3, 3, true},
		{int64(4), 4, true},
		{float64(5), 5, true},
		{"6", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := numeric(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("numeric(%v) = %d, %v", tt.in, got, ok)
		}
	}
}
