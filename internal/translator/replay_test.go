package translator

import (
	"testing"

	"github.com/oa2a/oa2a/internal/json"
	"github.com/oa2a/oa2a/internal/protocol"
)

func TestReplayMessage(t *testing.T) {
	srv := 2
	msg := &protocol.Message{
		ID:         "msg_r1",
		Type:       "message",
		Role:       "assistant",
		Model:      "test-model",
		StopReason: protocol.StopEndTurn,
		Content: []protocol.ContentBlock{
			{Type: protocol.BlockThinking, Thinking: "ponder"},
			{Type: protocol.BlockServerToolUse, ID: "srvtoolu_abc", Name: "web_search",
				Input: map[string]any{"query": "go"}},
			{Type: protocol.BlockWebSearchToolResult, ToolUseID: "srvtoolu_abc",
				Results: []map[string]any{{"type": "web_search_result", "url": "https://example.com"}}},
			{Type: protocol.BlockText, Text: "found it"},
			{Type: protocol.BlockToolUse, ID: "call_1", Name: "lookup",
				Input: map[string]any{"q": "x"}},
		},
		Usage: &protocol.Usage{
			InputTokens:   20,
			OutputTokens:  9,
			ServerToolUse: &protocol.ServerToolUsage{WebSearchRequests: srv},
		},
	}

	events := ReplayMessage(msg)
	checkBlockLifecycle(t, events)

	names := eventNames(events)
	if names[0] != EventMessageStart || names[len(names)-1] != EventMessageStop {
		t.Fatalf("envelope events = %v", names)
	}
	if names[len(names)-2] != EventMessageDelta {
		t.Fatalf("penultimate = %s, want message_delta", names[len(names)-2])
	}

	// Five blocks, each opened and closed at its content position.
	var starts int
	for _, e := range events {
		if e.Name == EventContentBlockStart {
			starts++
		}
	}
	if starts != 5 {
		t.Errorf("content_block_start count = %d, want 5", starts)
	}

	var delta struct {
		Delta struct {
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		Usage protocol.Usage `json:"usage"`
	}
	if err := json.Unmarshal(events[len(events)-2].Data, &delta); err != nil {
		t.Fatal(err)
	}
	if delta.Delta.StopReason != protocol.StopEndTurn {
		t.Errorf("stop_reason = %q", delta.Delta.StopReason)
	}
	if delta.Usage.ServerToolUse == nil || delta.Usage.ServerToolUse.WebSearchRequests != 2 {
		t.Errorf("server_tool_use = %+v", delta.Usage.ServerToolUse)
	}
}

func TestReplayToolUseEmitsInputDelta(t *testing.T) {
	msg := &protocol.Message{
		ID:    "msg_r2",
		Model: "m",
		Content: []protocol.ContentBlock{
			{Type: protocol.BlockToolUse, ID: "call_1", Name: "lookup",
				Input: map[string]any{"q": "golang"}},
		},
	}

	var sawInputDelta bool
	for _, e := range ReplayMessage(msg) {
		if e.Name != EventContentBlockDelta {
			continue
		}
		var p struct {
			Delta deltaShape `json:"delta"`
		}
		if err := json.Unmarshal(e.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.Delta.Type == "input_json_delta" && p.Delta.PartialJSON != "" {
			sawInputDelta = true
		}
	}
	if !sawInputDelta {
		t.Error("tool_use replay missing input_json_delta")
	}
}

func TestEventSSEFraming(t *testing.T) {
	e := Event{Name: "ping", Data: []byte(`{"type":"ping"}`)}
	got := string(e.SSE())
	want := "event: ping\ndata: {\"type\":\"ping\"}\n\n"
	if got != want {
		t.Errorf("SSE() = %q, want %q", got, want)
	}
}
