package translator

import (
	"sync"

	"github.com/oa2a/oa2a/internal/json"
	"github.com/oa2a/oa2a/internal/protocol"
)

// SSE event names of the client-facing stream.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// Event is one client-facing SSE event: a name plus its marshalled JSON
// payload.
type Event struct {
	Name string
	Data []byte
}

// SSE frames the event for the wire.
func (e Event) SSE() []byte {
	size := 7 + len(e.Name) + 7 + len(e.Data) + 2
	buf := make([]byte, 0, size)
	buf = append(buf, "event: "...)
	buf = append(buf, e.Name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, e.Data...)
	buf = append(buf, "\n\n"...)
	return buf
}

// DoneChunk is the stream terminator some clients poll for.
var DoneChunk = []byte("data: [DONE]\n\n")

// -----------------------------------------------------------------------------
// Typed payloads. The delta events are the hot path and get pooled
// structs; lifecycle events fire a handful of times per request and use
// plain values.
// -----------------------------------------------------------------------------

type messageStartPayload struct {
	Type    string            `json:"type"`
	Message startMessageShape `json:"message"`
}

type startMessageShape struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []any          `json:"content"`
	Model        string         `json:"model"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        protocol.Usage `json:"usage"`
}

type blockStartPayload struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock any    `json:"content_block"`
}

// Start-block shapes. These differ from protocol.ContentBlock in that
// empty text and empty input objects must appear on the wire.
type startTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type startThinkingBlock struct {
	Type      string `json:"type"`
	Thinking  string `json:"thinking"`
	Signature string `json:"signature"`
}

type startToolUseBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// TextBlockStart is the opening shape of a streamed text block.
func TextBlockStart() any {
	return startTextBlock{Type: protocol.BlockText}
}

// ThinkingBlockStart is the opening shape of a streamed thinking block.
func ThinkingBlockStart() any {
	return startThinkingBlock{Type: protocol.BlockThinking}
}

// ToolUseBlockStart is the opening shape of a tool_use block. Input is
// always an object so clients can apply input_json_delta patches to it.
func ToolUseBlockStart(id, name string, input map[string]any) any {
	if input == nil {
		input = map[string]any{}
	}
	return startToolUseBlock{Type: protocol.BlockToolUse, ID: id, Name: name, Input: input}
}

// ServerToolUseBlockStart is the opening shape of a server_tool_use block.
func ServerToolUseBlockStart(id, name string, input map[string]any) any {
	if input == nil {
		input = map[string]any{}
	}
	return startToolUseBlock{Type: protocol.BlockServerToolUse, ID: id, Name: name, Input: input}
}

type blockDeltaPayload struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta deltaShape `json:"delta"`
}

type deltaShape struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type blockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaPayload struct {
	Type  string          `json:"type"`
	Delta stopDeltaShape  `json:"delta"`
	Usage *protocol.Usage `json:"usage,omitempty"`
}

type stopDeltaShape struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

var blockDeltaPool = sync.Pool{
	New: func() any {
		return &blockDeltaPayload{Type: EventContentBlockDelta}
	},
}

func getBlockDelta() *blockDeltaPayload {
	return blockDeltaPool.Get().(*blockDeltaPayload)
}

func putBlockDelta(p *blockDeltaPayload) {
	p.Index = 0
	p.Delta = deltaShape{}
	blockDeltaPool.Put(p)
}

// -----------------------------------------------------------------------------
// Builders
// -----------------------------------------------------------------------------

func marshalEvent(name string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Name: name, Data: data}
}

// NewMessageStart opens the stream envelope. Output tokens start at zero
// and are corrected by the closing message_delta.
func NewMessageStart(id, model string, usage protocol.Usage) Event {
	return marshalEvent(EventMessageStart, messageStartPayload{
		Type: EventMessageStart,
		Message: startMessageShape{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Content: []any{},
			Model:   model,
			Usage:   usage,
		},
	})
}

func NewBlockStart(index int, block any) Event {
	return marshalEvent(EventContentBlockStart, blockStartPayload{
		Type:         EventContentBlockStart,
		Index:        index,
		ContentBlock: block,
	})
}

func NewTextDelta(index int, text string) Event {
	p := getBlockDelta()
	defer putBlockDelta(p)
	p.Index = index
	p.Delta.Type = "text_delta"
	p.Delta.Text = text
	return marshalEvent(EventContentBlockDelta, p)
}

func NewThinkingDelta(index int, thinking string) Event {
	p := getBlockDelta()
	defer putBlockDelta(p)
	p.Index = index
	p.Delta.Type = "thinking_delta"
	p.Delta.Thinking = thinking
	return marshalEvent(EventContentBlockDelta, p)
}

func NewInputJSONDelta(index int, partial string) Event {
	p := getBlockDelta()
	defer putBlockDelta(p)
	p.Index = index
	p.Delta.Type = "input_json_delta"
	p.Delta.PartialJSON = partial
	return marshalEvent(EventContentBlockDelta, p)
}

func NewBlockStop(index int) Event {
	return marshalEvent(EventContentBlockStop, blockStopPayload{
		Type:  EventContentBlockStop,
		Index: index,
	})
}

func NewMessageDelta(stopReason string, usage *protocol.Usage) Event {
	return marshalEvent(EventMessageDelta, messageDeltaPayload{
		Type:  EventMessageDelta,
		Delta: stopDeltaShape{StopReason: stopReason},
		Usage: usage,
	})
}

func NewMessageStop() Event {
	return marshalEvent(EventMessageStop, map[string]string{"type": EventMessageStop})
}

func NewPing() Event {
	return marshalEvent(EventPing, map[string]string{"type": EventPing})
}

// NewErrorEvent wraps an error body as the terminal SSE error event.
func NewErrorEvent(errType, message string) Event {
	return marshalEvent(EventError, protocol.NewErrorResponse(errType, message))
}
