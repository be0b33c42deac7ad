package translator

import (
	"strings"

	"github.com/oa2a/oa2a/internal/protocol"
)

// TokenCounter estimates token counts for delta accounting when the
// upstream omits usage. Implementations must tolerate arbitrary text.
type TokenCounter interface {
	Count(text string) int
}

// thinkingChunkSize bounds individual thinking_delta payloads so large
// extracted spans stream in digestible pieces.
const thinkingChunkSize = 200

// StreamTranslator converts an upstream Chat Completions SSE stream into
// client-facing Messages events. One translator serves one stream; it is
// not safe for concurrent use.
//
// Blocks are opened and closed exactly once each and indices only grow.
// A switch in delta kind (text, thinking, tool call slot) closes the
// open block and opens the next.
type StreamTranslator struct {
	model   string
	counter TokenCounter

	started      bool
	blockOpen    bool
	blockIndex   int
	blockType    string
	toolSlot     int
	toolArgs     map[int]*strings.Builder
	scanner      ThinkingScanner
	finishReason string

	messageID    string
	inputTokens  int
	outputTokens int
	usage        *protocol.Usage
	sentDelta    bool
}

// NewStreamTranslator builds a translator for one streaming request.
// inputTokens is the pre-computed estimate used until the upstream
// reports authoritative usage. counter may be nil.
func NewStreamTranslator(model string, inputTokens int, counter TokenCounter) *StreamTranslator {
	return &StreamTranslator{
		model:       model,
		counter:     counter,
		inputTokens: inputTokens,
		toolSlot:    -1,
		toolArgs:    make(map[int]*strings.Builder),
	}
}

// MessageID returns the upstream completion id once the first chunk has
// arrived.
func (s *StreamTranslator) MessageID() string { return s.messageID }

// Usage returns the final usage if the upstream reported one.
func (s *StreamTranslator) Usage() *protocol.Usage { return s.usage }

// ToolArguments returns the reassembled argument string for an upstream
// tool call slot.
func (s *StreamTranslator) ToolArguments(slot int) string {
	if b, ok := s.toolArgs[slot]; ok {
		return b.String()
	}
	return ""
}

// ApplyChunk consumes one upstream chunk and returns the client events
// it produces.
func (s *StreamTranslator) ApplyChunk(chunk *protocol.ChatCompletionChunk) []Event {
	var events []Event

	if !s.started {
		s.started = true
		s.messageID = chunk.ID
		if s.messageID == "" {
			s.messageID = NewMessageID()
		}
		if chunk.Usage != nil && chunk.Usage.PromptTokens > 0 {
			s.inputTokens = chunk.Usage.PromptTokens
		}
		events = append(events, NewMessageStart(s.messageID, s.model, protocol.Usage{
			InputTokens: s.inputTokens,
		}))
		events = append(events, NewPing())
	}

	// Usage-only chunk: the upstream accounting epilogue. Close the open
	// block and emit the authoritative message_delta.
	if len(chunk.Choices) == 0 {
		if chunk.Usage != nil {
			s.usage = protocol.UsageFromChat(chunk.Usage)
			s.inputTokens = chunk.Usage.PromptTokens
			s.outputTokens = chunk.Usage.CompletionTokens
			events = s.closeBlock(events)
			events = append(events, NewMessageDelta(MapStopReason(s.finishReason), s.usage))
			s.sentDelta = true
		}
		return events
	}

	choice := chunk.Choices[0]
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		s.finishReason = *choice.FinishReason
	}

	if rc := choice.Delta.ReasoningContent; rc != "" {
		events = s.flushScanner(events)
		events = s.ensureBlock(events, protocol.BlockThinking)
		for _, piece := range chunkText(rc, thinkingChunkSize) {
			events = append(events, NewThinkingDelta(s.blockIndex, piece))
		}
		return events
	}

	if choice.Delta.Content != nil {
		text := *choice.Delta.Content
		if text == "" || strings.TrimSpace(text) == "(no content)" {
			return events
		}
		for _, seg := range s.scanner.Scan(text) {
			events = s.emitSegment(events, seg)
		}
	}

	if len(choice.Delta.ToolCalls) > 0 {
		events = s.flushScanner(events)
		for _, call := range choice.Delta.ToolCalls {
			events = s.applyToolCall(events, call)
		}
	}
	return events
}

// Finish flushes buffered text, closes the open block and emits the
// stream epilogue. The message_delta is skipped when a usage chunk
// already produced one.
func (s *StreamTranslator) Finish() []Event {
	var events []Event
	if !s.started {
		s.started = true
		s.messageID = NewMessageID()
		events = append(events, NewMessageStart(s.messageID, s.model, protocol.Usage{
			InputTokens: s.inputTokens,
		}))
	}
	events = s.flushScanner(events)
	events = s.closeBlock(events)
	if !s.sentDelta {
		usage := &protocol.Usage{
			InputTokens:  s.inputTokens,
			OutputTokens: s.outputTokens,
		}
		s.usage = usage
		events = append(events, NewMessageDelta(MapStopReason(s.finishReason), usage))
		s.sentDelta = true
	}
	return append(events, NewMessageStop())
}

// flushScanner drains text buffered as a possible split marker when the
// stream switches away from plain content, so the fragment reaches the
// client instead of being dropped.
func (s *StreamTranslator) flushScanner(events []Event) []Event {
	for _, seg := range s.scanner.Flush() {
		events = s.emitSegment(events, seg)
	}
	return events
}

func (s *StreamTranslator) emitSegment(events []Event, seg Segment) []Event {
	if seg.Thinking {
		// Inline thinking spans arrive complete; each becomes its own
		// closed block.
		events = s.closeBlock(events)
		events = append(events, NewBlockStart(s.blockIndex, ThinkingBlockStart()))
		s.blockOpen = true
		s.blockType = protocol.BlockThinking
		for _, piece := range chunkText(seg.Text, thinkingChunkSize) {
			events = append(events, NewThinkingDelta(s.blockIndex, piece))
		}
		return s.closeBlock(events)
	}
	events = s.ensureBlock(events, protocol.BlockText)
	if s.counter != nil {
		s.outputTokens += s.counter.Count(seg.Text)
	}
	return append(events, NewTextDelta(s.blockIndex, seg.Text))
}

func (s *StreamTranslator) applyToolCall(events []Event, call protocol.ToolCall) []Event {
	slot := 0
	if call.Index != nil {
		slot = *call.Index
	}

	if call.ID != "" || s.blockType != protocol.BlockToolUse || s.toolSlot != slot {
		if !s.blockOpen || s.blockType != protocol.BlockToolUse || s.toolSlot != slot {
			events = s.closeBlock(events)
			name := ""
			if call.Function != nil {
				name = call.Function.Name
			}
			events = append(events, NewBlockStart(s.blockIndex, ToolUseBlockStart(call.ID, name, nil)))
			s.blockOpen = true
			s.blockType = protocol.BlockToolUse
			s.toolSlot = slot
			if _, ok := s.toolArgs[slot]; !ok {
				s.toolArgs[slot] = &strings.Builder{}
			}
		}
	}

	if call.Function != nil && call.Function.Arguments != "" {
		if b, ok := s.toolArgs[slot]; ok {
			b.WriteString(call.Function.Arguments)
		}
		events = append(events, NewInputJSONDelta(s.blockIndex, call.Function.Arguments))
	}
	return events
}

// ensureBlock opens a block of the wanted type, closing any open block
// of a different type first.
func (s *StreamTranslator) ensureBlock(events []Event, typ string) []Event {
	if s.blockOpen && s.blockType == typ {
		return events
	}
	events = s.closeBlock(events)
	switch typ {
	case protocol.BlockThinking:
		events = append(events, NewBlockStart(s.blockIndex, ThinkingBlockStart()))
	default:
		events = append(events, NewBlockStart(s.blockIndex, TextBlockStart()))
	}
	s.blockOpen = true
	s.blockType = typ
	return events
}

func (s *StreamTranslator) closeBlock(events []Event) []Event {
	if !s.blockOpen {
		return events
	}
	events = append(events, NewBlockStop(s.blockIndex))
	s.blockOpen = false
	s.blockType = ""
	s.blockIndex++
	return events
}

// chunkText splits s into rune-safe pieces of at most size runes.
func chunkText(s string, size int) []string {
	if len(s) <= size {
		return []string{s}
	}
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
