package translator

import (
	"strings"

	"github.com/google/uuid"

	"github.com/oa2a/oa2a/internal/json"
	log "github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/protocol"
)

// MapStopReason translates an upstream finish_reason into the client
// taxonomy. Unknown reasons degrade to end_turn.
func MapStopReason(finish string) string {
	switch finish {
	case "length":
		return protocol.StopMaxTokens
	case "tool_calls":
		return protocol.StopToolUse
	default:
		return protocol.StopEndTurn
	}
}

// NewMessageID mints a client-facing message identifier.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TranslateResponse converts a complete upstream chat completion into a
// client-facing message. Reasoning arrives either through the dedicated
// reasoning_content field or as inline markers in the text; the field
// wins when both are present.
func TranslateResponse(completion *protocol.ChatCompletion, model string) *protocol.Message {
	msg := &protocol.Message{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: protocol.StopEndTurn,
		Content:    []protocol.ContentBlock{},
	}
	if completion.ID != "" {
		msg.ID = completion.ID
	}
	msg.Usage = protocol.UsageFromChat(completion.Usage)
	if completion.ClientUsage != nil {
		msg.Usage = completion.ClientUsage
	}

	if len(completion.Choices) == 0 {
		log.Warnf("upstream completion %s has no choices", completion.ID)
		return msg
	}
	choice := completion.Choices[0]
	msg.StopReason = MapStopReason(choice.FinishReason)

	if rc := choice.Message.ReasoningContent; rc != "" {
		msg.Content = append(msg.Content, protocol.ContentBlock{
			Type:     protocol.BlockThinking,
			Thinking: rc,
		})
		for _, text := range contentTexts(choice.Message.Content) {
			appendText(msg, text)
		}
	} else {
		for _, text := range contentTexts(choice.Message.Content) {
			spans, residual := ExtractThinking(text)
			for _, span := range spans {
				msg.Content = append(msg.Content, protocol.ContentBlock{
					Type:     protocol.BlockThinking,
					Thinking: span,
				})
			}
			appendText(msg, residual)
		}
	}

	for _, call := range choice.Message.ToolCalls {
		if call.Function == nil {
			continue
		}
		msg.Content = append(msg.Content, ToolUseBlock(call))
	}
	return msg
}

func appendText(msg *protocol.Message, text string) {
	if text == "" {
		return
	}
	msg.Content = append(msg.Content, protocol.ContentBlock{
		Type: protocol.BlockText,
		Text: text,
	})
}

// contentTexts extracts the textual pieces of an upstream content value,
// which may be a string, a part list, or absent.
func contentTexts(content any) []string {
	switch v := content.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, part := range v {
			m, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok && text != "" {
				out = append(out, text)
			}
		}
		return out
	default:
		return nil
	}
}

// ToolUseBlock converts one upstream tool call into a tool_use block.
// Arguments that fail to parse as JSON are preserved under a "raw" key
// instead of being dropped.
func ToolUseBlock(call protocol.ToolCall) protocol.ContentBlock {
	block := protocol.ContentBlock{
		Type: protocol.BlockToolUse,
		ID:   call.ID,
	}
	if block.ID == "" {
		block.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	if call.Function != nil {
		block.Name = call.Function.Name
		block.Input = ParseToolArguments(call.Function.Arguments)
	} else {
		block.Input = map[string]any{}
	}
	return block
}

// ParseToolArguments decodes a tool call argument string. Empty input
// yields an empty object; malformed JSON is wrapped as {"raw": ...}.
func ParseToolArguments(args string) map[string]any {
	if strings.TrimSpace(args) == "" {
		return map[string]any{}
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(args), &parsed); err != nil || parsed == nil {
		return map[string]any{"raw": args}
	}
	return parsed
}
