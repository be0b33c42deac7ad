package translator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oa2a/oa2a/internal/json"
	log "github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/protocol"
)

// Sampling defaults applied when the client omits a knob. Tuned for the
// reasoning-capable open models this proxy usually fronts.
const (
	defaultMaxTokens         = 4096
	defaultTemperature       = 0.6
	defaultTopP              = 0.95
	defaultRepetitionPenalty = 1.1
)

var billingHeaderRe = regexp.MustCompile(`(?i)x-anthropic-billing-header:.*?cch=[a-zA-Z0-9]+;?`)

// StripBillingMetadata removes injected billing header lines from system
// prompt text and tidies the whitespace they leave behind. Text without
// the marker is returned unchanged, so the operation is idempotent.
func StripBillingMetadata(s string) string {
	if !strings.Contains(strings.ToLower(s), "x-anthropic-billing-header") {
		return s
	}
	s = billingHeaderRe.ReplaceAllString(s, "")
	s = collapseNewlines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// RequestOptions adjusts translation for server-side tool handling.
// ExcludeToolTypes drops client tool definitions by type (they are
// executed locally, not forwarded), and ExtraTools re-injects their
// upstream function schemas.
type RequestOptions struct {
	ExcludeToolTypes map[string]bool
	ExtraTools       []protocol.ChatTool
}

// TranslateRequest converts a Messages request into the equivalent Chat
// Completions request.
func TranslateRequest(req *protocol.MessagesRequest, opts RequestOptions) *protocol.ChatCompletionRequest {
	out := &protocol.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}

	if sys := strings.TrimSpace(req.System.Flatten()); sys != "" {
		sys = StripBillingMetadata(sys)
		if sys != "" {
			out.Messages = append(out.Messages, protocol.ChatMessage{Role: "system", Content: sys})
		}
	}

	for i := range req.Messages {
		out.Messages = append(out.Messages, convertMessage(&req.Messages[i])...)
	}

	if req.Temperature != nil {
		out.Temperature = req.Temperature
	} else {
		t := defaultTemperature
		out.Temperature = &t
	}
	if req.TopP != nil {
		out.TopP = req.TopP
	} else {
		p := defaultTopP
		out.TopP = &p
	}
	out.TopK = req.TopK
	rp := defaultRepetitionPenalty
	out.RepetitionPenalty = &rp
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}

	out.Tools = convertTools(req.Tools, opts.ExcludeToolTypes)
	out.Tools = append(out.Tools, opts.ExtraTools...)
	if len(out.Tools) > 0 {
		out.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	// vLLM and SGLang disagree on the kwarg name, so both variants are
	// sent. clear_thinking:false keeps thinking content in the history.
	out.ChatTemplateKwargs = map[string]any{
		"thinking":        false,
		"enable_thinking": false,
	}
	if req.Thinking != nil {
		switch req.Thinking.Type {
		case "enabled", "adaptive":
			out.ChatTemplateKwargs = map[string]any{
				"thinking":        true,
				"enable_thinking": true,
				"clear_thinking":  false,
			}
		}
		if req.Thinking.BudgetTokens != nil {
			log.Debugf("thinking budget_tokens=%d accepted but not forwarded", *req.Thinking.BudgetTokens)
		}
	}

	if req.Stream {
		out.StreamOptions = &protocol.StreamOptions{IncludeUsage: true}
	}
	return out
}

// convertMessage maps one Messages message onto one or more chat
// messages. Tool results cannot ride inside a user message upstream, so
// each one becomes its own role:tool message after the primary.
func convertMessage(msg *protocol.MessageParam) []protocol.ChatMessage {
	if msg.Content.IsText() {
		return []protocol.ChatMessage{{Role: msg.Role, Content: msg.Content.Raw}}
	}

	primary := protocol.ChatMessage{Role: msg.Role, Content: ""}
	var parts []any
	var reasoning strings.Builder
	var toolMsgs []protocol.ChatMessage

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case protocol.BlockText:
			parts = append(parts, protocol.TextPart{Type: "text", Text: block.Text})
		case protocol.BlockThinking:
			reasoning.WriteString(block.Thinking)
		case protocol.BlockImage:
			if block.Source != nil {
				parts = append(parts, protocol.ImageURLPart{
					Type: "image_url",
					ImageURL: protocol.ImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", block.Source.MediaType, block.Source.Data),
					},
				})
			}
		case protocol.BlockToolUse:
			args := "{}"
			if block.Input != nil {
				if b, err := json.Marshal(block.Input); err == nil {
					args = string(b)
				}
			}
			primary.ToolCalls = append(primary.ToolCalls, protocol.ToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: &protocol.ToolFunction{Name: block.Name, Arguments: args},
			})
		case protocol.BlockToolResult:
			toolMsgs = append(toolMsgs, protocol.ChatMessage{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    flattenToolResult(block.Content),
			})
		default:
			log.Debugf("dropping unsupported content block type %q", block.Type)
		}
	}

	switch {
	case len(parts) == 1:
		if tp, ok := parts[0].(protocol.TextPart); ok {
			primary.Content = tp.Text
		} else {
			primary.Content = parts
		}
	case len(parts) > 1:
		primary.Content = parts
	}
	primary.ReasoningContent = reasoning.String()

	out := make([]protocol.ChatMessage, 0, 1+len(toolMsgs))
	out = append(out, primary)
	return append(out, toolMsgs...)
}

// flattenToolResult renders tool_result content as a single string.
// Results may be a bare string or a list of blocks; images have no
// upstream representation in a tool message and become a placeholder.
func flattenToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []protocol.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	var b strings.Builder
	for _, block := range blocks {
		switch block.Type {
		case protocol.BlockText:
			b.WriteString(block.Text)
		case protocol.BlockImage:
			b.WriteString("[Image content]")
		}
	}
	return b.String()
}

func convertTools(tools []protocol.ToolDefinition, exclude map[string]bool) []protocol.ChatTool {
	var out []protocol.ChatTool
	for _, t := range tools {
		if t.Type != "" && exclude[t.Type] {
			continue
		}
		out = append(out, protocol.ChatTool{
			Type: "function",
			Function: protocol.ChatToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func convertToolChoice(tc *protocol.ToolChoice) any {
	if tc == nil {
		return "auto"
	}
	switch tc.Type {
	case "any":
		return "required"
	case "tool":
		return protocol.ForcedToolChoice{
			Type:     "function",
			Function: protocol.ForcedToolTarget{Name: tc.Name},
		}
	default:
		return "auto"
	}
}
