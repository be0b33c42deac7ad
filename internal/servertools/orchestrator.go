package servertools

import (
	"context"

	"github.com/oa2a/oa2a/internal/config"
	log "github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/protocol"
	"github.com/oa2a/oa2a/internal/translator"
)

// CompletionCaller is the slice of the upstream client the orchestrator
// needs.
type CompletionCaller interface {
	CreateChatCompletion(ctx context.Context, req *protocol.ChatCompletionRequest) (*protocol.ChatCompletion, error)
}

// Orchestrator drives the server tool loop: call the model, execute any
// server tool calls it makes, feed the results back, repeat until the
// model answers without server tools or the use ceiling is hit.
type Orchestrator struct {
	caller   CompletionCaller
	registry *Registry
}

func NewOrchestrator(caller CompletionCaller, registry *Registry) *Orchestrator {
	return &Orchestrator{caller: caller, registry: registry}
}

// serverCall pairs the minted client-facing id with the upstream id the
// model must see in the tool result.
type serverCall struct {
	clientID   string
	upstreamID string
	tool       ActiveTool
	call       protocol.ToolCall
}

// Run executes the loop and returns the final message. Upstream
// failures abort the whole request; partial tool results are discarded.
func (o *Orchestrator) Run(ctx context.Context, chatReq *protocol.ChatCompletionRequest, active []ActiveTool, model string, s config.Settings) (*protocol.Message, error) {
	// The loop is unary regardless of what the client asked for.
	params := *chatReq
	params.Stream = false
	params.StreamOptions = nil
	params.Messages = append([]protocol.ChatMessage(nil), chatReq.Messages...)

	byName := make(map[string]ActiveTool, len(active))
	for _, at := range active {
		byName[at.Tool.Name()] = at
	}

	maxUses := s.WebSearchMaxUses
	for _, at := range active {
		if n, ok := numeric(at.Config["max_uses"]); ok && n > 0 {
			maxUses = n
			break
		}
	}

	var accumulated []protocol.ContentBlock
	usageTotals := make(map[string]int)
	totalCalls := 0

	for {
		completion, err := o.caller.CreateChatCompletion(ctx, &params)
		if err != nil {
			return nil, err
		}

		calls := o.partition(completion, byName)
		if len(calls) == 0 {
			return o.finalize(completion, model, accumulated, usageTotals), nil
		}

		if totalCalls >= maxUses {
			log.Warnf("server tool use ceiling (%d) reached", maxUses)
			params.Messages = o.appendExceeded(params.Messages, calls, &accumulated)
			continue
		}

		assistant := protocol.ChatMessage{
			// Some backends reject null content on tool call turns.
			Role:    "assistant",
			Content: "",
		}
		var toolMsgs []protocol.ChatMessage

		for _, sc := range calls {
			totalCalls++
			args, ok := sc.tool.Tool.CallArgs(sc.call)
			if !ok {
				args = map[string]any{}
			}
			result := sc.tool.Tool.Execute(ctx, sc.clientID, args, sc.tool.Config, s)
			for k, v := range result.UsageIncrement {
				usageTotals[k] += v
			}
			accumulated = append(accumulated, sc.tool.Tool.ContentBlocks(sc.clientID, args, result)...)

			assistant.ToolCalls = append(assistant.ToolCalls, upstreamToolCall(sc))
			toolMsgs = append(toolMsgs, sc.tool.Tool.ResultMessage(sc.upstreamID, args, result))
		}

		params.Messages = append(params.Messages, assistant)
		params.Messages = append(params.Messages, toolMsgs...)
	}
}

// partition splits the completion's tool calls, minting srvtoolu ids for
// the server-side ones. Ordinary tool calls stay untouched in the
// completion and flow back to the client.
func (o *Orchestrator) partition(completion *protocol.ChatCompletion, byName map[string]ActiveTool) []serverCall {
	if len(completion.Choices) == 0 {
		return nil
	}
	var calls []serverCall
	for _, tc := range completion.Choices[0].Message.ToolCalls {
		if tc.Function == nil {
			continue
		}
		at, ok := byName[tc.Function.Name]
		if !ok {
			continue
		}
		calls = append(calls, serverCall{
			clientID:   NewServerToolID(),
			upstreamID: tc.ID,
			tool:       at,
			call:       tc,
		})
	}
	return calls
}

func (o *Orchestrator) finalize(completion *protocol.ChatCompletion, model string, accumulated []protocol.ContentBlock, usageTotals map[string]int) *protocol.Message {
	msg := translator.TranslateResponse(completion, model)
	if len(accumulated) == 0 {
		return msg
	}
	msg.Content = append(append([]protocol.ContentBlock(nil), accumulated...), msg.Content...)
	if msg.Usage == nil {
		msg.Usage = &protocol.Usage{}
	}
	msg.Usage.ServerToolUse = &protocol.ServerToolUsage{
		WebSearchRequests: usageTotals["web_search_requests"],
	}
	return msg
}

// appendExceeded records max_uses_exceeded error blocks for each pending
// call and feeds matching refusals back to the model so it can answer
// without the tool.
func (o *Orchestrator) appendExceeded(messages []protocol.ChatMessage, calls []serverCall, accumulated *[]protocol.ContentBlock) []protocol.ChatMessage {
	assistant := protocol.ChatMessage{Role: "assistant", Content: ""}
	var toolMsgs []protocol.ChatMessage

	for _, sc := range calls {
		result := ToolResult{Success: false, ErrorCode: SearchErrMaxUsesExceeded}
		*accumulated = append(*accumulated, sc.tool.Tool.ContentBlocks(sc.clientID, map[string]any{}, result)...)

		assistant.ToolCalls = append(assistant.ToolCalls, upstreamToolCall(sc))
		toolMsgs = append(toolMsgs, protocol.ChatMessage{
			Role:       "tool",
			ToolCallID: sc.upstreamID,
			Content:    `{"error":"max_uses_exceeded","message":"Maximum tool uses exceeded."}`,
		})
	}

	messages = append(messages, assistant)
	return append(messages, toolMsgs...)
}

func upstreamToolCall(sc serverCall) protocol.ToolCall {
	args := "{}"
	if sc.call.Function != nil && sc.call.Function.Arguments != "" {
		args = sc.call.Function.Arguments
	}
	name := ""
	if sc.call.Function != nil {
		name = sc.call.Function.Name
	}
	return protocol.ToolCall{
		ID:   sc.upstreamID,
		Type: "function",
		Function: &protocol.ToolFunction{
			Name:      name,
			Arguments: args,
		},
	}
}

func numeric(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
