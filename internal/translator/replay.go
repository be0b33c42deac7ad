package translator

import (
	"github.com/oa2a/oa2a/internal/json"
	log "github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/protocol"
)

// ReplayMessage renders a complete message as the event sequence a live
// stream would have produced. Used when a request needed server-side
// tool orchestration but the client asked for streaming.
func ReplayMessage(msg *protocol.Message) []Event {
	var usage protocol.Usage
	if msg.Usage != nil {
		usage = *msg.Usage
	}

	events := []Event{
		NewMessageStart(msg.ID, msg.Model, protocol.Usage{
			InputTokens:              usage.InputTokens,
			CacheCreationInputTokens: usage.CacheCreationInputTokens,
			CacheReadInputTokens:     usage.CacheReadInputTokens,
		}),
		NewPing(),
	}

	for i, block := range msg.Content {
		switch block.Type {
		case protocol.BlockText:
			events = append(events,
				NewBlockStart(i, TextBlockStart()),
				NewTextDelta(i, block.Text),
				NewBlockStop(i))

		case protocol.BlockThinking:
			events = append(events, NewBlockStart(i, ThinkingBlockStart()))
			for _, piece := range chunkText(block.Thinking, thinkingChunkSize) {
				if piece != "" {
					events = append(events, NewThinkingDelta(i, piece))
				}
			}
			events = append(events, NewBlockStop(i))

		case protocol.BlockToolUse:
			events = append(events, NewBlockStart(i, ToolUseBlockStart(block.ID, block.Name, block.Input)))
			if len(block.Input) > 0 {
				if data, err := json.Marshal(block.Input); err == nil {
					events = append(events, NewInputJSONDelta(i, string(data)))
				}
			}
			events = append(events, NewBlockStop(i))

		case protocol.BlockServerToolUse:
			events = append(events,
				NewBlockStart(i, ServerToolUseBlockStart(block.ID, block.Name, block.Input)),
				NewBlockStop(i))

		case protocol.BlockWebSearchToolResult:
			events = append(events,
				NewBlockStart(i, block),
				NewBlockStop(i))

		default:
			log.Debugf("replay skipping content block type %q", block.Type)
		}
	}

	stop := msg.StopReason
	if stop == "" {
		stop = protocol.StopEndTurn
	}
	events = append(events, NewMessageDelta(stop, msg.Usage))
	return append(events, NewMessageStop())
}
