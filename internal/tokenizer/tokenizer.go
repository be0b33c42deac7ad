// Package tokenizer provides cl100k_base token counting for usage
// estimation. Counting is best effort: a codec failure yields zero
// rather than an error, since estimates only feed accounting fields.
package tokenizer

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/oa2a/oa2a/internal/json"
	log "github.com/oa2a/oa2a/internal/logging"
	"github.com/oa2a/oa2a/internal/protocol"
)

// imageTokenEstimate approximates the cost of one attached image.
const imageTokenEstimate = 85

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warnf("cl100k_base codec unavailable: %v", err)
			return
		}
		codec = c
	})
	return codec
}

// Counter counts tokens with the cl100k_base encoding. The zero value
// is ready for use and safe for concurrent callers.
type Counter struct{}

// Count returns the token count of text, or zero if the codec is
// unavailable.
func (Counter) Count(text string) int {
	c := getCodec()
	if c == nil || text == "" {
		return 0
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}

// EstimateRequestTokens approximates the prompt size of an upstream
// request. Used for the message_start usage field and for the
// count_tokens endpoint until the upstream reports real numbers.
func (ctr Counter) EstimateRequestTokens(req *protocol.ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		switch content := msg.Content.(type) {
		case string:
			total += ctr.Count(content)
		case []any:
			for _, part := range content {
				switch p := part.(type) {
				case protocol.TextPart:
					total += ctr.Count(p.Text)
				case protocol.ImageURLPart:
					total += imageTokenEstimate
				default:
					total += ctr.Count(stringify(p))
				}
			}
		}
		if len(msg.ToolCalls) > 0 {
			total += ctr.Count(stringify(msg.ToolCalls))
		}
	}
	if len(req.Tools) > 0 {
		total += ctr.Count(stringify(req.Tools))
	}
	if req.ToolChoice != nil {
		total += ctr.Count(stringify(req.ToolChoice))
	}
	return total
}

func stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
