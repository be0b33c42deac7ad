package protocol

import "github.com/tidwall/gjson"

// ServerToolUsage aggregates server-side tool invocations for one request.
type ServerToolUsage struct {
	WebSearchRequests int `json:"web_search_requests,omitempty"`
}

// Usage is the client-facing token accounting block. Cache fields are
// pointers so absent upstream values stay null instead of zero.
type Usage struct {
	InputTokens              int              `json:"input_tokens"`
	OutputTokens             int              `json:"output_tokens"`
	CacheCreationInputTokens *int             `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int             `json:"cache_read_input_tokens,omitempty"`
	ServerToolUse            *ServerToolUsage `json:"server_tool_use,omitempty"`
}

// UsageFromChat maps upstream usage onto the client shape. Cache token
// fields are not part of the upstream protocol and stay null.
func UsageFromChat(u *ChatUsage) *Usage {
	if u == nil {
		return nil
	}
	return &Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
}

// NormalizeUsage re-parses an arbitrary usage JSON object keeping only
// the whitelisted fields. Unknown keys are dropped; known keys that are
// null or absent are omitted. Both the client naming (input_tokens) and
// the upstream naming (prompt_tokens) are accepted, since some backends
// mix the two. Returns nil for anything that is not an object.
func NormalizeUsage(raw []byte) *Usage {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return nil
	}
	u := &Usage{
		InputTokens:  int(parsed.Get("input_tokens").Int()),
		OutputTokens: int(parsed.Get("output_tokens").Int()),
	}
	if u.InputTokens == 0 {
		u.InputTokens = int(parsed.Get("prompt_tokens").Int())
	}
	if u.OutputTokens == 0 {
		u.OutputTokens = int(parsed.Get("completion_tokens").Int())
	}
	if v := parsed.Get("cache_creation_input_tokens"); v.Exists() && v.Type != gjson.Null {
		n := int(v.Int())
		u.CacheCreationInputTokens = &n
	}
	if v := parsed.Get("cache_read_input_tokens"); v.Exists() && v.Type != gjson.Null {
		n := int(v.Int())
		u.CacheReadInputTokens = &n
	}
	if v := parsed.Get("server_tool_use.web_search_requests"); v.Exists() {
		u.ServerToolUse = &ServerToolUsage{WebSearchRequests: int(v.Int())}
	}
	return u
}
