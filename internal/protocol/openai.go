package protocol

// Upstream Chat Completions shapes. Only the fields this proxy reads or
// writes are modelled; unknown upstream fields are ignored on decode.

// ChatMessage is one flat upstream message.
type ChatMessage struct {
	Role             string     `json:"role"`
	Content          any        `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
}

// TextPart is one entry of a multi-part upstream content list.
type TextPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ImageURLPart carries an image as a data URL.
type ImageURLPart struct {
	Type     string   `json:"type"`
	ImageURL ImageURL `json:"image_url"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall is an upstream function call request.
type ToolCall struct {
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Index    *int          `json:"index,omitempty"`
	Function *ToolFunction `json:"function,omitempty"`
}

type ToolFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatTool is an upstream function tool definition.
type ChatTool struct {
	Type     string           `json:"type"`
	Function ChatToolFunction `json:"function"`
}

type ChatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ForcedToolChoice is the {"type":"function","function":{"name":...}} form.
type ForcedToolChoice struct {
	Type     string           `json:"type"`
	Function ForcedToolTarget `json:"function"`
}

type ForcedToolTarget struct {
	Name string `json:"name"`
}

// StreamOptions requests usage accounting in the final stream chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatCompletionRequest is the upstream request body.
type ChatCompletionRequest struct {
	Model              string         `json:"model"`
	Messages           []ChatMessage  `json:"messages"`
	MaxTokens          int            `json:"max_tokens,omitempty"`
	Stream             bool           `json:"stream"`
	StreamOptions      *StreamOptions `json:"stream_options,omitempty"`
	Stop               []string       `json:"stop,omitempty"`
	Temperature        *float64       `json:"temperature,omitempty"`
	TopP               *float64       `json:"top_p,omitempty"`
	TopK               *int           `json:"top_k,omitempty"`
	RepetitionPenalty  *float64       `json:"repetition_penalty,omitempty"`
	Tools              []ChatTool     `json:"tools,omitempty"`
	ToolChoice         any            `json:"tool_choice,omitempty"`
	ChatTemplateKwargs map[string]any `json:"chat_template_kwargs,omitempty"`
}

// ChatUsage is the upstream usage block.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChoice is one unary response choice.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletion is the unary upstream response.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`

	// ClientUsage carries the whitelisted usage object some backends
	// attach with extra fields (cache tokens). Populated by the upstream
	// client from the raw response, never unmarshalled directly.
	ClientUsage *Usage `json:"-"`
}

// ChunkDelta is the delta payload of one streaming choice.
type ChunkDelta struct {
	Role             string     `json:"role,omitempty"`
	Content          *string    `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkChoice is one streaming choice.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason,omitempty"`
}

// ChatCompletionChunk is one upstream SSE data payload.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *ChatUsage    `json:"usage,omitempty"`
}
