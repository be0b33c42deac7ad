// Package protocol defines the wire types for both sides of the proxy:
// the client-facing Anthropic Messages API and the upstream OpenAI Chat
// Completions API. Translation between the two lives in
// internal/translator; this package only models the shapes.
package protocol

import (
	"fmt"

	"github.com/oa2a/oa2a/internal/json"
)

// Content block type tags.
const (
	BlockText                = "text"
	BlockThinking            = "thinking"
	BlockImage               = "image"
	BlockToolUse             = "tool_use"
	BlockToolResult          = "tool_result"
	BlockServerToolUse       = "server_tool_use"
	BlockWebSearchToolResult = "web_search_tool_result"
)

// Stop reasons surfaced to clients.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopToolUse   = "tool_use"
)

// ContentBlock is the tagged union used for every unit of message
// content. Exactly one Type is set; the populated fields depend on it.
//
//	text                   -> Text
//	thinking               -> Thinking, Signature
//	image                  -> Source
//	tool_use               -> ID, Name, Input
//	tool_result            -> ToolUseID, Content, IsError
//	server_tool_use        -> ID, Name, Input
//	web_search_tool_result -> ToolUseID, Results
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature *string         `json:"signature,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Results   any             `json:"results,omitempty"`
}

// ImageSource carries base64 image data.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// MessageContent is either a plain string or a list of content blocks on
// the wire. Blocks is authoritative after unmarshalling; a string
// shorthand is surfaced through Raw.
type MessageContent struct {
	Raw    string
	Blocks []ContentBlock
	isText bool
}

// TextContent builds the string shorthand form.
func TextContent(s string) MessageContent {
	return MessageContent{Raw: s, isText: true}
}

// BlockContent builds the block-list form.
func BlockContent(blocks ...ContentBlock) MessageContent {
	return MessageContent{Blocks: blocks}
}

// IsText reports whether the content used the string shorthand.
func (c MessageContent) IsText() bool { return c.isText }

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		c.isText = true
		return json.Unmarshal(data, &c.Raw)
	}
	c.isText = false
	return json.Unmarshal(data, &c.Blocks)
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.Raw)
	}
	if c.Blocks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// MessageParam is one turn of a client conversation.
type MessageParam struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// SystemPrompt accepts the string form or the list-of-text-blocks form.
type SystemPrompt struct {
	Text   string
	Blocks []ContentBlock
	isText bool
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		s.isText = true
		return json.Unmarshal(data, &s.Text)
	}
	s.isText = false
	return json.Unmarshal(data, &s.Blocks)
}

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if s.isText {
		return json.Marshal(s.Text)
	}
	return json.Marshal(s.Blocks)
}

// Flatten reduces either form to a single string. Non-text blocks are
// skipped.
func (s *SystemPrompt) Flatten() string {
	if s == nil {
		return ""
	}
	if s.isText {
		return s.Text
	}
	var out string
	for _, b := range s.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolChoice selects between auto/any/tool:{name}.
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// ThinkingConfig is the client-side thinking toggle.
type ThinkingConfig struct {
	Type         string `json:"type"` // "enabled", "adaptive", "disabled"
	BudgetTokens *int   `json:"budget_tokens,omitempty"`
}

// ToolDefinition is a client tool schema. Type distinguishes plain
// function tools (empty or "custom") from server tools such as
// web_search_20250305; server tools carry their own config fields which
// are preserved in Extra.
type ToolDefinition struct {
	Type        string         `json:"type,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	Extra       map[string]any `json:"-"`
}

func (t *ToolDefinition) UnmarshalJSON(data []byte) error {
	type alias ToolDefinition
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var extra map[string]any
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	delete(extra, "type")
	delete(extra, "name")
	delete(extra, "description")
	delete(extra, "input_schema")
	a.Extra = extra
	*t = ToolDefinition(a)
	return nil
}

// MessagesRequest is the client-facing request body for POST /v1/messages.
type MessagesRequest struct {
	Model         string           `json:"model"`
	Messages      []MessageParam   `json:"messages"`
	MaxTokens     int              `json:"max_tokens"`
	System        *SystemPrompt    `json:"system,omitempty"`
	Stream        bool             `json:"stream,omitempty"`
	Temperature   *float64         `json:"temperature,omitempty"`
	TopP          *float64         `json:"top_p,omitempty"`
	TopK          *int             `json:"top_k,omitempty"`
	StopSequences []string         `json:"stop_sequences,omitempty"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	ToolChoice    *ToolChoice      `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig  `json:"thinking,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// Message is the client-facing response body.
type Message struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// APIError is the error payload inside an ErrorResponse.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Error type identifiers (client-visible taxonomy).
const (
	ErrInvalidRequest = "invalid_request_error"
	ErrAuthentication = "authentication_error"
	ErrAPI            = "api_error"
	ErrTimeout        = "timeout_error"
	ErrConnection     = "connection_error"
	ErrInternal       = "internal_error"
)

// ErrorResponse is the client-facing error body (and the payload of the
// SSE `error` event).
type ErrorResponse struct {
	Type  string   `json:"type"`
	Error APIError `json:"error"`
}

// NewErrorResponse builds an ErrorResponse of the given taxonomy type.
func NewErrorResponse(errType, message string) ErrorResponse {
	return ErrorResponse{Type: "error", Error: APIError{Type: errType, Message: message}}
}
