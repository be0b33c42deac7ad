// Package servertools implements tools the proxy executes itself
// instead of returning to the client: the tool schema is forwarded to
// the model as an ordinary function tool, the resulting calls are
// intercepted, executed locally and fed back upstream.
package servertools

import (
	"context"
	"crypto/rand"

	"github.com/oa2a/oa2a/internal/config"
	"github.com/oa2a/oa2a/internal/protocol"
)

// ToolResult is the outcome of one server tool execution.
type ToolResult struct {
	Success        bool
	Content        []any
	ErrorCode      string
	UsageIncrement map[string]int
}

// ServerTool is one locally executed tool. Implementations are
// stateless; per-request configuration travels through the config map
// extracted from the client's tool definition.
type ServerTool interface {
	// Type is the client-facing tool type tag (web_search_20250305).
	Type() string
	// Name is the function name the model calls.
	Name() string
	// Enabled reports whether the tool can run with these settings.
	Enabled(s config.Settings) bool
	// Config extracts tool configuration from a matching definition.
	// Returns false when the definition is for another tool.
	Config(def protocol.ToolDefinition) (map[string]any, bool)
	// UpstreamTool is the function schema forwarded to the model.
	UpstreamTool(cfg map[string]any) protocol.ChatTool
	// CallArgs validates and extracts arguments from a model tool call.
	// Returns false when the call is malformed or for another tool.
	CallArgs(call protocol.ToolCall) (map[string]any, bool)
	// Execute runs the tool.
	Execute(ctx context.Context, callID string, args, cfg map[string]any, s config.Settings) ToolResult
	// ContentBlocks renders the execution as client content blocks.
	ContentBlocks(callID string, args map[string]any, result ToolResult) []protocol.ContentBlock
	// ResultMessage renders the execution as the upstream tool message.
	ResultMessage(callID string, args map[string]any, result ToolResult) protocol.ChatMessage
}

// Registry holds the known server tools. Tools are registered
// explicitly at construction; there is no global state.
type Registry struct {
	tools []ServerTool
}

func NewRegistry(tools ...ServerTool) *Registry {
	return &Registry{tools: tools}
}

// Get returns the tool with the given type tag.
func (r *Registry) Get(toolType string) ServerTool {
	for _, t := range r.tools {
		if t.Type() == toolType {
			return t
		}
	}
	return nil
}

// ByName returns the tool with the given function name.
func (r *Registry) ByName(name string) ServerTool {
	for _, t := range r.tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// ActiveTool is a server tool requested by a client plus its extracted
// per-request configuration.
type ActiveTool struct {
	Tool   ServerTool
	Config map[string]any
}

// ExtractActive scans the client tool definitions for enabled server
// tools. Definitions matching a registered but disabled tool are
// ignored and translate as ordinary client tools.
func (r *Registry) ExtractActive(defs []protocol.ToolDefinition, s config.Settings) []ActiveTool {
	var active []ActiveTool
	for _, def := range defs {
		tool := r.Get(def.Type)
		if tool == nil || !tool.Enabled(s) {
			continue
		}
		cfg, ok := tool.Config(def)
		if !ok {
			continue
		}
		active = append(active, ActiveTool{Tool: tool, Config: cfg})
	}
	return active
}

const toolIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewServerToolID mints a client-facing server tool use identifier of
// the form srvtoolu_ followed by 24 random lowercase alphanumerics.
func NewServerToolID() string {
	buf := make([]byte, 24)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = toolIDAlphabet[int(b)%len(toolIDAlphabet)]
	}
	return "srvtoolu_" + string(buf)
}
