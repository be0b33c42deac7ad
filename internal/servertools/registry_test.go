package servertools

import (
	"regexp"
	"testing"

	"github.com/oa2a/oa2a/internal/config"
	"github.com/oa2a/oa2a/internal/protocol"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(NewWebSearchTool())

	if tool := reg.Get(WebSearchToolType); tool == nil {
		t.Fatal("Get(web_search_20250305) = nil")
	}
	if tool := reg.ByName(WebSearchToolName); tool == nil {
		t.Fatal("ByName(web_search) = nil")
	}
	if tool := reg.Get("bash_20250124"); tool != nil {
		t.Errorf("Get(unknown) = %v, want nil", tool)
	}
	if tool := reg.ByName("bash"); tool != nil {
		t.Errorf("ByName(unknown) = %v, want nil", tool)
	}
}

func TestExtractActive(t *testing.T) {
	reg := NewRegistry(NewWebSearchTool())
	defs := []protocol.ToolDefinition{
		{Name: "get_weather", InputSchema: map[string]any{"type": "object"}},
		{Type: WebSearchToolType, Name: WebSearchToolName, Extra: map[string]any{"max_uses": float64(3)}},
	}

	s := config.Defaults()
	if active := reg.ExtractActive(defs, s); len(active) != 0 {
		t.Errorf("without API key: %d active tools, want 0", len(active))
	}

	s.TavilyAPIKey = "tvly-test"
	active := reg.ExtractActive(defs, s)
	if len(active) != 1 {
		t.Fatalf("active tools = %d, want 1", len(active))
	}
	if active[0].Tool.Type() != WebSearchToolType {
		t.Errorf("tool type = %q", active[0].Tool.Type())
	}
	if n, ok := active[0].Config["max_uses"].(float64); !ok || n != 3 {
		t.Errorf("config max_uses = %v", active[0].Config["max_uses"])
	}
}

func TestNewServerToolID(t *testing.T) {
	re := regexp.MustCompile(`^srvtoolu_[a-z0-9]{24}$`)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := NewServerToolID()
		if !re.MatchString(id) {
			t.Fatalf("id %q does not match %s", id, re)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
