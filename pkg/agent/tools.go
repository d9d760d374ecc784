package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Tool is a capability the model may invoke during a turn.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema for the tool's parameters.
	Schema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolSet holds registered tools in deterministic registration order.
type ToolSet struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewToolSet creates an empty tool set.
func NewToolSet() *ToolSet {
	return &ToolSet{tools: make(map[string]Tool)}
}

// Register adds a tool. Tool names must be unique.
func (ts *ToolSet) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is required")
	}
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return fmt.Errorf("tool name is required")
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, exists := ts.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	ts.tools[name] = tool
	ts.order = append(ts.order, name)
	return nil
}

// Get returns a tool by name.
func (ts *ToolSet) Get(name string) (Tool, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	tool, ok := ts.tools[name]
	return tool, ok
}

// Names returns tool names in registration order.
func (ts *ToolSet) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return append([]string(nil), ts.order...)
}

// Specs returns tool definitions in the wire format providers consume.
func (ts *ToolSet) Specs() []map[string]interface{} {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	specs := make([]map[string]interface{}, 0, len(ts.order))
	for _, name := range ts.order {
		tool := ts.tools[name]
		schema := tool.Schema()
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		specs = append(specs, map[string]interface{}{
			"name":         tool.Name(),
			"description":  tool.Description(),
			"input_schema": schema,
		})
	}
	return specs
}
