// Package tools provides the tool registry and execution framework
// for the agent.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes a tool call. The returned string must be a
// JSON-serializable result the model can consume.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// InvalidToolDefinitionError is returned by Register when a definition
// is missing a name, description, or handler.
type InvalidToolDefinitionError struct {
	Reason string
}

func (e *InvalidToolDefinitionError) Error() string {
	return fmt.Sprintf("invalid tool definition: %s", e.Reason)
}

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. This indicates a capability mismatch,
// not a transient execution failure.
type ErrToolUnavailable struct {
	ToolName string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// Registry holds the available tools. It is safe for concurrent use:
// reads return independent snapshots so in-flight requests are
// insulated from registration changes.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates a registry pre-populated with the built-in
// current_time tool.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Tool)}
	r.tools[clockToolName] = clockTool()
	return r
}

// Register adds a tool, replacing any existing tool with the same name.
// Replacement is intentional: it lets deployments override built-ins
// such as the clock.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return &InvalidToolDefinitionError{Reason: "name is required"}
	}
	if t.Description == "" {
		return &InvalidToolDefinitionError{Reason: fmt.Sprintf("tool %q has no description", t.Name)}
	}
	if t.Handler == nil {
		return &InvalidToolDefinitionError{Reason: fmt.Sprintf("tool %q has no handler", t.Name)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
	return nil
}

// Get retrieves a tool by name. Returns nil if not registered.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns the tool catalog in the wire format the model expects.
// The returned slice and its parameter maps are deep copies; mutating
// them does not affect the live registry.
func (r *Registry) List() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]map[string]any, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  deepCopyMap(t.Parameters),
			},
		})
	}
	return out
}

// Reset removes all tools except the built-in current_time tool,
// restoring a clean baseline.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = map[string]*Tool{clockToolName: clockTool()}
}

// Execute runs a tool by name. An unregistered name yields
// ErrToolUnavailable; handler failures pass through unchanged so the
// caller can convert them to structured results.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	return t.Handler(ctx, args)
}

// deepCopyMap copies nested map[string]any values. Slices are copied
// shallowly at the element level, which is sufficient for JSON-schema
// shaped parameter maps.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case map[string]any:
			out[k] = deepCopyMap(tv)
		case []any:
			cp := make([]any, len(tv))
			for i, e := range tv {
				if em, ok := e.(map[string]any); ok {
					cp[i] = deepCopyMap(em)
				} else {
					cp[i] = e
				}
			}
			out[k] = cp
		case []string:
			out[k] = append([]string(nil), tv...)
		default:
			out[k] = v
		}
	}
	return out
}
