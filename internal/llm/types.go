// Package llm provides the model transport used by the orchestrator.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message sent to or received from the model.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the tool and carries its arguments.
// Arguments arrive as a JSON object, never as an encoded string.
type ToolCallFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the provider-neutral response from a chat call.
// Wire format conversion happens at the provider boundary (ollama.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage (when the provider reports it)
	InputTokens  int
	OutputTokens int
}

// HasToolCall reports whether the model requested a tool invocation.
func (r *ChatResponse) HasToolCall() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}

// FirstToolCall returns the first requested tool invocation, if any.
func (r *ChatResponse) FirstToolCall() (ToolCall, bool) {
	if !r.HasToolCall() {
		return ToolCall{}, false
	}
	return r.Message.ToolCalls[0], true
}
