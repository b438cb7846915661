package llm

import "context"

// Client is the interface that model transports implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// The tools slice carries the tool catalog in wire format; nil or
	// empty means the model is asked for a plain text answer.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error
}
