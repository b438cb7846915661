package tools

import "context"

type contextKey string

const (
	runStateKey  contextKey = "run_state"
	contextIDKey contextKey = "context_id"
)

// WithRunState attaches the invocation state to the context so tool
// handlers (notably web_fetch deduplication) can reach it.
func WithRunState(ctx context.Context, rs *RunState) context.Context {
	return context.WithValue(ctx, runStateKey, rs)
}

// RunStateFromContext extracts the invocation state. Returns nil if the
// handler was called outside an agent run.
func RunStateFromContext(ctx context.Context) *RunState {
	rs, _ := ctx.Value(runStateKey).(*RunState)
	return rs
}

// WithContextID attaches the conversation context key to the context.
func WithContextID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextIDKey, id)
}

// ContextIDFromContext extracts the conversation context key.
// Returns "default" if not set.
func ContextIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextIDKey).(string); ok && id != "" {
		return id
	}
	return "default"
}
