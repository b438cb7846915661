// Package agent implements the tool-calling orchestration loop: it
// drives the model through decide, execute, and incorporate phases
// against the tool registry until a final answer, a bailout, or an
// error is reached.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magpiebot/magpie/internal/llm"
	"github.com/magpiebot/magpie/internal/memory"
	"github.com/magpiebot/magpie/internal/tools"
	"github.com/magpiebot/magpie/internal/usage"
)

// User-facing bailout messages. These are returned as the assistant's
// reply, not as errors; the run is considered handled.
const (
	emptyResultsBailout = "I tried looking that up but didn't find anything useful. Could you rephrase the question, or ask me something I can answer directly?"
	namelessBailout     = "I had repeated trouble picking the right tool for that request. Could you put it another way?"
)

// IterationLimitError indicates the model kept requesting tools past
// the iteration cap without producing a final answer.
type IterationLimitError struct {
	Iterations int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("no final answer after %d tool iterations", e.Iterations)
}

// Config controls one orchestrator instance.
type Config struct {
	// Model is the model id passed to the transport.
	Model string

	// SystemPrompt is prepended to every conversation.
	SystemPrompt string

	// ToolsEnabled gates the tool-calling loop; when false every
	// request takes the single-call path.
	ToolsEnabled bool

	// ModelSupportsTools marks whether the configured model accepts a
	// tool catalog at all.
	ModelSupportsTools bool

	// MaxIterations caps the model calls made while incorporating tool
	// results. Default: 5.
	MaxIterations int

	// Quotas limits per-tool call counts within one request. Tools
	// without an entry are uncapped. Defaults: web_search 3, web_fetch 5.
	Quotas map[string]int

	// SearchToolName identifies the tool subject to the
	// one-search-per-request rule. Default: "web_search".
	SearchToolName string

	// RequestTimeout bounds one end-to-end request. Default: 2m.
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.Quotas == nil {
		c.Quotas = map[string]int{
			"web_search": 3,
			"web_fetch":  5,
		}
	}
	if c.SearchToolName == "" {
		c.SearchToolName = "web_search"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 2 * time.Minute
	}
}

// Orchestrator runs the conversation loop for one configured model.
// Safe for concurrent use; all per-request state lives in a RunState.
type Orchestrator struct {
	cfg      Config
	llm      llm.Client
	registry *tools.Registry
	memory   *memory.Store
	usage    *usage.Store
	logger   *slog.Logger
}

// SetUsageStore enables token accounting for model calls. May be nil.
func (o *Orchestrator) SetUsageStore(s *usage.Store) {
	o.usage = s
}

// New creates an orchestrator. The memory store may be nil, which
// disables history assembly.
func New(cfg Config, client llm.Client, registry *tools.Registry, mem *memory.Store, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		llm:      client,
		registry: registry,
		memory:   mem,
		logger:   logger.With("component", "agent"),
	}
}

// Respond produces the assistant's reply for one user prompt within
// the conversation identified by contextKey. The caller persists the
// resulting turn; Respond itself never writes to memory.
func (o *Orchestrator) Respond(ctx context.Context, contextKey, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	if !o.cfg.ToolsEnabled || !o.cfg.ModelSupportsTools || o.registry == nil || o.registry.Len() == 0 {
		return o.singleCall(ctx, contextKey, prompt)
	}

	rs := tools.NewRunState()
	defer rs.Release()
	ctx = tools.WithRunState(ctx, rs)
	ctx = tools.WithContextID(ctx, contextKey)

	logger := o.logger.With("run", rs.ID, "context", contextKey)
	logger.Debug("run started", "prompt_len", len(prompt))

	msgs := o.assembleMessages(contextKey, prompt)
	catalog := o.registry.List()

	resp, err := o.chat(ctx, msgs, catalog)
	if err != nil {
		return "", err
	}
	call, ok := resp.FirstToolCall()
	if !ok {
		text := strings.TrimSpace(resp.Message.Content)
		if text == "" {
			return "", llm.ErrEmptyResponse
		}
		logger.Debug("run finished without tools")
		return text, nil
	}

	iterations := 0
	for {
		result, terminal, countsIteration, err := o.execute(ctx, logger, rs, msgs, call)
		if err != nil {
			return "", err
		}
		if terminal != "" {
			return terminal, nil
		}

		if isEmptyResult(result) {
			if streak := rs.NoteEmpty(); streak >= 2 {
				logger.Info("bailing out after consecutive empty tool results", "streak", streak)
				return emptyResultsBailout, nil
			}
		} else {
			rs.NoteUseful()
		}

		msgs = append(msgs,
			llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{call}},
			llm.Message{Role: "tool", Content: result},
		)

		if countsIteration {
			if iterations >= o.cfg.MaxIterations {
				return "", &IterationLimitError{Iterations: iterations}
			}
			iterations++
		}

		resp, err = o.chat(ctx, msgs, catalog)
		if err != nil {
			return "", err
		}
		if next, ok := resp.FirstToolCall(); ok {
			call = next
			continue
		}

		text := strings.TrimSpace(resp.Message.Content)
		if text == "" {
			return "", llm.ErrEmptyResponse
		}
		logger.Debug("run finished", "iterations", iterations)
		return text, nil
	}
}

// execute resolves and runs one tool call. It returns either the
// result to incorporate, or a terminal reply (direct answer or
// bailout). countsIteration is false for synthetic results that must
// not consume the iteration budget.
func (o *Orchestrator) execute(ctx context.Context, logger *slog.Logger, rs *tools.RunState, msgs []llm.Message, call llm.ToolCall) (result, terminal string, countsIteration bool, err error) {
	name := call.Function.Name

	if name == "" {
		occurrences := rs.NoteNameless()
		if hint := hintedTool(call.Function.Arguments); hint != "" && o.registry.Has(hint) {
			logger.Debug("recovered nameless tool call from hint", "tool", hint)
			name = hint
			call.Function.Name = hint
		} else {
			if occurrences >= 2 {
				logger.Warn("repeated nameless tool calls, bailing out", "occurrences", occurrences)
				return "", namelessBailout, false, nil
			}
			// One direct attempt without any tool catalog.
			resp, err := o.chat(ctx, msgs, nil)
			if err != nil {
				return "", "", false, err
			}
			if text := strings.TrimSpace(resp.Message.Content); text != "" {
				logger.Debug("nameless tool call resolved by direct answer")
				return "", text, false, nil
			}
			return errorResult("tool selection failed and no direct answer was produced"), "", true, nil
		}
	}

	count := rs.CountCall(name)
	if quota, ok := o.cfg.Quotas[name]; ok && count > quota {
		logger.Info("tool call quota exceeded", "tool", name, "quota", quota)
		return errorResult(fmt.Sprintf("%s has reached its call limit (%d) for this request", name, quota)), "", true, nil
	}

	if name == o.cfg.SearchToolName && rs.SearchDone() {
		logger.Debug("skipping repeated web search")
		return errorResult("a web search was already performed in this request; use its results or answer directly"), "", false, nil
	}

	out, execErr := o.registry.Execute(ctx, name, call.Function.Arguments)
	if execErr != nil {
		if ctx.Err() != nil {
			return "", "", false, o.wrapTransport(ctx.Err())
		}
		logger.Warn("tool execution failed", "tool", name, "error", execErr)
		return errorResult(execErr.Error()), "", true, nil
	}

	if name == o.cfg.SearchToolName && !isEmptyResult(out) {
		rs.MarkSearchDone()
	}
	logger.Debug("tool executed", "tool", name, "call", count, "result_len", len(out))
	return out, "", true, nil
}

// singleCall is the no-tools path: one model call, text in, text out.
func (o *Orchestrator) singleCall(ctx context.Context, contextKey, prompt string) (string, error) {
	msgs := o.assembleMessages(contextKey, prompt)
	resp, err := o.chat(ctx, msgs, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

func (o *Orchestrator) chat(ctx context.Context, msgs []llm.Message, catalog []map[string]any) (*llm.ChatResponse, error) {
	resp, err := o.llm.Chat(ctx, o.cfg.Model, msgs, catalog)
	if err != nil {
		return nil, o.wrapTransport(err)
	}
	o.recordUsage(ctx, resp)
	return resp, nil
}

// recordUsage persists token counts for one model call. Accounting
// failures are logged and never affect the run.
func (o *Orchestrator) recordUsage(ctx context.Context, resp *llm.ChatResponse) {
	if o.usage == nil || resp == nil || (resp.InputTokens == 0 && resp.OutputTokens == 0) {
		return
	}
	rec := usage.Record{
		ContextKey:   tools.ContextIDFromContext(ctx),
		Model:        o.cfg.Model,
		Kind:         "chat",
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if rs := tools.RunStateFromContext(ctx); rs != nil {
		rec.RunID = rs.ID
	}
	if err := o.usage.Add(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Warn("usage record failed", "error", err)
	}
}

// wrapTransport converts context expiry into the typed timeout error
// callers render for users. Other transport failures pass through.
func (o *Orchestrator) wrapTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.TimeoutError{Timeout: o.cfg.RequestTimeout}
	}
	return err
}

// assembleMessages builds the conversation sent to the model: system
// prompt, rolling summary, retained raw turns, then the new prompt.
func (o *Orchestrator) assembleMessages(contextKey, prompt string) []llm.Message {
	var msgs []llm.Message
	if o.cfg.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: o.cfg.SystemPrompt})
	}
	if o.memory != nil && o.memory.Enabled() {
		turns, summary := o.memory.History(contextKey)
		if summary != "" {
			msgs = append(msgs, llm.Message{
				Role:    "system",
				Content: "Summary of the conversation so far:\n" + summary,
			})
		}
		for _, t := range turns {
			msgs = append(msgs,
				llm.Message{Role: "user", Content: t.User},
				llm.Message{Role: "assistant", Content: t.Assistant},
			)
		}
	}
	return append(msgs, llm.Message{Role: "user", Content: prompt})
}

// hintedTool digs a tool name out of the arguments of a nameless call.
// Some models emit the intended tool under a type-ish key instead of
// the name field.
func hintedTool(args map[string]any) string {
	for _, key := range []string{"type", "tool", "name"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// errorResult formats a synthetic tool result the model can read.
func errorResult(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// isEmptyResult reports whether a tool result carries nothing the
// model can use: an error, zero search results, zero fetched pages, or
// a blank payload.
func isEmptyResult(result string) bool {
	trimmed := strings.TrimSpace(result)
	if trimmed == "" || trimmed == "{}" || trimmed == "[]" || trimmed == "null" {
		return true
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		// Plain text counts as content.
		return false
	}
	if len(obj) == 0 {
		return true
	}
	if _, ok := obj["error"]; ok {
		return true
	}
	for _, key := range []string{"results", "pages"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil && len(items) == 0 {
			return true
		}
	}
	return false
}
