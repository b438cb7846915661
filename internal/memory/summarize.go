package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/magpiebot/magpie/internal/llm"
	"github.com/magpiebot/magpie/internal/usage"
)

// Summary length bounds. A candidate longer than summaryHardCeiling is
// truncated to summarySoftCap so repeated merges cannot grow without
// bound.
const (
	summaryHardCeiling = 650
	summarySoftCap     = 600
)

// scheduleSummarize starts a background summarization for key unless
// one is already running. The guard is released when the task exits on
// any path.
func (s *Store) scheduleSummarize(key string) {
	s.mu.Lock()
	if s.summarizing[key] {
		s.mu.Unlock()
		return
	}
	s.summarizing[key] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.summarizing, key)
			s.mu.Unlock()
		}()
		s.summarize(context.Background(), key)
	}()
}

// summarize compresses all but the most recent turns of a conversation
// into the rolling summary. Failures leave history and summary
// untouched; they are logged and never surfaced to the user.
func (s *Store) summarize(ctx context.Context, key string) {
	s.mu.Lock()
	conv, ok := s.conversations[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	if len(conv.turns) <= keepRawTurns {
		s.mu.Unlock()
		return
	}

	toSummarize := make([]Turn, len(conv.turns)-keepRawTurns)
	copy(toSummarize, conv.turns[:len(conv.turns)-keepRawTurns])
	priorSummary := conv.summary
	s.mu.Unlock()

	// Not worth a model call for a single old turn.
	if len(toSummarize) < 2 {
		return
	}

	prompt := buildSummaryPrompt(priorSummary, toSummarize)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SummaryTimeout)
	defer cancel()

	resp, err := s.llm.Chat(ctx, s.cfg.Model, []llm.Message{
		{Role: "system", Content: "You compress chat history into short summaries. Reply with the summary only, no preamble."},
		{Role: "user", Content: prompt},
	}, nil)
	if err != nil {
		s.logger.Warn("summarization failed", "key", key, "error", err)
		return
	}

	if s.usageStore != nil && (resp.InputTokens > 0 || resp.OutputTokens > 0) {
		rec := usage.Record{
			ContextKey:   key,
			Model:        s.cfg.Model,
			Kind:         "summary",
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		}
		if err := s.usageStore.Add(context.WithoutCancel(ctx), rec); err != nil {
			s.logger.Warn("usage record failed", "key", key, "error", err)
		}
	}

	summary := strings.TrimSpace(resp.Message.Content)
	if summary == "" {
		s.logger.Debug("summarization returned empty result, skipping", "key", key)
		return
	}
	if len(summary) > summaryHardCeiling {
		summary = truncateSummary(summary, summarySoftCap)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok = s.conversations[key]
	if !ok {
		// Conversation expired or was cleared while we were working.
		return
	}

	// Drop exactly the turns we summarized; turns appended during the
	// model call stay in raw history.
	if len(conv.turns) >= len(toSummarize) {
		conv.turns = conv.turns[len(toSummarize):]
	} else {
		conv.turns = nil
	}
	conv.summary = summary
	conv.summarizedTurns += len(toSummarize)

	s.logger.Debug("conversation summarized",
		"key", key,
		"turns_compressed", len(toSummarize),
		"summary_len", len(summary),
	)
}

// buildSummaryPrompt produces either a fresh summarization prompt or a
// merge prompt when a prior summary exists.
func buildSummaryPrompt(priorSummary string, turns []Turn) string {
	var b strings.Builder

	if priorSummary == "" {
		b.WriteString("Summarize the following conversation in at most 500 characters. Keep names, decisions, and open questions.\n\n")
	} else {
		b.WriteString("Below is an existing conversation summary followed by newer exchanges. Merge them into one updated summary of at most 500 characters. Keep names, decisions, and open questions.\n\nExisting summary:\n")
		b.WriteString(priorSummary)
		b.WriteString("\n\nNewer exchanges:\n")
	}

	for _, t := range turns {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.User, t.Assistant)
	}
	return b.String()
}

// truncateSummary cuts at a rune boundary at or below max.
func truncateSummary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}

// summarizeNow runs one summarization pass synchronously. Used by
// tests and by shutdown paths that want deterministic behavior.
func (s *Store) summarizeNow(ctx context.Context, key string) {
	s.mu.Lock()
	if s.summarizing[key] {
		s.mu.Unlock()
		return
	}
	s.summarizing[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.summarizing, key)
		s.mu.Unlock()
	}()

	s.summarize(ctx, key)
}
