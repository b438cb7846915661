// Package memory provides keyed conversation memory: retrieval with TTL
// expiry, turn append with a retention cap, and asynchronous
// summarization of older turns.
package memory

import (
	"log/slog"
	"sync"
	"time"

	"github.com/magpiebot/magpie/internal/llm"
	"github.com/magpiebot/magpie/internal/usage"
)

// keepRawTurns is how many recent turns are always kept verbatim.
// Older turns become candidates for summarization.
const keepRawTurns = 2

// Turn is one user prompt plus the assistant's response. Turns are
// immutable once stored; they only leave a conversation through
// cap-eviction, summarization, or context expiry.
type Turn struct {
	User      string            `json:"user"`
	Assistant string            `json:"assistant"`
	Meta      map[string]string `json:"meta,omitempty"`
	At        time.Time         `json:"at"`
}

// conversation is the per-key state. All fields are guarded by the
// store mutex.
type conversation struct {
	turns           []Turn
	summary         string
	summarizedTurns int // how many evicted turns the summary covers
	lastUpdated     time.Time
}

// Config controls the store behavior.
type Config struct {
	// TTL is how long a conversation survives without updates.
	// Zero disables conversation memory entirely.
	TTL time.Duration

	// MaxTurns caps raw history length per conversation; oldest turns
	// are dropped first. Default: 20.
	MaxTurns int

	// Model is the model used for background summarization.
	Model string

	// SummaryTimeout bounds each summarization call. Default: 60s.
	SummaryTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 20
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 60 * time.Second
	}
}

// Store manages conversation memory per context key. Safe for
// concurrent use across keys; mutation of a single key is serialized
// by the internal mutex, and at most one summarization runs per key
// at a time.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	summarizing   map[string]bool // per-key in-progress guard

	cfg        Config
	llm        llm.Client
	usageStore *usage.Store
	logger     *slog.Logger

	// now is replaceable for tests.
	now func() time.Time

	wg sync.WaitGroup
}

// NewStore creates a conversation memory store. The llm client is used
// for background summarization; it may be nil, which disables
// summarization but leaves retention working.
func NewStore(cfg Config, client llm.Client, logger *slog.Logger) *Store {
	cfg.applyDefaults()
	return &Store{
		conversations: make(map[string]*conversation),
		summarizing:   make(map[string]bool),
		cfg:           cfg,
		llm:           client,
		logger:        logger.With("component", "memory"),
		now:           time.Now,
	}
}

// SetUsageStore enables token accounting for summarization calls.
// May be nil.
func (s *Store) SetUsageStore(u *usage.Store) {
	s.usageStore = u
}

// Enabled reports whether conversation memory is active.
func (s *Store) Enabled() bool {
	return s.cfg.TTL > 0
}

// History returns the retained turns and the summary for a key.
// Expired conversations are deleted on access and reported as empty;
// a disabled store always returns empty.
func (s *Store) History(key string) ([]Turn, string) {
	if !s.Enabled() {
		return nil, ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key]
	if !ok {
		return nil, ""
	}
	if s.now().Sub(conv.lastUpdated) > s.cfg.TTL {
		delete(s.conversations, key)
		s.logger.Debug("conversation expired", "key", key)
		return nil, ""
	}

	turns := make([]Turn, len(conv.turns))
	copy(turns, conv.turns)
	return turns, conv.summary
}

// AddTurn appends a turn to the conversation for key, creating it if
// needed. History is trimmed to the configured cap (oldest dropped
// first), and when more than keepRawTurns turns have accumulated a
// background summarization is scheduled. No-op when memory is disabled.
func (s *Store) AddTurn(key, user, assistant string, meta map[string]string) {
	if !s.Enabled() {
		return
	}

	s.mu.Lock()
	conv, ok := s.conversations[key]
	if !ok {
		conv = &conversation{}
		s.conversations[key] = conv
	}

	conv.turns = append(conv.turns, Turn{
		User:      user,
		Assistant: assistant,
		Meta:      meta,
		At:        s.now(),
	})
	if len(conv.turns) > s.cfg.MaxTurns {
		conv.turns = conv.turns[len(conv.turns)-s.cfg.MaxTurns:]
	}
	conv.lastUpdated = s.now()

	needsSummary := len(conv.turns) > keepRawTurns && s.llm != nil
	s.mu.Unlock()

	if needsSummary {
		s.scheduleSummarize(key)
	}
}

// Clear removes the conversation for a key.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, key)
}

// Stats returns counters for diagnostics.
func (s *Store) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := 0
	summaries := 0
	for _, c := range s.conversations {
		turns += len(c.turns)
		if c.summary != "" {
			summaries++
		}
	}
	return map[string]any{
		"conversations": len(s.conversations),
		"turns":         turns,
		"summaries":     summaries,
	}
}

// Close waits for in-flight background summarizations to finish.
func (s *Store) Close() {
	s.wg.Wait()
}
