package tools

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// RunState carries the per-invocation bookkeeping for one end-to-end
// agent run: call quotas, the consecutive-empty-result streak, and the
// set of URLs already fetched. It is created at the start of a run and
// discarded when the run ends; in particular the fetched-URL set must
// never leak across invocations.
type RunState struct {
	// ID identifies the invocation in logs.
	ID string

	mu          sync.Mutex
	callCounts  map[string]int
	emptyStreak int
	fetched     map[string]bool
	searchDone  bool
	nameless    int
}

// NewRunState creates the state for a fresh invocation.
func NewRunState() *RunState {
	return &RunState{
		ID:         uuid.NewString(),
		callCounts: make(map[string]int),
		fetched:    make(map[string]bool),
	}
}

// CountCall records one call of the named tool and returns the new
// total for this invocation.
func (s *RunState) CountCall(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCounts[name]++
	return s.callCounts[name]
}

// Calls returns how often the named tool has been called so far.
func (s *RunState) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCounts[name]
}

// NoteEmpty records an empty tool result and returns the current
// consecutive-empty streak.
func (s *RunState) NoteEmpty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyStreak++
	return s.emptyStreak
}

// NoteUseful resets the consecutive-empty streak.
func (s *RunState) NoteUseful() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyStreak = 0
}

// NoteNameless records a tool call that arrived without a usable name
// and returns how many times that has happened in this invocation.
func (s *RunState) NoteNameless() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nameless++
	return s.nameless
}

// MarkSearchDone records that a web search succeeded in this invocation.
func (s *RunState) MarkSearchDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchDone = true
}

// SearchDone reports whether a web search already succeeded.
func (s *RunState) SearchDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchDone
}

// MarkFetched records a URL as fetched for this invocation.
func (s *RunState) MarkFetched(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched[url] = true
}

// PartitionURLs splits the given URLs into those already fetched in
// this invocation and those still fresh. Order is preserved for fresh
// URLs; duplicates are sorted for stable error messages.
func (s *RunState) PartitionURLs(urls []string) (already, fresh []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range urls {
		if s.fetched[u] {
			already = append(already, u)
		} else {
			fresh = append(fresh, u)
		}
	}
	sort.Strings(already)
	return already, fresh
}

// Release clears the invocation-scoped state. It runs on every exit
// path of a run, success or not.
func (s *RunState) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = make(map[string]bool)
	s.callCounts = make(map[string]int)
	s.emptyStreak = 0
	s.searchDone = false
	s.nameless = 0
}
