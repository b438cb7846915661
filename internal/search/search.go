// Package search implements the web_search tool: a small provider
// abstraction with SearXNG and Brave backends. Providers register by
// name on a [Manager]; configuration picks which one answers queries.
package search

import (
	"context"
	"fmt"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options tune a single query. Zero values mean provider defaults.
type Options struct {
	// Count caps the number of results; providers may return fewer.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 code such as "en" or "de".
	Language string `json:"language,omitempty"`
}

// Provider is a search backend.
type Provider interface {
	// Name identifies the backend ("searxng", "brave").
	Name() string

	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager routes queries to the configured primary provider.
type Manager struct {
	providers map[string]Provider
	primary   string
}

func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider under its own name.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	return p.Search(ctx, query, opts)
}

// Configured reports whether any provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}
