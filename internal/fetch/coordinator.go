package fetch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Request is one item in a batch fetch. Snippet is an optional fallback
// (typically the search result excerpt) used when the fetch itself fails.
type Request struct {
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Page is the outcome for one batch item.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	FromSnippet bool   `json:"from_snippet,omitempty"`
}

// Coordinator runs batches of page fetches with bounded concurrency.
type Coordinator struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewCoordinator creates a batch coordinator around the given fetcher.
func NewCoordinator(fetcher *Fetcher, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		fetcher: fetcher,
		logger:  logger.With("component", "fetch"),
	}
}

// FetchAll processes requests using a worker pool of size
// min(concurrency, len(requests)). Workers pull the next unprocessed
// index from a shared cursor, so no index is fetched twice. Each fetch
// is bounded by perItemTimeout; on failure an item falls back to its
// snippet when one exists, and is otherwise dropped from the results.
// Results preserve request order.
func (c *Coordinator) FetchAll(ctx context.Context, requests []Request, maxChars, concurrency int, perItemTimeout time.Duration) []Page {
	if len(requests) == 0 {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(requests) {
		concurrency = len(requests)
	}
	if perItemTimeout <= 0 {
		perItemTimeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	// Slots are positional so output order matches input order; nil
	// slots (failures without a snippet) are compacted away at the end.
	slots := make([]*Page, len(requests))

	var cursor atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1)) - 1
				if i >= len(requests) {
					return
				}
				slots[i] = c.fetchOne(ctx, requests[i], maxChars, perItemTimeout)
			}
		}()
	}
	wg.Wait()

	pages := make([]Page, 0, len(requests))
	for _, p := range slots {
		if p != nil {
			pages = append(pages, *p)
		}
	}
	return pages
}

func (c *Coordinator) fetchOne(ctx context.Context, req Request, maxChars int, timeout time.Duration) *Page {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.fetcher.Fetch(ctx, req.URL, maxChars)
	if err != nil {
		if req.Snippet != "" {
			c.logger.Debug("fetch failed, falling back to snippet",
				"url", req.URL,
				"error", err,
			)
			return &Page{
				URL:         req.URL,
				Content:     truncateUTF8(req.Snippet, maxChars),
				FromSnippet: true,
			}
		}
		c.logger.Warn("fetch failed, no snippet fallback",
			"url", req.URL,
			"error", err,
		)
		return nil
	}

	return &Page{
		URL:     result.URL,
		Title:   result.Title,
		Content: result.Content,
	}
}
