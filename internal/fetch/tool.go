package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/magpiebot/magpie/internal/tools"
)

// ToolConfig bounds the web_fetch tool.
type ToolConfig struct {
	MaxChars       int
	Concurrency    int
	PerItemTimeout time.Duration
}

// batchResult is the JSON shape returned to the model.
type batchResult struct {
	Pages []Page `json:"pages"`
}

// ToolHandler returns a handler compatible with the tools.Tool Handler
// signature. It accepts either a single "url" or a "urls" array, dedupes
// against the invocation's fetched-URL set, and fetches the remainder
// through the coordinator.
func ToolHandler(c *Coordinator, cfg ToolConfig) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		requests, err := parseRequests(args)
		if err != nil {
			return "", err
		}

		maxChars := cfg.MaxChars
		if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
			maxChars = int(mc)
		}

		// Dedup within the invocation: once a URL has been fetched,
		// re-requesting it is refused so the model cannot loop on the
		// same page forever.
		if rs := tools.RunStateFromContext(ctx); rs != nil {
			urls := make([]string, len(requests))
			for i, r := range requests {
				urls[i] = r.URL
			}
			already, fresh := rs.PartitionURLs(urls)
			if len(fresh) == 0 {
				return "", fmt.Errorf("web_fetch: all requested URLs were already fetched in this request: %s", strings.Join(already, ", "))
			}

			kept := requests[:0]
			for _, r := range requests {
				for _, u := range fresh {
					if r.URL == u {
						kept = append(kept, r)
						break
					}
				}
			}
			requests = kept

			pages := c.FetchAll(ctx, requests, maxChars, cfg.Concurrency, cfg.PerItemTimeout)
			for _, p := range pages {
				rs.MarkFetched(p.URL)
			}
			return marshalPages(pages)
		}

		pages := c.FetchAll(ctx, requests, maxChars, cfg.Concurrency, cfg.PerItemTimeout)
		return marshalPages(pages)
	}
}

func marshalPages(pages []Page) (string, error) {
	out, err := json.Marshal(batchResult{Pages: pages})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// parseRequests extracts the fetch batch from tool arguments.
func parseRequests(args map[string]any) ([]Request, error) {
	var requests []Request

	if raw, ok := args["urls"].([]any); ok {
		for _, entry := range raw {
			switch v := entry.(type) {
			case string:
				if v != "" {
					requests = append(requests, Request{URL: v})
				}
			case map[string]any:
				u, _ := v["url"].(string)
				if u == "" {
					continue
				}
				snippet, _ := v["snippet"].(string)
				requests = append(requests, Request{URL: u, Snippet: snippet})
			}
		}
	}

	if u, ok := args["url"].(string); ok && u != "" {
		snippet, _ := args["snippet"].(string)
		requests = append(requests, Request{URL: u, Snippet: snippet})
	}

	if len(requests) == 0 {
		return nil, fmt.Errorf("web_fetch: url or urls is required")
	}
	return requests, nil
}

// ToolDefinition returns the JSON Schema parameters for the web_fetch tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "A single URL to fetch and extract content from.",
			},
			"urls": map[string]any{
				"type":        "array",
				"description": "Multiple URLs to fetch in one call. Each entry is a URL string or an object with url and optional snippet.",
				"items":       map[string]any{"type": "string"},
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Maximum characters to return per page. Default: 50000.",
			},
		},
	}
}
