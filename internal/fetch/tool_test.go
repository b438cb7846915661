package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/magpiebot/magpie/internal/tools"
)

func testToolConfig() ToolConfig {
	return ToolConfig{Concurrency: 2, PerItemTimeout: 5 * time.Second}
}

func TestToolHandlerFetchesAndMarks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "page body")
	}))
	defer ts.Close()

	handler := ToolHandler(NewCoordinator(New(), discardLogger()), testToolConfig())

	rs := tools.NewRunState()
	ctx := tools.WithRunState(context.Background(), rs)

	out, err := handler(ctx, map[string]any{"url": ts.URL + "/a"})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	var result batchResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if len(result.Pages) != 1 || result.Pages[0].Content != "page body" {
		t.Errorf("unexpected result %+v", result)
	}

	already, _ := rs.PartitionURLs([]string{ts.URL + "/a"})
	if len(already) != 1 {
		t.Error("fetched URL should be recorded in the invocation state")
	}
}

func TestToolHandlerAllDuplicates(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "ok")
	}))
	defer ts.Close()

	handler := ToolHandler(NewCoordinator(New(), discardLogger()), testToolConfig())

	rs := tools.NewRunState()
	rs.MarkFetched(ts.URL + "/a")
	rs.MarkFetched(ts.URL + "/b")
	ctx := tools.WithRunState(context.Background(), rs)

	_, err := handler(ctx, map[string]any{
		"urls": []any{ts.URL + "/a", ts.URL + "/b"},
	})
	if err == nil {
		t.Fatal("expected an error when all URLs were already fetched")
	}
	if !strings.Contains(err.Error(), "already fetched") {
		t.Errorf("error should name the duplicate condition, got %v", err)
	}
	if !strings.Contains(err.Error(), ts.URL+"/a") || !strings.Contains(err.Error(), ts.URL+"/b") {
		t.Errorf("error should name the duplicate URLs, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("network layer should not be touched, got %d requests", hits.Load())
	}
}

func TestToolHandlerPartialDuplicates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, r.URL.Path)
	}))
	defer ts.Close()

	handler := ToolHandler(NewCoordinator(New(), discardLogger()), testToolConfig())

	rs := tools.NewRunState()
	rs.MarkFetched(ts.URL + "/old")
	ctx := tools.WithRunState(context.Background(), rs)

	out, err := handler(ctx, map[string]any{
		"urls": []any{ts.URL + "/old", ts.URL + "/new"},
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	var result batchResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Pages) != 1 {
		t.Fatalf("expected only the fresh URL to be fetched, got %d pages", len(result.Pages))
	}
	if result.Pages[0].Content != "/new" {
		t.Errorf("unexpected page %+v", result.Pages[0])
	}
}

func TestParseRequests(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]any
		want    int
		wantErr bool
	}{
		{"single url", map[string]any{"url": "https://a.example"}, 1, false},
		{"url array", map[string]any{"urls": []any{"https://a.example", "https://b.example"}}, 2, false},
		{
			"object entries with snippets",
			map[string]any{"urls": []any{
				map[string]any{"url": "https://a.example", "snippet": "s"},
			}},
			1, false,
		},
		{"missing", map[string]any{}, 0, true},
		{"empty strings", map[string]any{"urls": []any{""}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs, err := parseRequests(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(reqs) != tt.want {
				t.Errorf("expected %d requests, got %d", tt.want, len(reqs))
			}
		})
	}
}
