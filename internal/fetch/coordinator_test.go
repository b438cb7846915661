package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchAllSnippetFallback(t *testing.T) {
	// 5 URLs with concurrency 3; one URL fails but carries a snippet.
	var inflight, peak atomic.Int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)

		if strings.HasSuffix(r.URL.Path, "/broken") {
			// Drop the connection mid-response
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "content of %s", r.URL.Path)
	}))
	defer ts.Close()

	requests := []Request{
		{URL: ts.URL + "/page0"},
		{URL: ts.URL + "/page1"},
		{URL: ts.URL + "/broken", Snippet: "fallback snippet text"},
		{URL: ts.URL + "/page3"},
		{URL: ts.URL + "/page4"},
	}

	c := NewCoordinator(New(), discardLogger())
	pages := c.FetchAll(context.Background(), requests, 0, 3, 5*time.Second)

	if len(pages) != 5 {
		t.Fatalf("expected 5 results, got %d", len(pages))
	}

	var fallback *Page
	for i := range pages {
		if pages[i].FromSnippet {
			fallback = &pages[i]
		}
	}
	if fallback == nil {
		t.Fatal("expected one snippet-fallback result")
	}
	if fallback.Content != "fallback snippet text" {
		t.Errorf("unexpected fallback content %q", fallback.Content)
	}

	if peak.Load() > 3 {
		t.Errorf("concurrency exceeded: peak %d workers", peak.Load())
	}
}

func TestFetchAllPreservesOrder(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, r.URL.Path)
	}))
	defer ts.Close()

	var requests []Request
	for i := 0; i < 8; i++ {
		requests = append(requests, Request{URL: fmt.Sprintf("%s/%d", ts.URL, i)})
	}

	c := NewCoordinator(New(), discardLogger())
	pages := c.FetchAll(context.Background(), requests, 0, 4, 5*time.Second)

	if len(pages) != 8 {
		t.Fatalf("expected 8 results, got %d", len(pages))
	}
	for i, p := range pages {
		if want := fmt.Sprintf("/%d", i); p.Content != want {
			t.Errorf("result %d out of order: got %q", i, p.Content)
		}
	}
}

func TestFetchAllNoDuplicateIndexes(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path]++
		mu.Unlock()
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "ok")
	}))
	defer ts.Close()

	var requests []Request
	for i := 0; i < 10; i++ {
		requests = append(requests, Request{URL: fmt.Sprintf("%s/item%d", ts.URL, i)})
	}

	c := NewCoordinator(New(), discardLogger())
	c.FetchAll(context.Background(), requests, 0, 5, 5*time.Second)

	mu.Lock()
	defer mu.Unlock()
	for path, count := range seen {
		if count != 1 {
			t.Errorf("URL %s fetched %d times", path, count)
		}
	}
	if len(seen) != 10 {
		t.Errorf("expected 10 distinct URLs fetched, got %d", len(seen))
	}
}

func TestFetchAllFailureWithoutSnippetOmitted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/gone") {
			hj := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "ok")
	}))
	defer ts.Close()

	requests := []Request{
		{URL: ts.URL + "/first"},
		{URL: ts.URL + "/gone"},
		{URL: ts.URL + "/last"},
	}

	c := NewCoordinator(New(), discardLogger())
	pages := c.FetchAll(context.Background(), requests, 0, 2, 5*time.Second)

	if len(pages) != 2 {
		t.Fatalf("expected the failed item to be omitted, got %d results", len(pages))
	}
}
