package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/magpiebot/magpie/internal/config"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "Magpie") {
		t.Errorf("version output: %q", out.String())
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), `"go_version"`) {
		t.Errorf("json output: %q", out.String())
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, nil); err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: magpie") {
		t.Errorf("usage output: %q", out.String())
	}
}

func TestRunRejectsUnknowns(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"frobnicate"}); err == nil {
		t.Error("expected error for unknown command")
	}
	if err := run(context.Background(), &out, &out, []string{"-bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
	if err := run(context.Background(), &out, &out, []string{"-o", "yaml", "version"}); err == nil {
		t.Error("expected error for unknown output format")
	}
	if err := run(context.Background(), &out, &out, []string{"ask"}); err == nil {
		t.Error("expected usage error for ask without a question")
	}
}

func TestBuildSearchRequiresProviderConfig(t *testing.T) {
	cfg := config.Default()
	if buildSearch(cfg) != nil {
		t.Error("no provider configured, expected nil manager")
	}

	cfg.Search.Provider = "searxng"
	if buildSearch(cfg) != nil {
		t.Error("searxng without url, expected nil manager")
	}

	cfg.Search.SearXNGURL = "http://searx.local"
	if buildSearch(cfg) == nil {
		t.Error("expected manager for configured searxng")
	}

	cfg.Search.Provider = "brave"
	if buildSearch(cfg) != nil {
		t.Error("brave without key, expected nil manager")
	}
	cfg.Search.BraveAPIKey = "k"
	if buildSearch(cfg) == nil {
		t.Error("expected manager for configured brave")
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.Search.Provider = "searxng"
	cfg.Search.SearXNGURL = "http://searx.local"

	logger := newLogger(&bytes.Buffer{}, 0)
	registry := buildRegistry(cfg, logger)

	for _, name := range []string{"current_time", "web_search", "web_fetch"} {
		if !registry.Has(name) {
			t.Errorf("expected %s registered", name)
		}
	}
	if registry.Has("run_script") {
		t.Error("run_script must stay disabled by default")
	}

	cfg.Exec.Enabled = true
	registry = buildRegistry(cfg, logger)
	if !registry.Has("run_script") {
		t.Error("expected run_script when exec is enabled")
	}
}
