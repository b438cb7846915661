// Magpie is a tool-using chat assistant daemon.
//
// It drives a local model (via Ollama) through a tool-calling loop with
// web search, page fetching, a clock, and optional script execution,
// keeps per-conversation memory with background summarization, and
// exposes a small HTTP chat surface. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	magpie serve             Start the chat server
//	magpie ask <question>    Ask a single question (for testing)
//	magpie version           Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/magpiebot/magpie/internal/agent"
	"github.com/magpiebot/magpie/internal/buildinfo"
	"github.com/magpiebot/magpie/internal/config"
	"github.com/magpiebot/magpie/internal/fetch"
	"github.com/magpiebot/magpie/internal/llm"
	"github.com/magpiebot/magpie/internal/memory"
	"github.com/magpiebot/magpie/internal/search"
	"github.com/magpiebot/magpie/internal/tools"
	"github.com/magpiebot/magpie/internal/usage"
	"github.com/magpiebot/magpie/internal/web"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the magpie command. All OS-level
// dependencies are injected as parameters so tests can drive the whole
// lifecycle. Arguments are parsed by hand: the flag package relies on
// package-level globals, which interferes with parallel tests, and the
// argument surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: magpie ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Magpie - Tool-Using Chat Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: magpie [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the chat server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/magpie/config.yaml, /etc/magpie/config.yaml")
	return nil
}

// runAsk handles "magpie ask <question>": boot a minimal agent with no
// memory and no server, process one question, print the reply.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	client := llm.NewOllamaClient(cfg.Model.BaseURL)
	registry := buildRegistry(cfg, logger)
	orch := agent.New(orchestratorConfig(cfg), client, registry, nil, logger)

	reply, err := orch.Respond(ctx, "cli", strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, reply)
	return nil
}

// runServe handles "magpie serve": full startup, signal handling, and
// graceful shutdown with a memory snapshot.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level)
	logger.Info("starting", "build", buildinfo.String(), "config", cfgPath)

	client := llm.NewOllamaClient(cfg.Model.BaseURL)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		logger.Warn("model backend unreachable at startup", "baseurl", cfg.Model.BaseURL, "error", err)
	} else {
		logger.Info("model backend reachable", "baseurl", cfg.Model.BaseURL, "model", cfg.Model.Name)
	}
	pingCancel()

	// Conversation memory, with the main model doing summarization
	// unless a dedicated one is configured.
	summaryModel := cfg.Memory.SummaryModel
	if summaryModel == "" {
		summaryModel = cfg.Model.Name
	}
	store := memory.NewStore(memory.Config{
		TTL:            cfg.Memory.TTL(),
		MaxTurns:       cfg.Memory.MaxTurns,
		Model:          summaryModel,
		SummaryTimeout: cfg.Memory.SummaryTimeout(),
	}, client, logger)

	if cfg.Memory.SnapshotPath != "" {
		if err := store.Load(cfg.Memory.SnapshotPath); err != nil {
			logger.Warn("memory snapshot load failed", "path", cfg.Memory.SnapshotPath, "error", err)
		}
	}

	var usageStore *usage.Store
	if cfg.UsageDB != "" {
		usageStore, err = usage.NewStore(cfg.UsageDB)
		if err != nil {
			return fmt.Errorf("open usage store: %w", err)
		}
		defer usageStore.Close()
		store.SetUsageStore(usageStore)
		logger.Info("usage tracking enabled", "path", cfg.UsageDB)
	}

	registry := buildRegistry(cfg, logger)
	logger.Info("tools registered", "count", registry.Len(), "enabled", cfg.Tools.Enabled)

	orch := agent.New(orchestratorConfig(cfg), client, registry, store, logger)
	if usageStore != nil {
		orch.SetUsageStore(usageStore)
	}

	server := web.NewServer(web.Config{
		Address: cfg.Listen.Address,
		Port:    cfg.Listen.Port,
		Scope:   cfg.Memory.Scope,
	}, orch, store, logger)
	if usageStore != nil {
		server.SetUsageStore(usageStore)
	}

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	err = server.Start(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("server failed: %w", err)
	}

	// Let in-flight summarizations finish, then snapshot.
	store.Close()
	if cfg.Memory.SnapshotPath != "" {
		if err := store.Save(cfg.Memory.SnapshotPath); err != nil {
			logger.Error("memory snapshot save failed", "path", cfg.Memory.SnapshotPath, "error", err)
		}
	}

	logger.Info("magpie stopped")
	return nil
}

// buildRegistry wires the tool catalog from configuration. The clock is
// always present; web_search needs a configured provider; web_fetch is
// always available; run_script is opt-in.
func buildRegistry(cfg *config.Config, logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry()

	if mgr := buildSearch(cfg); mgr != nil {
		_ = registry.Register(&tools.Tool{
			Name:        "web_search",
			Description: "Search the web. Returns a list of results with title, url, and snippet.",
			Parameters:  search.ToolDefinition(),
			Handler:     search.ToolHandler(mgr, search.Options{Count: cfg.Search.MaxResults}),
		})
	} else {
		logger.Info("web_search disabled (no provider configured)")
	}

	coordinator := fetch.NewCoordinator(fetch.New(), logger)
	_ = registry.Register(&tools.Tool{
		Name:        "web_fetch",
		Description: "Fetch one or more web pages and return their readable text content.",
		Parameters:  fetch.ToolDefinition(),
		Handler: fetch.ToolHandler(coordinator, fetch.ToolConfig{
			MaxChars:       cfg.Fetch.MaxChars,
			Concurrency:    cfg.Fetch.Concurrency,
			PerItemTimeout: cfg.Fetch.Timeout(),
		}),
	})

	if cfg.Exec.Enabled {
		scriptCfg := tools.DefaultScriptConfig()
		scriptCfg.Enabled = true
		scriptCfg.WorkingDir = cfg.Exec.WorkingDir
		if len(cfg.Exec.DeniedPatterns) > 0 {
			scriptCfg.DeniedPatterns = cfg.Exec.DeniedPatterns
		}
		scriptCfg.AllowedPrefixes = cfg.Exec.AllowedPrefixes
		if cfg.Exec.DefaultTimeoutSec > 0 {
			scriptCfg.DefaultTimeout = time.Duration(cfg.Exec.DefaultTimeoutSec) * time.Second
		}
		runner := tools.NewScriptRunner(scriptCfg)
		_ = registry.Register(runner.Tool())
		logger.Warn("script execution enabled", "working_dir", scriptCfg.WorkingDir)
	}

	return registry
}

// buildSearch constructs the search manager, or nil when no provider
// is configured.
func buildSearch(cfg *config.Config) *search.Manager {
	mgr := search.NewManager(cfg.Search.Provider)
	switch cfg.Search.Provider {
	case "searxng":
		if cfg.Search.SearXNGURL == "" {
			return nil
		}
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNGURL))
	case "brave":
		if cfg.Search.BraveAPIKey == "" {
			return nil
		}
		mgr.Register(search.NewBrave(cfg.Search.BraveAPIKey))
	default:
		return nil
	}
	return mgr
}

func orchestratorConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		Model:              cfg.Model.Name,
		SystemPrompt:       cfg.SystemPrompt,
		ToolsEnabled:       cfg.Tools.Enabled,
		ModelSupportsTools: cfg.Model.SupportsTools,
		MaxIterations:      cfg.Tools.MaxIterations,
		Quotas:             cfg.Tools.Quotas,
		RequestTimeout:     cfg.Tools.RequestTimeout(),
	}
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output in Magpie goes through slog.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
