// Package config handles Magpie configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/magpie/config.yaml, /etc/magpie/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "magpie", "config.yaml"))
	}

	paths = append(paths, "/etc/magpie/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Magpie configuration.
type Config struct {
	Listen       ListenConfig `yaml:"listen"`
	Model        ModelConfig  `yaml:"model"`
	SystemPrompt string       `yaml:"system_prompt"`
	Memory       MemoryConfig `yaml:"memory"`
	Tools        ToolsConfig  `yaml:"tools"`
	Search       SearchConfig `yaml:"search"`
	Fetch        FetchConfig  `yaml:"fetch"`
	Exec         ExecConfig   `yaml:"exec"`
	// UsageDB is a sqlite file for token accounting. Empty disables
	// usage tracking.
	UsageDB  string `yaml:"usage_db"`
	LogLevel string `yaml:"log_level"`
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the model backend.
type ModelConfig struct {
	Name          string `yaml:"name"`
	BaseURL       string `yaml:"baseurl"` // Ollama URL (default: http://localhost:11434)
	SupportsTools bool   `yaml:"supports_tools"`
}

// MemoryConfig defines conversation memory behavior.
type MemoryConfig struct {
	// TTLSec is the idle lifetime of a conversation in seconds.
	// Zero disables memory entirely.
	TTLSec int `yaml:"ttl_sec"`
	// MaxTurns caps retained raw turns per conversation.
	MaxTurns int `yaml:"max_turns"`
	// Scope selects the conversation key shape: room-user, room, thread.
	Scope string `yaml:"scope"`
	// SummaryModel overrides the main model for background summarization.
	SummaryModel string `yaml:"summary_model"`
	// SummaryTimeoutSec bounds each summarization call.
	SummaryTimeoutSec int `yaml:"summary_timeout_sec"`
	// SnapshotPath is a sqlite file conversations are saved to on
	// shutdown and loaded from on start. Empty disables snapshots.
	SnapshotPath string `yaml:"snapshot_path"`
}

// TTL returns the conversation lifetime as a duration.
func (m MemoryConfig) TTL() time.Duration {
	return time.Duration(m.TTLSec) * time.Second
}

// SummaryTimeout returns the summarization bound as a duration.
func (m MemoryConfig) SummaryTimeout() time.Duration {
	return time.Duration(m.SummaryTimeoutSec) * time.Second
}

// ToolsConfig defines the tool-calling loop.
type ToolsConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxIterations caps model calls while incorporating tool results.
	MaxIterations int `yaml:"max_iterations"`
	// RequestTimeoutSec bounds one end-to-end request.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
	// Quotas caps per-tool calls within one request, keyed by tool name.
	Quotas map[string]int `yaml:"quotas"`
}

// RequestTimeout returns the per-request bound as a duration.
func (t ToolsConfig) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutSec) * time.Second
}

// SearchConfig defines web search providers.
type SearchConfig struct {
	// Provider is the primary backend: searxng or brave. Empty
	// disables the web_search tool.
	Provider    string `yaml:"provider"`
	SearXNGURL  string `yaml:"searxng_url"`
	BraveAPIKey string `yaml:"brave_api_key"`
	// MaxResults caps results per query. Zero means provider default.
	MaxResults int `yaml:"max_results"`
}

// FetchConfig defines the web_fetch tool.
type FetchConfig struct {
	Concurrency int `yaml:"concurrency"`
	TimeoutSec  int `yaml:"timeout_sec"`
	MaxChars    int `yaml:"max_chars"`
}

// Timeout returns the per-URL bound as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSec) * time.Second
}

// ExecConfig defines script execution capabilities.
type ExecConfig struct {
	// Enabled allows script execution. Disabled by default for safety.
	Enabled bool `yaml:"enabled"`
	// WorkingDir sets the default working directory for commands.
	WorkingDir string `yaml:"working_dir"`
	// DeniedPatterns are command patterns to block (e.g., "rm -rf /").
	DeniedPatterns []string `yaml:"denied_patterns"`
	// AllowedPrefixes limits commands to those starting with these prefixes.
	// Empty means all commands are allowed (subject to denied patterns).
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
	// DefaultTimeoutSec is the default timeout in seconds (default 30).
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Model: ModelConfig{
			Name:          "qwen3:4b",
			BaseURL:       "http://localhost:11434",
			SupportsTools: true,
		},
		Memory: MemoryConfig{
			TTLSec:            3600,
			MaxTurns:          20,
			Scope:             "room-user",
			SummaryTimeoutSec: 60,
		},
		Tools: ToolsConfig{
			Enabled:           true,
			MaxIterations:     5,
			RequestTimeoutSec: 120,
			Quotas: map[string]int{
				"web_search": 3,
				"web_fetch":  5,
			},
		},
		Fetch: FetchConfig{
			Concurrency: 3,
			TimeoutSec:  30,
			MaxChars:    50000,
		},
	}
}
