package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ScriptRunner executes short shell scripts on behalf of the model.
// It is disabled by default and guarded by a deny list, an optional
// allow-prefix list, a hard timeout, and an output cap.
type ScriptRunner struct {
	enabled         bool
	workingDir      string
	allowedPrefixes []string // Empty = allow all (when enabled)
	deniedPatterns  []string
	defaultTimeout  time.Duration
	maxOutputBytes  int
}

// ScriptConfig configures the script runner.
type ScriptConfig struct {
	Enabled         bool
	WorkingDir      string
	AllowedPrefixes []string
	DeniedPatterns  []string
	DefaultTimeout  time.Duration
	MaxOutputBytes  int
}

// DefaultScriptConfig returns safe defaults.
func DefaultScriptConfig() ScriptConfig {
	return ScriptConfig{
		Enabled:    false, // Disabled by default for safety
		WorkingDir: "",
		DeniedPatterns: []string{
			"rm -rf /",
			"rm -rf /*",
			"mkfs",
			"dd if=",
			"> /dev/sd",
			"chmod -R 777 /",
			":(){ :|:& };:", // Fork bomb
		},
		DefaultTimeout: 30 * time.Second,
		MaxOutputBytes: 100 * 1024,
	}
}

// NewScriptRunner creates a script runner from the given config.
func NewScriptRunner(cfg ScriptConfig) *ScriptRunner {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = 100 * 1024
	}
	return &ScriptRunner{
		enabled:         cfg.Enabled,
		workingDir:      cfg.WorkingDir,
		allowedPrefixes: cfg.AllowedPrefixes,
		deniedPatterns:  cfg.DeniedPatterns,
		defaultTimeout:  cfg.DefaultTimeout,
		maxOutputBytes:  cfg.MaxOutputBytes,
	}
}

// Enabled reports whether script execution is available.
func (s *ScriptRunner) Enabled() bool {
	return s.enabled
}

// ScriptResult contains the result of a script execution.
type ScriptResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Run executes a script under the configured limits.
func (s *ScriptRunner) Run(ctx context.Context, source string, timeoutSec int) (*ScriptResult, error) {
	if !s.enabled {
		return nil, fmt.Errorf("script execution is disabled")
	}
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("run_script: source is required")
	}

	srcLower := strings.ToLower(source)
	for _, denied := range s.deniedPatterns {
		if strings.Contains(srcLower, strings.ToLower(denied)) {
			return nil, fmt.Errorf("script blocked by security policy: matches denied pattern %q", denied)
		}
	}

	if len(s.allowedPrefixes) > 0 {
		allowed := false
		for _, prefix := range s.allowedPrefixes {
			if strings.HasPrefix(source, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("script not in allowlist")
		}
	}

	timeout := s.defaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	// Cap at 5 minutes
	if timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", source)
	if s.workingDir != "" {
		cmd.Dir = s.workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ScriptResult{
		Stdout: truncateOutput(stdout.String(), s.maxOutputBytes),
		Stderr: truncateOutput(stderr.String(), s.maxOutputBytes),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("run_script: %w", err)
	}

	return result, nil
}

// Tool returns the registry definition for the run_script tool.
func (s *ScriptRunner) Tool() *Tool {
	return &Tool{
		Name:        "run_script",
		Description: "Execute a short shell script in a sandboxed environment and return its output. Use for calculations, text processing, and quick data transforms.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source": map[string]any{
					"type":        "string",
					"description": "The shell script to execute.",
				},
				"timeout_sec": map[string]any{
					"type":        "integer",
					"description": "Optional timeout in seconds (default 30, max 300).",
				},
			},
			"required": []string{"source"},
		},
		Handler: s.handle,
	}
}

func (s *ScriptRunner) handle(ctx context.Context, args map[string]any) (string, error) {
	source, _ := args["source"].(string)

	timeoutSec := 0
	if t, ok := args["timeout_sec"].(float64); ok {
		timeoutSec = int(t)
	}

	result, err := s.Run(ctx, source, timeoutSec)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// truncateOutput caps s at max bytes, appending a marker when trimmed.
func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... [output truncated]"
}
