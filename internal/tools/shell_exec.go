package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nugget/hodie/internal/config"
)

// Shell execution limits.
const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 5 * time.Minute
	maxShellOutputBytes = 100 * 1024
)

// DefaultDeniedPatterns blocks the obviously destructive commands even
// when the operator configures none.
var DefaultDeniedPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	"mkfs",
	"dd if=",
	"> /dev/sd",
	"chmod -R 777 /",
	":(){ :|:& };:", // Fork bomb
}

// ShellExec provides command execution capabilities.
type ShellExec struct {
	workingDir     string
	allowedCmds    []string // Empty = allow all
	deniedCmds     []string
	defaultTimeout time.Duration
}

// NewShellExec creates a shell executor from configuration.
func NewShellExec(cfg config.ShellExecConfig) *ShellExec {
	timeout := defaultShellTimeout
	if cfg.DefaultTimeoutSec > 0 {
		timeout = time.Duration(cfg.DefaultTimeoutSec) * time.Second
	}
	denied := cfg.DeniedPatterns
	if len(denied) == 0 {
		denied = DefaultDeniedPatterns
	}
	return &ShellExec{
		workingDir:     cfg.WorkingDir,
		allowedCmds:    cfg.AllowedPrefixes,
		deniedCmds:     denied,
		defaultTimeout: timeout,
	}
}

// ExecResult contains the result of a command execution.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Exec executes a shell command. Policy violations return an error; a
// command that runs and fails is reported through ExecResult.
func (s *ShellExec) Exec(ctx context.Context, command string, timeoutSec int) (*ExecResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("command is empty")
	}

	cmdLower := strings.ToLower(command)
	for _, denied := range s.deniedCmds {
		if strings.Contains(cmdLower, strings.ToLower(denied)) {
			return nil, fmt.Errorf("command blocked by security policy: matches denied pattern %q", denied)
		}
	}

	if len(s.allowedCmds) > 0 {
		allowed := false
		for _, prefix := range s.allowedCmds {
			if strings.HasPrefix(command, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("command not in allowlist")
		}
	}

	timeout := s.defaultTimeout
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if s.workingDir != "" {
		cmd.Dir = s.workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecResult{
		Stdout: truncateOutput(stdout.String(), maxShellOutputBytes),
		Stderr: truncateOutput(stderr.String(), maxShellOutputBytes),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.Error = "command timed out"
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Error = err.Error()
			result.ExitCode = -1
		}
	}

	return result, nil
}

// Tool exposes the executor as execute_command.
func (s *ShellExec) Tool() *Tool {
	return &Tool{
		Name: "execute_command",
		Description: "Run a shell command on the user's machine and return stdout, stderr and the exit code. " +
			"Use for anything the file tools cannot do. Commands run via sh -c.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to run",
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": "Timeout in seconds (default 30, max 300)",
					"minimum":     1,
				},
			},
			"required": []string{"command"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			command, _ := args["command"].(string)
			res, err := s.Exec(ctx, command, intArg(args, "timeout"))
			if err != nil {
				return "", err
			}
			b, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
	}
}

// truncateOutput truncates output to maxBytes, adding a note if truncated.
func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]"
}

// intArg reads a JSON number argument as an int.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// boolArg reads a boolean argument, returning def when absent.
func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
