// Package config handles Hodie configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/hodie/config.yaml, /etc/hodie/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hodie", "config.yaml"))
	}

	paths = append(paths, "/etc/hodie/config.yaml")
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

// Config holds all Hodie configuration.
type Config struct {
	LogLevel     string         `yaml:"log_level"`
	LogFormat    string         `yaml:"log_format"` // text (default) or json
	DataDir      string         `yaml:"data_dir"`
	SystemPrompt string         `yaml:"system_prompt"`
	Model        ModelConfig    `yaml:"model"`
	Approval     ApprovalConfig `yaml:"approval"`
	Agent        AgentConfig    `yaml:"agent"`
	Store        StoreConfig    `yaml:"store"`
	Tools        ToolsConfig    `yaml:"tools"`
	MCP          MCPConfig      `yaml:"mcp"`
	Metrics      MetricsConfig  `yaml:"metrics"`
}

// ModelConfig selects the language model provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // openai or anthropic
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"` // OpenAI-compatible endpoints (e.g. Ollama /v1)
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// ContextBudget is the token budget for the history sent to the
	// model. Older turns are trimmed from the request, never from the
	// stored conversation.
	ContextBudget int `yaml:"context_budget"`
}

// Approval modes.
const (
	ApprovalPrompt   = "prompt"
	ApprovalAuto     = "auto"
	ApprovalDeferred = "deferred"
)

// ApprovalConfig controls the human approval gate.
type ApprovalConfig struct {
	// Mode is one of prompt (terminal y/n), auto (approve everything),
	// or deferred (suspend the turn until approve/reject is issued).
	Mode string `yaml:"mode"`

	// Timeout bounds how long the prompt waits. Expiry rejects the
	// pending calls. Zero waits forever.
	Timeout time.Duration `yaml:"timeout"`
}

// AgentConfig bounds the conversational loop.
type AgentConfig struct {
	MaxIterations    int           `yaml:"max_iterations"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	ParallelTools    int           `yaml:"parallel_tools"` // 1 = sequential
}

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite3  = "sqlite3" // github.com/mattn/go-sqlite3 (cgo)
	StoreSQLite   = "sqlite"  // modernc.org/sqlite (pure Go)
	StorePostgres = "postgres"
)

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// DSN is a file path for the sqlite drivers and a connection
	// string for postgres. Empty sqlite DSN means <data_dir>/hodie.db.
	DSN string `yaml:"dsn"`
	// Keep is how many snapshots to retain per thread (0 = unlimited).
	Keep int `yaml:"keep"`
}

// ToolsConfig enables the built-in tools.
type ToolsConfig struct {
	Shell     ShellExecConfig `yaml:"shell"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Fetch     FetchConfig     `yaml:"fetch"`
	GitHub    GitHubConfig    `yaml:"github"`
	System    bool            `yaml:"system_info"`
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for file operations.
	// All file tool paths are relative to this directory.
	// If empty, file tools are disabled.
	Path string `yaml:"path"`
}

// ShellExecConfig defines shell execution capabilities.
type ShellExecConfig struct {
	// Enabled allows shell command execution. Disabled by default for safety.
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

// FetchConfig enables the web_fetch tool.
type FetchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// GitHubConfig enables the GitHub tools.
type GitHubConfig struct {
	Token string `yaml:"token"`
	Owner string `yaml:"owner"` // default owner for unqualified repo names
}

// Enabled reports whether a token is configured.
func (g GitHubConfig) Enabled() bool {
	return g.Token != ""
}

// MCPConfig lists external tool servers.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes a single MCP server.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // stdio (default) or http
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Include   []string          `yaml:"include"`
	Exclude   []string          `yaml:"exclude"`
	// Prefix namespaces discovered tools as mcp_<server>_<tool>.
	Prefix bool `yaml:"prefix"`
	// Timeout bounds discovery (initialize + tools/list).
	Timeout time.Duration `yaml:"timeout"`
}

// EnvList renders Env as KEY=VALUE pairs.
func (s MCPServerConfig) EnvList() []string {
	var out []string
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	return out
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9090"; empty disables
}

// Load reads configuration from a YAML file. A .env file next to the
// config file (or in the working directory) is loaded first so that
// ${VAR} references can be satisfied from it. Existing environment
// variables take precedence over .env values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// loadDotEnv loads the first existing file. Missing files are not an error.
func loadDotEnv(candidates ...string) {
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
		return
	}
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		LogFormat:    "text",
		DataDir:      "./data",
		SystemPrompt: DefaultSystemPrompt,
		Model: ModelConfig{
			Provider:      "openai",
			Name:          "gpt-4o-mini",
			Temperature:   0.1,
			MaxTokens:     4096,
			ContextBudget: 16000,
		},
		Approval: ApprovalConfig{Mode: ApprovalPrompt},
		Agent: AgentConfig{
			MaxIterations:    20,
			InferenceTimeout: 2 * time.Minute,
			ToolTimeout:      time.Minute,
			ParallelTools:    4,
		},
		Store: StoreConfig{Driver: StoreSQLite3, Keep: 50},
	}
}

// DefaultSystemPrompt seeds new threads.
const DefaultSystemPrompt = "You are a desktop AI agent. " +
	"You have access to tools that can interact with the user's computer, " +
	"run commands, read and write files, and perform system-level tasks. " +
	"Every tool call is shown to the user for approval before it runs. " +
	"If a tool call is denied, explain what you would have done and continue without it."

func (c *Config) applyDefaults() {
	if c.Model.APIKey == "" {
		switch strings.ToLower(c.Model.Provider) {
		case "openai":
			c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			c.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if c.Model.ContextBudget <= 0 {
		c.Model.ContextBudget = 16000
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 20
	}
	if c.Agent.ParallelTools <= 0 {
		c.Agent.ParallelTools = 1
	}
	if c.Approval.Mode == "" {
		c.Approval.Mode = ApprovalPrompt
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreSQLite3
	}
	if c.Store.DSN == "" && (c.Store.Driver == StoreSQLite3 || c.Store.Driver == StoreSQLite) {
		c.Store.DSN = filepath.Join(c.DataDir, "hodie.db")
	}
	for i := range c.MCP.Servers {
		if c.MCP.Servers[i].Transport == "" {
			c.MCP.Servers[i].Transport = "stdio"
		}
		if c.MCP.Servers[i].Timeout <= 0 {
			c.MCP.Servers[i].Timeout = 30 * time.Second
		}
	}
}

// Validate checks the configuration for errors that must stop startup
// before any conversation turn is accepted.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(c.Model.Provider) {
	case "openai":
		// A base URL means an OpenAI-compatible server that may not
		// need a key (e.g. local Ollama).
		if c.Model.APIKey == "" && c.Model.BaseURL == "" {
			errs = append(errs, errors.New("model.api_key is required for provider openai (set OPENAI_API_KEY)"))
		}
	case "anthropic":
		if c.Model.APIKey == "" {
			errs = append(errs, errors.New("model.api_key is required for provider anthropic"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown model.provider %q (valid: openai, anthropic)", c.Model.Provider))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}

	switch c.Approval.Mode {
	case ApprovalPrompt, ApprovalAuto, ApprovalDeferred:
	default:
		errs = append(errs, fmt.Errorf("unknown approval.mode %q (valid: prompt, auto, deferred)", c.Approval.Mode))
	}

	switch c.Store.Driver {
	case StoreMemory, StoreSQLite3, StoreSQLite:
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for driver postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	seen := make(map[string]bool)
	for i, s := range c.MCP.Servers {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: name is required", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: duplicate server name %q", i, s.Name))
		}
		seen[s.Name] = true

		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				errs = append(errs, fmt.Errorf("mcp server %q: command is required for stdio transport", s.Name))
			}
		case "http":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("mcp server %q: url is required for http transport", s.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("mcp server %q: unknown transport %q", s.Name, s.Transport))
		}
	}

	return errors.Join(errs...)
}
