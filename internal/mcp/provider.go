package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nugget/hodie/internal/config"
	"github.com/nugget/hodie/internal/tools"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// Provider discovers the tools of one MCP server. It implements
// [tools.Provider].
type Provider struct {
	cfg    config.MCPServerConfig
	client *Client
	logger *slog.Logger
}

// NewProvider creates a provider for cfg. Nothing is started until
// Tools is called.
func NewProvider(cfg config.MCPServerConfig, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var transport Transport
	switch cfg.Transport {
	case "", "stdio":
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp server %q: command is required for stdio transport", cfg.Name)
		}
		transport = NewStdioTransport(StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.EnvList(),
			Logger:  logger.With("mcp_server", cfg.Name),
		})
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp server %q: url is required for http transport", cfg.Name)
		}
		transport = NewHTTPTransport(HTTPConfig{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Logger:  logger.With("mcp_server", cfg.Name),
		})
	default:
		return nil, fmt.Errorf("mcp server %q: unknown transport %q", cfg.Name, cfg.Transport)
	}

	return newProvider(cfg, transport, logger), nil
}

func newProvider(cfg config.MCPServerConfig, transport Transport, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:    cfg,
		client: NewClient(cfg.Name, transport, logger),
		logger: logger,
	}
}

// Name returns the server name.
func (p *Provider) Name() string {
	return "mcp:" + p.cfg.Name
}

// Tools performs the handshake if needed and returns the server's
// tools after include/exclude filtering. Include, when set, wins over
// exclude. Handlers call back into the server; a result the server
// flags as an error is returned as the handler's error.
func (p *Provider) Tools(ctx context.Context) ([]*tools.Tool, error) {
	if !p.client.Initialized() {
		if err := p.client.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	defs, err := p.client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	include := toSet(p.cfg.Include)
	exclude := toSet(p.cfg.Exclude)

	out := make([]*tools.Tool, 0, len(defs))
	for _, td := range defs {
		if len(include) > 0 {
			if !include[td.Name] {
				continue
			}
		} else if exclude[td.Name] {
			continue
		}

		name := td.Name
		if p.cfg.Prefix {
			name = ToolName(p.cfg.Name, td.Name)
		}
		out = append(out, p.bridge(name, td))

		p.logger.Debug("bridged MCP tool",
			"mcp_name", td.Name,
			"tool", name,
			"server", p.cfg.Name,
		)
	}
	return out, nil
}

// Close stops the server connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// bridge wraps one MCP tool definition as a local tool.
func (p *Provider) bridge(name string, td ToolDefinition) *tools.Tool {
	mcpName := td.Name
	schema := td.InputSchema
	if len(schema) == 0 {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  schema,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return p.client.CallTool(ctx, mcpName, args)
		},
	}
}

// ToolName namespaces an MCP tool as mcp_<server>_<tool>. Both parts
// are sanitized to lowercase alphanumerics and underscores.
func ToolName(serverName, mcpToolName string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(serverName), sanitize(mcpToolName))
}

// sanitize lowercases name, replaces other characters with
// underscores, collapses runs and trims the ends.
func sanitize(name string) string {
	s := sanitizeRe.ReplaceAllString(strings.ToLower(name), "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
