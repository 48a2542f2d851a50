package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultDiscoveryTimeout bounds a provider's discovery when no
// timeout is given.
const DefaultDiscoveryTimeout = 30 * time.Second

// Provider is an out-of-process tool source, such as an MCP server.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string
	// Tools discovers the provider's tools. Handlers on the returned
	// tools call back into the provider.
	Tools(ctx context.Context) ([]*Tool, error)
}

type providerEntry struct {
	provider Provider
	timeout  time.Duration
}

// Builder assembles a [Registry] from static tools and providers.
type Builder struct {
	static    []*Tool
	providers []providerEntry
	logger    *slog.Logger
}

// NewBuilder creates an empty builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger.With("component", "tools")}
}

// Add declares static tools. Declaration order is List order.
func (b *Builder) Add(tools ...*Tool) *Builder {
	b.static = append(b.static, tools...)
	return b
}

// AddProvider declares a provider. A timeout <= 0 uses
// DefaultDiscoveryTimeout.
func (b *Builder) AddProvider(p Provider, timeout time.Duration) *Builder {
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	b.providers = append(b.providers, providerEntry{provider: p, timeout: timeout})
	return b
}

// Build discovers all providers concurrently and returns the unioned
// registry. Any provider failure, any discovery exceeding its timeout
// and any duplicate tool name fails the whole build with a
// *RegistryError; a partial registry is never returned.
func (b *Builder) Build(ctx context.Context) (*Registry, error) {
	discovered := make([][]*Tool, len(b.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range b.providers {
		g.Go(func() error {
			start := time.Now()
			tools, err := discover(gctx, entry)
			if err != nil {
				return &RegistryError{Provider: entry.provider.Name(), Err: err}
			}
			b.logger.Info("tool provider discovered",
				"provider", entry.provider.Name(),
				"tools", len(tools),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			discovered[i] = tools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]*Tool, 0, len(b.static))
	owner := make(map[string]string) // tool name -> provider, "" for static
	add := func(provider string, tools []*Tool) error {
		for _, t := range tools {
			if prev, dup := owner[t.Name]; dup {
				return &RegistryError{
					Provider: provider,
					Tool:     t.Name,
					Err:      fmt.Errorf("%w: also declared by %s", ErrDuplicateTool, describeSource(prev)),
				}
			}
			owner[t.Name] = provider
			if err := t.compile(); err != nil {
				b.logger.Warn("tool schema does not compile, arguments will not be validated",
					"tool", t.Name, "error", err)
			}
			all = append(all, t)
		}
		return nil
	}

	if err := add("", b.static); err != nil {
		return nil, err
	}
	for i, entry := range b.providers {
		if err := add(entry.provider.Name(), discovered[i]); err != nil {
			return nil, err
		}
	}

	b.logger.Info("tool registry built", "tools", len(all), "providers", len(b.providers))
	return newRegistry(all), nil
}

// discover runs one provider's discovery under its own deadline. The
// result is abandoned if the provider ignores cancellation.
func discover(ctx context.Context, entry providerEntry) ([]*Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, entry.timeout)
	defer cancel()

	type result struct {
		tools []*Tool
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		tools, err := entry.provider.Tools(ctx)
		ch <- result{tools, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.tools, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("discovery timed out after %s: %w", entry.timeout, ctx.Err())
	}
}

func describeSource(provider string) string {
	if provider == "" {
		return "a static tool"
	}
	return fmt.Sprintf("provider %q", provider)
}
