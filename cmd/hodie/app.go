package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/hodie/internal/agent"
	"github.com/nugget/hodie/internal/approval"
	"github.com/nugget/hodie/internal/buildinfo"
	"github.com/nugget/hodie/internal/checkpoint"
	"github.com/nugget/hodie/internal/config"
	"github.com/nugget/hodie/internal/fetch"
	"github.com/nugget/hodie/internal/forge"
	"github.com/nugget/hodie/internal/llm"
	"github.com/nugget/hodie/internal/mcp"
	"github.com/nugget/hodie/internal/metrics"
	"github.com/nugget/hodie/internal/tools"
)

// app holds the components a subcommand needs. Each is built on
// demand, in startup order: config and logger, store, tool registry,
// then the model client and engine.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	store    checkpoint.Store
	registry *tools.Registry
	prompter *approval.Prompter
	metrics  *metrics.Metrics
	engine   *agent.Engine

	closers []func() error
}

// newApp loads and validates the configuration and builds the logger.
func newApp(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Validate has already checked the level.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(cmd.ErrOrStderr(), level, cfg.LogFormat)
	logger.Debug("config loaded", "path", cfgPath, "version", buildinfo.Version)

	return &app{
		cfg:    cfg,
		logger: logger,
		stdin:  cmd.InOrStdin(),
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}, nil
}

// loadConfig locates and parses the YAML configuration file. An
// explicit path must exist; otherwise the default locations are
// searched.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", fmt.Errorf("%w (run `hodie init` to create one)", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

func (a *app) openStore(ctx context.Context) error {
	store, err := checkpoint.Open(ctx, a.cfg.Store, a.cfg.DataDir, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// buildRegistry assembles built-in, web, GitHub and MCP tools. Any
// discovery failure or name collision aborts startup.
func (a *app) buildRegistry(ctx context.Context) error {
	b := tools.NewBuilder(a.logger).Add(tools.Builtins(a.cfg.Tools)...)

	if a.cfg.Tools.Fetch.Enabled {
		b.Add(fetch.Tool(fetch.New(nil)))
	}
	if a.cfg.Tools.GitHub.Enabled() {
		gh, err := forge.NewGitHub(nil, a.cfg.Tools.GitHub, "", a.logger)
		if err != nil {
			return err
		}
		b.Add(forge.Tools(gh)...)
	}
	for _, sc := range a.cfg.MCP.Servers {
		p, err := mcp.NewProvider(sc, a.logger)
		if err != nil {
			return fmt.Errorf("mcp server %s: %w", sc.Name, err)
		}
		a.closers = append(a.closers, p.Close)
		b.AddProvider(p, sc.Timeout)
	}

	reg, err := b.Build(ctx)
	if err != nil {
		return err
	}
	a.registry = reg
	return nil
}

// buildEngine wires the model client, approval gate and metrics into
// an engine. openStore and buildRegistry must have run.
func (a *app) buildEngine() error {
	client, err := llm.NewClient(a.cfg.Model, a.logger)
	if err != nil {
		return err
	}

	// The prompter owns stdin. Chat reads its input through it too.
	a.prompter = approval.NewPrompter(a.stdin, a.stdout, a.cfg.Approval.Timeout)
	a.closers = append(a.closers, a.prompter.Close)

	var decider approval.Decider
	switch a.cfg.Approval.Mode {
	case config.ApprovalAuto:
		a.logger.Warn("tool calls are approved automatically")
		decider = approval.AutoApprove{}
	case config.ApprovalDeferred:
		decider = approval.Deferred{}
	default:
		decider = a.prompter
	}

	a.metrics = metrics.New()
	a.serveMetrics()

	a.engine, err = agent.NewEngine(agent.Config{
		Client:           client,
		Model:            a.cfg.Model.Name,
		Counter:          llm.EstimateCounter{},
		ContextBudget:    a.cfg.Model.ContextBudget,
		SystemPrompt:     a.cfg.SystemPrompt,
		Registry:         a.registry,
		Gate:             approval.NewGate(decider, a.logger),
		Store:            a.store,
		Metrics:          a.metrics,
		Logger:           a.logger,
		MaxIterations:    a.cfg.Agent.MaxIterations,
		InferenceTimeout: a.cfg.Agent.InferenceTimeout,
		ToolTimeout:      a.cfg.Agent.ToolTimeout,
		ParallelTools:    a.cfg.Agent.ParallelTools,
	})
	return err
}

// setup runs the full startup sequence for commands that drive turns.
func (a *app) setup(ctx context.Context) error {
	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.buildRegistry(ctx); err != nil {
		return err
	}
	return a.buildEngine()
}

// serveMetrics exposes /metrics while the command runs, when
// metrics.listen is set.
func (a *app) serveMetrics() {
	if a.cfg.Metrics.Listen == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "listen", srv.Addr, "error", err)
		}
	}()
	a.logger.Info("metrics server listening", "listen", srv.Addr)

	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// Close releases everything in reverse order of construction.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
