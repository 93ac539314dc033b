// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command docpilot runs the document-processing core: the seven-agent
// confirmation-loop pipeline, the auto-processing scheduler, the review
// queue and bootstrap schema-cleanup analyzer, and the admin HTTP control
// surface, over an external document-management service.
//
// Usage:
//
//	docpilot serve --config config.yaml
//	docpilot migrate --config config.yaml
//	docpilot bootstrap --config config.yaml --scope tags
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/docpilot/core/pkg/adminserver"
	"github.com/docpilot/core/pkg/agents"
	"github.com/docpilot/core/pkg/auth"
	"github.com/docpilot/core/pkg/config"
	"github.com/docpilot/core/pkg/config/provider"
	"github.com/docpilot/core/pkg/dms"
	"github.com/docpilot/core/pkg/doctools"
	"github.com/docpilot/core/pkg/embedder"
	"github.com/docpilot/core/pkg/llm"
	"github.com/docpilot/core/pkg/logger"
	"github.com/docpilot/core/pkg/observability"
	"github.com/docpilot/core/pkg/pipeline"
	"github.com/docpilot/core/pkg/promptstore"
	"github.com/docpilot/core/pkg/ratelimit"
	"github.com/docpilot/core/pkg/reviewqueue"
	"github.com/docpilot/core/pkg/scheduler"
	"github.com/docpilot/core/pkg/settings"
	"github.com/docpilot/core/pkg/store"
	"github.com/docpilot/core/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve     ServeCmd     `cmd:"" help:"Run the pipeline, scheduler, and admin API."`
	Migrate   MigrateCmd   `cmd:"" help:"Create or update the SQL schema and exit."`
	Bootstrap BootstrapCmd `cmd:"" help:"Run the schema-cleanup analyzer once and exit."`
	Version   VersionCmd   `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd prints build information.
type VersionCmd struct{}

// Run implements VersionCmd.
func (c *VersionCmd) Run() error {
	fmt.Println("docpilot (document-processing core)")
	return nil
}

// loadAppConfig opens the configured file provider, loads and validates the
// config, and returns it. The provider is closed before returning; docpilot's
// hot-reload lives in pkg/settings, not this top-level config.
func loadAppConfig(ctx context.Context, path string) (*config.Config, error) {
	prov, err := provider.New(provider.ProviderConfig{Type: provider.TypeFile, Path: path})
	if err != nil {
		return nil, fmt.Errorf("opening config provider: %w", err)
	}
	defer prov.Close()
	return config.Load(ctx, prov)
}

// buildCollaborators wires every package the serve and bootstrap commands
// share: DMS client, store, settings, prompt templates, LLM/vector/embedder
// adapters, the agent dependency bundle, and the domain services built on
// top of them.
type collaborators struct {
	cfg       *config.Config
	dbPool    *config.DBPool
	st        *store.Store
	settings  *settings.Store
	prompts   *promptstore.Store
	dms       *dms.Client
	llmReg    *llm.Registry
	vec       vector.Provider
	embed     embedder.Embedder
	deps      *agents.Deps
	orch      *pipeline.Orchestrator
	sched     *scheduler.Scheduler
	reviews   *reviewqueue.Queue
	bootstrap *reviewqueue.Bootstrap
	obs       *observability.Manager
}

func buildCollaborators(ctx context.Context, cfg *config.Config) (*collaborators, error) {
	dbPool := config.NewDBPool()
	db, err := dbPool.Get(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	st, err := store.Open(db, cfg.Database.Dialect())
	if err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	var settingsProv provider.Provider
	if cfg.Settings.Provider.Type != "" {
		settingsProv, err = provider.New(cfg.Settings.Provider)
		if err != nil {
			return nil, fmt.Errorf("opening settings provider: %w", err)
		}
	}
	settingsStore, err := settings.New(ctx, settingsProv, st)
	if err != nil {
		return nil, fmt.Errorf("initializing settings store: %w", err)
	}

	prompts, err := promptstore.New(cfg.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}

	dmsClient := dms.New(cfg.DMS)

	vec, err := vector.NewProvider(&cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("initializing vector provider: %w", err)
	}

	embed, err := embedder.New(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}

	llmReg, err := llm.NewRegistry(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initializing LLM providers: %w", err)
	}

	limiter, err := ratelimit.NewRateLimiterFromConfig(&ratelimit.ConfigFromSettings{
		Enabled: cfg.RateLimit.Enabled,
		Backend: cfg.RateLimit.Backend,
		Scope:   cfg.RateLimit.Scope,
		Limits:  rateLimitRules(cfg.RateLimit.Limits),
	}, &cfg.Database, dbPool)
	if err != nil {
		return nil, fmt.Errorf("initializing rate limiter: %w", err)
	}
	limiterScope := ratelimit.ScopeFromSettings(&ratelimit.ConfigFromSettings{Scope: cfg.RateLimit.Scope})
	largeLLM := llm.WrapWithRateLimit(llmReg.Large(), limiter, limiterScope, "llm:large")
	smallLLM := llm.WrapWithRateLimit(llmReg.Small(), limiter, limiterScope, "llm:small")

	toolset := doctools.New(dmsClient, vec, embed)
	tools, err := toolset.Tools()
	if err != nil {
		return nil, fmt.Errorf("building doctools: %w", err)
	}

	deps := &agents.Deps{
		DMS:      dmsClient,
		Vector:   vec,
		Embedder: embed,
		Prompts:  prompts,
		Store:    st,
		Large:    largeLLM,
		Small:    smallLLM,
		Tools:    tools,
		Logger:   agents.NewStoreLogger(st),
		Settings: settingsStore,
	}

	orch := pipeline.New(dmsClient, settingsStore, deps)
	sched := scheduler.New(dmsClient, orch, settingsStore)
	reviews := reviewqueue.New(dmsClient, st)
	bootstrap := reviewqueue.NewBootstrap(dmsClient, st)

	obs, err := observability.NewManager(ctx, &cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}

	return &collaborators{
		cfg: cfg, dbPool: dbPool, st: st, settings: settingsStore, prompts: prompts,
		dms: dmsClient, llmReg: llmReg, vec: vec, embed: embed, deps: deps,
		orch: orch, sched: sched, reviews: reviews, bootstrap: bootstrap, obs: obs,
	}, nil
}

// rateLimitRules converts the config package's mirror rule structs into
// pkg/ratelimit's own shape, since pkg/config cannot import pkg/ratelimit
// directly (pkg/ratelimit/factory.go already depends on pkg/config for its
// SQL-backend wiring).
func rateLimitRules(rules []config.RateLimitRuleConfig) []ratelimit.LimitRuleConfig {
	out := make([]ratelimit.LimitRuleConfig, len(rules))
	for i, r := range rules {
		out[i] = ratelimit.LimitRuleConfig{Type: r.Type, Window: r.Window, Limit: r.Limit}
	}
	return out
}

func (c *collaborators) Close() {
	_ = c.prompts.Close()
	_ = c.llmReg.Close()
	_ = c.dbPool.Close()
}

// ServeCmd runs the full service: scheduler, admin API, and every
// background watch loop (settings, prompt templates).
type ServeCmd struct {
	Addr string `help:"Override the admin API listen address (host:port)."`
}

// Run implements ServeCmd.
func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := loadAppConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Admin.Addr = c.Addr
	}

	collab, err := buildCollaborators(ctx, cfg)
	if err != nil {
		return err
	}
	defer collab.Close()

	go func() {
		if err := collab.settings.Watch(ctx); err != nil && ctx.Err() == nil {
			slog.Error("settings watch stopped", "error", err)
		}
	}()
	if err := collab.prompts.Watch(); err != nil {
		slog.Warn("prompt template watch disabled", "error", err)
	}

	validator, err := auth.NewValidatorFromConfig(&cfg.Auth)
	if err != nil {
		return fmt.Errorf("initializing auth: %w", err)
	}

	admin := adminserver.New(collab.dms, collab.orch, collab.sched, collab.reviews, collab.bootstrap, collab.settings, collab.prompts, collab.obs, validator, collab.deps.Tools, collab.st)

	collab.sched.Start(ctx)
	defer collab.sched.Stop()

	httpSrv := &http.Server{Addr: cfg.Admin.Addr, Handler: admin}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("docpilot admin API listening", "addr", cfg.Admin.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// MigrateCmd opens the database and ensures the schema exists, then exits.
// store.Open already runs the full schema creation; this command exists so
// an operator can provision the schema ahead of the service's first start
// (e.g. from a deploy pipeline) without also standing up the pipeline.
type MigrateCmd struct{}

// Run implements MigrateCmd.
func (c *MigrateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, err := loadAppConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	dbPool := config.NewDBPool()
	defer dbPool.Close()
	db, err := dbPool.Get(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	if _, err := store.Open(db, cfg.Database.Dialect()); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	slog.Info("schema up to date", "driver", cfg.Database.Driver, "database", cfg.Database.Database)
	return nil
}

// BootstrapCmd runs the schema-cleanup similarity analyzer once, blocking
// until it finishes or ctx is cancelled, then exits.
type BootstrapCmd struct {
	Scope string `help:"Scope to analyze: all, correspondents, document_types, tags." default:"all"`
}

// Run implements BootstrapCmd.
func (c *BootstrapCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := loadAppConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	collab, err := buildCollaborators(ctx, cfg)
	if err != nil {
		return err
	}
	defer collab.Close()

	if err := collab.bootstrap.Start(ctx, c.Scope); err != nil {
		return fmt.Errorf("starting bootstrap: %w", err)
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		status := collab.bootstrap.Status()
		switch status.Status {
		case reviewqueue.ProgressCompleted:
			slog.Info("bootstrap complete", "suggestions", status.TotalSuggestions, "by_kind", status.ByKind)
			return nil
		case reviewqueue.ProgressCancelled:
			return fmt.Errorf("bootstrap cancelled")
		case reviewqueue.ProgressError:
			return fmt.Errorf("bootstrap failed: %s", status.Error)
		}
		select {
		case <-ctx.Done():
			collab.bootstrap.Cancel()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func main() {
	cli := CLI{}
	_ = config.LoadEnvFiles()

	kctx := kong.Parse(&cli,
		kong.Name("docpilot"),
		kong.Description("docpilot - document-management metadata inference core"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	out := os.Stderr
	if cli.LogFile != "" {
		f, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		out = f
	}
	logger.Init(level, out, cli.LogFormat)

	err = kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
