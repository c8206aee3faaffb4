package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/martinemde/mercury/agentloop"
	"github.com/martinemde/mercury/config"
	"github.com/martinemde/mercury/planner"
	"github.com/martinemde/mercury/sandbox"
	"github.com/martinemde/mercury/sourcecontrol"
	"github.com/martinemde/mercury/tools"
	"github.com/martinemde/mercury/toolset"
	"github.com/martinemde/mercury/unifiedllm"
	"github.com/martinemde/mercury/websearch"
)

// app is one wired console: model client, tools and session.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *unifiedllm.Client
	tools   *toolset.Toolset
	session *agentloop.Session
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	client, err := newModelClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rt := sandbox.NewRuntime(
		sandbox.WithArtifactsDir(cfg.Sandbox.ArtifactsDir),
		sandbox.WithRequireProjectRoot(true),
		sandbox.WithPolicy(sandbox.NewCommandPolicy(cfg.Sandbox.DeniedCommands)),
		sandbox.WithOutputLimit(cfg.Sandbox.OutputLimit),
		sandbox.WithCommandTimeout(cfg.CommandTimeout()),
		sandbox.WithLogger(logger),
	)
	if root := cfg.Sandbox.ProjectRoot; root != "" && cfg.Tools.Mode != tools.ModeMock {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("project root: %w", err)
		}
		backend, err := sandbox.NewLocalBackend(abs)
		if err != nil {
			return nil, fmt.Errorf("attach project %s: %w", abs, err)
		}
		rt.Attach(backend)
		rt.SetProjectRoot(abs)
		if cfg.Browser.Enabled {
			rt.AttachBrowser(sandbox.NewRodBrowser(sandbox.WithHeadless(cfg.Browser.Headless), sandbox.WithBrowserLogger(logger)))
		}
	}

	ghOpts := []sourcecontrol.Option{
		sourcecontrol.WithCloneBase(cfg.GitHub.CloneBase),
		sourcecontrol.WithLogger(logger),
		sourcecontrol.WithProgress(func(s sourcecontrol.HydrationState) {
			logger.Info("hydration", "phase", s.Phase, "progress", s.Progress)
		}),
	}
	if cfg.GitHub.BaseURL != "" {
		ghOpts = append(ghOpts, sourcecontrol.WithBaseURL(cfg.GitHub.BaseURL))
	}
	gh := sourcecontrol.New(ghOpts...)
	if cfg.GitHub.Token != "" {
		user, err := gh.Authenticate(ctx, cfg.GitHub.Token)
		if err != nil {
			logger.Warn("github authentication failed", "error", err)
		} else {
			logger.Info("github authenticated", "login", user.Login)
		}
	}

	latency := tools.NoLatency
	if cfg.Tools.MockLatency {
		latency = tools.DefaultLatency
	}
	web := newWebService(cfg, logger)
	logger.Debug("tool collaborators",
		"sandbox", rt.IsReady(),
		"web", web.Ready(),
		"github", gh.Ready(),
		"mode", cfg.Tools.Mode)
	ts := toolset.New(rt, planner.NewStore(), web, gh, toolset.Options{
		Mode:           cfg.Tools.Mode,
		Latency:        latency,
		WebRate:        rate.Limit(cfg.Tools.WebRate),
		WebBurst:       cfg.Tools.WebBurst,
		RefreshTimeout: cfg.Tools.RefreshWait,
		Logger:         logger,
	})

	loopCfg := agentloop.DefaultConfig()
	loopCfg.Provider = cfg.Provider
	loopCfg.Model = cfg.Model
	loopCfg.MaxIterations = cfg.MaxIterations
	loopCfg.Temperature = cfg.Temperature
	loopCfg.ThinkingBudget = cfg.ThinkingBudget
	base := agentloop.SystemInstruction
	if cfg.SystemInstruction != "" {
		base = cfg.SystemInstruction
	}
	loopCfg.SystemInstruction = agentloop.BuildSystemPrompt(base, rt.ProjectRoot(), cfg.Model)

	session := agentloop.New(client, ts.Dispatcher,
		agentloop.WithConfig(loopCfg),
		agentloop.WithLogger(logger),
	)
	return &app{cfg: cfg, logger: logger, client: client, tools: ts, session: session}, nil
}

// watch keeps the file tree current while ctx is live.
func (a *app) watch(ctx context.Context) {
	root := a.tools.Runtime.ProjectRoot()
	if root == "" {
		return
	}
	if err := a.tools.Tree.Refresh(ctx); err != nil {
		a.logger.Debug("initial file tree refresh failed", "error", err)
	}
	if err := a.tools.Tree.Watch(ctx, root); err != nil {
		a.logger.Warn("file watcher unavailable", "error", err)
	}
}

func (a *app) Close() error {
	a.session.Close()
	return errors.Join(a.tools.Runtime.Detach(), a.client.Close())
}

func newModelClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*unifiedllm.Client, error) {
	key := cfg.ProviderKey()
	if key == "" {
		return nil, fmt.Errorf("no API key for provider %s: set %s", cfg.Provider, keyEnv(cfg.Provider))
	}
	adapter, err := unifiedllm.NewAdapter(ctx, cfg.Provider, key, cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create %s adapter: %w", cfg.Provider, err)
	}
	return unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Provider, adapter),
		unifiedllm.WithDefaultProvider(cfg.Provider),
		unifiedllm.WithStreamMiddleware(unifiedllm.LoggingMiddleware(logger)),
	), nil
}

func keyEnv(provider string) string {
	switch provider {
	case unifiedllm.ProviderAnthropic:
		return unifiedllm.EnvAnthropicKey
	case unifiedllm.ProviderOpenAI:
		return unifiedllm.EnvOpenAIKey
	default:
		return unifiedllm.EnvGeminiKey
	}
}

func newWebService(cfg *config.Config, logger *slog.Logger) *websearch.Service {
	opts := []websearch.ServiceOption{
		websearch.WithServiceLogger(logger),
		websearch.WithFetcher(websearch.NewFetcher(
			websearch.WithBodyLimit(cfg.Search.FetchLimit),
			websearch.WithCache(cfg.Search.FetchCache, cfg.Search.FetchCacheTTL),
			websearch.WithFetchLogger(logger),
		)),
	}

	var (
		exa   *websearch.ExaProvider
		brave *websearch.BraveProvider
	)
	if cfg.Search.ExaKey != "" {
		exa = websearch.NewExaProvider(cfg.Search.ExaKey)
		opts = append(opts, websearch.WithAnswerer(exa))
	}
	if cfg.Search.BraveKey != "" {
		brave = websearch.NewBraveProvider(cfg.Search.BraveKey, "")
	}
	switch {
	case cfg.Search.Provider == "brave" && brave != nil:
		opts = append(opts, websearch.WithProviders(brave))
		if exa != nil {
			opts = append(opts, websearch.WithProviders(exa))
		}
	case exa != nil:
		opts = append(opts, websearch.WithProviders(exa))
		if brave != nil {
			opts = append(opts, websearch.WithProviders(brave))
		}
	case brave != nil:
		opts = append(opts, websearch.WithProviders(brave))
	}
	return websearch.NewService(opts...)
}

// interruptContext is cancelled on the first interrupt.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
