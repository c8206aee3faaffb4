package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/martinemde/mercury/config"
	"github.com/martinemde/mercury/tools"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

type globalFlags struct {
	configPath string
	provider   string
	model      string
	project    string
	mock       bool
	verbose    bool
}

func rootCmd() *cobra.Command {
	var g globalFlags
	cmd := &cobra.Command{
		Use:           "mercury",
		Short:         "Autonomous software engineering agent console",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "config file (default ~/.mercury/config.yaml)")
	pf.StringVar(&g.provider, "provider", "", "model provider: gemini, anthropic or openai")
	pf.StringVar(&g.model, "model", "", "model id or alias")
	pf.StringVar(&g.project, "project", "", "project root the tools are scoped to")
	pf.BoolVar(&g.mock, "mock", false, "run every tool against the mock executor")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(chatCmd(&g))
	cmd.AddCommand(runCmd(&g))
	cmd.AddCommand(toolsCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

// loadConfig reads the config file and layers the global flags on top.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.provider != "" {
		cfg.Provider = g.provider
	}
	if g.model != "" {
		cfg.Model = g.model
	}
	if g.project != "" {
		cfg.Sandbox.ProjectRoot = g.project
	}
	if g.mock {
		cfg.Tools.Mode = tools.ModeMock
	}
	if g.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mercury %s\n", Version)
		},
	}
}
