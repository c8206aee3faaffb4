// Package config loads mercury settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/mercury/tools"
	"github.com/martinemde/mercury/unifiedllm"
)

// Config is the full set of user settings.
type Config struct {
	Provider          string   `yaml:"provider"`
	Model             string   `yaml:"model"`
	Temperature       *float64 `yaml:"temperature,omitempty"`
	ThinkingBudget    int      `yaml:"thinking_budget"`
	MaxIterations     int      `yaml:"max_iterations"`
	SystemInstruction string   `yaml:"system_instruction,omitempty"`
	LogLevel          string   `yaml:"log_level"`

	API     APIConfig     `yaml:"api"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Tools   ToolsConfig   `yaml:"tools"`
	Search  SearchConfig  `yaml:"search"`
	GitHub  GitHubConfig  `yaml:"github"`
	Browser BrowserConfig `yaml:"browser"`
}

// APIConfig holds provider credentials. Keys are normally supplied through
// the environment rather than the file.
type APIConfig struct {
	GeminiKey    string `yaml:"gemini_key,omitempty"`
	AnthropicKey string `yaml:"anthropic_key,omitempty"`
	OpenAIKey    string `yaml:"openai_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
}

// SandboxConfig configures the local project sandbox.
type SandboxConfig struct {
	ProjectRoot      string   `yaml:"project_root"`
	ArtifactsDir     string   `yaml:"artifacts_dir"`
	CommandTimeoutMs int      `yaml:"command_timeout_ms"`
	OutputLimit      int      `yaml:"output_limit"`
	DeniedCommands   []string `yaml:"denied_commands"`
}

// ToolsConfig selects how tool calls are executed.
type ToolsConfig struct {
	Mode        tools.Mode    `yaml:"mode"`
	MockLatency bool          `yaml:"mock_latency"`
	WebRate     float64       `yaml:"web_rate"`
	WebBurst    int           `yaml:"web_burst"`
	RefreshWait time.Duration `yaml:"refresh_timeout"`
}

// SearchConfig configures web search and fetch.
type SearchConfig struct {
	Provider      string        `yaml:"provider"` // exa or brave
	ExaKey        string        `yaml:"exa_key,omitempty"`
	BraveKey      string        `yaml:"brave_key,omitempty"`
	FetchLimit    int64         `yaml:"fetch_limit"`
	FetchCache    int           `yaml:"fetch_cache_entries"`
	FetchCacheTTL time.Duration `yaml:"fetch_cache_ttl"`
}

// GitHubConfig configures the source-control collaborator.
type GitHubConfig struct {
	Token     string `yaml:"token,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	CloneBase string `yaml:"clone_base"`
}

// BrowserConfig configures the rod-driven browser.
type BrowserConfig struct {
	Enabled  bool `yaml:"enabled"`
	Headless bool `yaml:"headless"`
}

// Default returns the documented defaults.
func Default() *Config {
	temp := 0.7
	return &Config{
		Provider:       "gemini",
		Temperature:    &temp,
		ThinkingBudget: 32768,
		MaxIterations:  10,
		LogLevel:       "info",
		Sandbox: SandboxConfig{
			ArtifactsDir:     "~/.mercury/artifacts",
			CommandTimeoutMs: 30000,
			OutputLimit:      5000,
			DeniedCommands:   []string{"sudo", "shutdown", "reboot", "mkfs"},
		},
		Tools: ToolsConfig{
			Mode:        tools.ModeAuto,
			MockLatency: true,
			WebRate:     2,
			WebBurst:    4,
			RefreshWait: 30 * time.Second,
		},
		Search: SearchConfig{
			Provider:      "exa",
			FetchLimit:    512 << 10,
			FetchCache:    100,
			FetchCacheTTL: 15 * time.Minute,
		},
		GitHub: GitHubConfig{
			CloneBase: "/workspace",
		},
		Browser: BrowserConfig{Headless: true},
	}
}

var (
	ErrInvalidProvider = errors.New("invalid provider")
	ErrInvalidMode     = errors.New("invalid tool mode")
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate rejects settings the rest of the program cannot use.
func (c *Config) Validate() error {
	switch c.Provider {
	case unifiedllm.ProviderGemini, unifiedllm.ProviderAnthropic, unifiedllm.ProviderOpenAI:
	default:
		return fmt.Errorf("%w %q: expected gemini, anthropic or openai", ErrInvalidProvider, c.Provider)
	}
	if _, err := tools.ParseMode(string(c.Tools.Mode)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMode, err)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be > 0, got %d", c.MaxIterations)
	}
	if c.ThinkingBudget < 0 {
		return fmt.Errorf("thinking_budget must be >= 0")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be within [0, 2], got %v", *c.Temperature)
	}
	if c.Sandbox.CommandTimeoutMs <= 0 {
		return fmt.Errorf("sandbox.command_timeout_ms must be > 0")
	}
	if c.Sandbox.OutputLimit <= 0 {
		return fmt.Errorf("sandbox.output_limit must be > 0")
	}
	if !logLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch c.Search.Provider {
	case "exa", "brave", "":
	default:
		return fmt.Errorf("invalid search.provider %q: expected exa or brave", c.Search.Provider)
	}
	return nil
}

// ProviderKey returns the API key for the configured provider.
func (c *Config) ProviderKey() string {
	switch c.Provider {
	case unifiedllm.ProviderAnthropic:
		return c.API.AnthropicKey
	case unifiedllm.ProviderOpenAI:
		return c.API.OpenAIKey
	default:
		return c.API.GeminiKey
	}
}

// CommandTimeout returns the sandbox command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Sandbox.CommandTimeoutMs) * time.Millisecond
}
