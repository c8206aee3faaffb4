package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/mercury/tools"
	"github.com/martinemde/mercury/unifiedllm"
)

// DefaultPath returns ~/.mercury/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	if dir := os.Getenv("MERCURY_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".mercury", "config.yaml")
}

// Load reads path (DefaultPath when empty), applies environment overrides
// and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Sandbox.ArtifactsDir = expandHome(cfg.Sandbox.ArtifactsDir)
	cfg.Sandbox.ProjectRoot = expandHome(cfg.Sandbox.ProjectRoot)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if info, statErr := os.Stat(path); statErr == nil {
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			slog.Warn("config file has insecure permissions",
				"path", path,
				"mode", fmt.Sprintf("%04o", mode),
				"recommended", "0600")
		}
	}
	if err := yaml.Unmarshal([]byte(expandSafeEnvVars(string(data))), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// safeEnvVars may be referenced as ${NAME} inside the config file. Other
// references are left untouched so secrets never leak into paths or logs.
var safeEnvVars = map[string]bool{
	"HOME":               true,
	"USER":               true,
	"MERCURY_CONFIG_DIR": true,
	"XDG_CONFIG_HOME":    true,
	"XDG_DATA_HOME":      true,
	"TMPDIR":             true,
	"PWD":                true,
}

func expandSafeEnvVars(data string) string {
	return os.Expand(data, func(key string) string {
		if safeEnvVars[key] {
			return os.Getenv(key)
		}
		return "${" + key + "}"
	})
}

func loadFromEnv(cfg *Config) error {
	setString := func(dst *string, names ...string) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&cfg.API.GeminiKey, unifiedllm.EnvGeminiKey, unifiedllm.EnvGoogleKey)
	setString(&cfg.API.AnthropicKey, unifiedllm.EnvAnthropicKey)
	setString(&cfg.API.OpenAIKey, unifiedllm.EnvOpenAIKey)
	setString(&cfg.Search.ExaKey, "EXA_API_KEY")
	setString(&cfg.Search.BraveKey, "BRAVE_API_KEY")
	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")

	setString(&cfg.Provider, "MERCURY_PROVIDER")
	setString(&cfg.Model, "MERCURY_MODEL")
	setString(&cfg.LogLevel, "MERCURY_LOG_LEVEL")
	setString(&cfg.Sandbox.ProjectRoot, "MERCURY_PROJECT_ROOT")
	setString(&cfg.Sandbox.ArtifactsDir, "MERCURY_ARTIFACTS_DIR")
	setString(&cfg.Search.Provider, "MERCURY_SEARCH_PROVIDER")
	setString(&cfg.GitHub.CloneBase, "MERCURY_CLONE_BASE")

	if v := os.Getenv("MERCURY_TOOL_MODE"); v != "" {
		cfg.Tools.Mode = tools.Mode(strings.ToLower(v))
	}
	if v := os.Getenv("MERCURY_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MERCURY_MAX_ITERATIONS: %w", err)
		}
		cfg.MaxIterations = n
	}
	if v := os.Getenv("MERCURY_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MERCURY_TEMPERATURE: %w", err)
		}
		cfg.Temperature = &f
	}
	if v := os.Getenv("MERCURY_THINKING_BUDGET"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MERCURY_THINKING_BUDGET: %w", err)
		}
		cfg.ThinkingBudget = n
	}
	if v := os.Getenv("MERCURY_COMMAND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MERCURY_COMMAND_TIMEOUT: %w", err)
		}
		cfg.Sandbox.CommandTimeoutMs = int(d / time.Millisecond)
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
