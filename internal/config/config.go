// Package config loads runtime configuration from a YAML file layered with
// environment overrides. Precedence: defaults, then the config file, then
// the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Default connection and budget values.
const (
	DefaultModel            = "gpt-4.1"
	DefaultBaseURL          = "https://api.openai.com/v1"
	DefaultMaxIterations    = 50
	DefaultMaxContextTokens = 128_000
)

// RiskConfig tunes the risk analyzer.
type RiskConfig struct {
	Enabled           bool     `yaml:"enabled"`
	ApprovalThreshold string   `yaml:"approval_threshold"`
	AllowPatterns     []string `yaml:"allow_patterns"`
	BlockPatterns     []string `yaml:"block_patterns"`
}

// Config is the full runtime configuration.
type Config struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	MaxIterations    int `yaml:"max_iterations"`
	MaxContextTokens int `yaml:"max_context_tokens"`

	WorkingDir string `yaml:"working_dir"`
	DocsRoot   string `yaml:"docs_root"`
	SessionDir string `yaml:"session_dir"`

	SystemPrompt string `yaml:"system_prompt"`
	LogLevel     string `yaml:"log_level"`

	Risk RiskConfig `yaml:"risk"`
}

func defaults() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Model:            DefaultModel,
		MaxIterations:    DefaultMaxIterations,
		MaxContextTokens: DefaultMaxContextTokens,
		LogLevel:         "INFO",
		Risk: RiskConfig{
			Enabled:           true,
			ApprovalThreshold: "high",
		},
	}
}

// DefaultPath returns ~/.loco/config.yaml, or empty when the home directory
// cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".loco", "config.yaml")
}

// DefaultSessionDir returns ~/.loco/sessions.
func DefaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".loco-sessions"
	}
	return filepath.Join(home, ".loco", "sessions")
}

// Load reads configuration from path (DefaultPath when empty), then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("LOCO_CONFIG")
	}
	if path == "" {
		path = DefaultPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fine, run on defaults and env
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.SessionDir == "" {
		cfg.SessionDir = DefaultSessionDir()
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.APIKey, "OPENAI_API_KEY")
	setString(&cfg.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Model, "OPENAI_MODEL")
	setString(&cfg.WorkingDir, "LOCO_WORKING_DIR")
	setString(&cfg.DocsRoot, "LOCO_DOCS_ROOT")
	setString(&cfg.SessionDir, "LOCO_SESSION_DIR")
	setString(&cfg.LogLevel, "LOCO_LOG_LEVEL")
	setInt(&cfg.MaxIterations, "LOCO_MAX_ITERATIONS")
	setInt(&cfg.MaxContextTokens, "LOCO_MAX_CONTEXT_TOKENS")

	if v := os.Getenv("LOCO_RISK_DISABLED"); v == "1" || v == "true" {
		cfg.Risk.Enabled = false
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// Validate checks the fields a run cannot proceed without.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: API key missing; set OPENAI_API_KEY or api_key in %s", DefaultPath())
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("config: max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.MaxContextTokens < 1 {
		return fmt.Errorf("config: max_context_tokens must be positive, got %d", c.MaxContextTokens)
	}
	return nil
}
