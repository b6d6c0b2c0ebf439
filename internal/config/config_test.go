package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv blanks every override this package reads so host settings cannot
// leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LOCO_CONFIG", "OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
		"LOCO_WORKING_DIR", "LOCO_DOCS_ROOT", "LOCO_SESSION_DIR", "LOCO_LOG_LEVEL",
		"LOCO_MAX_ITERATIONS", "LOCO_MAX_CONTEXT_TOKENS", "LOCO_RISK_DISABLED",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOCO_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != DefaultModel {
		t.Fatalf("Model = %q, want %q", cfg.Model, DefaultModel)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.MaxIterations != DefaultMaxIterations || cfg.MaxContextTokens != DefaultMaxContextTokens {
		t.Fatalf("budgets = %d/%d", cfg.MaxIterations, cfg.MaxContextTokens)
	}
	if !cfg.Risk.Enabled || cfg.Risk.ApprovalThreshold != "high" {
		t.Fatalf("risk defaults = %+v", cfg.Risk)
	}
	if cfg.SessionDir == "" {
		t.Fatalf("SessionDir not defaulted")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.Join([]string{
		"api_key: sk-test",
		"model: gpt-4o-mini",
		"max_iterations: 12",
		"docs_root: ./docs",
		"risk:",
		"  enabled: true",
		"  approval_threshold: medium",
		"  allow_patterns:",
		"    - '^go test'",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "sk-test" || cfg.Model != "gpt-4o-mini" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MaxIterations != 12 {
		t.Fatalf("MaxIterations = %d", cfg.MaxIterations)
	}
	if cfg.Risk.ApprovalThreshold != "medium" || len(cfg.Risk.AllowPatterns) != 1 {
		t.Fatalf("risk = %+v", cfg.Risk)
	}
	// Unset file fields keep their defaults.
	if cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("BaseURL = %q", cfg.BaseURL)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("model: from-file\napi_key: file-key\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OPENAI_MODEL", "from-env")
	t.Setenv("LOCO_MAX_ITERATIONS", "7")
	t.Setenv("LOCO_RISK_DISABLED", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "from-env" {
		t.Fatalf("Model = %q, env must beat the file", cfg.Model)
	}
	if cfg.APIKey != "file-key" {
		t.Fatalf("APIKey = %q, file value must survive without an env override", cfg.APIKey)
	}
	if cfg.MaxIterations != 7 {
		t.Fatalf("MaxIterations = %d", cfg.MaxIterations)
	}
	if cfg.Risk.Enabled {
		t.Fatalf("risk still enabled despite LOCO_RISK_DISABLED")
	}
}

func TestLoadIgnoresBadIntEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOCO_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("LOCO_MAX_ITERATIONS", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxIterations != DefaultMaxIterations {
		t.Fatalf("MaxIterations = %d, want default on a bad env value", cfg.MaxIterations)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("model: [unclosed\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load accepted malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	cfg := defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate passed without an API key")
	}

	cfg.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg.MaxIterations = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate passed with zero max_iterations")
	}
}
