package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/docgate/internal/guard"
	"github.com/starford/docgate/internal/models"
	pkgconfig "github.com/starford/docgate/pkg/config"
)

func TestNewDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Validation.DefaultTier() != models.Tier1 {
		t.Errorf("tier = %q, want %q", cfg.Validation.DefaultTier(), models.Tier1)
	}
	if cfg.Guards.Policy() != guard.PolicyAdvisory {
		t.Errorf("policy = %q, want ADVISORY", cfg.Guards.Policy())
	}
	if cfg.Guards.DuplicateWindow != 30*time.Second {
		t.Errorf("duplicate window = %s", cfg.Guards.DuplicateWindow)
	}
}

func TestSandboxConfig_RootRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sandbox.Root = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty sandbox root should fail")
	}
}

func TestRemoteConfig_EnabledNeedsPatternAndHosts(t *testing.T) {
	cfg := RemoteConfig{Enabled: true}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("enabled remote without url_pattern should fail")
	}
	if !strings.Contains(err.Error(), "cannot be blank") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.URLPattern = "https://templates.example.com/{id}/{version}.md"
	cfg.AllowedHosts = []string{"templates.example.com"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete remote config should pass: %v", err)
	}
}

func TestRemoteConfig_DisabledIgnoresPattern(t *testing.T) {
	cfg := RemoteConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled remote should pass: %v", err)
	}
}

func TestValidationConfig_UnknownTier(t *testing.T) {
	cfg := ValidationConfig{Tier: "TIER_9"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown tier should fail")
	}
	cfg.Tier = "tier_3"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("lowercase tier should pass: %v", err)
	}
	if cfg.DefaultTier() != models.Tier3 {
		t.Errorf("tier = %q, want TIER_3", cfg.DefaultTier())
	}
}

func TestGuardsConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig().Guards
	cfg.WorkflowPolicy = "lenient"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown policy should fail")
	}

	cfg = NewDefaultConfig().Guards
	cfg.RapidChangeWindow = time.Minute
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "rapid_change_window") {
		t.Fatalf("rapid window above duplicate window should fail, got %v", err)
	}

	cfg = NewDefaultConfig().Guards
	cfg.WorkflowPolicy = "strict"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("strict policy should pass: %v", err)
	}
	if cfg.Policy() != guard.PolicyStrict {
		t.Errorf("policy = %q, want STRICT", cfg.Policy())
	}
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	t.Setenv("DOCGATE_TEST_ROOT", "/srv/repo")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
sandbox:
  root: ${DOCGATE_TEST_ROOT}
remote:
  enabled: true
  url_pattern: https://templates.example.com/{id}/{version}.md
  allowed_hosts: [templates.example.com]
  timeout: 8s
validation:
  tier: TIER_2
guards:
  duplicate_window: 45s
  workflow_policy: STRICT
audit:
  sqlite_path: ./audit.db
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.LogLevel != slog.LevelDebug {
		t.Errorf("log level = %s, want DEBUG", cfg.App.LogLevel)
	}
	if cfg.Sandbox.Root != "/srv/repo" {
		t.Errorf("sandbox root = %q, want env-expanded /srv/repo", cfg.Sandbox.Root)
	}
	if cfg.Sandbox.Suffix != ".md" {
		t.Errorf("suffix default lost: %q", cfg.Sandbox.Suffix)
	}
	if cfg.Remote.Timeout != 8*time.Second {
		t.Errorf("remote timeout = %s, want 8s", cfg.Remote.Timeout)
	}
	if cfg.Remote.CacheTTL != 15*time.Minute {
		t.Errorf("cache ttl default lost: %s", cfg.Remote.CacheTTL)
	}
	if cfg.Validation.DefaultTier() != models.Tier2 {
		t.Errorf("tier = %q, want TIER_2", cfg.Validation.DefaultTier())
	}
	if cfg.Guards.DuplicateWindow != 45*time.Second {
		t.Errorf("duplicate window = %s, want 45s", cfg.Guards.DuplicateWindow)
	}
	if cfg.Guards.Policy() != guard.PolicyStrict {
		t.Errorf("policy = %q, want STRICT", cfg.Guards.Policy())
	}
	if cfg.Audit.SQLitePath != "./audit.db" {
		t.Errorf("audit path = %q", cfg.Audit.SQLitePath)
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("validation:\n  tier: TIER_7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	err := pkgconfig.Load(path, cfg)
	if err == nil || !strings.Contains(err.Error(), "config validation failed") {
		t.Fatalf("expected validation failure, got %v", err)
	}
}
