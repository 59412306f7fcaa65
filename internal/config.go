package internal

import (
	"errors"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/docgate/internal/guard"
	"github.com/starford/docgate/internal/models"
	"github.com/starford/docgate/internal/templates"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Sandbox    SandboxConfig     `yaml:"sandbox"`
	Templates  TemplatesConfig   `yaml:"templates"`
	Remote     RemoteConfig      `yaml:"remote"`
	Schema     SchemaConfig      `yaml:"schema"`
	Validation ValidationConfig  `yaml:"validation"`
	Guards     GuardsConfig      `yaml:"guards"`
	Audit      AuditConfig       `yaml:"audit"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Sandbox.Validate(); err != nil {
		return err
	}
	if err := c.Templates.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if err := c.Validation.Validate(); err != nil {
		return err
	}
	return c.Guards.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// SandboxConfig bounds where documents may be written.
type SandboxConfig struct {
	Root         string        `yaml:"root"`
	DocsRoot     string        `yaml:"docs_root"`
	Suffix       string        `yaml:"suffix"`
	WriteRetries int           `yaml:"write_retries"`
	WriteBackoff time.Duration `yaml:"write_backoff"`
}

// Validate validates the sandbox configuration.
func (c *SandboxConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Suffix, validation.Required, validation.Length(2, 16)),
		validation.Field(&c.WriteRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.WriteBackoff, validation.Min(time.Duration(0))),
	)
}

// TemplatesConfig holds the local template layers.
type TemplatesConfig struct {
	PrimaryDir   string `yaml:"primary_dir"`
	OverrideDir  string `yaml:"override_dir"`
	Suffix       string `yaml:"suffix"`
	ManifestPath string `yaml:"manifest_path"`
	Watch        bool   `yaml:"watch"`
}

// Validate validates the templates configuration.
func (c *TemplatesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PrimaryDir, validation.Required),
		validation.Field(&c.Suffix, validation.Required),
	)
}

// RemoteConfig holds the optional remote template host.
//
// The remote layer is consulted only after both local layers miss, and only
// for hosts listed in AllowedHosts. Timeout and Retries are clamped to
// [5s, 10s] and [0, 3] at fetch time.
type RemoteConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URLPattern   string        `yaml:"url_pattern"`
	AllowedHosts []string      `yaml:"allowed_hosts"`
	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
	Backoff      time.Duration `yaml:"backoff"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URLPattern, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.AllowedHosts, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.Retries, validation.Min(0)),
		validation.Field(&c.CacheTTL, validation.Min(time.Duration(0))),
	)
}

// SchemaConfig points at an optional catalog file replacing the built-in one.
type SchemaConfig struct {
	CatalogPath string `yaml:"catalog_path"`
}

// ValidationConfig holds validation defaults applied when a request leaves
// them unset.
type ValidationConfig struct {
	Tier    string `yaml:"tier"`
	AutoFix bool   `yaml:"auto_fix"`
	Preview bool   `yaml:"preview"`
}

// Validate validates the validation configuration.
func (c *ValidationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Tier, validation.By(func(any) error {
			_, err := models.ParseTier(c.Tier)
			return err
		})),
	)
}

// DefaultTier returns the parsed tier. Call after Validate.
func (c *ValidationConfig) DefaultTier() models.Tier {
	t, _ := models.ParseTier(c.Tier)
	return t
}

// GuardsConfig holds the duplicate and workflow guard windows.
type GuardsConfig struct {
	DuplicateWindow   time.Duration `yaml:"duplicate_window"`
	RapidChangeWindow time.Duration `yaml:"rapid_change_window"`
	WorkflowTTL       time.Duration `yaml:"workflow_ttl"`
	WorkflowPolicy    string        `yaml:"workflow_policy"`
}

// Validate validates the guards configuration.
func (c *GuardsConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.DuplicateWindow, validation.Required, validation.Min(time.Duration(0))),
		validation.Field(&c.RapidChangeWindow, validation.Min(time.Duration(0))),
		validation.Field(&c.WorkflowTTL, validation.Required, validation.Min(time.Duration(0))),
		validation.Field(&c.WorkflowPolicy, validation.By(func(any) error {
			_, err := guard.ParsePolicy(c.WorkflowPolicy)
			return err
		})),
	); err != nil {
		return err
	}
	if c.RapidChangeWindow > c.DuplicateWindow {
		return errors.New("guards: rapid_change_window must not exceed duplicate_window")
	}
	return nil
}

// Policy returns the parsed workflow policy. Call after Validate.
func (c *GuardsConfig) Policy() guard.Policy {
	p, _ := guard.ParsePolicy(c.WorkflowPolicy)
	return p
}

// AuditConfig holds the audit sink configuration. An empty SQLitePath keeps
// audit events in the log only.
type AuditConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Sandbox: SandboxConfig{
			Root:         ".",
			DocsRoot:     "docs",
			Suffix:       ".md",
			WriteRetries: 2,
			WriteBackoff: 50 * time.Millisecond,
		},
		Templates: TemplatesConfig{
			PrimaryDir:   "./templates",
			OverrideDir:  "./.docgate/templates",
			Suffix:       templates.DefaultSuffix,
			ManifestPath: "./templates/manifest.yaml",
		},
		Remote: RemoteConfig{
			Timeout:  templates.MinTimeout,
			Retries:  templates.MaxRetries,
			Backoff:  500 * time.Millisecond,
			CacheTTL: 15 * time.Minute,
		},
		Validation: ValidationConfig{
			Tier: string(models.Tier1),
		},
		Guards: GuardsConfig{
			DuplicateWindow:   guard.DefaultDuplicateWindow,
			RapidChangeWindow: guard.DefaultRapidChangeWindow,
			WorkflowTTL:       guard.DefaultWorkflowTTL,
			WorkflowPolicy:    string(guard.PolicyAdvisory),
		},
	}
}
