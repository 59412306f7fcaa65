package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/starford/docgate/internal/audit"
	"github.com/starford/docgate/internal/clock"
	"github.com/starford/docgate/internal/enforcer"
	"github.com/starford/docgate/internal/schema"
	"github.com/starford/docgate/internal/storage"
	"github.com/starford/docgate/internal/templates"
)

// Components is the wired object graph shared by the CLI and the MCP server.
type Components struct {
	Config   *Config
	Logger   *slog.Logger
	Source   *templates.Source
	Remote   *templates.Remote // nil when remote.enabled is false
	Catalog  *schema.Catalog
	Writer   *storage.Writer
	Audit    *audit.SQLite // nil when audit.sqlite_path is empty
	Enforcer *enforcer.Enforcer
}

// NewLogger returns the JSON logger configured for cfg.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// Build wires every component from cfg. The caller must Close the result.
func Build(cfg *Config, logger *slog.Logger, c clock.Clock) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c = clock.Or(c)
	comp := &Components{Config: cfg, Logger: logger}

	if err := os.MkdirAll(cfg.Sandbox.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}

	src, err := templates.NewSource(templates.Options{
		PrimaryDir:   cfg.Templates.PrimaryDir,
		OverrideDir:  cfg.Templates.OverrideDir,
		Suffix:       cfg.Templates.Suffix,
		ManifestPath: cfg.Templates.ManifestPath,
		Clock:        c,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init templates: %w", err)
	}
	comp.Source = src

	if cfg.Remote.Enabled {
		comp.Remote = templates.NewRemote(templates.RemoteOptions{
			URLPattern:   cfg.Remote.URLPattern,
			AllowedHosts: cfg.Remote.AllowedHosts,
			Timeout:      cfg.Remote.Timeout,
			Retries:      cfg.Remote.Retries,
			Backoff:      cfg.Remote.Backoff,
			CacheTTL:     cfg.Remote.CacheTTL,
			Clock:        c,
			Logger:       logger,
		}, src.ManifestFunc())
		src.SetRemote(comp.Remote)
	}

	cat, err := schema.LoadCatalog(cfg.Schema.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("init schema catalog: %w", err)
	}
	comp.Catalog = cat

	w, err := storage.NewWriter(storage.WriterOptions{
		Root:     cfg.Sandbox.Root,
		DocsRoot: cfg.Sandbox.DocsRoot,
		Suffix:   cfg.Sandbox.Suffix,
		Retries:  cfg.Sandbox.WriteRetries,
		Backoff:  cfg.Sandbox.WriteBackoff,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init writer: %w", err)
	}
	comp.Writer = w

	var sink audit.Sink = audit.Log{Logger: logger}
	if cfg.Audit.SQLitePath != "" {
		db, err := audit.OpenSQLite(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init audit: %w", err)
		}
		comp.Audit = db
		sink = audit.Multi{audit.Log{Logger: logger}, db}
	}

	enf, err := enforcer.New(enforcer.Options{
		Templates: src,
		Catalog:   comp.Catalog,
		Writer:    w,
		Sink:      sink,
		Tier:      cfg.Validation.DefaultTier(),
		Policy:    cfg.Guards.Policy(),
		Guards: enforcer.GuardOptions{
			DuplicateWindow:   cfg.Guards.DuplicateWindow,
			RapidChangeWindow: cfg.Guards.RapidChangeWindow,
			WorkflowTTL:       cfg.Guards.WorkflowTTL,
		},
		Clock:  c,
		Logger: logger,
	})
	if err != nil {
		comp.Close()
		return nil, fmt.Errorf("init enforcer: %w", err)
	}
	comp.Enforcer = enf
	return comp, nil
}

// Close releases the audit database, if any.
func (c *Components) Close() error {
	if c.Audit != nil {
		return c.Audit.Close()
	}
	return nil
}
