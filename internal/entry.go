// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/docgate/internal/mcpserver"
)

// Run serves the MCP tools over stdio until the input closes, ctx is
// cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	if app.stdin == nil {
		app.stdin = os.Stdin
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}

	cfg := app.config

	logger := NewLogger(cfg, app.logOutput)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("sandbox_root", cfg.Sandbox.Root),
		slog.String("templates_dir", cfg.Templates.PrimaryDir),
		slog.Bool("remote_enabled", cfg.Remote.Enabled),
		slog.String("audit_path", cfg.Audit.SQLitePath),
		slog.String("workflow_policy", cfg.Guards.WorkflowPolicy),
		slog.String("log_level", cfg.App.LogLevel.String()))

	comp, err := Build(cfg, logger, app.clock)
	if err != nil {
		return err
	}
	defer comp.Close()

	srvOpts := mcpserver.Options{
		Version:     app.version,
		TemplateIDs: comp.Source.IDs,
		AutoFix:     cfg.Validation.AutoFix,
		Preview:     cfg.Validation.Preview,
	}
	if comp.Audit != nil {
		srvOpts.Events = comp.Audit
	}
	srv := mcpserver.New(comp.Enforcer, srvOpts)

	g, gCtx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gCtx)
	defer stop()

	if cfg.Templates.Watch {
		g.Go(func() error {
			if err := comp.Source.Watch(runCtx); err != nil {
				logger.Warn("template watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Periodic eviction keeps the guard maps bounded between calls.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Guards.DuplicateWindow)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return nil
			case <-ticker.C:
				stats := comp.Enforcer.Cleanup(0)
				if stats.Duplicates+stats.Workflow > 0 {
					logger.Debug("guards cleaned",
						slog.Int("duplicates", stats.Duplicates),
						slog.Int("workflow", stats.Workflow))
				}
			}
		}
	})

	g.Go(func() error {
		defer stop()
		logger.Info("Serving MCP over stdio")
		if err := srv.Serve(runCtx, app.stdin, app.stdout); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-runCtx.Done():
		}
		stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
