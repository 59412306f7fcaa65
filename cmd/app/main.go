package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/docgate/internal"
	"github.com/starford/docgate/internal/enforcer"
	"github.com/starford/docgate/internal/models"
	pkgconfig "github.com/starford/docgate/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func buildComponents(cmd *cli.Command) (*internal.Components, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return internal.Build(cfg, internal.NewLogger(cfg, os.Stderr), nil)
}

func readContent(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return string(data), nil
}

// request builds an enforcement request from the shared flags, falling back
// to the validation defaults from the config.
func request(cmd *cli.Command, cfg *internal.Config) (enforcer.Request, error) {
	content, err := readContent(cmd.Args().First())
	if err != nil {
		return enforcer.Request{}, err
	}
	tier := cfg.Validation.DefaultTier()
	if s := cmd.String("tier"); s != "" {
		if tier, err = models.ParseTier(s); err != nil {
			return enforcer.Request{}, err
		}
	}
	return enforcer.Request{
		TemplateID:      cmd.String("template"),
		TemplateVersion: cmd.String("template-version"),
		Target:          cmd.String("target"),
		Content:         content,
		Tier:            tier,
		AutoFix:         cmd.Bool("fix") || cfg.Validation.AutoFix,
		Preview:         cmd.Bool("preview") || cfg.Validation.Preview,
	}, nil
}

func printResult(res *enforcer.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return cli.Exit(fmt.Sprintf("%s: %s", res.Kind, res.Reason), 2)
	}
	return nil
}

func runValidate(ctx context.Context, cmd *cli.Command) error {
	comp, err := buildComponents(cmd)
	if err != nil {
		return err
	}
	defer comp.Close()

	req, err := request(cmd, comp.Config)
	if err != nil {
		return err
	}
	req.DryRun = true
	return printResult(comp.Enforcer.Enforce(ctx, req))
}

func runWrite(ctx context.Context, cmd *cli.Command) error {
	comp, err := buildComponents(cmd)
	if err != nil {
		return err
	}
	defer comp.Close()

	req, err := request(cmd, comp.Config)
	if err != nil {
		return err
	}
	if req.Target == "" {
		return cli.Exit("--target is required", 1)
	}
	if cmd.Bool("generated") {
		if _, err := comp.Enforcer.MarkGenerated(req.Target, req.TemplateID); err != nil {
			return err
		}
	}
	return printResult(comp.Enforcer.Enforce(ctx, req))
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func documentFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "template",
			Aliases:  []string{"t"},
			Usage:    "Template id, e.g. api or readme",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "template-version",
			Usage: "Pinned template version (required for remote templates)",
		},
		&cli.StringFlag{
			Name:  "tier",
			Usage: "Strictness tier: TIER_1, TIER_2 or TIER_3 (default from config)",
		},
		&cli.BoolFlag{
			Name:  "fix",
			Usage: "Repair what can be repaired before validating",
		},
		&cli.BoolFlag{
			Name:  "preview",
			Usage: "With --fix, print the diff instead of applying it",
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "docgate",
		Usage:   "Validate generated documentation against templates and write it safely",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Validate a document without writing it",
				ArgsUsage: "[FILE|-]",
				Flags:     documentFlags(),
				Action:    runValidate,
			},
			{
				Name:      "write",
				Usage:     "Validate a document and write it inside the sandbox",
				ArgsUsage: "[FILE|-]",
				Flags: append(documentFlags(),
					&cli.StringFlag{
						Name:  "target",
						Usage: "Destination path relative to the sandbox root",
					},
					&cli.BoolFlag{
						Name:  "generated",
						Usage: "Record a generation marker for the target before writing",
					},
				),
				Action: runWrite,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the docgate tools over MCP stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
