package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/mira/internal"
	pkgconfig "github.com/starford/mira/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func generate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Bool("watch") {
		cfg.Input.Watch = true
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func deconstruct(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Deconstruct(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("deconstruct error: %w", err)
	}
	return nil
}

func inspect(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("inspect: schematic path is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		// Inspecting a file works without a config.
		cfg = internal.NewDefaultConfig()
	}
	return internal.Inspect(path, os.Stdout, internal.WithConfig(cfg))
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg))
}

func watchFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "watch",
		Usage: "Keep running and process new or changed schematics",
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "mira",
		Usage:  "Generate redstone circuit repair datasets from schematics",
		Action: generate,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			watchFlag(),
		},
		Commands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "Build, corrupt and verify every schematic and write repair samples",
				Flags:  []cli.Flag{watchFlag()},
				Action: generate,
			},
			{
				Name:   "deconstruct",
				Usage:  "Write the reverse-deconstruction dataset",
				Action: deconstruct,
			},
			{
				Name:      "inspect",
				Usage:     "Print metadata, bounds and block counts of a schematic",
				ArgsUsage: "<file>",
				Action:    inspect,
			},
			{
				Name:   "mcp",
				Usage:  "Serve dataset tools over MCP on stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
