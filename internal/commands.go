package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/starford/mira/internal/catalog"
	"github.com/starford/mira/internal/dataset"
	"github.com/starford/mira/internal/deconstruct"
	"github.com/starford/mira/internal/generator"
	"github.com/starford/mira/internal/ledger"
	"github.com/starford/mira/internal/mcpserver"
	"github.com/starford/mira/internal/pipeline"
	"github.com/starford/mira/internal/schematic"
	"github.com/starford/mira/internal/structure"
)

// Deconstruct writes the reverse-deconstruction dataset for every schematic
// in the input directory. It needs no execution target.
func Deconstruct(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closeLog, err := newLogger(cfg, app.logOut)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	cat, err := newCatalog(cfg)
	if err != nil {
		return err
	}
	entries, err := cat.List()
	if err != nil {
		return fmt.Errorf("list inputs: %w", err)
	}

	resolver, err := structure.ResolverByName(cfg.Generator.Resolver)
	if err != nil {
		return err
	}
	orc, err := newOracle(ctx, &cfg.Oracle)
	if err != nil {
		return fmt.Errorf("init oracle: %w", err)
	}
	out, err := dataset.Open(cfg.Output.DeconstructionPath)
	if err != nil {
		return fmt.Errorf("init dataset: %w", err)
	}
	defer out.Close()

	gen := generator.New(generator.Deps{
		Load:    schematic.Load,
		Oracle:  orc,
		Planner: deconstruct.NewPlanner(newProposer(&cfg.Generator, orc), logger),
		Sink:    out,
		Logger:  logger,
	}, generator.Config{Resolver: resolver})

	done, failed, err := gen.DeconstructAll(ctx, catalog.Paths(entries))
	logger.Info("Deconstruction finished",
		slog.Int("done", done),
		slog.Int("failed", failed),
		slog.String("output", out.Path()))
	return err
}

// Inspect writes the summary of one schematic file to w as JSON.
func Inspect(path string, w io.Writer, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	resolver, err := structure.ResolverByName(app.config.Generator.Resolver)
	if err != nil {
		return err
	}
	sum, _, err := schematic.Inspect(path, structure.WithResolver(resolver))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

// ServeMCP runs the MCP server on stdin/stdout. Schematics added through
// it are generated by a background worker. Logs go to stderr because
// stdout carries the protocol.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closeLog, err := newLogger(cfg, app.logOut)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	cat, err := newCatalog(cfg)
	if err != nil {
		return err
	}
	db, err := ledger.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	defer db.Close()

	out, err := dataset.Open(cfg.Output.Path)
	if err != nil {
		return fmt.Errorf("init dataset: %w", err)
	}
	defer out.Close()

	var pl *pipeline.Pipeline
	st, err := newStack(ctx, cfg, out, logger, func(e generator.Event) { pl.Observe(e) })
	if err != nil {
		return err
	}
	defer st.Close()
	pl = pipeline.New(st.generator, db, cat, pipeline.WithLogger(logger))

	resolver, err := structure.ResolverByName(cfg.Generator.Resolver)
	if err != nil {
		return err
	}
	srv := mcpserver.New(cat, db,
		mcpserver.WithQueue(pl),
		mcpserver.WithResolver(resolver),
		mcpserver.WithLogger(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return pl.Run(gCtx) })
	g.Go(func() error {
		defer cancel()
		logger.Info("Starting MCP server on stdio")
		if err := srv.ServeStdio(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})
	return g.Wait()
}
