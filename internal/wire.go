package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	slogmulti "github.com/samber/slog-multi"

	"github.com/starford/mira/internal/catalog"
	"github.com/starford/mira/internal/corrupt"
	"github.com/starford/mira/internal/dataset"
	"github.com/starford/mira/internal/deconstruct"
	"github.com/starford/mira/internal/generator"
	"github.com/starford/mira/internal/oracle"
	"github.com/starford/mira/internal/replicate"
	"github.com/starford/mira/internal/schematic"
	"github.com/starford/mira/internal/simtarget"
	"github.com/starford/mira/internal/structure"
	"github.com/starford/mira/internal/transport"
	"github.com/starford/mira/internal/verify"
)

var errConfigRequired = errors.New("config is required")

// newLogger builds the JSON logger, fanning out to app.log_file when set.
// The returned func closes the log file.
func newLogger(cfg *Config, out io.Writer) (*slog.Logger, func(), error) {
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.App.LogLevel}
	handler := slog.Handler(slog.NewJSONHandler(out, opts))
	closer := func() {}

	if cfg.App.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.App.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.App.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handler = slogmulti.Fanout(handler, slog.NewJSONHandler(f, opts))
		closer = func() { _ = f.Close() }
	}
	return slog.New(handler), closer, nil
}

func newCatalog(cfg *Config) (*catalog.Catalog, error) {
	if err := os.MkdirAll(cfg.Input.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create input dir: %w", err)
	}
	cat, err := catalog.New(cfg.Input.Dir, cfg.Input.Extensions)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	return cat, nil
}

func newTarget(cfg *TargetConfig) transport.Conn {
	if cfg.Mode == TargetModeRCON {
		return transport.NewRCON(cfg.Address, cfg.Password, cfg.Timeout)
	}
	return simtarget.New()
}

func newOracle(ctx context.Context, cfg *OracleConfig) (oracle.Oracle, error) {
	if cfg.Mode == OracleModeGenAI {
		return oracle.NewGenAI(ctx, cfg.APIKey, cfg.Model)
	}
	return oracle.Mock{}, nil
}

// newProposer selects how removal layers are chosen.
func newProposer(cfg *GeneratorConfig, orc oracle.Oracle) deconstruct.Proposer {
	if cfg.Planner == PlannerOracle {
		return deconstruct.OracleProposer{Oracle: orc}
	}
	return deconstruct.TierProposer{Classifier: deconstruct.DefaultClassifier}
}

// buildOptions maps target pacing onto replication options.
func buildOptions(cfg *TargetConfig) replicate.Options {
	opts := replicate.DefaultOptions()
	opts.OpsPerTick = cfg.OpsPerTick
	opts.MaxAttempts = cfg.MaxAttempts
	opts.UseUpdates = cfg.UseUpdates
	opts.ForceUpdate = cfg.ForceUpdate
	if cfg.TickLength > 0 {
		opts.TickInterval = cfg.TickLength
	}
	opts.SettleDelay = time.Duration(cfg.SettleTicks) * opts.TickInterval
	if cfg.Mode == TargetModeSim {
		opts.TickInterval = 0
		opts.SettleDelay = 0
		opts.Backoff = 0
	}
	return opts
}

// newRand seeds corruption; seed zero draws a fresh seed.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// stack is the generation machinery shared by the commands.
type stack struct {
	conn      transport.Conn
	generator *generator.Generator
}

// newStack connects to the target and assembles a generator writing to sink.
// onEvent may be nil.
func newStack(ctx context.Context, cfg *Config, sink dataset.Sink, logger *slog.Logger, onEvent func(generator.Event)) (*stack, error) {
	resolver, err := structure.ResolverByName(cfg.Generator.Resolver)
	if err != nil {
		return nil, err
	}
	orc, err := newOracle(ctx, &cfg.Oracle)
	if err != nil {
		return nil, fmt.Errorf("init oracle: %w", err)
	}

	conn := newTarget(&cfg.Target)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect target: %w", err)
	}

	tickLength := cfg.Target.TickLength
	if cfg.Target.Mode == TargetModeSim {
		tickLength = 0
	}

	gen := generator.New(generator.Deps{
		Load:      schematic.Load,
		Oracle:    orc,
		Builder:   replicate.NewEngine(conn, replicate.WithLogger(logger)),
		Verifier:  verify.NewRunner(conn, verify.WithLogger(logger), verify.WithTickDuration(tickLength)),
		Corrupter: corrupt.NewEngine(newRand(cfg.Generator.Seed)),
		Planner:   deconstruct.NewPlanner(newProposer(&cfg.Generator, orc), logger),
		Sink:      sink,
		Logger:    logger,
		OnEvent:   onEvent,
	}, generator.Config{
		Origin:              cfg.Target.OriginPos(),
		SamplesPerSchematic: cfg.Generator.SamplesPerSchematic,
		RetryBudget:         cfg.Generator.RetryBudget,
		Build:               buildOptions(&cfg.Target),
		Resolver:            resolver,
	})
	return &stack{conn: conn, generator: gen}, nil
}

func (s *stack) Close() error {
	return s.conn.Close()
}
