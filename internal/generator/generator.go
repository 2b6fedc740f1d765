// Package generator turns schematics into labelled repair samples by
// building, corrupting and verifying them on an execution target.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/corrupt"
	"github.com/starford/mira/internal/dataset"
	"github.com/starford/mira/internal/deconstruct"
	"github.com/starford/mira/internal/oracle"
	"github.com/starford/mira/internal/replicate"
	"github.com/starford/mira/internal/structure"
	"github.com/starford/mira/internal/verify"
)

// ErrGoldenFailed means the unmodified schematic failed its own contract.
var ErrGoldenFailed = errors.New("golden run failed")

// Builder materialises records on the target.
type Builder interface {
	Replicate(ctx context.Context, records []structure.Record, origin structure.Position, bounds structure.Box, opts replicate.Options) error
}

// Verifier runs a contract against the target.
type Verifier interface {
	Run(ctx context.Context, contract string, origin structure.Position) error
}

// Corrupter injects a fault into a copy of records.
type Corrupter interface {
	Corrupt(records []structure.Record) ([]structure.Record, []corrupt.Modification)
}

// Loader reads a schematic file.
type Loader func(path string) (*structure.Schematic, error)

// Config tunes generation.
type Config struct {
	Origin              structure.Position
	SamplesPerSchematic int
	RetryBudget         int
	Build               replicate.Options
	Resolver            structure.AttachmentResolver
}

// Deps are the collaborators of a Generator.
type Deps struct {
	Load      Loader
	Oracle    oracle.Oracle
	Builder   Builder
	Verifier  Verifier
	Corrupter Corrupter
	Planner   *deconstruct.Planner
	Sink      dataset.Sink
	Logger    *slog.Logger
	// OnEvent, if set, observes progress. It must not block.
	OnEvent func(Event)
}

// Generator drives one schematic at a time against a single target.
type Generator struct {
	cfg   Config
	deps  Deps
	newID func() string
	now   func() time.Time
}

// New creates a Generator.
func New(deps Deps, cfg Config) *Generator {
	if cfg.SamplesPerSchematic <= 0 {
		cfg.SamplesPerSchematic = 1
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 5
	}
	if cfg.Resolver == nil {
		cfg.Resolver = structure.LocalThenAnchored
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Planner == nil {
		deps.Planner = deconstruct.NewPlanner(nil, deps.Logger)
	}
	return &Generator{cfg: cfg, deps: deps, newID: uuid.NewString, now: time.Now}
}

// Report summarises one schematic.
type Report struct {
	Path         string        `json:"path"`
	Name         string        `json:"name"`
	Records      int           `json:"records"`
	Samples      int           `json:"samples"`
	SlotsSkipped int           `json:"slots_skipped"`
	Attempts     int           `json:"attempts"`
	Skipped      bool          `json:"skipped"`
	Reason       string        `json:"reason,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// BatchReport summarises a run over many schematics.
type BatchReport struct {
	Schematics        int      `json:"schematics"`
	SchematicsSkipped int      `json:"schematics_skipped"`
	Samples           int      `json:"samples"`
	SlotsSkipped      int      `json:"slots_skipped"`
	Reports           []Report `json:"reports"`
}

// Add folds r into the batch totals.
func (b *BatchReport) Add(r Report) {
	b.Reports = append(b.Reports, r)
	if r.Skipped {
		b.SchematicsSkipped++
	} else {
		b.Schematics++
	}
	b.Samples += r.Samples
	b.SlotsSkipped += r.SlotsSkipped
}

// loaded is a parsed schematic.
type loaded struct {
	meta    structure.Metadata
	records []structure.Record
	bounds  structure.Box
}

func (g *Generator) load(path string) (loaded, error) {
	s, err := g.deps.Load(path)
	if err != nil {
		return loaded{}, fmt.Errorf("generator: load %s: %w", path, err)
	}
	records, meta, err := structure.Parse(s, structure.WithResolver(g.cfg.Resolver))
	if err != nil {
		return loaded{}, fmt.Errorf("generator: parse %s: %w", path, err)
	}
	bounds, err := structure.Bounds(s)
	if err != nil {
		return loaded{}, fmt.Errorf("generator: bounds %s: %w", path, err)
	}
	if meta.Name == "" {
		meta.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return loaded{meta: meta, records: records, bounds: bounds}, nil
}

// ProcessSchematic runs the golden check and fills every sample slot it
// can. A non-nil error means the schematic was skipped; the report still
// describes how far it got.
func (g *Generator) ProcessSchematic(ctx context.Context, path string) (Report, error) {
	start := g.now()
	rep := Report{Path: path, Name: filepath.Base(path)}
	g.emit(Event{Type: EventSchematicStarted, Schematic: path})

	err := g.process(ctx, path, &rep)
	rep.Duration = g.now().Sub(start)
	if err != nil {
		rep.Skipped = true
		rep.Reason = err.Error()
		g.deps.Logger.Warn("generator: schematic skipped", slog.String("path", path), slog.String("error", err.Error()))
		g.emit(Event{Type: EventSchematicSkipped, Schematic: path, Report: &rep})
		return rep, err
	}
	g.deps.Logger.Info("generator: schematic done",
		slog.String("path", path),
		slog.Int("samples", rep.Samples),
		slog.Int("slots_skipped", rep.SlotsSkipped),
		slog.Duration("duration", rep.Duration),
	)
	g.emit(Event{Type: EventSchematicDone, Schematic: path, Report: &rep})
	return rep, nil
}

func (g *Generator) process(ctx context.Context, path string, rep *Report) error {
	l, err := g.load(path)
	if err != nil {
		return err
	}
	rep.Name = l.meta.Name
	rep.Records = len(l.records)

	contract, err := g.deps.Oracle.GenerateContract(ctx, l.meta, l.records)
	if err != nil {
		return fmt.Errorf("generator: contract: %w", err)
	}
	if err := verify.Check(contract.Script); err != nil {
		return fmt.Errorf("generator: %s: %w: %v", l.meta.Name, ErrGoldenFailed, err)
	}

	origin := g.cfg.Origin
	if err := g.deps.Builder.Replicate(ctx, l.records, origin, l.bounds, g.cfg.Build); err != nil {
		return fmt.Errorf("generator: golden build: %w", err)
	}
	if err := g.deps.Verifier.Run(ctx, contract.Script, origin); err != nil {
		if errors.Is(err, apperr.ErrVerification) {
			return fmt.Errorf("generator: %s: %w: %s", l.meta.Name, ErrGoldenFailed, verify.Reason(err))
		}
		return fmt.Errorf("generator: golden verify: %w", err)
	}

	repaired := structure.Describe(l.records)
	for slot := 0; slot < g.cfg.SamplesPerSchematic; slot++ {
		sample, attempts, err := g.fillSlot(ctx, l, contract.Script, repaired)
		rep.Attempts += attempts
		if err != nil {
			return err
		}
		if sample == nil {
			rep.SlotsSkipped++
			g.deps.Logger.Debug("generator: slot skipped", slog.String("path", path), slog.Int("slot", slot))
			continue
		}
		if err := g.deps.Sink.Append(sample); err != nil {
			return fmt.Errorf("generator: write sample: %w", err)
		}
		rep.Samples++
		g.emit(Event{Type: EventSampleCreated, Schematic: path, SampleID: sample.ID, Modification: sample.Modification[0].Type})
	}
	return nil
}

// fillSlot retries corruption until the contract detects the fault. It
// returns a nil sample when the budget runs out.
func (g *Generator) fillSlot(ctx context.Context, l loaded, contract, repaired string) (*dataset.Sample, int, error) {
	origin := g.cfg.Origin
	for attempt := 1; attempt <= g.cfg.RetryBudget; attempt++ {
		broken, mods := g.deps.Corrupter.Corrupt(l.records)
		if len(mods) == 0 {
			continue
		}
		if err := g.deps.Builder.Replicate(ctx, broken, origin, l.bounds, g.cfg.Build); err != nil {
			return nil, attempt, fmt.Errorf("generator: corrupted build: %w", err)
		}
		err := g.deps.Verifier.Run(ctx, contract, origin)
		if err == nil {
			g.deps.Logger.Debug("generator: corruption not detected", slog.String("modification", mods[0].String()))
			continue
		}
		if !errors.Is(err, apperr.ErrVerification) {
			return nil, attempt, fmt.Errorf("generator: verify: %w", err)
		}

		failure := verify.Reason(err)
		brokenText := structure.Describe(broken)
		ctxText := contextText(l.meta, len(l.records))
		reasoning, err := g.deps.Oracle.Explain(ctx, oracle.ExplainRequest{
			Context:      ctxText,
			Modification: mods[0].String(),
			Failure:      failure,
			Broken:       brokenText,
			Repaired:     repaired,
		})
		if err != nil {
			return nil, attempt, fmt.Errorf("generator: explain: %w", err)
		}
		return &dataset.Sample{
			ID:           g.newID(),
			Schematic:    l.meta.Name,
			CreatedAt:    g.now().UTC(),
			Context:      ctxText,
			Contract:     contract,
			Broken:       brokenText,
			Failure:      failure,
			Repaired:     repaired,
			Reasoning:    reasoning,
			Modification: mods,
		}, attempt, nil
	}
	return nil, g.cfg.RetryBudget, nil
}

func contextText(meta structure.Metadata, records int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Schematic: %s\n", meta.Name)
	if meta.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", meta.Author)
	}
	if meta.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", meta.Description)
	}
	fmt.Fprintf(&b, "Blocks: %d", records)
	return b.String()
}

// Run processes paths in order. Failures are per schematic; only context
// cancellation stops the batch.
func (g *Generator) Run(ctx context.Context, paths []string) (BatchReport, error) {
	var batch BatchReport
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		rep, err := g.ProcessSchematic(ctx, p)
		if err != nil && ctx.Err() != nil {
			return batch, ctx.Err()
		}
		batch.Add(rep)
	}
	return batch, nil
}

// Deconstruct writes the reverse-deconstruction record of a schematic.
func (g *Generator) Deconstruct(ctx context.Context, path string) (dataset.Reverse, error) {
	l, err := g.load(path)
	if err != nil {
		return dataset.Reverse{}, err
	}
	contract, err := g.deps.Oracle.GenerateContract(ctx, l.meta, l.records)
	if err != nil {
		return dataset.Reverse{}, fmt.Errorf("generator: contract: %w", err)
	}
	steps, err := g.deps.Planner.Plan(ctx, l.records)
	if err != nil {
		return dataset.Reverse{}, fmt.Errorf("generator: plan %s: %w", path, err)
	}
	rev := dataset.Reverse{
		SchematicID: l.meta.Name,
		Status:      "success",
		Data: dataset.ReverseData{
			Metadata:            l.meta,
			ContractPrompt:      contract.Prompt,
			VerifyContract:      contract.Script,
			DeconstructionSteps: steps,
			BuildSteps:          deconstruct.BuildSteps(steps),
		},
	}
	if err := g.deps.Sink.Append(rev); err != nil {
		return rev, fmt.Errorf("generator: write reverse record: %w", err)
	}
	return rev, nil
}

// DeconstructAll runs Deconstruct over paths, skipping failures.
func (g *Generator) DeconstructAll(ctx context.Context, paths []string) (done, failed int, err error) {
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return done, failed, err
		}
		if _, err := g.Deconstruct(ctx, p); err != nil {
			failed++
			g.deps.Logger.Warn("generator: deconstruct failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		done++
	}
	return done, failed, nil
}

func (g *Generator) emit(e Event) {
	if g.deps.OnEvent != nil {
		g.deps.OnEvent(e)
	}
}
