// Package pipeline feeds schematic files to the generator one at a time,
// skipping inputs the ledger has already settled, and mirrors progress into
// the ledger and the event stream.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/starford/mira/internal/catalog"
	"github.com/starford/mira/internal/generator"
	"github.com/starford/mira/internal/ledger"
)

// Processor runs the validation loop.
type Processor interface {
	ProcessSchematic(ctx context.Context, path string) (generator.Report, error)
	Run(ctx context.Context, paths []string) (generator.BatchReport, error)
}

// Publisher receives progress events; satisfied by *sse.Broker.
type Publisher interface {
	PublishProgress(eventType string, data any)
}

// Summary is the outcome of a batch.
type Summary struct {
	generator.BatchReport
	Unchanged int `json:"unchanged"`
}

// Status is a point-in-time view of the worker.
type Status struct {
	Queued  int    `json:"queued"`
	Current string `json:"current,omitempty"`
}

// Pipeline is a single-worker queue in front of a Processor. The execution
// target is a singleton, so schematics never run concurrently.
type Pipeline struct {
	proc    Processor
	ledger  *ledger.DB
	catalog *catalog.Catalog
	pub     Publisher
	logger  *slog.Logger

	mu        sync.Mutex
	pending   []string
	queued    map[string]struct{}
	checksums map[string]string
	current   string
	active    context.Context
	notify    chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublisher streams progress events to pub.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.pub = pub }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a Pipeline. Wire Observe into the processor's event hook so
// samples and outcomes reach the ledger.
func New(proc Processor, db *ledger.DB, cat *catalog.Catalog, opts ...Option) *Pipeline {
	p := &Pipeline{
		proc:      proc,
		ledger:    db,
		catalog:   cat,
		logger:    slog.Default(),
		queued:    make(map[string]struct{}),
		checksums: make(map[string]string),
		notify:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe records a generator event. It is called synchronously from the
// generator and only does short ledger writes.
func (p *Pipeline) Observe(e generator.Event) {
	switch e.Type {
	case generator.EventSchematicStarted:
		p.setCurrent(e.Schematic)
	case generator.EventSampleCreated:
		err := p.ledger.RecordSample(ledger.SampleRow{
			ID:           e.SampleID,
			Schematic:    e.Schematic,
			Modification: e.Modification,
		})
		if err != nil {
			p.logger.Warn("pipeline: record sample failed", slog.String("id", e.SampleID), slog.String("error", err.Error()))
		}
	case generator.EventSchematicDone, generator.EventSchematicSkipped:
		p.setCurrent("")
		if e.Report == nil {
			break
		}
		if e.Type == generator.EventSchematicSkipped && p.cancelled() {
			p.interrupted(e.Schematic)
			break
		}
		if err := p.ledger.RecordOutcome(outcomeRow(*e.Report)); err != nil {
			p.logger.Warn("pipeline: record outcome failed", slog.String("path", e.Schematic), slog.String("error", err.Error()))
		}
	}
	if p.pub != nil {
		p.pub.PublishProgress(string(e.Type), e)
	}
}

func outcomeRow(r generator.Report) ledger.SchematicRow {
	status := ledger.StatusDone
	if r.Skipped {
		status = ledger.StatusSkipped
	}
	return ledger.SchematicRow{
		Path:         r.Path,
		Name:         r.Name,
		Status:       status,
		Records:      r.Records,
		Samples:      r.Samples,
		SlotsSkipped: r.SlotsSkipped,
		Attempts:     r.Attempts,
		Reason:       r.Reason,
		Duration:     r.Duration,
	}
}

// admit checks the ledger and registers path as pending. It returns false
// when the content has already been settled.
func (p *Pipeline) admit(path string) (bool, error) {
	entry, err := p.catalog.Stat(path)
	if err != nil {
		return false, err
	}
	same, err := p.ledger.Unchanged(path, entry.Checksum)
	if err != nil {
		return false, err
	}
	if same {
		p.logger.Debug("pipeline: unchanged, skipping", slog.String("path", path))
		return false, nil
	}
	if err := p.ledger.MarkPending(path, filepath.Base(path), entry.Checksum); err != nil {
		return false, err
	}
	p.mu.Lock()
	p.checksums[path] = entry.Checksum
	p.mu.Unlock()
	return true, nil
}

// interrupted resets a schematic that was cut short by cancellation so the
// next run picks it up again.
func (p *Pipeline) interrupted(path string) {
	p.mu.Lock()
	cs := p.checksums[path]
	p.mu.Unlock()
	if err := p.ledger.MarkPending(path, filepath.Base(path), cs); err != nil {
		p.logger.Warn("pipeline: reset interrupted failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// Batch processes every changed path and returns once all are done or ctx
// ends.
func (p *Pipeline) Batch(ctx context.Context, paths []string) (Summary, error) {
	var sum Summary
	var todo []string
	for _, path := range paths {
		ok, err := p.admit(path)
		if err != nil {
			p.logger.Warn("pipeline: admit failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		if !ok {
			sum.Unchanged++
			continue
		}
		todo = append(todo, path)
	}

	p.logger.Info("pipeline: batch starting",
		slog.Int("changed", len(todo)),
		slog.Int("unchanged", sum.Unchanged))

	release := p.activate(ctx)
	defer release()

	batch, err := p.proc.Run(ctx, todo)
	sum.BatchReport = batch
	return sum, err
}

// Process runs a single path through the ledger check and the processor.
// The boolean is false when the path was unchanged.
func (p *Pipeline) Process(ctx context.Context, path string) (generator.Report, bool, error) {
	ok, err := p.admit(path)
	if err != nil || !ok {
		return generator.Report{}, false, err
	}
	release := p.activate(ctx)
	defer release()

	rep, err := p.proc.ProcessSchematic(ctx, path)
	return rep, true, err
}

// activate makes ctx visible to Observe for the duration of a run.
func (p *Pipeline) activate(ctx context.Context) func() {
	p.mu.Lock()
	p.active = ctx
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.active = nil
		p.mu.Unlock()
	}
}

func (p *Pipeline) cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil && p.active.Err() != nil
}

// Enqueue schedules path for the worker. It returns false if path is
// already waiting.
func (p *Pipeline) Enqueue(path string) bool {
	p.mu.Lock()
	if _, ok := p.queued[path]; ok {
		p.mu.Unlock()
		return false
	}
	p.queued[path] = struct{}{}
	p.pending = append(p.pending, path)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

// Scan enqueues every file in the catalog.
func (p *Pipeline) Scan() (int, error) {
	entries, err := p.catalog.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if p.Enqueue(e.Path) {
			n++
		}
	}
	return n, nil
}

func (p *Pipeline) next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return "", false
	}
	path := p.pending[0]
	p.pending = p.pending[1:]
	delete(p.queued, path)
	return path, true
}

// Run drains the queue until ctx is cancelled, waiting for new work when
// it is empty.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline: worker started")
	for {
		for {
			path, ok := p.next()
			if !ok {
				break
			}
			if _, _, err := p.Process(ctx, path); err != nil {
				if ctx.Err() != nil {
					p.logger.Info("pipeline: worker stopped")
					return nil
				}
				p.logger.Warn("pipeline: process failed", slog.String("path", path), slog.String("error", err.Error()))
			}
		}
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline: worker stopped")
			return nil
		case <-p.notify:
		}
	}
}

// Status reports queue length and the schematic in flight.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{Queued: len(p.pending), Current: p.current}
}

func (p *Pipeline) setCurrent(path string) {
	p.mu.Lock()
	p.current = path
	p.mu.Unlock()
}
