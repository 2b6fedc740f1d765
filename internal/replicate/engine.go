// Package replicate materialises a record set on a live execution target.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/structure"
	"github.com/starford/mira/internal/transport"
)

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options tune a single replication.
type Options struct {
	// OpsPerTick is how many commands are sent before pausing TickInterval.
	OpsPerTick   int
	MaxAttempts  int
	TickInterval time.Duration
	// UseUpdates enables neighbour updates while blocks are placed.
	UseUpdates  bool
	ForceUpdate bool
	// SettleDelay is waited after clearing, before placement starts.
	SettleDelay time.Duration
	// Backoff is multiplied by the attempt number before each reconnect.
	Backoff time.Duration
}

// DefaultOptions returns the production pacing.
func DefaultOptions() Options {
	return Options{
		OpsPerTick:   64,
		MaxAttempts:  3,
		TickInterval: 50 * time.Millisecond,
		SettleDelay:  time.Second,
		Backoff:      time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.OpsPerTick <= 0 {
		o.OpsPerTick = d.OpsPerTick
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.TickInterval < 0 {
		o.TickInterval = 0
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	return o
}

// Engine sends build programs to one target connection.
type Engine struct {
	conn   transport.Conn
	logger *slog.Logger
	sleep  Sleeper
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSleeper replaces the wall-clock sleeper.
func WithSleeper(s Sleeper) EngineOption {
	return func(e *Engine) { e.sleep = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine over conn.
func NewEngine(conn transport.Conn, opts ...EngineOption) *Engine {
	e := &Engine{conn: conn, logger: slog.Default(), sleep: ContextSleep}
	for _, o := range opts {
		o(e)
	}
	return e
}

// entityStripKeys are position, identity and physics fields the summon
// command sets itself.
var entityStripKeys = []string{"Pos", "UUID", "OnGround", "Dimension", "PortalCooldown", "id", "Motion", "Rotation"}

// Replicate clears the schematic volume at origin and places every record.
// Individual placement failures are logged and skipped. An error is
// returned only when the target cannot be reached again or ctx ends.
// Target flags are restored on every return path.
func (e *Engine) Replicate(ctx context.Context, records []structure.Record, origin structure.Position, bounds structure.Box, opts Options) error {
	opts = opts.withDefaults()
	if err := e.conn.Connect(ctx); err != nil {
		return fmt.Errorf("replicate: connect: %w", err)
	}

	release := e.suspendFlags(ctx, opts.UseUpdates)
	defer release()

	b := &batch{Engine: e, opts: opts}

	if err := b.clear(ctx, clearingVolume(bounds, origin)); err != nil {
		return err
	}
	if err := e.sleep(ctx, opts.SettleDelay); err != nil {
		return err
	}

	ordered := make([]structure.Record, len(records))
	copy(ordered, records)
	structure.SortForBuild(ordered)

	for _, rec := range ordered {
		var err error
		if rec.IsEntity() {
			err = b.summon(ctx, rec, origin)
		} else {
			err = b.place(ctx, rec, origin)
		}
		if err != nil {
			return err
		}
	}

	if opts.ForceUpdate {
		abs := bounds.Translate(origin)
		region := cuboid{Min: abs.Min, Max: structure.Position{X: abs.Max.X - 1, Y: abs.Max.Y - 1, Z: abs.Max.Z - 1}}
		if _, err := b.send(ctx, cmdUpdateRegion(region)); err != nil {
			return err
		}
	}

	e.logger.Debug("replicate: done",
		slog.Int("records", len(records)),
		slog.Int("placed", b.placed),
		slog.Int("skipped", b.skipped),
		slog.Int("ops", b.total),
	)
	return nil
}

// batch is the per-call mutable state of a replication.
type batch struct {
	*Engine
	opts    Options
	pending int
	total   int
	placed  int
	skipped int
}

// clear removes non-player entities and fills the volume with air.
func (b *batch) clear(ctx context.Context, vol cuboid) error {
	if _, err := b.send(ctx, cmdKillNonPlayers(vol)); err != nil {
		return err
	}
	if vol.volume() <= maxFillVolume {
		_, err := b.send(ctx, cmdFill(vol, structure.AirID))
		return err
	}
	for _, c := range vol.split() {
		if _, err := b.send(ctx, cmdFill(c, structure.AirID)); err != nil {
			return err
		}
		if err := b.sleep(ctx, b.opts.TickInterval); err != nil {
			return err
		}
	}
	return nil
}

func (b *batch) summon(ctx context.Context, rec structure.Record, origin structure.Position) error {
	pos := [3]float64{
		rec.EntityPos[0] + float64(origin.X),
		rec.EntityPos[1] + float64(origin.Y),
		rec.EntityPos[2] + float64(origin.Z),
	}
	ok, err := b.send(ctx, cmdSummon(rec.EntityType(), pos, rec.Payload.Without(entityStripKeys...)))
	if ok {
		b.placed++
	}
	return err
}

// place sets one block. Container items are appended afterwards, one
// operation per entry, and only when the block itself was placed.
func (b *batch) place(ctx context.Context, rec structure.Record, origin structure.Position) error {
	at := rec.Pos.Add(origin)
	items := rec.Payload.List("Items")
	ok, err := b.send(ctx, cmdSetBlock(at, rec.State, rec.Payload.Without("Items")))
	if err != nil || !ok {
		return err
	}
	b.placed++
	for _, it := range items {
		if _, err := b.send(ctx, cmdAppendItem(at, normaliseItem(it))); err != nil {
			return err
		}
	}
	return nil
}

// normaliseItem renames the legacy Count tag to count.
func normaliseItem(it any) any {
	m, ok := it.(map[string]any)
	if !ok {
		return it
	}
	out := structure.Payload(m).Clone()
	if c, ok := out["Count"]; ok {
		delete(out, "Count")
		out["count"] = c
	}
	return map[string]any(out)
}

// send executes cmd with bounded retries and paces the stream. It reports
// whether the command was accepted. The error is non-nil only when the
// batch must stop: ctx ended or the last reconnect failed.
func (b *batch) send(ctx context.Context, cmd string) (bool, error) {
	var lastErr error
	lost := false
	for attempt := 1; attempt <= b.opts.MaxAttempts; attempt++ {
		_, err := transport.Exec(ctx, b.conn, cmd)
		if err == nil {
			return true, b.tick(ctx)
		}
		if cerr := ctx.Err(); cerr != nil {
			return false, cerr
		}
		lastErr = err
		if errors.Is(err, apperr.ErrSemanticRejection) {
			b.logger.Warn("replicate: command rejected", slog.String("command", cmd), slog.String("error", err.Error()))
			b.skipped++
			return false, b.tick(ctx)
		}
		if !errors.Is(err, apperr.ErrTransport) {
			return false, fmt.Errorf("replicate: %w", err)
		}
		b.logger.Warn("replicate: transport failure, reconnecting",
			slog.String("command", cmd),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		_ = b.conn.Close()
		if err := b.sleep(ctx, time.Duration(attempt)*b.opts.Backoff); err != nil {
			return false, err
		}
		if err := b.conn.Connect(ctx); err != nil {
			lost = true
			lastErr = err
			continue
		}
		lost = false
	}
	if lost {
		return false, fmt.Errorf("replicate: target unreachable after %d attempts: %w", b.opts.MaxAttempts, lastErr)
	}
	b.logger.Warn("replicate: giving up on command", slog.String("command", cmd), slog.String("error", lastErr.Error()))
	b.skipped++
	return false, b.tick(ctx)
}

func (b *batch) tick(ctx context.Context) error {
	b.total++
	b.pending++
	if b.pending < b.opts.OpsPerTick {
		return nil
	}
	b.pending = 0
	return b.sleep(ctx, b.opts.TickInterval)
}
