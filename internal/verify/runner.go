// Package verify runs verification contracts against the execution target.
// A contract is Starlark source defining verify_circuit(ctx).
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/structure"
	"github.com/starford/mira/internal/transport"
)

// EntryPoint is the function every contract must define.
const EntryPoint = "verify_circuit"

// Runner executes contracts over one connection.
type Runner struct {
	conn     transport.Conn
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
	tickTime time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for contract print output.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithSleeper replaces the wall-clock wait after each tick step.
func WithSleeper(s func(context.Context, time.Duration) error) Option {
	return func(r *Runner) { r.sleep = s }
}

// WithTickDuration sets the real time one stepped game tick is given to run.
func WithTickDuration(d time.Duration) Option { return func(r *Runner) { r.tickTime = d } }

// NewRunner creates a Runner.
func NewRunner(conn transport.Conn, opts ...Option) *Runner {
	r := &Runner{
		conn:     conn,
		logger:   slog.Default(),
		sleep:    sleepCtx,
		tickTime: 50 * time.Millisecond,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

// Run executes contract with positions relative to origin. It returns nil
// when every assertion holds, a *Failure when an assertion or the contract
// itself fails, and the transport error when
// the target could not be reached.
func (r *Runner) Run(ctx context.Context, contract string, origin structure.Position) error {
	if err := r.conn.Connect(ctx); err != nil {
		return fmt.Errorf("verify: connect: %w", err)
	}
	if _, err := transport.Exec(ctx, r.conn, "tick freeze"); err != nil {
		return fmt.Errorf("verify: freeze: %w", err)
	}
	defer func() {
		if _, err := transport.Exec(context.WithoutCancel(ctx), r.conn, "tick unfreeze"); err != nil {
			r.logger.Warn("verify: unfreeze failed", slog.String("error", err.Error()))
		}
	}()

	s := &session{Runner: r, ctx: ctx, origin: origin}
	thread := &starlark.Thread{
		Name: "verify",
		Print: func(_ *starlark.Thread, msg string) {
			r.logger.Debug("verify: contract output", slog.String("msg", msg))
		},
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, "contract.star", contract, nil)
	if err != nil {
		return s.result(fmt.Errorf("load contract: %w", err))
	}
	fn, ok := globals[EntryPoint].(starlark.Callable)
	if !ok {
		return &Failure{Reason: "contract does not define " + EntryPoint}
	}
	_, err = starlark.Call(thread, fn, starlark.Tuple{s.ctxValue()}, nil)
	return s.result(err)
}

// Failure is a contract that did not hold. It matches
// apperr.ErrVerification under errors.Is.
type Failure struct {
	Reason string
}

func (f *Failure) Error() string { return "verify: " + f.Reason }

// Is reports whether target is apperr.ErrVerification.
func (f *Failure) Is(target error) bool { return target == apperr.ErrVerification }

// Reason extracts the failure text from err, or returns err's message.
func Reason(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return err.Error()
}

// session is the state of one contract execution.
type session struct {
	*Runner
	ctx     context.Context
	origin  structure.Position
	failure string
	fatal   error
}

// result maps the script outcome to the Run contract.
func (s *session) result(err error) error {
	switch {
	case s.fatal != nil:
		return s.fatal
	case s.ctx.Err() != nil:
		return s.ctx.Err()
	case s.failure != "":
		return &Failure{Reason: s.failure}
	case err != nil:
		var ee *starlark.EvalError
		if errors.As(err, &ee) {
			return &Failure{Reason: ee.Msg}
		}
		return &Failure{Reason: err.Error()}
	}
	return nil
}

func (s *session) ctxValue() starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("ctx"), starlark.StringDict{
		"set_block":    starlark.NewBuiltin("set_block", s.setBlock),
		"tick":         starlark.NewBuiltin("tick", s.tick),
		"assert_block": starlark.NewBuiltin("assert_block", s.assertBlock),
		"assert_power": starlark.NewBuiltin("assert_power", s.assertPower),
	})
}

// exec sends cmd. Transport failures end the session without being counted
// as a verification failure.
func (s *session) exec(cmd string) (string, error) {
	resp, err := transport.Exec(s.ctx, s.conn, cmd)
	if err != nil && !errors.Is(err, apperr.ErrSemanticRejection) {
		s.fatal = fmt.Errorf("verify: %w", err)
	}
	return resp, err
}

func (s *session) fail(format string, args ...any) error {
	s.failure = fmt.Sprintf(format, args...)
	return errors.New(s.failure)
}

func (s *session) position(fn string, v starlark.Value) (structure.Position, error) {
	seq, ok := v.(starlark.Indexable)
	if !ok || seq.Len() != 3 {
		return structure.Position{}, fmt.Errorf("%s: pos must be an (x, y, z) tuple, got %s", fn, v.Type())
	}
	var xyz [3]int
	for i := range 3 {
		n, err := starlark.AsInt32(seq.Index(i))
		if err != nil {
			return structure.Position{}, fmt.Errorf("%s: pos[%d]: %w", fn, i, err)
		}
		xyz[i] = n
	}
	return structure.Position{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

func (s *session) setBlock(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		pos   starlark.Value
		state string
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pos", &pos, "block_state", &state); err != nil {
		return nil, err
	}
	rel, err := s.position(b.Name(), pos)
	if err != nil {
		return nil, err
	}
	at := rel.Add(s.origin)
	if _, err := s.exec(fmt.Sprintf("setblock %d %d %d %s", at.X, at.Y, at.Z, state)); err != nil {
		if s.fatal != nil {
			return nil, s.fatal
		}
		return nil, s.fail("set_block%v %s rejected", rel, state)
	}
	return starlark.None, nil
}

func (s *session) tick(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "ticks", &n); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("%s: ticks must be positive, got %d", b.Name(), n)
	}
	if _, err := s.exec(fmt.Sprintf("tick step %d", n)); err != nil {
		if s.fatal != nil {
			return nil, s.fatal
		}
		return nil, s.fail("tick(%d) rejected", n)
	}
	if err := s.sleep(s.ctx, time.Duration(n)*s.tickTime); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (s *session) assertBlock(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		pos   starlark.Value
		state string
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pos", &pos, "block_id", &state); err != nil {
		return nil, err
	}
	rel, err := s.position(b.Name(), pos)
	if err != nil {
		return nil, err
	}
	at := rel.Add(s.origin)
	resp, err := s.exec(fmt.Sprintf("mira_api check_block %d %d %d %s", at.X, at.Y, at.Z, state))
	if s.fatal != nil {
		return nil, s.fatal
	}
	if err != nil || !strings.HasPrefix(resp, "PASS") {
		return nil, s.fail("assert_block%v: expected %s, %s", rel, state, observed(resp))
	}
	return starlark.None, nil
}

func (s *session) assertPower(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		pos      starlark.Value
		minLevel int
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pos", &pos, "min_level", &minLevel); err != nil {
		return nil, err
	}
	rel, err := s.position(b.Name(), pos)
	if err != nil {
		return nil, err
	}
	at := rel.Add(s.origin)
	resp, err := s.exec(fmt.Sprintf("mira_api check_power %d %d %d %d", at.X, at.Y, at.Z, minLevel))
	if s.fatal != nil {
		return nil, s.fatal
	}
	if err != nil || !strings.HasPrefix(resp, "PASS") {
		return nil, s.fail("assert_power%v: expected at least %d, %s", rel, minLevel, observed(resp))
	}
	return starlark.None, nil
}

func observed(resp string) string {
	got := strings.TrimSpace(strings.TrimPrefix(resp, "FAIL"))
	if got == "" {
		return "check failed"
	}
	return "found " + got
}
