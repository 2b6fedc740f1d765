package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/simtarget"
	"github.com/starford/mira/internal/structure"
)

const lampContract = `def verify_circuit(ctx):
    ctx.assert_block((2, 1, 0), "minecraft:redstone_lamp[lit=false]")
    ctx.set_block((0, 1, 0), "minecraft:lever[face=floor,facing=east,powered=true]")
    ctx.tick(12)
    ctx.assert_block((2, 1, 0), "minecraft:redstone_lamp[lit=true]")
    ctx.assert_power((1, 1, 0), 1)
`

var origin = structure.Position{X: 100, Y: 64, Z: -20}

func lampWorld(t *testing.T, withWire bool) *simtarget.World {
	t.Helper()
	w := simtarget.New()
	cells := map[structure.Position]string{
		{Y: 1}:       "minecraft:lever[face=floor,facing=east,powered=false]",
		{X: 2, Y: 1}: "minecraft:redstone_lamp[lit=false]",
	}
	if withWire {
		cells[structure.Position{X: 1, Y: 1}] = "minecraft:redstone_wire[power=0]"
	}
	for p, st := range cells {
		at := p.Add(origin)
		if _, err := w.Command(context.Background(), fmt.Sprintf("setblock %d %d %d %s", at.X, at.Y, at.Z, st)); err != nil {
			t.Fatal(err)
		}
	}
	return w
}

func newRunner(w *simtarget.World) *Runner {
	return NewRunner(w, WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
}

func TestLampContractPasses(t *testing.T) {
	w := lampWorld(t, true)
	if err := newRunner(w).Run(context.Background(), lampContract, origin); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.Flag("frozen") != "false" {
		t.Error("target left frozen")
	}
	if w.Ticks() != 12 {
		t.Errorf("ticks = %d, want 12", w.Ticks())
	}
}

func TestBrokenCircuitFails(t *testing.T) {
	w := lampWorld(t, false)
	err := newRunner(w).Run(context.Background(), lampContract, origin)
	if !errors.Is(err, apperr.ErrVerification) {
		t.Fatalf("err = %v, want ErrVerification", err)
	}
	if !strings.Contains(err.Error(), "assert_block(2, 1, 0)") {
		t.Errorf("failure text = %q", err.Error())
	}
	if w.Flag("frozen") != "false" {
		t.Error("target left frozen after failure")
	}
}

func TestContractErrors(t *testing.T) {
	tests := []struct {
		name     string
		contract string
	}{
		{"syntax", "def verify_circuit(ctx)\n    pass\n"},
		{"missing entry point", "def check(ctx):\n    pass\n"},
		{"runtime", "def verify_circuit(ctx):\n    ctx.tick(0)\n"},
		{"bad position", "def verify_circuit(ctx):\n    ctx.assert_block((1, 2), \"minecraft:stone\")\n"},
		{"explicit fail", "def verify_circuit(ctx):\n    fail(\"nope\")\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newRunner(simtarget.New()).Run(context.Background(), tt.contract, origin)
			if !errors.Is(err, apperr.ErrVerification) {
				t.Errorf("err = %v, want ErrVerification", err)
			}
		})
	}
}

func TestAssertPowerFailure(t *testing.T) {
	w := lampWorld(t, true)
	contract := "def verify_circuit(ctx):\n    ctx.assert_power((1, 1, 0), 1)\n"
	err := newRunner(w).Run(context.Background(), contract, origin)
	if !errors.Is(err, apperr.ErrVerification) || !strings.Contains(err.Error(), "assert_power(1, 1, 0)") {
		t.Fatalf("err = %v", err)
	}
}

func TestTransportFailureIsNotVerification(t *testing.T) {
	w := lampWorld(t, true)
	w.FailCommands(1)
	err := newRunner(w).Run(context.Background(), lampContract, origin)
	if !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if errors.Is(err, apperr.ErrVerification) {
		t.Error("transport failure reported as verification failure")
	}
}

func TestCancelledContext(t *testing.T) {
	w := lampWorld(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(w, WithSleeper(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))
	err := r.Run(ctx, lampContract, origin)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestReason(t *testing.T) {
	w := lampWorld(t, false)
	err := newRunner(w).Run(context.Background(), lampContract, origin)
	got := Reason(err)
	if !strings.HasPrefix(got, "assert_block(2, 1, 0): expected minecraft:redstone_lamp[lit=true]") {
		t.Errorf("Reason = %q", got)
	}
	if Reason(errors.New("plain")) != "plain" {
		t.Error("Reason of a plain error")
	}
}
