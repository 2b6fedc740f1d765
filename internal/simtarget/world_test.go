package simtarget

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/structure"
)

func run(t *testing.T, w *World, cmds ...string) []string {
	t.Helper()
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		resp, err := w.Command(context.Background(), c)
		if err != nil {
			t.Fatalf("Command(%q): %v", c, err)
		}
		out = append(out, resp)
	}
	return out
}

func TestSetBlockAndCheck(t *testing.T) {
	w := New()
	resp := run(t, w,
		"setblock 1 2 3 minecraft:chest[facing=north]{CustomName:\"box\"}",
		"mira_api check_block 1 2 3 minecraft:chest[facing=north]",
		"mira_api check_block 1 2 3 minecraft:chest[facing=south]",
		"mira_api check_block 0 0 0 minecraft:air",
	)
	if !strings.HasPrefix(resp[0], "Changed the block") {
		t.Errorf("setblock response = %q", resp[0])
	}
	if resp[1] != "PASS" || !strings.HasPrefix(resp[2], "FAIL") || resp[3] != "PASS" {
		t.Errorf("check responses = %q", resp[1:])
	}
	st, ok := w.Block(structure.Position{X: 1, Y: 2, Z: 3})
	if !ok || st.String() != "minecraft:chest[facing=north]" {
		t.Errorf("block = %v %v", st, ok)
	}
}

func TestUnknownCommand(t *testing.T) {
	w := New()
	resp := run(t, w, "teleport me 1 2 3", "fill 0 0 0 40 40 40 minecraft:air")
	if !strings.Contains(resp[0], "Unknown") {
		t.Errorf("unknown response = %q", resp[0])
	}
	if !strings.Contains(resp[1], "Error") {
		t.Errorf("oversized fill response = %q", resp[1])
	}
}

func TestFillKillAndItems(t *testing.T) {
	w := New()
	run(t, w,
		"fill 0 0 0 2 0 2 minecraft:stone",
		"summon minecraft:armor_stand 1.5 0 1.5",
		"summon minecraft:armor_stand 9.5 0 9.5",
		"setblock 5 5 5 minecraft:hopper",
		"data modify block 5 5 5 Items append value {Slot:0b,count:1b,id:\"minecraft:dirt\"}",
	)
	if got := len(w.Snapshot()); got != 10 {
		t.Fatalf("blocks = %d, want 10", got)
	}
	run(t, w, "kill @e[x=0,y=0,z=0,dx=2,dy=2,dz=2,type=!player]", "fill 0 0 0 2 0 2 minecraft:air")
	if got := len(w.Snapshot()); got != 1 {
		t.Errorf("blocks after clear = %d, want 1", got)
	}
	if ents := w.Entities(); len(ents) != 1 || ents[0].Pos[0] != 9.5 {
		t.Errorf("entities = %+v", ents)
	}
	if items := w.Items(structure.Position{X: 5, Y: 5, Z: 5}); len(items) != 1 {
		t.Errorf("items = %v", items)
	}
	resp := run(t, w, "data modify block 7 7 7 Items append value {}")
	if !strings.Contains(resp[0], "Error") {
		t.Errorf("append to missing block = %q", resp[0])
	}
}

func TestSignalRule(t *testing.T) {
	w := New()
	run(t, w,
		"setblock 0 0 0 minecraft:lever[face=floor,powered=false]",
		"setblock 1 0 0 minecraft:redstone_wire[power=0]",
		"setblock 2 0 0 minecraft:redstone_lamp[lit=false]",
		"tick step 1",
	)
	if resp := run(t, w, "mira_api check_block 2 0 0 minecraft:redstone_lamp[lit=false]"); resp[0] != "PASS" {
		t.Fatalf("unpowered lamp: %q", resp[0])
	}
	run(t, w, "setblock 0 0 0 minecraft:lever[face=floor,powered=true]", "tick step 2")
	resp := run(t, w,
		"mira_api check_block 2 0 0 minecraft:redstone_lamp[lit=true]",
		"mira_api check_power 1 0 0 15",
	)
	if resp[0] != "PASS" || resp[1] != "PASS" {
		t.Fatalf("powered circuit: %q", resp)
	}

	run(t, w, "setblock 1 0 0 minecraft:air", "tick step 1")
	if resp := run(t, w, "mira_api check_block 2 0 0 minecraft:redstone_lamp[lit=true]"); resp[0] == "PASS" {
		t.Error("lamp still lit with the wire removed")
	}
	if w.Ticks() != 4 {
		t.Errorf("ticks = %d, want 4", w.Ticks())
	}
}

func TestWireDecay(t *testing.T) {
	w := New()
	run(t, w, "setblock 0 0 0 minecraft:redstone_block")
	for x := 1; x <= 3; x++ {
		run(t, w, "setblock "+string(rune('0'+x))+" 0 0 minecraft:redstone_wire")
	}
	run(t, w, "mira_api update_region 0 0 0 3 0 0")
	st, _ := w.Block(structure.Position{X: 3})
	if st.Props["power"] != "13" {
		t.Errorf("power at distance 3 = %q, want 13", st.Props["power"])
	}
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	w := New()
	w.FailCommands(1)
	if _, err := w.Command(ctx, "tick step 1"); !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("first command err = %v, want ErrTransport", err)
	}
	w.RefuseConnects(1)
	if err := w.Connect(ctx); !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("Connect err = %v, want ErrTransport", err)
	}
	if _, err := w.Command(ctx, "tick step 1"); err != nil {
		t.Fatalf("after faults: %v", err)
	}

	w.RejectContaining("minecraft:bogus")
	resp, err := w.Command(ctx, "setblock 0 0 0 minecraft:bogus")
	if err != nil || !strings.Contains(resp, "Invalid") {
		t.Errorf("rejected command = %q, %v", resp, err)
	}
	if got := len(w.Commands()); got != 2 {
		t.Errorf("delivered commands = %d, want 2", got)
	}
}

func TestFlags(t *testing.T) {
	w := New()
	run(t, w, "gamerule sendCommandFeedback false", "tick freeze", "carpet fillUpdates false")
	if w.Flag("sendCommandFeedback") != "false" || w.Flag("frozen") != "true" || w.Flag("fillUpdates") != "false" {
		t.Errorf("flags not applied")
	}
}
