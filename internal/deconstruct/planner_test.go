package deconstruct

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/starford/mira/internal/oracle"
	"github.com/starford/mira/internal/structure"
)

func rec(x, y, z int, st string) structure.Record {
	return structure.Record{Pos: structure.Position{X: x, Y: y, Z: z}, State: structure.MustState(st), Kind: structure.KindBlock}
}

func lampCircuit() []structure.Record {
	return []structure.Record{
		rec(0, 0, 0, "minecraft:stone"),
		rec(1, 0, 0, "minecraft:stone"),
		rec(2, 0, 0, "minecraft:stone"),
		rec(0, 1, 0, "minecraft:lever[face=floor,powered=false]"),
		rec(1, 1, 0, "minecraft:redstone_wire"),
		rec(2, 1, 0, "minecraft:redstone_lamp[lit=false]"),
	}
}

// randomTower builds a random connected-ish pile of blocks.
func randomTower(seed uint64, n int) []structure.Record {
	r := rand.New(rand.NewPCG(seed, seed))
	ids := []string{"minecraft:stone", "minecraft:glass", "minecraft:redstone_wire", "minecraft:piston", "minecraft:lever", "minecraft:oak_slab"}
	seen := map[structure.Position]bool{}
	var out []structure.Record
	for len(out) < n {
		p := structure.Position{X: r.IntN(4), Y: r.IntN(5), Z: r.IntN(4)}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, structure.Record{Pos: p, State: structure.MustState(ids[r.IntN(len(ids))]), Kind: structure.KindBlock})
	}
	return out
}

// checkPlan asserts the partition and support properties.
func checkPlan(t *testing.T, input []structure.Record, steps []Step) {
	t.Helper()
	if len(steps) > len(input)+iterationSlack {
		t.Errorf("%d steps for %d records", len(steps), len(input))
	}
	count := map[structure.Position]int{}
	for _, s := range steps {
		left := map[structure.Position]bool{}
		for _, r := range s.Remaining {
			left[r.Pos] = true
		}
		for _, r := range s.Removed {
			count[r.Pos]++
			if left[r.Pos.Above()] {
				t.Errorf("step %d removed %v while %v remains above it", s.Step, r.Pos, r.Pos.Above())
			}
		}
		if s.RemainingCount != len(s.Remaining) {
			t.Errorf("step %d remaining count %d != snapshot %d", s.Step, s.RemainingCount, len(s.Remaining))
		}
	}
	for _, r := range input {
		if count[r.Pos] != 1 {
			t.Errorf("%v removed %d times, want 1", r.Pos, count[r.Pos])
		}
	}
	if last := steps[len(steps)-1]; last.RemainingCount != 0 {
		t.Errorf("plan ends with %d records left", last.RemainingCount)
	}
}

func TestPlanTiers(t *testing.T) {
	input := lampCircuit()
	steps, err := NewPlanner(nil, nil).Plan(context.Background(), input)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	checkPlan(t, input, steps)
	if len(steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(steps))
	}
	wantRemoved := []int{1, 2, 3}
	for i, s := range steps {
		if len(s.Removed) != wantRemoved[i] {
			t.Errorf("step %d removed %d, want %d", i, len(s.Removed), wantRemoved[i])
		}
	}
	if steps[0].Removed[0].State.ID != "minecraft:redstone_lamp" {
		t.Errorf("first removal = %s, want the lamp", steps[0].Removed[0].State)
	}
}

func TestSupportExclusionFallsBack(t *testing.T) {
	input := []structure.Record{
		rec(0, 0, 0, "minecraft:glass"),
		rec(0, 1, 0, "minecraft:lever"),
	}
	steps, err := NewPlanner(nil, nil).Plan(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	checkPlan(t, input, steps)
	if !steps[0].Fallback || steps[0].Removed[0].Pos.Y != 1 {
		t.Errorf("first step = %+v, want fallback removing the lever", steps[0])
	}
}

type junkProposer struct{}

func (junkProposer) Propose(context.Context, []structure.Record, int) (Proposal, error) {
	return Proposal{Positions: []structure.Position{{X: 99, Y: 99, Z: 99}}, Reasoning: "junk"}, nil
}

func TestInvalidProposalsUseFallbackOrder(t *testing.T) {
	input := []structure.Record{
		rec(0, 0, 0, "minecraft:stone"),
		rec(1, 1, 0, "minecraft:stone"),
		rec(1, 1, 2, "minecraft:stone"),
		rec(3, 0, 0, "minecraft:stone"),
	}
	steps, err := NewPlanner(junkProposer{}, nil).Plan(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	checkPlan(t, input, steps)
	want := []structure.Position{{X: 1, Y: 1, Z: 2}, {X: 1, Y: 1}, {X: 3}, {}}
	if len(steps) != len(want) {
		t.Fatalf("steps = %d, want %d", len(steps), len(want))
	}
	for i, s := range steps {
		if !s.Fallback || len(s.Removed) != 1 || s.Removed[0].Pos != want[i] {
			t.Errorf("step %d removed %v, want %v", i, s.Removed, want[i])
		}
	}
}

func TestPlanPropertiesRandom(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		input := randomTower(seed, 30)
		for _, p := range []Proposer{nil, OracleProposer{Oracle: oracle.Mock{}}} {
			steps, err := NewPlanner(p, nil).Plan(context.Background(), input)
			if err != nil {
				t.Fatalf("seed %d: %v", seed, err)
			}
			checkPlan(t, input, steps)
		}
	}
}

func TestEntitiesShareCells(t *testing.T) {
	input := []structure.Record{
		rec(0, 0, 0, "minecraft:stone"),
		{Pos: structure.Position{Y: 1}, State: structure.BlockState{ID: "entity:minecraft:armor_stand"}, Kind: structure.KindEntity},
		{Pos: structure.Position{Y: 1}, State: structure.BlockState{ID: "entity:minecraft:item_frame"}, Kind: structure.KindEntity},
	}
	steps, err := NewPlanner(nil, nil).Plan(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, s := range steps {
		total += len(s.Removed)
	}
	if total != 3 {
		t.Errorf("removed %d records, want 3", total)
	}
	if len(steps[0].Removed) != 2 {
		t.Errorf("first step removed %d, want both entities", len(steps[0].Removed))
	}
}

func TestPlanDuplicatePositions(t *testing.T) {
	// Overlapping regions can yield two blocks in one cell.
	input := []structure.Record{
		rec(0, 0, 0, "minecraft:stone"),
		rec(0, 0, 0, "minecraft:glass"),
		rec(0, 1, 0, "minecraft:redstone_wire"),
	}
	steps, err := NewPlanner(nil, nil).Plan(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	removed := map[string]int{}
	for _, s := range steps {
		for _, r := range s.Removed {
			removed[r.Pos.String()+" "+r.State.ID]++
		}
	}
	for _, r := range input {
		if n := removed[r.Pos.String()+" "+r.State.ID]; n != 1 {
			t.Errorf("%v %s removed %d times, want 1", r.Pos, r.State.ID, n)
		}
	}
	if len(removed) != len(input) {
		t.Errorf("removed %d distinct records, want %d", len(removed), len(input))
	}
}

func TestPlanLargeTierSingleStep(t *testing.T) {
	var input []structure.Record
	for x := 0; x < 40; x++ {
		for z := 0; z < 40; z++ {
			input = append(input, rec(x, 0, z, "minecraft:stone"))
		}
	}
	steps, err := NewPlanner(nil, nil).Plan(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(steps))
	}
	if len(steps[0].Removed) != len(input) {
		t.Errorf("removed %d, want %d", len(steps[0].Removed), len(input))
	}
	checkPlan(t, input, steps)
}

func TestOracleProposerCarriesPrompt(t *testing.T) {
	steps, err := NewPlanner(OracleProposer{Oracle: oracle.Mock{}}, nil).Plan(context.Background(), lampCircuit())
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2 layers", len(steps))
	}
	if steps[0].Prompt == nil || steps[0].Prompt.User == "" {
		t.Error("step has no prompt")
	}
}

func TestPlanEmpty(t *testing.T) {
	steps, err := NewPlanner(nil, nil).Plan(context.Background(), nil)
	if err != nil || len(steps) != 0 {
		t.Errorf("Plan(nil) = %v, %v", steps, err)
	}
}

func TestBuildSteps(t *testing.T) {
	steps := []Step{
		{Step: 0, Removed: []structure.Record{rec(0, 2, 0, "minecraft:lamp")}, Reasoning: "top"},
		{Step: 1},
		{Step: 2, Removed: []structure.Record{rec(0, 0, 0, "minecraft:stone")}, Reasoning: "base"},
	}
	got := BuildSteps(steps)
	if len(got) != 2 {
		t.Fatalf("build steps = %d, want 2", len(got))
	}
	if got[0].Stage != 0 || got[0].SourceReasoning != "base" || got[1].SourceReasoning != "top" {
		t.Errorf("build steps = %+v", got)
	}
	if got[0].Instruction != "Recreate layer from deconstruction step 2" {
		t.Errorf("instruction = %q", got[0].Instruction)
	}
}

func TestClassifier(t *testing.T) {
	tests := map[string]Tier{
		"minecraft:redstone_lamp":  TierDecoration,
		"minecraft:oak_trapdoor":   TierDecoration,
		"minecraft:redstone_wire":  TierControl,
		"minecraft:redstone_torch": TierControl,
		"minecraft:sticky_piston":  TierCore,
		"minecraft:hopper":         TierCore,
		"minecraft:stone":          TierFoundation,
	}
	for id, want := range tests {
		if got := DefaultClassifier.Classify(rec(0, 0, 0, id)); got != want {
			t.Errorf("Classify(%s) = %v, want %v", id, got, want)
		}
	}
}
