// Package corrupt introduces a single plausible fault into a structure.
package corrupt

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/starford/mira/internal/structure"
)

// Modification types.
const (
	BreakWire    = "break_wire"
	RotateFacing = "rotate_component"
	RemoveSource = "remove_source"
)

const removedStateID = structure.AirID

// Modification records one applied fault.
type Modification struct {
	Type     string             `json:"type"`
	Pos      structure.Position `json:"pos"`
	Original string             `json:"original"`
	New      string             `json:"new"`
}

// String describes the fault in prose.
func (m Modification) String() string {
	switch m.Type {
	case BreakWire:
		return fmt.Sprintf("the redstone wire at %s was removed", m.Pos)
	case RemoveSource:
		return fmt.Sprintf("the power source %s at %s was removed", m.Original, m.Pos)
	case RotateFacing:
		return fmt.Sprintf("the component at %s was turned from %s to %s", m.Pos, m.Original, m.New)
	}
	return fmt.Sprintf("%s at %s: %s -> %s", m.Type, m.Pos, m.Original, m.New)
}

// Mutator applies one fault to records, which it may modify, and returns
// the result. A nil modification means no candidate exists.
type Mutator struct {
	Name  string
	Apply func(rng *rand.Rand, records []structure.Record) ([]structure.Record, *Modification)
}

// Engine picks mutators in random order until one applies.
type Engine struct {
	rng      *rand.Rand
	mutators []Mutator
}

// DefaultMutators are the wire-break, orientation-flip and power-source
// removal faults.
func DefaultMutators() []Mutator {
	return []Mutator{
		{Name: BreakWire, Apply: breakWire},
		{Name: RotateFacing, Apply: rotateFacing},
		{Name: RemoveSource, Apply: removeSource},
	}
}

// NewEngine returns an Engine drawing from rng. Nil mutators means
// DefaultMutators.
func NewEngine(rng *rand.Rand, mutators ...Mutator) *Engine {
	if len(mutators) == 0 {
		mutators = DefaultMutators()
	}
	return &Engine{rng: rng, mutators: mutators}
}

// Corrupt returns a deep copy of records with at most one fault applied, and
// the modification log. The input is never changed. An empty log means no
// mutator found a candidate.
func (e *Engine) Corrupt(records []structure.Record) ([]structure.Record, []Modification) {
	out := structure.CloneRecords(records)
	order := slices.Clone(e.mutators)
	e.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	for _, m := range order {
		if next, mod := m.Apply(e.rng, out); mod != nil {
			return next, []Modification{*mod}
		}
	}
	return out, nil
}

func candidates(records []structure.Record, match func(structure.BlockState) bool) []int {
	var idx []int
	for i, r := range records {
		if !r.IsEntity() && match(r.State) {
			idx = append(idx, i)
		}
	}
	return idx
}

// remove drops records[i], keeping the sparse invariant that air is never
// stored.
func remove(records []structure.Record, i int, kind string) ([]structure.Record, *Modification) {
	mod := &Modification{Type: kind, Pos: records[i].Pos, Original: records[i].State.String(), New: removedStateID}
	return slices.Delete(records, i, i+1), mod
}

func breakWire(rng *rand.Rand, records []structure.Record) ([]structure.Record, *Modification) {
	idx := candidates(records, func(s structure.BlockState) bool { return s.ID == "minecraft:redstone_wire" })
	if len(idx) == 0 {
		return records, nil
	}
	return remove(records, idx[rng.IntN(len(idx))], BreakWire)
}

var powerSources = []string{"redstone_torch", "lever", "redstone_block", "target"}

func removeSource(rng *rand.Rand, records []structure.Record) ([]structure.Record, *Modification) {
	idx := candidates(records, func(s structure.BlockState) bool { return hasFragment(s.Base(), powerSources) })
	if len(idx) == 0 {
		return records, nil
	}
	return remove(records, idx[rng.IntN(len(idx))], RemoveSource)
}

var (
	directional    = []string{"repeater", "comparator", "observer", "piston", "dropper", "dispenser", "hopper"}
	horizontalOnly = []string{"repeater", "comparator"}
	allFacings     = []string{"north", "east", "south", "west", "up", "down"}
)

// facings returns the orientations a block may take.
func facings(s structure.BlockState) []string {
	base := s.Base()
	switch {
	case hasFragment(base, horizontalOnly):
		return allFacings[:4]
	case strings.Contains(base, "hopper"):
		return []string{"north", "east", "south", "west", "down"}
	}
	return allFacings
}

func rotateFacing(rng *rand.Rand, records []structure.Record) ([]structure.Record, *Modification) {
	idx := candidates(records, func(s structure.BlockState) bool {
		_, ok := s.Props["facing"]
		return ok && hasFragment(s.Base(), directional)
	})
	if len(idx) == 0 {
		return records, nil
	}
	i := idx[rng.IntN(len(idx))]
	st := records[i].State
	current := st.Props["facing"]
	var options []string
	for _, f := range facings(st) {
		if f != current {
			options = append(options, f)
		}
	}
	next := st.Clone()
	next.Props["facing"] = options[rng.IntN(len(options))]
	mod := &Modification{Type: RotateFacing, Pos: records[i].Pos, Original: st.String(), New: next.String()}
	records[i].State = next
	return records, mod
}

func hasFragment(s string, frags []string) bool {
	for _, f := range frags {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
