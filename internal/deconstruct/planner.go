// Package deconstruct decomposes a structure into removable layers, in the
// order a builder would take it apart.
package deconstruct

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/oracle"
	"github.com/starford/mira/internal/structure"
)

// iterationSlack is added to the record count to bound planning.
const iterationSlack = 5

// Step is one removal layer.
type Step struct {
	Step           int                `json:"step"`
	Removed        []structure.Record `json:"removed_blocks"`
	Reasoning      string             `json:"reasoning"`
	Fallback       bool               `json:"fallback,omitempty"`
	RemainingCount int                `json:"remaining_count"`
	Remaining      []structure.Record `json:"remaining_snapshot"`
	Prompt         *oracle.Prompt     `json:"prompt,omitempty"`
}

// key identifies a record. Entities and overlapping regions can put several
// records in one cell, so each gets an ordinal within its cell.
type key struct {
	pos structure.Position
	n   int
}

// Planner builds deconstruction plans.
type Planner struct {
	proposer Proposer
	logger   *slog.Logger
}

// NewPlanner returns a Planner. A nil proposer means TierProposer.
func NewPlanner(p Proposer, logger *slog.Logger) *Planner {
	if p == nil {
		p = TierProposer{Classifier: DefaultClassifier}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{proposer: p, logger: logger}
}

// Plan removes layers until nothing remains. Every record ends up in exactly
// one step. A record is never removed while another record sits directly
// above it. It fails with apperr.ErrConvergence if the iteration budget runs
// out, which the single-cell fallback rules out in practice.
func (p *Planner) Plan(ctx context.Context, records []structure.Record) ([]Step, error) {
	remaining := make(map[key]structure.Record, len(records))
	byPos := make(map[structure.Position][]key, len(records))
	occupied := make(map[structure.Position]int, len(records))
	for _, r := range records {
		k := key{pos: r.Pos, n: len(byPos[r.Pos])}
		remaining[k] = r
		byPos[r.Pos] = append(byPos[r.Pos], k)
		occupied[r.Pos]++
	}

	budget := len(remaining) + iterationSlack
	var steps []Step
	for iter := 0; len(remaining) > 0; iter++ {
		if iter >= budget {
			return steps, fmt.Errorf("deconstruct: %d records left after %d iterations: %w", len(remaining), iter, apperr.ErrConvergence)
		}
		if err := ctx.Err(); err != nil {
			return steps, err
		}

		view := sortedRecords(remaining)
		prop, err := p.proposer.Propose(ctx, view, iter)
		if err != nil {
			return steps, err
		}

		chosen := supported(prop.Positions, remaining, occupied)
		step := Step{Step: iter, Reasoning: prop.Reasoning, Prompt: prop.Prompt}
		if len(chosen) == 0 {
			top := highest(remaining)
			chosen = []structure.Position{top}
			step.Fallback = true
			step.Reasoning = fmt.Sprintf("Fallback: removing the highest remaining block at %s.", top)
			p.logger.Debug("deconstruct: fallback", slog.Int("step", iter), slog.String("pos", top.String()))
		}

		for _, pos := range chosen {
			for _, k := range byPos[pos] {
				step.Removed = append(step.Removed, remaining[k])
				delete(remaining, k)
			}
			delete(byPos, pos)
			delete(occupied, pos)
		}
		structure.SortForBuild(step.Removed)
		step.Remaining = sortedRecords(remaining)
		step.RemainingCount = len(step.Remaining)
		steps = append(steps, step)
	}
	return steps, nil
}

// supported filters proposed positions down to those present in remaining
// whose upper neighbour is either empty or removed in the same step.
// Positions are visited top-down so the neighbour's fate is already known.
func supported(proposed []structure.Position, remaining map[key]structure.Record, occupied map[structure.Position]int) []structure.Position {
	seen := make(map[structure.Position]bool, len(proposed))
	var cands []structure.Position
	for _, pos := range proposed {
		if occupied[pos] > 0 && !seen[pos] {
			seen[pos] = true
			cands = append(cands, pos)
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[j].Less(cands[i]) })

	kept := make(map[structure.Position]bool, len(cands))
	out := cands[:0]
	for _, pos := range cands {
		above := pos.Above()
		if occupied[above] > 0 && !kept[above] {
			continue
		}
		kept[pos] = true
		out = append(out, pos)
	}
	return out
}

// highest returns the remaining position with the greatest Y, then X, then Z.
func highest(remaining map[key]structure.Record) structure.Position {
	var top structure.Position
	first := true
	for k := range remaining {
		if first || top.Less(k.pos) {
			top = k.pos
			first = false
		}
	}
	return top
}

func sortedRecords(remaining map[key]structure.Record) []structure.Record {
	out := make([]structure.Record, 0, len(remaining))
	for _, r := range remaining {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pos != out[j].Pos {
			return out[i].Pos.Less(out[j].Pos)
		}
		return out[i].State.ID < out[j].State.ID
	})
	return out
}

// BuildStep is a forward construction stage derived from a removal step.
type BuildStep struct {
	Stage           int                `json:"stage"`
	Instruction     string             `json:"instruction"`
	BlocksToPlace   []structure.Record `json:"blocks_to_place"`
	SourceReasoning string             `json:"source_reasoning"`
}

// BuildSteps reverses a plan into build order, skipping empty steps.
func BuildSteps(steps []Step) []BuildStep {
	var out []BuildStep
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if len(s.Removed) == 0 {
			continue
		}
		out = append(out, BuildStep{
			Stage:           len(out),
			Instruction:     fmt.Sprintf("Recreate layer from deconstruction step %d", s.Step),
			BlocksToPlace:   s.Removed,
			SourceReasoning: s.Reasoning,
		})
	}
	return out
}
