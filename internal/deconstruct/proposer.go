package deconstruct

import (
	"context"
	"fmt"

	"github.com/starford/mira/internal/oracle"
	"github.com/starford/mira/internal/structure"
)

// Proposal is a candidate removal layer. Positions outside the remaining
// set are ignored by the planner.
type Proposal struct {
	Positions []structure.Position
	Reasoning string
	Prompt    *oracle.Prompt
}

// Proposer picks the next layer to remove. remaining is sorted Y, X, Z.
type Proposer interface {
	Propose(ctx context.Context, remaining []structure.Record, iteration int) (Proposal, error)
}

// TierProposer removes every record of the highest-priority non-empty tier.
type TierProposer struct {
	Classifier Classifier
}

// Propose implements Proposer.
func (p TierProposer) Propose(_ context.Context, remaining []structure.Record, _ int) (Proposal, error) {
	cls := p.Classifier
	if cls == nil {
		cls = DefaultClassifier
	}
	best := TierFoundation + 1
	var picked []structure.Position
	for _, r := range remaining {
		t := cls.Classify(r)
		switch {
		case t < best:
			best = t
			picked = append(picked[:0], r.Pos)
		case t == best:
			picked = append(picked, r.Pos)
		}
	}
	if len(picked) == 0 {
		return Proposal{Reasoning: "Nothing left to remove."}, nil
	}
	return Proposal{
		Positions: picked,
		Reasoning: fmt.Sprintf("Removing the %s layer (%d blocks): it was built after everything it depends on.", best, len(picked)),
	}, nil
}

// OracleProposer delegates to an oracle.
type OracleProposer struct {
	Oracle oracle.Oracle
}

// Propose implements Proposer.
func (p OracleProposer) Propose(ctx context.Context, remaining []structure.Record, iteration int) (Proposal, error) {
	s, err := p.Oracle.SuggestRemoval(ctx, remaining, iteration)
	if err != nil {
		return Proposal{}, fmt.Errorf("deconstruct: suggest removal: %w", err)
	}
	prompt := s.Prompt
	return Proposal{Positions: s.Remove, Reasoning: s.Reasoning, Prompt: &prompt}, nil
}
