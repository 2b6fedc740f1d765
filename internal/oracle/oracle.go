// Package oracle is the reasoning collaborator: it writes verification
// contracts, proposes removal layers and explains failures.
package oracle

import (
	"context"

	"github.com/starford/mira/internal/structure"
)

// Oracle is implemented by the offline Mock and the remote GenAI client.
type Oracle interface {
	GenerateContract(ctx context.Context, meta structure.Metadata, records []structure.Record) (Contract, error)
	SuggestRemoval(ctx context.Context, remaining []structure.Record, iteration int) (Suggestion, error)
	Explain(ctx context.Context, req ExplainRequest) (string, error)
}

// Prompt is the exchange sent to the oracle, kept for the dataset.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Contract is verification source plus the prompt that produced it.
type Contract struct {
	Prompt Prompt `json:"prompt"`
	Script string `json:"script"`
}

// Suggestion is a proposed removal layer. Positions may name cells that do
// not exist; callers filter them.
type Suggestion struct {
	Prompt    Prompt               `json:"prompt"`
	Reasoning string               `json:"reasoning"`
	Remove    []structure.Position `json:"remove"`
}

// ExplainRequest carries what the oracle sees when asked why a build failed.
type ExplainRequest struct {
	Context      string
	Modification string
	Failure      string
	Broken       string
	Repaired     string
}
