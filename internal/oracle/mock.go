package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/mira/internal/structure"
)

// Mock answers offline. Contracts are canned per schematic-name keyword and
// removal follows a top-layer heuristic.
type Mock struct{}

var _ Oracle = Mock{}

type cannedContract struct {
	keywords []string
	script   string
}

var cannedContracts = []cannedContract{
	{
		keywords: []string{"lamp"},
		script: `def verify_circuit(ctx):
    ctx.assert_block((2, 1, 0), "minecraft:redstone_lamp[lit=false]")
    ctx.set_block((0, 1, 0), "minecraft:lever[face=floor,facing=east,powered=true]")
    ctx.tick(12)
    ctx.assert_block((2, 1, 0), "minecraft:redstone_lamp[lit=true]")`,
	},
	{
		keywords: []string{"hopper"},
		script: `def verify_circuit(ctx):
    ctx.assert_block((0, 2, 0), "minecraft:chest[facing=west]")
    ctx.assert_block((0, 1, 0), "minecraft:hopper[facing=down]")
    ctx.assert_block((0, 0, 0), "minecraft:chest[facing=west]")`,
	},
	{
		keywords: []string{"door", "piston"},
		script: `def verify_circuit(ctx):
    ctx.assert_block((1, 1, 1), "minecraft:stone")
    ctx.assert_block((1, 2, 1), "minecraft:stone")
    ctx.set_block((2, 4, 1), "minecraft:lever[face=floor,facing=north,powered=true]")
    ctx.tick(15)
    ctx.assert_block((2, 1, 1), "minecraft:stone")`,
	},
}

const defaultContract = `def verify_circuit(ctx):
    ctx.tick(5)`

// GenerateContract picks a canned contract by name.
func (Mock) GenerateContract(_ context.Context, meta structure.Metadata, records []structure.Record) (Contract, error) {
	c := Contract{
		Prompt: Prompt{System: contractSystemPrompt, User: contractUserPrompt(meta, records)},
		Script: defaultContract,
	}
	name := strings.ToLower(meta.Name)
	for _, cc := range cannedContracts {
		for _, kw := range cc.keywords {
			if strings.Contains(name, kw) {
				c.Script = cc.script
				return c, nil
			}
		}
	}
	return c, nil
}

// SuggestRemoval proposes every remaining cell on the highest Y layer.
func (Mock) SuggestRemoval(_ context.Context, remaining []structure.Record, _ int) (Suggestion, error) {
	s := Suggestion{Prompt: Prompt{System: deconstructSystemPrompt, User: deconstructUserPrompt(remaining)}}
	if len(remaining) == 0 {
		s.Reasoning = "Structure already empty."
		return s, nil
	}
	top := remaining[0].Pos.Y
	for _, r := range remaining[1:] {
		top = max(top, r.Pos.Y)
	}
	for _, r := range remaining {
		if r.Pos.Y == top {
			s.Remove = append(s.Remove, r.Pos)
		}
	}
	s.Reasoning = fmt.Sprintf("Removing all blocks at Y=%d, one layer at a time from the top.", top)
	return s, nil
}

// Explain fills a template from the modification and failure text.
func (Mock) Explain(_ context.Context, req ExplainRequest) (string, error) {
	mod := req.Modification
	if mod == "" {
		mod = "a block differs from the working build"
	}
	return fmt.Sprintf("The circuit fails its check because %s. Observed failure: %s. Restoring the original block returns the circuit to its working state.",
		mod, strings.TrimSpace(req.Failure)), nil
}
