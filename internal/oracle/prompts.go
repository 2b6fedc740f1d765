package oracle

import (
	"strings"

	"github.com/starford/mira/internal/structure"
)

const contractSystemPrompt = `You are an expert Minecraft redstone engineer.

Write a verification script for the circuit below. Scripts are Starlark (a
Python dialect) and use this API:

  ctx.set_block(pos, block_state)   place a block, e.g. flip a lever
  ctx.tick(n)                       advance the simulation n game ticks
  ctx.assert_block(pos, block_state) fail unless the block matches
  ctx.assert_power(pos, min_level)  fail unless redstone power >= min_level

Positions are (x, y, z) tuples relative to the schematic.

Steps:
1. Find the INPUT (levers, buttons, observers) and the OUTPUT (pistons, lamps, doors).
2. Define verify_circuit(ctx) that asserts the initial state, triggers the
   input, ticks 10 to 20 ticks and asserts the final state.
3. Output only the code. No markdown, no explanations.`

const deconstructSystemPrompt = `You are a reverse-engineering architect.

You are given the blocks of a Minecraft redstone machine. Identify a logical
layer that can be removed to return the machine to a previous, simpler state.
Construction is being simulated in reverse.

Removal rules:
1. Outputs and decoration first: frames, lamps, final pushed blocks.
2. Control wiring second: redstone dust, levers, buttons.
3. Core mechanisms last: pistons, observers, droppers.
4. Never remove a block while something it supports is still above it.

Answer with a JSON object:
{"reasoning": "why this layer comes off next", "remove_blocks": [[x,y,z], ...]}`

const explainSystemPrompt = `You are an expert Minecraft redstone engineer
teaching a student to debug circuits. Given a working circuit, a broken copy
and the failed check, explain in a few sentences what is wrong and how to fix
it. Refer to blocks by position.`

func blockList(records []structure.Record) string {
	return strings.TrimRight(structure.Describe(records), "\n")
}

func contractUserPrompt(meta structure.Metadata, records []structure.Record) string {
	name := meta.Name
	if name == "" {
		name = "Unknown Schematic"
	}
	desc := meta.Description
	if desc == "" {
		desc = "No description provided."
	}
	var b strings.Builder
	b.WriteString("[METADATA]\nName: " + name + "\nDescription: " + desc + "\n\n")
	b.WriteString("[BLOCK_LIST]\n# Relative coordinates (x, y, z)\n")
	b.WriteString(blockList(records))
	b.WriteString("\n\n[TASK]\nWrite the verify_circuit(ctx) function.")
	return b.String()
}

func deconstructUserPrompt(remaining []structure.Record) string {
	return "[CURRENT_STATE]\n" + blockList(remaining) +
		"\n\n[TASK]\nIdentify the next set of blocks to delete to strip this down to the skeleton."
}

func explainUserPrompt(req ExplainRequest) string {
	var b strings.Builder
	b.WriteString("[CONTEXT]\n" + req.Context + "\n\n")
	b.WriteString("[WORKING]\n" + strings.TrimRight(req.Repaired, "\n") + "\n\n")
	b.WriteString("[BROKEN]\n" + strings.TrimRight(req.Broken, "\n") + "\n\n")
	b.WriteString("[FAILURE]\n" + req.Failure + "\n\n")
	b.WriteString("[TASK]\nExplain the fault and the repair.")
	return b.String()
}
