package mcpserver

// ContractFormat describes verification contracts for LLM clients that
// write or review them.
const ContractFormat = `# Mira Verification Contract Format

A verification contract is a Starlark (Python dialect) script that proves a
redstone circuit works. It is run against a freshly built copy of the
schematic; a failed assertion means the circuit is broken.

## Structure

` + "```" + `python
def verify_circuit(ctx):
    ctx.assert_block((2, 1, 0), "minecraft:redstone_lamp[lit=false]")
    ctx.set_block((0, 1, 0), "minecraft:lever[face=floor,facing=east,powered=true]")
    ctx.tick(12)
    ctx.assert_block((2, 1, 0), "minecraft:redstone_lamp[lit=true]")
` + "```" + `

## ctx API

| call | effect |
|---|---|
| ` + "`" + `ctx.set_block(pos, block_state)` + "`" + ` | place a block, e.g. flip a lever |
| ` + "`" + `ctx.tick(n)` + "`" + ` | advance the frozen game by n ticks |
| ` + "`" + `ctx.assert_block(pos, block_state)` + "`" + ` | fail unless the block matches |
| ` + "`" + `ctx.assert_power(pos, min_level)` + "`" + ` | fail unless redstone power >= min_level |

## Rules

1. **One entry point.** The script MUST define ` + "`" + `verify_circuit(ctx)` + "`" + ` with
   exactly one parameter. Helper functions are allowed.
2. **Positions** are ` + "`" + `(x, y, z)` + "`" + ` tuples relative to the schematic origin,
   the same coordinates inspect_schematic reports.
3. **Block states** use the namespaced id with optional properties:
   ` + "`" + `minecraft:repeater[delay=2,facing=north]` + "`" + `. An assertion only checks the
   properties it names.
4. **Time is frozen** while the contract runs. Nothing changes until
   ` + "`" + `ctx.tick(n)` + "`" + ` is called; 10 to 20 ticks is enough for most circuits.
5. **Assert the initial state** before triggering the input, so a contract
   cannot pass on a circuit that was already in its final state.
6. **No I/O.** Starlark has no file, network or clock access; ` + "`" + `print` + "`" + ` goes
   to the debug log.
`
