package replicate

import (
	"fmt"
	"strconv"

	"github.com/starford/mira/internal/structure"
)

// maxFillVolume is the server's per-command fill ceiling.
const maxFillVolume = 32768

// fillChunk is the edge of the cubes a large clear is split into.
const fillChunk = 32

// cuboid is an inclusive block range in absolute coordinates.
type cuboid struct {
	Min, Max structure.Position
}

func (c cuboid) volume() int {
	return (c.Max.X - c.Min.X + 1) * (c.Max.Y - c.Min.Y + 1) * (c.Max.Z - c.Min.Z + 1)
}

// clearingVolume is the schematic box translated to the origin and padded by
// one block on the negative side. Max is the exclusive bound reused as an
// inclusive coordinate.
func clearingVolume(bounds structure.Box, origin structure.Position) cuboid {
	abs := bounds.Translate(origin)
	return cuboid{
		Min: structure.Position{X: abs.Min.X - 1, Y: abs.Min.Y - 1, Z: abs.Min.Z - 1},
		Max: abs.Max,
	}
}

// split breaks c into cubes of at most fillChunk per edge, iterating x, y, z.
func (c cuboid) split() []cuboid {
	var out []cuboid
	for x := c.Min.X; x <= c.Max.X; x += fillChunk {
		for y := c.Min.Y; y <= c.Max.Y; y += fillChunk {
			for z := c.Min.Z; z <= c.Max.Z; z += fillChunk {
				out = append(out, cuboid{
					Min: structure.Position{X: x, Y: y, Z: z},
					Max: structure.Position{
						X: min(x+fillChunk-1, c.Max.X),
						Y: min(y+fillChunk-1, c.Max.Y),
						Z: min(z+fillChunk-1, c.Max.Z),
					},
				})
			}
		}
	}
	return out
}

func cmdFill(c cuboid, material string) string {
	return fmt.Sprintf("fill %d %d %d %d %d %d %s", c.Min.X, c.Min.Y, c.Min.Z, c.Max.X, c.Max.Y, c.Max.Z, material)
}

func cmdKillNonPlayers(c cuboid) string {
	return fmt.Sprintf("kill @e[x=%d,y=%d,z=%d,dx=%d,dy=%d,dz=%d,type=!player]",
		c.Min.X, c.Min.Y, c.Min.Z, c.Max.X-c.Min.X, c.Max.Y-c.Min.Y, c.Max.Z-c.Min.Z)
}

func cmdSetBlock(p structure.Position, state structure.BlockState, payload structure.Payload) string {
	cmd := fmt.Sprintf("setblock %d %d %d %s", p.X, p.Y, p.Z, state)
	if len(payload) > 0 {
		cmd += structure.FormatSNBT(payload)
	}
	return cmd
}

func cmdAppendItem(p structure.Position, item any) string {
	return fmt.Sprintf("data modify block %d %d %d Items append value %s", p.X, p.Y, p.Z, structure.FormatSNBT(item))
}

func cmdSummon(entityType string, pos [3]float64, payload structure.Payload) string {
	cmd := fmt.Sprintf("summon %s %s %s %s", entityType, ftoa(pos[0]), ftoa(pos[1]), ftoa(pos[2]))
	if len(payload) > 0 {
		cmd += " " + structure.FormatSNBT(payload)
	}
	return cmd
}

func cmdUpdateRegion(c cuboid) string {
	return fmt.Sprintf("mira_api update_region %d %d %d %d %d %d", c.Min.X, c.Min.Y, c.Min.Z, c.Max.X, c.Max.Y, c.Max.Z)
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
