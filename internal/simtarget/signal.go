package simtarget

import (
	"strconv"

	"github.com/starford/mira/internal/structure"
)

const maxPower = 15

var neighbours = []structure.Position{
	{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {Z: 1}, {Z: -1},
}

func isSource(st structure.BlockState) bool {
	switch st.ID {
	case "minecraft:redstone_block":
		return true
	case "minecraft:lever":
		return st.Props["powered"] == "true"
	case "minecraft:redstone_torch", "minecraft:redstone_wall_torch":
		return st.Props["lit"] != "false"
	}
	return false
}

func isWire(st structure.BlockState) bool { return st.ID == "minecraft:redstone_wire" }

func isLamp(st structure.BlockState) bool { return st.ID == "minecraft:redstone_lamp" }

// propagate recomputes wire power and lamp state from the current sources.
// Power enters a wire adjacent to a source at full strength and loses one
// level per wire step. It returns the number of blocks it changed.
func (w *World) propagate() int {
	level := make(map[structure.Position]int)
	var queue []structure.Position
	for p, c := range w.blocks {
		if !isSource(c.state) {
			continue
		}
		for _, d := range neighbours {
			n := p.Add(d)
			if nc, ok := w.blocks[n]; ok && isWire(nc.state) && level[n] < maxPower {
				level[n] = maxPower
				queue = append(queue, n)
			}
		}
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		next := level[p] - 1
		if next <= 0 {
			continue
		}
		for _, d := range neighbours {
			n := p.Add(d)
			if nc, ok := w.blocks[n]; ok && isWire(nc.state) && level[n] < next {
				level[n] = next
				queue = append(queue, n)
			}
		}
	}

	changed := 0
	for p, c := range w.blocks {
		switch {
		case isWire(c.state):
			v := strconv.Itoa(level[p])
			if c.state.Props["power"] != v {
				setProp(c, "power", v)
				changed++
			}
		case isLamp(c.state):
			v := strconv.FormatBool(w.energised(p, level))
			if c.state.Props["lit"] != v {
				setProp(c, "lit", v)
				changed++
			}
		}
	}
	return changed
}

// energised reports whether p touches a source or a powered wire.
func (w *World) energised(p structure.Position, level map[structure.Position]int) bool {
	for _, d := range neighbours {
		n := p.Add(d)
		if level[n] > 0 {
			return true
		}
		if c, ok := w.blocks[n]; ok && isSource(c.state) {
			return true
		}
	}
	return false
}

func (w *World) powerAt(p structure.Position) int {
	c, ok := w.blocks[p]
	if !ok {
		return 0
	}
	if isSource(c.state) {
		return maxPower
	}
	if isWire(c.state) {
		n, _ := strconv.Atoi(c.state.Props["power"])
		return n
	}
	if isLamp(c.state) && c.state.Props["lit"] == "true" {
		return maxPower
	}
	return 0
}
