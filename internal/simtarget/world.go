// Package simtarget is an in-memory execution target. It understands the
// command subset the replication engine and verification runner emit and
// answers with server-like text.
package simtarget

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/structure"
)

const maxFillVolume = 32768

// Entity is a summoned entity.
type Entity struct {
	Type string
	Pos  [3]float64
	NBT  string
}

type cell struct {
	state structure.BlockState
	nbt   string
	items []string
}

// World is a transport.Conn over a map of blocks. It is safe for
// concurrent use.
type World struct {
	mu        sync.Mutex
	blocks    map[structure.Position]*cell
	entities  []Entity
	flags     map[string]string
	log       []string
	connected bool
	ticks     int

	failCommands   int
	refuseConnects int
	reject         []string
}

// New returns an empty, disconnected world.
func New() *World {
	return &World{
		blocks: make(map[structure.Position]*cell),
		flags: map[string]string{
			"sendCommandFeedback": "true",
			"fillUpdates":         "true",
			"frozen":              "false",
		},
	}
}

// FailCommands makes the next n commands fail as if the connection dropped.
func (w *World) FailCommands(n int) {
	w.mu.Lock()
	w.failCommands = n
	w.mu.Unlock()
}

// RefuseConnects makes the next n connection attempts fail.
func (w *World) RefuseConnects(n int) {
	w.mu.Lock()
	w.refuseConnects = n
	w.mu.Unlock()
}

// RejectContaining answers commands containing substr with a rejection.
func (w *World) RejectContaining(substr string) {
	w.mu.Lock()
	w.reject = append(w.reject, substr)
	w.mu.Unlock()
}

// Connect implements transport.Conn.
func (w *World) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connectLocked(ctx)
}

func (w *World) connectLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.connected {
		return nil
	}
	if w.refuseConnects > 0 {
		w.refuseConnects--
		return fmt.Errorf("simtarget: connection refused: %w", apperr.ErrTransport)
	}
	w.connected = true
	return nil
}

// Close implements transport.Conn.
func (w *World) Close() error {
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()
	return nil
}

// Command implements transport.Conn. A disconnected world reconnects
// implicitly, like the RCON client.
func (w *World) Command(ctx context.Context, cmd string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.connectLocked(ctx); err != nil {
		return "", err
	}
	if w.failCommands > 0 {
		w.failCommands--
		w.connected = false
		return "", fmt.Errorf("simtarget: connection reset: %w", apperr.ErrTransport)
	}
	w.log = append(w.log, cmd)
	for _, r := range w.reject {
		if strings.Contains(cmd, r) {
			return "Invalid command argument: " + r, nil
		}
	}
	return w.exec(cmd), nil
}

// Commands returns every command delivered so far.
func (w *World) Commands() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.log...)
}

// ResetLog forgets delivered commands.
func (w *World) ResetLog() {
	w.mu.Lock()
	w.log = nil
	w.mu.Unlock()
}

// Flag returns the current value of a gamerule, carpet or tick flag.
func (w *World) Flag(name string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flags[name]
}

// Block returns the state at p and whether a non-air block is there.
func (w *World) Block(p structure.Position) (structure.BlockState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.blocks[p]
	if !ok {
		return structure.BlockState{ID: structure.AirID}, false
	}
	return c.state.Clone(), true
}

// Items returns the item entries appended to the block at p.
func (w *World) Items(p structure.Position) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.blocks[p]; ok {
		return append([]string(nil), c.items...)
	}
	return nil
}

// Entities returns the live entities.
func (w *World) Entities() []Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Entity(nil), w.entities...)
}

// Snapshot renders every non-air block with its data, for comparing worlds.
func (w *World) Snapshot() map[structure.Position]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[structure.Position]string, len(w.blocks))
	for p, c := range w.blocks {
		out[p] = c.state.String() + c.nbt + "|" + strings.Join(c.items, ";")
	}
	return out
}

// Ticks returns how many game ticks were stepped.
func (w *World) Ticks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ticks
}

const unknownCommand = "Unknown or incomplete command, see below for error"

func (w *World) exec(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return unknownCommand
	}
	switch fields[0] {
	case "setblock":
		return w.setBlock(cmd)
	case "fill":
		return w.fill(fields)
	case "kill":
		return w.kill(fields)
	case "summon":
		return w.summon(cmd)
	case "data":
		return w.dataAppend(cmd)
	case "gamerule":
		if len(fields) != 3 {
			return unknownCommand
		}
		w.flags[fields[1]] = fields[2]
		return fmt.Sprintf("Gamerule %s is now set to: %s", fields[1], fields[2])
	case "carpet":
		if len(fields) != 3 {
			return unknownCommand
		}
		w.flags[fields[1]] = fields[2]
		return fmt.Sprintf("%s: %s", fields[1], fields[2])
	case "tick":
		return w.tick(fields)
	case "mira_api":
		return w.api(fields)
	}
	return unknownCommand
}

func parseCoords(fields []string) (structure.Position, bool) {
	if len(fields) < 3 {
		return structure.Position{}, false
	}
	var v [3]int
	for i := range 3 {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return structure.Position{}, false
		}
		v[i] = n
	}
	return structure.Position{X: v[0], Y: v[1], Z: v[2]}, true
}

// splitStateData separates "id[props]{nbt}" into state and nbt text.
func splitStateData(s string) (structure.BlockState, string, error) {
	raw, nbt := s, ""
	if i := strings.IndexByte(s, '{'); i >= 0 {
		raw, nbt = s[:i], s[i:]
	}
	st, err := structure.ParseState(raw)
	return st, nbt, err
}

func (w *World) setBlock(cmd string) string {
	parts := strings.SplitN(cmd, " ", 5)
	if len(parts) != 5 {
		return unknownCommand
	}
	p, ok := parseCoords(parts[1:4])
	if !ok {
		return "Expected integer coordinates"
	}
	st, nbt, err := splitStateData(parts[4])
	if err != nil {
		return "Invalid block state: " + err.Error()
	}
	w.put(p, st, nbt)
	return fmt.Sprintf("Changed the block at %d, %d, %d", p.X, p.Y, p.Z)
}

func (w *World) put(p structure.Position, st structure.BlockState, nbt string) {
	if st.IsAir() {
		delete(w.blocks, p)
		return
	}
	w.blocks[p] = &cell{state: st, nbt: nbt}
}

func (w *World) fill(fields []string) string {
	if len(fields) != 8 {
		return unknownCommand
	}
	a, ok1 := parseCoords(fields[1:4])
	b, ok2 := parseCoords(fields[4:7])
	if !ok1 || !ok2 {
		return "Expected integer coordinates"
	}
	st, err := structure.ParseState(fields[7])
	if err != nil {
		return "Invalid block state: " + err.Error()
	}
	lo := structure.Position{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)}
	hi := structure.Position{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)}
	vol := (hi.X - lo.X + 1) * (hi.Y - lo.Y + 1) * (hi.Z - lo.Z + 1)
	if vol > maxFillVolume {
		return fmt.Sprintf("Error: too many blocks in the specified area (maximum %d, specified %d)", maxFillVolume, vol)
	}
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				w.put(structure.Position{X: x, Y: y, Z: z}, st, "")
			}
		}
	}
	return fmt.Sprintf("Successfully filled %d block(s)", vol)
}

// kill understands @e[x=,y=,z=,dx=,dy=,dz=,type=!player].
func (w *World) kill(fields []string) string {
	if len(fields) != 2 || !strings.HasPrefix(fields[1], "@e[") || !strings.HasSuffix(fields[1], "]") {
		return unknownCommand
	}
	args := map[string]float64{}
	for _, kv := range strings.Split(strings.TrimSuffix(strings.TrimPrefix(fields[1], "@e["), "]"), ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return "Expected key=value in selector"
		}
		if k == "type" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "Invalid selector value " + kv
		}
		args[k] = f
	}
	inside := func(e Entity) bool {
		for i, axis := range []string{"x", "y", "z"} {
			lo := args[axis]
			if e.Pos[i] < lo || e.Pos[i] >= lo+args["d"+axis]+1 {
				return false
			}
		}
		return true
	}
	kept := w.entities[:0]
	killed := 0
	for _, e := range w.entities {
		if inside(e) {
			killed++
			continue
		}
		kept = append(kept, e)
	}
	w.entities = kept
	if killed == 0 {
		return "No entity was found"
	}
	return fmt.Sprintf("Killed %d entities", killed)
}

func (w *World) summon(cmd string) string {
	parts := strings.SplitN(cmd, " ", 6)
	if len(parts) < 5 {
		return unknownCommand
	}
	var pos [3]float64
	for i := range 3 {
		f, err := strconv.ParseFloat(parts[2+i], 64)
		if err != nil {
			return "Expected a coordinate"
		}
		pos[i] = f
	}
	e := Entity{Type: parts[1], Pos: pos}
	if len(parts) == 6 {
		e.NBT = parts[5]
	}
	w.entities = append(w.entities, e)
	return "Summoned new " + parts[1]
}

// dataAppend understands "data modify block x y z Items append value <snbt>".
func (w *World) dataAppend(cmd string) string {
	parts := strings.SplitN(cmd, " ", 10)
	if len(parts) != 10 || parts[1] != "modify" || parts[2] != "block" || parts[7] != "append" || parts[8] != "value" {
		return unknownCommand
	}
	p, ok := parseCoords(parts[3:6])
	if !ok {
		return "Expected integer coordinates"
	}
	c, found := w.blocks[p]
	if !found {
		return "Error: target block is not a block entity"
	}
	c.items = append(c.items, parts[9])
	return fmt.Sprintf("Modified block data of %d, %d, %d", p.X, p.Y, p.Z)
}

func (w *World) tick(fields []string) string {
	if len(fields) < 2 {
		return unknownCommand
	}
	switch fields[1] {
	case "freeze":
		w.flags["frozen"] = "true"
		return "The game is frozen"
	case "unfreeze":
		w.flags["frozen"] = "false"
		return "The game is running"
	case "step":
		n := 1
		if len(fields) == 3 {
			v, err := strconv.Atoi(fields[2])
			if err != nil || v < 1 {
				return "Invalid integer " + fields[2]
			}
			n = v
		}
		w.ticks += n
		w.propagate()
		return fmt.Sprintf("Stepping %d tick(s)", n)
	}
	return unknownCommand
}

func (w *World) api(fields []string) string {
	if len(fields) < 2 {
		return unknownCommand
	}
	switch fields[1] {
	case "check_block":
		if len(fields) != 6 {
			return unknownCommand
		}
		p, ok := parseCoords(fields[2:5])
		if !ok {
			return "Expected integer coordinates"
		}
		want, err := structure.ParseState(fields[5])
		if err != nil {
			return "Invalid block state: " + err.Error()
		}
		got := structure.BlockState{ID: structure.AirID}
		if c, ok := w.blocks[p]; ok {
			got = c.state
		}
		if matches(got, want) {
			return "PASS"
		}
		return "FAIL " + got.String()
	case "check_power":
		if len(fields) != 6 {
			return unknownCommand
		}
		p, ok := parseCoords(fields[2:5])
		if !ok {
			return "Expected integer coordinates"
		}
		minLevel, err := strconv.Atoi(fields[5])
		if err != nil {
			return "Invalid integer " + fields[5]
		}
		lvl := w.powerAt(p)
		if lvl >= minLevel {
			return "PASS"
		}
		return fmt.Sprintf("FAIL %d", lvl)
	case "update_region":
		n := w.propagate()
		return fmt.Sprintf("Updated %d blocks", n)
	}
	return unknownCommand
}

// matches reports whether got has want's id and every property want names.
func matches(got, want structure.BlockState) bool {
	if want.IsAir() {
		return got.IsAir()
	}
	if got.ID != want.ID {
		return false
	}
	for k, v := range want.Props {
		if got.Props[k] != v {
			return false
		}
	}
	return true
}

func setProp(c *cell, k, v string) {
	props := maps.Clone(c.state.Props)
	if props == nil {
		props = make(map[string]string, 1)
	}
	props[k] = v
	c.state.Props = props
}
