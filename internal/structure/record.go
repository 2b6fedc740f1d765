// Package structure holds the canonical flat block model of a schematic and the
// math that maps region-local storage into schematic space.
package structure

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

// AirID is the empty material. It is never materialised as a Record.
const AirID = "minecraft:air"

// Position is an integer coordinate in schematic-local space. It may be negative.
type Position struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

// Add returns p translated by o.
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// Above returns the position directly above p.
func (p Position) Above() Position {
	return Position{X: p.X, Y: p.Y + 1, Z: p.Z}
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d, %d)", p.X, p.Y, p.Z)
}

// Less orders positions by Y, then X, then Z.
func (p Position) Less(o Position) bool {
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	if p.X != o.X {
		return p.X < o.X
	}
	return p.Z < o.Z
}

// BlockState is a namespaced block id plus its property map.
type BlockState struct {
	ID    string            `json:"id"`
	Props map[string]string `json:"props,omitempty"`
}

// String renders id[k=v,...] with keys in sorted order so equal states compare
// equal as strings.
func (s BlockState) String() string {
	if len(s.Props) == 0 {
		return s.ID
	}
	keys := make([]string, 0, len(s.Props))
	for k := range s.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(s.ID)
	b.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Props[k])
	}
	b.WriteByte(']')
	return b.String()
}

// IsAir reports whether s is one of the empty materials.
func (s BlockState) IsAir() bool {
	switch s.ID {
	case "", AirID, "minecraft:cave_air", "minecraft:void_air":
		return true
	}
	return false
}

// Base returns the id without its namespace.
func (s BlockState) Base() string {
	if i := strings.IndexByte(s.ID, ':'); i >= 0 {
		return s.ID[i+1:]
	}
	return s.ID
}

// Clone returns a copy that shares no map with s.
func (s BlockState) Clone() BlockState {
	return BlockState{ID: s.ID, Props: maps.Clone(s.Props)}
}

// ParseState parses "id[k=v,...]". A bare id without namespace gets "minecraft:".
func ParseState(raw string) (BlockState, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return BlockState{}, fmt.Errorf("structure: empty block state")
	}
	id, rest, hasProps := strings.Cut(raw, "[")
	id = strings.TrimSpace(id)
	if !strings.Contains(id, ":") {
		id = "minecraft:" + id
	}
	st := BlockState{ID: id}
	if !hasProps {
		return st, nil
	}
	if !strings.HasSuffix(rest, "]") {
		return BlockState{}, fmt.Errorf("structure: unterminated properties in %q", raw)
	}
	rest = strings.TrimSuffix(rest, "]")
	if rest == "" {
		return st, nil
	}
	st.Props = make(map[string]string)
	for _, pair := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return BlockState{}, fmt.Errorf("structure: bad property %q in %q", pair, raw)
		}
		st.Props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return st, nil
}

// MustState is ParseState for literals in tests and tables.
func MustState(raw string) BlockState {
	s, err := ParseState(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Kind distinguishes block records from entity pseudo-records.
type Kind string

const (
	KindBlock  Kind = "block"
	KindEntity Kind = "entity"
)

// EntityPrefix marks entity pseudo-record ids.
const EntityPrefix = "entity:"

// Record is one non-empty cell (or one entity) of a schematic.
type Record struct {
	Pos     Position   `json:"pos"`
	State   BlockState `json:"state"`
	Payload Payload    `json:"payload,omitempty"`
	Kind    Kind       `json:"kind"`
	// EntityPos is the exact position of an entity record. Pos holds its floor.
	EntityPos [3]float64 `json:"entity_pos,omitempty"`
}

// IsEntity reports whether r is an entity pseudo-record.
func (r Record) IsEntity() bool { return r.Kind == KindEntity }

// EntityType returns the entity type id of an entity record.
func (r Record) EntityType() string {
	return strings.TrimPrefix(r.State.ID, EntityPrefix)
}

// Clone deep-copies r.
func (r Record) Clone() Record {
	out := r
	out.State = r.State.Clone()
	out.Payload = r.Payload.Clone()
	return out
}

// CloneRecords deep-copies a record list.
func CloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// SortForBuild orders records bottom-up: Y, then X, then Z. The sort is stable
// so records sharing a position keep their relative order.
func SortForBuild(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pos.Less(records[j].Pos)
	})
}

// Describe renders records as one "(x, y, z): state" line each, sorted for
// building. It is the text view used in prompts and samples.
func Describe(records []Record) string {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	SortForBuild(sorted)
	var b strings.Builder
	for _, r := range sorted {
		b.WriteString(r.Pos.String())
		b.WriteString(": ")
		b.WriteString(r.State.String())
		b.WriteByte('\n')
	}
	return b.String()
}
