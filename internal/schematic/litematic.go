package schematic

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"math/bits"
	"sort"

	"github.com/Tnze/go-mc/nbt"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/structure"
)

// Litematic decodes gzip-compressed .litematic files.
type Litematic struct{}

type litematicFile struct {
	Version              int32                      `nbt:"Version"`
	MinecraftDataVersion int32                      `nbt:"MinecraftDataVersion"`
	Metadata             litematicMeta              `nbt:"Metadata"`
	Regions              map[string]litematicRegion `nbt:"Regions"`
}

type litematicMeta struct {
	Name        string `nbt:"Name"`
	Author      string `nbt:"Author"`
	Description string `nbt:"Description"`
}

type vec3i struct {
	X int32 `nbt:"x"`
	Y int32 `nbt:"y"`
	Z int32 `nbt:"z"`
}

type litematicRegion struct {
	Position          vec3i            `nbt:"Position"`
	Size              vec3i            `nbt:"Size"`
	BlockStatePalette []paletteEntry   `nbt:"BlockStatePalette"`
	BlockStates       []int64          `nbt:"BlockStates"`
	TileEntities      []map[string]any `nbt:"TileEntities"`
	Entities          []map[string]any `nbt:"Entities"`
}

type paletteEntry struct {
	Name       string            `nbt:"Name"`
	Properties map[string]string `nbt:"Properties,omitempty"`
}

// Load implements Codec.
func (Litematic) Load(path string) (*structure.Schematic, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s, err := decodeLitematic(data)
	if err != nil {
		return nil, fmt.Errorf("schematic: %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = nameFromPath(path)
	}
	return s, nil
}

func decodeLitematic(data []byte) (*structure.Schematic, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w: %w", err, apperr.ErrInvalidInput)
	}
	defer zr.Close()

	var f litematicFile
	if _, err := nbt.NewDecoder(zr).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode nbt: %w: %w", err, apperr.ErrInvalidInput)
	}

	s := &structure.Schematic{
		Name:        f.Metadata.Name,
		Author:      f.Metadata.Author,
		Description: f.Metadata.Description,
	}
	names := make([]string, 0, len(f.Regions))
	for name := range f.Regions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r, err := convertRegion(name, f.Regions[name])
		if err != nil {
			return nil, err
		}
		s.Regions = append(s.Regions, r)
	}
	return s, nil
}

func convertRegion(name string, lr litematicRegion) (*structure.Region, error) {
	size := [3]int{int(lr.Size.X), int(lr.Size.Y), int(lr.Size.Z)}
	anchor := structure.Position{X: int(lr.Position.X), Y: int(lr.Position.Y), Z: int(lr.Position.Z)}
	r := structure.NewRegion(name, anchor, size)
	if r.Volume() == 0 {
		return r, nil
	}
	if len(lr.BlockStatePalette) == 0 {
		return nil, fmt.Errorf("region %q: empty palette: %w", name, apperr.ErrInvalidInput)
	}

	palette := make([]structure.BlockState, len(lr.BlockStatePalette))
	for i, p := range lr.BlockStatePalette {
		palette[i] = structure.BlockState{ID: p.Name, Props: p.Properties}
	}

	width := bitsFor(len(palette))
	values, err := unpackStates(lr.BlockStates, width, r.Volume())
	if err != nil {
		return nil, fmt.Errorf("region %q: %w", name, err)
	}
	for i, v := range values {
		if int(v) >= len(palette) {
			return nil, fmt.Errorf("region %q: palette index %d out of range: %w", name, v, apperr.ErrInvalidInput)
		}
		st := palette[v]
		if st.IsAir() {
			continue
		}
		if err := r.Set(r.LocalAt(i), st); err != nil {
			return nil, err
		}
	}

	for _, te := range lr.TileEntities {
		r.Tiles = append(r.Tiles, structure.Tile{
			Pos: structure.Position{
				X: toInt(te["x"]),
				Y: toInt(te["y"]),
				Z: toInt(te["z"]),
			},
			Data: structure.Payload(te),
		})
	}
	for _, e := range lr.Entities {
		id, _ := e["id"].(string)
		pos, ok := toVec3(e["Pos"])
		if id == "" || !ok {
			continue
		}
		r.Entities = append(r.Entities, structure.Entity{ID: id, Pos: pos, Data: structure.Payload(e)})
	}
	return r, nil
}

// bitsFor is the entry width litematica uses for a palette of n states.
func bitsFor(n int) int {
	return max(2, bits.Len(uint(n-1)))
}

// unpackStates reads count entries of the given width from a packed long array.
// Entries may straddle two longs.
func unpackStates(longs []int64, width, count int) ([]uint32, error) {
	need := (count*width + 63) / 64
	if len(longs) < need {
		return nil, fmt.Errorf("block state array has %d longs, need %d: %w", len(longs), need, apperr.ErrInvalidInput)
	}
	mask := uint64(1)<<uint(width) - 1
	out := make([]uint32, count)
	for i := range out {
		start := i * width
		lo := start / 64
		off := uint(start % 64)
		hi := ((i+1)*width - 1) / 64
		v := uint64(longs[lo]) >> off
		if hi != lo {
			v |= uint64(longs[hi]) << (64 - off)
		}
		out[i] = uint32(v & mask)
	}
	return out, nil
}

// packStates is the inverse of unpackStates.
func packStates(values []uint32, width int) []int64 {
	longs := make([]uint64, (len(values)*width+63)/64)
	for i, v := range values {
		start := i * width
		lo := start / 64
		off := uint(start % 64)
		hi := ((i+1)*width - 1) / 64
		longs[lo] |= uint64(v) << off
		if hi != lo {
			longs[hi] |= uint64(v) >> (64 - off)
		}
	}
	out := make([]int64, len(longs))
	for i, l := range longs {
		out[i] = int64(l)
	}
	return out
}

func toInt(v any) int {
	switch t := v.(type) {
	case int8:
		return int(t)
	case int16:
		return int(t)
	case int32:
		return int(t)
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	}
	return 0
}

func toVec3(v any) ([3]float64, bool) {
	var out [3]float64
	switch t := v.(type) {
	case []float64:
		if len(t) < 3 {
			return out, false
		}
		copy(out[:], t)
		return out, true
	case []any:
		if len(t) < 3 {
			return out, false
		}
		for i := 0; i < 3; i++ {
			switch f := t[i].(type) {
			case float64:
				out[i] = f
			case float32:
				out[i] = float64(f)
			default:
				out[i] = float64(toInt(f))
			}
		}
		return out, true
	}
	return out, false
}
