package structure

import (
	"fmt"

	"github.com/starford/mira/internal/apperr"
)

// Tile is an attachment stored in a region's tile list. Pos is the key exactly
// as it appears in the source file; which coordinate convention it follows is
// decided by an AttachmentResolver.
type Tile struct {
	Pos  Position
	Data Payload
}

// Entity is an entity stored with a region-relative float position.
type Entity struct {
	ID   string
	Pos  [3]float64
	Data Payload
}

// Region is one rectangular sub-volume of a schematic. Size holds the signed
// extents; a negative extent grows from the anchor toward negative coordinates.
type Region struct {
	Name     string
	Anchor   Position
	Size     [3]int
	Tiles    []Tile
	Entities []Entity

	palette []BlockState
	index   map[string]uint32
	cells   []uint32
}

// NewRegion allocates an all-air region.
func NewRegion(name string, anchor Position, size [3]int) *Region {
	n := abs(size[0]) * abs(size[1]) * abs(size[2])
	r := &Region{
		Name:    name,
		Anchor:  anchor,
		Size:    size,
		palette: []BlockState{{ID: AirID}},
		index:   map[string]uint32{AirID: 0},
		cells:   make([]uint32, n),
	}
	return r
}

// Volume returns the number of cells in the region.
func (r *Region) Volume() int { return len(r.cells) }

// AxisRange lists the valid local indices along an axis with the given extent:
// 0..e-1 for e > 0 and 0, -1, ..., e+1 for e < 0. Both have |e| members.
func AxisRange(extent int) []int {
	n := abs(extent)
	out := make([]int, n)
	step := 1
	if extent < 0 {
		step = -1
	}
	for i := range out {
		out[i] = i * step
	}
	return out
}

// minLocal is the smallest valid local index on an axis.
func minLocal(extent int) int {
	if extent < 0 {
		return extent + 1
	}
	return 0
}

func (r *Region) offset(local Position) (int, bool) {
	sx, sy, sz := abs(r.Size[0]), abs(r.Size[1]), abs(r.Size[2])
	ox := local.X - minLocal(r.Size[0])
	oy := local.Y - minLocal(r.Size[1])
	oz := local.Z - minLocal(r.Size[2])
	if ox < 0 || oy < 0 || oz < 0 || ox >= sx || oy >= sy || oz >= sz {
		return 0, false
	}
	return (oy*sz+oz)*sx + ox, true
}

// StorageIndex maps a region-relative cell to its index in min-corner storage
// order (y, then z, then x), the order the litematic packed array uses.
func (r *Region) StorageIndex(local Position) (int, bool) { return r.offset(local) }

// LocalAt is the inverse of StorageIndex.
func (r *Region) LocalAt(i int) Position {
	sx, sz := abs(r.Size[0]), abs(r.Size[2])
	ox := i % sx
	oz := (i / sx) % sz
	oy := i / (sx * sz)
	return Position{
		X: ox + minLocal(r.Size[0]),
		Y: oy + minLocal(r.Size[1]),
		Z: oz + minLocal(r.Size[2]),
	}
}

// Set stores a block at a region-relative position.
func (r *Region) Set(local Position, state BlockState) error {
	i, ok := r.offset(local)
	if !ok {
		return fmt.Errorf("structure: %s outside region %q of size %v: %w", local, r.Name, r.Size, apperr.ErrInvalidInput)
	}
	key := state.String()
	idx, ok := r.index[key]
	if !ok {
		idx = uint32(len(r.palette))
		r.palette = append(r.palette, state.Clone())
		r.index[key] = idx
	}
	r.cells[i] = idx
	return nil
}

// At returns the block at a region-relative position, or air when the position
// is outside the region.
func (r *Region) At(local Position) BlockState {
	i, ok := r.offset(local)
	if !ok {
		return BlockState{ID: AirID}
	}
	return r.palette[r.cells[i]]
}

// Schematic is a possibly multi-region structure with its metadata.
type Schematic struct {
	Name        string
	Author      string
	Description string
	Regions     []*Region
}

// Metadata is the descriptive part of a schematic.
type Metadata struct {
	Name        string   `json:"name"`
	Author      string   `json:"author"`
	Description string   `json:"description"`
	Regions     []string `json:"regions"`
}

// Metadata returns the schematic's descriptive fields.
func (s *Schematic) Metadata() Metadata {
	names := make([]string, len(s.Regions))
	for i, r := range s.Regions {
		names[i] = r.Name
	}
	return Metadata{
		Name:        s.Name,
		Author:      s.Author,
		Description: s.Description,
		Regions:     names,
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
