package structure

import (
	"fmt"
	"math"

	"github.com/starford/mira/internal/apperr"
)

// Box is an axis-aligned volume with inclusive Min and exclusive Max.
type Box struct {
	Min Position `json:"min"`
	Max Position `json:"max"`
}

// Translate returns b moved by o.
func (b Box) Translate(o Position) Box {
	return Box{Min: b.Min.Add(o), Max: b.Max.Add(o)}
}

// Empty reports whether b contains no cells.
func (b Box) Empty() bool {
	return b.Max.X <= b.Min.X || b.Max.Y <= b.Min.Y || b.Max.Z <= b.Min.Z
}

// AttachmentResolver decides which tile-list keys may hold the attachment of
// a cell. Candidates are tried in order and the first match wins.
type AttachmentResolver interface {
	Candidates(local, anchor Position) []Position
}

// ResolverFunc adapts a function to AttachmentResolver.
type ResolverFunc func(local, anchor Position) []Position

// Candidates implements AttachmentResolver.
func (f ResolverFunc) Candidates(local, anchor Position) []Position { return f(local, anchor) }

var (
	// LocalThenAnchored tries the region-relative key first, then the key
	// translated by the region anchor. Files in the wild use both conventions.
	LocalThenAnchored AttachmentResolver = ResolverFunc(func(local, anchor Position) []Position {
		return []Position{local, local.Add(anchor)}
	})
	// LocalOnly trusts region-relative keys only.
	LocalOnly AttachmentResolver = ResolverFunc(func(local, _ Position) []Position {
		return []Position{local}
	})
	// AnchoredOnly trusts anchor-translated keys only.
	AnchoredOnly AttachmentResolver = ResolverFunc(func(local, anchor Position) []Position {
		return []Position{local.Add(anchor)}
	})
)

// Resolver names accepted by ResolverByName.
const (
	ResolverLocalFirst = "local_first"
	ResolverLocal      = "local"
	ResolverAnchored   = "anchored"
)

// ResolverByName maps a configuration value to a resolver.
func ResolverByName(name string) (AttachmentResolver, error) {
	switch name {
	case "", ResolverLocalFirst:
		return LocalThenAnchored, nil
	case ResolverLocal:
		return LocalOnly, nil
	case ResolverAnchored:
		return AnchoredOnly, nil
	}
	return nil, fmt.Errorf("structure: unknown attachment resolver %q", name)
}

type parseOptions struct {
	resolver AttachmentResolver
}

// ParseOption configures Parse.
type ParseOption func(*parseOptions)

// WithResolver selects the attachment coordinate convention.
func WithResolver(r AttachmentResolver) ParseOption {
	return func(o *parseOptions) {
		if r != nil {
			o.resolver = r
		}
	}
}

// coordinateKeys are stripped from matched attachments; the record position is
// authoritative.
var coordinateKeys = []string{"x", "y", "z"}

// Parse flattens every region into schematic-space records. Air cells are
// dropped. Entity records are emitted before the blocks of their region.
func Parse(s *Schematic, opts ...ParseOption) ([]Record, Metadata, error) {
	o := parseOptions{resolver: LocalThenAnchored}
	for _, opt := range opts {
		opt(&o)
	}
	if err := validate(s); err != nil {
		return nil, Metadata{}, err
	}

	var out []Record
	for _, r := range s.Regions {
		for _, e := range r.Entities {
			pos := [3]float64{
				e.Pos[0] + float64(r.Anchor.X),
				e.Pos[1] + float64(r.Anchor.Y),
				e.Pos[2] + float64(r.Anchor.Z),
			}
			out = append(out, Record{
				Pos: Position{
					X: int(math.Floor(pos[0])),
					Y: int(math.Floor(pos[1])),
					Z: int(math.Floor(pos[2])),
				},
				State:     BlockState{ID: EntityPrefix + e.ID},
				Payload:   e.Data.Clone(),
				Kind:      KindEntity,
				EntityPos: pos,
			})
		}

		tiles := make(map[Position]Payload, len(r.Tiles))
		for _, t := range r.Tiles {
			if _, dup := tiles[t.Pos]; !dup {
				tiles[t.Pos] = t.Data
			}
		}

		for _, y := range AxisRange(r.Size[1]) {
			for _, x := range AxisRange(r.Size[0]) {
				for _, z := range AxisRange(r.Size[2]) {
					local := Position{X: x, Y: y, Z: z}
					st := r.At(local)
					if st.IsAir() {
						continue
					}
					out = append(out, Record{
						Pos:     local.Add(r.Anchor),
						State:   st.Clone(),
						Payload: resolveAttachment(o.resolver, tiles, local, r.Anchor),
						Kind:    KindBlock,
					})
				}
			}
		}
	}
	return out, s.Metadata(), nil
}

func resolveAttachment(res AttachmentResolver, tiles map[Position]Payload, local, anchor Position) Payload {
	if len(tiles) == 0 {
		return nil
	}
	for _, c := range res.Candidates(local, anchor) {
		if data, ok := tiles[c]; ok {
			return data.Without(coordinateKeys...)
		}
	}
	return nil
}

// Bounds unions the declared extents of every region, offset by the region
// anchors. Empty cells count; only the declared size matters.
func Bounds(s *Schematic) (Box, error) {
	if err := validate(s); err != nil {
		return Box{}, err
	}
	var b Box
	for i, r := range s.Regions {
		lo := Position{
			X: r.Anchor.X + min(0, r.Size[0]),
			Y: r.Anchor.Y + min(0, r.Size[1]),
			Z: r.Anchor.Z + min(0, r.Size[2]),
		}
		hi := Position{
			X: r.Anchor.X + max(0, r.Size[0]),
			Y: r.Anchor.Y + max(0, r.Size[1]),
			Z: r.Anchor.Z + max(0, r.Size[2]),
		}
		if i == 0 {
			b = Box{Min: lo, Max: hi}
			continue
		}
		b.Min = Position{X: min(b.Min.X, lo.X), Y: min(b.Min.Y, lo.Y), Z: min(b.Min.Z, lo.Z)}
		b.Max = Position{X: max(b.Max.X, hi.X), Y: max(b.Max.Y, hi.Y), Z: max(b.Max.Z, hi.Z)}
	}
	return b, nil
}

func validate(s *Schematic) error {
	if s == nil || len(s.Regions) == 0 {
		return fmt.Errorf("structure: schematic has no regions: %w", apperr.ErrInvalidInput)
	}
	for _, r := range s.Regions {
		if r.Size[0] == 0 || r.Size[1] == 0 || r.Size[2] == 0 {
			return fmt.Errorf("structure: region %q has zero extent %v: %w", r.Name, r.Size, apperr.ErrInvalidInput)
		}
	}
	return nil
}
