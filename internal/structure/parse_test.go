package structure

import (
	"errors"
	"slices"
	"testing"

	"github.com/starford/mira/internal/apperr"
)

func TestAxisRange(t *testing.T) {
	cases := []struct {
		extent int
		want   []int
	}{
		{4, []int{0, 1, 2, 3}},
		{1, []int{0}},
		{-1, []int{0}},
		{-4, []int{0, -1, -2, -3}},
		{0, []int{}},
	}
	for _, c := range cases {
		got := AxisRange(c.extent)
		if !slices.Equal(got, c.want) {
			t.Errorf("AxisRange(%d) = %v, want %v", c.extent, got, c.want)
		}
	}
	for e := -20; e <= 20; e++ {
		if got := len(AxisRange(e)); got != abs(e) {
			t.Errorf("len(AxisRange(%d)) = %d, want %d", e, got, abs(e))
		}
	}
}

func TestRegion_NegativeExtentsEnumeration(t *testing.T) {
	r := NewRegion("neg", Position{}, [3]int{-4, 6, -3})
	if !slices.Equal(AxisRange(r.Size[0]), []int{0, -1, -2, -3}) {
		t.Errorf("x range = %v", AxisRange(r.Size[0]))
	}
	if !slices.Equal(AxisRange(r.Size[1]), []int{0, 1, 2, 3, 4, 5}) {
		t.Errorf("y range = %v", AxisRange(r.Size[1]))
	}
	if !slices.Equal(AxisRange(r.Size[2]), []int{0, -1, -2}) {
		t.Errorf("z range = %v", AxisRange(r.Size[2]))
	}
	if r.Volume() != 72 {
		t.Errorf("volume = %d, want 72", r.Volume())
	}

	stone := MustState("minecraft:stone")
	for _, x := range AxisRange(r.Size[0]) {
		for _, y := range AxisRange(r.Size[1]) {
			for _, z := range AxisRange(r.Size[2]) {
				if err := r.Set(Position{X: x, Y: y, Z: z}, stone); err != nil {
					t.Fatalf("Set(%d,%d,%d): %v", x, y, z, err)
				}
			}
		}
	}
	if err := r.Set(Position{X: 1, Y: 0, Z: 0}, stone); err == nil {
		t.Error("positive x must be outside a negative-width region")
	}
	if err := r.Set(Position{X: -4, Y: 0, Z: 0}, stone); err == nil {
		t.Error("x=-4 must be outside a width -4 region")
	}

	s := &Schematic{Name: "neg", Regions: []*Region{r}}
	recs, _, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 72 {
		t.Errorf("records = %d, want 72", len(recs))
	}
}

func TestRegion_StorageIndexRoundTrip(t *testing.T) {
	r := NewRegion("r", Position{}, [3]int{-3, 2, 4})
	for i := 0; i < r.Volume(); i++ {
		local := r.LocalAt(i)
		j, ok := r.StorageIndex(local)
		if !ok || j != i {
			t.Fatalf("StorageIndex(LocalAt(%d)=%v) = %d,%v", i, local, j, ok)
		}
	}
}

func TestParse_SparseAndAnchored(t *testing.T) {
	r := NewRegion("main", Position{X: 10, Y: 0, Z: -5}, [3]int{3, 2, 1})
	_ = r.Set(Position{X: 0, Y: 0, Z: 0}, MustState("stone"))
	_ = r.Set(Position{X: 2, Y: 1, Z: 0}, MustState("minecraft:redstone_lamp[lit=false]"))
	s := &Schematic{Regions: []*Region{r}}

	recs, _, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2 (air dropped)", len(recs))
	}
	want := map[Position]string{
		{X: 10, Y: 0, Z: -5}: "minecraft:stone",
		{X: 12, Y: 1, Z: -5}: "minecraft:redstone_lamp[lit=false]",
	}
	for _, rec := range recs {
		if want[rec.Pos] != rec.State.String() {
			t.Errorf("record %v = %s", rec.Pos, rec.State)
		}
	}

	b, err := Bounds(s)
	if err != nil {
		t.Fatalf("Bounds: %v", err)
	}
	wantBox := Box{Min: Position{X: 10, Y: 0, Z: -5}, Max: Position{X: 13, Y: 2, Z: -4}}
	if b != wantBox {
		t.Errorf("bounds = %+v, want %+v", b, wantBox)
	}
}

func TestBounds_UnionWithNegativeExtents(t *testing.T) {
	a := NewRegion("a", Position{X: 0, Y: 0, Z: 0}, [3]int{2, 2, 2})
	b := NewRegion("b", Position{X: 5, Y: 1, Z: 0}, [3]int{-4, 3, -2})
	box, err := Bounds(&Schematic{Regions: []*Region{a, b}})
	if err != nil {
		t.Fatalf("Bounds: %v", err)
	}
	want := Box{Min: Position{X: 0, Y: 0, Z: -2}, Max: Position{X: 5, Y: 4, Z: 2}}
	if box != want {
		t.Errorf("bounds = %+v, want %+v", box, want)
	}
}

func TestParse_Errors(t *testing.T) {
	if _, _, err := Parse(&Schematic{}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("zero regions: err = %v, want ErrInvalidInput", err)
	}
	zero := &Schematic{Regions: []*Region{NewRegion("z", Position{}, [3]int{1, 0, 1})}}
	if _, err := Bounds(zero); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("zero extent: err = %v, want ErrInvalidInput", err)
	}
}

func chestRegion(anchor Position, tileKey Position) *Region {
	r := NewRegion("c", anchor, [3]int{2, 1, 1})
	_ = r.Set(Position{X: 1, Y: 0, Z: 0}, MustState("minecraft:chest[facing=north]"))
	r.Tiles = []Tile{{
		Pos: tileKey,
		Data: Payload{
			"x": int32(tileKey.X), "y": int32(tileKey.Y), "z": int32(tileKey.Z),
			"id":    "minecraft:chest",
			"Items": []any{map[string]any{"Slot": int8(0), "id": "minecraft:diamond", "Count": int8(3)}},
		},
	}}
	return r
}

func TestParse_AttachmentResolvers(t *testing.T) {
	anchor := Position{X: 4, Y: 0, Z: 0}
	local := Position{X: 1, Y: 0, Z: 0}
	anchored := local.Add(anchor)

	cases := []struct {
		name     string
		key      Position
		resolver AttachmentResolver
		found    bool
	}{
		{"local-first finds local key", local, LocalThenAnchored, true},
		{"local-first finds anchored key", anchored, LocalThenAnchored, true},
		{"local-only finds local key", local, LocalOnly, true},
		{"local-only misses anchored key", anchored, LocalOnly, false},
		{"anchored-only finds anchored key", anchored, AnchoredOnly, true},
		{"anchored-only misses local key", local, AnchoredOnly, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := &Schematic{Regions: []*Region{chestRegion(anchor, c.key)}}
			recs, _, err := Parse(s, WithResolver(c.resolver))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(recs) != 1 {
				t.Fatalf("records = %d", len(recs))
			}
			got := recs[0].Payload != nil
			if got != c.found {
				t.Fatalf("payload found = %v, want %v", got, c.found)
			}
			if !got {
				return
			}
			for _, k := range []string{"x", "y", "z"} {
				if _, ok := recs[0].Payload[k]; ok {
					t.Errorf("coordinate key %q not stripped", k)
				}
			}
			if len(recs[0].Payload.List("Items")) != 1 {
				t.Errorf("items lost: %v", recs[0].Payload)
			}
			if _, ok := s.Regions[0].Tiles[0].Data["x"]; !ok {
				t.Error("stripping must not mutate the region's tile data")
			}
		})
	}
}

func TestParse_LocalFirstPrefersLocal(t *testing.T) {
	anchor := Position{X: 1, Y: 0, Z: 0}
	r := NewRegion("r", anchor, [3]int{2, 1, 1})
	_ = r.Set(Position{X: 0, Y: 0, Z: 0}, MustState("minecraft:chest"))
	_ = r.Set(Position{X: 1, Y: 0, Z: 0}, MustState("minecraft:barrel"))
	// Key (1,0,0) is both the local key of the barrel and the anchored key of the chest.
	r.Tiles = []Tile{{Pos: Position{X: 1}, Data: Payload{"tag": "shared"}}}
	recs, _, err := Parse(&Schematic{Regions: []*Region{r}})
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range recs {
		if rec.Payload == nil {
			t.Errorf("%s at %v lost its attachment", rec.State, rec.Pos)
		}
	}
}

func TestParse_Entities(t *testing.T) {
	r := NewRegion("e", Position{X: 2, Y: 3, Z: 4}, [3]int{1, 1, 1})
	r.Entities = []Entity{{ID: "minecraft:armor_stand", Pos: [3]float64{0.5, 0, 0.5}, Data: Payload{"NoBasePlate": int8(1)}}}
	recs, _, err := Parse(&Schematic{Regions: []*Region{r}})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	e := recs[0]
	if !e.IsEntity() || e.State.ID != "entity:minecraft:armor_stand" {
		t.Errorf("entity record = %+v", e)
	}
	if e.EntityPos != [3]float64{2.5, 3, 4.5} {
		t.Errorf("entity pos = %v", e.EntityPos)
	}
	if e.Pos != (Position{X: 2, Y: 3, Z: 4}) {
		t.Errorf("entity cell = %v", e.Pos)
	}
	if e.EntityType() != "minecraft:armor_stand" {
		t.Errorf("entity type = %q", e.EntityType())
	}
}

func TestResolverByName(t *testing.T) {
	for _, name := range []string{"", ResolverLocalFirst, ResolverLocal, ResolverAnchored} {
		if _, err := ResolverByName(name); err != nil {
			t.Errorf("ResolverByName(%q): %v", name, err)
		}
	}
	if _, err := ResolverByName("guess"); err == nil {
		t.Error("expected error for unknown resolver")
	}
}
