package schematic

import (
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/Tnze/go-mc/nbt"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/structure"
)

const lampYAML = `
name: Simple Lamp
author: mira
regions:
  - name: main
    anchor: [0, 0, 0]
    size: [3, 2, 1]
    fill:
      - {from: [0, 0, 0], to: [2, 0, 0], state: "minecraft:stone"}
    blocks:
      - {pos: [0, 1, 0], state: "minecraft:lever[face=floor,facing=east,powered=false]"}
      - {pos: [1, 1, 0], state: "minecraft:redstone_wire[power=0]"}
      - {pos: [2, 1, 0], state: "minecraft:redstone_lamp[lit=false]"}
`

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestYAML_Load(t *testing.T) {
	p := writeFile(t, "lamp.yaml", []byte(lampYAML))
	s, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "Simple Lamp" || s.Author != "mira" {
		t.Errorf("metadata = %+v", s.Metadata())
	}
	recs, _, err := structure.Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(recs) != 6 {
		t.Errorf("records = %d, want 6", len(recs))
	}
}

func TestYAML_NegativeRegion(t *testing.T) {
	src := `
regions:
  - name: neg
    anchor: [5, 0, 5]
    size: [-2, 1, -2]
    blocks:
      - {pos: [-1, 0, -1], state: stone}
`
	s, err := DecodeYAML([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	recs, _, err := structure.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Pos != (structure.Position{X: 4, Y: 0, Z: 4}) {
		t.Errorf("records = %+v", recs)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing file: err = %v, want ErrNotFound", err)
	}
	if _, err := Load("thing.schem"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("unknown extension: err = %v, want ErrInvalidInput", err)
	}
	if !Supported("a/b.litematic") || !Supported("x.YML") || Supported("x.nbt") {
		t.Error("Supported mismatch")
	}
}

func TestPackUnpackStates(t *testing.T) {
	for _, width := range []int{2, 3, 5, 7, 13} {
		values := make([]uint32, 101)
		for i := range values {
			values[i] = uint32((i * 7) % (1 << width))
		}
		got, err := unpackStates(packStates(values, width), width, len(values))
		if err != nil {
			t.Fatalf("width %d: %v", width, err)
		}
		if !slices.Equal(got, values) {
			t.Errorf("width %d: round trip mismatch", width)
		}
	}
	if _, err := unpackStates(nil, 2, 10); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("short array: err = %v", err)
	}
}

func TestBitsFor(t *testing.T) {
	cases := map[int]int{1: 2, 2: 2, 4: 2, 5: 3, 8: 3, 9: 4, 17: 5}
	for n, want := range cases {
		if got := bitsFor(n); got != want {
			t.Errorf("bitsFor(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestLitematic_Load(t *testing.T) {
	// Region of size (-2, 1, 1): local x in {0, -1}; storage index 0 is local x=-1.
	palette := []paletteEntry{
		{Name: "minecraft:air"},
		{Name: "minecraft:chest", Properties: map[string]string{"facing": "north"}},
		{Name: "minecraft:stone"},
	}
	f := litematicFile{
		Version:  6,
		Metadata: litematicMeta{Name: "Packed", Author: "test"},
		Regions: map[string]litematicRegion{
			"main": {
				Position:          vec3i{X: 3, Y: 0, Z: 0},
				Size:              vec3i{X: -2, Y: 1, Z: 1},
				BlockStatePalette: palette,
				BlockStates:       packStates([]uint32{1, 2}, bitsFor(len(palette))),
				TileEntities: []map[string]any{
					{"x": int32(-1), "y": int32(0), "z": int32(0), "id": "minecraft:chest"},
				},
				Entities: []map[string]any{},
			},
		},
	}
	var raw bytes.Buffer
	zw := gzip.NewWriter(&raw)
	if err := nbt.NewEncoder(zw).Encode(f, ""); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	p := writeFile(t, "packed.litematic", raw.Bytes())

	s, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	recs, meta, err := structure.Parse(s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if meta.Name != "Packed" {
		t.Errorf("name = %q", meta.Name)
	}
	got := map[structure.Position]string{}
	for _, r := range recs {
		got[r.Pos] = r.State.String()
		if r.State.ID == "minecraft:chest" && r.Payload["id"] != "minecraft:chest" {
			t.Errorf("chest attachment missing: %+v", r.Payload)
		}
	}
	want := map[structure.Position]string{
		{X: 2, Y: 0, Z: 0}: "minecraft:chest[facing=north]",
		{X: 3, Y: 0, Z: 0}: "minecraft:stone",
	}
	if len(got) != len(want) {
		t.Fatalf("records = %v", got)
	}
	for p, st := range want {
		if got[p] != st {
			t.Errorf("at %v: got %q, want %q", p, got[p], st)
		}
	}
}

func TestInspect(t *testing.T) {
	p := writeFile(t, "lamp.yaml", []byte(lampYAML))
	sum, recs, err := Inspect(p)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if sum.Records != len(recs) || sum.Records != 6 || sum.Entities != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Blocks["minecraft:stone"] != 3 || sum.Blocks["minecraft:redstone_lamp"] != 1 {
		t.Errorf("blocks = %v", sum.Blocks)
	}
	want := structure.Box{Max: structure.Position{X: 3, Y: 2, Z: 1}}
	if sum.Bounds != want {
		t.Errorf("bounds = %+v, want %+v", sum.Bounds, want)
	}
	if sum.Metadata.Regions[0] != "main" {
		t.Errorf("regions = %v", sum.Metadata.Regions)
	}
}
