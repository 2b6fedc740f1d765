package schematic

import (
	"github.com/starford/mira/internal/structure"
)

// Summary describes a schematic without building it.
type Summary struct {
	Path     string             `json:"path"`
	Metadata structure.Metadata `json:"metadata"`
	Bounds   structure.Box      `json:"bounds"`
	Records  int                `json:"records"`
	Entities int                `json:"entities"`
	// Blocks counts block records by id.
	Blocks map[string]int `json:"blocks"`
}

// Inspect loads and parses path, returning its summary and records.
func Inspect(path string, opts ...structure.ParseOption) (Summary, []structure.Record, error) {
	s, err := Load(path)
	if err != nil {
		return Summary{}, nil, err
	}
	records, meta, err := structure.Parse(s, opts...)
	if err != nil {
		return Summary{}, nil, err
	}
	bounds, err := structure.Bounds(s)
	if err != nil {
		return Summary{}, nil, err
	}
	sum := Summary{
		Path:     path,
		Metadata: meta,
		Bounds:   bounds,
		Records:  len(records),
		Blocks:   make(map[string]int),
	}
	for _, r := range records {
		if r.IsEntity() {
			sum.Entities++
			continue
		}
		sum.Blocks[r.State.ID]++
	}
	return sum, records, nil
}
