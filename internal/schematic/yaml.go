package schematic

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/structure"
)

// YAML reads the human-editable fixture format:
//
//	name: Simple Lamp
//	regions:
//	  - name: main
//	    anchor: [0, 0, 0]
//	    size: [3, 2, 1]
//	    blocks:
//	      - {pos: [0, 0, 0], state: "minecraft:stone"}
//	    fill:
//	      - {from: [0, 0, 0], to: [2, 0, 0], state: "minecraft:stone"}
//	    tiles:
//	      - {pos: [1, 1, 0], data: {Items: [...]}}
//	    entities:
//	      - {id: "minecraft:armor_stand", pos: [0.5, 1, 0.5]}
type YAML struct{}

type yamlSchematic struct {
	Name        string       `yaml:"name"`
	Author      string       `yaml:"author"`
	Description string       `yaml:"description"`
	Regions     []yamlRegion `yaml:"regions"`
}

type yamlRegion struct {
	Name     string       `yaml:"name"`
	Anchor   [3]int       `yaml:"anchor"`
	Size     [3]int       `yaml:"size"`
	Fill     []yamlFill   `yaml:"fill"`
	Blocks   []yamlBlock  `yaml:"blocks"`
	Tiles    []yamlTile   `yaml:"tiles"`
	Entities []yamlEntity `yaml:"entities"`
}

type yamlFill struct {
	From  [3]int `yaml:"from"`
	To    [3]int `yaml:"to"`
	State string `yaml:"state"`
}

type yamlBlock struct {
	Pos   [3]int `yaml:"pos"`
	State string `yaml:"state"`
}

type yamlTile struct {
	Pos  [3]int         `yaml:"pos"`
	Data map[string]any `yaml:"data"`
}

type yamlEntity struct {
	ID   string         `yaml:"id"`
	Pos  [3]float64     `yaml:"pos"`
	Data map[string]any `yaml:"data"`
}

// Load implements Codec.
func (YAML) Load(path string) (*structure.Schematic, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s, err := DecodeYAML(data)
	if err != nil {
		return nil, fmt.Errorf("schematic: %s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = nameFromPath(path)
	}
	return s, nil
}

// DecodeYAML decodes the fixture format from memory.
func DecodeYAML(data []byte) (*structure.Schematic, error) {
	var ys yamlSchematic
	if err := yaml.Unmarshal(data, &ys); err != nil {
		return nil, fmt.Errorf("decode yaml: %w: %w", err, apperr.ErrInvalidInput)
	}
	s := &structure.Schematic{Name: ys.Name, Author: ys.Author, Description: ys.Description}
	for i, yr := range ys.Regions {
		name := yr.Name
		if name == "" {
			name = fmt.Sprintf("region-%d", i)
		}
		r := structure.NewRegion(name, vec(yr.Anchor), yr.Size)
		for _, f := range yr.Fill {
			st, err := structure.ParseState(f.State)
			if err != nil {
				return nil, err
			}
			for x := min(f.From[0], f.To[0]); x <= max(f.From[0], f.To[0]); x++ {
				for y := min(f.From[1], f.To[1]); y <= max(f.From[1], f.To[1]); y++ {
					for z := min(f.From[2], f.To[2]); z <= max(f.From[2], f.To[2]); z++ {
						if err := r.Set(structure.Position{X: x, Y: y, Z: z}, st); err != nil {
							return nil, err
						}
					}
				}
			}
		}
		for _, b := range yr.Blocks {
			st, err := structure.ParseState(b.State)
			if err != nil {
				return nil, err
			}
			if err := r.Set(vec(b.Pos), st); err != nil {
				return nil, err
			}
		}
		for _, t := range yr.Tiles {
			r.Tiles = append(r.Tiles, structure.Tile{Pos: vec(t.Pos), Data: structure.Payload(t.Data)})
		}
		for _, e := range yr.Entities {
			r.Entities = append(r.Entities, structure.Entity{ID: e.ID, Pos: e.Pos, Data: structure.Payload(e.Data)})
		}
		s.Regions = append(s.Regions, r)
	}
	return s, nil
}

func vec(v [3]int) structure.Position {
	return structure.Position{X: v[0], Y: v[1], Z: v[2]}
}
