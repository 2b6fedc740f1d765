// Package schematic reads stored schematics into the structure model. It never
// writes schematic files.
package schematic

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/structure"
)

// Codec loads a schematic from a file.
type Codec interface {
	Load(path string) (*structure.Schematic, error)
}

// Extensions handled by ForPath.
const (
	ExtLitematic = ".litematic"
	ExtYAML      = ".yaml"
	ExtYML       = ".yml"
)

// Supported reports whether path has an extension a codec exists for.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtLitematic, ExtYAML, ExtYML:
		return true
	}
	return false
}

// ForPath picks the codec for a file by extension.
func ForPath(path string) (Codec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtLitematic:
		return Litematic{}, nil
	case ExtYAML, ExtYML:
		return YAML{}, nil
	}
	return nil, fmt.Errorf("schematic: unsupported file type %q: %w", filepath.Ext(path), apperr.ErrInvalidInput)
}

// Load opens path with the codec matching its extension.
func Load(path string) (*structure.Schematic, error) {
	c, err := ForPath(path)
	if err != nil {
		return nil, err
	}
	return c.Load(path)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("schematic: %s: %w", path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("schematic: read %s: %w", path, err)
	}
	return data, nil
}

func nameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
