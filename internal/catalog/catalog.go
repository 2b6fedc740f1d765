// Package catalog enumerates the schematic files under an input directory.
package catalog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/checksum"
	"github.com/starford/mira/internal/schematic"
)

// Entry describes one schematic file.
type Entry struct {
	Path      string    `json:"path"` // absolute
	Rel       string    `json:"rel"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Catalog is rooted at an input directory.
type Catalog struct {
	root string
	exts []string
}

// New creates a catalog rooted at dir. The directory must already exist.
// exts restricts the accepted extensions; when empty every extension a
// codec exists for is accepted.
func New(dir string, exts []string) (*Catalog, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("catalog: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog: root is not a directory: %s", abs)
	}
	norm := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		norm = append(norm, e)
	}
	return &Catalog{root: abs, exts: norm}, nil
}

// Root returns the absolute input directory.
func (c *Catalog) Root() string { return c.root }

// Accepts reports whether path names a file the catalog would list.
func (c *Catalog) Accepts(path string) bool {
	if !schematic.Supported(path) {
		return false
	}
	if len(c.exts) == 0 {
		return true
	}
	return slices.Contains(c.exts, strings.ToLower(filepath.Ext(path)))
}

// Resolve maps a path relative to the root to an absolute one and rejects
// anything that escapes the root.
func (c *Catalog) Resolve(rel string) (string, error) {
	if rel == "" {
		return c.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("catalog: absolute paths not allowed: %s: %w", rel, apperr.ErrInvalidInput)
	}
	abs, err := filepath.Abs(filepath.Join(c.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("catalog: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, c.root+string(os.PathSeparator)) && abs != c.root {
		return "", fmt.Errorf("catalog: path escapes input root: %s: %w", rel, apperr.ErrInvalidInput)
	}
	return abs, nil
}

// List walks the root and returns every accepted file, sorted by path.
func (c *Catalog) List() ([]Entry, error) {
	var out []Entry
	err := filepath.WalkDir(c.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != c.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !c.Accepts(p) {
			return nil
		}
		e, err := c.entry(p, d)
		if err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// Stat describes a single file.
func (c *Catalog) Stat(path string) (Entry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: stat %s: %w", path, err)
	}
	return c.entry(path, fs.FileInfoToDirEntry(info))
}

func (c *Catalog) entry(p string, d fs.DirEntry) (Entry, error) {
	info, err := d.Info()
	if err != nil {
		return Entry{}, err
	}
	sum, err := checksum.File(p)
	if err != nil {
		return Entry{}, err
	}
	rel, err := filepath.Rel(c.root, p)
	if err != nil {
		rel = p
	}
	return Entry{
		Path:      p,
		Rel:       filepath.ToSlash(rel),
		Checksum:  sum,
		Size:      info.Size(),
		UpdatedAt: info.ModTime(),
	}, nil
}

// Write atomically stores content at rel (tmp file, fsync, rename) and
// refuses to overwrite an existing file.
func (c *Catalog) Write(rel string, content []byte) (string, error) {
	abs, err := c.Resolve(rel)
	if err != nil {
		return "", err
	}
	if !c.Accepts(abs) {
		return "", fmt.Errorf("catalog: unsupported file type %q: %w", filepath.Ext(abs), apperr.ErrInvalidInput)
	}
	if _, err := os.Stat(abs); err == nil {
		return "", fmt.Errorf("catalog: %s: %w", rel, apperr.ErrAlreadyExists)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("catalog: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mira-tmp-*")
	if err != nil {
		return "", fmt.Errorf("catalog: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("catalog: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("catalog: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("catalog: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return "", fmt.Errorf("catalog: rename: %w", err)
	}
	success = true
	return abs, nil
}

// Paths returns the absolute paths of entries.
func Paths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}
