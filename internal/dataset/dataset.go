// Package dataset defines the persisted records and an append-only JSON
// lines writer for them.
package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/starford/mira/internal/corrupt"
	"github.com/starford/mira/internal/deconstruct"
	"github.com/starford/mira/internal/oracle"
	"github.com/starford/mira/internal/structure"
)

// Sample is one labelled repair example. It is never changed after it is
// written.
type Sample struct {
	ID           string                 `json:"id"`
	Schematic    string                 `json:"schematic"`
	CreatedAt    time.Time              `json:"created_at"`
	Context      string                 `json:"context"`
	Contract     string                 `json:"verify_contract"`
	Broken       string                 `json:"broken_state"`
	Failure      string                 `json:"failure"`
	Repaired     string                 `json:"repaired_state"`
	Reasoning    string                 `json:"reasoning"`
	Modification []corrupt.Modification `json:"modifications"`
}

// Reverse is the reverse-deconstruction record of one schematic.
type Reverse struct {
	SchematicID string      `json:"schematic_id"`
	Status      string      `json:"status"`
	Data        ReverseData `json:"data"`
}

// ReverseData is the payload of a Reverse record.
type ReverseData struct {
	Metadata            structure.Metadata      `json:"metadata"`
	ContractPrompt      oracle.Prompt           `json:"contract_prompt"`
	VerifyContract      string                  `json:"verify_contract"`
	DeconstructionSteps []deconstruct.Step      `json:"deconstruction_steps"`
	BuildSteps          []deconstruct.BuildStep `json:"build_steps"`
}

// Sink receives finished records.
type Sink interface {
	Append(v any) error
}

// Writer appends one JSON object per line to a file. It is safe for
// concurrent use.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
	n    int
}

// Open opens path for appending, creating parent directories.
func Open(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("dataset: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	return &Writer{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// Append writes v as one line and flushes it.
func (w *Writer) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("dataset: marshal: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return errors.New("dataset: writer closed")
	}
	if _, err := w.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("dataset: write: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("dataset: flush: %w", err)
	}
	w.n++
	return nil
}

// Count returns how many records this writer appended.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Path returns the output file.
func (w *Writer) Path() string { return w.path }

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	ferr := w.w.Flush()
	cerr := w.f.Close()
	w.f = nil
	return errors.Join(ferr, cerr)
}

// ReadAll decodes every line of a JSON lines file into T.
func ReadAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()
	var out []T
	dec := json.NewDecoder(f)
	for dec.More() {
		var v T
		if err := dec.Decode(&v); err != nil {
			return out, fmt.Errorf("dataset: decode %s: %w", path, err)
		}
		out = append(out, v)
	}
	return out, nil
}
