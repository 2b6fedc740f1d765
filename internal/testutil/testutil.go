// Package testutil provides shared test helpers for ledgers, input
// directories and schematic fixtures.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/mira/internal/catalog"
	"github.com/starford/mira/internal/ledger"
)

// LampYAML is a lever, one wire and a lamp on a stone floor.
const LampYAML = `
name: Simple Lamp
description: lever powers a lamp through one wire
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

// TestLedger creates a temporary SQLite ledger that is automatically cleaned up.
func TestLedger(t *testing.T) *ledger.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mira-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestInput creates a temporary input directory with a catalog over it.
func TestInput(t *testing.T) (string, *catalog.Catalog) {
	t.Helper()
	dir := t.TempDir()
	cat, err := catalog.New(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	return cat.Root(), cat
}

// WriteFile writes body to dir/name, creating parent directories.
func WriteFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// NoSleep is a sleeper that returns immediately unless ctx is done.
func NoSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// Logger discards everything below error level.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
