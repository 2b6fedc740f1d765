package ledger

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/mira/internal/apperr"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "mira-ledger-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM schematics`).Scan(&count); err != nil {
		t.Fatalf("schematics table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM samples`).Scan(&count); err != nil {
		t.Fatalf("samples table missing: %v", err)
	}
}

func TestOutcomeRoundTrip(t *testing.T) {
	db := testDB(t)
	if err := db.MarkPending("in/lamp.yaml", "lamp.yaml", "abc"); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}
	if ok, _ := db.Unchanged("in/lamp.yaml", "abc"); ok {
		t.Error("pending schematic reported as unchanged")
	}

	err := db.RecordOutcome(SchematicRow{
		Path:         "in/lamp.yaml",
		Name:         "Lamp",
		Status:       StatusDone,
		Records:      3,
		Samples:      2,
		SlotsSkipped: 1,
		Attempts:     4,
		Duration:     1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	got, err := db.GetSchematic("in/lamp.yaml")
	if err != nil {
		t.Fatalf("GetSchematic: %v", err)
	}
	if got.Status != StatusDone || got.Samples != 2 || got.Checksum != "abc" || got.Duration != 1500*time.Millisecond {
		t.Errorf("unexpected row: %+v", got)
	}

	if ok, _ := db.Unchanged("in/lamp.yaml", "abc"); !ok {
		t.Error("settled schematic with same checksum should be unchanged")
	}
	if ok, _ := db.Unchanged("in/lamp.yaml", "def"); ok {
		t.Error("different checksum should not be unchanged")
	}
}

func TestRecordOutcomeUnknownPath(t *testing.T) {
	db := testDB(t)
	err := db.RecordOutcome(SchematicRow{Path: "ghost.yaml", Status: StatusDone})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSamples(t *testing.T) {
	db := testDB(t)
	_ = db.MarkPending("a.yaml", "a", "1")

	if err := db.RecordSample(SampleRow{ID: "s1", Schematic: "a.yaml", Modification: "break_wire"}); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	if err := db.RecordSample(SampleRow{ID: "s2", Schematic: "a.yaml"}); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}

	err := db.RecordSample(SampleRow{ID: "s1", Schematic: "a.yaml"})
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate id: want ErrAlreadyExists, got %v", err)
	}
	err = db.RecordSample(SampleRow{ID: "s3", Schematic: "missing.yaml"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("unknown schematic: want ErrConflict, got %v", err)
	}

	samples, err := db.Samples("a.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if samples[0].Modification != "break_wire" && samples[1].Modification != "break_wire" {
		t.Errorf("modification lost: %+v", samples)
	}
}

func TestMarkPendingResetsSamples(t *testing.T) {
	db := testDB(t)
	_ = db.MarkPending("a.yaml", "a", "1")
	_ = db.RecordSample(SampleRow{ID: "s1", Schematic: "a.yaml"})
	_ = db.RecordOutcome(SchematicRow{Path: "a.yaml", Name: "a", Status: StatusDone, Samples: 1})

	if err := db.MarkPending("a.yaml", "a", "2"); err != nil {
		t.Fatal(err)
	}
	samples, _ := db.Samples("a.yaml")
	if len(samples) != 0 {
		t.Errorf("samples not cleared: %+v", samples)
	}
	got, _ := db.GetSchematic("a.yaml")
	if got.Status != StatusPending || got.Samples != 0 || got.Checksum != "2" {
		t.Errorf("row not reset: %+v", got)
	}
}

func TestListAndStats(t *testing.T) {
	db := testDB(t)
	for _, p := range []string{"a.yaml", "b.yaml", "c.yaml"} {
		_ = db.MarkPending(p, p, "x")
	}
	_ = db.RecordOutcome(SchematicRow{Path: "a.yaml", Status: StatusDone, Samples: 1, SlotsSkipped: 1})
	_ = db.RecordSample(SampleRow{ID: "s1", Schematic: "a.yaml"})
	_ = db.RecordOutcome(SchematicRow{Path: "b.yaml", Status: StatusSkipped, Reason: "golden run failed"})

	all, err := db.ListSchematics("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("ListSchematics = %d rows, want 3", len(all))
	}
	skipped, _ := db.ListSchematics(StatusSkipped)
	if len(skipped) != 1 || skipped[0].Reason != "golden run failed" {
		t.Errorf("skipped filter = %+v", skipped)
	}

	s, err := db.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := Stats{Schematics: 3, Done: 1, Skipped: 1, Pending: 1, Samples: 1, SlotsSkipped: 1}
	if s != want {
		t.Errorf("Stats = %+v, want %+v", s, want)
	}
}

func TestGetChecksumUnknown(t *testing.T) {
	db := testDB(t)
	cs, status, err := db.GetChecksum("nope.yaml")
	if err != nil || cs != "" || status != "" {
		t.Errorf("GetChecksum = %q, %q, %v", cs, status, err)
	}
}
