package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mira/internal/apperr"
	"github.com/starford/mira/internal/checksum"
)

func touch(t *testing.T, root, rel, body string) string {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestList(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "b.yaml", "b")
	touch(t, root, "sub/a.litematic", "a")
	touch(t, root, "notes.txt", "skip")
	touch(t, root, ".cache/c.yaml", "hidden")

	c, err := New(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := c.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Rel != "b.yaml" || entries[1].Rel != "sub/a.litematic" {
		t.Errorf("unexpected order: %s, %s", entries[0].Rel, entries[1].Rel)
	}
	if entries[0].Checksum != checksum.Sum([]byte("b")) {
		t.Errorf("checksum mismatch for b.yaml")
	}
	if got := Paths(entries); got[1] != filepath.Join(c.Root(), "sub", "a.litematic") {
		t.Errorf("Paths[1] = %s", got[1])
	}
}

func TestExtensionFilter(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.yaml", "a")
	touch(t, root, "b.litematic", "b")

	c, err := New(root, []string{"litematic"})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := c.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Rel != "b.litematic" {
		t.Fatalf("entries = %+v", entries)
	}
	if c.Accepts("x.yaml") {
		t.Error("yaml should be filtered out")
	}
	if c.Accepts("x.txt") {
		t.Error("unsupported extension accepted")
	}
}

func TestResolve(t *testing.T) {
	c, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		rel     string
		wantErr bool
	}{
		{"a.yaml", false},
		{"sub/../a.yaml", false},
		{"../escape.yaml", true},
		{"/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			_, err := c.Resolve(tt.rel)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve(%q) err = %v, wantErr %v", tt.rel, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrInvalidInput) {
				t.Errorf("want ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNewRejectsFile(t *testing.T) {
	p := touch(t, t.TempDir(), "f.yaml", "x")
	if _, err := New(p, nil); err == nil {
		t.Fatal("expected error for non-directory root")
	}
}

func TestWrite(t *testing.T) {
	root := t.TempDir()
	c, err := New(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	abs, err := c.Write("uploads/new.yaml", []byte("name: x"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil || string(data) != "name: x" {
		t.Fatalf("read back = %q, %v", data, err)
	}

	if _, err := c.Write("uploads/new.yaml", []byte("again")); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("overwrite: want ErrAlreadyExists, got %v", err)
	}
	if _, err := c.Write("evil.sh", []byte("x")); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("bad extension: want ErrInvalidInput, got %v", err)
	}

	leftovers, _ := filepath.Glob(filepath.Join(c.Root(), "uploads", ".mira-tmp-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}
