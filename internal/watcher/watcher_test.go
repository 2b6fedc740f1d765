package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(p string) {
	r.mu.Lock()
	r.paths = append(r.paths, p)
	r.mu.Unlock()
}

func (r *recorder) count(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, q := range r.paths {
		if q == p {
			n++
		}
	}
	return n
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func yamlOnly(p string) bool { return strings.HasSuffix(p, ".yaml") }

func startWatcher(t *testing.T, root string) *recorder {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := New(root, yamlOnly, WithLogger(logger), WithDebounce(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, rec.add)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
	return rec
}

func TestWatcher_NewFileReportedOnce(t *testing.T) {
	root := t.TempDir()
	rec := startWatcher(t, root)

	p := filepath.Join(root, "lamp.yaml")
	for i := 0; i < 3; i++ {
		_ = os.WriteFile(p, []byte(strings.Repeat("x", i+1)), 0o644)
	}

	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		return rec.count(p) >= 1
	}, "new file not reported")

	time.Sleep(200 * time.Millisecond)
	if n := rec.count(p); n != 1 {
		t.Errorf("reported %d times, want 1", n)
	}
}

func TestWatcher_IgnoresUnaccepted(t *testing.T) {
	root := t.TempDir()
	rec := startWatcher(t, root)

	_ = os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644)
	keep := filepath.Join(root, "keep.yaml")
	_ = os.WriteFile(keep, []byte("x"), 0o644)

	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		return rec.count(keep) == 1
	}, "accepted file not reported")
	for _, p := range rec.all() {
		if strings.HasSuffix(p, ".txt") {
			t.Errorf("unaccepted file reported: %s", p)
		}
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	root := t.TempDir()
	rec := startWatcher(t, root)

	sub := filepath.Join(root, "batch")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	p := filepath.Join(sub, "door.yaml")
	_ = os.WriteFile(p, []byte("x"), 0o644)

	eventually(t, 5*time.Second, 25*time.Millisecond, func() bool {
		return rec.count(p) == 1
	}, "file in new subdirectory not reported")
}

func TestWatcher_RemovedBeforeSettleNotReported(t *testing.T) {
	root := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := New(root, yamlOnly, WithLogger(logger), WithDebounce(300*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	go func() { _ = w.Run(ctx, rec.add) }()
	time.Sleep(100 * time.Millisecond)

	p := filepath.Join(root, "tmp.yaml")
	_ = os.WriteFile(p, []byte("x"), 0o644)
	_ = os.Remove(p)

	time.Sleep(600 * time.Millisecond)
	if n := rec.count(p); n != 0 {
		t.Errorf("removed file reported %d times", n)
	}
}
