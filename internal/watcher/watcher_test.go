package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bankfeed/internal/log"
	"bankfeed/internal/storage"
)

func TestMarkSeen(t *testing.T) {
	w := New(nil, t.TempDir(), 0, 1, log.New(slog.LevelError, "test"))
	mod := time.Now()

	if !w.markSeen("/watch/a.csv", mod) {
		t.Fatal("first sighting must be new")
	}
	if w.markSeen("/watch/a.csv", mod) {
		t.Fatal("duplicate notification for the same write must be dropped")
	}
	// Same path rewritten later (re-dropped file) is a new job.
	if !w.markSeen("/watch/a.csv", mod.Add(time.Second)) {
		t.Fatal("fresh modtime must be treated as a new file")
	}
	if !w.markSeen("/watch/b.csv", mod) {
		t.Fatal("distinct paths are independent")
	}
}

func TestNew_ClampsConcurrency(t *testing.T) {
	w := New(nil, t.TempDir(), 0, 0, log.New(slog.LevelError, "test"))
	if w.maxConcurrent != 1 {
		t.Fatalf("maxConcurrent = %d, want clamped to 1", w.maxConcurrent)
	}
}

// End-to-end: drop a file into a watched directory and wait for it to land in
// processed with its rows stored.
func TestRun_IngestsDroppedFile(t *testing.T) {
	env := newTestEnv(t)
	w := New(env.proc, env.watchDir, 50*time.Millisecond, 2, log.New(slog.LevelError, "test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(200 * time.Millisecond)
	env.dropFile(t, "march.csv", validCSV)

	deadline := time.After(10 * time.Second)
	for {
		if n, err := env.repo.Count(context.Background(), storage.Filter{}); err == nil && n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for dropped file to be ingested")
		case <-time.After(100 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watcher did not shut down")
	}

	if names := dirNames(t, env.processedDir); len(names) != 1 {
		t.Errorf("processed dir = %v, want one file", names)
	}
	if names := dirNames(t, env.watchDir); len(names) != 0 {
		t.Errorf("watch dir = %v, want empty", names)
	}
}

// Files already in the watch dir when the watcher starts (crash leftovers)
// are ingested by the startup scan.
func TestRun_StartupScan(t *testing.T) {
	env := newTestEnv(t)
	env.dropFile(t, "leftover.csv", validCSV)

	w := New(env.proc, env.watchDir, 0, 1, log.New(slog.LevelError, "test"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(10 * time.Second)
	for {
		if n, err := env.repo.Count(context.Background(), storage.Filter{}); err == nil && n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for startup scan ingestion")
		case <-time.After(100 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("watcher did not shut down")
	}
}

func TestRun_CreatesWatchDir(t *testing.T) {
	env := newTestEnv(t)
	nested := filepath.Join(env.watchDir, "sub")
	w := New(env.proc, nested, 0, 1, log.New(slog.LevelError, "test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	if _, err := os.Stat(nested); err != nil {
		t.Errorf("watch dir not created: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not shut down")
	}
}
