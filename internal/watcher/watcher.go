package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"bankfeed/internal/log"
)

// Watcher reacts to CSV files appearing in the watch directory and hands each
// one to the Processor. Files are processed with bounded parallelism across
// distinct paths; a single file never runs twice for one filesystem event
// burst thanks to the path+modtime seen set.
type Watcher struct {
	proc          *Processor
	watchDir      string
	settleDelay   time.Duration
	maxConcurrent int
	logger        *log.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

func New(proc *Processor, watchDir string, settleDelay time.Duration, maxConcurrent int, logger *log.Logger) *Watcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Watcher{
		proc:          proc,
		watchDir:      watchDir,
		settleDelay:   settleDelay,
		maxConcurrent: maxConcurrent,
		logger:        logger,
		seen:          make(map[string]time.Time),
	}
}

// Run watches until ctx is cancelled. On shutdown no new detected files are
// started; files already processing run to completion before Run returns, so
// no batch is left half-done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.watchDir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.watchDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.watchDir, err)
	}

	g := new(errgroup.Group)
	g.SetLimit(w.maxConcurrent)

	w.logger.Info("File watcher started",
		"watch_dir", w.watchDir,
		"max_concurrent", w.maxConcurrent,
		"settle_delay", w.settleDelay)

	// Pick up files already sitting in the watch dir: leftovers from a crash
	// mid-run are safe to retry because loading is idempotent.
	w.scanExisting(ctx, g)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutdown requested, waiting for in-flight files")
			g.Wait()
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				g.Wait()
				return nil
			}
			if !isNewCSV(ev) {
				continue
			}
			w.dispatch(ctx, g, ev.Name)
		case werr, ok := <-fsw.Errors:
			if !ok {
				g.Wait()
				return nil
			}
			w.logger.Warn("Filesystem notification error", "error", werr)
		}
	}
}

func isNewCSV(ev fsnotify.Event) bool {
	if !ev.Op.Has(fsnotify.Create) {
		return false
	}
	return strings.EqualFold(filepath.Ext(ev.Name), ".csv")
}

func (w *Watcher) scanExisting(ctx context.Context, g *errgroup.Group) {
	entries, err := os.ReadDir(w.watchDir)
	if err != nil {
		w.logger.Warn("Startup scan failed", "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		w.logger.Info("Found file from previous run", "file", e.Name())
		w.dispatch(ctx, g, filepath.Join(w.watchDir, e.Name()))
	}
}

// dispatch queues one file for processing. A full worker pool blocks intake,
// which is the intended backpressure: unprocessed files stay visible in the
// watch directory.
func (w *Watcher) dispatch(ctx context.Context, g *errgroup.Group, path string) {
	g.Go(func() error {
		if w.settleDelay > 0 {
			// The file may still be mid-write when the event fires.
			select {
			case <-time.After(w.settleDelay):
			case <-ctx.Done():
				// Never started; the next run's startup scan will take it.
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return nil
		}
		if !w.markSeen(path, info.ModTime()) {
			w.logger.Debug("Duplicate notification ignored", "path", path)
			return nil
		}

		// Once a file is Processing it must reach a terminal state even if
		// shutdown begins, so the batch context outlives cancellation. The
		// storage timeout still bounds the write.
		w.proc.Process(context.WithoutCancel(ctx), path)
		return nil
	})
}

// markSeen reports whether this path+modtime combination is new. Duplicate
// filesystem events for the same write carry the same modtime and are
// dropped; a re-dropped file has a fresh modtime and processes again.
func (w *Watcher) markSeen(path string, modTime time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.seen[path]; ok && prev.Equal(modTime) {
		return false
	}
	w.seen[path] = modTime
	return true
}
