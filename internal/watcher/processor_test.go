package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bankfeed/internal/amqp"
	"bankfeed/internal/categorize"
	"bankfeed/internal/log"
	"bankfeed/internal/storage"
	"bankfeed/internal/transform"
)

type testEnv struct {
	proc         *Processor
	repo         *storage.Repository
	watchDir     string
	processedDir string
	failedDir    string
	notified     *recordingNotifier
}

type recordingNotifier struct {
	messages []*amqp.BatchIngestedMessage
}

func (n *recordingNotifier) PublishBatchIngested(_ context.Context, msg *amqp.BatchIngestedMessage) error {
	n.messages = append(n.messages, msg)
	return nil
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		watchDir:     filepath.Join(root, "watch"),
		processedDir: filepath.Join(root, "processed"),
		failedDir:    filepath.Join(root, "failed"),
		notified:     &recordingNotifier{},
	}
	if err := os.MkdirAll(env.watchDir, 0o755); err != nil {
		t.Fatal(err)
	}

	repo, err := storage.NewRepository(filepath.Join(root, "bankfeed.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	env.repo = repo

	tr := transform.New(categorize.New(categorize.DefaultRules()), "01/02/2006")
	env.proc = NewProcessor(tr, repo, env.notified,
		env.processedDir, env.failedDir,
		5*time.Second, log.New(slog.LevelError, "test"))
	return env
}

func (e *testEnv) dropFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.watchDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatal(err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

const validCSV = `date,description,amount
03/01/2024,DIRECT DEPOSIT ACME CORP,2500.00
03/02/2024,STARBUCKS STORE #123,-5.75
`

func TestProcess_Success(t *testing.T) {
	env := newTestEnv(t)
	path := env.dropFile(t, "march.csv", validCSV)

	job := env.proc.Process(context.Background(), path)

	if job.State != StateSucceeded {
		t.Fatalf("state = %q (err=%v), want Succeeded", job.State, job.Err)
	}
	if job.Load.Inserted != 2 {
		t.Errorf("inserted = %d, want 2", job.Load.Inserted)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("source file must leave the watch dir")
	}
	names := dirNames(t, env.processedDir)
	if len(names) != 1 || !strings.HasSuffix(names[0], "_march.csv") {
		t.Errorf("processed dir = %v, want one timestamped march.csv", names)
	}

	n, err := env.repo.Count(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("stored count = %d, want 2", n)
	}

	if len(env.notified.messages) != 1 {
		t.Fatalf("got %d batch events, want 1", len(env.notified.messages))
	}
	msg := env.notified.messages[0]
	if msg.Inserted != 2 || msg.SourceFile != "march.csv" || msg.BatchID != job.BatchID {
		t.Errorf("batch event = %+v", msg)
	}
}

func TestProcess_PartialRows(t *testing.T) {
	env := newTestEnv(t)
	path := env.dropFile(t, "partial.csv", `date,description,amount
03/01/2024,STARBUCKS,-5.75
03/02/2024,BROKEN ROW,not-a-number
03/03/2024,CHIPOTLE,-11.40
`)

	job := env.proc.Process(context.Background(), path)

	// A row-level failure is a warning, not a file failure.
	if job.State != StateSucceeded {
		t.Fatalf("state = %q (err=%v), want Succeeded", job.State, job.Err)
	}
	if job.Load.Inserted != 2 {
		t.Errorf("inserted = %d, want 2", job.Load.Inserted)
	}
	if len(job.Diagnostics) != 1 || job.Diagnostics[0].Row != 2 {
		t.Errorf("diagnostics = %v, want one entry for row 2", job.Diagnostics)
	}
}

func TestProcess_MissingColumns(t *testing.T) {
	env := newTestEnv(t)
	path := env.dropFile(t, "bad.csv", "when,what,how_much\n03/01/2024,x,-1\n")

	job := env.proc.Process(context.Background(), path)

	if job.State != StateFailed {
		t.Fatalf("state = %q, want Failed", job.State)
	}

	names := dirNames(t, env.failedDir)
	if len(names) != 2 {
		t.Fatalf("failed dir = %v, want file plus error log", names)
	}

	var logName string
	for _, n := range names {
		if strings.HasSuffix(n, "_ERROR.txt") {
			logName = n
		}
	}
	if logName == "" {
		t.Fatalf("no error log in %v", names)
	}
	content, err := os.ReadFile(filepath.Join(env.failedDir, logName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "MissingColumns") {
		t.Errorf("error log should name the reason:\n%s", content)
	}

	n, err := env.repo.Count(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("stored count = %d, want 0 (no partial ingestion)", n)
	}
	if len(env.notified.messages) != 0 {
		t.Error("failed files must not publish batch events")
	}
}

func TestProcess_NoValidRows(t *testing.T) {
	env := newTestEnv(t)
	path := env.dropFile(t, "alldead.csv", `date,description,amount
99/99/9999,MERCHANT A,-1.00
nonsense,MERCHANT B,-2.00
`)

	job := env.proc.Process(context.Background(), path)

	if job.State != StateFailed {
		t.Fatalf("state = %q, want Failed", job.State)
	}

	var logContent string
	for _, n := range dirNames(t, env.failedDir) {
		if strings.HasSuffix(n, "_ERROR.txt") {
			b, err := os.ReadFile(filepath.Join(env.failedDir, n))
			if err != nil {
				t.Fatal(err)
			}
			logContent = string(b)
		}
	}
	if !strings.Contains(logContent, "NoValidRows") {
		t.Errorf("error log should carry the NoValidRows reason:\n%s", logContent)
	}
	// Per-row findings explain why every row was dropped.
	if !strings.Contains(logContent, "row 1") || !strings.Contains(logContent, "invalid date") {
		t.Errorf("error log should carry row diagnostics:\n%s", logContent)
	}
}

func TestProcess_RedropIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	first := env.proc.Process(context.Background(), env.dropFile(t, "march.csv", validCSV))
	if first.State != StateSucceeded || first.Load.Inserted != 2 {
		t.Fatalf("first drop: %+v", first)
	}

	// Re-submitting the same statement under a new name is a fresh FileJob
	// that stores nothing new.
	second := env.proc.Process(context.Background(), env.dropFile(t, "march-again.csv", validCSV))
	if second.State != StateSucceeded {
		t.Fatalf("second drop state = %q (err=%v)", second.State, second.Err)
	}
	if second.Load.Inserted != 0 || second.Load.SkippedExisting != 2 {
		t.Errorf("second drop load = %+v, want everything skipped", second.Load)
	}

	n, err := env.repo.Count(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("stored count = %d, want 2", n)
	}
}

func TestProcess_VanishedFile(t *testing.T) {
	env := newTestEnv(t)
	job := env.proc.Process(context.Background(), filepath.Join(env.watchDir, "ghost.csv"))
	if job.State != StateFailed {
		t.Fatalf("state = %q, want Failed", job.State)
	}
	if names := dirNames(t, env.failedDir); len(names) != 0 {
		t.Errorf("nothing should be quarantined for a vanished file, got %v", names)
	}
}

func TestProcess_NilNotifier(t *testing.T) {
	env := newTestEnv(t)
	env.proc.notifier = nil
	path := env.dropFile(t, "march.csv", validCSV)
	if job := env.proc.Process(context.Background(), path); job.State != StateSucceeded {
		t.Fatalf("state = %q, want Succeeded without a notifier", job.State)
	}
}
