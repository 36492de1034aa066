// Package watcher drives the per-file ingestion lifecycle: detect, transform,
// load, then move the file to its terminal location. Each file runs the state
// machine Detected -> Processing -> Succeeded|Failed exactly once.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"bankfeed/internal/amqp"
	"bankfeed/internal/log"
	"bankfeed/internal/storage"
	"bankfeed/internal/transform"
)

type State string

const (
	StateDetected   State = "Detected"
	StateProcessing State = "Processing"
	StateSucceeded  State = "Succeeded"
	StateFailed     State = "Failed"
)

// FileJob is one watched file's processing attempt. Terminal state is
// reflected on the filesystem: the file ends up in the processed or failed
// directory, the latter paired with an error log.
type FileJob struct {
	Path        string
	DetectedAt  time.Time
	BatchID     string
	State       State
	Err         error
	Diagnostics []transform.Diagnostic
	Load        storage.LoadResult
	FinalPath   string
}

// BatchNotifier publishes batch-ingested events. Satisfied by *amqp.Client;
// nil disables publishing.
type BatchNotifier interface {
	PublishBatchIngested(ctx context.Context, msg *amqp.BatchIngestedMessage) error
}

// Processor runs the Transformer -> Loader -> move pipeline for single files.
type Processor struct {
	transformer    *transform.Transformer
	repo           *storage.Repository
	notifier       BatchNotifier
	processedDir   string
	failedDir      string
	storageTimeout time.Duration
	logger         *log.Logger
}

func NewProcessor(
	transformer *transform.Transformer,
	repo *storage.Repository,
	notifier BatchNotifier,
	processedDir, failedDir string,
	storageTimeout time.Duration,
	logger *log.Logger,
) *Processor {
	return &Processor{
		transformer:    transformer,
		repo:           repo,
		notifier:       notifier,
		processedDir:   processedDir,
		failedDir:      failedDir,
		storageTimeout: storageTimeout,
		logger:         logger,
	}
}

// Process takes a detected file to a terminal state and reports the attempt.
// Row-level diagnostics never fail a file; whole-file and storage errors
// quarantine it with an error log next to it.
func (p *Processor) Process(ctx context.Context, path string) *FileJob {
	job := &FileJob{
		Path:       path,
		DetectedAt: time.Now(),
		BatchID:    uuid.NewString(),
		State:      StateDetected,
	}
	job.State = StateProcessing

	p.logger.InfoContext(ctx, "Processing file", "file", filepath.Base(path), "batch_id", job.BatchID)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Gone before we got to it; nothing to move, nothing stored.
			job.State = StateFailed
			job.Err = fmt.Errorf("open file: %w", err)
			p.logger.WarnContext(ctx, "File vanished before processing", "file", path)
			return job
		}
		p.fail(ctx, job, fmt.Errorf("open file: %w", err))
		return job
	}

	res, err := p.transformer.File(f, filepath.Base(path), job.BatchID)
	f.Close()
	if err != nil {
		var fe *transform.FileError
		if errors.As(err, &fe) {
			job.Diagnostics = fe.Diagnostics
		}
		p.fail(ctx, job, err)
		return job
	}
	job.Diagnostics = res.Skipped

	loadCtx, cancel := context.WithTimeout(ctx, p.storageTimeout)
	load, err := p.repo.InsertBatch(loadCtx, res.Transactions)
	cancel()
	if err != nil {
		p.fail(ctx, job, err)
		return job
	}
	job.Load = load

	if err := p.moveToProcessed(job); err != nil {
		// The batch is committed; a failed move only risks one redundant
		// retry, which the fingerprint makes harmless.
		p.logger.ErrorContext(ctx, "Batch committed but file move failed", "file", path, "error", err)
	}

	job.State = StateSucceeded
	p.logger.InfoContext(ctx, "File ingested",
		"file", filepath.Base(path),
		"batch_id", job.BatchID,
		"inserted", load.Inserted,
		"skipped_existing", load.SkippedExisting,
		"skipped_rows", len(job.Diagnostics),
		"moved_to", job.FinalPath)
	for _, d := range job.Diagnostics {
		p.logger.WarnContext(ctx, "Row skipped", "file", filepath.Base(path), "row", d.Row, "reason", d.Reason)
	}

	p.notify(ctx, job)
	return job
}

func (p *Processor) fail(ctx context.Context, job *FileJob, reason error) {
	job.State = StateFailed
	job.Err = reason
	p.logger.ErrorContext(ctx, "File quarantined",
		"file", filepath.Base(job.Path),
		"batch_id", job.BatchID,
		"reason", reason)

	if err := p.moveToFailed(job); err != nil {
		p.logger.ErrorContext(ctx, "Quarantine move failed", "file", job.Path, "error", err)
	}
}

func (p *Processor) notify(ctx context.Context, job *FileJob) {
	if p.notifier == nil {
		return
	}
	msg := &amqp.BatchIngestedMessage{
		BatchID:         job.BatchID,
		SourceFile:      filepath.Base(job.Path),
		Inserted:        job.Load.Inserted,
		SkippedExisting: job.Load.SkippedExisting,
		SkippedRows:     len(job.Diagnostics),
		Timestamp:       time.Now(),
	}
	if err := p.notifier.PublishBatchIngested(ctx, msg); err != nil {
		p.logger.WarnContext(ctx, "Batch event publish failed", "batch_id", job.BatchID, "error", err)
	}
}

// stampedName prefixes the file name with the detection time, matching the
// terminal-directory naming downstream tooling expects.
func (j *FileJob) stampedName() string {
	return j.DetectedAt.Format("20060102_150405") + "_" + filepath.Base(j.Path)
}

func (p *Processor) moveToProcessed(job *FileJob) error {
	if err := os.MkdirAll(p.processedDir, 0o755); err != nil {
		return fmt.Errorf("create processed dir: %w", err)
	}
	dest := filepath.Join(p.processedDir, job.stampedName())
	if err := os.Rename(job.Path, dest); err != nil {
		return fmt.Errorf("move to processed: %w", err)
	}
	job.FinalPath = dest
	return nil
}

func (p *Processor) moveToFailed(job *FileJob) error {
	if err := os.MkdirAll(p.failedDir, 0o755); err != nil {
		return fmt.Errorf("create failed dir: %w", err)
	}
	dest := filepath.Join(p.failedDir, job.stampedName())
	if err := os.Rename(job.Path, dest); err != nil {
		return fmt.Errorf("move to failed: %w", err)
	}
	job.FinalPath = dest

	logPath := errorLogPath(dest)
	if err := os.WriteFile(logPath, []byte(job.errorLog()), 0o644); err != nil {
		return fmt.Errorf("write error log: %w", err)
	}
	return nil
}

// errorLogPath derives the quarantine log name from the moved file:
// 20240301_120000_march.csv -> 20240301_120000_march_ERROR.txt.
func errorLogPath(dest string) string {
	return strings.TrimSuffix(dest, filepath.Ext(dest)) + "_ERROR.txt"
}

func (j *FileJob) errorLog() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed_at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "file: %s\n", filepath.Base(j.Path))
	fmt.Fprintf(&b, "batch_id: %s\n", j.BatchID)
	fmt.Fprintf(&b, "reason: %v\n", j.Err)
	if len(j.Diagnostics) > 0 {
		b.WriteString("diagnostics:\n")
		for _, d := range j.Diagnostics {
			fmt.Fprintf(&b, "  %s\n", d)
		}
	}
	return b.String()
}
