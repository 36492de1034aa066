// bankfeed-ingest runs the ingestion pipeline for a single statement file
// without starting the watcher: the file is transformed, loaded and moved to
// its terminal directory exactly as if it had been dropped into the watch
// folder.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"bankfeed/internal/categorize"
	"bankfeed/internal/config"
	applog "bankfeed/internal/log"
	"bankfeed/internal/storage"
	"bankfeed/internal/transform"
	"bankfeed/internal/watcher"
)

func main() {
	_ = godotenv.Load()

	file := flag.String("file", "", "statement CSV to ingest (required)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := applog.New(level, "bankfeed-ingest")
	applog.SetDefault(logger)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: bankfeed-ingest -file statement.csv")
		os.Exit(2)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	rules := categorize.DefaultRules()
	if cfg.RulesFile != "" {
		var err error
		rules, err = categorize.LoadRules(cfg.RulesFile)
		if err != nil {
			logger.Error("Failed to load categorization rules", "error", err, "path", cfg.RulesFile)
			os.Exit(1)
		}
	}

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	proc := watcher.NewProcessor(
		transform.New(categorize.New(rules), cfg.DateFormat),
		repo,
		nil, // one-shot runs publish no batch events
		cfg.ProcessedDir,
		cfg.FailedDir,
		cfg.StorageTimeout,
		logger,
	)

	job := proc.Process(context.Background(), *file)
	if job.State != watcher.StateSucceeded {
		logger.Error("Ingestion failed", "file", *file, "reason", job.Err)
		os.Exit(1)
	}

	fmt.Printf("ingested %s: %d inserted, %d already stored, %d rows skipped\n",
		*file, job.Load.Inserted, job.Load.SkippedExisting, len(job.Diagnostics))
}
