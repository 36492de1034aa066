package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"bankfeed/internal/amqp"
	"bankfeed/internal/categorize"
	"bankfeed/internal/config"
	applog "bankfeed/internal/log"
	"bankfeed/internal/storage"
	"bankfeed/internal/transform"
	"bankfeed/internal/watcher"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(slog.LevelInfo, "bankfeed")
	applog.SetDefault(logger)

	logger.Info("Starting bankfeed watcher")

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
	categorizer := categorize.New(rules)
	logger.Info("Categorization rules loaded",
		"rules", len(rules),
		"categories", categorizer.Categories())

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.Ping(context.Background()); err != nil {
		logger.Error("Storage not reachable, refusing to start", "error", err)
		os.Exit(1)
	}

	// Batch events are optional: without a broker the pipeline runs the same.
	var notifier watcher.BatchNotifier
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without batch events", "error", err)
		} else {
			defer amqpClient.Close()
			notifier = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled - batch events will not be published")
	}

	proc := watcher.NewProcessor(
		transform.New(categorizer, cfg.DateFormat),
		repo,
		notifier,
		cfg.ProcessedDir,
		cfg.FailedDir,
		cfg.StorageTimeout,
		logger.WithComponent("processor"),
	)
	w := watcher.New(proc, cfg.WatchDir, cfg.SettleDelay, cfg.MaxConcurrentFiles, logger.WithComponent("watcher"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	logger.Info("Watching for statement files",
		"watch_dir", cfg.WatchDir,
		"processed_dir", cfg.ProcessedDir,
		"failed_dir", cfg.FailedDir,
		"db", cfg.SQLiteDBPath)

	if err := w.Run(ctx); err != nil {
		logger.Error("Watcher error", "error", err)
		os.Exit(1)
	}

	logger.Info("Watcher stopped gracefully")
}
