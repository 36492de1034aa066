// bankfeed-export renders stored transactions as CSV on stdout, optionally
// filtered by date range, category and transaction type. With -summary it
// prints per-category counts and totals instead of individual rows.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"bankfeed/internal/config"
	applog "bankfeed/internal/log"
	"bankfeed/internal/storage"
)

func main() {
	_ = godotenv.Load()

	from := flag.String("from", "", "start date (inclusive), YYYY-MM-DD")
	to := flag.String("to", "", "end date (inclusive), YYYY-MM-DD")
	category := flag.String("category", "", "filter by category")
	txType := flag.String("type", "", "filter by transaction type (Debit or Credit)")
	summary := flag.Bool("summary", false, "aggregate per category instead of listing rows")
	flag.Parse()

	logger := applog.New(slog.LevelWarn, "bankfeed-export")
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	filter, err := buildFilter(*from, *to, *category, *txType)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StorageTimeout)
	defer cancel()

	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	if *summary {
		err = writeSummary(ctx, w, repo, filter)
	} else {
		err = writeTransactions(ctx, w, repo, filter)
	}
	if err != nil {
		logger.Error("Export failed", "error", err)
		os.Exit(1)
	}
}

func buildFilter(from, to, category, txType string) (storage.Filter, error) {
	var f storage.Filter
	var err error
	if from != "" {
		if f.From, err = time.Parse("2006-01-02", from); err != nil {
			return f, fmt.Errorf("invalid -from date %q: want YYYY-MM-DD", from)
		}
	}
	if to != "" {
		if f.To, err = time.Parse("2006-01-02", to); err != nil {
			return f, fmt.Errorf("invalid -to date %q: want YYYY-MM-DD", to)
		}
	}
	f.Category = category
	f.Type = txType
	return f, nil
}

func writeTransactions(ctx context.Context, w *csv.Writer, repo *storage.Repository, f storage.Filter) error {
	txs, err := repo.ListTransactions(ctx, f)
	if err != nil {
		return err
	}
	if err := w.Write([]string{"date", "description", "category", "transaction_type", "amount", "source_file"}); err != nil {
		return err
	}
	for _, t := range txs {
		record := []string{
			t.Date.Format("2006-01-02"),
			t.Description,
			t.Category,
			string(t.Type),
			t.Amount.String(),
			t.SourceFile,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(ctx context.Context, w *csv.Writer, repo *storage.Repository, f storage.Filter) error {
	totals, err := repo.SummarizeByCategory(ctx, f)
	if err != nil {
		return err
	}
	if err := w.Write([]string{"category", "count", "total"}); err != nil {
		return err
	}
	for _, ct := range totals {
		if err := w.Write([]string{ct.Category, strconv.Itoa(ct.Count), ct.Total.String()}); err != nil {
			return err
		}
	}
	return nil
}
