// Package storage persists transactions in SQLite, keyed uniquely by
// fingerprint, and exposes the query surface consumed by read-only
// collaborators (date range, category, transaction type, per-category
// aggregates).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	sqlitedrv "modernc.org/sqlite"

	"bankfeed/internal/core"
)

const dateLayout = "2006-01-02"

var (
	// ErrStorageUnavailable marks faults worth retrying: the store could not
	// be reached or the write timed out. No partial batch was committed.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrSchemaViolation marks constraint failures not explained by
	// fingerprint duplication. These are bugs or corrupt input, not retries.
	ErrSchemaViolation = errors.New("schema violation")
)

// LoadResult reports one batch insert. Skipped counts transactions whose
// fingerprint already existed in storage.
type LoadResult struct {
	Inserted        int
	SkippedExisting int
}

// Filter narrows transaction queries. Zero times mean unbounded; empty
// strings mean any.
type Filter struct {
	From     time.Time
	To       time.Time
	Category string
	Type     string
}

// CategoryTotal is one row of a per-category aggregate.
type CategoryTotal struct {
	Category string
	Count    int
	Total    decimal.Decimal
}

type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if needed) the SQLite database at dbPath and
// runs pending migrations.
func NewRepository(dbPath string) (*Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping verifies the store is reachable, mapping failures to
// ErrStorageUnavailable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// InsertBatch commits a batch of transactions atomically: either every new
// transaction is stored or, on error, none are. Transactions whose
// fingerprint already exists are skipped and counted, making the call safe to
// retry after a crash or for a re-dropped file.
func (r *Repository) InsertBatch(ctx context.Context, txs []core.Transaction) (LoadResult, error) {
	var res LoadResult
	if len(txs) == 0 {
		return res, nil
	}

	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return LoadResult{}, classify("begin batch", err)
	}
	defer dbtx.Rollback()

	stmt, err := dbtx.PrepareContext(ctx, `
		INSERT INTO transactions
			(fingerprint, transaction_date, description, amount, category, transaction_type, source_file, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`)
	if err != nil {
		return LoadResult{}, classify("prepare insert", err)
	}
	defer stmt.Close()

	for _, t := range txs {
		out, err := stmt.ExecContext(ctx,
			t.Fingerprint,
			t.Date.Format(dateLayout),
			t.Description,
			t.Amount.String(),
			t.Category,
			string(t.Type),
			t.SourceFile,
			t.BatchID,
		)
		if err != nil {
			return LoadResult{}, classify("insert transaction", err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return LoadResult{}, classify("rows affected", err)
		}
		if n == 0 {
			res.SkippedExisting++
		} else {
			res.Inserted++
		}
	}

	if err := dbtx.Commit(); err != nil {
		return LoadResult{}, classify("commit batch", err)
	}

	slog.InfoContext(ctx, "Batch committed",
		"inserted", res.Inserted,
		"skipped_existing", res.SkippedExisting,
		"batch_size", len(txs))

	return res, nil
}

// ListTransactions returns stored transactions matching the filter, ordered
// by date then insertion order.
func (r *Repository) ListTransactions(ctx context.Context, f Filter) ([]core.Transaction, error) {
	query := `
		SELECT fingerprint, transaction_date, description, amount, category, transaction_type, source_file, batch_id
		FROM transactions`
	where, args := f.clauses()
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY transaction_date, rowid"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var t core.Transaction
		var date, amount, txType string
		if err := rows.Scan(&t.Fingerprint, &date, &t.Description, &amount, &t.Category, &txType, &t.SourceFile, &t.BatchID); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("stored date %q: %w", date, err)
		}
		t.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("stored amount %q: %w", amount, err)
		}
		t.Type = core.TransactionType(txType)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate transactions", err)
	}
	return out, nil
}

// SummarizeByCategory aggregates matching transactions per category. Sums are
// computed in decimal on the way out rather than as SQL floats, so cents are
// exact.
func (r *Repository) SummarizeByCategory(ctx context.Context, f Filter) ([]CategoryTotal, error) {
	txs, err := r.ListTransactions(ctx, f)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]*CategoryTotal)
	var order []string
	for _, t := range txs {
		ct, ok := totals[t.Category]
		if !ok {
			ct = &CategoryTotal{Category: t.Category}
			totals[t.Category] = ct
			order = append(order, t.Category)
		}
		ct.Count++
		ct.Total = ct.Total.Add(t.Amount)
	}

	out := make([]CategoryTotal, 0, len(order))
	for _, cat := range order {
		out = append(out, *totals[cat])
	}
	return out, nil
}

// Count returns the number of stored transactions matching the filter.
func (r *Repository) Count(ctx context.Context, f Filter) (int, error) {
	query := "SELECT COUNT(*) FROM transactions"
	where, args := f.clauses()
	if where != "" {
		query += " WHERE " + where
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, classify("count transactions", err)
	}
	return n, nil
}

func (f Filter) clauses() (string, []any) {
	var conds []string
	var args []any
	if !f.From.IsZero() {
		conds = append(conds, "transaction_date >= ?")
		args = append(args, f.From.Format(dateLayout))
	}
	if !f.To.IsZero() {
		conds = append(conds, "transaction_date <= ?")
		args = append(args, f.To.Format(dateLayout))
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.Type != "" {
		conds = append(conds, "transaction_type = ?")
		args = append(args, f.Type)
	}
	return strings.Join(conds, " AND "), args
}

// SQLite primary result code for constraint failures. Fingerprint conflicts
// never reach this path (the insert uses ON CONFLICT DO NOTHING), so any
// constraint error here is a real schema violation.
const sqliteConstraint = 19

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
	}
	var se *sqlitedrv.Error
	if errors.As(err, &se) && se.Code()&0xff == sqliteConstraint {
		return fmt.Errorf("%s: %w: %v", op, ErrSchemaViolation, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
