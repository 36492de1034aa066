// Package transform turns a raw statement CSV into validated, categorized,
// deduplicated transactions. Row-level problems are collected as diagnostics
// and never abort the file; structural problems reject the file as a whole.
package transform

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"bankfeed/internal/categorize"
	"bankfeed/internal/core"
)

const (
	colDate            = "date"
	colDescription     = "description"
	colAmount          = "amount"
	colCategory        = "category"
	colTransactionType = "transaction_type"
)

// FileErrorKind classifies whole-file failures.
type FileErrorKind string

const (
	MissingColumns FileErrorKind = "MissingColumns"
	NoValidRows    FileErrorKind = "NoValidRows"
)

// FileError rejects a file as a whole. Diagnostics carries whatever per-row
// findings were collected before the rejection, so the quarantine log can
// explain why every row was skipped.
type FileError struct {
	Kind        FileErrorKind
	Detail      string
	Diagnostics []Diagnostic
}

func (e *FileError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Diagnostic records one skipped row. Row is the 1-based index of the data
// row within the file (the header does not count).
type Diagnostic struct {
	Row    int
	Reason string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("row %d: %s", d.Row, d.Reason)
}

// Result is a successful transform: at least one transaction, in file order,
// plus diagnostics for any rows that were skipped along the way.
type Result struct {
	Transactions []core.Transaction
	Skipped      []Diagnostic
}

// Transformer parses statement files under a fixed date format and rule set.
type Transformer struct {
	categorizer *categorize.Categorizer
	dateFormat  string
}

func New(categorizer *categorize.Categorizer, dateFormat string) *Transformer {
	return &Transformer{categorizer: categorizer, dateFormat: dateFormat}
}

// File transforms one statement. sourceFile and batchID identify the
// ingestion attempt and are stamped onto every produced transaction.
//
// A file without the required date/description/amount columns fails wholly
// with MissingColumns. Rows that fail validation are skipped with a
// diagnostic; rows whose fingerprint was already produced earlier in the same
// file are skipped as in-batch duplicates. A file where no row survives
// fails wholly with NoValidRows. An I/O failure of the underlying reader
// aborts the transform with the read error.
func (t *Transformer) File(r io.Reader, sourceFile, batchID string) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &FileError{Kind: MissingColumns, Detail: "file is empty or has no header"}
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	seen := make(map[string]int) // fingerprint -> first row index

	for rowIdx := 1; ; rowIdx++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				res.Skipped = append(res.Skipped, Diagnostic{Row: rowIdx, Reason: fmt.Sprintf("unreadable row: %v", err)})
				continue
			}
			// Not a malformed row: the underlying reader failed and will keep
			// failing on every call, so abort instead of looping on it.
			return nil, fmt.Errorf("read row %d: %w", rowIdx, err)
		}

		raw := core.RawRow{
			Date:            cols.field(record, colDate),
			Description:     cols.field(record, colDescription),
			Amount:          cols.field(record, colAmount),
			Category:        cols.field(record, colCategory),
			TransactionType: cols.field(record, colTransactionType),
		}

		row, err := core.ValidateRow(raw, t.dateFormat)
		if err != nil {
			res.Skipped = append(res.Skipped, Diagnostic{Row: rowIdx, Reason: err.Error()})
			continue
		}

		txType := row.Type
		if txType == "" {
			txType = core.InferType(row.Amount)
		}

		fp := core.Fingerprint(row.Date, row.Description, row.Amount)
		if first, dup := seen[fp]; dup {
			res.Skipped = append(res.Skipped, Diagnostic{
				Row:    rowIdx,
				Reason: fmt.Sprintf("duplicate in batch of row %d", first),
			})
			continue
		}
		seen[fp] = rowIdx

		res.Transactions = append(res.Transactions, core.Transaction{
			Fingerprint: fp,
			Date:        row.Date,
			Description: row.Description,
			Amount:      row.Amount,
			Category:    t.categorizer.Categorize(row.Description, row.Category),
			Type:        txType,
			SourceFile:  sourceFile,
			BatchID:     batchID,
		})
	}

	if len(res.Transactions) == 0 {
		return nil, &FileError{
			Kind:        NoValidRows,
			Detail:      "no row passed validation",
			Diagnostics: res.Skipped,
		}
	}
	return res, nil
}

// columnMap resolves header names (case-insensitively) to record indices.
type columnMap map[string]int

func mapColumns(header []string) (columnMap, error) {
	cols := make(columnMap, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var missing []string
	for _, required := range []string{colDate, colDescription, colAmount} {
		if _, ok := cols[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, &FileError{
			Kind:   MissingColumns,
			Detail: "missing required columns: " + strings.Join(missing, ", "),
		}
	}
	return cols, nil
}

// field reads a named column from a record, tolerating short rows.
func (c columnMap) field(record []string, name string) string {
	idx, ok := c[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}
