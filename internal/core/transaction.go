package core

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeDebit  TransactionType = "Debit"
	TypeCredit TransactionType = "Credit"
)

type (
	TransactionType string

	// RawRow is one statement row exactly as read from the CSV, before any
	// validation. Category and TransactionType come from optional columns and
	// may be empty.
	RawRow struct {
		Date            string
		Description     string
		Category        string
		TransactionType string
		Amount          string
	}

	// NormalizedRow is a RawRow that passed validation. Category is the
	// statement's own label (possibly empty, resolved later); Type is empty
	// when the statement did not carry a recognizable transaction_type.
	NormalizedRow struct {
		Date        time.Time
		Description string
		Amount      decimal.Decimal
		Category    string
		Type        TransactionType
	}

	// Transaction is the canonical persisted record. Written once, never
	// mutated; Fingerprint is the idempotency key in storage.
	Transaction struct {
		Fingerprint string
		Date        time.Time
		Description string
		Amount      decimal.Decimal
		Category    string
		Type        TransactionType
		SourceFile  string
		BatchID     string
	}
)

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
)

// ValidateRow checks a raw statement row against the configured date format
// and returns its normalized form. Required fields failing validation return
// one of the sentinel errors above; optional fields are kept when
// syntactically valid and silently treated as absent otherwise.
func ValidateRow(row RawRow, dateFormat string) (NormalizedRow, error) {
	var n NormalizedRow

	date, err := time.Parse(dateFormat, strings.TrimSpace(row.Date))
	if err != nil {
		return n, ErrInvalidDate
	}

	desc := strings.TrimSpace(row.Description)
	if desc == "" {
		return n, ErrEmptyDescription
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(row.Amount))
	if err != nil {
		return n, ErrInvalidAmount
	}

	n = NormalizedRow{
		Date:        date,
		Description: desc,
		Amount:      amount,
		Category:    strings.TrimSpace(row.Category),
	}

	switch strings.ToLower(strings.TrimSpace(row.TransactionType)) {
	case "debit":
		n.Type = TypeDebit
	case "credit":
		n.Type = TypeCredit
	}

	return n, nil
}

// InferType derives the transaction type from the amount sign: outflows are
// negative. A zero amount counts as Credit.
func InferType(amount decimal.Decimal) TransactionType {
	if amount.Sign() < 0 {
		return TypeDebit
	}
	return TypeCredit
}

// Fingerprint returns the idempotency key for a transaction: a sha256 over
// date, case-folded description and canonical amount. Source-file identity is
// deliberately excluded, so the same row reported in two statements collapses
// to one stored transaction and re-dropping a renamed copy of a statement is
// a complete no-op.
func Fingerprint(date time.Time, description string, amount decimal.Decimal) string {
	h := sha256.New()
	h.Write([]byte(date.Format("2006-01-02")))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(description))))
	h.Write([]byte{0})
	h.Write([]byte(amount.String()))
	return hex.EncodeToString(h.Sum(nil))
}
