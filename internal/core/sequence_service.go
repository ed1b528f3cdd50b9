package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// SequenceScope names an entity whose codes are sequence-generated.
type SequenceScope string

const (
	ScopePartner       SequenceScope = "partner"
	ScopeCategory      SequenceScope = "category"
	ScopeProduct       SequenceScope = "product"
	ScopeWarehouse     SequenceScope = "warehouse"
	ScopeInventoryItem SequenceScope = "inventory_item"
)

// sequenceScopes fixes the table, column, and prefix per scope. Identifiers
// are interpolated into SQL only from this map, never from caller input.
var sequenceScopes = map[SequenceScope]struct {
	table  string
	column string
	prefix string
}{
	ScopePartner:       {"partners", "code", "P-"},
	ScopeCategory:      {"categories", "code", "CAT-"},
	ScopeProduct:       {"products", "code", "PRD-"},
	ScopeWarehouse:     {"warehouses", "code", "WH-"},
	ScopeInventoryItem: {"inventory_items", "sku", "INV-"},
}

const (
	seqMaxAttempts = 3
	seqRetryDelay  = 100 * time.Millisecond
)

// SequenceService mints collision-free, human-readable sequential codes.
// Every scope — not only invoice numbers — runs under the same row-locking
// transaction and retry discipline, and the max+1 scan covers tombstoned
// rows so a code that ever existed is never reissued.
type SequenceService interface {
	// Next returns the next code for the scope, e.g. P-0007, in its own
	// transaction.
	Next(ctx context.Context, scope SequenceScope) (string, error)
	// NextTx mints a code for the scope inside the caller's transaction, so
	// the mint and the row insert commit together.
	NextTx(ctx context.Context, tx pgx.Tx, scope SequenceScope) (string, error)
	// NextInvoiceNumberTx mints the next invoice number for the year scope,
	// formatted {prefix}-{year}-{NNNN}, inside the caller's transaction.
	NextInvoiceNumberTx(ctx context.Context, tx pgx.Tx, prefix string, year int) (string, error)
}

type sequenceService struct {
	pool   *pgxpool.Pool
	log    *logrus.Logger
	digits int
}

func NewSequenceService(pool *pgxpool.Pool, log *logrus.Logger, digits int) SequenceService {
	if digits <= 0 {
		digits = 4
	}
	return &sequenceService{pool: pool, log: log, digits: digits}
}

func (s *sequenceService) Next(ctx context.Context, scope SequenceScope) (string, error) {
	sc, ok := sequenceScopes[scope]
	if !ok {
		return "", &ValidationError{Field: "scope", Message: fmt.Sprintf("unknown sequence scope %q", scope)}
	}

	var code string
	err := retryTx(s.log, sc.prefix, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		code, err = nextCodeTx(ctx, tx, sc.table, sc.column, sc.prefix, s.digits)
		if err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *sequenceService) NextTx(ctx context.Context, tx pgx.Tx, scope SequenceScope) (string, error) {
	sc, ok := sequenceScopes[scope]
	if !ok {
		return "", &ValidationError{Field: "scope", Message: fmt.Sprintf("unknown sequence scope %q", scope)}
	}
	return nextCodeTx(ctx, tx, sc.table, sc.column, sc.prefix, s.digits)
}

func (s *sequenceService) NextInvoiceNumberTx(ctx context.Context, tx pgx.Tx, prefix string, year int) (string, error) {
	if prefix == "" {
		prefix = "INV"
	}
	full := fmt.Sprintf("%s-%d-", prefix, year)
	return nextCodeTx(ctx, tx, "invoices", "invoice_number", full, s.digits)
}

// nextCodeTx locks every row matching the prefix — including soft-deleted
// ones — parses the trailing numeric suffix of each, and formats max+1.
// Codes with an unparsable suffix are ignored; with no parsable predecessor
// the sequence starts at 1.
func nextCodeTx(ctx context.Context, tx pgx.Tx, table, column, prefix string, digits int) (string, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIKE $1 FOR UPDATE", column, table, column)
	rows, err := tx.Query(ctx, query, prefix+"%")
	if err != nil {
		return "", fmt.Errorf("failed to scan %s codes: %w", table, err)
	}
	defer rows.Close()

	max := 0
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return "", fmt.Errorf("failed to scan %s code: %w", table, err)
		}
		if n, ok := parseCodeSuffix(code, prefix); ok && n > max {
			max = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating %s codes: %w", table, err)
	}

	return fmt.Sprintf("%s%0*d", prefix, digits, max+1), nil
}

func parseCodeSuffix(code, prefix string) (int, bool) {
	suffix := strings.TrimPrefix(code, prefix)
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// retryTx runs fn up to seqMaxAttempts times, sleeping a fixed delay between
// attempts on retryable conflicts (serialization failure, deadlock, or a
// duplicate key from two writers minting the same code). Exhaustion surfaces
// as SequenceExhaustedError.
func retryTx(log *logrus.Logger, prefix string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= seqMaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isRetryableTxError(err) {
			return err
		}
		if log != nil {
			log.WithFields(logrus.Fields{
				"prefix":  prefix,
				"attempt": attempt,
			}).Warn("sequence generation conflict, retrying")
		}
		time.Sleep(seqRetryDelay)
	}
	if log != nil {
		log.WithField("prefix", prefix).WithError(err).Error("sequence generation retries exhausted")
	}
	return &SequenceExhaustedError{Prefix: prefix, Attempts: seqMaxAttempts}
}

// isRetryableTxError recognizes transient conflicts worth another attempt:
// serialization failure, deadlock, and unique violation (two transactions
// computed the same next code).
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return true
		}
	}
	return false
}
