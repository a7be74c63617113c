/*
Package sqlite provides a SQLite-backed implementation of the dues contracts.

PURPOSE:
  Implements the occupant directory, the billing ledger and the payment
  ledger on one SQLite database. In production the same patterns apply to
  PostgreSQL with minor dialect differences.

INTERFACES IMPLEMENTED:
  dues.DirectoryWriter: occupant lookup and status writes
  dues.BillingLedger:   bills keyed by (occupant, period), upserted
  dues.PaymentLedger:   append-only confirmations

APPEND-ONLY ENFORCEMENT:
  payment_confirmations is never updated or deleted. A repeated
  idempotency key is skipped with ON CONFLICT DO NOTHING, so an exact
  resubmission is a no-op rather than an error.

KEY TABLES:
  occupants:             directory, keyed by allottee id
  billing_records:       PRIMARY KEY (occupant_id, period)
  payment_confirmations: UNIQUE idempotency_key

MONEY:
  Amounts are stored as TEXT decimal strings, never REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging): readers do not
  block, one writer at a time.

MIGRATIONS:
  Versioned goose migrations are embedded (migrations/*.sql) and applied
  on New().

USAGE:
  store, err := sqlite.New("./data/quarter_dues.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := dues.NewEngine(store, store, store)

SEE ALSO:
  - dues/store.go: Interface definitions
  - dues/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/quarter-dues/dues"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	timeLayout = time.RFC3339Nano
	dateLayout = "2006-01-02"
)

// Store implements the directory and both ledgers using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for scrape-time gauges.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrations)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// OCCUPANT DIRECTORY (dues.DirectoryWriter interface)
// =============================================================================

const occupantColumns = `id, reference_id, name, quarter_id, status, start_date, end_date, updated_at`

// FindByReference returns the occupant holding ref. When a reference was
// reused (re-allotment), the current OCCUPIED record wins, then the latest
// start date.
func (s *Store) FindByReference(ctx context.Context, ref dues.ReferenceID) (*dues.Occupant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + occupantColumns + `
		FROM occupants
		WHERE reference_id = ? AND reference_id <> ''
		ORDER BY (status = 'OCCUPIED') DESC, start_date DESC, id ASC
		LIMIT 1
	`
	o, err := scanOccupant(s.db.QueryRowContext(ctx, query, string(ref)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find occupant by reference: %w", err)
	}
	return &o, nil
}

// GetOccupant looks up by allottee id.
func (s *Store) GetOccupant(ctx context.Context, id dues.OccupantID) (*dues.Occupant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + occupantColumns + ` FROM occupants WHERE id = ?`
	o, err := scanOccupant(s.db.QueryRowContext(ctx, query, string(id)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get occupant: %w", err)
	}
	return &o, nil
}

// ListOccupants returns every occupant ordered by id.
func (s *Store) ListOccupants(ctx context.Context) ([]dues.Occupant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+occupantColumns+` FROM occupants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query occupants: %w", err)
	}
	defer rows.Close()

	occupants := []dues.Occupant{}
	for rows.Next() {
		o, err := scanOccupant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan occupant: %w", err)
		}
		occupants = append(occupants, o)
	}
	return occupants, rows.Err()
}

// SaveOccupants upserts all occupants in one transaction.
func (s *Store) SaveOccupants(ctx context.Context, occupants []dues.Occupant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, o := range occupants {
			if err := saveOccupant(ctx, tx, o); err != nil {
				return err
			}
		}
		return nil
	})
}

func saveOccupant(ctx context.Context, db execer, o dues.Occupant) error {
	query := `
		INSERT INTO occupants (` + occupantColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reference_id = excluded.reference_id,
			name = excluded.name,
			quarter_id = excluded.quarter_id,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			updated_at = excluded.updated_at
	`

	var start, end sql.NullString
	if !o.StartDate.IsZero() {
		start = nullString(o.StartDate.UTC().Format(dateLayout))
	}
	if o.EndDate != nil {
		end = nullString(o.EndDate.UTC().Format(dateLayout))
	}

	_, err := db.ExecContext(ctx, query,
		string(o.ID), string(o.ReferenceID), o.Name, string(o.QuarterID), string(o.Status),
		start, end, o.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save occupant %s: %w", o.ID, err)
	}
	return nil
}

func scanOccupant(row scanner) (dues.Occupant, error) {
	var (
		o                     dues.Occupant
		id, ref, quarter      string
		status                string
		start, end, updatedAt sql.NullString
	)
	if err := row.Scan(&id, &ref, &o.Name, &quarter, &status, &start, &end, &updatedAt); err != nil {
		return o, err
	}

	o.ID = dues.OccupantID(id)
	o.ReferenceID = dues.ReferenceID(ref)
	o.QuarterID = dues.QuarterID(quarter)
	o.Status = dues.OccupancyStatus(status)
	if start.Valid {
		o.StartDate, _ = time.Parse(dateLayout, start.String)
	}
	if end.Valid {
		t, _ := time.Parse(dateLayout, end.String)
		o.EndDate = &t
	}
	o.UpdatedAt, _ = time.Parse(timeLayout, updatedAt.String)
	return o, nil
}

// =============================================================================
// BILLING LEDGER (dues.BillingLedger interface)
// =============================================================================

const billColumns = `occupant_id, period, quarter_id, reference_id, amount, billed_at, status`

// BillsFor returns every bill of an occupant ordered by period.
func (s *Store) BillsFor(ctx context.Context, id dues.OccupantID) ([]dues.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + billColumns + ` FROM billing_records WHERE occupant_id = ? ORDER BY period`
	return s.queryBills(ctx, query, string(id))
}

// Bill returns the (occupant, period) bill, or nil.
func (s *Store) Bill(ctx context.Context, id dues.OccupantID, period dues.Period) (*dues.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + billColumns + ` FROM billing_records WHERE occupant_id = ? AND period = ?`
	b, err := scanBill(s.db.QueryRowContext(ctx, query, string(id), period.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}
	return &b, nil
}

// BillsForPeriod returns the period's bills ordered by occupant id.
func (s *Store) BillsForPeriod(ctx context.Context, period dues.Period) ([]dues.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + billColumns + ` FROM billing_records WHERE period = ? ORDER BY occupant_id`
	return s.queryBills(ctx, query, period.String())
}

// PutBills upserts all bills atomically. Last writer wins per key.
func (s *Store) PutBills(ctx context.Context, bills []dues.BillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO billing_records (` + billColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(occupant_id, period) DO UPDATE SET
			quarter_id = excluded.quarter_id,
			reference_id = excluded.reference_id,
			amount = excluded.amount,
			billed_at = excluded.billed_at,
			status = excluded.status
	`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, b := range bills {
			_, err := tx.ExecContext(ctx, query,
				string(b.OccupantID), b.Period.String(), string(b.QuarterID), string(b.ReferenceID),
				b.Amount.String(), b.BilledAt.UTC().Format(timeLayout), string(b.Status),
			)
			if err != nil {
				return fmt.Errorf("failed to put bill %s/%s: %w", b.OccupantID, b.Period, err)
			}
		}
		return nil
	})
}

func (s *Store) queryBills(ctx context.Context, query string, args ...any) ([]dues.BillingRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var bills []dues.BillingRecord
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func scanBill(row scanner) (dues.BillingRecord, error) {
	var (
		b                              dues.BillingRecord
		occupantID, quarter, ref       string
		period, amount, billedAt, stat string
	)
	if err := row.Scan(&occupantID, &period, &quarter, &ref, &amount, &billedAt, &stat); err != nil {
		return b, err
	}

	p, err := dues.ParsePeriod(period)
	if err != nil {
		return b, err
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return b, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}

	b.OccupantID = dues.OccupantID(occupantID)
	b.Period = p
	b.QuarterID = dues.QuarterID(quarter)
	b.ReferenceID = dues.ReferenceID(ref)
	b.Amount = value
	b.BilledAt, _ = time.Parse(timeLayout, billedAt)
	b.Status = dues.BillStatus(stat)
	return b, nil
}

// =============================================================================
// PAYMENT LEDGER (dues.PaymentLedger interface)
// =============================================================================

const confirmationColumns = `id, reference_id, period, job_id, amount, outcome, failure_reason, confirmed_at, idempotency_key`

// ConfirmationsFor returns a reference's log ordered by period, then
// confirmation time, then insertion order.
func (s *Store) ConfirmationsFor(ctx context.Context, ref dues.ReferenceID) ([]dues.PaymentConfirmation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + confirmationColumns + `
		FROM payment_confirmations
		WHERE reference_id = ?
		ORDER BY period ASC, confirmed_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to query confirmations: %w", err)
	}
	defer rows.Close()

	var confirmations []dues.PaymentConfirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan confirmation: %w", err)
		}
		confirmations = append(confirmations, c)
	}
	return confirmations, rows.Err()
}

// AppendConfirmations inserts in one transaction, skipping known keys.
func (s *Store) AppendConfirmations(ctx context.Context, confirmations []dues.PaymentConfirmation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO payment_confirmations (` + confirmationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`

	written := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range confirmations {
			key := c.IdempotencyKey
			if key == "" {
				// Keyless rows never collide
				key = "id:" + c.ID
			}
			res, err := tx.ExecContext(ctx, query,
				c.ID, string(c.ReferenceID), c.Period.String(), c.JobID, c.Amount.String(),
				string(c.Outcome), nullString(c.FailureReason), c.ConfirmedAt.UTC().Format(timeLayout), key,
			)
			if err != nil {
				return fmt.Errorf("failed to append confirmation for %s: %w", c.ReferenceID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			written += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func scanConfirmation(row scanner) (dues.PaymentConfirmation, error) {
	var (
		c                         dues.PaymentConfirmation
		ref, period, amount       string
		outcome, confirmedAt, key string
		reason                    sql.NullString
	)
	if err := row.Scan(&c.ID, &ref, &period, &c.JobID, &amount, &outcome, &reason, &confirmedAt, &key); err != nil {
		return c, err
	}

	p, err := dues.ParsePeriod(period)
	if err != nil {
		return c, err
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return c, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}

	c.ReferenceID = dues.ReferenceID(ref)
	c.Period = p
	c.Amount = value
	c.Outcome = dues.PaymentOutcome(outcome)
	c.FailureReason = reason.String
	c.ConfirmedAt, _ = time.Parse(timeLayout, confirmedAt)
	if !strings.HasPrefix(key, "id:") {
		c.IdempotencyKey = key
	}
	return c, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payment_confirmations", "billing_records", "occupants"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// inTx runs fn in a transaction. Callers hold s.mu.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
