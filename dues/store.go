/*
store.go - Directory and ledger contracts

PURPOSE:
  Defines the interface between the domain logic and persistence. Every
  component receives the narrow interface it needs through its constructor;
  there are no process-wide ledger clients.

KEY INTERFACES:
  Directory:      occupant lookup (by reference id, by occupant id, list)
  BillingLedger:  one record per (occupant, period); writes overwrite
  PaymentLedger:  append-only confirmations; duplicates by idempotency key
                  are ignored, never rejected

LOOKUP CONTRACT:
  Single-record lookups return (nil, nil) when nothing matches. An error
  always means the store could not answer.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - dues/store/memory.go: in-memory for tests and demos
*/
package dues

import "context"

// =============================================================================
// OCCUPANT DIRECTORY
// =============================================================================

// Directory resolves occupants.
type Directory interface {
	// FindByReference is an exact match on the external reference id.
	FindByReference(ctx context.Context, ref ReferenceID) (*Occupant, error)

	// GetOccupant looks up by internal id.
	GetOccupant(ctx context.Context, id OccupantID) (*Occupant, error)

	// ListOccupants returns every occupant, ordered by id.
	ListOccupants(ctx context.Context) ([]Occupant, error)
}

// DirectoryWriter is the status-update write path.
type DirectoryWriter interface {
	Directory

	// SaveOccupants upserts by occupant id, atomically.
	SaveOccupants(ctx context.Context, occupants []Occupant) error
}

// =============================================================================
// BILLING LEDGER
// =============================================================================

// BillingReader is what the engine needs from the billing ledger.
type BillingReader interface {
	// BillsFor returns all bills of an occupant, ordered by period.
	BillsFor(ctx context.Context, id OccupantID) ([]BillingRecord, error)
}

// BillingLedger is the full billing ledger.
type BillingLedger interface {
	BillingReader

	// Bill returns the bill for (occupant, period), or nil.
	Bill(ctx context.Context, id OccupantID, period Period) (*BillingRecord, error)

	// BillsForPeriod returns every bill of a period, ordered by occupant id.
	BillsForPeriod(ctx context.Context, period Period) ([]BillingRecord, error)

	// PutBills writes all records atomically, last writer wins per key.
	PutBills(ctx context.Context, bills []BillingRecord) error
}

// =============================================================================
// PAYMENT LEDGER
// =============================================================================

// PaymentReader is what the engine needs from the payment ledger.
type PaymentReader interface {
	// ConfirmationsFor returns every confirmation for a reference id,
	// ordered by period then confirmation time.
	ConfirmationsFor(ctx context.Context, ref ReferenceID) ([]PaymentConfirmation, error)
}

// PaymentLedger is the append-only payment ledger.
type PaymentLedger interface {
	PaymentReader

	// AppendConfirmations appends atomically. Confirmations whose
	// IdempotencyKey already exists (or repeats within the call) are
	// skipped. Returns how many rows were actually written.
	AppendConfirmations(ctx context.Context, confirmations []PaymentConfirmation) (int, error)
}
