/*
Package dues provides the core dues reconciliation engine.

PURPOSE:
  This package holds the domain types and the one algorithm with real
  semantics in the system: given the billing records and payment
  confirmations of one occupant, compute billed/paid totals, a binary dues
  status, the billing periods still outstanding and the last period paid.
  Whether an occupant is cleared for a no-dues certificate depends on it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Occupant: a quarter allottee, keyed internally and by external reference
  - BillingRecord: one charge per (occupant, period), overwritten on re-bill
  - PaymentConfirmation: an append-only salary-deduction outcome
  - DuesReport: derived on every query, never stored

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. Append-only payments: the paid amount of a period is the SUM of its
     successful confirmations, not the latest one
  3. Injected ledgers: the engine reads through interfaces (store.go) so it
     stays pure and testable with in-memory fakes

SEE ALSO:
  - reconcile.go: the engine
  - period.go: the YYYY-MM billing period token
  - store.go: directory and ledger contracts
*/
package dues

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// OccupantID is the internal allottee identifier (e.g. "LSQA001").
type OccupantID string

// ReferenceID is the external payroll identifier (e.g. "PFMS10001").
// It is unique across occupants and is what payment confirmations carry.
type ReferenceID string

type QuarterID string

// =============================================================================
// OCCUPANT
// =============================================================================

type OccupancyStatus string

const (
	StatusOccupied    OccupancyStatus = "OCCUPIED"
	StatusVacated     OccupancyStatus = "VACATED"
	StatusTransferred OccupancyStatus = "TRANSFERRED"
)

// Valid reports whether s is one of the known occupancy statuses.
func (s OccupancyStatus) Valid() bool {
	switch s {
	case StatusOccupied, StatusVacated, StatusTransferred:
		return true
	}
	return false
}

// Occupant is a directory entry. EndDate is set iff Status != OCCUPIED.
type Occupant struct {
	ID          OccupantID
	ReferenceID ReferenceID
	Name        string
	QuarterID   QuarterID
	Status      OccupancyStatus
	StartDate   time.Time
	EndDate     *time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// BILLING RECORD
// =============================================================================

type BillStatus string

const (
	BillPendingUpload BillStatus = "PENDING_UPLOAD"
	BillUploaded      BillStatus = "UPLOADED"
	BillSettled       BillStatus = "SETTLED"
)

// CanAdvanceTo reports whether a bill in status s may move to next.
// The lifecycle is strictly PENDING_UPLOAD -> UPLOADED -> SETTLED.
func (s BillStatus) CanAdvanceTo(next BillStatus) bool {
	switch s {
	case BillPendingUpload:
		return next == BillUploaded
	case BillUploaded:
		return next == BillSettled
	}
	return false
}

// BillingRecord is the charge for one occupant in one period.
// (OccupantID, Period) is the natural key.
type BillingRecord struct {
	OccupantID  OccupantID
	Period      Period
	QuarterID   QuarterID
	ReferenceID ReferenceID // denormalized for payment matching
	Amount      decimal.Decimal
	BilledAt    time.Time
	Status      BillStatus
}

// =============================================================================
// PAYMENT CONFIRMATION
// =============================================================================

type PaymentOutcome string

const (
	OutcomeSuccess PaymentOutcome = "SUCCESS"
	OutcomeFailed  PaymentOutcome = "FAILED"
)

// PaymentConfirmation records the outcome of one salary deduction attempt.
//
// Several confirmations may exist for the same (ReferenceID, Period) when a
// batch is resubmitted under a new job. IdempotencyKey collapses exact
// resubmissions of the same job.
type PaymentConfirmation struct {
	ID             string
	ReferenceID    ReferenceID
	Period         Period
	JobID          string
	Amount         decimal.Decimal
	Outcome        PaymentOutcome
	FailureReason  string
	ConfirmedAt    time.Time
	IdempotencyKey string
}

// Succeeded reports whether the confirmation counts towards paid totals.
func (c PaymentConfirmation) Succeeded() bool {
	return c.Outcome == OutcomeSuccess
}

// =============================================================================
// DUES REPORT - Derived, recomputed on every query
// =============================================================================

type DuesStatus string

const (
	DuesCleared DuesStatus = "CLEARED"
	DuesPending DuesStatus = "PENDING"
)

// DuesReport is the reconciliation result for one occupant.
//
// PendingAmount is exactly TotalBilled - TotalPaid rounded to two places.
// It is negative when the occupant has overpaid; such an occupant is
// CLEARED, never PENDING.
type DuesReport struct {
	ReferenceID    ReferenceID
	OccupantID     OccupantID
	QuarterID      QuarterID
	Status         DuesStatus
	TotalBilled    decimal.Decimal
	TotalPaid      decimal.Decimal
	PendingAmount  decimal.Decimal
	PendingPeriods []Period
	LastPaidPeriod *Period
}
