/*
reconcile.go - Dues reconciliation

PURPOSE:
  Answers "does this occupant owe anything?" by combining the occupant's
  billing records with their payment confirmations. The computation is a
  pure function (Compute); Engine only adds the directory lookup and the
  two ledger reads.

RULES:
  TotalBilled   = sum of every bill amount
  TotalPaid     = sum of SUCCESS confirmation amounts (others count zero)
  PendingAmount = round2(TotalBilled - TotalPaid)
  Status        = CLEARED if PendingAmount <= 0, else PENDING

  Outstanding periods are only listed while the aggregate is PENDING. A
  period is outstanding when the SUCCESS amounts of that exact period sum
  to less than its bill. When the aggregate is cleared the list is empty,
  even if one period is under-paid and another over-paid: aggregate
  clearance dominates.

  LastPaidPeriod is the latest period with any SUCCESS confirmation,
  independent of the status.

EXAMPLE:
  bills    = [2025-04: 500, 2025-05: 520]
  payments = [2025-04: 500 SUCCESS]
  => billed 1020, paid 500, pending 520, PENDING, [2025-05], last 2025-04

ERRORS:
  Unknown reference -> ErrOccupantNotFound
  Any read failure  -> *SystemError (never reported as not found)
*/
package dues

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// MoneyPlaces is the minor-unit precision of every reported amount.
const MoneyPlaces = 2

// =============================================================================
// ENGINE
// =============================================================================

// Engine reconciles dues on demand. It holds no state between calls.
type Engine struct {
	directory Directory
	bills     BillingReader
	payments  PaymentReader
	timeout   time.Duration
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithTimeout bounds each Reconcile call. Expiry is a SystemError.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewEngine(directory Directory, bills BillingReader, payments PaymentReader, opts ...EngineOption) *Engine {
	e := &Engine{directory: directory, bills: bills, payments: payments}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile computes the dues report for the occupant with reference ref.
func (e *Engine) Reconcile(ctx context.Context, ref ReferenceID) (*DuesReport, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// 1. Resolve the occupant
	occupant, err := e.directory.FindByReference(ctx, ref)
	if err != nil {
		return nil, NewSystemError("lookup occupant", err)
	}
	if occupant == nil {
		return nil, ErrOccupantNotFound
	}

	// 2. Read both ledgers; partitions are independent
	var (
		bills    []BillingRecord
		payments []PaymentConfirmation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bills, err = e.bills.BillsFor(gctx, occupant.ID)
		return NewSystemError("read billing ledger", err)
	})
	g.Go(func() error {
		var err error
		payments, err = e.payments.ConfirmationsFor(gctx, occupant.ReferenceID)
		return NewSystemError("read payment ledger", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := Compute(*occupant, bills, payments)
	return &report, nil
}

// =============================================================================
// COMPUTE - The pure reconciliation function
// =============================================================================

// Compute reconciles bills against payments for one occupant.
func Compute(occupant Occupant, bills []BillingRecord, payments []PaymentConfirmation) DuesReport {
	totalBilled := decimal.Zero
	for _, b := range bills {
		totalBilled = totalBilled.Add(b.Amount)
	}

	totalPaid := decimal.Zero
	paidByPeriod := make(map[Period]decimal.Decimal)
	var lastPaid *Period
	for _, p := range payments {
		if !p.Succeeded() {
			continue
		}
		totalPaid = totalPaid.Add(p.Amount)
		paidByPeriod[p.Period] = paidByPeriod[p.Period].Add(p.Amount)
		if lastPaid == nil || p.Period.After(*lastPaid) {
			period := p.Period
			lastPaid = &period
		}
	}

	pending := totalBilled.Sub(totalPaid).Round(MoneyPlaces)

	report := DuesReport{
		ReferenceID:    occupant.ReferenceID,
		OccupantID:     occupant.ID,
		QuarterID:      occupant.QuarterID,
		Status:         DuesCleared,
		TotalBilled:    totalBilled,
		TotalPaid:      totalPaid,
		PendingAmount:  pending,
		PendingPeriods: []Period{},
		LastPaidPeriod: lastPaid,
	}

	if !pending.IsPositive() {
		return report
	}

	report.Status = DuesPending
	report.PendingPeriods = outstandingPeriods(bills, paidByPeriod)
	return report
}

// outstandingPeriods returns the distinct, ascending periods whose bill is
// not covered by that period's successful payments.
func outstandingPeriods(bills []BillingRecord, paidByPeriod map[Period]decimal.Decimal) []Period {
	seen := make(map[Period]bool)
	periods := []Period{}
	for _, b := range bills {
		if paidByPeriod[b.Period].GreaterThanOrEqual(b.Amount) || seen[b.Period] {
			continue
		}
		seen[b.Period] = true
		periods = append(periods, b.Period)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods
}
