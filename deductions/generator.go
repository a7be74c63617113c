/*
Package deductions produces the monthly salary-deduction batch.

PURPOSE:
  Once per billing period the generator decides which occupants owe the
  utility charge, writes one billing record per occupant and hands the
  resulting export batch to payroll.

ELIGIBILITY:
  An occupant is billed for a period when it has an external reference id
  (payroll cannot deduct otherwise) and Occupant.OccupiesDuring(period):
    OCCUPIED               start <= period (or no start recorded)
    VACATED / TRANSFERRED  start <= period <= end
  Dates compare at month granularity.

WRITE ORDER:
  1. Charges are computed for every eligible occupant
  2. All bills land in ONE PutBills call (status PENDING_UPLOAD)
  3. The batch is published

  A calculator failure aborts before step 2, so a run is all-or-nothing.
  Re-running a period overwrites its bills (last writer wins).

EMPTY RUNS:
  No eligible occupant means no writes and nothing published.

SEE ALSO:
  - rates.go: ChargeCalculator
  - export.go: CSV/XLSX rendering
  - publish.go: where batches go
*/
package deductions

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/quarter-dues/dues"
)

// =============================================================================
// EXPORT BATCH
// =============================================================================

// LineItem is one deduction instruction for payroll.
type LineItem struct {
	ReferenceID dues.ReferenceID `json:"employee_id"`
	OccupantID  dues.OccupantID  `json:"allottee_id"`
	QuarterID   dues.QuarterID   `json:"quarter_id"`
	Period      dues.Period      `json:"billing_month"`
	Amount      decimal.Decimal  `json:"amount"`
	Reason      string           `json:"reason"`
}

// ExportBatch is the output of one generation run.
type ExportBatch struct {
	ID          string      `json:"batch_id"`
	Period      dues.Period `json:"billing_month"`
	GeneratedAt time.Time   `json:"generated_at"`
	Lines       []LineItem  `json:"lines"`
	Published   bool        `json:"published"`
}

func (b *ExportBatch) IsEmpty() bool {
	return len(b.Lines) == 0
}

// Total sums every line amount.
func (b *ExportBatch) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// =============================================================================
// GENERATOR
// =============================================================================

type Generator struct {
	directory  dues.Directory
	ledger     dues.BillingLedger
	calculator ChargeCalculator
	publisher  Publisher
	clock      dues.Clock
	logger     *log.Logger
	label      string

	mu      sync.Mutex
	running map[dues.Period]*sync.Mutex
}

type Option func(*Generator)

func WithPublisher(p Publisher) Option {
	return func(g *Generator) {
		if p != nil {
			g.publisher = p
		}
	}
}

func WithClock(clock dues.Clock) Option {
	return func(g *Generator) {
		if clock != nil {
			g.clock = clock
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithChargeLabel overrides the "Water Charges" reason prefix.
func WithChargeLabel(label string) Option {
	return func(g *Generator) {
		if label != "" {
			g.label = label
		}
	}
}

func NewGenerator(directory dues.Directory, ledger dues.BillingLedger, calculator ChargeCalculator, opts ...Option) *Generator {
	g := &Generator{
		directory:  directory,
		ledger:     ledger,
		calculator: calculator,
		clock:      dues.SystemClock{},
		logger:     log.Default(),
		label:      DefaultChargeLabel,
		running:    make(map[dues.Period]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.publisher == nil {
		g.publisher = NewLogPublisher(g.logger)
	}
	return g
}

// Reason is the payroll-facing description of a period's charge.
func (g *Generator) Reason(period dues.Period) string {
	return fmt.Sprintf("%s - %s", g.label, period)
}

// GenerateForPeriod bills every eligible occupant and publishes the batch.
//
// A publish failure is logged and leaves Published false; the bills stay
// written and the export can be fetched again from the billing ledger.
func (g *Generator) GenerateForPeriod(ctx context.Context, period dues.Period) (*ExportBatch, error) {
	if period.IsZero() {
		return nil, dues.NewValidationError("billing_month", "required")
	}

	unlock := g.lockPeriod(period)
	defer unlock()

	occupants, err := g.directory.ListOccupants(ctx)
	if err != nil {
		return nil, dues.NewSystemError("list occupants", err)
	}

	now := g.clock.Now()
	batch := &ExportBatch{
		ID:          uuid.NewString(),
		Period:      period,
		GeneratedAt: now,
		Lines:       []LineItem{},
	}

	// 1. Price every eligible occupant before touching the ledger
	var bills []dues.BillingRecord
	for _, o := range occupants {
		if o.ReferenceID == "" || !o.OccupiesDuring(period) {
			continue
		}
		amount, err := g.calculator.ChargeFor(ctx, o, period)
		if err != nil {
			return nil, dues.NewSystemError(fmt.Sprintf("compute charge for %s", o.ID), err)
		}
		if err := checkCharge(amount); err != nil {
			return nil, dues.NewSystemError(fmt.Sprintf("compute charge for %s", o.ID), err)
		}
		bills = append(bills, dues.BillingRecord{
			OccupantID:  o.ID,
			Period:      period,
			QuarterID:   o.QuarterID,
			ReferenceID: o.ReferenceID,
			Amount:      amount,
			BilledAt:    now,
			Status:      dues.BillPendingUpload,
		})
		batch.Lines = append(batch.Lines, g.lineFor(o.ReferenceID, o.ID, o.QuarterID, period, amount))
	}

	if batch.IsEmpty() {
		g.logger.Printf("[Deductions] No eligible occupants for %s", period)
		return batch, nil
	}

	// 2. One atomic write
	if err := g.ledger.PutBills(ctx, bills); err != nil {
		return nil, dues.NewSystemError("write billing records", err)
	}
	g.logger.Printf("[Deductions] Billed %d occupants for %s (total %s)", len(bills), period, batch.Total().StringFixed(dues.MoneyPlaces))

	// 3. Hand off
	if err := g.publisher.Publish(ctx, batch); err != nil {
		g.logger.Printf("[Deductions] Failed to publish batch %s for %s: %v", batch.ID, period, err)
		return batch, nil
	}
	batch.Published = true
	return batch, nil
}

// ExportForPeriod rebuilds the export batch from bills already written,
// without re-billing anyone.
func (g *Generator) ExportForPeriod(ctx context.Context, period dues.Period) (*ExportBatch, error) {
	bills, err := g.ledger.BillsForPeriod(ctx, period)
	if err != nil {
		return nil, dues.NewSystemError("read billing ledger", err)
	}

	batch := &ExportBatch{
		ID:          uuid.NewString(),
		Period:      period,
		GeneratedAt: g.clock.Now(),
		Lines:       make([]LineItem, 0, len(bills)),
	}
	for _, b := range bills {
		batch.Lines = append(batch.Lines, g.lineFor(b.ReferenceID, b.OccupantID, b.QuarterID, period, b.Amount))
	}
	return batch, nil
}

// MarkUploaded advances the period's PENDING_UPLOAD bills to UPLOADED once
// payroll acknowledges the file. Bills already past that state are left
// alone. Returns how many bills moved.
func (g *Generator) MarkUploaded(ctx context.Context, period dues.Period) (int, error) {
	unlock := g.lockPeriod(period)
	defer unlock()

	bills, err := g.ledger.BillsForPeriod(ctx, period)
	if err != nil {
		return 0, dues.NewSystemError("read billing ledger", err)
	}
	if len(bills) == 0 {
		return 0, fmt.Errorf("%w: no bills for %s", dues.ErrBillNotFound, period)
	}

	var advanced []dues.BillingRecord
	for _, b := range bills {
		if !b.Status.CanAdvanceTo(dues.BillUploaded) {
			continue
		}
		b.Status = dues.BillUploaded
		advanced = append(advanced, b)
	}
	if len(advanced) == 0 {
		return 0, nil
	}

	if err := g.ledger.PutBills(ctx, advanced); err != nil {
		return 0, dues.NewSystemError("write billing records", err)
	}
	g.logger.Printf("[Deductions] Marked %d bills uploaded for %s", len(advanced), period)
	return len(advanced), nil
}

func (g *Generator) lineFor(ref dues.ReferenceID, id dues.OccupantID, quarter dues.QuarterID, period dues.Period, amount decimal.Decimal) LineItem {
	return LineItem{
		ReferenceID: ref,
		OccupantID:  id,
		QuarterID:   quarter,
		Period:      period,
		Amount:      amount,
		Reason:      g.Reason(period),
	}
}

// checkCharge enforces the billing record amount rules: non-negative, at
// most two decimal places.
func checkCharge(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("negative charge %s", amount)
	}
	if !amount.Equal(amount.Round(dues.MoneyPlaces)) {
		return fmt.Errorf("charge %s exceeds two decimal places", amount)
	}
	return nil
}

// lockPeriod serializes runs for one period within this process.
func (g *Generator) lockPeriod(period dues.Period) func() {
	g.mu.Lock()
	m, ok := g.running[period]
	if !ok {
		m = &sync.Mutex{}
		g.running[period] = m
	}
	g.mu.Unlock()

	m.Lock()
	return m.Unlock
}
