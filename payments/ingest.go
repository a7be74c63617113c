/*
Package payments ingests salary-deduction confirmations from payroll.

PURPOSE:
  Payroll reports, per billing month and batch job, which employees had the
  water charge deducted. The ingestor validates a batch and appends every
  well-formed result to the payment ledger.

BATCH RULES:
  - Missing/invalid billing_month or empty results: the whole batch is
    rejected with a ValidationError and nothing is written
  - A malformed row (no employee id, null amount, negative amount, no
    status) is skipped and logged; the rest of the batch still lands
  - All valid rows are appended in one atomic ledger call

IDEMPOTENCY:
  Each confirmation carries a key derived from (employee, month, job,
  amount, status, reason). Resubmitting the exact same job is a no-op;
  the same result under a NEW job id is a new confirmation and adds to the
  paid total. This is deliberate: payroll reruns are distinguishable jobs.

  No amount is checked against the billing ledger here. The reconciliation
  engine does that lazily.
*/
package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/quarter-dues/dues"
)

// UnspecifiedFailure fills the reason of a non-success row that omits it.
const UnspecifiedFailure = "not provided"

// =============================================================================
// PAYLOAD
// =============================================================================

// Batch is one payroll confirmation upload.
type Batch struct {
	BillingMonth string   `json:"billing_month"`
	JobID        string   `json:"job_id"`
	Results      []Result `json:"results"`
}

// Result is a single employee's deduction outcome.
type Result struct {
	EmployeeID        string              `json:"employee_id"`
	AmountDeducted    decimal.NullDecimal `json:"amount_deducted"`
	AmountDeductedINR decimal.NullDecimal `json:"amount_deducted_inr"`
	Status            string              `json:"status"`
	FailureReason     string              `json:"failure_reason,omitempty"`
}

// Amount returns the deducted amount, accepting the legacy field name.
func (r Result) Amount() decimal.NullDecimal {
	if r.AmountDeducted.Valid {
		return r.AmountDeducted
	}
	return r.AmountDeductedINR
}

// Receipt summarizes an accepted batch.
type Receipt struct {
	BillingMonth dues.Period  `json:"billing_month"`
	JobID        string       `json:"job_id"`
	Received     int          `json:"received"`
	Written      int          `json:"written"`
	Duplicates   int          `json:"duplicates"`
	Skipped      []SkippedRow `json:"skipped"`
}

// SkippedRow explains why a result was not ingested.
type SkippedRow struct {
	Index      int    `json:"index"`
	EmployeeID string `json:"employee_id,omitempty"`
	Reason     string `json:"reason"`
}

// =============================================================================
// INGESTOR
// =============================================================================

type Ingestor struct {
	ledger dues.PaymentLedger
	clock  dues.Clock
	logger *log.Logger
}

// Option configures the ingestor.
type Option func(*Ingestor)

func WithClock(clock dues.Clock) Option {
	return func(i *Ingestor) {
		if clock != nil {
			i.clock = clock
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(i *Ingestor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

func NewIngestor(ledger dues.PaymentLedger, opts ...Option) *Ingestor {
	i := &Ingestor{ledger: ledger, clock: dues.SystemClock{}, logger: log.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IngestBatch validates and persists a confirmation batch.
func (i *Ingestor) IngestBatch(ctx context.Context, batch Batch) (*Receipt, error) {
	// 1. Batch-level validation: reject everything, write nothing
	month := strings.TrimSpace(batch.BillingMonth)
	if month == "" {
		return nil, dues.NewValidationError("billing_month", "required")
	}
	period, err := dues.ParsePeriod(month)
	if err != nil {
		return nil, dues.NewValidationError("billing_month", "expected YYYY-MM, got "+month)
	}
	if len(batch.Results) == 0 {
		return nil, dues.NewValidationError("results", "required")
	}

	receipt := &Receipt{
		BillingMonth: period,
		JobID:        batch.JobID,
		Received:     len(batch.Results),
		Skipped:      []SkippedRow{},
	}

	// 2. Row-level validation: skip noise rows
	now := i.clock.Now()
	confirmations := make([]dues.PaymentConfirmation, 0, len(batch.Results))
	for idx, r := range batch.Results {
		c, reason := i.toConfirmation(period, batch.JobID, r)
		if reason != "" {
			i.logger.Printf("[Ingest] Skipping malformed result #%d (job %s, %s): %s", idx, batch.JobID, period, reason)
			receipt.Skipped = append(receipt.Skipped, SkippedRow{Index: idx, EmployeeID: r.EmployeeID, Reason: reason})
			continue
		}
		c.ConfirmedAt = now
		confirmations = append(confirmations, c)
	}

	if len(confirmations) == 0 {
		return receipt, nil
	}

	// 3. Append atomically
	written, err := i.ledger.AppendConfirmations(ctx, confirmations)
	if err != nil {
		return nil, dues.NewSystemError("append payment confirmations", err)
	}
	receipt.Written = written
	receipt.Duplicates = len(confirmations) - written

	for _, c := range confirmations {
		i.logger.Printf("[Ingest] Confirmed payment for %s (%s): %s", c.ReferenceID, c.Period, c.Outcome)
	}
	return receipt, nil
}

// toConfirmation maps a row, returning a non-empty reason when malformed.
func (i *Ingestor) toConfirmation(period dues.Period, jobID string, r Result) (dues.PaymentConfirmation, string) {
	ref := strings.TrimSpace(r.EmployeeID)
	status := strings.TrimSpace(r.Status)
	amount := r.Amount()

	switch {
	case ref == "":
		return dues.PaymentConfirmation{}, "missing employee_id"
	case !amount.Valid:
		return dues.PaymentConfirmation{}, "missing amount_deducted"
	case amount.Decimal.IsNegative():
		return dues.PaymentConfirmation{}, "negative amount_deducted"
	case !amount.Decimal.Equal(amount.Decimal.Round(dues.MoneyPlaces)):
		return dues.PaymentConfirmation{}, "amount exceeds two decimal places"
	case status == "":
		return dues.PaymentConfirmation{}, "missing status"
	}

	outcome := dues.PaymentOutcome(status)
	reason := strings.TrimSpace(r.FailureReason)
	if outcome == dues.OutcomeSuccess {
		reason = ""
	} else if reason == "" {
		reason = UnspecifiedFailure
	}

	c := dues.PaymentConfirmation{
		ID:            uuid.NewString(),
		ReferenceID:   dues.ReferenceID(ref),
		Period:        period,
		JobID:         jobID,
		Amount:        amount.Decimal,
		Outcome:       outcome,
		FailureReason: reason,
	}
	c.IdempotencyKey = IdempotencyKey(c)
	return c, ""
}

// IdempotencyKey digests the fields that make two confirmations "the same
// submission". Amounts are normalized so 500 and 500.00 collide.
func IdempotencyKey(c dues.PaymentConfirmation) string {
	parts := []string{
		string(c.ReferenceID),
		c.Period.String(),
		c.JobID,
		c.Amount.String(),
		string(c.Outcome),
		c.FailureReason,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
