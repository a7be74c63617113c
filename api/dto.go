/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Field names
  follow the payroll and estate-office vocabulary (employee_id,
  allottee_id, billing_month) rather than the Go type names.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

MONEY:
  Money renders as a JSON number with exactly two decimals (500.00), never a
  float computed value and never a quoted string.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/quarter-dues/deductions"
	"github.com/warp/quarter-dues/dues"
	"github.com/warp/quarter-dues/occupancy"
)

// Money is a decimal amount rendered with two places.
type Money decimal.Decimal

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(dues.MoneyPlaces)), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*m = Money(d)
	return nil
}

// Decimal returns the underlying value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.Decimal(m)
}

// =============================================================================
// DUES
// =============================================================================

// DuesStatusDTO is the dues report for one employee.
type DuesStatusDTO struct {
	EmployeeID    string   `json:"employee_id"`
	AllotteeID    string   `json:"allottee_id"`
	QuarterID     string   `json:"quarter_id"`
	DuesStatus    string   `json:"dues_status"`
	TotalBilled   Money    `json:"total_billed"`
	TotalPaid     Money    `json:"total_paid"`
	PendingAmount Money    `json:"pending_amount"`
	PendingMonths []string `json:"pending_months"`
	LastPaidMonth *string  `json:"last_paid_month"`
}

func toDuesStatusDTO(r *dues.DuesReport) DuesStatusDTO {
	dto := DuesStatusDTO{
		EmployeeID:    string(r.ReferenceID),
		AllotteeID:    string(r.OccupantID),
		QuarterID:     string(r.QuarterID),
		DuesStatus:    string(r.Status),
		TotalBilled:   Money(r.TotalBilled),
		TotalPaid:     Money(r.TotalPaid),
		PendingAmount: Money(r.PendingAmount),
		PendingMonths: make([]string, len(r.PendingPeriods)),
	}
	for i, p := range r.PendingPeriods {
		dto.PendingMonths[i] = p.String()
	}
	if r.LastPaidPeriod != nil {
		dto.LastPaidMonth = strPtr(r.LastPaidPeriod.String())
	}
	return dto
}

// =============================================================================
// DEDUCTIONS
// =============================================================================

// DeductionLineDTO is one line of a deduction batch.
type DeductionLineDTO struct {
	EmployeeID   string `json:"employee_id"`
	AllotteeID   string `json:"allottee_id"`
	QuarterID    string `json:"quarter_id"`
	BillingMonth string `json:"billing_month"`
	Amount       Money  `json:"amount_inr"`
	Reason       string `json:"reason"`
}

// DeductionBatchDTO summarizes a generation run.
type DeductionBatchDTO struct {
	BatchID      string             `json:"batch_id"`
	BillingMonth string             `json:"billing_month"`
	GeneratedAt  time.Time          `json:"generated_at"`
	LineCount    int                `json:"line_count"`
	TotalAmount  Money              `json:"total_amount_inr"`
	Published    bool               `json:"published"`
	Lines        []DeductionLineDTO `json:"lines"`
}

func toDeductionBatchDTO(b *deductions.ExportBatch) DeductionBatchDTO {
	dto := DeductionBatchDTO{
		BatchID:      b.ID,
		BillingMonth: b.Period.String(),
		GeneratedAt:  b.GeneratedAt,
		LineCount:    len(b.Lines),
		TotalAmount:  Money(b.Total()),
		Published:    b.Published,
		Lines:        make([]DeductionLineDTO, len(b.Lines)),
	}
	for i, l := range b.Lines {
		dto.Lines[i] = DeductionLineDTO{
			EmployeeID:   string(l.ReferenceID),
			AllotteeID:   string(l.OccupantID),
			QuarterID:    string(l.QuarterID),
			BillingMonth: l.Period.String(),
			Amount:       Money(l.Amount),
			Reason:       l.Reason,
		}
	}
	return dto
}

// MarkUploadedResponse reports how many bills advanced to UPLOADED.
type MarkUploadedResponse struct {
	BillingMonth string `json:"billing_month"`
	Uploaded     int    `json:"uploaded"`
}

// =============================================================================
// OCCUPANTS
// =============================================================================

// OccupantDTO represents a directory entry.
type OccupantDTO struct {
	AllotteeID         string    `json:"allottee_id"`
	EmployeeID         string    `json:"employee_id"`
	Name               string    `json:"name"`
	QuarterID          string    `json:"quarter_id"`
	Status             string    `json:"status"`
	AllotmentStartDate *string   `json:"allotment_start_date"`
	AllotmentEndDate   *string   `json:"allotment_end_date"`
	LastUpdated        time.Time `json:"last_updated"`
}

func toOccupantDTO(o dues.Occupant) OccupantDTO {
	dto := OccupantDTO{
		AllotteeID:  string(o.ID),
		EmployeeID:  string(o.ReferenceID),
		Name:        o.Name,
		QuarterID:   string(o.QuarterID),
		Status:      string(o.Status),
		LastUpdated: o.UpdatedAt,
	}
	if !o.StartDate.IsZero() {
		dto.AllotmentStartDate = strPtr(o.StartDate.Format(time.DateOnly))
	}
	if o.EndDate != nil {
		dto.AllotmentEndDate = strPtr(o.EndDate.Format(time.DateOnly))
	}
	return dto
}

// StatusUpdatesRequest is the estate office's occupancy feed.
type StatusUpdatesRequest struct {
	Updates []occupancy.StatusUpdate `json:"updates"`
}

// StatusUpdatesResponse reports how many occupants were saved.
type StatusUpdatesResponse struct {
	Updated int `json:"updated"`
}

// =============================================================================
// SYSTEM
// =============================================================================

// HealthDTO is the health check payload.
type HealthDTO struct {
	Status   string    `json:"status"`
	Database string    `json:"database"`
	Time     time.Time `json:"time"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func strPtr(s string) *string {
	return &s
}
