/*
Package seed loads a demo dataset into empty stores.

DATASET:
  - 10 occupants LSQA001..LSQA010 (PFMS10001..PFMS10010, LSL-C-101..110)
  - 3 bills each: the current month and the two before it
    (amount = 500 + 10*i + 5*j, where j months back)
  - SUCCESS confirmations for every bill except the current month

  After seeding, every occupant is PENDING for exactly the current month.

Running it twice is safe: occupants and bills are upserts and the
confirmations carry stable idempotency keys.
*/
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/quarter-dues/dues"
	"github.com/warp/quarter-dues/payments"
)

// JobID marks confirmations created by the seeder.
const JobID = "SEED"

// Stores groups the write paths the seeder needs.
type Stores struct {
	Directory dues.DirectoryWriter
	Bills     dues.BillingLedger
	Payments  dues.PaymentLedger
}

// Result reports what was written.
type Result struct {
	Occupants     int `json:"occupants"`
	Bills         int `json:"bills"`
	Confirmations int `json:"confirmations"`
}

var names = []string{
	"Priya Sharma", "Rahul Kumar", "Anjali Singh", "Vikram Yadav", "Sneha Gupta",
	"Deepak Verma", "Pooja Devi", "Sanjay Mishra", "Kavita Sharma", "Ravi Kumar",
}

// Run seeds the stores relative to now.
func Run(ctx context.Context, stores Stores, now time.Time) (*Result, error) {
	current := dues.PeriodOf(now)

	occupants := make([]dues.Occupant, 0, len(names))
	var bills []dues.BillingRecord
	var confirmations []dues.PaymentConfirmation

	for idx, name := range names {
		i := idx + 1
		o := dues.Occupant{
			ID:          dues.OccupantID(fmt.Sprintf("LSQA%03d", i)),
			ReferenceID: dues.ReferenceID(fmt.Sprintf("PFMS100%02d", i)),
			Name:        name,
			QuarterID:   dues.QuarterID(fmt.Sprintf("LSL-C-1%02d", i)),
			Status:      dues.StatusOccupied,
			StartDate:   time.Date(2023, time.Month(i), 1, 0, 0, 0, 0, time.UTC),
			UpdatedAt:   now,
		}
		occupants = append(occupants, o)

		period := current
		for j := 0; j < 3; j++ {
			amount := decimal.NewFromInt(int64(500 + i*10 + j*5))
			billedAt := period.Start()
			bills = append(bills, dues.BillingRecord{
				OccupantID:  o.ID,
				Period:      period,
				QuarterID:   o.QuarterID,
				ReferenceID: o.ReferenceID,
				Amount:      amount,
				BilledAt:    billedAt,
				Status:      dues.BillPendingUpload,
			})

			if j > 0 {
				c := dues.PaymentConfirmation{
					ID:          uuid.NewString(),
					ReferenceID: o.ReferenceID,
					Period:      period,
					JobID:       JobID,
					Amount:      amount,
					Outcome:     dues.OutcomeSuccess,
					ConfirmedAt: billedAt.AddDate(0, 0, 5),
				}
				c.IdempotencyKey = payments.IdempotencyKey(c)
				confirmations = append(confirmations, c)
			}
			period = period.Previous()
		}
	}

	if err := stores.Directory.SaveOccupants(ctx, occupants); err != nil {
		return nil, dues.NewSystemError("seed occupants", err)
	}
	if err := stores.Bills.PutBills(ctx, bills); err != nil {
		return nil, dues.NewSystemError("seed bills", err)
	}
	written, err := stores.Payments.AppendConfirmations(ctx, confirmations)
	if err != nil {
		return nil, dues.NewSystemError("seed confirmations", err)
	}

	return &Result{
		Occupants:     len(occupants),
		Bills:         len(bills),
		Confirmations: written,
	}, nil
}
