package deductions

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/quarter-dues/dues"
)

// DefaultChargeLabel prefixes every line item reason.
const DefaultChargeLabel = "Water Charges"

// ChargeCalculator prices one occupant for one billing period.
//
// Metering and tariff schedules live outside this system; the generator
// only asks for the final amount.
type ChargeCalculator interface {
	ChargeFor(ctx context.Context, occupant dues.Occupant, period dues.Period) (decimal.Decimal, error)
}

// FixedCharge bills every eligible occupant the same flat amount.
type FixedCharge struct {
	Amount decimal.Decimal
}

func (f FixedCharge) ChargeFor(_ context.Context, _ dues.Occupant, _ dues.Period) (decimal.Decimal, error) {
	if f.Amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("fixed charge is negative: %s", f.Amount)
	}
	return f.Amount.Round(dues.MoneyPlaces), nil
}

// ChargeFunc adapts a function to ChargeCalculator.
type ChargeFunc func(ctx context.Context, occupant dues.Occupant, period dues.Period) (decimal.Decimal, error)

func (fn ChargeFunc) ChargeFor(ctx context.Context, occupant dues.Occupant, period dues.Period) (decimal.Decimal, error) {
	return fn(ctx, occupant, period)
}
