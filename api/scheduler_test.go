package api

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/quarter-dues/deductions"
	"github.com/warp/quarter-dues/dues"
	"github.com/warp/quarter-dues/dues/store"
)

func newSchedulerFixture(t *testing.T, now time.Time) (*DeductionScheduler, *store.Memory) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	mem := store.NewMemory()
	require.NoError(t, mem.SaveOccupants(context.Background(), []dues.Occupant{{
		ID:          "LSQA001",
		ReferenceID: "PFMS10001",
		QuarterID:   "LSL-C-101",
		Status:      dues.StatusOccupied,
		StartDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}}))

	generator := deductions.NewGenerator(mem, mem, deductions.FixedCharge{Amount: decimal.NewFromInt(500)},
		deductions.WithPublisher(deductions.NewLogPublisher(quiet)),
		deductions.WithClock(dues.FixedClock(now)),
		deductions.WithLogger(quiet),
	)
	scheduler, err := NewDeductionScheduler(generator, "0 2 1 * *", dues.FixedClock(now), quiet)
	require.NoError(t, err)
	return scheduler, mem
}

func TestDeductionScheduler_RunOnceBillsPreviousMonth(t *testing.T) {
	// GIVEN: The clock reads 1 January 2025, 02:00
	scheduler, mem := newSchedulerFixture(t, time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC))

	// WHEN: The job fires
	batch, err := scheduler.RunOnce(context.Background())

	// THEN: December 2024 is billed
	require.NoError(t, err)
	assert.Equal(t, "2024-12", batch.Period.String())
	require.Len(t, batch.Lines, 1)

	bill, err := mem.Bill(context.Background(), "LSQA001", dues.MustParsePeriod("2024-12"))
	require.NoError(t, err)
	require.NotNil(t, bill)
	assert.Equal(t, dues.BillPendingUpload, bill.Status)
}

func TestDeductionScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewDeductionScheduler(nil, "every month", nil, nil)
	assert.Error(t, err)
}

func TestDeductionScheduler_StartStop(t *testing.T) {
	scheduler, _ := newSchedulerFixture(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))

	require.NoError(t, scheduler.Start())
	require.NoError(t, scheduler.Start())
	scheduler.Stop()
	scheduler.Stop()
}
