package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/quarter-dues/dues"
	"github.com/warp/quarter-dues/payments"
	"github.com/warp/quarter-dues/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func confirmation(ref string, period string, job string, amount int64, outcome dues.PaymentOutcome, at time.Time) dues.PaymentConfirmation {
	c := dues.PaymentConfirmation{
		ID:          job + "-" + ref + "-" + period,
		ReferenceID: dues.ReferenceID(ref),
		Period:      dues.MustParsePeriod(period),
		JobID:       job,
		Amount:      decimal.NewFromInt(amount),
		Outcome:     outcome,
		ConfirmedAt: at,
	}
	if outcome != dues.OutcomeSuccess {
		c.FailureReason = "insufficient salary"
	}
	c.IdempotencyKey = payments.IdempotencyKey(c)
	return c
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestStore_OccupantRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	end := time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2025, 5, 16, 8, 30, 0, 0, time.UTC)

	require.NoError(t, store.SaveOccupants(ctx, []dues.Occupant{
		{ID: "LSQA002", ReferenceID: "PFMS10002", Name: "Rahul Kumar", QuarterID: "LSL-C-102", Status: dues.StatusVacated,
			StartDate: time.Date(2023, 2, 15, 0, 0, 0, 0, time.UTC), EndDate: &end, UpdatedAt: updated},
		{ID: "LSQA001", ReferenceID: "PFMS10001", QuarterID: "LSL-C-101", Status: dues.StatusOccupied},
	}))

	got, err := store.GetOccupant(ctx, "LSQA002")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Rahul Kumar", got.Name)
	assert.Equal(t, dues.StatusVacated, got.Status)
	assert.True(t, got.StartDate.Equal(time.Date(2023, 2, 15, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(end))
	assert.True(t, got.UpdatedAt.Equal(updated))

	first, err := store.GetOccupant(ctx, "LSQA001")
	require.NoError(t, err)
	assert.True(t, first.StartDate.IsZero())
	assert.Nil(t, first.EndDate)

	all, err := store.ListOccupants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, dues.OccupantID("LSQA001"), all[0].ID)

	missing, err := store.GetOccupant(ctx, "LSQA999")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_FindByReference(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	end := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

	// Same employee, transferred out of one quarter into another
	require.NoError(t, store.SaveOccupants(ctx, []dues.Occupant{
		{ID: "LSQA001", ReferenceID: "PFMS10001", QuarterID: "LSL-C-101", Status: dues.StatusTransferred,
			StartDate: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), EndDate: &end},
		{ID: "LSQA011", ReferenceID: "PFMS10001", QuarterID: "LSL-C-211", Status: dues.StatusOccupied,
			StartDate: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "LSQA012", QuarterID: "LSL-C-212", Status: dues.StatusOccupied},
	}))

	got, err := store.FindByReference(ctx, "PFMS10001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, dues.OccupantID("LSQA011"), got.ID)

	none, err := store.FindByReference(ctx, "pfms10001")
	assert.NoError(t, err)
	assert.Nil(t, none, "exact match only")

	empty, err := store.FindByReference(ctx, "")
	assert.NoError(t, err)
	assert.Nil(t, empty)
}

func TestStore_SaveOccupantsUpserts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	o := dues.Occupant{ID: "LSQA001", ReferenceID: "PFMS10001", QuarterID: "LSL-C-101", Status: dues.StatusOccupied}
	require.NoError(t, store.SaveOccupants(ctx, []dues.Occupant{o}))

	o.QuarterID = "LSL-C-201"
	require.NoError(t, store.SaveOccupants(ctx, []dues.Occupant{o}))

	got, err := store.GetOccupant(ctx, "LSQA001")
	require.NoError(t, err)
	assert.Equal(t, dues.QuarterID("LSL-C-201"), got.QuarterID)
}

// =============================================================================
// BILLING LEDGER
// =============================================================================

func TestStore_PutBillsOverwritesByKey(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	may := dues.MustParsePeriod("2025-05")
	bill := dues.BillingRecord{
		OccupantID: "LSQA001", Period: may, QuarterID: "LSL-C-101", ReferenceID: "PFMS10001",
		Amount: decimal.RequireFromString("500.50"), BilledAt: time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC), Status: dues.BillPendingUpload,
	}
	require.NoError(t, store.PutBills(ctx, []dues.BillingRecord{bill}))

	bill.Amount = decimal.NewFromInt(520)
	bill.Status = dues.BillUploaded
	require.NoError(t, store.PutBills(ctx, []dues.BillingRecord{bill}))

	got, err := store.Bill(ctx, "LSQA001", may)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(520)))
	assert.Equal(t, dues.BillUploaded, got.Status)
	assert.Equal(t, dues.ReferenceID("PFMS10001"), got.ReferenceID)
	assert.True(t, got.BilledAt.Equal(bill.BilledAt))

	byPeriod, err := store.BillsForPeriod(ctx, may)
	require.NoError(t, err)
	assert.Len(t, byPeriod, 1)

	missing, err := store.Bill(ctx, "LSQA001", may.Next())
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_BillsForOrdersByPeriod(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	var bills []dues.BillingRecord
	for _, p := range []string{"2025-03", "2024-12", "2025-01"} {
		bills = append(bills, dues.BillingRecord{OccupantID: "LSQA001", Period: dues.MustParsePeriod(p), Amount: decimal.NewFromInt(500), Status: dues.BillPendingUpload})
	}
	bills = append(bills, dues.BillingRecord{OccupantID: "LSQA002", Period: dues.MustParsePeriod("2025-01"), Amount: decimal.NewFromInt(510), Status: dues.BillPendingUpload})
	require.NoError(t, store.PutBills(ctx, bills))

	got, err := store.BillsFor(ctx, "LSQA001")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2024-12", got[0].Period.String())
	assert.Equal(t, "2025-03", got[2].Period.String())

	none, err := store.BillsFor(ctx, "LSQA404")
	assert.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// PAYMENT LEDGER
// =============================================================================

func TestStore_AppendConfirmationsSkipsKnownKeys(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	at := time.Date(2025, 6, 5, 10, 0, 0, 0, time.UTC)

	first := confirmation("PFMS10001", "2025-05", "job-1", 300, dues.OutcomeSuccess, at)
	n, err := store.AppendConfirmations(ctx, []dues.PaymentConfirmation{first})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Exact resubmission (fresh row id, same key) plus a new job
	again := first
	again.ID = "retry"
	second := confirmation("PFMS10001", "2025-05", "job-2", 300, dues.OutcomeSuccess, at.Add(time.Hour))
	n, err = store.AppendConfirmations(ctx, []dues.PaymentConfirmation{again, second, second})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.ConfirmationsFor(ctx, "PFMS10001")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "job-1", got[0].JobID)
	assert.Equal(t, "job-2", got[1].JobID)
	assert.Equal(t, first.IdempotencyKey, got[0].IdempotencyKey)
	assert.True(t, got[0].ConfirmedAt.Equal(at))
}

func TestStore_ConfirmationsOrderedAndDecoded(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	at := time.Date(2025, 6, 5, 10, 0, 0, 0, time.UTC)

	_, err := store.AppendConfirmations(ctx, []dues.PaymentConfirmation{
		confirmation("PFMS10001", "2025-05", "job-1", 0, dues.OutcomeFailed, at),
		confirmation("PFMS10001", "2025-04", "job-0", 500, dues.OutcomeSuccess, at),
	})
	require.NoError(t, err)

	got, err := store.ConfirmationsFor(ctx, "PFMS10001")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-04", got[0].Period.String())
	assert.Empty(t, got[0].FailureReason)
	assert.Equal(t, dues.OutcomeFailed, got[1].Outcome)
	assert.Equal(t, "insufficient salary", got[1].FailureReason)

	none, err := store.ConfirmationsFor(ctx, "PFMS10002")
	assert.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// END TO END
// =============================================================================

func TestStore_ReconcileScenario(t *testing.T) {
	// GIVEN: Occupant billed Jan-Mar at 500 with Jan and Feb deducted
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SaveOccupants(ctx, []dues.Occupant{{ID: "LSQA001", ReferenceID: "PFMS10001", QuarterID: "LSL-C-101", Status: dues.StatusOccupied}}))

	var bills []dues.BillingRecord
	for _, p := range []string{"2025-01", "2025-02", "2025-03"} {
		bills = append(bills, dues.BillingRecord{OccupantID: "LSQA001", ReferenceID: "PFMS10001", Period: dues.MustParsePeriod(p), Amount: decimal.NewFromInt(500), Status: dues.BillPendingUpload})
	}
	require.NoError(t, store.PutBills(ctx, bills))
	at := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	_, err := store.AppendConfirmations(ctx, []dues.PaymentConfirmation{
		confirmation("PFMS10001", "2025-01", "job-1", 500, dues.OutcomeSuccess, at),
		confirmation("PFMS10001", "2025-02", "job-2", 500, dues.OutcomeSuccess, at),
	})
	require.NoError(t, err)

	// WHEN: Reconciling through the SQLite store
	report, err := dues.NewEngine(store, store, store).Reconcile(ctx, "PFMS10001")

	// THEN: 500 pending for March
	require.NoError(t, err)
	assert.Equal(t, dues.DuesPending, report.Status)
	assert.True(t, report.PendingAmount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, []dues.Period{dues.MustParsePeriod("2025-03")}, report.PendingPeriods)
	assert.Equal(t, "2025-02", report.LastPaidPeriod.String())
}

func TestStore_FileDatabasePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dues.db")

	store, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, store.SaveOccupants(ctx, []dues.Occupant{{ID: "LSQA001", ReferenceID: "PFMS10001", Status: dues.StatusOccupied}}))
	require.NoError(t, store.Close())

	// Reopening re-runs migrations as a no-op
	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.FindByReference(ctx, "PFMS10001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NoError(t, reopened.Ping(ctx))
}

func TestStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SaveOccupants(ctx, []dues.Occupant{{ID: "LSQA001", Status: dues.StatusOccupied}}))

	require.NoError(t, store.Reset(ctx))

	all, err := store.ListOccupants(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
