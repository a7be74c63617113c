package deductions_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/quarter-dues/deductions"
	"github.com/warp/quarter-dues/dues"
	"github.com/warp/quarter-dues/dues/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	may       = dues.MustParsePeriod("2025-05")
	billedAt  = time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)
	quietLogs = log.New(io.Discard, "", 0)
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func datePtr(year int, month time.Month, day int) *time.Time {
	d := date(year, month, day)
	return &d
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches []*deductions.ExportBatch
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, batch *deductions.ExportBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
	return p.err
}

func fixedCharge(amount int64) deductions.FixedCharge {
	return deductions.FixedCharge{Amount: decimal.NewFromInt(amount)}
}

func newGenerator(t *testing.T, occupants []dues.Occupant, calc deductions.ChargeCalculator) (*deductions.Generator, *store.Memory, *recordingPublisher) {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveOccupants(context.Background(), occupants))
	pub := &recordingPublisher{}
	gen := deductions.NewGenerator(mem, mem, calc,
		deductions.WithPublisher(pub),
		deductions.WithClock(dues.FixedClock(billedAt)),
		deductions.WithLogger(quietLogs),
	)
	return gen, mem, pub
}

var directory = []dues.Occupant{
	{ID: "LSQA001", ReferenceID: "PFMS10001", QuarterID: "LSL-C-101", Status: dues.StatusOccupied, StartDate: date(2023, 1, 1)},
	{ID: "LSQA002", ReferenceID: "PFMS10002", QuarterID: "LSL-C-102", Status: dues.StatusOccupied, StartDate: date(2025, 6, 10)},
	{ID: "LSQA003", ReferenceID: "PFMS10003", QuarterID: "LSL-C-103", Status: dues.StatusVacated, StartDate: date(2022, 4, 1), EndDate: datePtr(2025, 5, 15)},
	{ID: "LSQA004", ReferenceID: "PFMS10004", QuarterID: "LSL-C-104", Status: dues.StatusTransferred, StartDate: date(2022, 4, 1), EndDate: datePtr(2025, 3, 31)},
	{ID: "LSQA005", QuarterID: "LSL-C-105", Status: dues.StatusOccupied, StartDate: date(2023, 1, 1)},
}

// =============================================================================
// GENERATION
// =============================================================================

func TestGenerateForPeriod_BillsEligibleOccupants(t *testing.T) {
	// GIVEN: A directory with current, future, vacated-in-period, long-gone
	// and reference-less occupants
	gen, mem, pub := newGenerator(t, directory, fixedCharge(500))

	// WHEN: Generating May
	batch, err := gen.GenerateForPeriod(context.Background(), may)
	require.NoError(t, err)

	// THEN: Only the occupant in residence and the one who left mid-May
	require.Len(t, batch.Lines, 2)
	assert.Equal(t, dues.ReferenceID("PFMS10001"), batch.Lines[0].ReferenceID)
	assert.Equal(t, dues.ReferenceID("PFMS10003"), batch.Lines[1].ReferenceID)
	assert.Equal(t, "Water Charges - 2025-05", batch.Lines[0].Reason)
	assert.Equal(t, dues.QuarterID("LSL-C-101"), batch.Lines[0].QuarterID)
	assert.True(t, batch.Total().Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, billedAt, batch.GeneratedAt)
	assert.NotEmpty(t, batch.ID)
	assert.True(t, batch.Published)

	bills, err := mem.BillsForPeriod(context.Background(), may)
	require.NoError(t, err)
	require.Len(t, bills, 2)
	for _, b := range bills {
		assert.Equal(t, dues.BillPendingUpload, b.Status)
		assert.True(t, b.Amount.Equal(decimal.NewFromInt(500)))
		assert.Equal(t, billedAt, b.BilledAt)
	}
	require.Len(t, pub.batches, 1)
	assert.Same(t, batch, pub.batches[0])
}

func TestGenerateForPeriod_EmptyRunWritesNothing(t *testing.T) {
	gen, mem, pub := newGenerator(t, []dues.Occupant{directory[1], directory[4]}, fixedCharge(500))

	batch, err := gen.GenerateForPeriod(context.Background(), may)

	require.NoError(t, err)
	assert.True(t, batch.IsEmpty())
	assert.False(t, batch.Published)
	assert.Empty(t, pub.batches)
	bills, err := mem.BillsForPeriod(context.Background(), may)
	require.NoError(t, err)
	assert.Empty(t, bills)
}

func TestGenerateForPeriod_CalculatorFailureWritesNothing(t *testing.T) {
	calls := 0
	calc := deductions.ChargeFunc(func(_ context.Context, o dues.Occupant, _ dues.Period) (decimal.Decimal, error) {
		calls++
		if o.ID == "LSQA003" {
			return decimal.Zero, errors.New("tariff service unavailable")
		}
		return decimal.NewFromInt(500), nil
	})
	gen, mem, pub := newGenerator(t, directory, calc)

	batch, err := gen.GenerateForPeriod(context.Background(), may)

	assert.Nil(t, batch)
	assert.True(t, dues.IsSystemError(err))
	assert.Equal(t, 2, calls)
	bills, err := mem.BillsForPeriod(context.Background(), may)
	require.NoError(t, err)
	assert.Empty(t, bills, "first occupant must not be billed when a later charge fails")
	assert.Empty(t, pub.batches)
}

func TestGenerateForPeriod_InvalidChargeWritesNothing(t *testing.T) {
	tests := []struct {
		name   string
		charge string
	}{
		{"negative", "-12.345"},
		{"negative whole", "-1"},
		{"sub-paisa", "12.345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: A tariff that prices LSQA003 badly
			calc := deductions.ChargeFunc(func(_ context.Context, o dues.Occupant, _ dues.Period) (decimal.Decimal, error) {
				if o.ID == "LSQA003" {
					return decimal.RequireFromString(tt.charge), nil
				}
				return decimal.NewFromInt(500), nil
			})
			gen, mem, pub := newGenerator(t, directory, calc)

			// WHEN: Generating May
			batch, err := gen.GenerateForPeriod(context.Background(), may)

			// THEN: The run fails and nobody is billed
			assert.Nil(t, batch)
			assert.True(t, dues.IsSystemError(err), "got %v", err)
			bills, err := mem.BillsForPeriod(context.Background(), may)
			require.NoError(t, err)
			assert.Empty(t, bills)
			assert.Empty(t, pub.batches)
		})
	}
}

func TestGenerateForPeriod_TwoDecimalChargeAccepted(t *testing.T) {
	calc := deductions.ChargeFunc(func(context.Context, dues.Occupant, dues.Period) (decimal.Decimal, error) {
		return decimal.RequireFromString("512.50"), nil
	})
	gen, _, _ := newGenerator(t, directory, calc)

	batch, err := gen.GenerateForPeriod(context.Background(), may)

	require.NoError(t, err)
	assert.Len(t, batch.Lines, 2)
}

func TestGenerateForPeriod_RerunOverwrites(t *testing.T) {
	ctx := context.Background()
	gen, mem, _ := newGenerator(t, directory[:1], fixedCharge(500))
	_, err := gen.GenerateForPeriod(ctx, may)
	require.NoError(t, err)

	gen = deductions.NewGenerator(mem, mem, fixedCharge(520), deductions.WithLogger(quietLogs))
	_, err = gen.GenerateForPeriod(ctx, may)
	require.NoError(t, err)

	bill, err := mem.Bill(ctx, "LSQA001", may)
	require.NoError(t, err)
	require.NotNil(t, bill)
	assert.True(t, bill.Amount.Equal(decimal.NewFromInt(520)))
}

func TestGenerateForPeriod_PublishFailureKeepsBills(t *testing.T) {
	gen, mem, pub := newGenerator(t, directory[:1], fixedCharge(500))
	pub.err = errors.New("smtp down")

	batch, err := gen.GenerateForPeriod(context.Background(), may)

	require.NoError(t, err)
	assert.False(t, batch.Published)
	bills, err := mem.BillsForPeriod(context.Background(), may)
	require.NoError(t, err)
	assert.Len(t, bills, 1)
}

func TestGenerateForPeriod_ZeroPeriodRejected(t *testing.T) {
	gen, _, _ := newGenerator(t, directory, fixedCharge(500))

	_, err := gen.GenerateForPeriod(context.Background(), dues.Period{})

	assert.True(t, dues.IsClientError(err))
}

func TestGenerateForPeriod_CustomLabel(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.SaveOccupants(context.Background(), directory[:1]))
	gen := deductions.NewGenerator(mem, mem, fixedCharge(500),
		deductions.WithChargeLabel("Electricity Charges"),
		deductions.WithLogger(quietLogs),
	)

	batch, err := gen.GenerateForPeriod(context.Background(), may)

	require.NoError(t, err)
	assert.Equal(t, "Electricity Charges - 2025-05", batch.Lines[0].Reason)
}

func TestFixedCharge_RejectsNegative(t *testing.T) {
	_, err := deductions.FixedCharge{Amount: decimal.NewFromInt(-1)}.ChargeFor(context.Background(), dues.Occupant{}, may)
	assert.Error(t, err)
}

// =============================================================================
// EXPORT AND UPLOAD
// =============================================================================

func TestExportForPeriod_ReadsExistingBills(t *testing.T) {
	ctx := context.Background()
	gen, _, _ := newGenerator(t, directory, fixedCharge(500))
	_, err := gen.GenerateForPeriod(ctx, may)
	require.NoError(t, err)

	batch, err := gen.ExportForPeriod(ctx, may)

	require.NoError(t, err)
	require.Len(t, batch.Lines, 2)
	assert.Equal(t, dues.OccupantID("LSQA001"), batch.Lines[0].OccupantID)
	assert.Equal(t, "Water Charges - 2025-05", batch.Lines[1].Reason)
}

func TestMarkUploaded(t *testing.T) {
	ctx := context.Background()
	gen, mem, _ := newGenerator(t, directory, fixedCharge(500))

	_, err := gen.MarkUploaded(ctx, may)
	assert.True(t, dues.IsNotFound(err), "nothing billed yet")

	_, err = gen.GenerateForPeriod(ctx, may)
	require.NoError(t, err)

	n, err := gen.MarkUploaded(ctx, may)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bill, err := mem.Bill(ctx, "LSQA003", may)
	require.NoError(t, err)
	assert.Equal(t, dues.BillUploaded, bill.Status)

	n, err = gen.MarkUploaded(ctx, may)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already uploaded")
}

func TestWriteCSV(t *testing.T) {
	gen, _, _ := newGenerator(t, directory, fixedCharge(500))
	batch, err := gen.GenerateForPeriod(context.Background(), may)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, deductions.WriteCSV(&buf, batch))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, deductions.ExportHeader, rows[0])
	assert.Equal(t, []string{"PFMS10001", "LSQA001", "LSL-C-101", "2025-05", "500.00", "Water Charges - 2025-05"}, rows[1])
}

func TestRenderXLSX(t *testing.T) {
	gen, _, _ := newGenerator(t, directory, fixedCharge(500))
	batch, err := gen.GenerateForPeriod(context.Background(), may)
	require.NoError(t, err)

	data, err := deductions.RenderXLSX(batch)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("deductions")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, deductions.ExportHeader, rows[0])
	assert.Equal(t, "PFMS10003", rows[2][0])
	assert.Equal(t, "500.00", rows[2][4], "amount shown with two decimals like the CSV")
	assert.Equal(t, "Water Charges - 2025-05", rows[2][5])

	raw, err := f.GetCellValue("deductions", "E2", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "500", raw, "amount stays numeric")
}

func TestOutboxPublisher_WritesBothFiles(t *testing.T) {
	dir := t.TempDir()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveOccupants(context.Background(), directory))
	gen := deductions.NewGenerator(mem, mem, fixedCharge(500),
		deductions.WithPublisher(deductions.NewOutboxPublisher(dir, quietLogs)),
		deductions.WithLogger(quietLogs),
	)

	batch, err := gen.GenerateForPeriod(context.Background(), may)
	require.NoError(t, err)
	assert.True(t, batch.Published)

	csvData, err := os.ReadFile(filepath.Join(dir, "2025-05", "deductions_2025-05.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "PFMS10001,LSQA001,LSL-C-101,2025-05,500.00")
	assert.FileExists(t, filepath.Join(dir, "2025-05", "deductions_2025-05.xlsx"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "deductions_2025-05.xlsx", deductions.FileName(may, "xlsx"))
}
