package deductions

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/quarter-dues/dues"
)

// ExportHeader is the column layout payroll expects, in order.
var ExportHeader = []string{"EMPLOYEE_ID", "ALLOTTEE_ID", "QUARTER_ID", "BILLING_MONTH", "AMOUNT_INR", "REASON"}

const xlsxSheet = "deductions"

// FileName names an export artifact, e.g. "deductions_2025-05.csv".
func FileName(period dues.Period, ext string) string {
	return fmt.Sprintf("deductions_%s.%s", period, ext)
}

func exportRow(l LineItem) []string {
	return []string{
		string(l.ReferenceID),
		string(l.OccupantID),
		string(l.QuarterID),
		l.Period.String(),
		l.Amount.StringFixed(dues.MoneyPlaces),
		l.Reason,
	}
}

// WriteCSV writes the header and one row per line item.
func WriteCSV(w io.Writer, batch *ExportBatch) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, l := range batch.Lines {
		if err := cw.Write(exportRow(l)); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", l.ReferenceID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderXLSX renders the batch as a workbook with a single sheet.
func RenderXLSX(batch *ExportBatch) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	// Built-in format 2 is "0.00"; amounts stay numeric for payroll totals.
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return nil, fmt.Errorf("failed to create amount style: %w", err)
	}

	for col, title := range ExportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(xlsxSheet, cell, title)
	}
	for i, l := range batch.Lines {
		row := i + 2
		_ = f.SetCellValue(xlsxSheet, fmt.Sprintf("A%d", row), string(l.ReferenceID))
		_ = f.SetCellValue(xlsxSheet, fmt.Sprintf("B%d", row), string(l.OccupantID))
		_ = f.SetCellValue(xlsxSheet, fmt.Sprintf("C%d", row), string(l.QuarterID))
		_ = f.SetCellValue(xlsxSheet, fmt.Sprintf("D%d", row), l.Period.String())
		amountCell := fmt.Sprintf("E%d", row)
		_ = f.SetCellValue(xlsxSheet, amountCell, l.Amount.Round(dues.MoneyPlaces).InexactFloat64())
		_ = f.SetCellStyle(xlsxSheet, amountCell, amountCell, amountStyle)
		_ = f.SetCellValue(xlsxSheet, fmt.Sprintf("F%d", row), l.Reason)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
