// Package bills renders a printable bill for one occupant and period.
package bills

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/warp/quarter-dues/dues"
)

// RenderPDF renders a single-page A4 bill. description is the line item
// text, normally Generator.Reason for the bill's period.
func RenderPDF(occupant dues.Occupant, bill dues.BillingRecord, description string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetTitle(fmt.Sprintf("Utility bill %s %s", occupant.ID, bill.Period), false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 8, "Quarter Utility Bill")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 10)
	rows := [][2]string{
		{"Allottee ID", string(occupant.ID)},
		{"Employee ID", string(occupant.ReferenceID)},
		{"Name", occupant.Name},
		{"Quarter", string(bill.QuarterID)},
		{"Billing Month", bill.Period.String()},
		{"Billed On", bill.BilledAt.Format(time.DateOnly)},
		{"Status", string(bill.Status)},
	}
	for _, r := range rows {
		pdf.CellFormat(50, 7, r[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(100, 7, r[1], "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(100, 7, "Description", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 7, "Amount (INR)", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(100, 7, description, "1", 0, "L", false, 0, "")
	pdf.CellFormat(50, 7, bill.Amount.StringFixed(dues.MoneyPlaces), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)

	pdf.Ln(8)
	pdf.SetFont("Arial", "I", 8)
	pdf.Cell(0, 5, "Recovered through salary deduction. Contact the estate office for disputes.")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render bill pdf: %w", err)
	}
	return buf.Bytes(), nil
}
