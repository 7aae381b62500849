package document

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"solarflow/billing"
)

// receiptRenderer draws a payment receipt: same header/footer chrome as the
// invoice, a short summary section instead of line items.
type receiptRenderer struct {
	company Company
	receipt billing.Receipt
}

func (r receiptRenderer) FileName() string {
	return fmt.Sprintf("receipt-%s.pdf", r.receipt.Number)
}

func (r receiptRenderer) Render() ([]byte, error) {
	rec := r.receipt

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	drawHeader(pdf, r.company, "RECEIPT "+rec.Number)
	drawFromTo(pdf, r.company, rec.ClientName, rec.ClientEmail, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(170, 5, "Issued: "+rec.IssueDate.Format("Jan 2, 2006"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(137, 7, "Summary", "B", 0, "L", true, 0, "")
	pdf.CellFormat(33, 7, "Amount", "B", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(137, 7, "Payment received, solar installation project", "", 0, "L", false, 0, "")
	pdf.CellFormat(33, 7, FormatMoney(rec.Currency, rec.AmountPaid), "", 1, "R", false, 0, "")
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(200, 240, 200)
	pdf.CellFormat(137, 9, "Paid in full", "T", 0, "R", true, 0, "")
	pdf.CellFormat(33, 9, FormatMoney(rec.Currency, rec.AmountPaid), "T", 1, "R", true, 0, "")

	drawPaymentFooter(pdf, r.company)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: receipt %s: %v", ErrRender, rec.Number, err)
	}
	return buf.Bytes(), nil
}
