package document

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"solarflow/billing"
)

// Company is the branding block stamped on generated documents.
type Company struct {
	Name                string
	Address             string
	Email               string
	Phone               string
	PaymentInstructions string
}

// invoiceRenderer draws an invoice PDF from structured data. Layout follows
// the house document style: branded header, from/to columns, line-item
// table with right-aligned money columns, highlighted total, payment footer.
type invoiceRenderer struct {
	company Company
	invoice billing.Invoice
}

func (r invoiceRenderer) FileName() string {
	return fmt.Sprintf("invoice-%s.pdf", r.invoice.Number)
}

func (r invoiceRenderer) Render() ([]byte, error) {
	inv := r.invoice

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	drawHeader(pdf, r.company, "INVOICE "+inv.Number)
	drawFromTo(pdf, r.company, inv.ClientName, inv.ClientEmail, inv.ClientAddress)

	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(85, 5, "Issue date: "+inv.IssueDate.Format("Jan 2, 2006"), "", 0, "L", false, 0, "")
	pdf.CellFormat(85, 5, "Due date: "+inv.DueDate.Format("Jan 2, 2006"), "", 1, "R", false, 0, "")
	pdf.Ln(4)

	// Line-item table.
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(240, 240, 240)
	pdf.CellFormat(85, 7, "Description", "B", 0, "L", true, 0, "")
	pdf.CellFormat(20, 7, "Qty", "B", 0, "R", true, 0, "")
	pdf.CellFormat(32, 7, "Unit price", "B", 0, "R", true, 0, "")
	pdf.CellFormat(33, 7, "Amount", "B", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, li := range inv.LineItems {
		pdf.CellFormat(85, 7, li.Description, "", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%g", li.Qty), "", 0, "R", false, 0, "")
		pdf.CellFormat(32, 7, FormatMoney(inv.Currency, li.UnitPrice), "", 0, "R", false, 0, "")
		pdf.CellFormat(33, 7, FormatMoney(inv.Currency, li.Amount()), "", 1, "R", false, 0, "")
	}
	pdf.Ln(3)

	// Summary column, right-aligned under the amount column.
	summary := func(label, value string) {
		pdf.CellFormat(105, 6, "", "", 0, "L", false, 0, "")
		pdf.CellFormat(32, 6, label, "", 0, "R", false, 0, "")
		pdf.CellFormat(33, 6, value, "", 1, "R", false, 0, "")
	}
	summary("Subtotal", FormatMoney(inv.Currency, inv.Subtotal))
	if inv.DiscountAmt > 0 {
		summary(fmt.Sprintf("Discount (%g%%)", inv.DiscountRate), FormatMoney(inv.Currency, -inv.DiscountAmt))
	}
	summary(fmt.Sprintf("Tax (%g%%)", inv.TaxRate), FormatMoney(inv.Currency, inv.TaxAmount))

	// Highlighted total block.
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(255, 235, 160)
	pdf.CellFormat(105, 9, "", "", 0, "L", false, 0, "")
	pdf.CellFormat(32, 9, "Total due", "T", 0, "R", true, 0, "")
	pdf.CellFormat(33, 9, FormatMoney(inv.Currency, inv.Total), "T", 1, "R", true, 0, "")

	drawPaymentFooter(pdf, r.company)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: invoice %s: %v", ErrRender, inv.Number, err)
	}
	return buf.Bytes(), nil
}

func drawHeader(pdf *fpdf.Fpdf, c Company, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetTextColor(230, 126, 34)
	pdf.CellFormat(95, 10, c.Name, "", 0, "L", false, 0, "")
	pdf.SetTextColor(40, 40, 40)
	pdf.CellFormat(75, 10, title, "", 1, "R", false, 0, "")
	pdf.SetDrawColor(230, 126, 34)
	pdf.SetLineWidth(0.6)
	pdf.Line(20, pdf.GetY()+2, 190, pdf.GetY()+2)
	pdf.Ln(8)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.2)
}

func drawFromTo(pdf *fpdf.Fpdf, c Company, toName, toEmail, toAddress string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(85, 6, "From", "", 0, "L", false, 0, "")
	pdf.CellFormat(85, 6, "To", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	left := []string{c.Name, c.Address, c.Email, c.Phone}
	right := []string{toName, toAddress, toEmail}
	for i := 0; i < len(left) || i < len(right); i++ {
		l, r := "", ""
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		pdf.CellFormat(85, 5, l, "", 0, "L", false, 0, "")
		pdf.CellFormat(85, 5, r, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)
}

func drawPaymentFooter(pdf *fpdf.Fpdf, c Company) {
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(170, 6, "Payment instructions", "T", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(170, 5, c.PaymentInstructions, "", "L", false)
}
