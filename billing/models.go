package billing

import (
	"errors"
	"time"
)

var (
	// ErrInvoiceNotFound is returned when no invoice row exists for the id.
	ErrInvoiceNotFound = errors.New("billing: invoice not found")
	// ErrReceiptNotFound is returned when no receipt row exists for the id.
	ErrReceiptNotFound = errors.New("billing: receipt not found")
)

// LineItem is one billable row on an invoice.
type LineItem struct {
	Description string  `json:"description"`
	Qty         float64 `json:"qty"`
	UnitPrice   float64 `json:"unit_price"`
}

func (li LineItem) Amount() float64 {
	return li.Qty * li.UnitPrice
}

// Invoice is generated once, downstream of a signed agreement.
type Invoice struct {
	ID            string
	Number        string
	OpportunityID string
	AgreementID   *string
	ClientName    string
	ClientEmail   string
	ClientAddress string
	Currency      string
	LineItems     []LineItem
	TaxRate       float64
	DiscountRate  float64
	Subtotal      float64
	DiscountAmt   float64
	TaxAmount     float64
	Total         float64
	IssueDate     time.Time
	DueDate       time.Time
	DocumentID    *string
	CreatedAt     time.Time
}

// Receipt is generated once, downstream of a closed opportunity.
type Receipt struct {
	ID            string
	Number        string
	OpportunityID string
	InvoiceID     *string
	ClientName    string
	ClientEmail   string
	Currency      string
	AmountPaid    float64
	IssueDate     time.Time
	DocumentID    *string
	CreatedAt     time.Time
}
