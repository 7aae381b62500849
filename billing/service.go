package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"solarflow/agreement"
	"solarflow/pipeline"
)

const (
	kindInvoice = "INV"
	kindReceipt = "RCP"

	defaultDueDays = 14
)

// Service creates invoices and receipts. Each financial record is created
// exactly once per triggering event; replays return the existing record.
type Service struct {
	pool    *pgxpool.Pool
	taxRate float64
	idGen   func() string
	now     func() time.Time
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{
		pool:  pool,
		idGen: func() string { return uuid.NewString() },
		now:   time.Now,
	}
}

// WithTaxRate sets the tax percentage applied to invoices (12 means 12%).
func (s *Service) WithTaxRate(rate float64) *Service {
	s.taxRate = rate
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateFromAgreement opens the installation invoice for a signed agreement.
// Replays (the sign pipeline is best-effort and may be re-run by an
// operator) find the existing invoice and return its id.
func (s *Service) CreateFromAgreement(ctx context.Context, a agreement.Agreement) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("billing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingID string
	switch err := tx.QueryRow(ctx, `SELECT id FROM invoices WHERE agreement_id=$1`, a.ID).Scan(&existingID); {
	case err == nil:
		return existingID, nil
	case errors.Is(err, pgx.ErrNoRows):
		// continue with insert
	default:
		return "", fmt.Errorf("billing: check existing invoice: %w", err)
	}

	items := []LineItem{{
		Description: fmt.Sprintf("Solar installation, %.2f kW system", a.SystemSizeKw),
		Qty:         1,
		UnitPrice:   a.TotalPrice,
	}}
	if a.DepositAmount > 0 {
		items = append(items, LineItem{
			Description: "Deposit received",
			Qty:         1,
			UnitPrice:   -a.DepositAmount,
		})
	}
	totals := ComputeTotals(items, s.taxRate, 0)

	number, err := s.nextNumber(ctx, tx, kindInvoice)
	if err != nil {
		return "", err
	}

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("billing: marshal line items: %w", err)
	}

	now := s.now()
	var id string
	if err := tx.QueryRow(ctx, `
        INSERT INTO invoices (
            id, number, opportunity_id, agreement_id,
            client_name, client_email, client_address, currency,
            line_items, tax_rate, discount_rate,
            subtotal, discount_amount, tax_amount, total,
            issue_date, due_date
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10,0,$11,$12,$13,$14,$15,$16)
        RETURNING id
    `, s.idGen(), number, a.OpportunityID, a.ID,
		a.ClientName, a.ClientEmail, a.ClientAddress, a.Currency,
		itemsJSON, s.taxRate,
		totals.Subtotal, totals.DiscountAmt, totals.TaxAmount, totals.Total,
		now, now.AddDate(0, 0, defaultDueDays),
	).Scan(&id); err != nil {
		return "", fmt.Errorf("billing: insert invoice: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("billing: commit invoice: %w", err)
	}
	return id, nil
}

// CreateReceipt records payment for a closed opportunity. One receipt per
// opportunity; replays return the existing record.
func (s *Service) CreateReceipt(ctx context.Context, opp pipeline.Opportunity) (Receipt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("billing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing Receipt
	switch err := scanReceipt(tx.QueryRow(ctx, receiptSelect+` WHERE opportunity_id=$1`, opp.ID), &existing); {
	case err == nil:
		return existing, nil
	case errors.Is(err, ErrReceiptNotFound):
		// continue with insert
	default:
		return Receipt{}, err
	}

	// The opportunity's invoice, when present, supplies the paid amount and
	// client identity; a directly-closed deal falls back to the opportunity.
	amount := opp.Amount
	clientName := ""
	clientEmail := ""
	currency := "USD"
	var invoiceID *string
	var inv Invoice
	switch err := s.getInvoiceByOpportunity(ctx, tx, opp.ID, &inv); {
	case err == nil:
		amount = inv.Total
		clientName = inv.ClientName
		clientEmail = inv.ClientEmail
		currency = inv.Currency
		invoiceID = &inv.ID
	case errors.Is(err, ErrInvoiceNotFound):
	default:
		return Receipt{}, err
	}

	number, err := s.nextNumber(ctx, tx, kindReceipt)
	if err != nil {
		return Receipt{}, err
	}

	var rec Receipt
	if err := scanReceipt(tx.QueryRow(ctx, `
        INSERT INTO receipts (id, number, opportunity_id, invoice_id, client_name, client_email, currency, amount_paid, issue_date)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, number, opportunity_id, invoice_id, client_name, client_email, currency, amount_paid, issue_date, document_id, created_at
    `, s.idGen(), number, opp.ID, invoiceID, clientName, clientEmail, currency, amount, s.now()), &rec); err != nil {
		return Receipt{}, fmt.Errorf("billing: insert receipt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, fmt.Errorf("billing: commit receipt: %w", err)
	}
	return rec, nil
}

// GetInvoice loads one invoice by id.
func (s *Service) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return s.getInvoice(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE id=$1`, id)
}

func (s *Service) getInvoiceByOpportunity(ctx context.Context, tx pgx.Tx, opportunityID string, out *Invoice) error {
	row := tx.QueryRow(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE opportunity_id=$1 ORDER BY created_at DESC LIMIT 1`, opportunityID)
	inv, err := scanInvoice(row)
	if err != nil {
		return err
	}
	*out = inv
	return nil
}

const invoiceCols = `
id, number, opportunity_id, agreement_id,
client_name, client_email, client_address, currency,
line_items, tax_rate, discount_rate,
subtotal, discount_amount, tax_amount, total,
issue_date, due_date, document_id, created_at`

func (s *Service) getInvoice(ctx context.Context, query string, args ...any) (Invoice, error) {
	return scanInvoice(s.pool.QueryRow(ctx, query, args...))
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var items []byte
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.OpportunityID, &inv.AgreementID,
		&inv.ClientName, &inv.ClientEmail, &inv.ClientAddress, &inv.Currency,
		&items, &inv.TaxRate, &inv.DiscountRate,
		&inv.Subtotal, &inv.DiscountAmt, &inv.TaxAmount, &inv.Total,
		&inv.IssueDate, &inv.DueDate, &inv.DocumentID, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, fmt.Errorf("billing: scan invoice: %w", err)
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &inv.LineItems); err != nil {
			return Invoice{}, fmt.Errorf("billing: decode line items: %w", err)
		}
	}
	return inv, nil
}

const receiptSelect = `
SELECT id, number, opportunity_id, invoice_id, client_name, client_email, currency, amount_paid, issue_date, document_id, created_at
FROM receipts`

func scanReceipt(row pgx.Row, rec *Receipt) error {
	err := row.Scan(
		&rec.ID, &rec.Number, &rec.OpportunityID, &rec.InvoiceID,
		&rec.ClientName, &rec.ClientEmail, &rec.Currency, &rec.AmountPaid,
		&rec.IssueDate, &rec.DocumentID, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReceiptNotFound
		}
		return fmt.Errorf("billing: scan receipt: %w", err)
	}
	return nil
}

// SetInvoiceDocument links the rendered PDF to the invoice. Best-effort,
// runs outside any transaction.
func (s *Service) SetInvoiceDocument(ctx context.Context, invoiceID, documentID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE invoices SET document_id=$2 WHERE id=$1`, invoiceID, documentID); err != nil {
		return fmt.Errorf("billing: link invoice document: %w", err)
	}
	return nil
}

// SetReceiptDocument links the rendered PDF to the receipt.
func (s *Service) SetReceiptDocument(ctx context.Context, receiptID, documentID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE receipts SET document_id=$2 WHERE id=$1`, receiptID, documentID); err != nil {
		return fmt.Errorf("billing: link receipt document: %w", err)
	}
	return nil
}

// nextNumber allocates the next human-readable number for the kind within
// the issue year, e.g. INV-2026-000042.
func (s *Service) nextNumber(ctx context.Context, tx pgx.Tx, kind string) (string, error) {
	year := s.now().Year()
	var value int64
	if err := tx.QueryRow(ctx, `
        INSERT INTO number_sequences (kind, year, last_value)
        VALUES ($1, $2, 1)
        ON CONFLICT (kind, year)
        DO UPDATE SET last_value = number_sequences.last_value + 1
        RETURNING last_value
    `, kind, year).Scan(&value); err != nil {
		return "", fmt.Errorf("billing: next %s number: %w", kind, err)
	}
	return fmt.Sprintf("%s-%d-%06d", kind, year, value), nil
}
