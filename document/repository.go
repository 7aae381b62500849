package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no document row exists for the id.
var ErrNotFound = errors.New("document: not found")

// Document is an immutable record pointing at a stored blob. Records are
// never updated, only superseded by new ones.
type Document struct {
	ID            string
	BlobID        string
	FileName      string
	MimeType      string
	SizeBytes     int64
	OpportunityID *string
	InvoiceID     *string
	CreatedAt     time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, d Document) (Document, error) {
	row := r.pool.QueryRow(ctx, `
        INSERT INTO documents (id, blob_id, file_name, mime_type, size_bytes, opportunity_id, invoice_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, blob_id, file_name, mime_type, size_bytes, opportunity_id, invoice_id, created_at
    `, d.ID, d.BlobID, d.FileName, d.MimeType, d.SizeBytes, d.OpportunityID, d.InvoiceID)
	return scanDocument(row)
}

func (r *Repository) GetByID(ctx context.Context, id string) (Document, error) {
	row := r.pool.QueryRow(ctx, `
        SELECT id, blob_id, file_name, mime_type, size_bytes, opportunity_id, invoice_id, created_at
        FROM documents WHERE id=$1
    `, id)
	return scanDocument(row)
}

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.BlobID, &d.FileName, &d.MimeType, &d.SizeBytes, &d.OpportunityID, &d.InvoiceID, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("document: scan: %w", err)
	}
	return d, nil
}
