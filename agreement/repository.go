package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const agreementCols = `
id, opportunity_id, contact_id, source_document_id,
client_name, client_email, client_phone, client_address,
system_size_kw, total_price, deposit_amount, currency,
materials, payment_schedule, phases,
signing_token, status, expires_at,
signature_data, signer_name, signer_ip, signed_document_id,
sent_at, viewed_at, signed_at, created_at, updated_at`

// Repository provides agreement row access. Mutations run inside the
// caller's transaction so status changes, event appends and stage moves
// commit atomically.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func scanAgreement(row pgx.Row) (Agreement, error) {
	var a Agreement
	err := row.Scan(
		&a.ID, &a.OpportunityID, &a.ContactID, &a.SourceDocumentID,
		&a.ClientName, &a.ClientEmail, &a.ClientPhone, &a.ClientAddress,
		&a.SystemSizeKw, &a.TotalPrice, &a.DepositAmount, &a.Currency,
		&a.Materials, &a.PaymentSchedule, &a.Phases,
		&a.SigningToken, &a.Status, &a.ExpiresAt,
		&a.SignatureData, &a.SignerName, &a.SignerIP, &a.SignedDocumentID,
		&a.SentAt, &a.ViewedAt, &a.SignedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: scan: %w", err)
	}
	return a, nil
}

// Insert persists a new agreement in pending status.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, a Agreement) (Agreement, error) {
	insertSQL := `
        INSERT INTO agreements (
            id, opportunity_id, contact_id, source_document_id,
            client_name, client_email, client_phone, client_address,
            system_size_kw, total_price, deposit_amount, currency,
            materials, payment_schedule, phases,
            signing_token, status, expires_at
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,'pending',$17)
        RETURNING ` + agreementCols
	return scanAgreement(tx.QueryRow(ctx, insertSQL,
		a.ID, a.OpportunityID, a.ContactID, a.SourceDocumentID,
		a.ClientName, a.ClientEmail, a.ClientPhone, a.ClientAddress,
		a.SystemSizeKw, a.TotalPrice, a.DepositAmount, a.Currency,
		nullableJSON(a.Materials), nullableJSON(a.PaymentSchedule), nullableJSON(a.Phases),
		a.SigningToken, a.ExpiresAt,
	))
}

// GetByTokenForUpdate locks the agreement row for a status transition.
func (r *Repository) GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (Agreement, error) {
	return scanAgreement(tx.QueryRow(ctx,
		`SELECT `+agreementCols+` FROM agreements WHERE signing_token=$1 FOR UPDATE`, token))
}

// GetByToken reads the agreement without locking; used by the public
// signing page.
func (r *Repository) GetByToken(ctx context.Context, q Querier, token string) (Agreement, error) {
	return scanAgreement(q.QueryRow(ctx,
		`SELECT `+agreementCols+` FROM agreements WHERE signing_token=$1`, token))
}

// GetByID reads the agreement by primary key.
func (r *Repository) GetByID(ctx context.Context, q Querier, id string) (Agreement, error) {
	return scanAgreement(q.QueryRow(ctx,
		`SELECT `+agreementCols+` FROM agreements WHERE id=$1`, id))
}

// MarkSent records the pending -> sent transition.
func (r *Repository) MarkSent(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Agreement, error) {
	return scanAgreement(tx.QueryRow(ctx, `
        UPDATE agreements
        SET status='sent', sent_at=$2, updated_at=$2
        WHERE id=$1
        RETURNING `+agreementCols, id, at))
}

// MarkViewed records the first view.
func (r *Repository) MarkViewed(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Agreement, error) {
	return scanAgreement(tx.QueryRow(ctx, `
        UPDATE agreements
        SET status='viewed', viewed_at=COALESCE(viewed_at, $2), updated_at=$2
        WHERE id=$1
        RETURNING `+agreementCols, id, at))
}

// RecordSignature captures the signature fields and flips the row to signed.
// Signature columns are written exactly once; the signed guard runs before
// this call.
func (r *Repository) RecordSignature(ctx context.Context, tx pgx.Tx, id string, sig SignatureParams, at time.Time) (Agreement, error) {
	return scanAgreement(tx.QueryRow(ctx, `
        UPDATE agreements
        SET status='signed',
            signature_data=$2,
            signer_name=$3,
            signer_ip=$4,
            signed_at=$5,
            updated_at=$5
        WHERE id=$1
        RETURNING `+agreementCols, id, sig.ImageDataURL, sig.SignerName, sig.SignerIP, at))
}

// SetSignedDocument links the generated signed PDF once the pipeline has
// produced it. Best-effort: runs outside the signing transaction.
func (r *Repository) SetSignedDocument(ctx context.Context, q Execer, id, documentID string) error {
	if _, err := q.Exec(ctx, `
        UPDATE agreements SET signed_document_id=$2, updated_at=now() WHERE id=$1
    `, id, documentID); err != nil {
		return fmt.Errorf("agreement: link signed document: %w", err)
	}
	return nil
}

// AppendEvent writes an immutable row to the agreement_events log.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, agreementID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal event payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
        INSERT INTO agreement_events (agreement_id, type, payload)
        VALUES ($1,$2,$3::jsonb)
    `, agreementID, eventType, body); err != nil {
		return fmt.Errorf("agreement: insert event: %w", err)
	}
	return nil
}

// Querier is the read subset shared by pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Execer is the write subset shared by pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
