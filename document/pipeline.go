package document

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"solarflow/agreement"
	"solarflow/billing"
)

// Renderer is the single produce-PDF-bytes capability behind both pipeline
// flavors: stamping an existing contract and generating from structured
// data are just different implementations.
type Renderer interface {
	Render() ([]byte, error)
	FileName() string
}

// Records is the document metadata persistence the pipeline writes through.
type Records interface {
	Insert(ctx context.Context, d Document) (Document, error)
	GetByID(ctx context.Context, id string) (Document, error)
}

// Pipeline runs fetch-or-build, upload, record, URL for every derived
// document. Everything here is downstream of an authoritative state change
// and therefore best-effort by contract.
type Pipeline struct {
	store   Store
	repo    Records
	stamper *Stamper
	company Company
	idGen   func() string
}

func NewPipeline(store Store, repo Records, company Company) *Pipeline {
	return &Pipeline{
		store:   store,
		repo:    repo,
		stamper: NewStamper(),
		company: company,
		idGen:   func() string { return uuid.NewString() },
	}
}

func (p *Pipeline) WithIDGenerator(gen func() string) *Pipeline {
	p.idGen = gen
	return p
}

// ProduceSignedContract fetches the source contract, stamps the captured
// signature onto its last page and publishes the result. A missing or
// unfetchable source skips the engine entirely: the signature itself is
// already recorded and must not be blocked by this path.
func (p *Pipeline) ProduceSignedContract(ctx context.Context, a agreement.Agreement) (string, []byte, error) {
	if a.SourceDocumentID == nil || a.SignatureData == nil {
		log.Printf("document: agreement %s has no source contract, skipping stamp", a.ID)
		return "", nil, nil
	}

	src, err := p.repo.GetByID(ctx, *a.SourceDocumentID)
	if err != nil {
		log.Printf("document: agreement %s source contract unavailable, skipping stamp: %v", a.ID, err)
		return "", nil, nil
	}
	raw, err := p.store.Get(ctx, src.BlobID)
	if err != nil {
		log.Printf("document: agreement %s source blob unavailable, skipping stamp: %v", a.ID, err)
		return "", nil, nil
	}

	signedAt := time.Now()
	if a.SignedAt != nil {
		signedAt = *a.SignedAt
	}

	stamped, err := p.stamper.Stamp(raw, *a.SignatureData, signedAt)
	if err != nil {
		return "", nil, err
	}

	doc, err := p.publish(ctx, stamped, fmt.Sprintf("contract-signed-%s.pdf", a.ID), &a.OpportunityID, nil)
	if err != nil {
		return "", nil, err
	}
	return doc.ID, stamped, nil
}

// RenderInvoice generates and publishes the invoice PDF.
func (p *Pipeline) RenderInvoice(ctx context.Context, inv billing.Invoice) (Document, []byte, error) {
	return p.renderAndPublish(ctx, invoiceRenderer{company: p.company, invoice: inv}, &inv.OpportunityID, &inv.ID)
}

// RenderReceipt generates and publishes the receipt PDF.
func (p *Pipeline) RenderReceipt(ctx context.Context, rec billing.Receipt) (Document, []byte, error) {
	return p.renderAndPublish(ctx, receiptRenderer{company: p.company, receipt: rec}, &rec.OpportunityID, rec.InvoiceID)
}

// URL returns the retrievable address for a published document.
func (p *Pipeline) URL(d Document) string {
	return p.store.URL(d.BlobID)
}

func (p *Pipeline) renderAndPublish(ctx context.Context, r Renderer, opportunityID, invoiceID *string) (Document, []byte, error) {
	data, err := r.Render()
	if err != nil {
		return Document{}, nil, err
	}
	doc, err := p.publish(ctx, data, r.FileName(), opportunityID, invoiceID)
	if err != nil {
		return Document{}, nil, err
	}
	return doc, data, nil
}

func (p *Pipeline) publish(ctx context.Context, data []byte, fileName string, opportunityID, invoiceID *string) (Document, error) {
	blobID, err := p.store.Put(ctx, data, "application/pdf")
	if err != nil {
		return Document{}, err
	}

	doc, err := p.repo.Insert(ctx, Document{
		ID:            p.idGen(),
		BlobID:        blobID,
		FileName:      fileName,
		MimeType:      "application/pdf",
		SizeBytes:     int64(len(data)),
		OpportunityID: opportunityID,
		InvoiceID:     invoiceID,
	})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}
