package agreement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"solarflow/pipeline"
)

// sideEffectTimeout bounds all post-commit work for one lifecycle event.
const sideEffectTimeout = 30 * time.Second

// DB is the subset of pgxpool.Pool the service needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store defines the row access required by the service.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, a Agreement) (Agreement, error)
	GetByToken(ctx context.Context, q Querier, token string) (Agreement, error)
	GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, token string) (Agreement, error)
	GetByID(ctx context.Context, q Querier, id string) (Agreement, error)
	MarkSent(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Agreement, error)
	MarkViewed(ctx context.Context, tx pgx.Tx, id string, at time.Time) (Agreement, error)
	RecordSignature(ctx context.Context, tx pgx.Tx, id string, sig SignatureParams, at time.Time) (Agreement, error)
	SetSignedDocument(ctx context.Context, q Execer, id, documentID string) error
	AppendEvent(ctx context.Context, tx pgx.Tx, agreementID, eventType string, payload map[string]any) error
}

// StageAdvancer applies guarded automated pipeline moves inside the
// signing transaction.
type StageAdvancer interface {
	AdvanceAuto(ctx context.Context, tx pgx.Tx, opportunityID string, target pipeline.Stage, trigger string) (bool, error)
}

// Notifier receives lifecycle events after commit. Implementations must not
// block; delivery failures stay on their side of the boundary.
type Notifier interface {
	AgreementSent(ctx context.Context, a Agreement)
	AgreementSigned(ctx context.Context, a Agreement, signedPDF []byte)
	InvoiceCreated(ctx context.Context, invoiceID string)
}

// SignedContractProducer turns a signed agreement into the stamped contract
// PDF and its stored document record.
type SignedContractProducer interface {
	ProduceSignedContract(ctx context.Context, a Agreement) (documentID string, pdf []byte, err error)
}

// InvoiceCreator opens the invoice that follows a signed agreement.
type InvoiceCreator interface {
	CreateFromAgreement(ctx context.Context, a Agreement) (invoiceID string, err error)
}

// Service owns the agreement status lifecycle. Every transition commits in
// one transaction together with its event-log row and any automated stage
// move; everything else runs after commit and may fail independently.
type Service struct {
	db       DB
	repo     Store
	tokens   *TokenIssuer
	stages   StageAdvancer
	docs     SignedContractProducer
	invoices InvoiceCreator
	notifier Notifier
	idGen    func() string
	now      func() time.Time
}

func NewService(db DB, repo Store, tokens *TokenIssuer) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if tokens == nil {
		tokens = NewTokenIssuer()
	}
	return &Service{
		db:     db,
		repo:   repo,
		tokens: tokens,
		idGen:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

func (s *Service) WithStageAdvancer(adv StageAdvancer) *Service {
	s.stages = adv
	return s
}

func (s *Service) WithDocuments(docs SignedContractProducer) *Service {
	s.docs = docs
	return s
}

func (s *Service) WithInvoices(inv InvoiceCreator) *Service {
	s.invoices = inv
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
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

// CreateParams carries the fields supplied by the agreement form.
type CreateParams struct {
	OpportunityID    string
	ContactID        string
	SourceDocumentID *string

	ClientName    string
	ClientEmail   string
	ClientPhone   string
	ClientAddress string

	SystemSizeKw  float64
	TotalPrice    float64
	DepositAmount float64
	Currency      string

	Materials       []byte
	PaymentSchedule []byte
	Phases          []byte
}

// SignatureParams carries the signer-supplied fields captured at signing.
type SignatureParams struct {
	ImageDataURL string
	SignerName   string
	SignerIP     string
}

// Create issues the signing token and persists a pending agreement.
func (s *Service) Create(ctx context.Context, params CreateParams) (Agreement, error) {
	if params.OpportunityID == "" || params.ContactID == "" {
		return Agreement{}, fmt.Errorf("%w: opportunity and contact required", ErrValidation)
	}
	if params.ClientName == "" {
		return Agreement{}, fmt.Errorf("%w: client name required", ErrValidation)
	}
	if params.TotalPrice < 0 || params.DepositAmount < 0 {
		return Agreement{}, fmt.Errorf("%w: negative amount", ErrValidation)
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return Agreement{}, fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}

	// Token uniqueness is enforced by the DB constraint; a collision at
	// ~190 bits of entropy means a broken random source, so retry is
	// bounded rather than unbounded.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		token, expiresAt, err := s.tokens.Issue()
		if err != nil {
			return Agreement{}, err
		}

		a, err := s.createOnce(ctx, params, currency, token, expiresAt)
		if err == nil {
			return a, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "signing_token") {
			lastErr = err
			continue
		}
		return Agreement{}, err
	}
	return Agreement{}, fmt.Errorf("agreement: signing token collision persisted: %w", lastErr)
}

func (s *Service) createOnce(ctx context.Context, params CreateParams, currency, token string, expiresAt time.Time) (Agreement, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.Insert(ctx, tx, Agreement{
		ID:               s.idGen(),
		OpportunityID:    params.OpportunityID,
		ContactID:        params.ContactID,
		SourceDocumentID: params.SourceDocumentID,
		ClientName:       params.ClientName,
		ClientEmail:      params.ClientEmail,
		ClientPhone:      params.ClientPhone,
		ClientAddress:    params.ClientAddress,
		SystemSizeKw:     params.SystemSizeKw,
		TotalPrice:       params.TotalPrice,
		DepositAmount:    params.DepositAmount,
		Currency:         currency,
		Materials:        params.Materials,
		PaymentSchedule:  params.PaymentSchedule,
		Phases:           params.Phases,
		SigningToken:     token,
		ExpiresAt:        expiresAt,
	})
	if err != nil {
		return Agreement{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, a.ID, EventCreated, map[string]any{
		"opportunity_id": a.OpportunityID,
		"total_price":    a.TotalPrice,
		"expires_at":     a.ExpiresAt.UTC(),
	}); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit create: %w", err)
	}
	return a, nil
}

// GetByToken serves the public signing page. The expired flag is computed
// against the injected clock at read time.
func (s *Service) GetByToken(ctx context.Context, token string) (Agreement, bool, error) {
	if !ValidToken(token) {
		return Agreement{}, false, fmt.Errorf("%w: malformed signing token", ErrValidation)
	}
	a, err := s.repo.GetByToken(ctx, s.db, token)
	if err != nil {
		return Agreement{}, false, err
	}
	return a, a.IsExpired(s.now()), nil
}

// MarkSent applies pending -> sent, advances the opportunity toward
// contract_sent when behind, and hands delivery to the notifier.
func (s *Service) MarkSent(ctx context.Context, agreementID string) (Agreement, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetByID(ctx, tx, agreementID)
	if err != nil {
		return Agreement{}, err
	}
	if current.Status != StatusPending {
		return Agreement{}, fmt.Errorf("%w: cannot send from status %q", ErrValidation, current.Status)
	}

	a, err := s.repo.MarkSent(ctx, tx, current.ID, s.now())
	if err != nil {
		return Agreement{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, a.ID, EventSent, map[string]any{
		"client_phone_present": a.ClientPhone != "",
	}); err != nil {
		return Agreement{}, err
	}

	if s.stages != nil {
		if _, err := s.stages.AdvanceAuto(ctx, tx, a.OpportunityID, pipeline.StageContractSent, "agreement_sent"); err != nil {
			return Agreement{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit mark sent: %w", err)
	}

	if s.notifier != nil {
		s.detached(func(ctx context.Context) { s.notifier.AgreementSent(ctx, a) })
	}
	return a, nil
}

// MarkViewed records the first time the signing page is opened. Calls on a
// viewed or signed agreement succeed without mutating anything.
func (s *Service) MarkViewed(ctx context.Context, token string) (Agreement, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetByTokenForUpdate(ctx, tx, token)
	if err != nil {
		return Agreement{}, err
	}
	if current.Status == StatusViewed || current.Status == StatusSigned {
		return current, nil
	}

	a, err := s.repo.MarkViewed(ctx, tx, current.ID, s.now())
	if err != nil {
		return Agreement{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, a.ID, EventViewed, nil); err != nil {
		return Agreement{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit mark viewed: %w", err)
	}
	return a, nil
}

// Sign validates the business guards, captures the signature atomically,
// then hands off document generation and delivery. Once the transaction
// commits the signature is authoritative; every downstream failure degrades
// the outcome without surfacing to the signer.
func (s *Service) Sign(ctx context.Context, token string, params SignatureParams) (Agreement, error) {
	if params.ImageDataURL == "" {
		return Agreement{}, fmt.Errorf("%w: signature image required", ErrValidation)
	}
	if strings.TrimSpace(params.SignerName) == "" {
		return Agreement{}, fmt.Errorf("%w: signer name required", ErrValidation)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetByTokenForUpdate(ctx, tx, token)
	if err != nil {
		return Agreement{}, err
	}
	if current.Status == StatusSigned {
		return Agreement{}, ErrAlreadySigned
	}
	if current.IsExpired(s.now()) {
		return Agreement{}, ErrExpired
	}

	a, err := s.repo.RecordSignature(ctx, tx, current.ID, params, s.now())
	if err != nil {
		return Agreement{}, err
	}
	if err := s.repo.AppendEvent(ctx, tx, a.ID, EventSigned, map[string]any{
		"signer_name": params.SignerName,
		"signer_ip":   params.SignerIP,
	}); err != nil {
		return Agreement{}, err
	}

	if s.stages != nil {
		if _, err := s.stages.AdvanceAuto(ctx, tx, a.OpportunityID, pipeline.StageForInstallation, "agreement_signed"); err != nil {
			return Agreement{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit sign: %w", err)
	}

	s.detached(func(ctx context.Context) { s.afterSign(ctx, a) })
	return a, nil
}

// Resend re-runs delivery for a sent or viewed agreement. There is no
// automatic retry anywhere in the pipeline; this is the operator's recovery
// path.
func (s *Service) Resend(ctx context.Context, agreementID string) (Agreement, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.GetByID(ctx, tx, agreementID)
	if err != nil {
		return Agreement{}, err
	}
	if a.Status == StatusSigned {
		return Agreement{}, ErrAlreadySigned
	}
	if a.Status == StatusPending {
		return Agreement{}, fmt.Errorf("%w: agreement was never sent", ErrValidation)
	}
	if err := s.repo.AppendEvent(ctx, tx, a.ID, EventResent, nil); err != nil {
		return Agreement{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit resend: %w", err)
	}

	if s.notifier != nil {
		s.detached(func(ctx context.Context) { s.notifier.AgreementSent(ctx, a) })
	}
	return a, nil
}

// afterSign runs the best-effort pipeline: signed PDF, invoice, delivery.
// Failures are logged where they happen and never reach the signer.
func (s *Service) afterSign(ctx context.Context, a Agreement) {
	var pdf []byte
	if s.docs != nil {
		docID, bytes, err := s.docs.ProduceSignedContract(ctx, a)
		if err != nil {
			log.Printf("agreement %s: signed contract pipeline: %v", a.ID, err)
		} else {
			pdf = bytes
			if err := s.repo.SetSignedDocument(ctx, s.db, a.ID, docID); err != nil {
				log.Printf("agreement %s: %v", a.ID, err)
			}
		}
	}

	var invoiceID string
	if s.invoices != nil {
		id, err := s.invoices.CreateFromAgreement(ctx, a)
		if err != nil {
			log.Printf("agreement %s: create invoice: %v", a.ID, err)
		} else {
			invoiceID = id
		}
	}

	if s.notifier != nil {
		s.notifier.AgreementSigned(ctx, a, pdf)
		if invoiceID != "" {
			s.notifier.InvoiceCreated(ctx, invoiceID)
		}
	}
}

// detached runs fn on its own goroutine with a bounded context so post-commit
// work never blocks or cancels with the request.
func (s *Service) detached(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// CurrentStatus reports the persisted status; the reminder worker uses it to
// re-validate before firing.
func (s *Service) CurrentStatus(ctx context.Context, agreementID string) (Status, error) {
	a, err := s.repo.GetByID(ctx, s.db, agreementID)
	if err != nil {
		return "", err
	}
	return a.Status, nil
}
