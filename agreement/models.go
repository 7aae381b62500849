package agreement

import (
	"errors"
	"time"
)

// Status is the persisted agreement lifecycle state. Expiry is a derived
// predicate, never a stored status.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusViewed  Status = "viewed"
	StatusSigned  Status = "signed"
)

var (
	// ErrNotFound is returned when no agreement exists for the token or id.
	ErrNotFound = errors.New("agreement: not found")
	// ErrAlreadySigned is returned when sign is attempted on a signed agreement.
	ErrAlreadySigned = errors.New("agreement: already signed")
	// ErrExpired is returned when sign is attempted after the signing window.
	ErrExpired = errors.New("agreement: signing window expired")
	// ErrValidation wraps malformed caller input.
	ErrValidation = errors.New("agreement: invalid input")
)

// Agreement mirrors the agreements table. Materials, PaymentSchedule and
// Phases are stored as opaque jsonb payloads owned by the quoting tool.
type Agreement struct {
	ID               string
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

	SigningToken string
	Status       Status
	ExpiresAt    time.Time

	SignatureData    *string
	SignerName       *string
	SignerIP         *string
	SignedDocumentID *string

	SentAt    *time.Time
	ViewedAt  *time.Time
	SignedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsExpired reports whether the signing window has passed at the given time.
func (a Agreement) IsExpired(now time.Time) bool {
	return a.ExpiresAt.Before(now)
}

// Event types appended to the agreement_events log.
const (
	EventCreated = "AGREEMENT_CREATED"
	EventSent    = "AGREEMENT_SENT"
	EventViewed  = "AGREEMENT_VIEWED"
	EventSigned  = "AGREEMENT_SIGNED"
	EventResent  = "AGREEMENT_RESENT"
)
