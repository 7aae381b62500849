package contact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound   = errors.New("contact: not found")
	ErrValidation = errors.New("contact: validation failed")
)

// Contact is one person reachable over a messaging channel. The
// (channel, platform_user_id) pair identifies them across webhook retries
// and re-registrations.
type Contact struct {
	ID             string
	Name           string
	Phone          string
	Email          string
	Channel        string
	PlatformUserID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Attachment is a file the sender included with a message, referenced by
// the platform's download URL rather than stored bytes.
type Attachment struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	FileName string `json:"file_name,omitempty"`
}

// InboundMessage is the normalized shape every messaging webhook is mapped
// to before ingest.
type InboundMessage struct {
	Channel           string       `json:"channel"`
	PlatformUserID    string       `json:"platform_user_id"`
	ExternalMessageID string       `json:"external_message_id"`
	SenderName        string       `json:"sender_name"`
	Phone             string       `json:"phone"`
	Email             string       `json:"email"`
	Body              string       `json:"body"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	ReceivedAt        time.Time    `json:"received_at"`
}

// IngestResult reports what one webhook delivery did. Duplicate means the
// external message id was already recorded and nothing changed.
type IngestResult struct {
	ContactID string
	MessageID string
	Duplicate bool
}

// DB is the subset of pgxpool.Pool the service needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service ingests inbound messages from external messaging platforms.
// Providers redeliver webhooks on timeouts, so every path here must be safe
// to replay.
type Service struct {
	db    DB
	idGen func() string
	now   func() time.Time
}

func NewService(db DB) *Service {
	return &Service{
		db:    db,
		idGen: func() string { return uuid.NewString() },
		now:   time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Ingest upserts the sender as a contact and appends the message once.
// Replays of the same external message id return Duplicate without touching
// anything.
func (s *Service) Ingest(ctx context.Context, msg InboundMessage) (IngestResult, error) {
	if err := validate(msg); err != nil {
		return IngestResult{}, err
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = s.now()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("contact: begin ingest: %w", err)
	}
	defer tx.Rollback(ctx)

	contactID, err := s.upsertContact(ctx, tx, msg)
	if err != nil {
		return IngestResult{}, err
	}

	var attachments []byte
	if len(msg.Attachments) > 0 {
		attachments, err = json.Marshal(msg.Attachments)
		if err != nil {
			return IngestResult{}, fmt.Errorf("contact: marshal attachments: %w", err)
		}
	}

	messageID := s.idGen()
	var insertedID string
	err = tx.QueryRow(ctx, `
        INSERT INTO contact_messages (id, contact_id, channel, external_message_id, body, attachments, received_at)
        VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7)
        ON CONFLICT (channel, external_message_id) DO NOTHING
        RETURNING id
    `, messageID, contactID, msg.Channel, msg.ExternalMessageID, msg.Body, attachments, msg.ReceivedAt).Scan(&insertedID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Redelivered webhook: the message row already exists.
		existing, err := s.existingMessageID(ctx, tx, msg)
		if err != nil {
			return IngestResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return IngestResult{}, fmt.Errorf("contact: commit ingest: %w", err)
		}
		return IngestResult{ContactID: contactID, MessageID: existing, Duplicate: true}, nil
	}
	if err != nil {
		return IngestResult{}, fmt.Errorf("contact: insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return IngestResult{}, fmt.Errorf("contact: commit ingest: %w", err)
	}
	return IngestResult{ContactID: contactID, MessageID: insertedID}, nil
}

// upsertContact keeps the newest non-empty identity fields. Platforms often
// omit the phone or name on later messages; an empty value never clobbers a
// known one.
func (s *Service) upsertContact(ctx context.Context, tx pgx.Tx, msg InboundMessage) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
        INSERT INTO contacts (id, name, phone, email, channel, platform_user_id)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (channel, platform_user_id) DO UPDATE SET
            name  = COALESCE(NULLIF(EXCLUDED.name, ''), contacts.name),
            phone = COALESCE(NULLIF(EXCLUDED.phone, ''), contacts.phone),
            email = COALESCE(NULLIF(EXCLUDED.email, ''), contacts.email),
            updated_at = now()
        RETURNING id
    `, s.idGen(), msg.SenderName, msg.Phone, msg.Email, msg.Channel, msg.PlatformUserID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("contact: upsert contact: %w", err)
	}
	return id, nil
}

func (s *Service) existingMessageID(ctx context.Context, tx pgx.Tx, msg InboundMessage) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
        SELECT id FROM contact_messages WHERE channel=$1 AND external_message_id=$2
    `, msg.Channel, msg.ExternalMessageID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("contact: lookup duplicate message: %w", err)
	}
	return id, nil
}

// Get loads one contact.
func (s *Service) Get(ctx context.Context, id string) (Contact, error) {
	var c Contact
	err := s.db.QueryRow(ctx, `
        SELECT id, name, phone, email, channel, platform_user_id, created_at, updated_at
        FROM contacts WHERE id=$1
    `, id).Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Channel, &c.PlatformUserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("contact: get %s: %w", id, err)
	}
	return c, nil
}

// PhoneByContactID resolves just the phone number, for outbound texting.
func (s *Service) PhoneByContactID(ctx context.Context, contactID string) (string, error) {
	c, err := s.Get(ctx, contactID)
	if err != nil {
		return "", err
	}
	return c.Phone, nil
}

func validate(msg InboundMessage) error {
	var missing []string
	if msg.Channel == "" {
		missing = append(missing, "channel")
	}
	if msg.PlatformUserID == "" {
		missing = append(missing, "platform_user_id")
	}
	if msg.ExternalMessageID == "" {
		missing = append(missing, "external_message_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}
