package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"solarflow/agreement"
	"solarflow/auth"
	"solarflow/billing"
	"solarflow/contact"
	"solarflow/pipeline"
)

// closeOutTimeout bounds the receipt flow kicked off by a manual close.
const closeOutTimeout = 30 * time.Second

// AgreementService is the agreement lifecycle surface the handlers call.
type AgreementService interface {
	Create(ctx context.Context, params agreement.CreateParams) (agreement.Agreement, error)
	GetByToken(ctx context.Context, token string) (agreement.Agreement, bool, error)
	MarkSent(ctx context.Context, agreementID string) (agreement.Agreement, error)
	MarkViewed(ctx context.Context, token string) (agreement.Agreement, error)
	Sign(ctx context.Context, token string, params agreement.SignatureParams) (agreement.Agreement, error)
	Resend(ctx context.Context, agreementID string) (agreement.Agreement, error)
}

// StageService is the manual pipeline surface.
type StageService interface {
	SetManual(ctx context.Context, opportunityID string, target pipeline.Stage, actorUserID string) error
	Get(ctx context.Context, opportunityID string) (pipeline.Opportunity, error)
}

// ReceiptCreator opens the receipt when an opportunity closes.
type ReceiptCreator interface {
	CreateReceipt(ctx context.Context, opp pipeline.Opportunity) (billing.Receipt, error)
}

// ClosedNotifier delivers the receipt to the client.
type ClosedNotifier interface {
	OpportunityClosed(ctx context.Context, opp pipeline.Opportunity, rec billing.Receipt)
}

// MessageIngester accepts normalized inbound webhook messages.
type MessageIngester interface {
	Ingest(ctx context.Context, msg contact.InboundMessage) (contact.IngestResult, error)
}

// Authenticator exchanges credentials for the bearer token the staff
// routes require.
type Authenticator interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
}

// Handler is the HTTP adapter entrypoint.
type Handler struct {
	agreements AgreementService
	stages     StageService
	receipts   ReceiptCreator
	closed     ClosedNotifier
	ingester   MessageIngester
	authn      Authenticator
}

func NewHandler(agreements AgreementService, stages StageService, ingester MessageIngester) *Handler {
	return &Handler{
		agreements: agreements,
		stages:     stages,
		ingester:   ingester,
	}
}

// WithCloseOut wires the receipt flow that follows a manual move to closed.
func (h *Handler) WithCloseOut(receipts ReceiptCreator, closed ClosedNotifier) *Handler {
	h.receipts = receipts
	h.closed = closed
	return h
}

// WithAuth exposes the credential exchange on /api/auth/login.
func (h *Handler) WithAuth(a Authenticator) *Handler {
	h.authn = a
	return h
}

// NewRouter registers routes and the middleware stack. The signing surface
// is public; everything staff-facing sits behind the bearer check.
func NewRouter(h *Handler, verifier TokenVerifier) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, http.StatusOK, map[string]string{"state": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/sign/{token}", h.getAgreement)
		r.Post("/sign/{token}/viewed", h.markViewed)
		r.Post("/sign/{token}", h.sign)
		r.Post("/webhooks/messages", h.ingestMessage)
		if h.authn != nil {
			r.Post("/auth/login", h.login)
		}

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(verifier))
			r.Post("/agreements", h.createAgreement)
			r.Post("/agreements/{id}/send", h.markSent)
			r.Post("/agreements/{id}/resend", h.resend)
			r.Put("/opportunities/{id}/stage", h.setStage)
		})
	})

	return r
}

// agreementView is the JSON shape returned to both signers and staff.
type agreementView struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	ClientName      string          `json:"client_name"`
	ClientEmail     string          `json:"client_email,omitempty"`
	ClientAddress   string          `json:"client_address,omitempty"`
	SystemSizeKw    float64         `json:"system_size_kw"`
	TotalPrice      float64         `json:"total_price"`
	DepositAmount   float64         `json:"deposit_amount"`
	Currency        string          `json:"currency"`
	Materials       json.RawMessage `json:"materials,omitempty"`
	PaymentSchedule json.RawMessage `json:"payment_schedule,omitempty"`
	Phases          json.RawMessage `json:"phases,omitempty"`
	ExpiresAt       time.Time       `json:"expires_at"`
	IsExpired       bool            `json:"is_expired"`
	SignerName      *string         `json:"signer_name,omitempty"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
	ViewedAt        *time.Time      `json:"viewed_at,omitempty"`
	SignedAt        *time.Time      `json:"signed_at,omitempty"`
}

func viewOf(a agreement.Agreement, expired bool) agreementView {
	return agreementView{
		ID:              a.ID,
		Status:          string(a.Status),
		ClientName:      a.ClientName,
		ClientEmail:     a.ClientEmail,
		ClientAddress:   a.ClientAddress,
		SystemSizeKw:    a.SystemSizeKw,
		TotalPrice:      a.TotalPrice,
		DepositAmount:   a.DepositAmount,
		Currency:        a.Currency,
		Materials:       json.RawMessage(a.Materials),
		PaymentSchedule: json.RawMessage(a.PaymentSchedule),
		Phases:          json.RawMessage(a.Phases),
		ExpiresAt:       a.ExpiresAt,
		IsExpired:       expired,
		SignerName:      a.SignerName,
		SentAt:          a.SentAt,
		ViewedAt:        a.ViewedAt,
		SignedAt:        a.SignedAt,
	}
}

func (h *Handler) getAgreement(w http.ResponseWriter, r *http.Request) {
	a, expired, err := h.agreements.GetByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, viewOf(a, expired))
}

func (h *Handler) markViewed(w http.ResponseWriter, r *http.Request) {
	a, err := h.agreements.MarkViewed(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, viewOf(a, a.IsExpired(time.Now())))
}

type signRequest struct {
	Signature  string `json:"signature"`
	SignerName string `json:"signer_name"`
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}

	a, err := h.agreements.Sign(r.Context(), chi.URLParam(r, "token"), agreement.SignatureParams{
		ImageDataURL: req.Signature,
		SignerName:   req.SignerName,
		SignerIP:     clientIP(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, viewOf(a, false))
}

func (h *Handler) ingestMessage(w http.ResponseWriter, r *http.Request) {
	var msg contact.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	res, err := h.ingester.Ingest(r.Context(), msg)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"contact_id": res.ContactID,
		"message_id": res.MessageID,
		"duplicate":  res.Duplicate,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	res, err := h.authn.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password")
			return
		}
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"token": res.Token,
		"user": map[string]any{
			"id":        res.User.ID,
			"email":     res.User.Email,
			"full_name": res.User.FullName,
			"role":      res.User.Role,
		},
	})
}

type createAgreementRequest struct {
	OpportunityID    string          `json:"opportunity_id"`
	ContactID        string          `json:"contact_id"`
	SourceDocumentID *string         `json:"source_document_id"`
	ClientName       string          `json:"client_name"`
	ClientEmail      string          `json:"client_email"`
	ClientPhone      string          `json:"client_phone"`
	ClientAddress    string          `json:"client_address"`
	SystemSizeKw     float64         `json:"system_size_kw"`
	TotalPrice       float64         `json:"total_price"`
	DepositAmount    float64         `json:"deposit_amount"`
	Currency         string          `json:"currency"`
	Materials        json.RawMessage `json:"materials"`
	PaymentSchedule  json.RawMessage `json:"payment_schedule"`
	Phases           json.RawMessage `json:"phases"`
}

func (h *Handler) createAgreement(w http.ResponseWriter, r *http.Request) {
	var req createAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}

	a, err := h.agreements.Create(r.Context(), agreement.CreateParams{
		OpportunityID:    req.OpportunityID,
		ContactID:        req.ContactID,
		SourceDocumentID: req.SourceDocumentID,
		ClientName:       req.ClientName,
		ClientEmail:      req.ClientEmail,
		ClientPhone:      req.ClientPhone,
		ClientAddress:    req.ClientAddress,
		SystemSizeKw:     req.SystemSizeKw,
		TotalPrice:       req.TotalPrice,
		DepositAmount:    req.DepositAmount,
		Currency:         req.Currency,
		Materials:        req.Materials,
		PaymentSchedule:  req.PaymentSchedule,
		Phases:           req.Phases,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{
		"agreement":     viewOf(a, false),
		"signing_token": a.SigningToken,
	})
}

func (h *Handler) markSent(w http.ResponseWriter, r *http.Request) {
	a, err := h.agreements.MarkSent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, viewOf(a, false))
}

func (h *Handler) resend(w http.ResponseWriter, r *http.Request) {
	a, err := h.agreements.Resend(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, viewOf(a, false))
}

type setStageRequest struct {
	Stage string `json:"stage"`
}

// setStage applies a manual stage override. Moving to closed additionally
// opens the receipt and hands it to the dispatcher; both are best-effort
// once the stage change is committed.
func (h *Handler) setStage(w http.ResponseWriter, r *http.Request) {
	var req setStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "invalid request body")
		return
	}
	target := pipeline.Stage(req.Stage)

	opportunityID := chi.URLParam(r, "id")
	if err := h.stages.SetManual(r.Context(), opportunityID, target, userIDFromContext(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}

	if target == pipeline.StageClosed && h.receipts != nil {
		h.closeOut(r.Context(), opportunityID)
	}
	writeSuccess(w, http.StatusOK, map[string]string{
		"opportunity_id": opportunityID,
		"stage":          req.Stage,
	})
}

func (h *Handler) closeOut(ctx context.Context, opportunityID string) {
	opp, err := h.stages.Get(ctx, opportunityID)
	if err != nil {
		log.Printf("httpapi: close-out %s: load opportunity: %v", opportunityID, err)
		return
	}
	rec, err := h.receipts.CreateReceipt(ctx, opp)
	if err != nil {
		log.Printf("httpapi: close-out %s: create receipt: %v", opportunityID, err)
		return
	}
	if h.closed == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeOutTimeout)
		defer cancel()
		h.closed.OpportunityClosed(ctx, opp, rec)
	}()
}

// clientIP prefers the proxy-reported address, falling back to the socket
// peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
