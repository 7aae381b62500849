package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"solarflow/agreement"
	"solarflow/auth"
	"solarflow/billing"
	"solarflow/document"
	"solarflow/pipeline"
)

func testClock() func() time.Time {
	fixed := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return fixed }
}

func sentAgreement() agreement.Agreement {
	return agreement.Agreement{
		ID:            "agr-1",
		OpportunityID: "opp-1",
		ContactID:     "con-1",
		ClientName:    "Dana Reyes",
		ClientEmail:   "dana@example.com",
		ClientPhone:   "+15550100",
		SigningToken:  "tok42",
		Status:        agreement.StatusSent,
	}
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string // "phone|text"
	err  error
}

func (f *fakeSMS) SendSMS(_ context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, phone+"|"+text)
	return f.err
}

type fakeEmail struct {
	mu   sync.Mutex
	msgs []EmailMessage
	err  error
}

func (f *fakeEmail) SendEmail(_ context.Context, msg EmailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.err
}

type fakeInApp struct {
	mu   sync.Mutex
	rows []InAppNotification
}

func (f *fakeInApp) Insert(_ context.Context, n InAppNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, n)
	return nil
}

type fakeRoles struct {
	ids []string
}

func (f *fakeRoles) ListUserIDsByRole(_ context.Context, role auth.Role) ([]string, error) {
	if role != auth.RoleProjectManager {
		return nil, nil
	}
	return f.ids, nil
}

type fakeSched struct {
	mu   sync.Mutex
	jobs []ReminderJob
	dues []time.Time
	err  error
}

func (f *fakeSched) Schedule(_ context.Context, job ReminderJob, due time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	f.dues = append(f.dues, due)
	return f.err
}

type fakeOpps struct {
	opp pipeline.Opportunity
	err error
}

func (f *fakeOpps) Get(_ context.Context, _ string) (pipeline.Opportunity, error) {
	return f.opp, f.err
}

type fakePhones struct {
	phone string
	err   error
}

func (f *fakePhones) PhoneByContactID(_ context.Context, _ string) (string, error) {
	return f.phone, f.err
}

type fakeInvoices struct {
	inv           billing.Invoice
	invErr        error
	linkedInvoice [2]string
	linkedReceipt [2]string
}

func (f *fakeInvoices) GetInvoice(_ context.Context, _ string) (billing.Invoice, error) {
	return f.inv, f.invErr
}

func (f *fakeInvoices) SetInvoiceDocument(_ context.Context, invoiceID, documentID string) error {
	f.linkedInvoice = [2]string{invoiceID, documentID}
	return nil
}

func (f *fakeInvoices) SetReceiptDocument(_ context.Context, receiptID, documentID string) error {
	f.linkedReceipt = [2]string{receiptID, documentID}
	return nil
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) RenderInvoice(_ context.Context, inv billing.Invoice) (document.Document, []byte, error) {
	if f.err != nil {
		return document.Document{}, nil, f.err
	}
	return document.Document{ID: "doc-inv", FileName: "invoice-" + inv.Number + ".pdf"}, []byte("%PDF-invoice"), nil
}

func (f *fakeRenderer) RenderReceipt(_ context.Context, rec billing.Receipt) (document.Document, []byte, error) {
	if f.err != nil {
		return document.Document{}, nil, f.err
	}
	return document.Document{ID: "doc-rcp", FileName: "receipt-" + rec.Number + ".pdf"}, []byte("%PDF-receipt"), nil
}

func TestAgreementSent_TextsLinkAndSchedulesReminder(t *testing.T) {
	sms := &fakeSMS{}
	sched := &fakeSched{}
	d := NewDispatcher(sms, &fakeEmail{}, "https://app.example.com").
		WithScheduler(sched).
		WithClock(testClock())

	d.AgreementSent(context.Background(), sentAgreement())

	if len(sms.sent) != 1 {
		t.Fatalf("sms sent = %d, want 1", len(sms.sent))
	}
	if want := "https://app.example.com/sign/tok42"; !strings.Contains(sms.sent[0], want) {
		t.Errorf("sms %q missing signing url %q", sms.sent[0], want)
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("scheduled jobs = %d, want 1", len(sched.jobs))
	}
	if got, want := sched.dues[0], testClock()().Add(ReminderDelay); !got.Equal(want) {
		t.Errorf("reminder due %v, want %v", got, want)
	}
	if sched.jobs[0].AgreementID != "agr-1" {
		t.Errorf("job agreement id = %q", sched.jobs[0].AgreementID)
	}
}

func TestAgreementSent_NoPhoneStillSchedules(t *testing.T) {
	sms := &fakeSMS{}
	sched := &fakeSched{}
	d := NewDispatcher(sms, &fakeEmail{}, "https://app.example.com").
		WithScheduler(sched).
		WithClock(testClock())

	a := sentAgreement()
	a.ClientPhone = ""
	d.AgreementSent(context.Background(), a)

	if len(sms.sent) != 0 {
		t.Errorf("sms sent = %d, want 0", len(sms.sent))
	}
	if len(sched.jobs) != 1 {
		t.Errorf("scheduled jobs = %d, want 1", len(sched.jobs))
	}
}

func TestAgreementSigned_NotifiesStaffOnce(t *testing.T) {
	inapp := &fakeInApp{}
	d := NewDispatcher(&fakeSMS{}, &fakeEmail{}, "https://app.example.com").
		WithInApp(inapp, &fakeRoles{ids: []string{"u-owner", "u-pm"}}).
		WithOpportunities(&fakeOpps{opp: pipeline.Opportunity{ID: "opp-1", OwnerUserID: "u-owner"}}, &fakePhones{})

	d.AgreementSigned(context.Background(), sentAgreement(), []byte("%PDF"))

	if len(inapp.rows) != 2 {
		t.Fatalf("in-app rows = %d, want 2 (owner deduplicated)", len(inapp.rows))
	}
	seen := map[string]bool{}
	for _, n := range inapp.rows {
		seen[n.UserID] = true
		if n.Kind != "agreement_signed" {
			t.Errorf("kind = %q", n.Kind)
		}
		if n.RefID == nil || *n.RefID != "agr-1" {
			t.Errorf("ref id = %v", n.RefID)
		}
	}
	if !seen["u-owner"] || !seen["u-pm"] {
		t.Errorf("recipients = %v", seen)
	}
}

func TestAgreementSigned_EmailsClientWithAttachment(t *testing.T) {
	email := &fakeEmail{}
	d := NewDispatcher(&fakeSMS{}, email, "https://app.example.com")

	pdf := []byte("%PDF-signed")
	d.AgreementSigned(context.Background(), sentAgreement(), pdf)

	if len(email.msgs) != 1 {
		t.Fatalf("emails = %d, want 1", len(email.msgs))
	}
	msg := email.msgs[0]
	if msg.To != "dana@example.com" {
		t.Errorf("to = %q", msg.To)
	}
	if msg.AttachmentName == "" {
		t.Error("attachment name missing")
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.AttachmentB64)
	if err != nil || string(decoded) != "%PDF-signed" {
		t.Errorf("attachment = %q, %v", decoded, err)
	}
}

func TestAgreementSigned_MissingPDFStillEmails(t *testing.T) {
	email := &fakeEmail{}
	d := NewDispatcher(&fakeSMS{}, email, "https://app.example.com")

	d.AgreementSigned(context.Background(), sentAgreement(), nil)

	if len(email.msgs) != 1 {
		t.Fatalf("emails = %d, want 1", len(email.msgs))
	}
	if email.msgs[0].AttachmentB64 != "" {
		t.Error("expected no attachment when stamping degraded")
	}
}

func TestInvoiceCreated_RendersLinksAndEmails(t *testing.T) {
	email := &fakeEmail{}
	invoices := &fakeInvoices{inv: billing.Invoice{
		ID:          "inv-1",
		Number:      "INV-2026-000042",
		ClientName:  "Dana Reyes",
		ClientEmail: "dana@example.com",
		Currency:    "USD",
		Total:       2240,
		DueDate:     time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC),
	}}
	d := NewDispatcher(&fakeSMS{}, email, "https://app.example.com").
		WithBilling(invoices, &fakeRenderer{})

	d.InvoiceCreated(context.Background(), "inv-1")

	if invoices.linkedInvoice != [2]string{"inv-1", "doc-inv"} {
		t.Errorf("invoice document link = %v", invoices.linkedInvoice)
	}
	if len(email.msgs) != 1 {
		t.Fatalf("emails = %d, want 1", len(email.msgs))
	}
	msg := email.msgs[0]
	if !strings.Contains(msg.Subject, "INV-2026-000042") {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "USD 2,240.00") {
		t.Errorf("body = %q", msg.Body)
	}
	if msg.AttachmentName != "invoice-INV-2026-000042.pdf" {
		t.Errorf("attachment name = %q", msg.AttachmentName)
	}
}

func TestInvoiceCreated_RenderFailureStillEmails(t *testing.T) {
	email := &fakeEmail{}
	invoices := &fakeInvoices{inv: billing.Invoice{
		ID: "inv-1", Number: "INV-2026-000042", ClientEmail: "dana@example.com", Currency: "USD",
	}}
	d := NewDispatcher(&fakeSMS{}, email, "https://app.example.com").
		WithBilling(invoices, &fakeRenderer{err: errors.New("render boom")})

	d.InvoiceCreated(context.Background(), "inv-1")

	if len(email.msgs) != 1 {
		t.Fatalf("emails = %d, want 1", len(email.msgs))
	}
	if email.msgs[0].AttachmentB64 != "" {
		t.Error("expected no attachment when rendering failed")
	}
	if invoices.linkedInvoice != [2]string{} {
		t.Errorf("unexpected document link %v", invoices.linkedInvoice)
	}
}

func TestOpportunityClosed_DeliversReceipt(t *testing.T) {
	email := &fakeEmail{}
	sms := &fakeSMS{}
	invoices := &fakeInvoices{}
	d := NewDispatcher(sms, email, "https://app.example.com").
		WithBilling(invoices, &fakeRenderer{}).
		WithOpportunities(&fakeOpps{}, &fakePhones{phone: "+15550100"})

	rec := billing.Receipt{
		ID:          "rcp-1",
		Number:      "RCP-2026-000007",
		ClientName:  "Dana Reyes",
		ClientEmail: "dana@example.com",
		Currency:    "USD",
		AmountPaid:  2240,
	}
	d.OpportunityClosed(context.Background(), pipeline.Opportunity{ID: "opp-1", ContactID: "con-1"}, rec)

	if invoices.linkedReceipt != [2]string{"rcp-1", "doc-rcp"} {
		t.Errorf("receipt document link = %v", invoices.linkedReceipt)
	}
	if len(email.msgs) != 1 {
		t.Fatalf("emails = %d, want 1", len(email.msgs))
	}
	if email.msgs[0].AttachmentName != "receipt-RCP-2026-000007.pdf" {
		t.Errorf("attachment name = %q", email.msgs[0].AttachmentName)
	}
	if len(sms.sent) != 1 {
		t.Fatalf("sms sent = %d, want 1", len(sms.sent))
	}
	if !strings.HasPrefix(sms.sent[0], "+15550100|") {
		t.Errorf("sms = %q", sms.sent[0])
	}
}

func TestOpportunityClosed_NoPhoneSkipsSMS(t *testing.T) {
	sms := &fakeSMS{}
	d := NewDispatcher(sms, &fakeEmail{}, "https://app.example.com").
		WithBilling(&fakeInvoices{}, &fakeRenderer{}).
		WithOpportunities(&fakeOpps{}, &fakePhones{phone: ""})

	d.OpportunityClosed(context.Background(), pipeline.Opportunity{}, billing.Receipt{ClientEmail: "dana@example.com"})

	if len(sms.sent) != 0 {
		t.Errorf("sms sent = %d, want 0", len(sms.sent))
	}
}
