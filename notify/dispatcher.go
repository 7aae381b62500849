package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"solarflow/agreement"
	"solarflow/auth"
	"solarflow/billing"
	"solarflow/document"
	"solarflow/pipeline"
)

// OpportunityLookup resolves the owner of the opportunity an agreement
// belongs to.
type OpportunityLookup interface {
	Get(ctx context.Context, opportunityID string) (pipeline.Opportunity, error)
}

// RoleLister finds every user holding a role, for broadcasts.
type RoleLister interface {
	ListUserIDsByRole(ctx context.Context, role auth.Role) ([]string, error)
}

// ContactPhones resolves a contact's phone number. Receipts only carry the
// client's name and email, so the close-out SMS goes through here.
type ContactPhones interface {
	PhoneByContactID(ctx context.Context, contactID string) (string, error)
}

// InvoiceSource loads invoices and links their rendered documents.
type InvoiceSource interface {
	GetInvoice(ctx context.Context, id string) (billing.Invoice, error)
	SetInvoiceDocument(ctx context.Context, invoiceID, documentID string) error
	SetReceiptDocument(ctx context.Context, receiptID, documentID string) error
}

// PDFRenderer is the generation flavor of the document pipeline.
type PDFRenderer interface {
	RenderInvoice(ctx context.Context, inv billing.Invoice) (document.Document, []byte, error)
	RenderReceipt(ctx context.Context, rec billing.Receipt) (document.Document, []byte, error)
}

// Dispatcher maps lifecycle events to outbound sends, in-app rows and
// delayed jobs. Every action is independent: one failed send is logged and
// the rest still go out, and nothing here ever reports back to the state
// transition that fired the event.
type Dispatcher struct {
	sms       SMSGateway
	email     EmailGateway
	inapp     InAppStore
	roles     RoleLister
	scheduler Scheduler
	opps      OpportunityLookup
	contacts  ContactPhones
	invoices  InvoiceSource
	docs      PDFRenderer

	publicBaseURL string
	now           func() time.Time
}

func NewDispatcher(sms SMSGateway, email EmailGateway, publicBaseURL string) *Dispatcher {
	return &Dispatcher{
		sms:           sms,
		email:         email,
		publicBaseURL: publicBaseURL,
		now:           time.Now,
	}
}

func (d *Dispatcher) WithInApp(store InAppStore, roles RoleLister) *Dispatcher {
	d.inapp = store
	d.roles = roles
	return d
}

func (d *Dispatcher) WithScheduler(s Scheduler) *Dispatcher {
	d.scheduler = s
	return d
}

func (d *Dispatcher) WithOpportunities(opps OpportunityLookup, contacts ContactPhones) *Dispatcher {
	d.opps = opps
	d.contacts = contacts
	return d
}

func (d *Dispatcher) WithBilling(invoices InvoiceSource, docs PDFRenderer) *Dispatcher {
	d.invoices = invoices
	d.docs = docs
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// AgreementSent texts the signing link when a phone number exists and
// schedules the 72-hour reminder.
func (d *Dispatcher) AgreementSent(ctx context.Context, a agreement.Agreement) {
	g, ctx := errgroup.WithContext(ctx)

	if a.ClientPhone != "" && d.sms != nil {
		g.Go(func() error {
			text := fmt.Sprintf("Hi %s, your solar installation agreement is ready to sign: %s", a.ClientName, d.signingURL(a.SigningToken))
			if err := d.sms.SendSMS(ctx, a.ClientPhone, text); err != nil {
				log.Printf("notify: agreement %s sent sms: %v", a.ID, err)
			}
			return nil
		})
	}

	if d.scheduler != nil {
		g.Go(func() error {
			job := ReminderJob{
				AgreementID: a.ID,
				ClientPhone: a.ClientPhone,
				ClientName:  a.ClientName,
				SigningURL:  d.signingURL(a.SigningToken),
			}
			if err := d.scheduler.Schedule(ctx, job, d.now().Add(ReminderDelay)); err != nil {
				log.Printf("notify: agreement %s reminder: %v", a.ID, err)
			}
			return nil
		})
	}

	g.Wait()
}

// AgreementSigned notifies the opportunity owner in-app, broadcasts to
// project managers and confirms to the client. The signed PDF attachment is
// best-effort: a nil payload means the pipeline degraded and the email goes
// out without it.
func (d *Dispatcher) AgreementSigned(ctx context.Context, a agreement.Agreement, signedPDF []byte) {
	g, ctx := errgroup.WithContext(ctx)

	if d.inapp != nil {
		g.Go(func() error {
			d.notifyStaff(ctx, a)
			return nil
		})
	}

	if a.ClientEmail != "" && d.email != nil {
		g.Go(func() error {
			msg := EmailMessage{
				To:      a.ClientEmail,
				Subject: "Your solar installation agreement is signed",
				Body:    fmt.Sprintf("Hi %s,\n\nThank you! Your agreement has been signed and your installation is moving forward.\n", a.ClientName),
			}
			if signedPDF != nil {
				msg.AttachmentName = fmt.Sprintf("contract-signed-%s.pdf", a.ID)
				msg.AttachmentB64 = base64.StdEncoding.EncodeToString(signedPDF)
			}
			if err := d.email.SendEmail(ctx, msg); err != nil {
				log.Printf("notify: agreement %s signed email: %v", a.ID, err)
			}
			return nil
		})
	}

	if a.ClientPhone != "" && d.sms != nil {
		g.Go(func() error {
			text := fmt.Sprintf("Thank you %s! Your solar agreement is signed. We'll be in touch about installation.", a.ClientName)
			if err := d.sms.SendSMS(ctx, a.ClientPhone, text); err != nil {
				log.Printf("notify: agreement %s signed sms: %v", a.ID, err)
			}
			return nil
		})
	}

	g.Wait()
}

func (d *Dispatcher) notifyStaff(ctx context.Context, a agreement.Agreement) {
	title := "Agreement signed"
	body := fmt.Sprintf("%s signed the installation agreement.", a.ClientName)

	recipients := map[string]bool{}
	if d.opps != nil {
		opp, err := d.opps.Get(ctx, a.OpportunityID)
		if err != nil {
			log.Printf("notify: agreement %s owner lookup: %v", a.ID, err)
		} else if opp.OwnerUserID != "" {
			recipients[opp.OwnerUserID] = true
		}
	}
	if d.roles != nil {
		userIDs, err := d.roles.ListUserIDsByRole(ctx, auth.RoleProjectManager)
		if err != nil {
			log.Printf("notify: agreement %s role broadcast: %v", a.ID, err)
		}
		for _, id := range userIDs {
			recipients[id] = true
		}
	}

	for userID := range recipients {
		if err := d.inapp.Insert(ctx, InAppNotification{
			UserID: userID,
			Kind:   "agreement_signed",
			Title:  title,
			Body:   body,
			RefID:  &a.ID,
		}); err != nil {
			log.Printf("notify: agreement %s in-app for %s: %v", a.ID, userID, err)
		}
	}
}

// InvoiceCreated renders the invoice PDF and emails it to the client.
func (d *Dispatcher) InvoiceCreated(ctx context.Context, invoiceID string) {
	if d.invoices == nil || d.docs == nil {
		return
	}

	inv, err := d.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		log.Printf("notify: invoice %s load: %v", invoiceID, err)
		return
	}

	var attachment []byte
	var attachmentName string
	doc, data, err := d.docs.RenderInvoice(ctx, inv)
	if err != nil {
		log.Printf("notify: invoice %s render: %v", invoiceID, err)
	} else {
		attachment = data
		attachmentName = doc.FileName
		if err := d.invoices.SetInvoiceDocument(ctx, inv.ID, doc.ID); err != nil {
			log.Printf("notify: %v", err)
		}
	}

	if inv.ClientEmail == "" || d.email == nil {
		return
	}
	msg := EmailMessage{
		To:      inv.ClientEmail,
		Subject: fmt.Sprintf("Invoice %s from your solar installation", inv.Number),
		Body:    fmt.Sprintf("Hi %s,\n\nPlease find invoice %s attached. Total due: %s by %s.\n", inv.ClientName, inv.Number, document.FormatMoney(inv.Currency, inv.Total), inv.DueDate.Format("Jan 2, 2006")),
	}
	if attachment != nil {
		msg.AttachmentName = attachmentName
		msg.AttachmentB64 = base64.StdEncoding.EncodeToString(attachment)
	}
	if err := d.email.SendEmail(ctx, msg); err != nil {
		log.Printf("notify: invoice %s email: %v", invoiceID, err)
	}
}

// OpportunityClosed renders the receipt and delivers it to the client by
// email and SMS.
func (d *Dispatcher) OpportunityClosed(ctx context.Context, opp pipeline.Opportunity, rec billing.Receipt) {
	var attachment []byte
	var attachmentName string
	if d.docs != nil {
		doc, data, err := d.docs.RenderReceipt(ctx, rec)
		if err != nil {
			log.Printf("notify: receipt %s render: %v", rec.ID, err)
		} else {
			attachment = data
			attachmentName = doc.FileName
			if d.invoices != nil {
				if err := d.invoices.SetReceiptDocument(ctx, rec.ID, doc.ID); err != nil {
					log.Printf("notify: %v", err)
				}
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if rec.ClientEmail != "" && d.email != nil {
		g.Go(func() error {
			msg := EmailMessage{
				To:      rec.ClientEmail,
				Subject: fmt.Sprintf("Receipt %s, thank you for going solar", rec.Number),
				Body:    fmt.Sprintf("Hi %s,\n\nYour project is complete. Receipt %s for %s is attached.\n", rec.ClientName, rec.Number, document.FormatMoney(rec.Currency, rec.AmountPaid)),
			}
			if attachment != nil {
				msg.AttachmentName = attachmentName
				msg.AttachmentB64 = base64.StdEncoding.EncodeToString(attachment)
			}
			if err := d.email.SendEmail(ctx, msg); err != nil {
				log.Printf("notify: receipt %s email: %v", rec.ID, err)
			}
			return nil
		})
	}

	if d.sms != nil && d.contacts != nil {
		g.Go(func() error {
			phone, err := d.contacts.PhoneByContactID(ctx, opp.ContactID)
			if err != nil {
				log.Printf("notify: receipt %s phone lookup: %v", rec.ID, err)
				return nil
			}
			if phone == "" {
				return nil
			}
			text := fmt.Sprintf("Thank you %s! Your solar project is complete. Receipt %s is in your inbox.", rec.ClientName, rec.Number)
			if err := d.sms.SendSMS(ctx, phone, text); err != nil {
				log.Printf("notify: receipt %s sms: %v", rec.ID, err)
			}
			return nil
		})
	}

	g.Wait()
}

func (d *Dispatcher) signingURL(token string) string {
	return d.publicBaseURL + "/sign/" + token
}
