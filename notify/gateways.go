package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSGateway sends one templated text to one phone number.
type SMSGateway interface {
	SendSMS(ctx context.Context, phone, text string) error
}

// EmailMessage is one outbound email, optionally carrying a base64-encoded
// PDF attachment.
type EmailMessage struct {
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	AttachmentName string `json:"attachment_name,omitempty"`
	AttachmentB64  string `json:"attachment_b64,omitempty"`
}

// EmailGateway delivers one email.
type EmailGateway interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// HTTPSMSGateway posts to the SMS provider. One bounded round trip, no
// retries; recovery is an operator resend.
type HTTPSMSGateway struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPSMSGateway(endpoint, apiKey string, timeout time.Duration) *HTTPSMSGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSMSGateway{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (g *HTTPSMSGateway) SendSMS(ctx context.Context, phone, text string) error {
	payload, err := json.Marshal(map[string]string{"to": phone, "text": text})
	if err != nil {
		return fmt.Errorf("notify: marshal sms: %w", err)
	}
	return postJSON(ctx, g.client, g.endpoint, g.apiKey, payload, "sms")
}

// HTTPEmailGateway posts to the email provider.
type HTTPEmailGateway struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPEmailGateway(endpoint, apiKey string, timeout time.Duration) *HTTPEmailGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPEmailGateway{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (g *HTTPEmailGateway) SendEmail(ctx context.Context, msg EmailMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal email: %w", err)
	}
	return postJSON(ctx, g.client, g.endpoint, g.apiKey, payload, "email")
}

func postJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, payload []byte, kind string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build %s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send %s: %w", kind, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: send %s: status %d", kind, resp.StatusCode)
	}
	return nil
}
