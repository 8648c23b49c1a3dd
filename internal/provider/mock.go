package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vlourenco/pagera/internal/idgen"
	"github.com/vlourenco/pagera/internal/money"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body for
// providers that use our shared-secret scheme (mock, Safe2Pay, Stone).
const SignatureHeader = "X-Pagera-Signature"

// MockProvider is a fully local gateway used in development and tests.
// Invoices are accepted unconditionally and webhooks are signed with a
// shared secret using the same HMAC construction as the real gateways.
type MockProvider struct {
	secret    string
	pixExpiry time.Duration
}

// NewMock creates a mock provider. secret signs and verifies webhooks.
func NewMock(secret string, pixExpiry time.Duration) *MockProvider {
	if pixExpiry <= 0 {
		pixExpiry = 30 * time.Minute
	}
	return &MockProvider{secret: secret, pixExpiry: pixExpiry}
}

func (m *MockProvider) Kind() Kind { return Mock }

// CreateInvoice issues a synthetic invoice. PIX invoices carry a token,
// a copy-and-paste code, and a rendered QR data URL.
func (m *MockProvider) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	if _, err := ParseMethod(string(req.Method)); err != nil {
		return nil, err
	}

	inv := &Invoice{
		ExternalID:      idgen.WithPrefix("mock_"),
		Provider:        Mock,
		Status:          "pending",
		ProviderMessage: "mock invoice created",
	}

	if req.Method == MethodPIX {
		token := idgen.Hex(16)
		copyAndPaste := buildPIXPayload(token, money.Format(req.Amount))
		inv.PIX = &PIXDetails{
			Token:        token,
			ExpiresAt:    time.Now().Add(m.pixExpiry),
			QRCodeURL:    "https://mock.pagera.dev/pix/" + token,
			QRCodePNG:    pixQRCodePNG(copyAndPaste),
			CopyAndPaste: copyAndPaste,
		}
	}

	return inv, nil
}

// VerifyWebhook checks the HMAC signature header. Fails closed: missing
// header, missing secret, or any mismatch is an invalid signature.
func (m *MockProvider) VerifyWebhook(payload []byte, headers http.Header) error {
	return verifyHMACHeader(payload, headers, m.secret)
}

// mockEvent is the mock gateway's webhook payload.
type mockEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	InvoiceID string `json:"invoiceId"`
	Amount    string `json:"amount,omitempty"`
}

// DecodeEvent parses the webhook body.
func (m *MockProvider) DecodeEvent(payload []byte) (*Event, error) {
	var ev mockEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.InvoiceID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: missing id, type, or invoiceId", ErrMalformedEvent)
	}
	return &Event{
		Provider:          Mock,
		EventID:           ev.ID,
		ExternalInvoiceID: ev.InvoiceID,
		Type:              ev.Type,
		Amount:            ev.Amount,
		RawPayload:        payload,
		ReceivedAt:        time.Now(),
	}, nil
}

// MapEvent translates a mock event into the engine vocabulary.
func (m *MockProvider) MapEvent(ev *Event) (StatusUpdate, error) {
	switch ev.Type {
	case "invoice.paid", "invoice.partially_paid":
		amount, err := money.ParsePositive(ev.Amount)
		if err != nil {
			return StatusUpdate{}, fmt.Errorf("%w: settlement with bad amount %q", ErrMalformedEvent, ev.Amount)
		}
		return StatusUpdate{Kind: EventSettlement, SettledAmount: amount, TransactionType: ev.Type}, nil
	case "invoice.canceled":
		return StatusUpdate{Kind: EventCancellation, TransactionType: ev.Type}, nil
	case "invoice.expired":
		return StatusUpdate{Kind: EventExpiration, TransactionType: ev.Type}, nil
	}
	return StatusUpdate{}, fmt.Errorf("%w: unsupported event type %q", ErrMalformedEvent, ev.Type)
}

// SignPayload produces the signature header value for a body. Tests and the
// local webhook simulator use this to emit valid deliveries.
func (m *MockProvider) SignPayload(payload []byte) string {
	return hmacHex(payload, m.secret)
}

// verifyHMACHeader is the shared fail-closed verification for providers
// using the hex HMAC-SHA256 header scheme.
func verifyHMACHeader(payload []byte, headers http.Header, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}
	got := headers.Get(SignatureHeader)
	if got == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}
	want := hmacHex(payload, secret)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}

func hmacHex(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// buildPIXPayload assembles a minimal BR Code-style copy-and-paste string.
func buildPIXPayload(token, amount string) string {
	return fmt.Sprintf("00020126pagera.dev/pix/%s5204000053039865406%s6304", token, amount)
}
