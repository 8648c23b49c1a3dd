package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vlourenco/pagera/internal/money"
)

// StoneProvider adapts Stone's PIX charge API.
type StoneProvider struct {
	apiURL       string
	apiKey       string
	webhookToken string
	client       *http.Client
}

// NewStone creates a Stone provider.
func NewStone(apiURL, apiKey, webhookToken string, client *http.Client) *StoneProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &StoneProvider{apiURL: apiURL, apiKey: apiKey, webhookToken: webhookToken, client: client}
}

func (s *StoneProvider) Kind() Kind { return Stone }

type stoneChargeResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	QRCodeText   string `json:"qr_code_text"`
	QRCodeURL    string `json:"qr_code_url"`
	ExpiresAt    string `json:"expires_at"`
	ErrorMessage string `json:"error_message"`
}

// CreateInvoice opens a dynamic PIX charge. Stone is PIX-only here.
func (s *StoneProvider) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	if req.Method != MethodPIX {
		return nil, fmt.Errorf("%w: stone only supports PIX, got %q", ErrRejected, req.Method)
	}

	body := map[string]any{
		"amount":      money.Format(req.Amount),
		"currency":    "BRL",
		"reference":   req.TenantID,
		"description": req.Description,
	}

	var out stoneChargeResponse
	headers := map[string]string{"Authorization": "Bearer " + s.apiKey}
	if err := postJSON(ctx, s.client, s.apiURL+"/pix/charges", headers, body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: stone: %s", ErrRejected, out.ErrorMessage)
	}

	expires := time.Now().Add(30 * time.Minute)
	if t, err := time.Parse(time.RFC3339, out.ExpiresAt); err == nil {
		expires = t
	}

	return &Invoice{
		ExternalID: out.ID,
		Provider:   Stone,
		Status:     out.Status,
		PIX: &PIXDetails{
			Token:        out.ID,
			ExpiresAt:    expires,
			QRCodeURL:    out.QRCodeURL,
			QRCodePNG:    pixQRCodePNG(out.QRCodeText),
			CopyAndPaste: out.QRCodeText,
		},
	}, nil
}

// VerifyWebhook checks the shared HMAC signature header.
func (s *StoneProvider) VerifyWebhook(payload []byte, headers http.Header) error {
	return verifyHMACHeader(payload, headers, s.webhookToken)
}

type stoneEvent struct {
	EventID  string `json:"event_id"`
	Type     string `json:"type"`
	ChargeID string `json:"charge_id"`
	Amount   string `json:"amount,omitempty"`
}

// DecodeEvent parses a Stone notification.
func (s *StoneProvider) DecodeEvent(payload []byte) (*Event, error) {
	var ev stoneEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.EventID == "" || ev.ChargeID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: missing event_id, type, or charge_id", ErrMalformedEvent)
	}
	return &Event{
		Provider:          Stone,
		EventID:           ev.EventID,
		ExternalInvoiceID: ev.ChargeID,
		Type:              ev.Type,
		Amount:            ev.Amount,
		RawPayload:        payload,
		ReceivedAt:        time.Now(),
	}, nil
}

// MapEvent translates Stone charge events.
func (s *StoneProvider) MapEvent(ev *Event) (StatusUpdate, error) {
	switch ev.Type {
	case "charge.paid":
		amount, err := money.ParsePositive(ev.Amount)
		if err != nil {
			return StatusUpdate{}, fmt.Errorf("%w: settlement with bad amount %q", ErrMalformedEvent, ev.Amount)
		}
		return StatusUpdate{Kind: EventSettlement, SettledAmount: amount, TransactionType: ev.Type}, nil
	case "charge.canceled":
		return StatusUpdate{Kind: EventCancellation, TransactionType: ev.Type}, nil
	case "charge.expired":
		return StatusUpdate{Kind: EventExpiration, TransactionType: ev.Type}, nil
	}
	return StatusUpdate{}, fmt.Errorf("%w: unsupported event type %q", ErrMalformedEvent, ev.Type)
}
