package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vlourenco/pagera/internal/money"
)

// Safe2Pay transaction status codes we react to. The gateway has more; any
// code outside this set is an unsupported event, not an error to guess at.
const (
	safe2payStatusAuthorized = 3  // full settlement
	safe2payStatusAvailable  = 4  // settlement cleared (treated like authorized)
	safe2payStatusRefused    = 8  // payment refused -> cancellation
	safe2payStatusWrittenOff = 7  // boleto written off -> expiration
	safe2payStatusPartial    = 13 // partial settlement
)

// safe2payMethodCodes maps engine methods to Safe2Pay payment codes.
var safe2payMethodCodes = map[PaymentMethod]string{
	MethodBoleto:     "1",
	MethodCreditCard: "2",
	MethodDebitCard:  "4",
	MethodPIX:        "6",
}

// Safe2PayProvider adapts the Safe2Pay boleto/PIX gateway.
type Safe2PayProvider struct {
	apiURL       string
	apiKey       string
	webhookToken string
	client       *http.Client
}

// NewSafe2Pay creates a Safe2Pay provider. webhookToken signs inbound
// notifications with the shared HMAC header scheme.
func NewSafe2Pay(apiURL, apiKey, webhookToken string, client *http.Client) *Safe2PayProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Safe2PayProvider{apiURL: apiURL, apiKey: apiKey, webhookToken: webhookToken, client: client}
}

func (s *Safe2PayProvider) Kind() Kind { return Safe2Pay }

type safe2payCreateResponse struct {
	HasError bool `json:"HasError"`
	Error    struct {
		Message string `json:"Message"`
	} `json:"Error"`
	ResponseDetail struct {
		IdTransaction int64  `json:"IdTransaction"`
		Status        int    `json:"Status"`
		Message       string `json:"Message"`
		Key           string `json:"Key"`          // PIX token
		QrCode        string `json:"QrCode"`       // PIX QR image URL
		CopyAndPaste  string `json:"CopyAndPaste"` // PIX EMV payload
		DueDate       string `json:"DueDate"`
	} `json:"ResponseDetail"`
}

// CreateInvoice opens a Safe2Pay transaction.
func (s *Safe2PayProvider) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	code, ok := safe2payMethodCodes[req.Method]
	if !ok {
		return nil, fmt.Errorf("%w: safe2pay does not support method %q", ErrRejected, req.Method)
	}

	body := map[string]any{
		"PaymentMethod": code,
		"Amount":        money.Format(req.Amount),
		"Reference":     req.TenantID,
		"Description":   req.Description,
	}

	var out safe2payCreateResponse
	err := postJSON(ctx, s.client, s.apiURL+"/Payment", map[string]string{"X-API-KEY": s.apiKey}, body, &out)
	if err != nil {
		return nil, err
	}
	if out.HasError {
		return nil, fmt.Errorf("%w: safe2pay: %s", ErrRejected, out.Error.Message)
	}

	inv := &Invoice{
		ExternalID:      strconv.FormatInt(out.ResponseDetail.IdTransaction, 10),
		Provider:        Safe2Pay,
		Status:          strconv.Itoa(out.ResponseDetail.Status),
		ProviderMessage: out.ResponseDetail.Message,
	}

	if req.Method == MethodPIX && out.ResponseDetail.Key != "" {
		expires := time.Now().Add(30 * time.Minute)
		if due, err := time.Parse("2006-01-02", out.ResponseDetail.DueDate); err == nil {
			expires = due
		}
		inv.PIX = &PIXDetails{
			Token:        out.ResponseDetail.Key,
			ExpiresAt:    expires,
			QRCodeURL:    out.ResponseDetail.QrCode,
			QRCodePNG:    pixQRCodePNG(out.ResponseDetail.CopyAndPaste),
			CopyAndPaste: out.ResponseDetail.CopyAndPaste,
		}
	}

	return inv, nil
}

// VerifyWebhook checks the shared HMAC signature header.
func (s *Safe2PayProvider) VerifyWebhook(payload []byte, headers http.Header) error {
	return verifyHMACHeader(payload, headers, s.webhookToken)
}

// safe2payEvent is the notification body Safe2Pay posts on status changes.
type safe2payEvent struct {
	IdTransaction   json.Number `json:"IdTransaction"`
	NotificationID  string      `json:"NotificationId"`
	TransactionType string      `json:"TransactionType"`
	Status          int         `json:"Status"`
	Amount          string      `json:"Amount"`
}

// DecodeEvent parses a Safe2Pay notification.
func (s *Safe2PayProvider) DecodeEvent(payload []byte) (*Event, error) {
	var ev safe2payEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.NotificationID == "" || ev.IdTransaction.String() == "" {
		return nil, fmt.Errorf("%w: missing NotificationId or IdTransaction", ErrMalformedEvent)
	}
	return &Event{
		Provider:          Safe2Pay,
		EventID:           ev.NotificationID,
		ExternalInvoiceID: ev.IdTransaction.String(),
		Type:              strconv.Itoa(ev.Status),
		Amount:            ev.Amount,
		RawPayload:        payload,
		ReceivedAt:        time.Now(),
	}, nil
}

// MapEvent translates Safe2Pay status codes.
func (s *Safe2PayProvider) MapEvent(ev *Event) (StatusUpdate, error) {
	status, err := strconv.Atoi(ev.Type)
	if err != nil {
		return StatusUpdate{}, fmt.Errorf("%w: non-numeric status %q", ErrMalformedEvent, ev.Type)
	}

	txType := "safe2pay.status." + ev.Type
	switch status {
	case safe2payStatusAuthorized, safe2payStatusAvailable, safe2payStatusPartial:
		amount, err := money.ParsePositive(ev.Amount)
		if err != nil {
			return StatusUpdate{}, fmt.Errorf("%w: settlement with bad amount %q", ErrMalformedEvent, ev.Amount)
		}
		return StatusUpdate{Kind: EventSettlement, SettledAmount: amount, TransactionType: txType}, nil
	case safe2payStatusRefused:
		return StatusUpdate{Kind: EventCancellation, TransactionType: txType}, nil
	case safe2payStatusWrittenOff:
		return StatusUpdate{Kind: EventExpiration, TransactionType: txType}, nil
	}
	return StatusUpdate{}, fmt.Errorf("%w: unsupported safe2pay status %d", ErrMalformedEvent, status)
}
