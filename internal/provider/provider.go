// Package provider presents one capability set over heterogeneous payment
// gateways: create an invoice, verify and decode a webhook, and map a
// provider event onto the engine's settlement vocabulary.
//
// Only CreateInvoice performs network I/O. Verification fails closed:
// any doubt about a signature is a rejection.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Errors. Unavailable is the only transient one; callers may retry it with
// their own backoff policy. Everything else is permanent.
var (
	ErrUnavailable      = errors.New("provider: unavailable")
	ErrRejected         = errors.New("provider: payment rejected")
	ErrInvalidSignature = errors.New("provider: invalid webhook signature")
	ErrMalformedEvent   = errors.New("provider: malformed webhook event")
	ErrUnknownProvider  = errors.New("provider: unknown provider")
)

// Kind identifies a payment provider. The set is closed; selection is by
// enumeration, never by runtime type inspection.
type Kind string

const (
	Mock     Kind = "MOCK"
	Stripe   Kind = "STRIPE"
	Safe2Pay Kind = "SAFE_2_PAY"
	Stone    Kind = "STONE"
)

// ParseKind validates a provider name from the wire.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Mock, Stripe, Safe2Pay, Stone:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// PaymentMethod is the payment instrument requested by the caller.
type PaymentMethod string

const (
	MethodBoleto      PaymentMethod = "BOLETO"
	MethodPIX         PaymentMethod = "PIX"
	MethodCreditCard  PaymentMethod = "CREDIT_CARD"
	MethodDebitCard   PaymentMethod = "DEBIT_CARD"
	MethodManualEntry PaymentMethod = "MANUAL_ENTRY"
)

// ParseMethod validates a payment method from the wire.
func ParseMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case MethodBoleto, MethodPIX, MethodCreditCard, MethodDebitCard, MethodManualEntry:
		return PaymentMethod(s), nil
	}
	return "", fmt.Errorf("%w: unsupported payment method %q", ErrRejected, s)
}

// PIXDetails carries the PIX charge data returned to the payer.
type PIXDetails struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expiresAt"`
	QRCodeURL    string    `json:"qrCodeUrl,omitempty"`
	QRCodePNG    string    `json:"qrCodePng,omitempty"` // base64 PNG data URL
	CopyAndPaste string    `json:"copyAndPaste,omitempty"`
}

// Invoice is the provider-side representation of a payment.
type Invoice struct {
	ExternalID      string      `json:"externalInvoiceId"`
	Provider        Kind        `json:"provider"`
	Status          string      `json:"status"` // provider-native vocabulary
	Tax             string      `json:"tax,omitempty"`
	ProviderMessage string      `json:"providerMessage,omitempty"`
	PIX             *PIXDetails `json:"pix,omitempty"`
}

// CreateInvoiceRequest is the input to CreateInvoice.
type CreateInvoiceRequest struct {
	TenantID    string
	Amount      decimal.Decimal
	Method      PaymentMethod
	Description string
	Metadata    map[string]string
}

// Event is a decoded inbound webhook notification.
type Event struct {
	Provider          Kind      `json:"provider"`
	EventID           string    `json:"eventId"`
	ExternalInvoiceID string    `json:"externalInvoiceId"`
	Type              string    `json:"type"`             // provider-native event type
	Amount            string    `json:"amount,omitempty"` // provider-native settled amount, if any
	RawPayload        []byte    `json:"-"`
	ReceivedAt        time.Time `json:"receivedAt"`
}

// EventKind is the engine-level meaning of a provider event.
type EventKind string

const (
	EventSettlement   EventKind = "settlement"
	EventCancellation EventKind = "cancellation"
	EventExpiration   EventKind = "expiration"
)

// StatusUpdate is the result of mapping a provider event: what happened and,
// for settlements, how much money moved in this event.
type StatusUpdate struct {
	Kind          EventKind
	SettledAmount decimal.Decimal // zero unless Kind == EventSettlement
	// Cumulative marks SettledAmount as the gateway's running total for the
	// invoice rather than a per-event delta. Stripe reports amount_received
	// this way; the reconciler resolves the delta against the entry.
	Cumulative      bool
	TransactionType string // provider-native transaction type, may be empty
}

// Provider is the uniform capability set over one payment gateway.
// CreateInvoice is the only operation with side effects; MapEvent is pure
// and deterministic for a given event.
type Provider interface {
	Kind() Kind
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	VerifyWebhook(payload []byte, headers http.Header) error
	DecodeEvent(payload []byte) (*Event, error)
	MapEvent(ev *Event) (StatusUpdate, error)
}

// Registry holds the configured providers.
type Registry struct {
	providers map[Kind]Provider
}

// NewRegistry builds a registry from the configured providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[Kind]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the provider for kind, or ErrUnknownProvider.
func (r *Registry) Get(kind Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q not configured", ErrUnknownProvider, kind)
	}
	return p, nil
}
