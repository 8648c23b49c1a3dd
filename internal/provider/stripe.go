package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	stripeclient "github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/vlourenco/pagera/internal/money"
)

// stripeSignatureHeader is Stripe's own signature scheme, verified through
// the official SDK rather than our shared-secret one.
const stripeSignatureHeader = "Stripe-Signature"

// StripeProvider adapts Stripe PaymentIntents to the engine's invoice model.
type StripeProvider struct {
	client        *stripeclient.API
	webhookSecret string
}

// NewStripe creates a Stripe provider with an explicit API client.
// No package-global key is set; configuration is injected, not ambient.
func NewStripe(apiKey, webhookSecret string, httpClient *http.Client) *StripeProvider {
	sc := &stripeclient.API{}
	sc.Init(apiKey, &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			HTTPClient: httpClient,
		}),
	})
	return &StripeProvider{client: sc, webhookSecret: webhookSecret}
}

func (s *StripeProvider) Kind() Kind { return Stripe }

// CreateInvoice opens a PaymentIntent in BRL minor units.
func (s *StripeProvider) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	var methodTypes []*string
	switch req.Method {
	case MethodCreditCard, MethodDebitCard:
		methodTypes = stripe.StringSlice([]string{"card"})
	case MethodPIX:
		methodTypes = stripe.StringSlice([]string{"pix"})
	case MethodBoleto:
		methodTypes = stripe.StringSlice([]string{"boleto"})
	default:
		return nil, fmt.Errorf("%w: stripe does not support method %q", ErrRejected, req.Method)
	}

	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: map[string]string{"tenant_id": req.TenantID},
		},
		Amount:             stripe.Int64(req.Amount.Shift(2).IntPart()),
		Currency:           stripe.String(string(stripe.CurrencyBRL)),
		Description:        stripe.String(req.Description),
		PaymentMethodTypes: methodTypes,
	}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}

	return &Invoice{
		ExternalID:      pi.ID,
		Provider:        Stripe,
		Status:          string(pi.Status),
		ProviderMessage: "payment_intent created",
	}, nil
}

// classifyStripeErr folds the SDK's error taxonomy into ours: server-side and
// connection failures are transient, everything addressed to the request is
// a permanent rejection.
func classifyStripeErr(err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		switch sErr.Type {
		case stripe.ErrorTypeAPI:
			return fmt.Errorf("%w: stripe: %s", ErrUnavailable, sErr.Msg)
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeIdempotency:
			return fmt.Errorf("%w: stripe: %s", ErrRejected, sErr.Msg)
		}
		if sErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: stripe: %s", ErrUnavailable, sErr.Msg)
		}
		return fmt.Errorf("%w: stripe: %s", ErrRejected, sErr.Msg)
	}
	// Transport-level failure (timeout, DNS, connection reset).
	return fmt.Errorf("%w: stripe: %v", ErrUnavailable, err)
}

// VerifyWebhook validates the Stripe-Signature header via the SDK.
func (s *StripeProvider) VerifyWebhook(payload []byte, headers http.Header) error {
	if s.webhookSecret == "" {
		return fmt.Errorf("%w: no stripe webhook secret configured", ErrInvalidSignature)
	}
	sig := headers.Get(stripeSignatureHeader)
	if sig == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, stripeSignatureHeader)
	}
	if _, err := webhook.ConstructEvent(payload, sig, s.webhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// stripeIntentData is the slice of the payment_intent object we consume.
type stripeIntentData struct {
	ID             string `json:"id"`
	AmountReceived int64  `json:"amount_received"`
}

// DecodeEvent parses a Stripe event envelope.
func (s *StripeProvider) DecodeEvent(payload []byte) (*Event, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" || ev.Data == nil {
		return nil, fmt.Errorf("%w: missing event id, type, or data", ErrMalformedEvent)
	}

	var intent stripeIntentData
	if err := json.Unmarshal(ev.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("%w: bad data object: %v", ErrMalformedEvent, err)
	}
	if intent.ID == "" {
		return nil, fmt.Errorf("%w: data object has no id", ErrMalformedEvent)
	}

	amount := ""
	if intent.AmountReceived > 0 {
		amount = money.Format(money.FromCents(intent.AmountReceived))
	}

	return &Event{
		Provider:          Stripe,
		EventID:           ev.ID,
		ExternalInvoiceID: intent.ID,
		Type:              string(ev.Type),
		Amount:            amount,
		RawPayload:        payload,
		ReceivedAt:        time.Now(),
	}, nil
}

// MapEvent translates Stripe payment_intent lifecycle events.
//
// amount_received is the running total collected on the intent, not the
// amount of this event, so settlements are flagged Cumulative: a
// partially_funded at 50.00 followed by succeeded at 150.00 must book
// 150.00 total, not 200.00.
func (s *StripeProvider) MapEvent(ev *Event) (StatusUpdate, error) {
	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.partially_funded":
		amount, err := money.ParsePositive(ev.Amount)
		if err != nil {
			return StatusUpdate{}, fmt.Errorf("%w: settlement with bad amount %q", ErrMalformedEvent, ev.Amount)
		}
		return StatusUpdate{Kind: EventSettlement, SettledAmount: amount, Cumulative: true, TransactionType: ev.Type}, nil
	case "payment_intent.canceled":
		return StatusUpdate{Kind: EventCancellation, TransactionType: ev.Type}, nil
	}
	return StatusUpdate{}, fmt.Errorf("%w: unsupported event type %q", ErrMalformedEvent, ev.Type)
}
