// Package payments drives payment initiation: create the invoice with the
// chosen provider, then book the OPEN ledger entry and resolve the
// idempotency record as one atomic unit.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vlourenco/pagera/internal/circuitbreaker"
	"github.com/vlourenco/pagera/internal/idempotency"
	"github.com/vlourenco/pagera/internal/idgen"
	"github.com/vlourenco/pagera/internal/ledger"
	"github.com/vlourenco/pagera/internal/logging"
	"github.com/vlourenco/pagera/internal/metrics"
	"github.com/vlourenco/pagera/internal/money"
	"github.com/vlourenco/pagera/internal/pagination"
	"github.com/vlourenco/pagera/internal/provider"
	"github.com/vlourenco/pagera/internal/tenant"
	"github.com/vlourenco/pagera/internal/txn"
)

var ErrAmountTooLarge = errors.New("payments: amount exceeds configured maximum")

// InitiateRequest is the input to ProcessPayment.
type InitiateRequest struct {
	TenantID       string
	ToAccountID    string
	Amount         string
	Provider       provider.Kind
	Method         provider.PaymentMethod
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
	CreatedBy      string
}

// Result pairs the provider invoice with the booked ledger entry.
type Result struct {
	Invoice *provider.Invoice `json:"invoice"`
	Entry   *ledger.Entry     `json:"ledgerEntry"`
}

// Service is the payment initiation orchestrator.
type Service struct {
	providers       *provider.Registry
	guard           *idempotency.Guard
	entries         ledger.Store
	invoices        InvoiceStore
	tenants         tenant.Store
	tx              *txn.Coordinator
	breaker         *circuitbreaker.Breaker
	providerTimeout time.Duration
	maxAmount       decimal.Decimal
}

// NewService creates the initiation orchestrator. maxAmount caps a single
// payment; pass decimal.Zero for no cap.
func NewService(
	providers *provider.Registry,
	guard *idempotency.Guard,
	entries ledger.Store,
	invoices InvoiceStore,
	tenants tenant.Store,
	tx *txn.Coordinator,
	providerTimeout time.Duration,
	maxAmount decimal.Decimal,
) *Service {
	return &Service{
		providers:       providers,
		guard:           guard,
		entries:         entries,
		invoices:        invoices,
		tenants:         tenants,
		tx:              tx,
		breaker:         circuitbreaker.New(5, 30*time.Second),
		providerTimeout: providerTimeout,
		maxAmount:       maxAmount,
	}
}

// initiationKey scopes the caller-supplied idempotency key per tenant.
func initiationKey(tenantID, key string) string {
	return "pay:" + tenantID + ":" + key
}

// ProcessPayment initiates a payment. Retried calls with the same tenant and
// idempotency key return the original result without a second provider call.
func (s *Service) ProcessPayment(ctx context.Context, req InitiateRequest) (*Result, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", provider.ErrRejected)
	}

	if _, err := tenant.Validate(ctx, s.tenants, req.TenantID); err != nil {
		return nil, err
	}

	amount, err := money.ParsePositive(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: amount %q: %w", req.TenantID, req.Amount, err)
	}
	if s.maxAmount.IsPositive() && amount.Cmp(s.maxAmount) > 0 {
		return nil, fmt.Errorf("tenant %s: %w", req.TenantID, ErrAmountTooLarge)
	}

	prov, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	key := initiationKey(req.TenantID, req.IdempotencyKey)
	admission, err := s.guard.Begin(ctx, key, req.TenantID, idempotency.OpPaymentInitiation)
	if err != nil {
		return nil, err
	}
	if !admission.Fresh {
		return s.replay(ctx, req.TenantID, admission.Existing)
	}

	invoice, err := s.createInvoice(ctx, prov, req, amount)
	if err != nil {
		// FAILED so a client retry with the same key executes fresh instead
		// of replaying this failure. Retrying here would risk a duplicate
		// invoice; backoff belongs to the caller.
		if failErr := s.guard.Fail(ctx, key, err.Error()); failErr != nil {
			logging.L(ctx).Error("failed to mark idempotency record",
				"key", key, "error", failErr)
		}
		metrics.PaymentsInitiatedTotal.WithLabelValues(string(req.Provider), "provider_error").Inc()
		return nil, fmt.Errorf("tenant %s: create invoice: %w", req.TenantID, err)
	}

	now := time.Now()
	entry := &ledger.Entry{
		ID:                idgen.Sortable("le_"),
		TenantID:          req.TenantID,
		ToAccountID:       req.ToAccountID,
		Amount:            amount,
		SettledAmount:     decimal.Zero,
		Type:              ledger.TypePayment,
		Status:            ledger.StatusOpen,
		Provider:          req.Provider,
		ExternalInvoiceID: invoice.ExternalID,
		IdempotencyKey:    req.IdempotencyKey,
		CreatedBy:         req.CreatedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.entries.Create(ctx, entry); err != nil {
			return err
		}
		if err := s.invoices.Create(ctx, newInvoiceRecord(req.TenantID, entry.ID, invoice)); err != nil {
			return err
		}
		return s.guard.Complete(ctx, key, entry.ID)
	})
	if err != nil {
		// The invoice may now exist at the provider with no ledger entry.
		// The orphan surfaces on its first webhook; here we only make sure
		// a retry is not blocked.
		if failErr := s.guard.Fail(ctx, key, "commit failed: "+err.Error()); failErr != nil {
			logging.L(ctx).Error("failed to mark idempotency record after commit failure",
				"key", key, "error", failErr)
		}
		metrics.PaymentsInitiatedTotal.WithLabelValues(string(req.Provider), "commit_error").Inc()
		return nil, fmt.Errorf("tenant %s: book ledger entry for invoice %s: %w",
			req.TenantID, invoice.ExternalID, err)
	}

	metrics.PaymentsInitiatedTotal.WithLabelValues(string(req.Provider), "ok").Inc()
	logging.L(ctx).Info("payment initiated",
		"tenant_id", req.TenantID,
		"entry_id", entry.ID,
		"provider", req.Provider,
		"external_invoice_id", invoice.ExternalID,
		"amount", money.Format(amount),
	)

	return &Result{Invoice: invoice, Entry: entry}, nil
}

// createInvoice calls the provider under its own timeout and circuit
// breaker. No in-process lock is held across this call.
func (s *Service) createInvoice(ctx context.Context, prov provider.Provider, req InitiateRequest, amount decimal.Decimal) (*provider.Invoice, error) {
	key := string(req.Provider)
	if !s.breaker.Allow(key) {
		return nil, fmt.Errorf("%w: circuit open for %s", provider.ErrUnavailable, key)
	}

	ctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	invoice, err := prov.CreateInvoice(ctx, provider.CreateInvoiceRequest{
		TenantID:    req.TenantID,
		Amount:      amount,
		Method:      req.Method,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	// Only transient gateway failures count against the circuit. A
	// rejection is the gateway answering normally.
	switch {
	case err == nil:
		s.breaker.RecordSuccess(key)
	case errors.Is(err, provider.ErrUnavailable):
		s.breaker.RecordFailure(key)
	}
	return invoice, err
}

// replay rebuilds the original response from the persisted entry and invoice.
func (s *Service) replay(ctx context.Context, tenantID string, rec *idempotency.Record) (*Result, error) {
	entry, err := s.entries.Get(ctx, tenantID, rec.ResultRef)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: replay of %s: %w", tenantID, rec.Key, err)
	}
	invoice, err := s.invoices.GetByEntry(ctx, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: replay of %s: %w", tenantID, rec.Key, err)
	}

	metrics.PaymentsInitiatedTotal.WithLabelValues(string(entry.Provider), "replay").Inc()
	return &Result{Invoice: invoice.View(), Entry: entry}, nil
}

// GetPayment returns one entry with its invoice.
func (s *Service) GetPayment(ctx context.Context, tenantID, entryID string) (*Result, error) {
	entry, err := s.entries.Get(ctx, tenantID, entryID)
	if err != nil {
		return nil, err
	}
	invoice, err := s.invoices.GetByEntry(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	return &Result{Invoice: invoice.View(), Entry: entry}, nil
}

// LedgerPage is one page of a tenant's ledger, newest first.
type LedgerPage struct {
	Entries    []*ledger.Entry `json:"entries"`
	NextCursor string          `json:"nextCursor,omitempty"`
	HasMore    bool            `json:"hasMore"`
}

// ListLedger returns a page of a tenant's entries. An empty cursor starts
// from the newest entry.
func (s *Service) ListLedger(ctx context.Context, tenantID, cursor string, limit int) (*LedgerPage, error) {
	if limit <= 0 {
		limit = 50
	}
	afterID, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}

	// Fetch one extra row to learn whether another page exists.
	entries, err := s.entries.ListByTenant(ctx, tenantID, afterID, limit+1)
	if err != nil {
		return nil, err
	}
	page, next, hasMore := pagination.Page(entries, limit, func(e *ledger.Entry) string { return e.ID })
	return &LedgerPage{Entries: page, NextCursor: next, HasMore: hasMore}, nil
}
