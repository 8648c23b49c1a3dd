// Package webhooks reconciles inbound provider notifications into ledger
// state changes, exactly once.
//
// Deliveries are untrusted: the signature is verified before anything is
// recorded, the (provider, eventId) pair is admitted through the idempotency
// guard, and events for the same invoice are serialized while different
// invoices proceed in parallel. A replayed delivery is acknowledged with the
// entry's current status and mutates nothing.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vlourenco/pagera/internal/idempotency"
	"github.com/vlourenco/pagera/internal/ledger"
	"github.com/vlourenco/pagera/internal/logging"
	"github.com/vlourenco/pagera/internal/metrics"
	"github.com/vlourenco/pagera/internal/money"
	"github.com/vlourenco/pagera/internal/provider"
	"github.com/vlourenco/pagera/internal/retry"
	"github.com/vlourenco/pagera/internal/syncutil"
	"github.com/vlourenco/pagera/internal/txn"
)

// conflictAttempts bounds how often a transition is recomputed when a
// concurrent writer wins the version check.
const conflictAttempts = 3

// Summary reports the outcome of one webhook delivery. Status is the
// post-transition status even when the delivery was a no-op replay, so
// callers can tell "already settled" from "error".
type Summary struct {
	ExternalInvoiceID string        `json:"externalInvoiceId"`
	TransactionType   *string       `json:"transactionType"` // null when the provider event carries none
	Status            ledger.Status `json:"status"`
	Amount            string        `json:"amount"`
	Replayed          bool          `json:"replayed,omitempty"`
}

// Result pairs the summary with the mutated entry, when a mutation occurred.
type Result struct {
	Webhook Summary       `json:"webhook"`
	Entry   *ledger.Entry `json:"ledgerEntry,omitempty"`
}

// Reconciler is the webhook reconciliation orchestrator.
type Reconciler struct {
	providers *provider.Registry
	guard     *idempotency.Guard
	entries   ledger.Store
	tx        *txn.Coordinator
	locks     *syncutil.ContextShardedMutex
}

// NewReconciler creates the reconciliation orchestrator.
func NewReconciler(
	providers *provider.Registry,
	guard *idempotency.Guard,
	entries ledger.Store,
	tx *txn.Coordinator,
) *Reconciler {
	return &Reconciler{
		providers: providers,
		guard:     guard,
		entries:   entries,
		tx:        tx,
		locks:     syncutil.NewContextShardedMutex(),
	}
}

// ProcessWebhook verifies, deduplicates, and applies one provider delivery.
func (r *Reconciler) ProcessWebhook(ctx context.Context, tenantID string, kind provider.Kind, payload []byte, headers http.Header, updatedBy string) (*Result, error) {
	prov, err := r.providers.Get(kind)
	if err != nil {
		return nil, err
	}

	// Fail closed before anything is recorded: an unauthenticated payload
	// must not be able to pollute the idempotency ledger.
	if err := prov.VerifyWebhook(payload, headers); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(string(kind), "invalid_signature").Inc()
		return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}

	event, err := prov.DecodeEvent(payload)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(string(kind), "malformed").Inc()
		return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}

	key := idempotency.WebhookKey(string(kind), event.EventID)
	admission, err := r.guard.Begin(ctx, key, tenantID, idempotency.OpWebhookEvent)
	if err != nil {
		return nil, annotate(err, tenantID, event)
	}
	if !admission.Fresh {
		return r.replay(ctx, tenantID, prov, event)
	}

	update, err := prov.MapEvent(event)
	if err != nil {
		// Permanent: record the failure so a corrected redelivery (same
		// event ID, fixed payload) executes fresh.
		r.failRecord(ctx, key, err)
		metrics.WebhookEventsTotal.WithLabelValues(string(kind), "malformed").Inc()
		return nil, annotate(err, tenantID, event)
	}

	// Serialize events per invoice. Deliveries for other invoices proceed
	// in parallel on other keys.
	unlock, err := r.locks.LockContext(ctx, string(kind)+"|"+event.ExternalInvoiceID)
	if err != nil {
		r.failRecord(ctx, key, err)
		return nil, annotate(err, tenantID, event)
	}
	defer unlock()

	result, err := r.apply(ctx, tenantID, key, event, update, updatedBy)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(string(kind), classify(err)).Inc()
		return nil, annotate(err, tenantID, event)
	}

	metrics.WebhookEventsTotal.WithLabelValues(string(kind), "ok").Inc()
	return result, nil
}

// apply computes and persists the transition. On a version conflict the
// computation is retried against freshly read state rather than overwriting.
func (r *Reconciler) apply(ctx context.Context, tenantID, key string, event *provider.Event, update provider.StatusUpdate, updatedBy string) (*Result, error) {
	var result *Result

	err := retry.Do(ctx, conflictAttempts, 10*time.Millisecond, func() error {
		entry, err := r.entries.GetByExternalInvoice(ctx, event.Provider, event.ExternalInvoiceID)
		if err != nil {
			if errors.Is(err, ledger.ErrEntryNotFound) {
				// Initiation committed the invoice but not the entry, or the
				// invoice belongs to someone else. Operator territory.
				r.failRecord(ctx, key, ledger.ErrOrphanInvoice)
				metrics.OrphanInvoicesTotal.WithLabelValues(string(event.Provider)).Inc()
				return retry.Permanent(fmt.Errorf("%w: invoice %s", ledger.ErrOrphanInvoice, event.ExternalInvoiceID))
			}
			r.failRecord(ctx, key, err)
			return retry.Permanent(err)
		}

		// Running-total settlements (Stripe's amount_received) are resolved
		// to a delta against the freshly read entry, under the invoice lock.
		settled := update.SettledAmount
		if update.Cumulative && update.Kind == provider.EventSettlement && !entry.IsTerminal() {
			settled = update.SettledAmount.Sub(entry.SettledAmount)
			if !settled.IsPositive() {
				// The reported total is already on the books: a stale or
				// duplicate report, acknowledged without a transition.
				if err := r.guard.Complete(ctx, key, entry.ID); err != nil {
					return retry.Permanent(err)
				}
				logging.L(ctx).Info("webhook settlement total already applied",
					"tenant_id", tenantID,
					"entry_id", entry.ID,
					"event_id", event.EventID,
					"status", entry.Status,
					"reported_total", money.Format(update.SettledAmount),
				)
				result = &Result{Webhook: summarize(entry, update.TransactionType)}
				return nil
			}
		}

		transition, err := ledger.NextState(entry, update.Kind, settled)
		if err != nil {
			if errors.Is(err, ledger.ErrOverpayment) {
				// Surfaced, never clamped. Ledger stays as it was.
				r.failRecord(ctx, key, err)
				metrics.OverpaymentsTotal.WithLabelValues(string(event.Provider)).Inc()
				return retry.Permanent(fmt.Errorf("invoice %s: %w", event.ExternalInvoiceID, err))
			}
			r.failRecord(ctx, key, err)
			return retry.Permanent(err)
		}

		if transition.NoOp {
			// Terminal replay: acknowledge, log, change nothing.
			if err := r.guard.Complete(ctx, key, entry.ID); err != nil {
				return retry.Permanent(err)
			}
			logging.L(ctx).Info("webhook event ignored on terminal entry",
				"tenant_id", tenantID,
				"entry_id", entry.ID,
				"event_id", event.EventID,
				"status", entry.Status,
			)
			result = &Result{Webhook: summarize(entry, update.TransactionType)}
			return nil
		}

		entry.Status = transition.Next
		entry.SettledAmount = transition.SettledAmount
		entry.UpdatedBy = updatedBy

		err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := r.entries.UpdateSettlement(ctx, entry); err != nil {
				return err
			}
			return r.guard.Complete(ctx, key, entry.ID)
		})
		if err != nil {
			if errors.Is(err, ledger.ErrVersionConflict) {
				// A concurrent delivery won; recompute against fresh state.
				return err
			}
			r.failRecord(ctx, key, err)
			return retry.Permanent(err)
		}

		metrics.LedgerTransitionsTotal.WithLabelValues(string(transition.Next)).Inc()
		logging.L(ctx).Info("ledger entry reconciled",
			"tenant_id", tenantID,
			"entry_id", entry.ID,
			"event_id", event.EventID,
			"status", entry.Status,
			"settled_amount", money.Format(entry.SettledAmount),
		)
		result = &Result{Webhook: summarize(entry, update.TransactionType), Entry: entry}
		return nil
	})
	if err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			// Conflict budget exhausted. Release the key so the provider's
			// redelivery executes fresh instead of waiting out IN_PROGRESS.
			r.failRecord(ctx, key, err)
		}
		return nil, err
	}
	return result, nil
}

// replay answers a deduplicated redelivery with the current post-transition
// state. No mutation is performed.
func (r *Reconciler) replay(ctx context.Context, tenantID string, prov provider.Provider, event *provider.Event) (*Result, error) {
	entry, err := r.entries.GetByExternalInvoice(ctx, event.Provider, event.ExternalInvoiceID)
	if err != nil {
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return nil, fmt.Errorf("%w: invoice %s", ledger.ErrOrphanInvoice, event.ExternalInvoiceID)
		}
		return nil, annotate(err, tenantID, event)
	}

	txType := ""
	if update, err := prov.MapEvent(event); err == nil {
		txType = update.TransactionType
	}

	metrics.WebhookReplaysTotal.WithLabelValues(string(event.Provider)).Inc()
	logging.L(ctx).Info("webhook replay acknowledged",
		"tenant_id", tenantID,
		"entry_id", entry.ID,
		"event_id", event.EventID,
		"status", entry.Status,
	)

	summary := summarize(entry, txType)
	summary.Replayed = true
	return &Result{Webhook: summary}, nil
}

func (r *Reconciler) failRecord(ctx context.Context, key string, cause error) {
	if err := r.guard.Fail(ctx, key, cause.Error()); err != nil {
		logging.L(ctx).Error("failed to mark webhook idempotency record",
			"key", key, "error", err)
	}
}

func summarize(entry *ledger.Entry, txType string) Summary {
	s := Summary{
		ExternalInvoiceID: entry.ExternalInvoiceID,
		Status:            entry.Status,
		Amount:            money.Format(entry.SettledAmount),
	}
	if txType != "" {
		s.TransactionType = &txType
	}
	return s
}

func annotate(err error, tenantID string, event *provider.Event) error {
	return fmt.Errorf("tenant %s: event %s invoice %s: %w",
		tenantID, event.EventID, event.ExternalInvoiceID, err)
}

func classify(err error) string {
	switch {
	case errors.Is(err, ledger.ErrOrphanInvoice):
		return "orphan_invoice"
	case errors.Is(err, ledger.ErrOverpayment):
		return "overpayment"
	case errors.Is(err, ledger.ErrVersionConflict):
		return "conflict"
	default:
		return "error"
	}
}
