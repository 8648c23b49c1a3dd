// Package ledger is the authoritative record of monetary movements.
//
// An entry is born OPEN when a payment is initiated and only the webhook
// reconciliation path moves it forward. Terminal states are final facts:
// entries are never deleted and never leave PAID, CANCELED, or EXPIRED.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vlourenco/pagera/internal/provider"
)

var (
	ErrEntryNotFound    = errors.New("ledger: entry not found")
	ErrInvalidAmount    = errors.New("ledger: invalid amount")
	ErrDuplicateKey     = errors.New("ledger: idempotency key already used")
	ErrDuplicateInvoice = errors.New("ledger: external invoice already booked")
	ErrOverpayment      = errors.New("ledger: cumulative settlement exceeds entry amount")
	ErrOrphanInvoice    = errors.New("ledger: no entry for external invoice")
	ErrVersionConflict  = errors.New("ledger: concurrent update conflict")
)

// Status is the settlement state of an entry.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusPaid     Status = "PAID"
	StatusPartial  Status = "PARTIAL"
	StatusCanceled Status = "CANCELED"
	StatusExpired  Status = "EXPIRED"
)

// TransactionType is the direction of the movement.
type TransactionType string

const (
	TypePayment TransactionType = "PAYMENT"
	TypeRefund  TransactionType = "REFUND"
)

// Entry represents one monetary movement and its settlement state.
type Entry struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenantId"`
	ToAccountID       string          `json:"toAccountId"`
	Amount            decimal.Decimal `json:"amount"`
	SettledAmount     decimal.Decimal `json:"settledAmount"`
	Type              TransactionType `json:"type"`
	Status            Status          `json:"status"`
	Provider          provider.Kind   `json:"provider"`
	ExternalInvoiceID string          `json:"externalInvoiceId"`
	IdempotencyKey    string          `json:"idempotencyKey"`
	CreatedBy         string          `json:"createdBy,omitempty"`
	UpdatedBy         string          `json:"updatedBy,omitempty"`
	Version           int64           `json:"-"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// IsTerminal returns true once no further event may change the entry.
// PARTIAL is not terminal: it may still reach PAID.
func (e *Entry) IsTerminal() bool {
	switch e.Status {
	case StatusPaid, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// Transition is the computed outcome of applying one provider event.
type Transition struct {
	Next          Status
	SettledAmount decimal.Decimal // cumulative settled amount after the event
	NoOp          bool            // terminal replay: acknowledge, change nothing
}

// NextState computes the transition for an event against the current entry
// state. Pure: no side effects, deterministic for the same inputs.
//
//	OPEN    + settlement == amount  -> PAID
//	OPEN    + settlement  < amount  -> PARTIAL
//	OPEN    + cancel / expire       -> CANCELED / EXPIRED
//	PARTIAL + settlement to total   -> PAID
//	PARTIAL + settlement below      -> PARTIAL
//	terminal + anything             -> no-op
//
// A cumulative settlement above the entry amount is ErrOverpayment: surfaced,
// never clamped. Cancel/expire against PARTIAL is a no-op — money already
// moved, the entry cannot be voided.
func NextState(e *Entry, kind provider.EventKind, settled decimal.Decimal) (Transition, error) {
	if e.IsTerminal() {
		return Transition{Next: e.Status, SettledAmount: e.SettledAmount, NoOp: true}, nil
	}

	switch kind {
	case provider.EventSettlement:
		if !settled.IsPositive() {
			return Transition{}, ErrInvalidAmount
		}
		cumulative := e.SettledAmount.Add(settled)
		switch cumulative.Cmp(e.Amount) {
		case 1:
			return Transition{}, ErrOverpayment
		case 0:
			return Transition{Next: StatusPaid, SettledAmount: cumulative}, nil
		default:
			return Transition{Next: StatusPartial, SettledAmount: cumulative}, nil
		}

	case provider.EventCancellation, provider.EventExpiration:
		if e.Status == StatusPartial {
			// Money already moved; the provider cannot void it.
			return Transition{Next: e.Status, SettledAmount: e.SettledAmount, NoOp: true}, nil
		}
		next := StatusCanceled
		if kind == provider.EventExpiration {
			next = StatusExpired
		}
		return Transition{Next: next, SettledAmount: e.SettledAmount}, nil
	}

	return Transition{}, provider.ErrMalformedEvent
}

// Store persists ledger entries.
type Store interface {
	// Create inserts a new entry. ErrDuplicateKey if (tenantId, idempotencyKey)
	// exists, ErrDuplicateInvoice if (provider, externalInvoiceId) exists.
	Create(ctx context.Context, e *Entry) error
	Get(ctx context.Context, tenantID, id string) (*Entry, error)
	GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*Entry, error)
	GetByExternalInvoice(ctx context.Context, p provider.Kind, externalInvoiceID string) (*Entry, error)
	// UpdateSettlement persists status/settledAmount/updatedBy guarded by the
	// entry's version. ErrVersionConflict if another writer got there first.
	UpdateSettlement(ctx context.Context, e *Entry) error
	// ListByTenant returns entries newest first. A non-empty afterID
	// resumes below that entry (keyset pagination on the sortable ID).
	ListByTenant(ctx context.Context, tenantID, afterID string, limit int) ([]*Entry, error)
}
