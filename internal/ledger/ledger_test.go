package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlourenco/pagera/internal/provider"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func openEntry(amount, settled string, status Status) *Entry {
	return &Entry{
		ID:            "le_1",
		TenantID:      "tn_1",
		Amount:        dec(amount),
		SettledAmount: dec(settled),
		Status:        status,
	}
}

func TestNextState_Settlements(t *testing.T) {
	tests := []struct {
		name        string
		entry       *Entry
		settled     string
		wantStatus  Status
		wantSettled string
	}{
		{"full settlement pays", openEntry("100.00", "0", StatusOpen), "100.00", StatusPaid, "100.00"},
		{"under settlement goes partial", openEntry("100.00", "0", StatusOpen), "40.00", StatusPartial, "40.00"},
		{"partial completes to paid", openEntry("100.00", "40.00", StatusPartial), "60.00", StatusPaid, "100.00"},
		{"partial stays partial", openEntry("100.00", "40.00", StatusPartial), "30.00", StatusPartial, "70.00"},
		{"settlement with cents", openEntry("99.99", "0", StatusOpen), "99.99", StatusPaid, "99.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NextState(tt.entry, provider.EventSettlement, dec(tt.settled))
			require.NoError(t, err)
			assert.False(t, tr.NoOp)
			assert.Equal(t, tt.wantStatus, tr.Next)
			assert.True(t, tr.SettledAmount.Equal(dec(tt.wantSettled)),
				"settled = %s, want %s", tr.SettledAmount, tt.wantSettled)
		})
	}
}

func TestNextState_Overpayment(t *testing.T) {
	// One cent over, from OPEN and from PARTIAL.
	_, err := NextState(openEntry("100.00", "0", StatusOpen), provider.EventSettlement, dec("100.01"))
	assert.ErrorIs(t, err, ErrOverpayment)

	e := openEntry("100.00", "60.00", StatusPartial)
	_, err = NextState(e, provider.EventSettlement, dec("40.01"))
	assert.ErrorIs(t, err, ErrOverpayment)

	// The entry itself is untouched.
	assert.Equal(t, StatusPartial, e.Status)
	assert.True(t, e.SettledAmount.Equal(dec("60.00")))
}

func TestNextState_NonPositiveSettlement(t *testing.T) {
	_, err := NextState(openEntry("100.00", "0", StatusOpen), provider.EventSettlement, dec("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NextState(openEntry("100.00", "0", StatusOpen), provider.EventSettlement, dec("-5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNextState_CancelAndExpire(t *testing.T) {
	tr, err := NextState(openEntry("100.00", "0", StatusOpen), provider.EventCancellation, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, tr.Next)
	assert.False(t, tr.NoOp)

	tr, err = NextState(openEntry("100.00", "0", StatusOpen), provider.EventExpiration, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, tr.Next)
}

func TestNextState_CancelOnPartialIsNoOp(t *testing.T) {
	// Money already moved; a void notification cannot take it back.
	for _, kind := range []provider.EventKind{provider.EventCancellation, provider.EventExpiration} {
		tr, err := NextState(openEntry("100.00", "40.00", StatusPartial), kind, decimal.Zero)
		require.NoError(t, err)
		assert.True(t, tr.NoOp)
		assert.Equal(t, StatusPartial, tr.Next)
		assert.True(t, tr.SettledAmount.Equal(dec("40.00")))
	}
}

func TestNextState_TerminalIsNoOp(t *testing.T) {
	for _, status := range []Status{StatusPaid, StatusCanceled, StatusExpired} {
		for _, kind := range []provider.EventKind{
			provider.EventSettlement, provider.EventCancellation, provider.EventExpiration,
		} {
			tr, err := NextState(openEntry("100.00", "100.00", status), kind, dec("100.00"))
			require.NoError(t, err, "status %s kind %s", status, kind)
			assert.True(t, tr.NoOp)
			assert.Equal(t, status, tr.Next)
		}
	}
}

func TestNextState_UnknownEventKind(t *testing.T) {
	_, err := NextState(openEntry("100.00", "0", StatusOpen), provider.EventKind("bogus"), dec("1"))
	assert.ErrorIs(t, err, provider.ErrMalformedEvent)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, openEntry("1", "0", StatusOpen).IsTerminal())
	assert.False(t, openEntry("1", "0.5", StatusPartial).IsTerminal())
	assert.True(t, openEntry("1", "1", StatusPaid).IsTerminal())
	assert.True(t, openEntry("1", "0", StatusCanceled).IsTerminal())
	assert.True(t, openEntry("1", "0", StatusExpired).IsTerminal())
}
