package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse("150.00")
	require.NoError(t, err)
	assert.Equal(t, "150.00", Format(d))

	d, err = Parse("0")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	for _, bad := range []string{"", "abc", "-10", "10,50", "1.5e3", " 10"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", bad)
	}
}

func TestParsePositive(t *testing.T) {
	d, err := ParsePositive("0.01")
	require.NoError(t, err)
	assert.Equal(t, "0.01", Format(d))

	_, err = ParsePositive("0")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParsePositive("0.00")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFromCents(t *testing.T) {
	assert.Equal(t, "150.00", Format(FromCents(15000)))
	assert.Equal(t, "0.01", Format(FromCents(1)))
	assert.Equal(t, "0.00", Format(FromCents(0)))
}

func TestFormatNormalizes(t *testing.T) {
	assert.Equal(t, "10.50", Format(decimal.RequireFromString("10.5")))
	assert.Equal(t, "10.00", Format(decimal.RequireFromString("10")))
}
