package pagination

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	encoded := Encode("le_0194f2a1b2c3")
	assert.NotEmpty(t, encoded)

	id, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "le_0194f2a1b2c3", id)
}

func TestDecode_Empty(t *testing.T) {
	id, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestDecode_Invalid(t *testing.T) {
	for name, cursor := range map[string]string{
		"not base64":    "not-base64!!!",
		"no separator":  base64.URLEncoding.EncodeToString([]byte("v1le_1")),
		"wrong version": base64.URLEncoding.EncodeToString([]byte("v2|le_1")),
		"empty id":      base64.URLEncoding.EncodeToString([]byte("v1|")),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(cursor)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestPage(t *testing.T) {
	idOf := func(s string) string { return s }

	t.Run("full page with more", func(t *testing.T) {
		page, next, hasMore := Page([]string{"le_3", "le_2", "le_1"}, 2, idOf)
		assert.Equal(t, []string{"le_3", "le_2"}, page)
		assert.True(t, hasMore)

		id, err := Decode(next)
		require.NoError(t, err)
		assert.Equal(t, "le_2", id)
	})

	t.Run("short fetch is the last page", func(t *testing.T) {
		page, next, hasMore := Page([]string{"le_1"}, 2, idOf)
		assert.Equal(t, []string{"le_1"}, page)
		assert.Empty(t, next)
		assert.False(t, hasMore)
	})

	t.Run("exact fit", func(t *testing.T) {
		page, next, hasMore := Page([]string{"le_2", "le_1"}, 2, idOf)
		assert.Len(t, page, 2)
		assert.Empty(t, next)
		assert.False(t, hasMore)
	})
}
