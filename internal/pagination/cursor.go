// Package pagination provides opaque cursors for keyset pagination.
//
// Ledger entry IDs are time-sortable, so a cursor only needs to carry the
// ID of the last entry on the previous page. It is base64-wrapped so
// callers cannot build cursors by hand or depend on their shape.
package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
)

var ErrInvalidCursor = errors.New("pagination: invalid cursor")

const version = "v1"

// Encode wraps the last-seen ID into an opaque cursor.
func Encode(id string) string {
	if id == "" {
		return ""
	}
	return base64.URLEncoding.EncodeToString([]byte(version + "|" + id))
}

// Decode unwraps a cursor into the ID it points at. An empty cursor
// decodes to the empty ID: start from the newest entry.
func Decode(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return "", ErrInvalidCursor
	}
	ver, id, ok := strings.Cut(string(raw), "|")
	if !ok || ver != version || id == "" {
		return "", ErrInvalidCursor
	}
	return id, nil
}

// Page trims a limit+1 fetch down to the page size and computes the cursor
// for the next page. hasMore is false when the fetch came back short.
func Page[T any](items []T, limit int, idOf func(T) string) (page []T, next string, hasMore bool) {
	if limit <= 0 || len(items) <= limit {
		return items, "", false
	}
	page = items[:limit]
	return page, Encode(idOf(page[len(page)-1])), true
}
