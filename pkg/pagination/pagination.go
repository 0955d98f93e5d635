// Package pagination implements keyset cursors over (created_at, id), the
// ordering every admin listing uses.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Params holds cursor pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor points at the last row of the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// LimitWithBuffer fetches one extra row so a next page can be detected.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// EncodeCursor renders a URL-safe cursor that can go straight into ?cursor=.
func EncodeCursor(cursor Cursor) string {
	payload := cursor.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + cursor.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// ParseCursor returns nil for an empty cursor. Every malformed cursor wraps
// ErrInvalidCursor.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	at, rawID, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, fmt.Errorf("%w: missing separator", ErrInvalidCursor)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrInvalidCursor, err)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", ErrInvalidCursor, err)
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}

// Trim cuts rows fetched with LimitWithBuffer down to one page and returns
// the cursor of the next page, or "" on the last one.
func Trim[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, string) {
	n := NormalizeLimit(limit)
	if len(rows) <= n {
		return rows, ""
	}
	page := rows[:n]
	return page, EncodeCursor(cursorOf(page[n-1]))
}
