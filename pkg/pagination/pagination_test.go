package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 7, 1, 12, 0, 0, 123456789, time.UTC), ID: uuid.New()}
	encoded := EncodeCursor(in)
	assert.False(t, strings.ContainsAny(encoded, "+/="))

	out, err := ParseCursor(" " + encoded + " ")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	empty, err := ParseCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	cases := []string{
		"%%%",
		enc("no-separator"),
		enc("yesterday|" + uuid.NewString()),
		enc(time.Now().Format(time.RFC3339Nano) + "|batch-1"),
	}
	for _, raw := range cases {
		_, err := ParseCursor(raw)
		assert.True(t, errors.Is(err, ErrInvalidCursor), raw)
	}
}

func TestTrim(t *testing.T) {
	type row struct {
		at time.Time
		id uuid.UUID
	}
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]row, 4)
	for i := range rows {
		rows[i] = row{at: base.Add(-time.Duration(i) * time.Minute), id: uuid.New()}
	}
	cursorOf := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, next := Trim(rows, 3, cursorOf)
	require.Len(t, page, 3)
	c, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, rows[2].id, c.ID)

	page, next = Trim(rows[:3], 3, cursorOf)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, 8, LimitWithBuffer(7))
}
