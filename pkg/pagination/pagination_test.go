package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC), ID: uuid.New()}
	out, err := ParseCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	got, err := ParseCursor("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseCursor("%%%")
	assert.Error(t, err)

	_, err = ParseCursor(EncodeCursor(Cursor{}) + "x")
	assert.Error(t, err)
}

func TestBuildPage(t *testing.T) {
	rows := []int{1, 2, 3}
	key := func(i int) Cursor { return Cursor{CreatedAt: time.Unix(int64(i), 0), ID: uuid.Nil} }

	page := BuildPage(rows, 2, key)
	assert.Equal(t, []int{1, 2}, page.Items)
	require.NotEmpty(t, page.NextCursor)
	c, err := ParseCursor(page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.CreatedAt.Unix())

	last := BuildPage(rows, 5, key)
	assert.Len(t, last.Items, 3)
	assert.Empty(t, last.NextCursor)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(1000))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, 8, LimitWithBuffer(7))
}
