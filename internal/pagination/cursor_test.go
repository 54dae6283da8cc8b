package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func TestEncodeDecode(t *testing.T) {
	cursor, err := Decode(Encode(t0, "call-42"))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, t0, cursor.CreatedAt)
	assert.Equal(t, "call-42", cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	for _, in := range []string{"not-base64!!!", "bm9waXBl" /* "nopipe" */, "MTIzfA==" /* "123|" */} {
		_, err := Decode(in)
		assert.ErrorIs(t, err, ErrInvalidCursor, "input %q", in)
	}
}

func TestCursorAfter(t *testing.T) {
	c := &Cursor{CreatedAt: t0, ID: "call-m"}

	assert.True(t, c.After(t0.Add(-time.Second), "call-z"))
	assert.False(t, c.After(t0.Add(time.Second), "call-a"))
	assert.True(t, c.After(t0, "call-a"))
	assert.False(t, c.After(t0, "call-m"))
	assert.False(t, c.After(t0, "call-z"))

	var none *Cursor
	assert.True(t, none.After(t0, "anything"))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxLimit, ClampLimit(5000))
}

func TestComputePage(t *testing.T) {
	key := func(s string) (time.Time, string) { return t0, s }

	items, cursor, more := ComputePage([]string{"a", "b", "c"}, 3, key)
	assert.Len(t, items, 3)
	assert.Empty(t, cursor)
	assert.False(t, more)

	items, cursor, more = ComputePage([]string{"d", "c", "b", "a"}, 3, key)
	assert.Equal(t, []string{"d", "c", "b"}, items)
	assert.True(t, more)

	c, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)
}
