package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	c, err := Decode(Encode(ts, "sar_abc|def"))
	require.NoError(t, err)
	assert.True(t, c.CreatedAt.Equal(ts))
	assert.Equal(t, "sar_abc|def", c.ID)
}

func TestDecode_Invalid(t *testing.T) {
	c, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, c)

	for _, bad := range []string{"!!!", "bm9waXBl", Encode(time.Now(), "")} {
		_, err := Decode(bad)
		assert.Error(t, err, bad)
	}
}

func TestCursor_Before(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &Cursor{CreatedAt: ts, ID: "m"}

	assert.True(t, c.Before(ts.Add(-time.Second), "z"))
	assert.False(t, c.Before(ts.Add(time.Second), "a"))
	assert.True(t, c.Before(ts, "a"))
	assert.False(t, c.Before(ts, "m"))

	var none *Cursor
	assert.True(t, none.Before(ts, "anything"))
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ParseLimit(""))
	assert.Equal(t, DefaultLimit, ParseLimit("-3"))
	assert.Equal(t, 10, ParseLimit("10"))
	assert.Equal(t, MaxLimit, ParseLimit("100000"))
}

func TestComputePage(t *testing.T) {
	type item struct {
		at time.Time
		id string
	}
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	items := []item{{base, "c"}, {base.Add(-time.Second), "b"}, {base.Add(-2 * time.Second), "a"}}
	key := func(i item) (time.Time, string) { return i.at, i.id }

	page, next, more := ComputePage(items, 2, key)
	assert.Len(t, page, 2)
	assert.True(t, more)
	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)

	page, next, more = ComputePage(items, 3, key)
	assert.Len(t, page, 3)
	assert.False(t, more)
	assert.Empty(t, next)
}
