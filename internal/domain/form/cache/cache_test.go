package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func newCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestDeleteDataIsIdempotent(t *testing.T) {
	c := newCache(t)
	assert.True(t, c.DeleteData(7))
	assert.True(t, c.DeleteData(7))

	c.AddData(7, `{"a":1}`, nil)
	assert.True(t, c.DeleteData(7))
	assert.True(t, c.DeleteData(7))
	assert.False(t, c.IsExist(7))
}

func TestUpdateDoesNotInsert(t *testing.T) {
	c := newCache(t)
	assert.False(t, c.UpdateData(1, "x", nil))
	_, _, ok := c.GetData(1)
	assert.False(t, ok)

	require.True(t, c.AddData(1, "x", nil))
	data, _, ok := c.GetData(1)
	require.True(t, ok)
	assert.Equal(t, "x", data)

	c.AddData(1, "y", nil)
	data, _, ok = c.GetData(1)
	require.True(t, ok)
	assert.Equal(t, "y", data)

	assert.True(t, c.UpdateData(1, "z", nil))
	data, _, _ = c.GetData(1)
	assert.Equal(t, "z", data)
}

func TestGetDataEmptiness(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(c *Cache)
		formID int64
		want   bool
	}{
		{name: "empty cache", setup: func(*Cache) {}, formID: 1},
		{name: "unknown id", setup: func(c *Cache) { c.AddData(2, "d", nil) }, formID: 1},
		{name: "empty entry", setup: func(c *Cache) { c.AddData(1, "", nil) }, formID: 1},
		{name: "text only", setup: func(c *Cache) { c.AddData(1, "d", nil) }, formID: 1, want: true},
		{
			name:   "images only",
			setup:  func(c *Cache) { c.AddData(1, "", map[string][]byte{"logo": pngHeader}) },
			formID: 1,
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCache(t)
			tt.setup(c)
			_, _, ok := c.GetData(tt.formID)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestImagesRoundTripCompressed(t *testing.T) {
	c := newCache(t)
	c.AddData(3, `{"k":"v"}`, map[string][]byte{"logo": pngHeader})

	data, images, ok := c.GetData(3)
	require.True(t, ok)
	assert.Equal(t, `{"k":"v"}`, data)
	assert.Equal(t, pngHeader, images["logo"])

	c.AddData(3, `{"k":"w"}`, nil)
	_, images, _ = c.GetData(3)
	assert.Empty(t, images)
}

func TestLenAndDump(t *testing.T) {
	c := newCache(t)
	c.AddData(2, "ab", nil)
	c.AddData(1, "", map[string][]byte{"logo": pngHeader})
	assert.Equal(t, 2, c.Len())

	dump := c.Dump()
	assert.Contains(t, dump, "FormCache [1]")
	assert.Contains(t, dump, "image [logo] type [image/png]")
	assert.Contains(t, dump, "FormCache [2]\n    data size [2]")
}
