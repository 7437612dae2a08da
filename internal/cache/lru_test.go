package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRU(t *testing.T) {
	now := time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC)
	c := NewLRU[string](2, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	c.Set("b", "2")
	_, _ = c.Get("a")
	c.Set("c", "3")

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Equal(t, 2, c.Len())

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("c")
	assert.False(t, ok, "expired entries are not returned")
	assert.Zero(t, c.Len())
}
