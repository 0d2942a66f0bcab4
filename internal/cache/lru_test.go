package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_GetPut(t *testing.T) {
	c := NewLRU[string, []byte](10, time.Minute)

	c.Put("0xbc4c", []byte(`{"attributes":[]}`))

	v, ok := c.Get("0xbc4c")
	require.True(t, ok)
	assert.JSONEq(t, `{"attributes":[]}`, string(v))

	_, ok = c.Get("0x0000")
	assert.False(t, ok)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int](3, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Get("a")
	c.Put("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 3, c.Len())
}

func TestLRU_TTL(t *testing.T) {
	c := NewLRU[string, int](10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFn = func() time.Time { return now }

	c.Put("a", 1)
	_, ok := c.Get("a")
	require.True(t, ok)

	now = now.Add(61 * time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entries are dropped on read")
}

func TestLRU_PutRefreshesValueAndTTL(t *testing.T) {
	c := NewLRU[string, int](10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFn = func() time.Time { return now }

	c.Put("a", 1)
	now = now.Add(50 * time.Second)
	c.Put("a", 2)
	now = now.Add(50 * time.Second)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_ZeroCapacityHoldsOne(t *testing.T) {
	c := NewLRU[string, int](0, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("b")
	assert.True(t, ok)
}
