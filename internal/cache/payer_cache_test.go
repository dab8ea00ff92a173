package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/poolbilling/internal/external"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCache[string, int]().WithNow(func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestPayerDataCacheSeedKeepsFirstValue(t *testing.T) {
	c := NewPayerDataCache()
	c.Seed("payer:1", external.PayerData{FirstName: "Ada"})
	c.Seed("payer:1", external.PayerData{FirstName: "Grace"})

	data, ok := c.Get("payer:1")
	require.True(t, ok)
	assert.Equal(t, "Ada", data.FirstName)

	c.Set("", external.PayerData{FirstName: "ignored"})
	assert.Equal(t, 1, c.Len())
}

func TestPayerDataCacheNoop(t *testing.T) {
	c := NewPayerDataCacheWith(NoopCache[string, external.PayerData]{})
	c.Set("payer:1", external.PayerData{FirstName: "Ada"})
	_, ok := c.Get("payer:1")
	assert.False(t, ok)
}
