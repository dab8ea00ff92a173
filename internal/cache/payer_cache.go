// Package cache holds in-memory caches scoped to one computation run.
package cache

import (
	"github.com/smallbiznis/poolbilling/internal/external"
)

// PayerDataCache maps a payer external id to the payer data resolved during
// one run. It is created per run and handed explicitly to the line builder.
type PayerDataCache struct {
	items Cache[string, external.PayerData]
}

func NewPayerDataCache() *PayerDataCache {
	return &PayerDataCache{items: NewTTLCache[string, external.PayerData]()}
}

// NewPayerDataCacheWith wraps an existing store, e.g. a NoopCache to disable
// caching.
func NewPayerDataCacheWith(items Cache[string, external.PayerData]) *PayerDataCache {
	return &PayerDataCache{items: items}
}

func (c *PayerDataCache) Get(payerExternalID string) (external.PayerData, bool) {
	if c == nil || payerExternalID == "" {
		return external.PayerData{}, false
	}
	return c.items.Get(payerExternalID)
}

func (c *PayerDataCache) Set(payerExternalID string, data external.PayerData) {
	if c == nil || payerExternalID == "" {
		return
	}
	c.items.Set(payerExternalID, data, 0)
}

// Seed stores data only when the payer is not cached yet.
func (c *PayerDataCache) Seed(payerExternalID string, data external.PayerData) {
	if _, ok := c.Get(payerExternalID); ok {
		return
	}
	c.Set(payerExternalID, data)
}

func (c *PayerDataCache) Len() int {
	if c == nil {
		return 0
	}
	return c.items.Len()
}
