package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBillingConfig(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*BillingConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*BillingConfig) {}},
		{name: "zero batch", mutate: func(c *BillingConfig) { c.Pipeline.PoolBatchSize = 0 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *BillingConfig) { c.Requests.Timeout = 0 }, wantErr: true},
		{name: "negative retries", mutate: func(c *BillingConfig) { c.Requests.MaxRetries = -1 }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultBillingConfig()
			tc.mutate(&cfg)
			err := validateBillingConfig(cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewBillingConfigHolderFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewBillingConfigHolder()
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 100, cfg.Pipeline.PoolBatchSize)
	assert.True(t, cfg.Pipeline.EmptyInvoiceForZeroNet)
	assert.False(t, cfg.Pipeline.AutoPromote)
	assert.Equal(t, 10*time.Second, cfg.Requests.Timeout)
}

func TestNilHolderReturnsDefaults(t *testing.T) {
	var holder *BillingConfigHolder
	assert.Equal(t, DefaultBillingConfig(), holder.Get())
}
