package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNumber(t *testing.T) {
	at := time.Date(2024, 9, 30, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		template string
		regie    int
		seq      int64
		want     string
	}{
		{name: "invoice default", template: DefaultInvoiceFormat, regie: 3, seq: 42, want: "F03-24-09-0000042"},
		{name: "credit default", template: DefaultCreditFormat, regie: 12, seq: 1, want: "A12-24-09-0000001"},
		{name: "plain tokens", template: "{REGIE}/{YYYY}{MM}{DD}/{SEQ}", regie: 7, seq: 15, want: "7/20240930/15"},
		{name: "padding shorter than value", template: "X{SEQ2}", regie: 1, seq: 1234, want: "X1234"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FormatNumber(tc.template, at, tc.regie, tc.seq)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatNumberErrors(t *testing.T) {
	at := time.Now()

	_, err := FormatNumber("", at, 1, 1)
	assert.Error(t, err)

	_, err = FormatNumber("F{SEQ}", at, 1, 0)
	assert.Error(t, err)

	_, err = FormatNumber("F{NUMBER}", at, 1, 1)
	assert.Error(t, err)

	assert.Error(t, Validate("F{SEQ}-{foo}"))
	assert.NoError(t, Validate(DefaultRefundFormat))
}

func TestCounterName(t *testing.T) {
	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	name, err := CounterName("", at)
	require.NoError(t, err)
	assert.Equal(t, "25", name)

	name, err = CounterName("{YYYY}-{MM}", at)
	require.NoError(t, err)
	assert.Equal(t, "2025-01", name)

	_, err = CounterName("{SEQ}", at)
	assert.Error(t, err)
}
