package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSelectPricing(t *testing.T) {
	pricings := []Pricing{
		{Slug: "flat", DateStart: day(1, 1), DateEnd: day(12, 31), FlatFeeSchedule: true},
		{Slug: "summer", DateStart: day(7, 1), DateEnd: day(9, 1)},
		{Slug: "autumn", DateStart: day(9, 1), DateEnd: day(12, 1)},
	}

	cases := []struct {
		date time.Time
		want string
		ok   bool
	}{
		{date: day(8, 31), want: "summer", ok: true},
		{date: day(9, 1), want: "autumn", ok: true},
		{date: day(11, 30), want: "autumn", ok: true},
		{date: day(12, 1), ok: false},
		{date: day(3, 1), ok: false},
	}
	for _, tc := range cases {
		got, ok := SelectPricing(pricings, tc.date)
		assert.Equal(t, tc.ok, ok, tc.date)
		assert.Equal(t, tc.want, got.Slug, tc.date)
	}
}

func TestCheckTypesLookup(t *testing.T) {
	index := NewCheckTypes([]CheckType{
		{Slug: "sick", GroupSlug: "absences", Kind: CheckTypeKindAbsence, Label: "Sick"},
		{Slug: "late", GroupSlug: "presences", Kind: CheckTypeKindPresence, Label: "Late pick-up"},
	})

	got, ok := index.Lookup("sick", "absences", "absence")
	assert.True(t, ok)
	assert.Equal(t, "Sick", got.Label)

	_, ok = index.Lookup("sick", "absences", "presence")
	assert.False(t, ok)

	_, ok = index.Lookup("", "", "presence")
	assert.False(t, ok)
}
