// Package domain holds the activity catalogue consulted by line building:
// agendas, their pricing configurations and check types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Agenda struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	RegieID         snowflake.ID `gorm:"not null;index" json:"regie_id"`
	Slug            string       `gorm:"type:text;not null;uniqueIndex:ux_agendas_slug" json:"slug"`
	Label           string       `gorm:"type:text;not null" json:"label"`
	PartialBookings bool         `gorm:"not null;default:false" json:"partial_bookings"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Agenda) TableName() string { return "agendas" }

// Pricing is valid over [DateStart, DateEnd). Flat fee schedules are never
// used to price individual events.
type Pricing struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Slug            string       `gorm:"type:text;not null;uniqueIndex:ux_pricings_slug" json:"slug"`
	Label           string       `gorm:"type:text;not null" json:"label"`
	DateStart       time.Time    `gorm:"type:date;not null" json:"date_start"`
	DateEnd         time.Time    `gorm:"type:date;not null;check:chk_pricings_dates,date_end > date_start" json:"date_end"`
	FlatFeeSchedule bool         `gorm:"not null;default:false" json:"flat_fee_schedule"`
	Agendas         []Agenda     `gorm:"many2many:pricing_agendas;" json:"agendas,omitempty"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Pricing) TableName() string { return "pricings" }

// Covers reports whether the event date falls in the validity interval.
func (p Pricing) Covers(date time.Time) bool {
	return !p.DateStart.After(date) && p.DateEnd.After(date)
}

// SelectPricing returns the first non flat pricing covering date.
func SelectPricing(pricings []Pricing, date time.Time) (Pricing, bool) {
	for _, pricing := range pricings {
		if pricing.FlatFeeSchedule {
			continue
		}
		if pricing.Covers(date) {
			return pricing, true
		}
	}
	return Pricing{}, false
}

type CheckTypeKind string

const (
	CheckTypeKindPresence CheckTypeKind = "presence"
	CheckTypeKindAbsence  CheckTypeKind = "absence"
)

type CheckType struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	Slug      string        `gorm:"type:text;not null;uniqueIndex:ux_check_types_key" json:"slug"`
	GroupSlug string        `gorm:"type:text;not null;uniqueIndex:ux_check_types_key" json:"group_slug"`
	Kind      CheckTypeKind `gorm:"type:text;not null;uniqueIndex:ux_check_types_key;check:chk_check_types_kind,kind IN ('presence','absence')" json:"kind"`
	Label     string        `gorm:"type:text;not null" json:"label"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (CheckType) TableName() string { return "check_types" }

type CheckTypeKey struct {
	Slug      string
	GroupSlug string
	Kind      string
}

// CheckTypes indexes check types by (slug, group slug, kind).
type CheckTypes map[CheckTypeKey]CheckType

func NewCheckTypes(items []CheckType) CheckTypes {
	index := make(CheckTypes, len(items))
	for _, item := range items {
		index[CheckTypeKey{Slug: item.Slug, GroupSlug: item.GroupSlug, Kind: string(item.Kind)}] = item
	}
	return index
}

func (c CheckTypes) Lookup(slug, groupSlug, kind string) (CheckType, bool) {
	if slug == "" {
		return CheckType{}, false
	}
	item, ok := c[CheckTypeKey{Slug: slug, GroupSlug: groupSlug, Kind: kind}]
	return item, ok
}
