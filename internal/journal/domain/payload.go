package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Extra keeps the fields of a payload that are not modelled, verbatim.
type Extra map[string]json.RawMessage

func (e Extra) clone() Extra {
	if e == nil {
		return nil
	}
	out := make(Extra, len(e))
	for key, value := range e {
		out[key] = append(json.RawMessage(nil), value...)
	}
	return out
}

// Event is the usage service view of a booked event.
type Event struct {
	Slug          string
	Agenda        string
	PrimaryEvent  string
	Label         string
	StartDatetime string
	Extra         Extra
}

var eventKeys = []string{"slug", "agenda", "primary_event", "label", "start_datetime"}

type eventFields struct {
	Slug          string `json:"slug"`
	Agenda        string `json:"agenda"`
	PrimaryEvent  string `json:"primary_event,omitempty"`
	Label         string `json:"label"`
	StartDatetime string `json:"start_datetime"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return MarshalObject(eventFields{
		Slug:          e.Slug,
		Agenda:        e.Agenda,
		PrimaryEvent:  e.PrimaryEvent,
		Label:         e.Label,
		StartDatetime: e.StartDatetime,
	}, e.Extra)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var fields eventFields
	extra, err := UnmarshalObject(data, &fields, eventKeys)
	if err != nil {
		return err
	}
	*e = Event{
		Slug:          fields.Slug,
		Agenda:        fields.Agenda,
		PrimaryEvent:  fields.PrimaryEvent,
		Label:         fields.Label,
		StartDatetime: fields.StartDatetime,
		Extra:         extra,
	}
	return nil
}

// QualifiedSlug is the stable identity of the billed fact, "agenda@event".
func (e Event) QualifiedSlug() string {
	return e.Agenda + "@" + e.Slug
}

// Start parses StartDatetime, accepting RFC 3339 and naive ISO timestamps.
func (e Event) Start() (time.Time, error) {
	value := strings.TrimSpace(e.StartDatetime)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: start_datetime %q", ErrInvalidPayload, e.StartDatetime)
}

// EventDate is the calendar day of the event start, in the event's own offset.
func (e Event) EventDate() (time.Time, error) {
	start, err := e.Start()
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC), nil
}

// WithPrimaryEventSuffix returns a copy whose primary event carries suffix.
// Events without a primary event are returned unchanged.
func (e Event) WithPrimaryEventSuffix(suffix string) Event {
	out := e
	out.Extra = e.Extra.clone()
	if out.PrimaryEvent != "" {
		out.PrimaryEvent += suffix
	}
	return out
}

// Booking carries the durations of a partial booking, in minutes.
type Booking struct {
	ComputedDuration int
	AdjustedDuration *int
	Extra            Extra
}

var bookingKeys = []string{"computed_duration", "adjusted_duration"}

type bookingFields struct {
	ComputedDuration *int `json:"computed_duration,omitempty"`
	AdjustedDuration *int `json:"adjusted_duration,omitempty"`
}

func (b Booking) MarshalJSON() ([]byte, error) {
	fields := bookingFields{AdjustedDuration: b.AdjustedDuration}
	if b.ComputedDuration != 0 {
		computed := b.ComputedDuration
		fields.ComputedDuration = &computed
	}
	return MarshalObject(fields, b.Extra)
}

func (b *Booking) UnmarshalJSON(data []byte) error {
	var fields bookingFields
	extra, err := UnmarshalObject(data, &fields, bookingKeys)
	if err != nil {
		return err
	}
	*b = Booking{AdjustedDuration: fields.AdjustedDuration, Extra: extra}
	if fields.ComputedDuration != nil {
		b.ComputedDuration = *fields.ComputedDuration
	}
	return nil
}

// HasAdjustedDuration reports whether a booking materialized with a non zero duration.
func (b Booking) HasAdjustedDuration() bool {
	return b.AdjustedDuration != nil && *b.AdjustedDuration != 0
}

// CheckStatus is the check-in state of a user for an event.
type CheckStatus struct {
	Status    string
	CheckType string
	Extra     Extra
}

var checkStatusKeys = []string{"status", "check_type"}

type checkStatusFields struct {
	Status    string  `json:"status"`
	CheckType *string `json:"check_type"`
}

func (c CheckStatus) MarshalJSON() ([]byte, error) {
	fields := checkStatusFields{Status: c.Status}
	if c.CheckType != "" {
		checkType := c.CheckType
		fields.CheckType = &checkType
	}
	return MarshalObject(fields, c.Extra)
}

func (c *CheckStatus) UnmarshalJSON(data []byte) error {
	var fields checkStatusFields
	extra, err := UnmarshalObject(data, &fields, checkStatusKeys)
	if err != nil {
		return err
	}
	*c = CheckStatus{Status: fields.Status, Extra: extra}
	if fields.CheckType != nil {
		c.CheckType = *fields.CheckType
	}
	return nil
}

// NormalPresence is the check status used to price the base rate of an event.
func NormalPresence() CheckStatus {
	return CheckStatus{Status: BookingPresence}
}

// CheckStatusRecord is one entry returned by the usage service.
type CheckStatusRecord struct {
	Event       Event       `json:"event"`
	CheckStatus CheckStatus `json:"check_status"`
	Booking     Booking     `json:"booking"`
}

const (
	BookingPresence  = "presence"
	BookingAbsence   = "absence"
	BookingNotBooked = "not-booked"
	BookingCancelled = "cancelled"
)

// BookingDetails is the pricing service interpretation of a check status.
type BookingDetails struct {
	Status         string
	CheckType      string
	CheckTypeGroup string
	Extra          Extra
}

var bookingDetailsKeys = []string{"status", "check_type", "check_type_group"}

type bookingDetailsFields struct {
	Status         string `json:"status,omitempty"`
	CheckType      string `json:"check_type,omitempty"`
	CheckTypeGroup string `json:"check_type_group,omitempty"`
}

func (d BookingDetails) MarshalJSON() ([]byte, error) {
	return MarshalObject(bookingDetailsFields{
		Status:         d.Status,
		CheckType:      d.CheckType,
		CheckTypeGroup: d.CheckTypeGroup,
	}, d.Extra)
}

func (d *BookingDetails) UnmarshalJSON(data []byte) error {
	var fields bookingDetailsFields
	extra, err := UnmarshalObject(data, &fields, bookingDetailsKeys)
	if err != nil {
		return err
	}
	*d = BookingDetails{
		Status:         fields.Status,
		CheckType:      fields.CheckType,
		CheckTypeGroup: fields.CheckTypeGroup,
		Extra:          extra,
	}
	return nil
}

// PricingData is either a pricing result or an error payload.
type PricingData struct {
	Pricing        *decimal.Decimal
	AccountingCode string
	BookingDetails *BookingDetails
	Error          string
	ErrorDetails   json.RawMessage
	Extra          Extra
}

var pricingDataKeys = []string{"pricing", "accounting_code", "booking_details", "error", "error_details"}

type pricingDataFields struct {
	Pricing        json.RawMessage `json:"pricing,omitempty"`
	AccountingCode string          `json:"accounting_code,omitempty"`
	BookingDetails *BookingDetails `json:"booking_details,omitempty"`
	Error          string          `json:"error,omitempty"`
	ErrorDetails   json.RawMessage `json:"error_details,omitempty"`
}

func (p PricingData) MarshalJSON() ([]byte, error) {
	fields := pricingDataFields{
		AccountingCode: p.AccountingCode,
		BookingDetails: p.BookingDetails,
		Error:          p.Error,
		ErrorDetails:   p.ErrorDetails,
	}
	if p.Pricing != nil {
		fields.Pricing = json.RawMessage(p.Pricing.String())
	}
	return MarshalObject(fields, p.Extra)
}

func (p *PricingData) UnmarshalJSON(data []byte) error {
	var fields pricingDataFields
	extra, err := UnmarshalObject(data, &fields, pricingDataKeys)
	if err != nil {
		return err
	}
	*p = PricingData{
		AccountingCode: fields.AccountingCode,
		BookingDetails: fields.BookingDetails,
		Error:          fields.Error,
		ErrorDetails:   fields.ErrorDetails,
		Extra:          extra,
	}
	if len(fields.Pricing) > 0 && !bytes.Equal(fields.Pricing, []byte("null")) {
		var pricing decimal.Decimal
		if err := pricing.UnmarshalJSON(fields.Pricing); err != nil {
			return fmt.Errorf("%w: pricing: %v", ErrInvalidPayload, err)
		}
		p.Pricing = &pricing
	}
	return nil
}

// Amount is the priced amount, zero when absent.
func (p PricingData) Amount() decimal.Decimal {
	if p.Pricing == nil {
		return decimal.Zero
	}
	return *p.Pricing
}

// Details never returns nil.
func (p PricingData) Details() BookingDetails {
	if p.BookingDetails == nil {
		return BookingDetails{}
	}
	return *p.BookingDetails
}

// ErrorPayload builds the pricing data recorded on a line whose pricing failed.
func ErrorPayload(kind string, details any) PricingData {
	data := PricingData{Error: kind}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			data.ErrorDetails = raw
		}
	}
	return data
}

// MarshalObject encodes the typed fields of a payload merged over its Extra
// bag; typed fields win on key collisions.
func MarshalObject(fields any, extra Extra) ([]byte, error) {
	known, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(extra)+8)
	for key, value := range extra {
		merged[key] = value
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for key, value := range knownMap {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// UnmarshalObject decodes the typed fields and returns the remaining keys.
func UnmarshalObject(data []byte, fields any, keys []string) (Extra, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, nil
	}
	if err := json.Unmarshal(data, fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	for _, key := range keys {
		delete(raw, key)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return Extra(raw), nil
}
