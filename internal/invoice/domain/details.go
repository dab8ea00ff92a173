package domain

import (
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
)

// LineDetails describes how an aggregated line was built.
type LineDetails struct {
	Agenda          string
	PrimaryEvent    string
	Status          string
	CheckType       string
	CheckTypeGroup  string
	CheckTypeLabel  string
	Dates           []string
	EventTime       string
	PartialBookings bool
	Extra           journaldomain.Extra
}

var lineDetailsKeys = []string{
	"agenda", "primary_event", "status", "check_type", "check_type_group",
	"check_type_label", "dates", "event_time", "partial_bookings",
}

type lineDetailsFields struct {
	Agenda          string   `json:"agenda,omitempty"`
	PrimaryEvent    string   `json:"primary_event,omitempty"`
	Status          string   `json:"status,omitempty"`
	CheckType       string   `json:"check_type,omitempty"`
	CheckTypeGroup  string   `json:"check_type_group,omitempty"`
	CheckTypeLabel  string   `json:"check_type_label,omitempty"`
	Dates           []string `json:"dates,omitempty"`
	EventTime       string   `json:"event_time,omitempty"`
	PartialBookings bool     `json:"partial_bookings,omitempty"`
}

func (d LineDetails) MarshalJSON() ([]byte, error) {
	return journaldomain.MarshalObject(lineDetailsFields{
		Agenda:          d.Agenda,
		PrimaryEvent:    d.PrimaryEvent,
		Status:          d.Status,
		CheckType:       d.CheckType,
		CheckTypeGroup:  d.CheckTypeGroup,
		CheckTypeLabel:  d.CheckTypeLabel,
		Dates:           d.Dates,
		EventTime:       d.EventTime,
		PartialBookings: d.PartialBookings,
	}, d.Extra)
}

func (d *LineDetails) UnmarshalJSON(data []byte) error {
	var fields lineDetailsFields
	extra, err := journaldomain.UnmarshalObject(data, &fields, lineDetailsKeys)
	if err != nil {
		return err
	}
	*d = LineDetails{
		Agenda:          fields.Agenda,
		PrimaryEvent:    fields.PrimaryEvent,
		Status:          fields.Status,
		CheckType:       fields.CheckType,
		CheckTypeGroup:  fields.CheckTypeGroup,
		CheckTypeLabel:  fields.CheckTypeLabel,
		Dates:           fields.Dates,
		EventTime:       fields.EventTime,
		PartialBookings: fields.PartialBookings,
		Extra:           extra,
	}
	return nil
}
