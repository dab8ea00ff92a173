package aggregator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"gorm.io/datatypes"
)

var sixty = decimal.NewFromInt(60)

// groupKey identifies journal lines of a recurring event that are billed
// on a single line.
type groupKey struct {
	user           string
	agenda         string
	primaryEvent   string
	status         string
	checkType      string
	checkTypeGroup string
	amount         string
	quantityType   journaldomain.QuantityType
	accountingCode string
}

// aggregatedLine is a document line and the journal lines it bills.
type aggregatedLine struct {
	fields  invoicedomain.LineFields
	sources []snowflake.ID
}

type catalogue struct {
	agendas    map[string]agendadomain.Agenda
	checkTypes agendadomain.CheckTypes
}

// ignored lines are never billed: events that were not booked or were
// cancelled, and plain presences in an adjustment campaign.
func ignored(campaign campaigndomain.Campaign, line *journaldomain.DraftJournalLine) bool {
	details := line.PricingData.Data().Details()
	switch details.Status {
	case journaldomain.BookingNotBooked, journaldomain.BookingCancelled:
		return true
	case journaldomain.BookingPresence:
		return campaign.AdjustmentCampaign && details.CheckType == ""
	}
	return false
}

// aggregate turns the success lines of one payer into document lines.
// Lines of the same recurring event are merged; injected lines and lines
// without a primary event are billed one to one.
func aggregate(campaign campaigndomain.Campaign, cat catalogue, lines []*journaldomain.DraftJournalLine) []aggregatedLine {
	var (
		order  []groupKey
		groups = map[groupKey][]*journaldomain.DraftJournalLine{}
		single []*journaldomain.DraftJournalLine
	)
	for _, line := range lines {
		if ignored(campaign, line) {
			continue
		}
		event := line.Event.Data()
		if line.FromInjectedLineID != nil || event.PrimaryEvent == "" {
			single = append(single, line)
			continue
		}
		details := line.PricingData.Data().Details()
		key := groupKey{
			user:           line.UserExternalID,
			agenda:         event.Agenda,
			primaryEvent:   event.PrimaryEvent,
			status:         details.Status,
			checkType:      details.CheckType,
			checkTypeGroup: details.CheckTypeGroup,
			amount:         line.Amount.String(),
			quantityType:   line.QuantityType,
			accountingCode: line.AccountingCode,
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], line)
	}

	out := make([]aggregatedLine, 0, len(order)+len(single))
	for _, key := range order {
		out = append(out, groupedLine(campaign, cat, key, groups[key]))
	}
	for _, line := range single {
		out = append(out, singleLine(cat, line))
	}
	return out
}

func groupedLine(campaign campaigndomain.Campaign, cat catalogue, key groupKey, members []*journaldomain.DraftJournalLine) aggregatedLine {
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	first := members[0]
	event := first.Event.Data()

	var (
		minutes int64
		sources = make([]snowflake.ID, 0, len(members))
		days    = make([]time.Time, 0, len(members))
	)
	for _, member := range members {
		minutes += member.Quantity
		sources = append(sources, member.ID)
		days = append(days, member.EventDate)
	}
	quantity := decimal.NewFromInt(minutes)
	if key.quantityType == journaldomain.QuantityMinutes {
		quantity = quantity.Div(sixty)
	}
	days = distinctDays(days)

	var description string
	switch first.Description {
	case "":
		description = formatDays(days)
	case journaldomain.DescriptionBookedHours:
		description = fmt.Sprintf("%s booked hours for the period", quarterHours(minutes))
	case journaldomain.DescriptionOvertaking:
		description = ""
	default:
		description = first.Description
	}

	checkTypeLabel := key.checkType
	if checkType, ok := cat.checkTypes.Lookup(key.checkType, key.checkTypeGroup, key.status); ok {
		checkTypeLabel = checkType.Label
	}
	agenda := cat.agendas[key.agenda]

	dates := make([]string, 0, len(days))
	for _, d := range days {
		dates = append(dates, d.Format("2006-01-02"))
	}
	eventTime := ""
	if start, err := event.Start(); err == nil {
		eventTime = start.Format("15:04:05")
	}
	eventLabel := event.Label
	if eventLabel == "" {
		eventLabel = first.Label
	}

	fields := invoicedomain.LineFields{
		EventDate:      campaign.DateStart,
		Label:          first.Label,
		Description:    description,
		Quantity:       quantity.Round(2),
		UnitAmount:     first.Amount,
		AccountingCode: key.accountingCode,
		Details: datatypes.NewJSONType(invoicedomain.LineDetails{
			Agenda:          key.agenda,
			PrimaryEvent:    key.primaryEvent,
			Status:          key.status,
			CheckType:       key.checkType,
			CheckTypeGroup:  key.checkTypeGroup,
			CheckTypeLabel:  checkTypeLabel,
			Dates:           dates,
			EventTime:       eventTime,
			PartialBookings: agenda.PartialBookings,
		}),
		EventSlug:     key.agenda + "@" + key.primaryEvent,
		EventLabel:    eventLabel,
		AgendaSlug:    key.agenda,
		ActivityLabel: agenda.Label,
		User:          first.User,
	}
	fields.ComputeTotal()
	return aggregatedLine{fields: fields, sources: sources}
}

func singleLine(cat catalogue, line *journaldomain.DraftJournalLine) aggregatedLine {
	event := line.Event.Data()
	agendaSlug := ""
	if at := strings.Index(line.Slug, "@"); at > 0 {
		agendaSlug = line.Slug[:at]
	}
	agenda := cat.agendas[agendaSlug]

	quantity := decimal.NewFromInt(line.Quantity)
	if line.QuantityType == journaldomain.QuantityMinutes {
		quantity = quantity.Div(sixty)
	}
	eventLabel := event.Label
	if eventLabel == "" {
		eventLabel = line.Label
	}
	fields := invoicedomain.LineFields{
		EventDate:      line.EventDate,
		Label:          line.Label,
		Quantity:       quantity.Round(2),
		UnitAmount:     line.Amount,
		AccountingCode: line.AccountingCode,
		Details: datatypes.NewJSONType(invoicedomain.LineDetails{
			Agenda:          agendaSlug,
			Dates:           []string{line.EventDate.Format("2006-01-02")},
			PartialBookings: agenda.PartialBookings,
		}),
		EventSlug:     line.Slug,
		EventLabel:    eventLabel,
		AgendaSlug:    agendaSlug,
		ActivityLabel: agenda.Label,
		User:          line.User,
	}
	fields.ComputeTotal()
	return aggregatedLine{fields: fields, sources: []snowflake.ID{line.ID}}
}

func distinctDays(days []time.Time) []time.Time {
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	out := days[:0]
	for i, d := range days {
		if i > 0 && d.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func formatDays(days []time.Time) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, d.Format("02/01"))
	}
	return strings.Join(parts, ", ")
}

// quarterHours renders minutes as hours rounded to the nearest quarter,
// without trailing zeros.
func quarterHours(minutes int64) string {
	quarters := decimal.NewFromInt(minutes).Div(decimal.NewFromInt(15)).Round(0)
	return quarters.Div(decimal.NewFromInt(4)).String()
}

// negate flips the sign of a line, used for credit lines.
func negate(fields invoicedomain.LineFields) invoicedomain.LineFields {
	fields.Quantity = fields.Quantity.Neg()
	fields.ComputeTotal()
	return fields
}
