package linebuilder

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/external"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"gorm.io/datatypes"
)

const unknownPayer = "unknown"

// Labels of the lines produced by the partial booking split.
const (
	labelOvertaking             = "Overtaking"
	labelAbsence                = "Absence"
	labelPresenceWithoutBooking = "Presence without booking"
)

// userRun holds the state of the lines of one user.
type userRun struct {
	bc       *BuildContext
	user     journaldomain.User
	resolved map[string]journaldomain.ErrorStatus
}

// buildRecord prices one check status record. A per fact failure yields a
// single warning or error line; any other failure is returned.
func (b *Builder) buildRecord(ctx context.Context, run *userRun, agenda agendadomain.Agenda, record journaldomain.CheckStatusRecord, base journaldomain.LineFields) ([]journaldomain.LineFields, error) {
	lines, err := b.priceRecord(ctx, run, agenda, record, &base)
	if err == nil {
		return lines, nil
	}
	fact, ok := external.AsFactError(err)
	if !ok {
		return nil, err
	}
	return []journaldomain.LineFields{run.errorLine(base, fact)}, nil
}

// priceRecord fills the payer of base as soon as it is known so that an
// error line still names it.
func (b *Builder) priceRecord(ctx context.Context, run *userRun, agenda agendadomain.Agenda, record journaldomain.CheckStatusRecord, base *journaldomain.LineFields) ([]journaldomain.LineFields, error) {
	bc := run.bc
	pricing, ok := agendadomain.SelectPricing(bc.Pricings[agenda.Slug], base.EventDate)
	if !ok {
		return nil, external.PricingNotFound{}
	}

	payerID, err := b.payers.GetPayerExternalID(ctx, bc.Request, bc.Regie, run.user.UserExternalID, record.Booking)
	if err != nil {
		return nil, err
	}
	base.Payer = journaldomain.Payer{PayerExternalID: payerID}
	data, err := b.payerData(ctx, bc, payerID)
	if err != nil {
		return nil, err
	}
	base.Payer = payerSnapshot(payerID, data)

	req := external.PricingRequest{
		Pricing:         pricing,
		Agenda:          agenda,
		Event:           record.Event,
		CheckStatus:     record.CheckStatus,
		UserExternalID:  run.user.UserExternalID,
		PayerExternalID: payerID,
	}
	pricingData, err := b.pricing.GetPricingDataForEvent(ctx, bc.Request, req)
	if err != nil {
		return nil, err
	}
	base.AccountingCode = pricingData.AccountingCode
	base.Status = journaldomain.StatusSuccess

	status := pricingData.Details().Status
	if agenda.PartialBookings && (status == journaldomain.BookingPresence || status == journaldomain.BookingAbsence) {
		return b.partialBookingLines(ctx, run, agenda, req, record, pricingData, *base)
	}
	return []journaldomain.LineFields{nominalLine(bc.Campaign, pricingData, *base)}, nil
}

func (b *Builder) payerData(ctx context.Context, bc *BuildContext, payerID string) (external.PayerData, error) {
	if data, ok := bc.Payers.Get(payerID); ok {
		return data, nil
	}
	data, err := b.payers.GetPayerData(ctx, bc.Request, bc.Regie, payerID)
	if err != nil {
		return external.PayerData{}, err
	}
	bc.Payers.Set(payerID, data)
	return data, nil
}

// nominalLine bills the priced amount. A negative price is stored as a
// positive amount over a negative quantity.
func nominalLine(campaign campaigndomain.Campaign, pricingData journaldomain.PricingData, base journaldomain.LineFields) journaldomain.LineFields {
	line := base
	amount := pricingData.Amount()
	if amount.IsNegative() {
		amount = amount.Neg()
		line.Quantity = -line.Quantity
	}
	details := pricingData.Details()
	if campaign.AdjustmentCampaign && details.Status == journaldomain.BookingPresence && details.CheckType == "" {
		amount = decimal.Zero
	}
	line.Amount = amount
	line.PricingData = datatypes.NewJSONType(pricingData)
	return line
}

// partialBookingLines bills the booked minutes at the normal rate, then
// the overtaking minutes, then the difference brought by the check type.
func (b *Builder) partialBookingLines(ctx context.Context, run *userRun, agenda agendadomain.Agenda, req external.PricingRequest, record journaldomain.CheckStatusRecord, pricingData journaldomain.PricingData, base journaldomain.LineFields) ([]journaldomain.LineFields, error) {
	details := pricingData.Details()
	checkType, hasCheckType := run.bc.CheckTypes.Lookup(details.CheckType, details.CheckTypeGroup, details.Status)
	booking := record.Booking

	normal := pricingData
	if details.Status != journaldomain.BookingPresence || details.CheckType != "" {
		normalReq := req
		normalReq.CheckStatus = journaldomain.NormalPresence()
		var err error
		normal, err = b.pricing.GetPricingDataForEvent(ctx, run.bc.Request, normalReq)
		if err != nil {
			return nil, err
		}
	}

	if !booking.HasAdjustedDuration() {
		line := base
		switch {
		case hasCheckType:
			line.Label = checkType.Label
		case details.Status == journaldomain.BookingPresence:
			line.Label = labelPresenceWithoutBooking
		}
		line.Amount = pricingData.Amount()
		line.PricingData = datatypes.NewJSONType(pricingData)
		return []journaldomain.LineFields{line}, nil
	}

	adjusted := *booking.AdjustedDuration
	var lines []journaldomain.LineFields

	booked := base
	booked.Label = agenda.Label
	booked.Description = journaldomain.DescriptionBookedHours
	booked.Amount = normal.Amount()
	booked.Quantity = int64(adjusted)
	booked.PricingData = datatypes.NewJSONType(normal)
	lines = append(lines, booked)

	if booking.ComputedDuration > adjusted {
		overtaking := base
		overtaking.Event = datatypes.NewJSONType(record.Event.WithPrimaryEventSuffix("::overtaking"))
		overtaking.Label = labelOvertaking
		overtaking.Description = journaldomain.DescriptionOvertaking
		overtaking.Amount = normal.Amount()
		overtaking.Quantity = int64(booking.ComputedDuration - adjusted)
		overtaking.PricingData = datatypes.NewJSONType(normal)
		lines = append(lines, overtaking)
	}

	diff := pricingData.Amount().Sub(normal.Amount())
	if !diff.IsZero() {
		line := base
		line.Label = ""
		switch {
		case hasCheckType:
			line.Label = checkType.Label
		case details.Status == journaldomain.BookingAbsence:
			line.Label = labelAbsence
		}
		suffix := fmt.Sprintf(":%s:%s", details.Status, details.CheckType)
		line.Event = datatypes.NewJSONType(record.Event.WithPrimaryEventSuffix(suffix))
		line.Amount = diff.Abs()
		line.Quantity = int64(booking.ComputedDuration)
		if diff.IsNegative() {
			line.Quantity = -line.Quantity
		}
		line.PricingData = datatypes.NewJSONType(pricingData)
		lines = append(lines, line)
	}
	return lines, nil
}

// errorLine records a per fact failure with a zero amount. Pricing not
// found is only a warning; other kinds are errors whose operator
// annotation survives from the previous pool.
func (run *userRun) errorLine(base journaldomain.LineFields, fact external.FactError) journaldomain.LineFields {
	line := base
	line.Amount = decimal.Zero
	line.Description = ""
	line.AccountingCode = ""
	line.PricingData = datatypes.NewJSONType(journaldomain.ErrorPayload(fact.Kind(), fact.Details()))
	line.Status = journaldomain.StatusError
	line.ErrorStatus = journaldomain.ErrorStatusNone
	if fact.Kind() == external.KindPricingNotFound {
		line.Status = journaldomain.StatusWarning
	} else if status, ok := run.resolved[line.Slug]; ok {
		line.ErrorStatus = status
	}
	if line.PayerExternalID == "" {
		line.Payer = journaldomain.Payer{PayerExternalID: unknownPayer}
	}
	return line
}

// injectedLine bills an injected line as is, to its own payer.
func injectedLine(bc *BuildContext, user journaldomain.User, injected campaigndomain.InjectedLine) journaldomain.LineFields {
	data, _ := bc.Payers.Get(injected.PayerExternalID)
	id := injected.ID
	return journaldomain.LineFields{
		EventDate:          injected.EventDate,
		Slug:               injected.Slug,
		Label:              injected.Label,
		Amount:             injected.Amount,
		Quantity:           1,
		QuantityType:       journaldomain.QuantityUnits,
		Status:             journaldomain.StatusSuccess,
		FromInjectedLineID: &id,
		User:               user,
		Payer:              payerSnapshot(injected.PayerExternalID, data),
	}
}

func injectedPayerData(injected campaigndomain.InjectedLine) external.PayerData {
	return external.PayerData{
		FirstName:   injected.PayerFirstName,
		LastName:    injected.PayerLastName,
		Address:     injected.PayerAddress,
		DirectDebit: injected.PayerDirectDebit,
	}
}

func payerSnapshot(payerID string, data external.PayerData) journaldomain.Payer {
	return journaldomain.Payer{
		PayerExternalID:  payerID,
		PayerFirstName:   data.FirstName,
		PayerLastName:    data.LastName,
		PayerAddress:     data.Address,
		PayerEmail:       data.Email,
		PayerPhone:       data.Phone,
		PayerDirectDebit: data.DirectDebit,
	}
}
