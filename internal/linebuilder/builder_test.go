package linebuilder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	agendarepo "github.com/smallbiznis/poolbilling/internal/agenda/repository"
	agendaservice "github.com/smallbiznis/poolbilling/internal/agenda/service"
	"github.com/smallbiznis/poolbilling/internal/aggregator"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	campaignrepo "github.com/smallbiznis/poolbilling/internal/campaign/repository"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/config"
	creditrepo "github.com/smallbiznis/poolbilling/internal/credit/repository"
	creditservice "github.com/smallbiznis/poolbilling/internal/credit/service"
	"github.com/smallbiznis/poolbilling/internal/external"
	"github.com/smallbiznis/poolbilling/internal/external/externaltest"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/poolbilling/internal/invoice/repository"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	jobsrepo "github.com/smallbiznis/poolbilling/internal/jobs/repository"
	jobsservice "github.com/smallbiznis/poolbilling/internal/jobs/service"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	journalrepo "github.com/smallbiznis/poolbilling/internal/journal/repository"
	"github.com/smallbiznis/poolbilling/internal/promotion"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	regierepo "github.com/smallbiznis/poolbilling/internal/regie/repository"
	regieservice "github.com/smallbiznis/poolbilling/internal/regie/service"
	"github.com/smallbiznis/poolbilling/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	db       *gorm.DB
	node     *snowflake.Node
	builder  *Builder
	usage    *externaltest.Usage
	pricing  *externaltest.Pricing
	payers   *externaltest.Payer
	regie    regiedomain.Regie
	agenda   agendadomain.Agenda
	campaign campaigndomain.Campaign
	pool     campaigndomain.Pool
}

var alice = jobsdomain.User{ExternalID: "u1", FirstName: "Alice", LastName: "Martin"}

func newHarness(t *testing.T, partialBookings bool) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewGenID(t)
	clk := clock.NewFakeClock(time.Date(2024, 10, 1, 8, 0, 0, 0, time.UTC))
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	h := &harness{
		db:      db,
		node:    node,
		usage:   externaltest.NewUsage(),
		pricing: externaltest.NewPricing(),
		payers:  externaltest.NewPayer(),
	}
	h.regie = testutil.SeedRegie(t, db, node)
	h.agenda = testutil.SeedAgenda(t, db, node, h.regie.ID, "sports", partialBookings)
	h.campaign = testutil.SeedCampaign(t, db, node, h.regie.ID, h.agenda)
	h.pool = testutil.SeedPool(t, db, node, h.campaign.ID, true, campaigndomain.PoolStatusRunning)

	agg := aggregator.New(aggregator.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Billing:    billing,
		Campaigns:  campaignrepo.Provide(),
		Journal:    journalrepo.Provide(),
		Invoices:   invoicerepo.Provide(),
		AgendaRepo: agendarepo.Provide(),
	})
	h.builder = New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Billing: billing,
		Usage:   h.usage,
		Pricing: h.pricing,
		Payers:  h.payers,
		Agendas: agendaservice.New(agendaservice.Params{
			DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: agendarepo.Provide(),
		}),
		Campaigns:  campaignrepo.Provide(),
		Journal:    journalrepo.Provide(),
		RegieRepo:  regierepo.Provide(),
		Aggregator: agg,
	})
	return h
}

// promote aggregates and completes the harness pool, then promotes it into
// a populated final pool.
func (h *harness) promote(t *testing.T) campaigndomain.Pool {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFakeClock(time.Date(2024, 10, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, h.builder.aggregator.Generate(ctx, h.pool.ID, nil, nil))
	require.NoError(t, h.db.Model(&campaigndomain.Pool{}).Where("id = ?", h.pool.ID).
		Update("status", campaigndomain.PoolStatusCompleted).Error)

	counters := regieservice.New(regieservice.Params{
		DB: h.db, Log: zap.NewNop(), GenID: h.node, Clock: clk, Repo: regierepo.Provide(),
	})
	promoter := promotion.New(promotion.Params{
		DB:        h.db,
		Log:       zap.NewNop(),
		GenID:     h.node,
		Clock:     clk,
		Campaigns: campaignrepo.Provide(),
		Journal:   journalrepo.Provide(),
		Invoices:  invoicerepo.Provide(),
		RegieRepo: regierepo.Provide(),
		Counters:  counters,
		Jobs: jobsservice.New(jobsservice.Params{
			DB: h.db, Log: zap.NewNop(), GenID: h.node, Clock: clk, Repo: jobsrepo.Provide(),
		}),
		Credits: creditservice.New(creditservice.Params{
			DB:        h.db,
			Log:       zap.NewNop(),
			GenID:     h.node,
			Clock:     clk,
			Repo:      creditrepo.Provide(),
			Invoices:  invoicerepo.Provide(),
			Campaigns: campaignrepo.Provide(),
			RegieRepo: regierepo.Provide(),
			Counters:  counters,
		}),
	})
	final, _, err := promoter.Promote(ctx, h.pool.ID)
	require.NoError(t, err)
	require.NoError(t, promoter.PopulateFromDraft(ctx, h.pool.ID, final.ID, nil))
	return final
}

func (h *harness) injectedLine(t *testing.T, day time.Time, amount string) campaigndomain.InjectedLine {
	t.Helper()
	line := campaigndomain.InjectedLine{
		ID: h.node.Generate(), RegieID: h.regie.ID, EventDate: day,
		Slug: "manual", Label: "Manual fix", Amount: decimal.RequireFromString(amount),
		UserExternalID: "u1", PayerExternalID: "p1", PayerFirstName: "Ada",
	}
	require.NoError(t, h.db.Create(&line).Error)
	return line
}

func (h *harness) setInjectedLines(t *testing.T, campaignID snowflake.ID, mode campaigndomain.InjectedLinesMode) {
	t.Helper()
	require.NoError(t, h.db.Model(&campaigndomain.Campaign{}).Where("id = ?", campaignID).
		Update("injected_lines", mode).Error)
}

func (h *harness) context(t *testing.T) *BuildContext {
	t.Helper()
	bc, err := h.builder.NewBuildContext(context.Background(), h.pool.ID)
	require.NoError(t, err)
	return bc
}

func event(agenda, slug, primary, start string) journaldomain.Event {
	return journaldomain.Event{
		Slug:          slug,
		Agenda:        agenda,
		PrimaryEvent:  primary,
		Label:         "Event " + slug,
		StartDatetime: start,
	}
}

func presence(ev journaldomain.Event) journaldomain.CheckStatusRecord {
	return journaldomain.CheckStatusRecord{Event: ev, CheckStatus: journaldomain.NormalPresence()}
}

func bySlug(lines []*journaldomain.DraftJournalLine) map[string]*journaldomain.DraftJournalLine {
	out := map[string]*journaldomain.DraftJournalLine{}
	for _, line := range lines {
		out[line.Slug] = line
	}
	return out
}

func TestNewBuildContext(t *testing.T) {
	h := newHarness(t, false)
	bc := h.context(t)

	assert.Equal(t, []string{"sports"}, bc.AgendaSlugs())
	assert.Len(t, bc.Pricings["sports"], 1)
	assert.Nil(t, bc.PreviousPoolID)
	assert.Equal(t, 3, bc.Request.MaxRetries)

	// a final pool cannot be built
	final := testutil.SeedPool(t, h.db, h.node, h.campaign.ID, false, campaigndomain.PoolStatusRegistered)
	_, err := h.builder.NewBuildContext(context.Background(), final.ID)
	assert.ErrorIs(t, err, ErrFinalPool)
}

func TestSubscribedUsersAreDeduplicated(t *testing.T) {
	h := newHarness(t, false)
	h.usage.Subscribe("sports",
		external.Subscription{UserExternalID: "u1", UserFirstName: "Alice"},
		external.Subscription{UserExternalID: "u2", UserFirstName: "Bob"},
		external.Subscription{UserExternalID: "u1", UserFirstName: "Alice"},
	)

	users, err := h.builder.SubscribedUsers(context.Background(), h.context(t))
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].ExternalID)
	assert.Equal(t, "u2", users[1].ExternalID)
}

func TestBuildForUserNominalLines(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.payers.Payers["u1"] = "p1"
	h.payers.Data["p1"] = external.PayerData{FirstName: "Paul", LastName: "Martin", DirectDebit: true}
	h.pricing.Price("swim-1", "10")
	h.pricing.Price("refund-1", "-5")
	h.pricing.Errors["broken-1"] = external.NewPricingError("PricingDataFormatError", map[string]any{"field": "x"})

	records := []journaldomain.CheckStatusRecord{
		presence(event("sports", "swim-1", "swim", "2024-09-02T10:00:00+02:00")),
		presence(event("sports", "refund-1", "", "2024-09-03T10:00:00+02:00")),
		presence(event("sports", "broken-1", "broken", "2024-09-04T10:00:00+02:00")),
		presence(event("sports", "late-1", "late", "2025-01-04T10:00:00+02:00")),
	}
	lines, err := h.builder.BuildForUser(ctx, h.context(t), alice, records)
	require.NoError(t, err)
	require.Len(t, lines, 4)
	got := bySlug(lines)

	swim := got["sports@swim-1"]
	require.NotNil(t, swim)
	assert.Equal(t, journaldomain.StatusSuccess, swim.Status)
	assert.True(t, decimal.NewFromInt(10).Equal(swim.Amount))
	assert.Equal(t, int64(1), swim.Quantity)
	assert.Equal(t, "p1", swim.PayerExternalID)
	assert.Equal(t, "Paul", swim.PayerFirstName)
	assert.True(t, swim.PayerDirectDebit)
	assert.Equal(t, "414", swim.AccountingCode)
	assert.Equal(t, testutil.Date(2024, 9, 2), swim.EventDate.UTC())

	refund := got["sports@refund-1"]
	assert.True(t, decimal.NewFromInt(5).Equal(refund.Amount))
	assert.Equal(t, int64(-1), refund.Quantity)

	broken := got["sports@broken-1"]
	assert.Equal(t, journaldomain.StatusError, broken.Status)
	assert.True(t, broken.Amount.IsZero())
	assert.Equal(t, "PricingDataFormatError", broken.PricingData.Data().Error)
	assert.Equal(t, "p1", broken.PayerExternalID)

	late := got["sports@late-1"]
	assert.Equal(t, journaldomain.StatusWarning, late.Status)
	assert.Equal(t, external.KindPricingNotFound, late.PricingData.Data().Error)
	assert.Equal(t, unknownPayer, late.PayerExternalID)

	// payer data was fetched once for the run
	assert.Equal(t, 1, h.payers.DataCalls)

	var stored int64
	require.NoError(t, h.db.Model(&journaldomain.DraftJournalLine{}).Where("pool_id = ?", h.pool.ID).Count(&stored).Error)
	assert.Equal(t, int64(4), stored)
}

func TestBuildForUserPayerErrors(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.pricing.Price("swim-1", "10")

	h.payers.PayerErr["u1"] = &external.PayerError{ErrDetails: map[string]any{"reason": "no family"}}
	lines, err := h.builder.BuildForUser(ctx, h.context(t), alice, []journaldomain.CheckStatusRecord{
		presence(event("sports", "swim-1", "swim", "2024-09-02T10:00:00")),
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, journaldomain.StatusError, lines[0].Status)
	assert.Equal(t, unknownPayer, lines[0].PayerExternalID)
	assert.Equal(t, external.KindPayerError, lines[0].PricingData.Data().Error)

	delete(h.payers.PayerErr, "u1")
	h.payers.DataErr["u1"] = &external.PayerDataError{}
	lines, err = h.builder.BuildForUser(ctx, h.context(t), alice, []journaldomain.CheckStatusRecord{
		presence(event("sports", "swim-2", "swim", "2024-09-09T10:00:00")),
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "u1", lines[0].PayerExternalID)
	assert.Equal(t, external.KindPayerDataError, lines[0].PricingData.Data().Error)

	// other failures are not per fact
	delete(h.payers.DataErr, "u1")
	h.payers.PayerErr["u1"] = errors.New("connection reset")
	_, err = h.builder.BuildForUser(ctx, h.context(t), alice, []journaldomain.CheckStatusRecord{
		presence(event("sports", "swim-3", "swim", "2024-09-16T10:00:00")),
	})
	assert.Error(t, err)
}

func TestErrorStatusCarriedFromPreviousPool(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	previous := h.pool
	h.pricing.Errors["swim-1"] = external.NewPricingError("", nil)
	h.pricing.Errors["swim-2"] = external.NewPricingError("", nil)
	lines, err := h.builder.BuildForUser(ctx, h.context(t), alice, []journaldomain.CheckStatusRecord{
		presence(event("sports", "swim-1", "swim", "2024-09-02T10:00:00")),
		presence(event("sports", "swim-2", "swim", "2024-09-09T10:00:00")),
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	ignored := bySlug(lines)["sports@swim-1"]
	require.NoError(t, journalrepo.Provide().UpdateErrorStatus(ctx, h.db, ignored.ID, journaldomain.ErrorStatusIgnored, time.Now()))

	h.pool = testutil.SeedPool(t, h.db, h.node, h.campaign.ID, true, campaigndomain.PoolStatusRunning)
	bc := h.context(t)
	require.NotNil(t, bc.PreviousPoolID)
	assert.Equal(t, previous.ID, *bc.PreviousPoolID)

	lines, err = h.builder.BuildForUser(ctx, bc, alice, []journaldomain.CheckStatusRecord{
		presence(event("sports", "swim-1", "swim", "2024-09-02T10:00:00")),
		presence(event("sports", "swim-2", "swim", "2024-09-09T10:00:00")),
	})
	require.NoError(t, err)
	got := bySlug(lines)
	assert.Equal(t, journaldomain.ErrorStatusIgnored, got["sports@swim-1"].ErrorStatus)
	assert.Equal(t, journaldomain.ErrorStatusNone, got["sports@swim-2"].ErrorStatus)
}

func TestPartialBookingSplit(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.db.Create(&agendadomain.CheckType{
		ID: h.node.Generate(), Slug: "late", GroupSlug: "g", Kind: agendadomain.CheckTypeKindPresence, Label: "Late arrival",
	}).Error)

	h.pricing.Fn = func(req external.PricingRequest) (journaldomain.PricingData, error) {
		amount := decimal.RequireFromString("0.20")
		switch {
		case req.CheckStatus.CheckType == "late":
			amount = decimal.RequireFromString("0.25")
		case req.CheckStatus.Status == journaldomain.BookingAbsence:
			amount = decimal.Zero
		}
		data := externaltest.PricingData(amount, req.CheckStatus)
		if req.CheckStatus.CheckType != "" {
			data.BookingDetails.CheckTypeGroup = "g"
		}
		return data, nil
	}

	adjusted := 60
	late := journaldomain.CheckStatusRecord{
		Event:       event("sports", "club-1", "club", "2024-09-02T16:00:00"),
		CheckStatus: journaldomain.CheckStatus{Status: journaldomain.BookingPresence, CheckType: "late"},
		Booking:     journaldomain.Booking{ComputedDuration: 90, AdjustedDuration: &adjusted},
	}
	absent := journaldomain.CheckStatusRecord{
		Event:       event("sports", "club-2", "club", "2024-09-09T16:00:00"),
		CheckStatus: journaldomain.CheckStatus{Status: journaldomain.BookingAbsence},
		Booking:     journaldomain.Booking{ComputedDuration: 60, AdjustedDuration: &adjusted},
	}
	unbooked := journaldomain.CheckStatusRecord{
		Event:       event("sports", "club-3", "club", "2024-09-16T16:00:00"),
		CheckStatus: journaldomain.NormalPresence(),
		Booking:     journaldomain.Booking{ComputedDuration: 45},
	}

	lines, err := h.builder.BuildForUser(ctx, h.context(t), alice, []journaldomain.CheckStatusRecord{late, absent, unbooked})
	require.NoError(t, err)
	require.Len(t, lines, 6)

	booked := lines[0]
	assert.Equal(t, "Agenda sports", booked.Label)
	assert.Equal(t, journaldomain.DescriptionBookedHours, booked.Description)
	assert.Equal(t, journaldomain.QuantityMinutes, booked.QuantityType)
	assert.Equal(t, int64(60), booked.Quantity)
	assert.True(t, decimal.RequireFromString("0.20").Equal(booked.Amount))

	overtaking := lines[1]
	assert.Equal(t, labelOvertaking, overtaking.Label)
	assert.Equal(t, journaldomain.DescriptionOvertaking, overtaking.Description)
	assert.Equal(t, int64(30), overtaking.Quantity)
	assert.Equal(t, "club::overtaking", overtaking.Event.Data().PrimaryEvent)

	premium := lines[2]
	assert.Equal(t, "Late arrival", premium.Label)
	assert.Equal(t, int64(90), premium.Quantity)
	assert.True(t, decimal.RequireFromString("0.05").Equal(premium.Amount))
	assert.Equal(t, "club:presence:late", premium.Event.Data().PrimaryEvent)

	assert.Equal(t, journaldomain.DescriptionBookedHours, lines[3].Description)
	absence := lines[4]
	assert.Equal(t, labelAbsence, absence.Label)
	assert.Equal(t, int64(-60), absence.Quantity)
	assert.True(t, decimal.RequireFromString("0.20").Equal(absence.Amount))
	assert.True(t, absence.Total().Equal(decimal.RequireFromString("-0.2")))

	noBooking := lines[5]
	assert.Equal(t, labelPresenceWithoutBooking, noBooking.Label)
	assert.Equal(t, int64(45), noBooking.Quantity)
}

func TestInjectedLinesSeedPayerData(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.db.Model(&campaigndomain.Campaign{}).Where("id = ?", h.campaign.ID).
		Update("injected_lines", campaigndomain.InjectedLinesPeriod).Error)

	h.payers.Payers["u1"] = "p1"
	h.pricing.Price("swim-1", "10")
	inPeriod := campaigndomain.InjectedLine{
		ID: h.node.Generate(), RegieID: h.regie.ID, EventDate: testutil.Date(2024, 9, 10),
		Slug: "manual", Label: "Manual fix", Amount: decimal.NewFromInt(-3),
		UserExternalID: "u1", PayerExternalID: "p1", PayerFirstName: "Ada",
	}
	before := inPeriod
	before.ID = h.node.Generate()
	before.EventDate = testutil.Date(2024, 8, 10)
	require.NoError(t, h.db.Create(&inPeriod).Error)
	require.NoError(t, h.db.Create(&before).Error)

	lines, err := h.builder.BuildForUser(ctx, h.context(t), alice, []journaldomain.CheckStatusRecord{
		presence(event("sports", "swim-1", "swim", "2024-09-02T10:00:00")),
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, "Ada", lines[0].PayerFirstName)
	assert.Equal(t, 0, h.payers.DataCalls)

	injected := lines[1]
	require.NotNil(t, injected.FromInjectedLineID)
	assert.Equal(t, inPeriod.ID, *injected.FromInjectedLineID)
	assert.Equal(t, journaldomain.StatusSuccess, injected.Status)
	assert.True(t, decimal.NewFromInt(-3).Equal(injected.Amount))
}

func TestInjectedLinesAllModeIncludesEarlierLines(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.setInjectedLines(t, h.campaign.ID, campaigndomain.InjectedLinesAll)

	before := h.injectedLine(t, testutil.Date(2024, 8, 10), "4")
	inPeriod := h.injectedLine(t, testutil.Date(2024, 9, 10), "-3")
	h.injectedLine(t, testutil.Date(2024, 10, 10), "7")

	lines, err := h.builder.BuildForUser(ctx, h.context(t), alice, nil)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.NotNil(t, lines[0].FromInjectedLineID)
	require.NotNil(t, lines[1].FromInjectedLineID)
	assert.Equal(t, before.ID, *lines[0].FromInjectedLineID)
	assert.Equal(t, inPeriod.ID, *lines[1].FromInjectedLineID)
	assert.Equal(t, "Ada", lines[0].PayerFirstName)
	assert.Equal(t, 0, h.payers.DataCalls)

	// period mode drops the line dated before the campaign
	h.setInjectedLines(t, h.campaign.ID, campaigndomain.InjectedLinesPeriod)
	lines, err = h.builder.BuildForUser(ctx, h.context(t), alice, nil)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, inPeriod.ID, *lines[0].FromInjectedLineID)
}

func TestInjectedLineIsBilledOnce(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.setInjectedLines(t, h.campaign.ID, campaigndomain.InjectedLinesAll)
	injected := h.injectedLine(t, testutil.Date(2024, 9, 10), "3")

	lines, err := h.builder.BuildForUser(ctx, h.context(t), alice, nil)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, injected.ID, *lines[0].FromInjectedLineID)

	// a newer draft of the same campaign bills it again
	billable := func(campaignID snowflake.ID) []*campaigndomain.InjectedLine {
		t.Helper()
		got, err := campaignrepo.Provide().ListBillableInjectedLines(ctx, h.db, campaigndomain.BillableQuery{
			RegieID: h.regie.ID, CampaignID: campaignID, UserExternalID: "u1",
		})
		require.NoError(t, err)
		return got
	}
	assert.Len(t, billable(h.campaign.ID), 1)

	// the next campaign skips a line held by another campaign draft
	next := testutil.SeedCampaign(t, h.db, h.node, h.regie.ID, h.agenda)
	require.NoError(t, h.db.Model(&campaigndomain.Campaign{}).Where("id = ?", next.ID).Updates(map[string]any{
		"date_start":     testutil.Date(2024, 10, 1),
		"date_end":       testutil.Date(2024, 11, 1),
		"injected_lines": campaigndomain.InjectedLinesAll,
	}).Error)
	assert.Empty(t, billable(next.ID))

	final := h.promote(t)
	finals, err := journalrepo.Provide().ListAllLines(ctx, h.db, final.ID)
	require.NoError(t, err)
	require.Len(t, finals, 1)
	require.NotNil(t, finals[0].FromInjectedLineID)
	assert.Equal(t, injected.ID, *finals[0].FromInjectedLineID)

	// once promoted, no draft bills it again, not even one of its campaign
	assert.Empty(t, billable(h.campaign.ID))

	nextPool := testutil.SeedPool(t, h.db, h.node, next.ID, true, campaigndomain.PoolStatusRunning)
	bc, err := h.builder.NewBuildContext(ctx, nextPool.ID)
	require.NoError(t, err)
	lines, err = h.builder.BuildForUser(ctx, bc, alice, nil)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestBuildForUsers(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.pricing.Price("swim-1", "10")
	h.usage.AddCheckStatus("u1", presence(event("sports", "swim-1", "swim", "2024-09-02T10:00:00")))
	h.usage.AddCheckStatus("u2", presence(event("sports", "swim-1", "swim", "2024-09-02T10:00:00")))

	users := []jobsdomain.User{alice, {ExternalID: "u2"}}
	require.NoError(t, h.builder.BuildForUsers(ctx, h.context(t), users, nil))

	var count int64
	require.NoError(t, h.db.Model(&journaldomain.DraftJournalLine{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestBuildForUsersStopsWhenPoolIsNotRunning(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.usage.AddCheckStatus("u1", presence(event("sports", "swim-1", "swim", "2024-09-02T10:00:00")))
	bc := h.context(t)
	require.NoError(t, h.db.Model(&campaigndomain.Pool{}).Where("id = ?", h.pool.ID).
		Update("status", campaigndomain.PoolStatusFailed).Error)

	require.NoError(t, h.builder.BuildForUsers(ctx, bc, []jobsdomain.User{alice}, nil))

	var count int64
	require.NoError(t, h.db.Model(&journaldomain.DraftJournalLine{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestBuildForUsersPropagatesUsageErrors(t *testing.T) {
	h := newHarness(t, false)
	h.usage.Err = errors.New("503")

	err := h.builder.BuildForUsers(context.Background(), h.context(t), []jobsdomain.User{alice}, nil)
	var usageErr *external.UsageServiceError
	assert.ErrorAs(t, err, &usageErr)
}

func TestReplayError(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.pricing.Price("swim-1", "10")
	h.pricing.Errors["swim-2"] = external.NewPricingError("", nil)
	records := []journaldomain.CheckStatusRecord{
		presence(event("sports", "swim-1", "swim", "2024-09-02T10:00:00")),
		presence(event("sports", "swim-2", "swim", "2024-09-09T10:00:00")),
	}
	h.usage.AddCheckStatus("u1", records...)

	lines, err := h.builder.BuildForUser(ctx, h.context(t), alice, records)
	require.NoError(t, err)
	failed := bySlug(lines)["sports@swim-2"]
	require.Equal(t, journaldomain.StatusError, failed.Status)

	_, err = h.builder.ReplayError(ctx, bySlug(lines)["sports@swim-1"].ID)
	assert.ErrorIs(t, err, journaldomain.ErrNotAnErrorLine)

	delete(h.pricing.Errors, "swim-2")
	h.pricing.Price("swim-2", "4")
	replayed, err := h.builder.ReplayError(ctx, failed.ID)
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	assert.Equal(t, journaldomain.StatusSuccess, replayed[0].Status)
	assert.Equal(t, "sports@swim-2", replayed[0].Slug)

	old, err := journalrepo.Provide().FindDraftLine(ctx, h.db, failed.ID)
	require.NoError(t, err)
	assert.Nil(t, old)

	var invoices []invoicedomain.DraftInvoice
	require.NoError(t, h.db.Where("pool_id = ?", h.pool.ID).Find(&invoices).Error)
	require.Len(t, invoices, 1)
	assert.True(t, decimal.NewFromInt(14).Equal(invoices[0].TotalAmount))
}

func TestReplayErrorRefusesSupersededPool(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.pricing.Errors["swim-2"] = external.NewPricingError("", nil)
	records := []journaldomain.CheckStatusRecord{
		presence(event("sports", "swim-2", "swim", "2024-09-09T10:00:00")),
	}
	h.usage.AddCheckStatus("u1", records...)
	lines, err := h.builder.BuildForUser(ctx, h.context(t), alice, records)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	failed := lines[0]

	newer := testutil.SeedPool(t, h.db, h.node, h.campaign.ID, true, campaigndomain.PoolStatusRunning)
	_, err = h.builder.ReplayError(ctx, failed.ID)
	assert.ErrorIs(t, err, campaigndomain.ErrPoolTooOld)
	require.NoError(t, h.db.Delete(&campaigndomain.Pool{}, newer.ID).Error)

	testutil.SeedPool(t, h.db, h.node, h.campaign.ID, false, campaigndomain.PoolStatusCompleted)
	_, err = h.builder.ReplayError(ctx, failed.ID)
	assert.ErrorIs(t, err, campaigndomain.ErrPoolTooOld)
	var guard *campaigndomain.PoolPromotionError
	assert.ErrorAs(t, err, &guard)

	// the line was left alone
	stored, err := journalrepo.Provide().FindDraftLine(ctx, h.db, failed.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, journaldomain.StatusError, stored.Status)
}
