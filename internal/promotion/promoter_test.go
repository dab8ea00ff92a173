package promotion

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	agendarepo "github.com/smallbiznis/poolbilling/internal/agenda/repository"
	"github.com/smallbiznis/poolbilling/internal/aggregator"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	campaignrepo "github.com/smallbiznis/poolbilling/internal/campaign/repository"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/config"
	creditdomain "github.com/smallbiznis/poolbilling/internal/credit/domain"
	creditrepo "github.com/smallbiznis/poolbilling/internal/credit/repository"
	creditservice "github.com/smallbiznis/poolbilling/internal/credit/service"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/poolbilling/internal/invoice/repository"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	jobsrepo "github.com/smallbiznis/poolbilling/internal/jobs/repository"
	jobsservice "github.com/smallbiznis/poolbilling/internal/jobs/service"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	journalrepo "github.com/smallbiznis/poolbilling/internal/journal/repository"
	"github.com/smallbiznis/poolbilling/internal/observability/metrics"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	regierepo "github.com/smallbiznis/poolbilling/internal/regie/repository"
	regieservice "github.com/smallbiznis/poolbilling/internal/regie/service"
	"github.com/smallbiznis/poolbilling/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	promoter *Promoter
	agg      *aggregator.Aggregator
	reader   *sdkmetric.ManualReader
	regie    regiedomain.Regie
	campaign campaigndomain.Campaign
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewGenID(t)
	clk := clock.NewFakeClock(time.Date(2024, 10, 2, 9, 0, 0, 0, time.UTC))
	counters := regieservice.New(regieservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: regierepo.Provide(),
	})
	credits := creditservice.New(creditservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      creditrepo.Provide(),
		Invoices:  invoicerepo.Provide(),
		Campaigns: campaignrepo.Provide(),
		RegieRepo: regierepo.Provide(),
		Counters:  counters,
	})
	jobs := jobsservice.New(jobsservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: jobsrepo.Provide(),
	})

	reader := sdkmetric.NewManualReader()
	m, err := metrics.New(metrics.Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	regie := testutil.SeedRegie(t, db, node)
	agenda := testutil.SeedAgenda(t, db, node, regie.ID, "sports", false)
	return &fixture{
		db:       db,
		node:     node,
		reader:   reader,
		regie:    regie,
		campaign: testutil.SeedCampaign(t, db, node, regie.ID, agenda),
		promoter: New(Params{
			DB:        db,
			Log:       zap.NewNop(),
			GenID:     node,
			Clock:     clk,
			Metrics:   m,
			Campaigns: campaignrepo.Provide(),
			Journal:   journalrepo.Provide(),
			Invoices:  invoicerepo.Provide(),
			RegieRepo: regierepo.Provide(),
			Counters:  counters,
			Jobs:      jobs,
			Credits:   credits,
		}),
		agg: aggregator.New(aggregator.Params{
			DB:         db,
			Log:        zap.NewNop(),
			GenID:      node,
			Clock:      clk,
			Billing:    config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
			Campaigns:  campaignrepo.Provide(),
			Journal:    journalrepo.Provide(),
			Invoices:   invoicerepo.Provide(),
			AgendaRepo: agendarepo.Provide(),
		}),
	}
}

type priced struct {
	payer   string
	slug    string
	primary string
	amount  string
	status  journaldomain.Status
}

// completedDraft stores the lines in a new draft pool, aggregates them and
// completes the pool.
func (f *fixture) completedDraft(t *testing.T, facts ...priced) campaigndomain.Pool {
	t.Helper()
	ctx := context.Background()
	pool := testutil.SeedPool(t, f.db, f.node, f.campaign.ID, true, campaigndomain.PoolStatusRunning)
	lines := make([]*journaldomain.DraftJournalLine, 0, len(facts))
	for i, fact := range facts {
		amount := decimal.RequireFromString(fact.amount)
		quantity := int64(1)
		if amount.IsNegative() {
			amount, quantity = amount.Neg(), -1
		}
		status := fact.status
		if status == "" {
			status = journaldomain.StatusSuccess
		}
		day := testutil.Date(2024, 9, 2+7*i)
		lines = append(lines, &journaldomain.DraftJournalLine{
			ID:     f.node.Generate(),
			PoolID: pool.ID,
			LineFields: journaldomain.LineFields{
				EventDate:    day,
				Slug:         "sports@" + fact.slug,
				Label:        "Swimming",
				Amount:       amount,
				Quantity:     quantity,
				QuantityType: journaldomain.QuantityUnits,
				Event: datatypes.NewJSONType(journaldomain.Event{
					Slug: fact.slug, Agenda: "sports", PrimaryEvent: fact.primary, StartDatetime: day.Format("2006-01-02") + "T10:00:00",
				}),
				PricingData: datatypes.NewJSONType(journaldomain.PricingData{
					BookingDetails: &journaldomain.BookingDetails{Status: journaldomain.BookingPresence},
				}),
				Status: status,
				User:   journaldomain.User{UserExternalID: "u-" + fact.payer},
				Payer:  journaldomain.Payer{PayerExternalID: fact.payer},
			},
		})
	}
	require.NoError(t, journalrepo.Provide().InsertDraftLines(ctx, f.db, lines))
	require.NoError(t, f.agg.Generate(ctx, pool.ID, nil, nil))
	require.NoError(t, f.db.Model(&campaigndomain.Pool{}).Where("id = ?", pool.ID).
		Update("status", campaigndomain.PoolStatusCompleted).Error)
	pool.Status = campaigndomain.PoolStatusCompleted
	return pool
}

func (f *fixture) countPools(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&campaigndomain.Pool{}).Count(&count).Error)
	return count
}

func (f *fixture) promotions(t *testing.T, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != "poolbilling_promotions_total" {
				continue
			}
			for _, point := range metric.Data.(metricdata.Sum[int64]).DataPoints {
				if value, ok := point.Attributes.Value(attribute.Key("outcome")); ok && value.AsString() == outcome {
					total += point.Value
				}
			}
		}
	}
	return total
}

func TestPromoteGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	running := testutil.SeedPool(t, f.db, f.node, f.campaign.ID, true, campaigndomain.PoolStatusRunning)
	_, _, err := f.promoter.Promote(ctx, running.ID)
	assert.ErrorIs(t, err, campaigndomain.ErrPoolNotCompleted)

	old := f.completedDraft(t, priced{payer: "p1", slug: "swim-1", primary: "swim", amount: "1"})
	f.completedDraft(t, priced{payer: "p1", slug: "swim-1", primary: "swim", amount: "1"})
	_, _, err = f.promoter.Promote(ctx, old.ID)
	assert.ErrorIs(t, err, campaigndomain.ErrPoolTooOld)
	var guard *campaigndomain.PoolPromotionError
	require.ErrorAs(t, err, &guard)
	assert.Equal(t, campaigndomain.PromotionPoolTooOld, guard.Reason)

	final := testutil.SeedPool(t, f.db, f.node, f.campaign.ID, false, campaigndomain.PoolStatusCompleted)
	_, _, err = f.promoter.Promote(ctx, final.ID)
	assert.ErrorIs(t, err, campaigndomain.ErrPoolIsFinal)

	assert.Equal(t, int64(4), f.countPools(t))
	var jobs int64
	require.NoError(t, f.db.Model(&jobsdomain.CampaignJob{}).Count(&jobs).Error)
	assert.Zero(t, jobs)
}

func TestPromoteAndPopulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.completedDraft(t,
		priced{payer: "p1", slug: "swim-1", primary: "swim", amount: "1"},
		priced{payer: "p1", slug: "gala", amount: "2"},
		priced{payer: "p1", slug: "swim-2", primary: "swim", amount: "0", status: journaldomain.StatusError},
	)

	final, job, err := f.promoter.Promote(ctx, draft.ID)
	require.NoError(t, err)
	assert.False(t, final.Draft)
	assert.Equal(t, campaigndomain.PoolStatusRegistered, final.Status)
	assert.Equal(t, jobsdomain.CampaignJobPopulateFromDraft, job.Kind)
	action, err := job.Action()
	require.NoError(t, err)
	assert.Equal(t, jobsdomain.PopulateFromDraft{DraftPoolID: draft.ID, FinalPoolID: final.ID}, action)

	// one final pool per campaign
	_, _, err = f.promoter.Promote(ctx, draft.ID)
	assert.ErrorIs(t, err, campaigndomain.ErrPoolTooOld)
	var guard *campaigndomain.PoolPromotionError
	require.ErrorAs(t, err, &guard)
	assert.True(t, guard.Precondition())
	assert.Equal(t, int64(1), f.promotions(t, "accepted"))
	assert.Equal(t, int64(1), f.promotions(t, "rejected"))

	require.NoError(t, f.promoter.PopulateFromDraft(ctx, draft.ID, final.ID, nil))

	invoices, err := invoicerepo.Provide().ListPoolInvoices(ctx, f.db, final.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	invoice := invoices[0]
	assert.True(t, decimal.NewFromInt(3).Equal(invoice.TotalAmount))
	assert.True(t, decimal.NewFromInt(3).Equal(invoice.RemainingAmount))
	assert.Equal(t, int64(1), invoice.Number)
	assert.Equal(t, "F01-24-10-0000001", invoice.FormattedNumber)
	require.NotNil(t, invoice.CampaignID)
	assert.Equal(t, f.campaign.ID, *invoice.CampaignID)

	invoiceLines, err := invoicerepo.Provide().ListInvoiceLines(ctx, f.db, invoice.ID)
	require.NoError(t, err)
	assert.Len(t, invoiceLines, 2)
	known := map[snowflake.ID]bool{}
	for _, line := range invoiceLines {
		known[line.ID] = true
	}

	lines, err := journalrepo.Provide().ListAllLines(ctx, f.db, final.ID)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	linked := decimal.Zero
	for _, line := range lines {
		if line.Status == journaldomain.StatusError {
			assert.True(t, line.Orphan())
			continue
		}
		require.NotNil(t, line.InvoiceLineID)
		assert.True(t, known[*line.InvoiceLineID])
		linked = linked.Add(line.Total())
	}
	assert.True(t, linked.Equal(invoice.TotalAmount))

	got, err := campaignrepo.Provide().FindPool(ctx, f.db, final.ID)
	require.NoError(t, err)
	assert.Equal(t, campaigndomain.PoolStatusCompleted, got.Status)

	// populating a completed final pool again does nothing
	require.NoError(t, f.promoter.PopulateFromDraft(ctx, draft.ID, final.ID, nil))
	invoices, err = invoicerepo.Provide().ListPoolInvoices(ctx, f.db, final.ID)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestPopulateNetsMixedSignsIntoOneCreditAndAssignsIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// an open invoice of an earlier, finalized campaign
	earlier := testutil.SeedCampaign(t, f.db, f.node, f.regie.ID)
	require.NoError(t, f.db.Model(&campaigndomain.Campaign{}).Where("id = ?", earlier.ID).Update("finalized", true).Error)
	open := invoicedomain.Invoice{
		ID:              f.node.Generate(),
		CampaignID:      &earlier.ID,
		RegieID:         f.regie.ID,
		Number:          99,
		FormattedNumber: "F-OLD-99",
		RemainingAmount: decimal.NewFromInt(3),
		DocumentFields: invoicedomain.DocumentFields{
			DatePublication:     testutil.Date(2024, 9, 1),
			DatePaymentDeadline: testutil.Date(2024, 9, 15),
			DateDue:             testutil.Date(2024, 10, 31),
			TotalAmount:         decimal.NewFromInt(3),
			Payer:               journaldomain.Payer{PayerExternalID: "p1"},
		},
	}
	require.NoError(t, f.db.Create(&open).Error)

	draft := f.completedDraft(t,
		priced{payer: "p1", slug: "swim-1", primary: "swim", amount: "1"},
		priced{payer: "p1", slug: "swim-2", primary: "swim", amount: "2"},
		priced{payer: "p1", slug: "refund", amount: "-7"},
		priced{payer: "p2", slug: "swim-1", primary: "swim", amount: "5"},
	)
	final, _, err := f.promoter.Promote(ctx, draft.ID)
	require.NoError(t, err)

	progress := &recorder{}
	require.NoError(t, f.promoter.PopulateFromDraft(ctx, draft.ID, final.ID, progress))
	assert.Equal(t, 4+1+1+1, progress.total)
	assert.Equal(t, progress.total, progress.current)

	invoices, err := invoicerepo.Provide().ListPoolInvoices(ctx, f.db, final.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "p2", invoices[0].PayerExternalID)

	credits, err := invoicerepo.Provide().ListPoolCredits(ctx, f.db, final.ID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	credit := credits[0]
	assert.Equal(t, "A01-24-10-0000001", credit.FormattedNumber)
	assert.True(t, decimal.NewFromInt(4).Equal(credit.TotalAmount))
	assert.True(t, decimal.NewFromInt(3).Equal(credit.AssignedAmount))
	assert.True(t, decimal.NewFromInt(1).Equal(credit.RemainingAmount))
	assert.True(t, credit.Usable)

	var assignments []creditdomain.CreditAssignment
	require.NoError(t, f.db.Where("credit_id = ?", credit.ID).Find(&assignments).Error)
	require.Len(t, assignments, 1)
	require.NotNil(t, assignments[0].InvoiceID)
	assert.Equal(t, open.ID, *assignments[0].InvoiceID)

	// invoices minus credits equal the linked journal lines
	lines, err := journalrepo.Provide().ListAllLines(ctx, f.db, final.ID)
	require.NoError(t, err)
	linked := decimal.Zero
	for _, line := range lines {
		if !line.Orphan() {
			linked = linked.Add(line.Total())
		}
	}
	assert.True(t, invoices[0].TotalAmount.Sub(credit.TotalAmount).Equal(linked))
}

func TestPopulateRefusesWhenNewerDraftExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.completedDraft(t, priced{payer: "p1", slug: "swim-1", primary: "swim", amount: "1"})
	final, _, err := f.promoter.Promote(ctx, draft.ID)
	require.NoError(t, err)
	testutil.SeedPool(t, f.db, f.node, f.campaign.ID, true, campaigndomain.PoolStatusRegistered)

	err = f.promoter.PopulateFromDraft(ctx, draft.ID, final.ID, nil)
	var jobErr *jobsdomain.JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "more recent draft pool exists", jobErr.Message)

	got, err := campaignrepo.Provide().FindPool(ctx, f.db, final.ID)
	require.NoError(t, err)
	assert.Equal(t, campaigndomain.PoolStatusRegistered, got.Status)
}

type recorder struct {
	total   int
	current int
}

func (r *recorder) SetTotal(_ context.Context, total int) error {
	r.total = total
	return nil
}

func (r *recorder) Increment(_ context.Context, amount int) error {
	r.current += amount
	return nil
}
