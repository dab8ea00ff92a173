package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	agendarepo "github.com/smallbiznis/poolbilling/internal/agenda/repository"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	campaignrepo "github.com/smallbiznis/poolbilling/internal/campaign/repository"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/config"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/poolbilling/internal/invoice/repository"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	journalrepo "github.com/smallbiznis/poolbilling/internal/journal/repository"
	"github.com/smallbiznis/poolbilling/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	agg      *Aggregator
	campaign campaigndomain.Campaign
	pool     campaigndomain.Pool
}

func newFixture(t *testing.T, emptyInvoiceForZeroNet bool) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewGenID(t)
	cfg := config.DefaultBillingConfig()
	cfg.Pipeline.EmptyInvoiceForZeroNet = emptyInvoiceForZeroNet

	regie := testutil.SeedRegie(t, db, node)
	agenda := testutil.SeedAgenda(t, db, node, regie.ID, "sports", false)
	campaign := testutil.SeedCampaign(t, db, node, regie.ID, agenda)
	debit := testutil.Date(2024, 11, 5)
	require.NoError(t, db.Model(&campaigndomain.Campaign{}).Where("id = ?", campaign.ID).Update("date_debit", debit).Error)
	campaign.DateDebit = &debit

	return &fixture{
		db:       db,
		node:     node,
		campaign: campaign,
		pool:     testutil.SeedPool(t, db, node, campaign.ID, true, campaigndomain.PoolStatusRunning),
		agg: New(Params{
			DB:         db,
			Log:        zap.NewNop(),
			GenID:      node,
			Clock:      clock.NewFakeClock(time.Date(2024, 10, 1, 8, 0, 0, 0, time.UTC)),
			Billing:    config.NewStaticBillingConfigHolder(cfg),
			Campaigns:  campaignrepo.Provide(),
			Journal:    journalrepo.Provide(),
			Invoices:   invoicerepo.Provide(),
			AgendaRepo: agendarepo.Provide(),
		}),
	}
}

type lineSpec struct {
	payer   string
	user    string
	slug    string
	primary string
	day     int
	amount  string
	qty     int64
	status  string
	minutes bool
}

func newLine(node *snowflake.Node, poolID snowflake.ID, spec lineSpec) *journaldomain.DraftJournalLine {
	if spec.user == "" {
		spec.user = "u1"
	}
	if spec.qty == 0 {
		spec.qty = 1
	}
	if spec.status == "" {
		spec.status = journaldomain.BookingPresence
	}
	day := testutil.Date(2024, 9, spec.day)
	amount := decimal.RequireFromString(spec.amount)
	line := &journaldomain.DraftJournalLine{
		ID:     node.Generate(),
		PoolID: poolID,
		LineFields: journaldomain.LineFields{
			EventDate:    day,
			Slug:         "sports@" + spec.slug,
			Label:        "Swimming",
			Amount:       amount,
			Quantity:     spec.qty,
			QuantityType: journaldomain.QuantityUnits,
			Event: datatypes.NewJSONType(journaldomain.Event{
				Slug:          spec.slug,
				Agenda:        "sports",
				PrimaryEvent:  spec.primary,
				Label:         "Swimming",
				StartDatetime: day.Format("2006-01-02") + "T10:00:00",
			}),
			PricingData: datatypes.NewJSONType(journaldomain.PricingData{
				Pricing:        &amount,
				BookingDetails: &journaldomain.BookingDetails{Status: spec.status},
			}),
			Status: journaldomain.StatusSuccess,
			User:   journaldomain.User{UserExternalID: spec.user},
			Payer:  journaldomain.Payer{PayerExternalID: spec.payer},
		},
	}
	if spec.minutes {
		line.QuantityType = journaldomain.QuantityMinutes
		line.Description = journaldomain.DescriptionBookedHours
	}
	return line
}

func (f *fixture) insert(t *testing.T, specs ...lineSpec) []*journaldomain.DraftJournalLine {
	t.Helper()
	lines := make([]*journaldomain.DraftJournalLine, 0, len(specs))
	for _, spec := range specs {
		lines = append(lines, newLine(f.node, f.pool.ID, spec))
	}
	require.NoError(t, journalrepo.Provide().InsertDraftLines(context.Background(), f.db, lines))
	return lines
}

func TestAggregateGroupsRecurringEvents(t *testing.T) {
	node := testutil.NewGenID(t)
	campaign := campaigndomain.Campaign{DateStart: testutil.Date(2024, 9, 1), DateEnd: testutil.Date(2024, 10, 1)}
	cat := catalogue{agendas: map[string]agendadomain.Agenda{"sports": {Slug: "sports", Label: "Sports"}}}

	lines := []*journaldomain.DraftJournalLine{
		newLine(node, 1, lineSpec{payer: "p1", slug: "swim-1", primary: "swim", day: 2, amount: "10"}),
		newLine(node, 1, lineSpec{payer: "p1", slug: "swim-2", primary: "swim", day: 9, amount: "10"}),
		newLine(node, 1, lineSpec{payer: "p1", slug: "swim-3", primary: "swim", day: 16, amount: "12"}),
		newLine(node, 1, lineSpec{payer: "p1", slug: "gala", day: 20, amount: "30"}),
		newLine(node, 1, lineSpec{payer: "p1", slug: "swim-4", primary: "swim", day: 23, amount: "10", status: journaldomain.BookingNotBooked}),
	}
	out := aggregate(campaign, cat, lines)
	require.Len(t, out, 3)

	grouped := out[0].fields
	assert.Equal(t, "02/09, 09/09", grouped.Description)
	assert.True(t, decimal.NewFromInt(2).Equal(grouped.Quantity))
	assert.True(t, decimal.NewFromInt(20).Equal(grouped.TotalAmount))
	assert.Equal(t, "sports@swim", grouped.EventSlug)
	assert.Equal(t, "Sports", grouped.ActivityLabel)
	assert.Equal(t, campaign.DateStart, grouped.EventDate)
	assert.Equal(t, []string{"2024-09-02", "2024-09-09"}, grouped.Details.Data().Dates)
	assert.Equal(t, "10:00:00", grouped.Details.Data().EventTime)
	assert.Len(t, out[0].sources, 2)

	assert.True(t, decimal.NewFromInt(12).Equal(out[1].fields.TotalAmount))

	single := out[2].fields
	assert.Equal(t, "sports@gala", single.EventSlug)
	assert.Equal(t, testutil.Date(2024, 9, 20), single.EventDate)
	assert.True(t, decimal.NewFromInt(30).Equal(single.TotalAmount))
}

func TestAggregateAdjustmentCampaignIgnoresPlainPresences(t *testing.T) {
	node := testutil.NewGenID(t)
	campaign := campaigndomain.Campaign{AdjustmentCampaign: true, DateStart: testutil.Date(2024, 9, 1)}
	lines := []*journaldomain.DraftJournalLine{
		newLine(node, 1, lineSpec{payer: "p1", slug: "swim-1", primary: "swim", day: 2, amount: "0"}),
		newLine(node, 1, lineSpec{payer: "p1", slug: "swim-2", primary: "swim", day: 9, amount: "10", status: journaldomain.BookingAbsence}),
	}
	out := aggregate(campaign, catalogue{}, lines)
	require.Len(t, out, 1)
	assert.Equal(t, journaldomain.BookingAbsence, out[0].fields.Details.Data().Status)
}

func TestGroupedLineBookedHours(t *testing.T) {
	node := testutil.NewGenID(t)
	campaign := campaigndomain.Campaign{DateStart: testutil.Date(2024, 9, 1)}
	lines := []*journaldomain.DraftJournalLine{
		newLine(node, 1, lineSpec{payer: "p1", slug: "club-1", primary: "club", day: 2, amount: "6", qty: 60, minutes: true}),
		newLine(node, 1, lineSpec{payer: "p1", slug: "club-2", primary: "club", day: 9, amount: "6", qty: 45, minutes: true}),
	}
	out := aggregate(campaign, catalogue{}, lines)
	require.Len(t, out, 1)
	assert.Equal(t, "1.75 booked hours for the period", out[0].fields.Description)
	assert.True(t, decimal.RequireFromString("1.75").Equal(out[0].fields.Quantity))
	assert.True(t, decimal.RequireFromString("10.5").Equal(out[0].fields.TotalAmount))
}

func TestQuarterHours(t *testing.T) {
	tests := []struct {
		minutes int64
		want    string
	}{
		{60, "1"},
		{50, "0.75"},
		{97, "1.5"},
		{0, "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quarterHours(tt.minutes))
	}
}

func TestGenerateBuildsOneDocumentPerPayer(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.insert(t,
		lineSpec{payer: "p1", slug: "swim-1", primary: "swim", day: 2, amount: "10"},
		lineSpec{payer: "p1", slug: "swim-2", primary: "swim", day: 9, amount: "10"},
	)
	f.insert(t,
		lineSpec{payer: "p2", user: "u2", slug: "refund", day: 3, amount: "5", qty: -1},
		lineSpec{payer: "p3", user: "u3", slug: "swim-1", primary: "swim", day: 2, amount: "10"},
		lineSpec{payer: "p3", user: "u3", slug: "fix", day: 4, amount: "10", qty: -1},
	)
	failed := newLine(f.node, f.pool.ID, lineSpec{payer: "p4", user: "u4", slug: "swim-1", primary: "swim", day: 2, amount: "0"})
	failed.Status = journaldomain.StatusError
	require.NoError(t, f.db.Create(failed).Error)
	require.NoError(t, f.db.Model(&journaldomain.DraftJournalLine{}).Where("payer_external_id = ?", "p1").
		Update("payer_direct_debit", true).Error)

	require.NoError(t, f.agg.Generate(ctx, f.pool.ID, nil, nil))

	repo := invoicerepo.Provide()
	invoices, err := repo.ListDraftInvoices(ctx, f.db, f.pool.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	byPayer := map[string]*invoicedomain.DraftInvoice{}
	for _, invoice := range invoices {
		byPayer[invoice.PayerExternalID] = invoice
	}
	require.Contains(t, byPayer, "p1")
	assert.True(t, decimal.NewFromInt(20).Equal(byPayer["p1"].TotalAmount))
	assert.Equal(t, "Invoice from 01/09/2024 to 30/09/2024", byPayer["p1"].Label)
	require.NotNil(t, byPayer["p1"].DateDebit)
	require.Contains(t, byPayer, "p3")
	assert.True(t, byPayer["p3"].TotalAmount.IsZero())
	assert.Nil(t, byPayer["p3"].DateDebit)

	credits, err := repo.ListDraftCredits(ctx, f.db, f.pool.ID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, "p2", credits[0].PayerExternalID)
	assert.True(t, decimal.NewFromInt(5).Equal(credits[0].TotalAmount))
	assert.Equal(t, "Credit from 01/09/2024 to 30/09/2024", credits[0].Label)

	creditLines, err := repo.ListDraftCreditLines(ctx, f.db, f.pool.ID)
	require.NoError(t, err)
	require.Len(t, creditLines, 1)
	assert.True(t, decimal.NewFromInt(1).Equal(creditLines[0].Quantity))

	lines, err := journalrepo.Provide().ListAllDraftLines(ctx, f.db, f.pool.ID)
	require.NoError(t, err)
	for _, line := range lines {
		switch line.PayerExternalID {
		case "p2":
			assert.NotNil(t, line.CreditLineID)
		case "p4":
			assert.True(t, line.Orphan())
		default:
			assert.NotNil(t, line.InvoiceLineID, line.Slug)
		}
	}
}

func TestGenerateZeroNetWithoutEmptyInvoice(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.insert(t,
		lineSpec{payer: "p3", slug: "swim-1", primary: "swim", day: 2, amount: "10"},
		lineSpec{payer: "p3", slug: "fix", day: 4, amount: "10", qty: -1},
	)

	require.NoError(t, f.agg.Generate(ctx, f.pool.ID, nil, nil))

	invoices, err := invoicerepo.Provide().ListDraftInvoices(ctx, f.db, f.pool.ID)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestGenerateStopsWhenPoolIsNotRunning(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.insert(t, lineSpec{payer: "p1", slug: "swim-1", primary: "swim", day: 2, amount: "10"})
	require.NoError(t, f.db.Model(&campaigndomain.Pool{}).Where("id = ?", f.pool.ID).
		Update("status", campaigndomain.PoolStatusFailed).Error)

	require.NoError(t, f.agg.Generate(ctx, f.pool.ID, nil, nil))

	invoices, err := invoicerepo.Provide().ListDraftInvoices(ctx, f.db, f.pool.ID)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestGenerateRejectsFinalPool(t *testing.T) {
	f := newFixture(t, true)
	final := testutil.SeedPool(t, f.db, f.node, f.campaign.ID, false, campaigndomain.PoolStatusRegistered)

	err := f.agg.Generate(context.Background(), final.ID, nil, nil)
	assert.ErrorIs(t, err, ErrFinalPool)
}

func TestRegenerateReplacesPayerDocuments(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.insert(t,
		lineSpec{payer: "p1", slug: "swim-1", primary: "swim", day: 2, amount: "10"},
		lineSpec{payer: "p2", user: "u2", slug: "swim-1", primary: "swim", day: 2, amount: "10"},
	)
	require.NoError(t, f.agg.Generate(ctx, f.pool.ID, nil, nil))

	f.insert(t, lineSpec{payer: "p1", slug: "swim-2", primary: "swim", day: 9, amount: "10"})
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.agg.Regenerate(ctx, tx, f.pool.ID, []string{"p1"})
	}))

	invoices, err := invoicerepo.Provide().ListDraftInvoices(ctx, f.db, f.pool.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	for _, invoice := range invoices {
		want := decimal.NewFromInt(10)
		if invoice.PayerExternalID == "p1" {
			want = decimal.NewFromInt(20)
		}
		assert.True(t, want.Equal(invoice.TotalAmount), invoice.PayerExternalID)
	}

	lines, err := invoicerepo.Provide().ListDraftInvoiceLines(ctx, f.db, f.pool.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}
