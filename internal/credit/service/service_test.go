package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	campaignrepo "github.com/smallbiznis/poolbilling/internal/campaign/repository"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/credit/domain"
	"github.com/smallbiznis/poolbilling/internal/credit/repository"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/poolbilling/internal/invoice/repository"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	regierepo "github.com/smallbiznis/poolbilling/internal/regie/repository"
	regieservice "github.com/smallbiznis/poolbilling/internal/regie/service"
	"github.com/smallbiznis/poolbilling/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	node     *snowflake.Node
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
	svc := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      repository.Provide(),
		Invoices:  invoicerepo.Provide(),
		Campaigns: campaignrepo.Provide(),
		RegieRepo: regierepo.Provide(),
		Counters:  counters,
	})
	regie := testutil.SeedRegie(t, db, node)
	campaign := testutil.SeedCampaign(t, db, node, regie.ID)
	return &fixture{svc: svc, db: db, node: node, regie: regie, campaign: campaign}
}

func (f *fixture) finalize(t *testing.T) {
	t.Helper()
	require.NoError(t, f.db.Model(&campaigndomain.Campaign{}).Where("id = ?", f.campaign.ID).Update("finalized", true).Error)
}

func (f *fixture) document(payer string, total string) invoicedomain.DocumentFields {
	return invoicedomain.DocumentFields{
		Label:               "doc",
		DatePublication:     testutil.Date(2024, 10, 1),
		DatePaymentDeadline: testutil.Date(2024, 10, 15),
		DateDue:             testutil.Date(2024, 10, 31),
		Origin:              invoicedomain.OriginCampaign,
		TotalAmount:         decimal.RequireFromString(total),
		Payer:               journaldomain.Payer{PayerExternalID: payer},
	}
}

func (f *fixture) invoice(t *testing.T, payer, total string) invoicedomain.Invoice {
	t.Helper()
	amount := decimal.RequireFromString(total)
	invoice := invoicedomain.Invoice{
		ID:              f.node.Generate(),
		CampaignID:      &f.campaign.ID,
		RegieID:         f.regie.ID,
		Number:          f.node.Generate().Int64(),
		FormattedNumber: f.node.Generate().String(),
		RemainingAmount: amount,
		DocumentFields:  f.document(payer, total),
	}
	require.NoError(t, f.db.Create(&invoice).Error)
	return invoice
}

func (f *fixture) credit(t *testing.T, payer, total string) invoicedomain.Credit {
	t.Helper()
	amount := decimal.RequireFromString(total)
	credit := invoicedomain.Credit{
		ID:              f.node.Generate(),
		CampaignID:      &f.campaign.ID,
		RegieID:         f.regie.ID,
		Number:          f.node.Generate().Int64(),
		FormattedNumber: f.node.Generate().String(),
		RemainingAmount: amount,
		Usable:          true,
		DocumentFields:  f.document(payer, total),
	}
	require.NoError(t, f.db.Create(&credit).Error)
	return credit
}

func reload[T any](t *testing.T, db *gorm.DB, id snowflake.ID) T {
	t.Helper()
	var out T
	require.NoError(t, db.Where("id = ?", id).First(&out).Error)
	return out
}

func TestAssignCreditSpreadsOverInvoicesOldestFirst(t *testing.T) {
	f := newFixture(t)
	f.finalize(t)
	ctx := context.Background()

	first := f.invoice(t, "payer-1", "10")
	second := f.invoice(t, "payer-1", "10")
	other := f.invoice(t, "payer-2", "10")
	credit := f.credit(t, "payer-1", "15")

	assignments, err := f.svc.AssignCredit(ctx, credit.ID, false)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.True(t, decimal.NewFromInt(10).Equal(assignments[0].Amount))
	assert.True(t, decimal.NewFromInt(5).Equal(assignments[1].Amount))

	got := reload[invoicedomain.Credit](t, f.db, credit.ID)
	assert.True(t, decimal.NewFromInt(15).Equal(got.AssignedAmount))
	assert.True(t, got.RemainingAmount.IsZero())

	assert.True(t, reload[invoicedomain.Invoice](t, f.db, first.ID).RemainingAmount.IsZero())
	assert.True(t, decimal.NewFromInt(5).Equal(reload[invoicedomain.Invoice](t, f.db, second.ID).RemainingAmount))
	assert.True(t, decimal.NewFromInt(10).Equal(reload[invoicedomain.Invoice](t, f.db, other.ID).RemainingAmount))

	payments, err := f.svc.ListInvoicePayments(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentTypeCredit, payments[0].PaymentType)
	assert.Equal(t, int64(1), payments[0].Number)
	assert.Equal(t, "R01-24-10-0000001", payments[0].FormattedNumber)

	// a second run finds nothing left
	again, err := f.svc.AssignCredit(ctx, credit.ID, false)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestAssignCreditWithoutForceFollowsRegieSetting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.Model(&regiedomain.Regie{}).Where("id = ?", f.regie.ID).
		Update("assign_credits_on_creation", false).Error)

	f.invoice(t, "payer-1", "10")
	credit := f.credit(t, "payer-1", "4")

	f.finalize(t)
	assignments, err := f.svc.AssignCredit(ctx, credit.ID, false)
	require.NoError(t, err)
	assert.Empty(t, assignments)

	assignments, err = f.svc.AssignCredit(ctx, credit.ID, true)
	require.NoError(t, err)
	assert.Len(t, assignments, 1)
}

func TestAssignCreditSkipsInvoicesOfUnfinalizedCampaigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.invoice(t, "payer-1", "10")
	credit := f.credit(t, "payer-1", "4")

	assignments, err := f.svc.AssignCredit(ctx, credit.ID, true)
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestAssignCreditIgnoresCancelledAndOverdueInvoices(t *testing.T) {
	f := newFixture(t)
	f.finalize(t)
	ctx := context.Background()

	cancelled := f.invoice(t, "payer-1", "10")
	now := time.Now()
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Where("id = ?", cancelled.ID).Update("cancelled_at", now).Error)
	overdue := f.invoice(t, "payer-1", "10")
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Where("id = ?", overdue.ID).Update("date_due", testutil.Date(2024, 10, 1)).Error)
	credit := f.credit(t, "payer-1", "4")

	assignments, err := f.svc.AssignCredit(ctx, credit.ID, false)
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestAssignCreditsToInvoice(t *testing.T) {
	f := newFixture(t)
	f.finalize(t)
	ctx := context.Background()

	small := f.credit(t, "payer-1", "3")
	large := f.credit(t, "payer-1", "30")
	invoice := f.invoice(t, "payer-1", "12")

	assignments, err := f.svc.AssignCreditsToInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, small.ID, assignments[0].CreditID)
	assert.Equal(t, large.ID, assignments[1].CreditID)
	assert.True(t, decimal.NewFromInt(9).Equal(assignments[1].Amount))

	got := reload[invoicedomain.Invoice](t, f.db, invoice.ID)
	assert.True(t, got.RemainingAmount.IsZero())
	assert.True(t, decimal.NewFromInt(12).Equal(got.PaidAmount))
	assert.True(t, decimal.NewFromInt(21).Equal(reload[invoicedomain.Credit](t, f.db, large.ID).RemainingAmount))
}

func TestMakeCampaignAssignmentsRequiresFinalizedCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.MakeCampaignAssignments(ctx, f.campaign.ID, nil)
	assert.ErrorIs(t, err, campaigndomain.ErrCampaignNotFinalized)

	f.finalize(t)
	invoice := f.invoice(t, "payer-1", "8")
	f.credit(t, "payer-1", "5")
	require.NoError(t, f.svc.MakeCampaignAssignments(ctx, f.campaign.ID, nil))

	assert.True(t, decimal.NewFromInt(3).Equal(reload[invoicedomain.Invoice](t, f.db, invoice.ID).RemainingAmount))
}

func TestRefundCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	credit := f.credit(t, "payer-1", "6.50")
	refund, err := f.svc.RefundCredit(ctx, credit.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("6.50").Equal(refund.Amount))
	assert.Equal(t, "V01-24-10-0000001", refund.FormattedNumber)

	assignments, err := f.svc.ListAssignments(ctx, credit.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.NotNil(t, assignments[0].RefundID)
	assert.Nil(t, assignments[0].PaymentID)

	_, err = f.svc.RefundCredit(ctx, credit.ID)
	assert.ErrorIs(t, err, domain.ErrNothingToRefund)
}

func TestCreditBoundIsEnforcedByStorage(t *testing.T) {
	f := newFixture(t)
	credit := f.credit(t, "payer-1", "5")

	err := f.db.Model(&invoicedomain.Credit{}).Where("id = ?", credit.ID).
		Update("assigned_amount", decimal.NewFromInt(6)).Error
	assert.Error(t, err)
}
