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
	"github.com/smallbiznis/poolbilling/internal/journal/domain"
	"github.com/smallbiznis/poolbilling/internal/journal/repository"
	"github.com/smallbiznis/poolbilling/internal/testutil"
	"github.com/smallbiznis/poolbilling/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  domain.Service
	pool campaigndomain.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewGenID(t)
	regie := testutil.SeedRegie(t, db, node)
	agenda := testutil.SeedAgenda(t, db, node, regie.ID, "sports", false)
	campaign := testutil.SeedCampaign(t, db, node, regie.ID, agenda)
	pool := testutil.SeedPool(t, db, node, campaign.ID, true, campaigndomain.PoolStatusCompleted)

	return &fixture{
		db:   db,
		node: node,
		pool: pool,
		svc: New(Params{
			DB:           db,
			Log:          zap.NewNop(),
			Clock:        clock.NewFakeClock(time.Date(2024, 10, 2, 8, 0, 0, 0, time.UTC)),
			Repo:         repository.Provide(),
			CampaignRepo: campaignrepo.Provide(),
		}),
	}
}

func (f *fixture) line(t *testing.T, user string, status domain.Status) domain.DraftJournalLine {
	t.Helper()
	line := domain.DraftJournalLine{
		ID:     f.node.Generate(),
		PoolID: f.pool.ID,
		LineFields: domain.LineFields{
			EventDate:    testutil.Date(2024, 9, 2),
			Slug:         "swim-1",
			Label:        "Swimming",
			Amount:       decimal.RequireFromString("10"),
			Quantity:     1,
			QuantityType: domain.QuantityUnits,
			Status:       status,
			User:         domain.User{UserExternalID: user},
			Payer:        domain.Payer{PayerExternalID: user},
		},
	}
	require.NoError(t, f.db.Create(&line).Error)
	return line
}

func TestSetErrorStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ok := f.line(t, "u1", domain.StatusSuccess)
	failed := f.line(t, "u2", domain.StatusError)

	_, err := f.svc.SetErrorStatus(ctx, failed.ID, domain.ErrorStatus("resolved"))
	assert.ErrorIs(t, err, domain.ErrInvalidErrorStatus)

	_, err = f.svc.SetErrorStatus(ctx, ok.ID, domain.ErrorStatusIgnored)
	assert.ErrorIs(t, err, domain.ErrNotAnErrorLine)

	_, err = f.svc.SetErrorStatus(ctx, f.node.Generate(), domain.ErrorStatusIgnored)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.svc.SetErrorStatus(ctx, failed.ID, domain.ErrorStatusFixed)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorStatusFixed, got.ErrorStatus)

	stored, err := f.svc.GetDraftLine(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorStatusFixed, stored.ErrorStatus)

	// clearing the annotation is allowed
	got, err = f.svc.SetErrorStatus(ctx, failed.ID, domain.ErrorStatusNone)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorStatusNone, got.ErrorStatus)
}

func TestSetErrorStatusRefusesFinalPool(t *testing.T) {
	f := newFixture(t)
	f.pool.Draft = false
	require.NoError(t, f.db.Model(&campaigndomain.Pool{}).Where("id = ?", f.pool.ID).Update("draft", false).Error)
	failed := f.line(t, "u1", domain.StatusError)

	_, err := f.svc.SetErrorStatus(context.Background(), failed.ID, domain.ErrorStatusIgnored)
	assert.ErrorIs(t, err, domain.ErrFinalPool)
}

func TestListPoolLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.line(t, "u1", domain.StatusSuccess)
	f.line(t, "u2", domain.StatusSuccess)
	f.line(t, "u3", domain.StatusError)

	lines, info, err := f.svc.ListPoolLines(ctx, f.pool.ID, domain.LineFilter{Status: domain.StatusError}, pagination.Pagination{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "u3", lines[0].UserExternalID)
	assert.True(t, lines[0].Draft)
	assert.True(t, decimal.NewFromInt(10).Equal(lines[0].Total))
	assert.False(t, info.HasMore)

	lines, info, err = f.svc.ListPoolLines(ctx, f.pool.ID, domain.LineFilter{}, pagination.Pagination{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, lines, 2)
	assert.True(t, info.HasMore)
	assert.NotEmpty(t, info.NextPageToken)

	_, _, err = f.svc.ListPoolLines(ctx, f.node.Generate(), domain.LineFilter{}, pagination.Pagination{})
	assert.ErrorIs(t, err, campaigndomain.ErrPoolNotFound)
}
