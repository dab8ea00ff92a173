package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/regie/domain"
	"github.com/smallbiznis/poolbilling/internal/regie/repository"
	"github.com/smallbiznis/poolbilling/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewGenID(t),
		Clock: clock.NewFakeClock(time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestCreateRegieDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, domain.CreateRegieRequest{Label: "Régie Périscolaire"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.ShortID)
	assert.Equal(t, "regie-periscolaire", first.Slug)
	assert.Equal(t, "{YY}", first.CounterName)
	assert.Equal(t, "F{REGIE2}-{YY}-{MM}-{SEQ7}", first.InvoiceNumberFormat)
	assert.True(t, first.AssignCreditsOnCreation)

	second, err := svc.Create(ctx, domain.CreateRegieRequest{Label: "Cantine"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.ShortID)

	_, err = svc.Create(ctx, domain.CreateRegieRequest{Label: "Cantine"})
	assert.ErrorIs(t, err, domain.ErrDuplicateRegie)

	_, err = svc.Create(ctx, domain.CreateRegieRequest{Label: "Bad", InvoiceNumberFormat: "F{NUMBER}"})
	assert.ErrorIs(t, err, domain.ErrInvalidFormat)
}

func TestNextIsMonotonicAndGapFree(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	regie, err := svc.Create(ctx, domain.CreateRegieRequest{Label: "Sports", ShortID: 4})
	require.NoError(t, err)

	at := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	var got []int64
	for i := 0; i < 5; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			value, err := svc.Next(ctx, tx, regie, domain.CounterKindInvoice, at)
			got = append(got, value)
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)

	// a rolled back allocation leaves no gap
	rollback := errors.New("rollback")
	err = db.Transaction(func(tx *gorm.DB) error {
		value, err := svc.Next(ctx, tx, regie, domain.CounterKindInvoice, at)
		require.NoError(t, err)
		assert.Equal(t, int64(6), value)
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	err = db.Transaction(func(tx *gorm.DB) error {
		number, err := svc.NextNumber(ctx, tx, regie, domain.CounterKindInvoice, at)
		require.NoError(t, err)
		assert.Equal(t, int64(6), number.Number)
		assert.Equal(t, "F04-24-10-0000006", number.Formatted)
		return nil
	})
	require.NoError(t, err)
}

func TestNextScopes(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	regie, err := svc.Create(ctx, domain.CreateRegieRequest{Label: "Crèche"})
	require.NoError(t, err)

	next := func(kind domain.CounterKind, at time.Time) int64 {
		var value int64
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			var err error
			value, err = svc.Next(ctx, tx, regie, kind, at)
			return err
		}))
		return value
	}

	sep := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)
	jan := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(1), next(domain.CounterKindInvoice, sep))
	assert.Equal(t, int64(2), next(domain.CounterKindInvoice, sep))
	assert.Equal(t, int64(1), next(domain.CounterKindCredit, sep))
	// new counter period starts from one
	assert.Equal(t, int64(1), next(domain.CounterKindInvoice, jan))
	assert.Equal(t, int64(3), next(domain.CounterKindInvoice, sep))

	counters, err := svc.Counters(ctx, regie.ID)
	require.NoError(t, err)
	assert.Len(t, counters, 3)
}

func TestNextRequiresTransaction(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Next(context.Background(), nil, domain.Regie{}, domain.CounterKindInvoice, time.Now())
	assert.ErrorIs(t, err, domain.ErrMissingTransaction)

	_, err = svc.Next(context.Background(), &gorm.DB{}, domain.Regie{}, "receipt", time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidCounterKind)
}
