package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/poolbilling/pkg/db/option"
	"github.com/smallbiznis/poolbilling/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID    int64 `gorm:"primaryKey"`
	Kind  string
	Value int
}

func newStore(t *testing.T) (Repository[widget], *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&widget{}))
	return ProvideStore[widget](conn), conn
}

func TestStoreFindWithOptions(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.BatchCreate(ctx, []*widget{
		{ID: 1, Kind: "a", Value: 10},
		{ID: 2, Kind: "a", Value: 20},
		{ID: 3, Kind: "b", Value: 30},
		{ID: 4, Kind: "a", Value: 40},
	}))

	items, err := store.Find(ctx, &widget{Kind: "a"},
		option.ApplyOperator(option.Condition{Field: "value", Operator: option.GTE, Value: 20}),
		option.WithSortBy(option.QuerySortBy{}),
	)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(4), items[0].ID)
	assert.Equal(t, int64(2), items[1].ID)

	items, err = store.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: []int64{1, 3}}),
	)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestStorePagination(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, store.Create(ctx, &widget{ID: i, Kind: "a"}))
	}

	items, err := store.Find(ctx, nil,
		option.WithSortBy(option.QuerySortBy{}),
		option.ApplyPagination(pagination.Pagination{PageSize: 2}),
	)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	token, err := pagination.EncodeCursor(pagination.Cursor{ID: "4"})
	require.NoError(t, err)
	items, err = store.Find(ctx, nil,
		option.WithSortBy(option.QuerySortBy{}),
		option.ApplyPagination(pagination.Pagination{PageSize: 2, PageToken: token}),
	)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, int64(3), items[0].ID)
}

func TestStoreFindOneMissing(t *testing.T) {
	store, _ := newStore(t)

	item, err := store.FindOne(context.Background(), &widget{ID: 99})
	require.NoError(t, err)
	assert.Nil(t, item)

	count, err := store.Count(context.Background(), &widget{Kind: "a"})
	require.NoError(t, err)
	assert.Zero(t, count)
}
