package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// BillableQuery selects the injected lines a user still has to be billed for.
// A nil period means every unbilled line regardless of its date.
type BillableQuery struct {
	RegieID        snowflake.ID
	CampaignID     snowflake.ID
	UserExternalID string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, campaign *Campaign) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Campaign, error)
	List(ctx context.Context, db *gorm.DB, regieID snowflake.ID) ([]*Campaign, error)
	SetFinalized(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	InsertPool(ctx context.Context, db *gorm.DB, pool *Pool) error
	FindPool(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Pool, error)
	ListPools(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]*Pool, error)
	LatestDraftPool(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) (*Pool, error)
	// PreviousDraftPool is the newest draft pool created before poolID.
	PreviousDraftPool(ctx context.Context, db *gorm.DB, campaignID, poolID snowflake.ID) (*Pool, error)
	FinalPool(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) (*Pool, error)
	// TransitionPool moves a pool to status when it currently is in one of
	// from. It reports whether a row changed.
	TransitionPool(ctx context.Context, db *gorm.DB, id snowflake.ID, from []PoolStatus, to PoolStatus, updates map[string]any) (bool, error)

	InsertInjectedLine(ctx context.Context, db *gorm.DB, line *InjectedLine) error
	FindInjectedLine(ctx context.Context, db *gorm.DB, id snowflake.ID) (*InjectedLine, error)
	ListBillableInjectedLines(ctx context.Context, db *gorm.DB, q BillableQuery) ([]*InjectedLine, error)
}
