package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	"gorm.io/gorm"
)

type CreateCampaignRequest struct {
	RegieID             snowflake.ID      `json:"regie_id"`
	Label               string            `json:"label"`
	DateStart           time.Time         `json:"date_start"`
	DateEnd             time.Time         `json:"date_end"`
	DatePublication     time.Time         `json:"date_publication"`
	DatePaymentDeadline time.Time         `json:"date_payment_deadline"`
	DateDue             time.Time         `json:"date_due"`
	DateDebit           *time.Time        `json:"date_debit,omitempty"`
	InjectedLines       InjectedLinesMode `json:"injected_lines"`
	AdjustmentCampaign  bool              `json:"adjustment_campaign"`
	AgendaSlugs         []string          `json:"agendas"`
}

type CreateInjectedLineRequest struct {
	RegieID          snowflake.ID    `json:"regie_id"`
	EventDate        time.Time       `json:"event_date"`
	Slug             string          `json:"slug"`
	Label            string          `json:"label"`
	Amount           decimal.Decimal `json:"amount"`
	UserExternalID   string          `json:"user_external_id"`
	PayerExternalID  string          `json:"payer_external_id"`
	PayerFirstName   string          `json:"payer_first_name"`
	PayerLastName    string          `json:"payer_last_name"`
	PayerAddress     string          `json:"payer_address"`
	PayerDirectDebit bool            `json:"payer_direct_debit"`
}

type Service interface {
	Create(ctx context.Context, req CreateCampaignRequest) (Campaign, error)
	Get(ctx context.Context, id snowflake.ID) (Campaign, error)
	List(ctx context.Context, regieID snowflake.ID) ([]Campaign, error)

	GetPool(ctx context.Context, id snowflake.ID) (Pool, error)
	ListPools(ctx context.Context, campaignID snowflake.ID) ([]Pool, error)
	// LatestPool returns the newest draft pool, or nil when none exists.
	LatestPool(ctx context.Context, campaignID snowflake.ID) (*Pool, error)

	// Generate creates a draft pool, locks the usage data of the campaign
	// agendas and registers the generate job. When the lock fails the pool is
	// returned failed along with the error.
	Generate(ctx context.Context, campaignID snowflake.ID) (Pool, jobsdomain.CampaignJob, error)
	MarkAsFinalized(ctx context.Context, campaignID snowflake.ID) (jobsdomain.CampaignJob, error)

	CreateInjectedLine(ctx context.Context, req CreateInjectedLineRequest) (InjectedLine, error)

	// Pool transitions run through tx when not nil.
	MarkPoolRunning(ctx context.Context, tx *gorm.DB, poolID snowflake.ID) (bool, error)
	MarkPoolCompleted(ctx context.Context, tx *gorm.DB, poolID snowflake.ID) (bool, error)
	MarkPoolFailed(ctx context.Context, tx *gorm.DB, poolID snowflake.ID, exception string) (bool, error)
	IsPoolRunning(ctx context.Context, poolID snowflake.ID) (bool, error)
}
