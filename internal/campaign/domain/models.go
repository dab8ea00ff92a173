// Package domain defines campaigns, their computation pools and manually
// injected lines.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
)

type InjectedLinesMode string

const (
	InjectedLinesNo     InjectedLinesMode = "no"
	InjectedLinesPeriod InjectedLinesMode = "period"
	InjectedLinesAll    InjectedLinesMode = "all"
)

func (m InjectedLinesMode) Valid() bool {
	switch m {
	case InjectedLinesNo, InjectedLinesPeriod, InjectedLinesAll:
		return true
	}
	return false
}

// Campaign is a billing period definition. DateEnd is exclusive.
type Campaign struct {
	ID                  snowflake.ID          `gorm:"primaryKey" json:"id"`
	RegieID             snowflake.ID          `gorm:"not null;index" json:"regie_id"`
	Label               string                `gorm:"type:text;not null" json:"label"`
	DateStart           time.Time             `gorm:"type:date;not null" json:"date_start"`
	DateEnd             time.Time             `gorm:"type:date;not null;check:chk_campaigns_dates,date_end > date_start" json:"date_end"`
	DatePublication     time.Time             `gorm:"type:date;not null" json:"date_publication"`
	DatePaymentDeadline time.Time             `gorm:"type:date;not null" json:"date_payment_deadline"`
	DateDue             time.Time             `gorm:"type:date;not null" json:"date_due"`
	DateDebit           *time.Time            `gorm:"type:date" json:"date_debit,omitempty"`
	InjectedLines       InjectedLinesMode     `gorm:"type:text;not null;default:'no';check:chk_campaigns_injected_lines,injected_lines IN ('no','period','all')" json:"injected_lines"`
	AdjustmentCampaign  bool                  `gorm:"not null;default:false" json:"adjustment_campaign"`
	Finalized           bool                  `gorm:"not null;default:false" json:"finalized"`
	Agendas             []agendadomain.Agenda `gorm:"many2many:campaign_agendas;" json:"agendas,omitempty"`
	CreatedAt           time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }

// LastDay is the last billed day of the period.
func (c Campaign) LastDay() time.Time {
	return c.DateEnd.AddDate(0, 0, -1)
}

// Contains reports whether date lies in [DateStart, DateEnd).
func (c Campaign) Contains(date time.Time) bool {
	return !date.Before(c.DateStart) && date.Before(c.DateEnd)
}

type PoolStatus string

const (
	PoolStatusRegistered PoolStatus = "registered"
	PoolStatusRunning    PoolStatus = "running"
	PoolStatusWaiting    PoolStatus = "waiting"
	PoolStatusCompleted  PoolStatus = "completed"
	PoolStatusFailed     PoolStatus = "failed"
)

// Pool is one computation attempt of a campaign. At most one non draft pool
// exists per campaign; it is created by promotion.
type Pool struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	CampaignID  snowflake.ID `gorm:"not null;index" json:"campaign_id"`
	Draft       bool         `gorm:"not null" json:"draft"`
	Status      PoolStatus   `gorm:"type:text;not null;default:'registered';check:chk_pools_status,status IN ('registered','running','waiting','completed','failed')" json:"status"`
	Exception   string       `gorm:"type:text;not null;default:''" json:"exception,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Pool) TableName() string { return "pools" }

// InjectedLine is a manual usage adjustment folded into the next computation.
type InjectedLine struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	RegieID          snowflake.ID    `gorm:"not null;index" json:"regie_id"`
	EventDate        time.Time       `gorm:"type:date;not null" json:"event_date"`
	Slug             string          `gorm:"type:text;not null" json:"slug"`
	Label            string          `gorm:"type:text;not null" json:"label"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	UserExternalID   string          `gorm:"type:text;not null;index" json:"user_external_id"`
	PayerExternalID  string          `gorm:"type:text;not null" json:"payer_external_id"`
	PayerFirstName   string          `gorm:"type:text;not null;default:''" json:"payer_first_name"`
	PayerLastName    string          `gorm:"type:text;not null;default:''" json:"payer_last_name"`
	PayerAddress     string          `gorm:"type:text;not null;default:''" json:"payer_address"`
	PayerDirectDebit bool            `gorm:"not null;default:false" json:"payer_direct_debit"`
	CreatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (InjectedLine) TableName() string { return "injected_lines" }
