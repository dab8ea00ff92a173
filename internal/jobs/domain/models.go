// Package domain defines the two level job graph driving a campaign:
// campaign jobs and the pool jobs they spawn.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusRegistered Status = "registered"
	StatusWaiting    Status = "waiting"
	StatusRunning    Status = "running"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusCompleted
}

type Level string

const (
	LevelCampaign Level = "campaign"
	LevelPool     Level = "pool"
)

func (l Level) Valid() bool {
	return l == LevelCampaign || l == LevelPool
}

type CampaignJobKind string

const (
	CampaignJobGenerate          CampaignJobKind = "generate"
	CampaignJobAssignCredits     CampaignJobKind = "assign_credits"
	CampaignJobPopulateFromDraft CampaignJobKind = "populate_from_draft"
)

type PoolJobKind string

const (
	PoolJobGenerateInvoices PoolJobKind = "generate_invoices"
	PoolJobFinalizeInvoices PoolJobKind = "finalize_invoices"
)

// CampaignAction is the typed payload of a campaign job. The concrete type
// selects what the job does.
type CampaignAction interface {
	CampaignJobKind() CampaignJobKind
}

// Generate prepares a draft pool and fans out pool jobs.
type Generate struct {
	DraftPoolID snowflake.ID `json:"draft_pool_id"`
}

func (Generate) CampaignJobKind() CampaignJobKind { return CampaignJobGenerate }

// AssignCredits applies credits of a finalized campaign.
type AssignCredits struct{}

func (AssignCredits) CampaignJobKind() CampaignJobKind { return CampaignJobAssignCredits }

// PopulateFromDraft copies a completed draft pool into the final pool.
type PopulateFromDraft struct {
	DraftPoolID snowflake.ID `json:"draft_pool_id"`
	FinalPoolID snowflake.ID `json:"final_pool_id"`
}

func (PopulateFromDraft) CampaignJobKind() CampaignJobKind { return CampaignJobPopulateFromDraft }

// PoolAction is the typed payload of a pool job.
type PoolAction interface {
	PoolJobKind() PoolJobKind
}

// User is a subscribed user as reported by the usage service.
type User struct {
	ExternalID string `json:"external_id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

// GenerateInvoices builds journal lines for a batch of users.
type GenerateInvoices struct {
	Users []User `json:"users"`
}

func (GenerateInvoices) PoolJobKind() PoolJobKind { return PoolJobGenerateInvoices }

// FinalizeInvoices aggregates the pool lines once every sibling completed.
type FinalizeInvoices struct{}

func (FinalizeInvoices) PoolJobKind() PoolJobKind { return PoolJobFinalizeInvoices }

// State is shared by campaign and pool jobs.
type State struct {
	Status       Status     `gorm:"type:text;not null;default:'registered';index" json:"status"`
	Exception    string     `gorm:"type:text;not null;default:''" json:"exception,omitempty"`
	FailureLabel string     `gorm:"type:text;not null;default:''" json:"failure_label,omitempty"`
	TotalCount   int        `gorm:"not null;default:0;check:total_count >= 0" json:"total_count"`
	CurrentCount int        `gorm:"not null;default:0;check:current_count >= 0" json:"current_count"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// Progression renders "current/total (percent%)".
func (s State) Progression() string {
	return Progression(s.CurrentCount, s.TotalCount)
}

func Progression(current, total int) string {
	if current <= 0 {
		return ""
	}
	if total <= 0 {
		return fmt.Sprintf("%d (unknown total)", current)
	}
	return fmt.Sprintf("%d/%d (%d%%)", current, total, current*100/total)
}

type CampaignJob struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	CampaignID snowflake.ID    `gorm:"not null;index" json:"campaign_id"`
	Kind       CampaignJobKind `gorm:"type:text;not null" json:"kind"`
	Params     datatypes.JSON  `gorm:"type:jsonb;not null" json:"params"`
	State
}

func (CampaignJob) TableName() string { return "campaign_jobs" }

func NewCampaignJob(id, campaignID snowflake.ID, action CampaignAction, now time.Time) (CampaignJob, error) {
	if action == nil {
		return CampaignJob{}, ErrInvalidAction
	}
	params, err := json.Marshal(action)
	if err != nil {
		return CampaignJob{}, fmt.Errorf("encode %s params: %w", action.CampaignJobKind(), err)
	}
	return CampaignJob{
		ID:         id,
		CampaignID: campaignID,
		Kind:       action.CampaignJobKind(),
		Params:     datatypes.JSON(params),
		State:      State{Status: StatusRegistered, CreatedAt: now, UpdatedAt: now},
	}, nil
}

// Action decodes the typed payload matching Kind.
func (j CampaignJob) Action() (CampaignAction, error) {
	switch j.Kind {
	case CampaignJobGenerate:
		var a Generate
		if err := decodeParams(j.Params, &a); err != nil {
			return nil, err
		}
		return a, nil
	case CampaignJobAssignCredits:
		return AssignCredits{}, nil
	case CampaignJobPopulateFromDraft:
		var a PopulateFromDraft
		if err := decodeParams(j.Params, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, j.Kind)
	}
}

func (j CampaignJob) Label() string {
	switch j.Kind {
	case CampaignJobGenerate:
		return "Invoices generation preparation"
	case CampaignJobAssignCredits:
		return "Campaign validation"
	case CampaignJobPopulateFromDraft:
		return "Invoices generation"
	}
	return string(j.Kind)
}

type PoolJob struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	PoolID        snowflake.ID   `gorm:"not null;index" json:"pool_id"`
	CampaignJobID *snowflake.ID  `gorm:"index" json:"campaign_job_id,omitempty"`
	Kind          PoolJobKind    `gorm:"type:text;not null" json:"kind"`
	Params        datatypes.JSON `gorm:"type:jsonb;not null" json:"params"`
	State
}

func (PoolJob) TableName() string { return "pool_jobs" }

func NewPoolJob(id, poolID snowflake.ID, campaignJobID *snowflake.ID, action PoolAction, now time.Time) (PoolJob, error) {
	if action == nil {
		return PoolJob{}, ErrInvalidAction
	}
	params, err := json.Marshal(action)
	if err != nil {
		return PoolJob{}, fmt.Errorf("encode %s params: %w", action.PoolJobKind(), err)
	}
	return PoolJob{
		ID:            id,
		PoolID:        poolID,
		CampaignJobID: campaignJobID,
		Kind:          action.PoolJobKind(),
		Params:        datatypes.JSON(params),
		State:         State{Status: StatusRegistered, CreatedAt: now, UpdatedAt: now},
	}, nil
}

func (j PoolJob) Action() (PoolAction, error) {
	switch j.Kind {
	case PoolJobGenerateInvoices:
		var a GenerateInvoices
		if err := decodeParams(j.Params, &a); err != nil {
			return nil, err
		}
		return a, nil
	case PoolJobFinalizeInvoices:
		return FinalizeInvoices{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, j.Kind)
	}
}

func (j PoolJob) Label() string {
	switch j.Kind {
	case PoolJobGenerateInvoices:
		return "Invoice lines generation"
	case PoolJobFinalizeInvoices:
		return "Invoices finalization"
	}
	return string(j.Kind)
}

func decodeParams(raw datatypes.JSON, target any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
