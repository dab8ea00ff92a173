// Package promotion turns the latest completed draft pool of a campaign
// into its single final pool: numbered invoices and credits, and an
// immutable copy of the journal.
package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/clock"
	creditdomain "github.com/smallbiznis/poolbilling/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"github.com/smallbiznis/poolbilling/internal/observability/logger"
	"github.com/smallbiznis/poolbilling/internal/observability/metrics"
	"github.com/smallbiznis/poolbilling/internal/observability/tracing"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"github.com/smallbiznis/poolbilling/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrPoolNotFound     = errors.New("pool_not_found")
	ErrCampaignNotFound = errors.New("campaign_not_found")
	ErrRegieNotFound    = errors.New("regie_not_found")
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Metrics   *metrics.Metrics `optional:"true"`
	Campaigns campaigndomain.Repository
	Journal   journaldomain.Repository
	Invoices  invoicedomain.Repository
	RegieRepo regiedomain.Repository
	Counters  regiedomain.CounterService
	Jobs      jobsdomain.Service
	Credits   creditdomain.Service
}

type Promoter struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	metrics   *metrics.Metrics
	campaigns campaigndomain.Repository
	journal   journaldomain.Repository
	invoices  invoicedomain.Repository
	regieRepo regiedomain.Repository
	counters  regiedomain.CounterService
	jobs      jobsdomain.Service
	credits   creditdomain.Service
}

func New(p Params) *Promoter {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Promoter{
		db:        p.DB,
		log:       p.Log.Named("promotion"),
		genID:     p.GenID,
		clock:     p.Clock,
		metrics:   m,
		campaigns: p.Campaigns,
		journal:   p.Journal,
		invoices:  p.Invoices,
		regieRepo: p.RegieRepo,
		counters:  p.Counters,
		jobs:      p.Jobs,
		credits:   p.Credits,
	}
}

// Promote checks the promotion guards of a draft pool, then registers the
// final pool and the populate_from_draft job that fills it. A refused
// promotion returns a *campaigndomain.PoolPromotionError and writes nothing.
func (p *Promoter) Promote(ctx context.Context, poolID snowflake.ID) (final campaigndomain.Pool, job jobsdomain.CampaignJob, err error) {
	ctx, span := tracing.StartSpan(ctx, "promotion.promote", attribute.Int64("pool_id", poolID.Int64()))
	defer func() { tracing.EndSpan(span, err) }()

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := p.campaigns.FindPool(ctx, tx, poolID)
		if err != nil {
			return err
		}
		if draft == nil {
			return ErrPoolNotFound
		}
		if err := p.checkGuards(ctx, tx, *draft); err != nil {
			return err
		}

		now := p.clock.Now()
		final = campaigndomain.Pool{
			ID:         p.genID.Generate(),
			CampaignID: draft.CampaignID,
			Draft:      false,
			Status:     campaigndomain.PoolStatusRegistered,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := p.campaigns.InsertPool(ctx, tx, &final); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return campaigndomain.ErrPoolTooOld
			}
			return err
		}
		job, err = p.jobs.CreateCampaignJob(ctx, tx, draft.CampaignID, jobsdomain.PopulateFromDraft{
			DraftPoolID: draft.ID,
			FinalPoolID: final.ID,
		})
		return err
	})

	var guard *campaigndomain.PoolPromotionError
	switch {
	case errors.As(err, &guard):
		p.metrics.RecordPromotion(ctx, "rejected")
		return campaigndomain.Pool{}, jobsdomain.CampaignJob{}, err
	case err != nil:
		return campaigndomain.Pool{}, jobsdomain.CampaignJob{}, err
	}
	p.metrics.RecordPromotion(ctx, "accepted")
	logger.WithPool(logger.WithContext(ctx, p.log), final.CampaignID.Int64(), final.ID.Int64()).
		Info("pool promoted", zap.String("draft_pool_id", poolID.String()), zap.String("job_id", job.ID.String()))
	return final, job, nil
}

func (p *Promoter) checkGuards(ctx context.Context, tx *gorm.DB, pool campaigndomain.Pool) error {
	if !pool.Draft {
		return campaigndomain.ErrPoolIsFinal
	}
	latest, err := p.campaigns.LatestDraftPool(ctx, tx, pool.CampaignID)
	if err != nil {
		return err
	}
	if latest == nil || latest.ID != pool.ID {
		return campaigndomain.ErrPoolTooOld
	}
	if pool.Status != campaigndomain.PoolStatusCompleted {
		return campaigndomain.ErrPoolNotCompleted
	}
	final, err := p.campaigns.FinalPool(ctx, tx, pool.CampaignID)
	if err != nil {
		return err
	}
	// a draft superseded by the final pool of its campaign
	if final != nil {
		return campaigndomain.ErrPoolTooOld
	}
	return nil
}

// PopulateFromDraft copies the draft pool into the registered final pool in
// a single transaction, then spends the new credits when the regie assigns
// credits on creation. Running it again on a completed final pool does
// nothing.
func (p *Promoter) PopulateFromDraft(ctx context.Context, draftID, finalID snowflake.ID, progress jobsdomain.Progress) (err error) {
	ctx, span := tracing.StartSpan(ctx, "promotion.populate_from_draft",
		attribute.Int64("draft_pool_id", draftID.Int64()),
		attribute.Int64("final_pool_id", finalID.Int64()),
	)
	defer func() { tracing.EndSpan(span, err) }()
	if progress == nil {
		progress = jobsdomain.NopProgress{}
	}

	src, err := p.loadSource(ctx, draftID, finalID)
	if err != nil || src == nil {
		return err
	}
	log := logger.WithPool(logger.WithContext(ctx, p.log), src.campaign.ID.Int64(), finalID.Int64())

	total := len(src.lines) + len(src.invoices) + len(src.credits)
	if src.regie.AssignCreditsOnCreation {
		total += len(src.credits)
	}
	if err := progress.SetTotal(ctx, total); err != nil {
		return err
	}

	var result populated
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = p.populate(ctx, tx, src)
		return err
	})
	if err != nil {
		var jobErr *jobsdomain.JobError
		if !errors.As(err, &jobErr) {
			if _, markErr := p.markFailed(ctx, finalID, err); markErr != nil {
				log.Error("mark final pool failed", zap.Error(markErr))
			}
		}
		return err
	}
	p.metrics.RecordPromotedDocuments(ctx, "invoice", len(result.invoices))
	p.metrics.RecordPromotedDocuments(ctx, "credit", len(result.credits))
	if err := progress.Increment(ctx, len(src.lines)+len(src.invoices)+len(src.credits)); err != nil {
		return err
	}

	if src.regie.AssignCreditsOnCreation {
		for _, creditID := range result.credits {
			if _, err := p.credits.AssignCredit(ctx, creditID, false); err != nil {
				return fmt.Errorf("assign credit %s: %w", creditID, err)
			}
			if err := progress.Increment(ctx, 1); err != nil {
				return err
			}
		}
	}
	log.Info("final pool populated",
		zap.Int("invoices", len(result.invoices)),
		zap.Int("credits", len(result.credits)),
		zap.Int("lines", len(src.lines)),
	)
	return nil
}

func (p *Promoter) markFailed(ctx context.Context, poolID snowflake.ID, cause error) (bool, error) {
	now := p.clock.Now()
	return p.campaigns.TransitionPool(ctx, p.db, poolID,
		[]campaigndomain.PoolStatus{campaigndomain.PoolStatusRegistered, campaigndomain.PoolStatusRunning},
		campaigndomain.PoolStatusFailed,
		map[string]any{"exception": cause.Error(), "completed_at": now, "updated_at": now},
	)
}
