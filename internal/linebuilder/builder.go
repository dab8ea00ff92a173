// Package linebuilder turns the check statuses of subscribed users into
// priced draft journal lines.
package linebuilder

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/aggregator"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/config"
	"github.com/smallbiznis/poolbilling/internal/external"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"github.com/smallbiznis/poolbilling/internal/observability/logger"
	"github.com/smallbiznis/poolbilling/internal/observability/metrics"
	"github.com/smallbiznis/poolbilling/internal/observability/tracing"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrPoolNotFound     = errors.New("pool_not_found")
	ErrCampaignNotFound = errors.New("campaign_not_found")
	ErrRegieNotFound    = errors.New("regie_not_found")
	ErrFinalPool        = errors.New("pool_is_final")
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Billing    *config.BillingConfigHolder
	Metrics    *metrics.Metrics `optional:"true"`
	Usage      external.UsageService
	Pricing    external.PricingService
	Payers     external.PayerService
	Campaigns  campaigndomain.Repository
	Journal    journaldomain.Repository
	Agendas    agendadomain.Service
	RegieRepo  regiedomain.Repository
	Aggregator *aggregator.Aggregator
}

type Builder struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	billing    *config.BillingConfigHolder
	metrics    *metrics.Metrics
	usage      external.UsageService
	pricing    external.PricingService
	payers     external.PayerService
	campaigns  campaigndomain.Repository
	journal    journaldomain.Repository
	agendas    agendadomain.Service
	regieRepo  regiedomain.Repository
	aggregator *aggregator.Aggregator
}

func New(p Params) *Builder {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Builder{
		db:         p.DB,
		log:        p.Log.Named("linebuilder"),
		genID:      p.GenID,
		clock:      p.Clock,
		billing:    p.Billing,
		metrics:    m,
		usage:      p.Usage,
		pricing:    p.Pricing,
		payers:     p.Payers,
		campaigns:  p.Campaigns,
		journal:    p.Journal,
		agendas:    p.Agendas,
		regieRepo:  p.RegieRepo,
		aggregator: p.Aggregator,
	}
}

// SubscribedUsers lists the users subscribed to any billed agenda during
// the campaign, each once, in first seen order.
func (b *Builder) SubscribedUsers(ctx context.Context, bc *BuildContext) ([]jobsdomain.User, error) {
	seen := map[string]bool{}
	var users []jobsdomain.User
	for _, slug := range bc.AgendaSlugs() {
		subs, err := b.usage.GetSubscriptions(ctx, bc.Request, slug, bc.Campaign.DateStart, bc.Campaign.DateEnd)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			if sub.UserExternalID == "" || seen[sub.UserExternalID] {
				continue
			}
			seen[sub.UserExternalID] = true
			users = append(users, jobsdomain.User{
				ExternalID: sub.UserExternalID,
				FirstName:  sub.UserFirstName,
				LastName:   sub.UserLastName,
			})
		}
	}
	return users, nil
}

// BuildForUsers builds and stores the lines of every user. It stops early
// when the pool is no longer running. Usage service failures are returned
// as is and must fail the pool.
func (b *Builder) BuildForUsers(ctx context.Context, bc *BuildContext, users []jobsdomain.User, progress jobsdomain.Progress) (err error) {
	ctx, span := tracing.StartSpan(ctx, "linebuilder.build_for_users",
		attribute.Int64("pool_id", bc.Pool.ID.Int64()),
		attribute.Int("users", len(users)),
	)
	defer func() { tracing.EndSpan(span, err) }()
	if progress == nil {
		progress = jobsdomain.NopProgress{}
	}
	log := logger.WithPool(logger.WithContext(ctx, b.log), bc.Campaign.ID.Int64(), bc.Pool.ID.Int64())

	if err := progress.SetTotal(ctx, len(users)); err != nil {
		return err
	}
	for _, user := range users {
		running, err := b.poolRunning(ctx, bc.Pool.ID)
		if err != nil {
			return err
		}
		if !running {
			log.Info("pool no longer running, stop building lines")
			return nil
		}
		records, err := b.CheckStatuses(ctx, bc, user)
		if err != nil {
			return err
		}
		if _, err := b.BuildForUser(ctx, bc, user, records); err != nil {
			return fmt.Errorf("build lines for user %s: %w", user.ExternalID, err)
		}
		if err := progress.Increment(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}

// CheckStatuses fetches the check statuses of user on the billed agendas
// over the campaign period.
func (b *Builder) CheckStatuses(ctx context.Context, bc *BuildContext, user jobsdomain.User) ([]journaldomain.CheckStatusRecord, error) {
	if len(bc.Agendas) == 0 {
		return nil, nil
	}
	return b.usage.GetCheckStatus(ctx, bc.Request, bc.AgendaSlugs(), user.ExternalID, bc.Campaign.DateStart, bc.Campaign.DateEnd)
}

// BuildForUser prices records, appends the injected lines due to the user
// and stores everything on the pool.
func (b *Builder) BuildForUser(ctx context.Context, bc *BuildContext, user jobsdomain.User, records []journaldomain.CheckStatusRecord) ([]*journaldomain.DraftJournalLine, error) {
	snapshot := journaldomain.User{
		UserExternalID: user.ExternalID,
		UserFirstName:  user.FirstName,
		UserLastName:   user.LastName,
	}

	// injected lines come first so that their payer data spares a round trip
	injected, err := b.injectedLines(ctx, bc, user.ExternalID)
	if err != nil {
		return nil, err
	}
	for _, line := range injected {
		bc.Payers.Seed(line.PayerExternalID, injectedPayerData(*line))
	}

	fields, err := b.buildLines(ctx, bc, snapshot, records)
	if err != nil {
		return nil, err
	}
	for _, line := range injected {
		fields = append(fields, injectedLine(bc, snapshot, *line))
	}

	var lines []*journaldomain.DraftJournalLine
	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := b.journal.DeleteDraftLinesForUser(ctx, tx, bc.Pool.ID, user.ExternalID); err != nil {
			return err
		}
		var err error
		lines, err = b.store(ctx, tx, bc, fields)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (b *Builder) buildLines(ctx context.Context, bc *BuildContext, user journaldomain.User, records []journaldomain.CheckStatusRecord) ([]journaldomain.LineFields, error) {
	run := &userRun{bc: bc, user: user, resolved: map[string]journaldomain.ErrorStatus{}}
	if bc.PreviousPoolID != nil {
		resolved, err := b.journal.ResolvedErrors(ctx, b.db, *bc.PreviousPoolID, user.UserExternalID)
		if err != nil {
			return nil, err
		}
		run.resolved = resolved
	}

	var out []journaldomain.LineFields
	for _, record := range records {
		agenda, ok := bc.Agendas[record.Event.Agenda]
		if !ok {
			b.log.Warn("check status for an agenda outside the campaign", zap.String("agenda", record.Event.Agenda))
			continue
		}
		eventDate, err := record.Event.EventDate()
		if err != nil {
			b.log.Warn("skip check status with an invalid start", zap.String("slug", record.Event.QualifiedSlug()), zap.Error(err))
			continue
		}

		base := journaldomain.LineFields{
			EventDate:    eventDate,
			Slug:         record.Event.QualifiedSlug(),
			Label:        record.Event.Label,
			Quantity:     1,
			QuantityType: journaldomain.QuantityUnits,
			Event:        datatypes.NewJSONType(record.Event),
			Booking:      datatypes.NewJSONType(record.Booking),
			User:         user,
		}
		if agenda.PartialBookings {
			base.Quantity = int64(record.Booking.ComputedDuration)
			base.QuantityType = journaldomain.QuantityMinutes
		}
		lines, err := b.buildRecord(ctx, run, agenda, record, base)
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}
	return out, nil
}

func (b *Builder) injectedLines(ctx context.Context, bc *BuildContext, userExternalID string) ([]*campaigndomain.InjectedLine, error) {
	q := campaigndomain.BillableQuery{
		RegieID:        bc.Campaign.RegieID,
		CampaignID:     bc.Campaign.ID,
		UserExternalID: userExternalID,
		PeriodEnd:      &bc.Campaign.DateEnd,
	}
	switch bc.Campaign.InjectedLines {
	case campaigndomain.InjectedLinesPeriod:
		q.PeriodStart = &bc.Campaign.DateStart
	case campaigndomain.InjectedLinesAll:
	default:
		return nil, nil
	}
	return b.campaigns.ListBillableInjectedLines(ctx, b.db, q)
}

func (b *Builder) store(ctx context.Context, tx *gorm.DB, bc *BuildContext, fields []journaldomain.LineFields) ([]*journaldomain.DraftJournalLine, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	now := b.clock.Now()
	counts := map[journaldomain.Status]int{}
	lines := make([]*journaldomain.DraftJournalLine, 0, len(fields))
	for _, f := range fields {
		f.CreatedAt = now
		f.UpdatedAt = now
		lines = append(lines, &journaldomain.DraftJournalLine{
			ID:         b.genID.Generate(),
			PoolID:     bc.Pool.ID,
			LineFields: f,
		})
		counts[f.Status]++
	}
	if err := b.journal.InsertDraftLines(ctx, tx, lines); err != nil {
		return nil, err
	}
	for status, count := range counts {
		b.metrics.RecordJournalLines(ctx, string(status), count)
	}
	return lines, nil
}

func (b *Builder) poolRunning(ctx context.Context, poolID snowflake.ID) (bool, error) {
	pool, err := b.campaigns.FindPool(ctx, b.db, poolID)
	if err != nil {
		return false, err
	}
	return pool != nil && pool.Status == campaigndomain.PoolStatusRunning, nil
}
