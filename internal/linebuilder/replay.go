package linebuilder

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/cache"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReplayError prices again the event of a warning or error line of a draft
// pool. Every line of that user event is replaced and the documents of the
// payers involved, before and after, are aggregated again.
func (b *Builder) ReplayError(ctx context.Context, lineID snowflake.ID) ([]*journaldomain.DraftJournalLine, error) {
	line, err := b.journal.FindDraftLine(ctx, b.db, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, journaldomain.ErrNotFound
	}
	if line.Status == journaldomain.StatusSuccess {
		return nil, journaldomain.ErrNotAnErrorLine
	}
	at := strings.Index(line.Slug, "@")
	if at <= 0 || line.FromInjectedLineID != nil {
		return nil, journaldomain.ErrNotReplayable
	}

	bc, err := b.NewBuildContext(ctx, line.PoolID)
	if errors.Is(err, ErrFinalPool) {
		return nil, journaldomain.ErrFinalPool
	}
	if err != nil {
		return nil, err
	}
	if err := b.checkReplayable(ctx, bc); err != nil {
		return nil, err
	}
	agenda, err := b.agendas.GetBySlug(ctx, line.Slug[:at])
	if errors.Is(err, agendadomain.ErrNotFound) {
		return nil, journaldomain.ErrNotReplayable
	}
	if err != nil {
		return nil, err
	}

	day := line.EventDate
	next := day.AddDate(0, 0, 1)
	pricings, err := b.agendas.PricingsForAgenda(ctx, agenda.ID, day, next)
	if err != nil {
		return nil, err
	}
	bc.Agendas = map[string]agendadomain.Agenda{agenda.Slug: agenda}
	bc.Pricings = map[string][]agendadomain.Pricing{agenda.Slug: pricings}
	bc.Payers = cache.NewPayerDataCache()

	records, err := b.usage.GetCheckStatus(ctx, bc.Request, []string{agenda.Slug}, line.UserExternalID, day, next)
	if err != nil {
		return nil, err
	}
	var matching []journaldomain.CheckStatusRecord
	for _, record := range records {
		if record.Event.QualifiedSlug() != line.Slug {
			continue
		}
		eventDate, err := record.Event.EventDate()
		if err != nil || !eventDate.Equal(day) {
			continue
		}
		matching = append(matching, record)
	}

	fields, err := b.buildLines(ctx, bc, line.User, matching)
	if err != nil {
		return nil, err
	}

	var lines []*journaldomain.DraftJournalLine
	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payers, err := b.journal.DeleteDraftLinesForEvent(ctx, tx, line.PoolID, line.UserExternalID, day, line.Slug)
		if err != nil {
			return err
		}
		lines, err = b.store(ctx, tx, bc, fields)
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, payer := range payers {
			seen[payer] = true
		}
		for _, l := range lines {
			if !seen[l.PayerExternalID] {
				seen[l.PayerExternalID] = true
				payers = append(payers, l.PayerExternalID)
			}
		}
		return b.aggregator.Regenerate(ctx, tx, line.PoolID, payers)
	})
	if err != nil {
		return nil, err
	}
	b.log.Info("journal line replayed",
		zap.Int64("line_id", lineID.Int64()),
		zap.Int64("pool_id", line.PoolID.Int64()),
		zap.Int("lines", len(lines)),
	)
	return lines, nil
}

// checkReplayable refuses pools that can no longer be promoted: a draft
// superseded by a newer draft or by the final pool of its campaign.
func (b *Builder) checkReplayable(ctx context.Context, bc *BuildContext) error {
	final, err := b.campaigns.FinalPool(ctx, b.db, bc.Campaign.ID)
	if err != nil {
		return err
	}
	if final != nil {
		return campaigndomain.ErrPoolTooOld
	}
	latest, err := b.campaigns.LatestDraftPool(ctx, b.db, bc.Campaign.ID)
	if err != nil {
		return err
	}
	if latest == nil || latest.ID != bc.Pool.ID {
		return campaigndomain.ErrPoolTooOld
	}
	return nil
}
