package promotion

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"gorm.io/gorm"
)

// source is the draft pool content copied into the final pool.
type source struct {
	campaign     campaigndomain.Campaign
	regie        regiedomain.Regie
	draft        campaigndomain.Pool
	final        campaigndomain.Pool
	invoices     []*invoicedomain.DraftInvoice
	invoiceLines map[snowflake.ID][]*invoicedomain.DraftInvoiceLine
	credits      []*invoicedomain.DraftCredit
	creditLines  map[snowflake.ID][]*invoicedomain.DraftCreditLine
	lines        []*journaldomain.DraftJournalLine
}

// populated lists the final documents created by a population.
type populated struct {
	invoices []snowflake.ID
	credits  []snowflake.ID
}

// loadSource returns nil when the final pool is already completed.
func (p *Promoter) loadSource(ctx context.Context, draftID, finalID snowflake.ID) (*source, error) {
	draft, err := p.campaigns.FindPool(ctx, p.db, draftID)
	if err != nil {
		return nil, err
	}
	if draft == nil || !draft.Draft {
		return nil, jobsdomain.NewJobError("draft pool not found")
	}
	if draft.Status != campaigndomain.PoolStatusCompleted {
		return nil, jobsdomain.NewJobError("pool wrong status %s (wanted: completed)", draft.Status)
	}
	latest, err := p.campaigns.LatestDraftPool(ctx, p.db, draft.CampaignID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.ID != draft.ID {
		return nil, jobsdomain.NewJobError("more recent draft pool exists")
	}

	final, err := p.campaigns.FindPool(ctx, p.db, finalID)
	if err != nil {
		return nil, err
	}
	if final == nil || final.Draft || final.CampaignID != draft.CampaignID {
		return nil, jobsdomain.NewJobError("final pool not found")
	}
	if final.Status == campaigndomain.PoolStatusCompleted {
		return nil, nil
	}
	if final.Status != campaigndomain.PoolStatusRegistered {
		return nil, jobsdomain.NewJobError("final pool wrong status %s (wanted: registered)", final.Status)
	}

	campaign, err := p.campaigns.FindByID(ctx, p.db, draft.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	regie, err := p.regieRepo.FindByID(ctx, p.db, campaign.RegieID)
	if err != nil {
		return nil, err
	}
	if regie == nil {
		return nil, ErrRegieNotFound
	}

	src := &source{
		campaign:     *campaign,
		regie:        *regie,
		draft:        *draft,
		final:        *final,
		invoiceLines: map[snowflake.ID][]*invoicedomain.DraftInvoiceLine{},
		creditLines:  map[snowflake.ID][]*invoicedomain.DraftCreditLine{},
	}
	if src.invoices, err = p.invoices.ListDraftInvoices(ctx, p.db, draft.ID); err != nil {
		return nil, err
	}
	invoiceLines, err := p.invoices.ListDraftInvoiceLines(ctx, p.db, draft.ID)
	if err != nil {
		return nil, err
	}
	for _, line := range invoiceLines {
		src.invoiceLines[line.InvoiceID] = append(src.invoiceLines[line.InvoiceID], line)
	}
	if src.credits, err = p.invoices.ListDraftCredits(ctx, p.db, draft.ID); err != nil {
		return nil, err
	}
	creditLines, err := p.invoices.ListDraftCreditLines(ctx, p.db, draft.ID)
	if err != nil {
		return nil, err
	}
	for _, line := range creditLines {
		src.creditLines[line.CreditID] = append(src.creditLines[line.CreditID], line)
	}
	if src.lines, err = p.journal.ListAllDraftLines(ctx, p.db, draft.ID); err != nil {
		return nil, err
	}
	return src, nil
}

// populate runs inside tx. The final pool moves from registered to running
// first, so a concurrent population of the same pool fails there.
func (p *Promoter) populate(ctx context.Context, tx *gorm.DB, src *source) (populated, error) {
	var out populated
	finalID := src.final.ID
	moved, err := p.campaigns.TransitionPool(ctx, tx, finalID,
		[]campaigndomain.PoolStatus{campaigndomain.PoolStatusRegistered},
		campaigndomain.PoolStatusRunning,
		map[string]any{"updated_at": p.clock.Now()},
	)
	if err != nil {
		return out, err
	}
	if !moved {
		return out, jobsdomain.NewJobError("final pool is no longer registered")
	}

	now := p.clock.Now()
	invoiceLineIDs := map[snowflake.ID]snowflake.ID{}
	for _, draft := range src.invoices {
		lines := src.invoiceLines[draft.ID]
		if draft.TotalAmount.IsZero() && len(lines) == 0 {
			continue
		}
		id, err := p.promoteInvoice(ctx, tx, src, draft, lines, invoiceLineIDs, now)
		if err != nil {
			return out, err
		}
		out.invoices = append(out.invoices, id)
	}

	creditLineIDs := map[snowflake.ID]snowflake.ID{}
	for _, draft := range src.credits {
		id, err := p.promoteCredit(ctx, tx, src, draft, src.creditLines[draft.ID], creditLineIDs, now)
		if err != nil {
			return out, err
		}
		out.credits = append(out.credits, id)
	}

	lines := make([]*journaldomain.JournalLine, 0, len(src.lines))
	for _, draft := range src.lines {
		line := &journaldomain.JournalLine{
			ID:         p.genID.Generate(),
			PoolID:     finalID,
			LineFields: draft.LineFields,
		}
		if draft.InvoiceLineID != nil {
			if id, ok := invoiceLineIDs[*draft.InvoiceLineID]; ok {
				line.InvoiceLineID = &id
			}
		}
		if draft.CreditLineID != nil {
			if id, ok := creditLineIDs[*draft.CreditLineID]; ok {
				line.CreditLineID = &id
			}
		}
		lines = append(lines, line)
	}
	if err := p.journal.InsertLines(ctx, tx, lines); err != nil {
		return out, err
	}

	moved, err = p.campaigns.TransitionPool(ctx, tx, finalID,
		[]campaigndomain.PoolStatus{campaigndomain.PoolStatusRunning},
		campaigndomain.PoolStatusCompleted,
		map[string]any{"completed_at": now, "updated_at": now},
	)
	if err != nil {
		return out, err
	}
	if !moved {
		return out, jobsdomain.NewJobError("final pool left running state during population")
	}
	return out, nil
}

func (p *Promoter) promoteInvoice(ctx context.Context, tx *gorm.DB, src *source, draft *invoicedomain.DraftInvoice, lines []*invoicedomain.DraftInvoiceLine, mapping map[snowflake.ID]snowflake.ID, now time.Time) (snowflake.ID, error) {
	number, err := p.counters.NextNumber(ctx, tx, src.regie, regiedomain.CounterKindInvoice, now)
	if err != nil {
		return 0, err
	}
	doc := draft.DocumentFields
	doc.CreatedAt, doc.UpdatedAt = now, now
	invoice := &invoicedomain.Invoice{
		ID:              p.genID.Generate(),
		PoolID:          &src.final.ID,
		CampaignID:      &src.campaign.ID,
		RegieID:         src.regie.ID,
		Number:          number.Number,
		FormattedNumber: number.Formatted,
		PaidAmount:      decimal.Zero,
		RemainingAmount: draft.TotalAmount,
		DocumentFields:  doc,
	}
	finalLines := make([]*invoicedomain.InvoiceLine, 0, len(lines))
	for _, line := range lines {
		finalLine := &invoicedomain.InvoiceLine{
			ID:         p.genID.Generate(),
			PoolID:     &src.final.ID,
			InvoiceID:  invoice.ID,
			LineFields: line.LineFields,
		}
		mapping[line.ID] = finalLine.ID
		finalLines = append(finalLines, finalLine)
	}
	if err := p.invoices.InsertInvoice(ctx, tx, invoice, finalLines); err != nil {
		return 0, err
	}
	return invoice.ID, nil
}

func (p *Promoter) promoteCredit(ctx context.Context, tx *gorm.DB, src *source, draft *invoicedomain.DraftCredit, lines []*invoicedomain.DraftCreditLine, mapping map[snowflake.ID]snowflake.ID, now time.Time) (snowflake.ID, error) {
	number, err := p.counters.NextNumber(ctx, tx, src.regie, regiedomain.CounterKindCredit, now)
	if err != nil {
		return 0, err
	}
	doc := draft.DocumentFields
	doc.CreatedAt, doc.UpdatedAt = now, now
	credit := &invoicedomain.Credit{
		ID:              p.genID.Generate(),
		PoolID:          &src.final.ID,
		CampaignID:      &src.campaign.ID,
		RegieID:         src.regie.ID,
		Number:          number.Number,
		FormattedNumber: number.Formatted,
		AssignedAmount:  decimal.Zero,
		RemainingAmount: draft.TotalAmount,
		Usable:          true,
		DocumentFields:  doc,
	}
	finalLines := make([]*invoicedomain.CreditLine, 0, len(lines))
	for _, line := range lines {
		finalLine := &invoicedomain.CreditLine{
			ID:         p.genID.Generate(),
			PoolID:     &src.final.ID,
			CreditID:   credit.ID,
			LineFields: line.LineFields,
		}
		mapping[line.ID] = finalLine.ID
		finalLines = append(finalLines, finalLine)
	}
	if err := p.invoices.InsertCredit(ctx, tx, credit, finalLines); err != nil {
		return 0, err
	}
	return credit.ID, nil
}
