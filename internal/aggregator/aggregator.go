// Package aggregator turns the success journal lines of a draft pool into
// one draft invoice or draft credit per payer.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/config"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"github.com/smallbiznis/poolbilling/internal/observability/logger"
	"github.com/smallbiznis/poolbilling/internal/observability/metrics"
	"github.com/smallbiznis/poolbilling/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrPoolNotFound     = errors.New("pool_not_found")
	ErrCampaignNotFound = errors.New("campaign_not_found")
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
	Campaigns  campaigndomain.Repository
	Journal    journaldomain.Repository
	Invoices   invoicedomain.Repository
	AgendaRepo agendadomain.Repository
}

type Aggregator struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	billing    *config.BillingConfigHolder
	metrics    *metrics.Metrics
	campaigns  campaigndomain.Repository
	journal    journaldomain.Repository
	invoices   invoicedomain.Repository
	agendaRepo agendadomain.Repository
}

func New(p Params) *Aggregator {
	m := p.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Aggregator{
		db:         p.DB,
		log:        p.Log.Named("aggregator"),
		genID:      p.GenID,
		clock:      p.Clock,
		billing:    p.Billing,
		metrics:    m,
		campaigns:  p.Campaigns,
		journal:    p.Journal,
		invoices:   p.Invoices,
		agendaRepo: p.AgendaRepo,
	}
}

// scope is what aggregation needs to know about a pool.
type scope struct {
	pool     campaigndomain.Pool
	campaign campaigndomain.Campaign
	cat      catalogue
}

func (a *Aggregator) loadScope(ctx context.Context, db *gorm.DB, poolID snowflake.ID) (scope, error) {
	pool, err := a.campaigns.FindPool(ctx, db, poolID)
	if err != nil {
		return scope{}, err
	}
	if pool == nil {
		return scope{}, ErrPoolNotFound
	}
	if !pool.Draft {
		return scope{}, ErrFinalPool
	}
	campaign, err := a.campaigns.FindByID(ctx, db, pool.CampaignID)
	if err != nil {
		return scope{}, err
	}
	if campaign == nil {
		return scope{}, ErrCampaignNotFound
	}
	agendas, err := a.agendaRepo.ListAgendas(ctx, db, campaign.RegieID)
	if err != nil {
		return scope{}, err
	}
	checkTypes, err := a.agendaRepo.ListCheckTypes(ctx, db)
	if err != nil {
		return scope{}, err
	}
	cat := catalogue{agendas: make(map[string]agendadomain.Agenda, len(agendas))}
	for _, agenda := range agendas {
		cat.agendas[agenda.Slug] = *agenda
	}
	items := make([]agendadomain.CheckType, 0, len(checkTypes))
	for _, checkType := range checkTypes {
		items = append(items, *checkType)
	}
	cat.checkTypes = agendadomain.NewCheckTypes(items)
	return scope{pool: *pool, campaign: *campaign, cat: cat}, nil
}

// Generate aggregates the lines of the given payers, every payer of the
// pool when payerIDs is nil. Each payer is committed in its own
// transaction; the loop stops as soon as the pool is no longer running.
func (a *Aggregator) Generate(ctx context.Context, poolID snowflake.ID, payerIDs []string, progress jobsdomain.Progress) (err error) {
	ctx, span := tracing.StartSpan(ctx, "aggregator.generate", attribute.Int64("pool_id", poolID.Int64()))
	defer func() { tracing.EndSpan(span, err) }()
	if progress == nil {
		progress = jobsdomain.NopProgress{}
	}

	sc, err := a.loadScope(ctx, a.db, poolID)
	if err != nil {
		return err
	}
	log := logger.WithPool(logger.WithContext(ctx, a.log), sc.campaign.ID.Int64(), poolID.Int64())

	lines, err := a.journal.ListDraftLinesForPayers(ctx, a.db, poolID, payerIDs)
	if err != nil {
		return err
	}
	byPayer := successLinesByPayer(lines)
	payers := sortedPayers(byPayer)
	if err := progress.SetTotal(ctx, len(payers)); err != nil {
		return err
	}

	for _, payerID := range payers {
		running, err := a.poolRunning(ctx, poolID)
		if err != nil {
			return err
		}
		if !running {
			log.Info("pool no longer running, stop aggregation")
			return nil
		}
		err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return a.aggregatePayer(ctx, tx, sc, payerID, byPayer[payerID])
		})
		if err != nil {
			return fmt.Errorf("aggregate payer %s: %w", payerID, err)
		}
		if err := progress.Increment(ctx, 1); err != nil {
			return err
		}
	}
	log.Info("pool aggregated", zap.Int("payers", len(payers)))
	return nil
}

// Regenerate drops the draft documents of payerIDs and aggregates their
// lines again, inside tx.
func (a *Aggregator) Regenerate(ctx context.Context, tx *gorm.DB, poolID snowflake.ID, payerIDs []string) error {
	if len(payerIDs) == 0 {
		return nil
	}
	sc, err := a.loadScope(ctx, tx, poolID)
	if err != nil {
		return err
	}
	if err := a.invoices.DeleteDraftDocumentsForPayers(ctx, tx, poolID, payerIDs); err != nil {
		return err
	}
	if err := a.journal.UnlinkDraftLinesForPayers(ctx, tx, poolID, payerIDs); err != nil {
		return err
	}
	lines, err := a.journal.ListDraftLinesForPayers(ctx, tx, poolID, payerIDs)
	if err != nil {
		return err
	}
	byPayer := successLinesByPayer(lines)
	for _, payerID := range sortedPayers(byPayer) {
		if err := a.aggregatePayer(ctx, tx, sc, payerID, byPayer[payerID]); err != nil {
			return fmt.Errorf("aggregate payer %s: %w", payerID, err)
		}
	}
	return nil
}

func (a *Aggregator) poolRunning(ctx context.Context, poolID snowflake.ID) (bool, error) {
	pool, err := a.campaigns.FindPool(ctx, a.db, poolID)
	if err != nil {
		return false, err
	}
	return pool != nil && pool.Status == campaigndomain.PoolStatusRunning, nil
}

func (a *Aggregator) aggregatePayer(ctx context.Context, tx *gorm.DB, sc scope, payerID string, lines []*journaldomain.DraftJournalLine) error {
	aggregated := aggregate(sc.campaign, sc.cat, lines)
	if len(aggregated) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, line := range aggregated {
		total = total.Add(line.fields.TotalAmount)
	}

	payer := lines[0].Payer
	now := a.clock.Now()
	doc := invoicedomain.DocumentFields{
		Label:               documentLabel(sc.campaign),
		DatePublication:     sc.campaign.DatePublication,
		DatePaymentDeadline: sc.campaign.DatePaymentDeadline,
		DateDue:             sc.campaign.DateDue,
		Origin:              invoicedomain.OriginCampaign,
		CreatedAt:           now,
		UpdatedAt:           now,
		Payer:               payer,
	}
	if payer.PayerDirectDebit {
		doc.DateDebit = sc.campaign.DateDebit
	}

	switch {
	case total.IsNegative():
		return a.insertCredit(ctx, tx, sc, doc, aggregated, now)
	case total.IsZero() && !a.billing.Get().Pipeline.EmptyInvoiceForZeroNet:
		a.log.Debug("zero net payer left without document", zap.String("payer_external_id", payerID))
		return nil
	default:
		return a.insertInvoice(ctx, tx, sc, doc, aggregated, now)
	}
}

func (a *Aggregator) insertInvoice(ctx context.Context, tx *gorm.DB, sc scope, doc invoicedomain.DocumentFields, aggregated []aggregatedLine, now time.Time) error {
	invoice := &invoicedomain.DraftInvoice{
		ID:             a.genID.Generate(),
		PoolID:         sc.pool.ID,
		RegieID:        sc.campaign.RegieID,
		DocumentFields: doc,
	}
	lines := make([]*invoicedomain.DraftInvoiceLine, 0, len(aggregated))
	fields := make([]invoicedomain.LineFields, 0, len(aggregated))
	for _, item := range aggregated {
		item.fields.CreatedAt = now
		fields = append(fields, item.fields)
		lines = append(lines, &invoicedomain.DraftInvoiceLine{
			ID:         a.genID.Generate(),
			PoolID:     sc.pool.ID,
			InvoiceID:  invoice.ID,
			LineFields: item.fields,
		})
	}
	invoice.TotalAmount = invoicedomain.SumLines(fields)
	if err := a.invoices.InsertDraftInvoice(ctx, tx, invoice, lines); err != nil {
		return err
	}
	for i, item := range aggregated {
		if err := a.journal.LinkDraftInvoiceLine(ctx, tx, item.sources, lines[i].ID); err != nil {
			return err
		}
	}
	a.metrics.RecordDraftDocument(ctx, "invoice")
	return nil
}

func (a *Aggregator) insertCredit(ctx context.Context, tx *gorm.DB, sc scope, doc invoicedomain.DocumentFields, aggregated []aggregatedLine, now time.Time) error {
	credit := &invoicedomain.DraftCredit{
		ID:             a.genID.Generate(),
		PoolID:         sc.pool.ID,
		RegieID:        sc.campaign.RegieID,
		DocumentFields: doc,
	}
	credit.Label = creditLabel(sc.campaign)
	lines := make([]*invoicedomain.DraftCreditLine, 0, len(aggregated))
	fields := make([]invoicedomain.LineFields, 0, len(aggregated))
	for _, item := range aggregated {
		negated := negate(item.fields)
		negated.CreatedAt = now
		fields = append(fields, negated)
		lines = append(lines, &invoicedomain.DraftCreditLine{
			ID:         a.genID.Generate(),
			PoolID:     sc.pool.ID,
			CreditID:   credit.ID,
			LineFields: negated,
		})
	}
	credit.TotalAmount = invoicedomain.SumLines(fields)
	if err := a.invoices.InsertDraftCredit(ctx, tx, credit, lines); err != nil {
		return err
	}
	for i, item := range aggregated {
		if err := a.journal.LinkDraftCreditLine(ctx, tx, item.sources, lines[i].ID); err != nil {
			return err
		}
	}
	a.metrics.RecordDraftDocument(ctx, "credit")
	return nil
}

func successLinesByPayer(lines []*journaldomain.DraftJournalLine) map[string][]*journaldomain.DraftJournalLine {
	out := make(map[string][]*journaldomain.DraftJournalLine)
	for _, line := range lines {
		if line.Status != journaldomain.StatusSuccess {
			continue
		}
		out[line.PayerExternalID] = append(out[line.PayerExternalID], line)
	}
	return out
}

func sortedPayers(byPayer map[string][]*journaldomain.DraftJournalLine) []string {
	payers := make([]string, 0, len(byPayer))
	for payerID := range byPayer {
		payers = append(payers, payerID)
	}
	sort.Strings(payers)
	return payers
}

func documentLabel(campaign campaigndomain.Campaign) string {
	return fmt.Sprintf("Invoice from %s to %s",
		campaign.DateStart.Format("02/01/2006"), campaign.LastDay().Format("02/01/2006"))
}

func creditLabel(campaign campaigndomain.Campaign) string {
	return fmt.Sprintf("Credit from %s to %s",
		campaign.DateStart.Format("02/01/2006"), campaign.LastDay().Format("02/01/2006"))
}
