package linebuilder

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	"github.com/smallbiznis/poolbilling/internal/cache"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/external"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
)

// BuildContext carries everything one computation run needs. It is built
// once per job and passed explicitly; nothing is hung on the pool.
type BuildContext struct {
	Regie    regiedomain.Regie
	Campaign campaigndomain.Campaign
	Pool     campaigndomain.Pool
	// Agendas are the billed agendas, by slug.
	Agendas map[string]agendadomain.Agenda
	// Pricings are the non flat pricings of each agenda slug.
	Pricings   map[string][]agendadomain.Pricing
	CheckTypes agendadomain.CheckTypes
	Request    external.RequestContext
	Payers     *cache.PayerDataCache
	// PreviousPoolID is the draft pool whose error annotations are carried over.
	PreviousPoolID *snowflake.ID
}

// AgendaSlugs returns the billed agenda slugs in a stable order.
func (bc *BuildContext) AgendaSlugs() []string {
	slugs := make([]string, 0, len(bc.Agendas))
	for slug := range bc.Agendas {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// NewBuildContext loads the campaign, regie, agendas, pricings and check
// types of a draft pool.
func (b *Builder) NewBuildContext(ctx context.Context, poolID snowflake.ID) (*BuildContext, error) {
	pool, err := b.campaigns.FindPool(ctx, b.db, poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	if !pool.Draft {
		return nil, ErrFinalPool
	}
	campaign, err := b.campaigns.FindByID(ctx, b.db, pool.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	regie, err := b.regieRepo.FindByID(ctx, b.db, campaign.RegieID)
	if err != nil {
		return nil, err
	}
	if regie == nil {
		return nil, ErrRegieNotFound
	}

	agendas, err := b.agendas.CampaignAgendas(ctx, campaign.ID, campaign.RegieID, campaign.DateStart, campaign.DateEnd)
	if err != nil {
		return nil, err
	}
	pricings, err := b.agendas.PricingsByAgenda(ctx, campaign.DateStart, campaign.DateEnd)
	if err != nil {
		return nil, err
	}
	checkTypes, err := b.agendas.CheckTypes(ctx)
	if err != nil {
		return nil, err
	}
	previous, err := b.campaigns.PreviousDraftPool(ctx, b.db, campaign.ID, pool.ID)
	if err != nil {
		return nil, err
	}

	bc := &BuildContext{
		Regie:      *regie,
		Campaign:   *campaign,
		Pool:       *pool,
		Agendas:    make(map[string]agendadomain.Agenda, len(agendas)),
		Pricings:   pricings,
		CheckTypes: checkTypes,
		Request:    external.NewRequestContext(b.billing.Get().Requests),
		Payers:     cache.NewPayerDataCache(),
	}
	for _, agenda := range agendas {
		bc.Agendas[agenda.Slug] = agenda
	}
	if previous != nil {
		bc.PreviousPoolID = &previous.ID
	}
	return bc, nil
}
