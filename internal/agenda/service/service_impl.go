package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	gslug "github.com/gosimple/slug"
	"github.com/smallbiznis/poolbilling/internal/agenda/domain"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("agenda.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreateAgenda(ctx context.Context, req domain.CreateAgendaRequest) (domain.Agenda, error) {
	if req.RegieID == 0 {
		return domain.Agenda{}, domain.ErrInvalidRegie
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		return domain.Agenda{}, domain.ErrInvalidLabel
	}
	slug := normalizeSlug(req.Slug, label)
	if slug == "" {
		return domain.Agenda{}, domain.ErrInvalidSlug
	}

	now := s.clock.Now()
	agenda := domain.Agenda{
		ID:              s.genID.Generate(),
		RegieID:         req.RegieID,
		Slug:            slug,
		Label:           label,
		PartialBookings: req.PartialBookings,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertAgenda(ctx, s.db, &agenda); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Agenda{}, domain.ErrDuplicateSlug
		}
		return domain.Agenda{}, err
	}
	return agenda, nil
}

func (s *Service) CreatePricing(ctx context.Context, req domain.CreatePricingRequest) (domain.Pricing, error) {
	label := strings.TrimSpace(req.Label)
	if label == "" {
		return domain.Pricing{}, domain.ErrInvalidLabel
	}
	slug := normalizeSlug(req.Slug, label)
	if slug == "" {
		return domain.Pricing{}, domain.ErrInvalidSlug
	}
	if req.DateStart.IsZero() || !req.DateEnd.After(req.DateStart) {
		return domain.Pricing{}, domain.ErrInvalidPeriod
	}

	agendas, err := s.repo.ListAgendasBySlugs(ctx, s.db, req.AgendaSlugs)
	if err != nil {
		return domain.Pricing{}, err
	}
	if len(agendas) != len(uniqueStrings(req.AgendaSlugs)) {
		return domain.Pricing{}, domain.ErrUnknownAgenda
	}

	now := s.clock.Now()
	pricing := domain.Pricing{
		ID:              s.genID.Generate(),
		Slug:            slug,
		Label:           label,
		DateStart:       req.DateStart.UTC(),
		DateEnd:         req.DateEnd.UTC(),
		FlatFeeSchedule: req.FlatFeeSchedule,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, agenda := range agendas {
		pricing.Agendas = append(pricing.Agendas, *agenda)
	}
	if err := s.repo.InsertPricing(ctx, s.db, &pricing); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Pricing{}, domain.ErrDuplicateSlug
		}
		return domain.Pricing{}, err
	}
	return pricing, nil
}

func (s *Service) CreateCheckType(ctx context.Context, req domain.CreateCheckTypeRequest) (domain.CheckType, error) {
	if req.Kind != domain.CheckTypeKindPresence && req.Kind != domain.CheckTypeKindAbsence {
		return domain.CheckType{}, domain.ErrInvalidKind
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		return domain.CheckType{}, domain.ErrInvalidLabel
	}
	slug := normalizeSlug(req.Slug, label)
	if slug == "" {
		return domain.CheckType{}, domain.ErrInvalidSlug
	}

	checkType := domain.CheckType{
		ID:        s.genID.Generate(),
		Slug:      slug,
		GroupSlug: gslug.Make(strings.TrimSpace(req.GroupSlug)),
		Kind:      req.Kind,
		Label:     label,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertCheckType(ctx, s.db, &checkType); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.CheckType{}, domain.ErrDuplicateSlug
		}
		return domain.CheckType{}, err
	}
	return checkType, nil
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (domain.Agenda, error) {
	agenda, err := s.repo.FindAgendaBySlug(ctx, s.db, slug)
	if err != nil {
		return domain.Agenda{}, err
	}
	if agenda == nil {
		return domain.Agenda{}, domain.ErrNotFound
	}
	return *agenda, nil
}

func (s *Service) List(ctx context.Context, regieID snowflake.ID) ([]domain.Agenda, error) {
	items, err := s.repo.ListAgendas(ctx, s.db, regieID)
	if err != nil {
		return nil, err
	}
	return derefAgendas(items), nil
}

func (s *Service) CampaignAgendas(ctx context.Context, campaignID, regieID snowflake.ID, start, end time.Time) ([]domain.Agenda, error) {
	items, err := s.repo.ListCampaignAgendas(ctx, s.db, campaignID, regieID, start, end)
	if err != nil {
		return nil, err
	}
	return derefAgendas(items), nil
}

func (s *Service) PricingsByAgenda(ctx context.Context, start, end time.Time) (map[string][]domain.Pricing, error) {
	items, err := s.repo.ListPricings(ctx, s.db, start, end, nil)
	if err != nil {
		return nil, err
	}
	index := make(map[string][]domain.Pricing)
	for _, pricing := range items {
		for _, agenda := range pricing.Agendas {
			index[agenda.Slug] = append(index[agenda.Slug], *pricing)
		}
	}
	return index, nil
}

func (s *Service) PricingsForAgenda(ctx context.Context, agendaID snowflake.ID, start, end time.Time) ([]domain.Pricing, error) {
	items, err := s.repo.ListPricings(ctx, s.db, start, end, &agendaID)
	if err != nil {
		return nil, err
	}
	pricings := make([]domain.Pricing, 0, len(items))
	for _, item := range items {
		pricings = append(pricings, *item)
	}
	return pricings, nil
}

func (s *Service) CheckTypes(ctx context.Context) (domain.CheckTypes, error) {
	items, err := s.repo.ListCheckTypes(ctx, s.db)
	if err != nil {
		return nil, err
	}
	list := make([]domain.CheckType, 0, len(items))
	for _, item := range items {
		list = append(list, *item)
	}
	return domain.NewCheckTypes(list), nil
}

func normalizeSlug(slug, fallback string) string {
	if value := gslug.Make(strings.TrimSpace(slug)); value != "" {
		return value
	}
	return gslug.Make(fallback)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func derefAgendas(items []*domain.Agenda) []domain.Agenda {
	agendas := make([]domain.Agenda, 0, len(items))
	for _, item := range items {
		agendas = append(agendas, *item)
	}
	return agendas
}
