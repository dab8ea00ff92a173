package service

import (
	"context"
	"strconv"

	"github.com/bwmarrin/snowflake"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/journal/domain"
	"github.com/smallbiznis/poolbilling/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Repo         domain.Repository
	CampaignRepo campaigndomain.Repository
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	repo         domain.Repository
	campaignRepo campaigndomain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("journal.service"),
		clock:        p.Clock,
		repo:         p.Repo,
		campaignRepo: p.CampaignRepo,
	}
}

func (s *Service) GetDraftLine(ctx context.Context, lineID snowflake.ID) (domain.DraftJournalLine, error) {
	line, err := s.repo.FindDraftLine(ctx, s.db, lineID)
	if err != nil {
		return domain.DraftJournalLine{}, err
	}
	if line == nil {
		return domain.DraftJournalLine{}, domain.ErrNotFound
	}
	return *line, nil
}

func (s *Service) SetErrorStatus(ctx context.Context, lineID snowflake.ID, status domain.ErrorStatus) (domain.DraftJournalLine, error) {
	if !status.Valid() {
		return domain.DraftJournalLine{}, domain.ErrInvalidErrorStatus
	}
	line, err := s.GetDraftLine(ctx, lineID)
	if err != nil {
		return domain.DraftJournalLine{}, err
	}
	if line.Status != domain.StatusError {
		return domain.DraftJournalLine{}, domain.ErrNotAnErrorLine
	}
	pool, err := s.campaignRepo.FindPool(ctx, s.db, line.PoolID)
	if err != nil {
		return domain.DraftJournalLine{}, err
	}
	if pool == nil || !pool.Draft {
		return domain.DraftJournalLine{}, domain.ErrFinalPool
	}

	now := s.clock.Now()
	if err := s.repo.UpdateErrorStatus(ctx, s.db, line.ID, status, now); err != nil {
		return domain.DraftJournalLine{}, err
	}
	line.ErrorStatus = status
	line.UpdatedAt = now

	s.log.Info("journal line error status set",
		zap.String("line_id", line.ID.String()),
		zap.String("pool_id", line.PoolID.String()),
		zap.String("error_status", string(status)),
	)
	return line, nil
}

// ListPoolLines lists the draft or final lines of a pool, newest first.
func (s *Service) ListPoolLines(ctx context.Context, poolID snowflake.ID, filter domain.LineFilter, page pagination.Pagination) ([]domain.PoolLine, pagination.PageInfo, error) {
	pool, err := s.campaignRepo.FindPool(ctx, s.db, poolID)
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	if pool == nil {
		return nil, pagination.PageInfo{}, campaigndomain.ErrPoolNotFound
	}

	var lines []domain.PoolLine
	if pool.Draft {
		items, err := s.repo.ListDraftLines(ctx, s.db, poolID, filter, page)
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		for _, item := range items {
			lines = append(lines, domain.PoolLine{
				ID:            item.ID,
				PoolID:        item.PoolID,
				Draft:         true,
				InvoiceLineID: item.InvoiceLineID,
				CreditLineID:  item.CreditLineID,
				Total:         item.Total(),
				LineFields:    item.LineFields,
			})
		}
	} else {
		items, err := s.repo.ListLines(ctx, s.db, poolID, filter, page)
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		for _, item := range items {
			lines = append(lines, domain.PoolLine{
				ID:            item.ID,
				PoolID:        item.PoolID,
				InvoiceLineID: item.InvoiceLineID,
				CreditLineID:  item.CreditLineID,
				Total:         item.Total(),
				LineFields:    item.LineFields,
			})
		}
	}

	limit := page.PageSize
	if limit <= 0 {
		limit = 10
	}
	if limit > 250 {
		limit = 250
	}
	lines, info := pagination.Trim(lines, limit, func(line domain.PoolLine) string {
		return strconv.FormatInt(line.ID.Int64(), 10)
	})
	return lines, info, nil
}
