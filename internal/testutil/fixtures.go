package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"gorm.io/gorm"
)

// Date is a UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SeedRegie inserts a regie with the default number formats.
func SeedRegie(t *testing.T, db *gorm.DB, node *snowflake.Node) regiedomain.Regie {
	t.Helper()
	regie := regiedomain.Regie{
		ID:                      node.Generate(),
		ShortID:                 1,
		Slug:                    "regie",
		Label:                   "Regie",
		CounterName:             "{YY}",
		InvoiceNumberFormat:     "F{REGIE2}-{YY}-{MM}-{SEQ7}",
		CreditNumberFormat:      "A{REGIE2}-{YY}-{MM}-{SEQ7}",
		PaymentNumberFormat:     "R{REGIE2}-{YY}-{MM}-{SEQ7}",
		RefundNumberFormat:      "V{REGIE2}-{YY}-{MM}-{SEQ7}",
		AssignCreditsOnCreation: true,
	}
	if err := db.Create(&regie).Error; err != nil {
		t.Fatalf("seed regie: %v", err)
	}
	return regie
}

// SeedAgenda inserts an agenda with one pricing covering the whole of 2024.
func SeedAgenda(t *testing.T, db *gorm.DB, node *snowflake.Node, regieID snowflake.ID, slug string, partialBookings bool) agendadomain.Agenda {
	t.Helper()
	agenda := agendadomain.Agenda{
		ID:              node.Generate(),
		RegieID:         regieID,
		Slug:            slug,
		Label:           "Agenda " + slug,
		PartialBookings: partialBookings,
	}
	if err := db.Create(&agenda).Error; err != nil {
		t.Fatalf("seed agenda: %v", err)
	}
	pricing := agendadomain.Pricing{
		ID:        node.Generate(),
		Slug:      "pricing-" + slug,
		Label:     "Pricing " + slug,
		DateStart: Date(2024, 1, 1),
		DateEnd:   Date(2025, 1, 1),
		Agendas:   []agendadomain.Agenda{agenda},
	}
	if err := db.Omit("Agendas.*").Create(&pricing).Error; err != nil {
		t.Fatalf("seed pricing: %v", err)
	}
	return agenda
}

// SeedCampaign inserts a September 2024 campaign over agendas.
func SeedCampaign(t *testing.T, db *gorm.DB, node *snowflake.Node, regieID snowflake.ID, agendas ...agendadomain.Agenda) campaigndomain.Campaign {
	t.Helper()
	campaign := campaigndomain.Campaign{
		ID:                  node.Generate(),
		RegieID:             regieID,
		Label:               "September",
		DateStart:           Date(2024, 9, 1),
		DateEnd:             Date(2024, 10, 1),
		DatePublication:     Date(2024, 10, 1),
		DatePaymentDeadline: Date(2024, 10, 15),
		DateDue:             Date(2024, 10, 31),
		InjectedLines:       campaigndomain.InjectedLinesNo,
		Agendas:             agendas,
	}
	if err := db.Omit("Agendas.*").Create(&campaign).Error; err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return campaign
}

// SeedPool inserts a pool of campaignID in status.
func SeedPool(t *testing.T, db *gorm.DB, node *snowflake.Node, campaignID snowflake.ID, draft bool, status campaigndomain.PoolStatus) campaigndomain.Pool {
	t.Helper()
	pool := campaigndomain.Pool{
		ID:         node.Generate(),
		CampaignID: campaignID,
		Draft:      draft,
		Status:     status,
	}
	if err := db.Create(&pool).Error; err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	return pool
}
