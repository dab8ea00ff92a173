// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	creditdomain "github.com/smallbiznis/poolbilling/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// Models lists every table of the billing schema in creation order.
func Models() []any {
	return []any{
		&regiedomain.Regie{},
		&regiedomain.Counter{},
		&agendadomain.Agenda{},
		&agendadomain.Pricing{},
		&agendadomain.CheckType{},
		&campaigndomain.Campaign{},
		&campaigndomain.Pool{},
		&campaigndomain.InjectedLine{},
		&journaldomain.DraftJournalLine{},
		&journaldomain.JournalLine{},
		&invoicedomain.DraftInvoice{},
		&invoicedomain.DraftInvoiceLine{},
		&invoicedomain.DraftCredit{},
		&invoicedomain.DraftCreditLine{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceLine{},
		&invoicedomain.Credit{},
		&invoicedomain.CreditLine{},
		&creditdomain.Payment{},
		&creditdomain.Refund{},
		&creditdomain.CreditAssignment{},
		&jobsdomain.CampaignJob{},
		&jobsdomain.PoolJob{},
	}
}

// NewDB returns a migrated in-memory SQLite database private to the test.
// Row locking clauses are stripped since SQLite serializes writers anyway.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:poolbilling_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	stripLocking := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
		d.Statement.SQL.Reset()
		d.Statement.SQL.WriteString(sql)
	}
	if err := db.Callback().Query().Before("gorm:query").Register("sqlite_strip_locking", stripLocking); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("sqlite_strip_locking_row", stripLocking); err != nil {
		t.Fatalf("register row callback: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_pools_final ON pools (campaign_id) WHERE draft = false`).Error; err != nil {
		t.Fatalf("final pool index: %v", err)
	}
	return db
}

// NewGenID returns a snowflake node for the test.
func NewGenID(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
