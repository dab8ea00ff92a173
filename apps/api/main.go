package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/poolbilling/internal/agenda"
	"github.com/smallbiznis/poolbilling/internal/aggregator"
	"github.com/smallbiznis/poolbilling/internal/campaign"
	"github.com/smallbiznis/poolbilling/internal/clock"
	"github.com/smallbiznis/poolbilling/internal/config"
	"github.com/smallbiznis/poolbilling/internal/credit"
	"github.com/smallbiznis/poolbilling/internal/external/httpclient"
	"github.com/smallbiznis/poolbilling/internal/invoice"
	"github.com/smallbiznis/poolbilling/internal/jobs"
	"github.com/smallbiznis/poolbilling/internal/journal"
	"github.com/smallbiznis/poolbilling/internal/linebuilder"
	"github.com/smallbiznis/poolbilling/internal/lock"
	"github.com/smallbiznis/poolbilling/internal/observability"
	"github.com/smallbiznis/poolbilling/internal/promotion"
	"github.com/smallbiznis/poolbilling/internal/regie"
	"github.com/smallbiznis/poolbilling/internal/server"
	"github.com/smallbiznis/poolbilling/pkg/db"
	"go.uber.org/fx"
)

// The API process never claims jobs; run apps/scheduler next to it.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		httpclient.Module,

		regie.Module,
		agenda.Module,
		campaign.Module,
		journal.Module,
		invoice.Module,
		credit.Module,
		jobs.Module,
		linebuilder.Module,
		aggregator.Module,
		promotion.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
