package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	"github.com/smallbiznis/poolbilling/internal/config"
	creditdomain "github.com/smallbiznis/poolbilling/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	"github.com/smallbiznis/poolbilling/internal/jobs/runner"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"github.com/smallbiznis/poolbilling/internal/linebuilder"
	"github.com/smallbiznis/poolbilling/internal/observability"
	obsmiddleware "github.com/smallbiznis/poolbilling/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/poolbilling/internal/observability/metrics"
	obstracing "github.com/smallbiznis/poolbilling/internal/observability/tracing"
	"github.com/smallbiznis/poolbilling/internal/promotion"
	"github.com/smallbiznis/poolbilling/internal/ratelimit"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Log:             log,
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server", zap.Error(err))
				}
			}()
			log.Info("http server started", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type jobRunner interface {
	RunCampaignJob(ctx context.Context, id snowflake.ID) (runner.Result, error)
	RunPoolJob(ctx context.Context, id snowflake.ID) (runner.Result, error)
	ForceCampaignJob(ctx context.Context, id snowflake.ID) (runner.Result, error)
	ForcePoolJob(ctx context.Context, id snowflake.ID) (runner.Result, error)
	Dispatch(ctx context.Context, job jobsdomain.CampaignJob)
}

type poolPromoter interface {
	Promote(ctx context.Context, poolID snowflake.ID) (campaigndomain.Pool, jobsdomain.CampaignJob, error)
}

type errorReplayer interface {
	ReplayError(ctx context.Context, lineID snowflake.ID) ([]*journaldomain.DraftJournalLine, error)
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	regieSvc    regiedomain.Service
	agendaSvc   agendadomain.Service
	campaignSvc campaigndomain.Service
	journalSvc  journaldomain.Service
	invoiceSvc  invoicedomain.Service
	creditSvc   creditdomain.Service
	jobsSvc     jobsdomain.Service
	runner      jobRunner
	promoter    poolPromoter
	replayer    errorReplayer
	limiter     *ratelimit.TriggerLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	RegieSvc    regiedomain.Service
	AgendaSvc   agendadomain.Service
	CampaignSvc campaigndomain.Service
	JournalSvc  journaldomain.Service
	InvoiceSvc  invoicedomain.Service
	CreditSvc   creditdomain.Service
	JobsSvc     jobsdomain.Service
	Runner      *runner.Runner
	Promoter    *promotion.Promoter
	Builder     *linebuilder.Builder
	Limiter     *ratelimit.TriggerLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http"),
		regieSvc:    p.RegieSvc,
		agendaSvc:   p.AgendaSvc,
		campaignSvc: p.CampaignSvc,
		journalSvc:  p.JournalSvc,
		invoiceSvc:  p.InvoiceSvc,
		creditSvc:   p.CreditSvc,
		jobsSvc:     p.JobsSvc,
		runner:      p.Runner,
		promoter:    p.Promoter,
		replayer:    p.Builder,
		limiter:     p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Catalogue --------
	api.GET("/regies", s.ListRegies)
	api.POST("/regies", s.CreateRegie)
	api.GET("/regies/:id", s.GetRegie)
	api.GET("/regies/:id/counters", s.ListRegieCounters)
	api.POST("/agendas", s.CreateAgenda)
	api.POST("/pricings", s.CreatePricing)
	api.POST("/check-types", s.CreateCheckType)

	// -------- Campaigns --------
	api.POST("/campaigns", s.CreateCampaign)
	api.GET("/campaigns/:id", s.GetCampaign)
	api.GET("/campaigns/:id/pools", s.ListCampaignPools)
	api.GET("/campaigns/:id/jobs", s.ListCampaignJobs)
	api.POST("/campaigns/:id/generate", s.TriggerRateLimit("campaign"), s.GenerateCampaign)
	api.POST("/campaigns/:id/finalize", s.FinalizeCampaign)
	api.POST("/injected-lines", s.CreateInjectedLine)

	// -------- Pools --------
	api.POST("/pools/:id/promote", s.TriggerRateLimit("pool"), s.PromotePool)
	api.GET("/pools/:id/lines", s.ListPoolLines)
	api.GET("/pools/:id/documents", s.GetPoolDocuments)
	api.POST("/journal-lines/:id/error-status", s.SetLineErrorStatus)
	api.POST("/journal-lines/:id/replay", s.TriggerRateLimit("line"), s.ReplayLine)

	// -------- Jobs --------
	api.GET("/jobs/:kind/:id", s.GetJob)
	api.POST("/jobs/:kind/:id/run", s.TriggerRateLimit("job"), s.RunJob)

	// -------- Documents --------
	api.GET("/invoices", s.ListInvoices)
	api.GET("/invoices/:id", s.GetInvoice)
	api.GET("/invoices/:id/payments", s.ListInvoicePayments)
	api.POST("/invoices/:id/assign-credits", s.AssignCreditsToInvoice)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)
	api.GET("/credits/:id", s.GetCredit)
	api.GET("/credits/:id/assignments", s.ListCreditAssignments)
	api.POST("/credits/:id/assign", s.AssignCredit)
	api.POST("/credits/:id/refund", s.RefundCredit)
	api.POST("/credits/:id/cancel", s.CancelCredit)
}
