package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
)

type createCampaignRequest struct {
	RegieID             string   `json:"regie_id"`
	Label               string   `json:"label"`
	DateStart           string   `json:"date_start"`
	DateEnd             string   `json:"date_end"`
	DatePublication     string   `json:"date_publication"`
	DatePaymentDeadline string   `json:"date_payment_deadline"`
	DateDue             string   `json:"date_due"`
	DateDebit           string   `json:"date_debit"`
	InjectedLines       string   `json:"injected_lines"`
	AdjustmentCampaign  bool     `json:"adjustment_campaign"`
	Agendas             []string `json:"agendas"`
}

func (s *Server) CreateCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	regieID, err := parseSnowflakeID("regie_id", req.RegieID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	dates, err := dateFields(map[string]string{
		"date_start":            req.DateStart,
		"date_end":              req.DateEnd,
		"date_publication":      req.DatePublication,
		"date_payment_deadline": req.DatePaymentDeadline,
		"date_due":              req.DateDue,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	dateDebit, err := parseOptionalDate(req.DateDebit)
	if err != nil {
		AbortWithError(c, newValidationError("date_debit", "invalid_date", "expected YYYY-MM-DD"))
		return
	}

	mode := campaigndomain.InjectedLinesMode(req.InjectedLines)
	if mode == "" {
		mode = campaigndomain.InjectedLinesNo
	}

	item, err := s.campaignSvc.Create(c.Request.Context(), campaigndomain.CreateCampaignRequest{
		RegieID:             regieID,
		Label:               req.Label,
		DateStart:           dates["date_start"],
		DateEnd:             dates["date_end"],
		DatePublication:     dates["date_publication"],
		DatePaymentDeadline: dates["date_payment_deadline"],
		DateDue:             dates["date_due"],
		DateDebit:           dateDebit,
		InjectedLines:       mode,
		AdjustmentCampaign:  req.AdjustmentCampaign,
		AgendaSlugs:         req.Agendas,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) GetCampaign(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	item, err := s.campaignSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	latest, err := s.campaignSvc.LatestPool(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item, "latest_pool": latest})
}

func (s *Server) ListCampaignPools(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.campaignSvc.ListPools(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ListCampaignJobs(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.jobsSvc.ListCampaignJobs(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

// GenerateCampaign registers a draft pool and its generate job. The job runs
// right away when inline execution is configured.
func (s *Server) GenerateCampaign(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	pool, job, err := s.campaignSvc.Generate(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.runner.Dispatch(ctx, job)

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"pool": pool, "job": job}})
}

func (s *Server) FinalizeCampaign(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	job, err := s.campaignSvc.MarkAsFinalized(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.runner.Dispatch(ctx, job)

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"job": job}})
}

type createInjectedLineRequest struct {
	RegieID          string          `json:"regie_id"`
	EventDate        string          `json:"event_date"`
	Slug             string          `json:"slug"`
	Label            string          `json:"label"`
	Amount           decimal.Decimal `json:"amount"`
	UserExternalID   string          `json:"user_external_id"`
	PayerExternalID  string          `json:"payer_external_id"`
	PayerFirstName   string          `json:"payer_first_name"`
	PayerLastName    string          `json:"payer_last_name"`
	PayerAddress     string          `json:"payer_address"`
	PayerDirectDebit bool            `json:"payer_direct_debit"`
}

func (s *Server) CreateInjectedLine(c *gin.Context) {
	var req createInjectedLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	regieID, err := parseSnowflakeID("regie_id", req.RegieID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	eventDate, err := parseDate(req.EventDate)
	if err != nil {
		AbortWithError(c, newValidationError("event_date", "invalid_date", "expected YYYY-MM-DD"))
		return
	}

	item, err := s.campaignSvc.CreateInjectedLine(c.Request.Context(), campaigndomain.CreateInjectedLineRequest{
		RegieID:          regieID,
		EventDate:        eventDate,
		Slug:             req.Slug,
		Label:            req.Label,
		Amount:           req.Amount,
		UserExternalID:   req.UserExternalID,
		PayerExternalID:  req.PayerExternalID,
		PayerFirstName:   req.PayerFirstName,
		PayerLastName:    req.PayerLastName,
		PayerAddress:     req.PayerAddress,
		PayerDirectDebit: req.PayerDirectDebit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}
