package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
)

func (s *Server) ListRegies(c *gin.Context) {
	items, err := s.regieSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CreateRegie(c *gin.Context) {
	var req regiedomain.CreateRegieRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.regieSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) GetRegie(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.regieSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListRegieCounters(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.regieSvc.Counters(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) CreateAgenda(c *gin.Context) {
	var req agendadomain.CreateAgendaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.agendaSvc.CreateAgenda(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

type createPricingRequest struct {
	Slug            string   `json:"slug"`
	Label           string   `json:"label"`
	DateStart       string   `json:"date_start"`
	DateEnd         string   `json:"date_end"`
	FlatFeeSchedule bool     `json:"flat_fee_schedule"`
	Agendas         []string `json:"agendas"`
}

func (s *Server) CreatePricing(c *gin.Context) {
	var req createPricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	dates, err := dateFields(map[string]string{
		"date_start": req.DateStart,
		"date_end":   req.DateEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.agendaSvc.CreatePricing(c.Request.Context(), agendadomain.CreatePricingRequest{
		Slug:            req.Slug,
		Label:           req.Label,
		DateStart:       dates["date_start"],
		DateEnd:         dates["date_end"],
		FlatFeeSchedule: req.FlatFeeSchedule,
		AgendaSlugs:     req.Agendas,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) CreateCheckType(c *gin.Context) {
	var req agendadomain.CreateCheckTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.agendaSvc.CreateCheckType(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}
