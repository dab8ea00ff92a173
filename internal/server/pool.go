package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"github.com/smallbiznis/poolbilling/pkg/db/pagination"
)

// PromotePool copies a completed draft pool into the final pool of its
// campaign. Population runs as a campaign job.
func (s *Server) PromotePool(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	final, job, err := s.promoter.Promote(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.runner.Dispatch(ctx, job)

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"pool": final, "job": job}})
}

type listPoolLinesQuery struct {
	journaldomain.LineFilter
	pagination.Pagination
}

func (s *Server) ListPoolLines(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query listPoolLinesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lines, page, err := s.journalSvc.ListPoolLines(c.Request.Context(), id, query.LineFilter, query.Pagination)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": lines, "page_info": page})
}

func (s *Server) GetPoolDocuments(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	docs, err := s.invoiceSvc.PoolDocuments(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": docs})
}

type errorStatusRequest struct {
	ErrorStatus journaldomain.ErrorStatus `json:"error_status"`
}

func (s *Server) SetLineErrorStatus(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req errorStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	line, err := s.journalSvc.SetErrorStatus(c.Request.Context(), id, req.ErrorStatus)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": line})
}

// ReplayLine rebuilds the lines of the user and event behind an error line
// and regenerates the documents of the affected payers.
func (s *Server) ReplayLine(c *gin.Context) {
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	lines, err := s.replayer.ReplayError(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": lines})
}
