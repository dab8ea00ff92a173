package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	"github.com/smallbiznis/poolbilling/internal/jobs/runner"
)

func jobLevelParam(c *gin.Context) (jobsdomain.Level, error) {
	level := jobsdomain.Level(c.Param("kind"))
	if !level.Valid() {
		return "", newValidationError("kind", "invalid_job_level", "expected campaign or pool")
	}
	return level, nil
}

func (s *Server) GetJob(c *gin.Context) {
	level, err := jobLevelParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.jobsSvc.Status(c.Request.Context(), level, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

type runJobResponse struct {
	Ran    bool              `json:"ran"`
	Status jobsdomain.Status `json:"status,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type runJobQuery struct {
	Force bool `form:"force"`
}

// RunJob runs a registered or waiting job in the request. A job owned by
// another runner or already finished reports ran=false. With force=true a
// running job is taken over, which recovers jobs left behind by a crash.
func (s *Server) RunJob(c *gin.Context) {
	level, err := jobLevelParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	id, err := idParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var query runJobQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, newValidationError("force", "invalid_force", "expected a boolean"))
		return
	}

	var res runner.Result
	ctx := c.Request.Context()
	switch {
	case level == jobsdomain.LevelCampaign && query.Force:
		res, err = s.runner.ForceCampaignJob(ctx, id)
	case level == jobsdomain.LevelCampaign:
		res, err = s.runner.RunCampaignJob(ctx, id)
	case query.Force:
		res, err = s.runner.ForcePoolJob(ctx, id)
	default:
		res, err = s.runner.RunPoolJob(ctx, id)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := runJobResponse{Ran: res.Ran, Status: res.Status}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
