package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// TriggerRateLimit throttles requests that start work on the resource named
// by the :id parameter.
func (s *Server) TriggerRateLimit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		key := scope + ":" + strings.TrimSpace(c.Param("id"))
		res := s.limiter.Allow(c.Request.Context(), key)
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if !res.Allowed {
			seconds := int(math.Ceil(res.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
