package server

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const dateOnlyLayout = "2006-01-02"

var errInvalidDate = errors.New("invalid_date")

// idParam parses the snowflake id held by the :id route parameter.
func idParam(c *gin.Context) (snowflake.ID, error) {
	return parseSnowflakeID("id", c.Param("id"))
}

func parseSnowflakeID(field, value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed == 0 {
		return 0, newValidationError(field, "invalid_id", "invalid id")
	}
	return parsed, nil
}

func parseOptionalSnowflakeID(field, value string) (*snowflake.ID, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parsed, err := parseSnowflakeID(field, value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// parseDate accepts YYYY-MM-DD or RFC3339 and keeps the calendar day in UTC.
func parseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, errInvalidDate
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		return parsed, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, errInvalidDate
}

func parseOptionalDate(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parsed, err := parseDate(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// dateFields parses named date values, reporting the first invalid field.
func dateFields(values map[string]string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(values))
	for field, value := range values {
		parsed, err := parseDate(value)
		if err != nil {
			return nil, newValidationError(field, "invalid_date", "expected YYYY-MM-DD")
		}
		out[field] = parsed
	}
	return out, nil
}
