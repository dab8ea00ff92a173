package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	campaigndomain "github.com/smallbiznis/poolbilling/internal/campaign/domain"
	creditdomain "github.com/smallbiznis/poolbilling/internal/credit/domain"
	invoicedomain "github.com/smallbiznis/poolbilling/internal/invoice/domain"
	jobsdomain "github.com/smallbiznis/poolbilling/internal/jobs/domain"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"github.com/smallbiznis/poolbilling/internal/promotion"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal_error")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrTooManyRequests = errors.New("too_many_requests")
)

// precondition is implemented by domain errors that refuse an operation
// without changing state.
type precondition interface {
	Precondition() bool
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var pre precondition
	if errors.As(err, &pre) && pre.Precondition() {
		return http.StatusConflict, errorPayload{
			Type:    "precondition_failed",
			Message: err.Error(),
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictCode(err),
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	case errors.Is(err, campaigndomain.ErrPoolInitFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "pool_init_failed",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code logged with a request.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	} else if payload.Type == "conflict" {
		code = payload.Message
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, regiedomain.ErrInvalidLabel),
		errors.Is(err, regiedomain.ErrInvalidSlug),
		errors.Is(err, regiedomain.ErrInvalidShortID),
		errors.Is(err, regiedomain.ErrInvalidFormat),
		errors.Is(err, agendadomain.ErrInvalidSlug),
		errors.Is(err, agendadomain.ErrInvalidLabel),
		errors.Is(err, agendadomain.ErrInvalidRegie),
		errors.Is(err, agendadomain.ErrInvalidPeriod),
		errors.Is(err, agendadomain.ErrInvalidKind),
		errors.Is(err, agendadomain.ErrUnknownAgenda),
		errors.Is(err, campaigndomain.ErrInvalidRegie),
		errors.Is(err, campaigndomain.ErrInvalidLabel),
		errors.Is(err, campaigndomain.ErrInvalidPeriod),
		errors.Is(err, campaigndomain.ErrInvalidDates),
		errors.Is(err, campaigndomain.ErrInvalidInjectedLines),
		errors.Is(err, campaigndomain.ErrInvalidAmount),
		errors.Is(err, campaigndomain.ErrInvalidUser),
		errors.Is(err, campaigndomain.ErrInvalidPayer),
		errors.Is(err, campaigndomain.ErrUnknownAgenda),
		errors.Is(err, journaldomain.ErrInvalidErrorStatus),
		errors.Is(err, invoicedomain.ErrInvalidCancellation),
		errors.Is(err, jobsdomain.ErrInvalidLevel):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, regiedomain.ErrNotFound),
		errors.Is(err, agendadomain.ErrNotFound),
		errors.Is(err, campaigndomain.ErrNotFound),
		errors.Is(err, campaigndomain.ErrPoolNotFound),
		errors.Is(err, journaldomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrCreditNotFound),
		errors.Is(err, creditdomain.ErrCreditNotFound),
		errors.Is(err, creditdomain.ErrInvoiceNotFound),
		errors.Is(err, jobsdomain.ErrNotFound),
		errors.Is(err, promotion.ErrPoolNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

var conflictErrors = []error{
	ErrConflict,
	regiedomain.ErrDuplicateRegie,
	agendadomain.ErrDuplicateSlug,
	campaigndomain.ErrGenerationInProgress,
	campaigndomain.ErrCampaignAlreadyPromoted,
	campaigndomain.ErrCampaignFinalized,
	campaigndomain.ErrCampaignNotFinalized,
	campaigndomain.ErrPoolWrongStatus,
	campaigndomain.ErrPoolNotDraft,
	journaldomain.ErrNotAnErrorLine,
	journaldomain.ErrFinalPool,
	journaldomain.ErrNotReplayable,
	invoicedomain.ErrAlreadyCancelled,
	creditdomain.ErrCreditCancelled,
	creditdomain.ErrNothingToRefund,
	creditdomain.ErrInvoiceNotPayable,
	jobsdomain.ErrNotRunnable,
}

func isConflictError(err error) bool {
	return conflictCode(err) != ""
}

func conflictCode(err error) string {
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
