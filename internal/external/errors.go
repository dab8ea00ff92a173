package external

import (
	"errors"
	"fmt"
)

// Error kinds recorded in pricing_data.error.
const (
	KindPricingNotFound = "PricingNotFound"
	KindPricingError    = "PricingError"
	KindPayerError      = "PayerError"
	KindPayerDataError  = "PayerDataError"
)

var ErrServiceNotConfigured = errors.New("external_service_not_configured")

// UsageServiceError aborts the whole pool.
type UsageServiceError struct {
	Op  string
	Err error
}

func (e *UsageServiceError) Error() string {
	return fmt.Sprintf("usage service %s: %v", e.Op, e.Err)
}

func (e *UsageServiceError) Unwrap() error { return e.Err }

// FactError is an error scoped to one priced fact; it is recorded on the
// journal line and processing goes on.
type FactError interface {
	error
	Kind() string
	Details() map[string]any
}

// PricingError is a pricing failure for one event.
type PricingError struct {
	ErrKind    string
	ErrDetails map[string]any
}

func NewPricingError(kind string, details map[string]any) *PricingError {
	if kind == "" {
		kind = KindPricingError
	}
	return &PricingError{ErrKind: kind, ErrDetails: details}
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("pricing error: %s", e.ErrKind)
}

func (e *PricingError) Kind() string { return e.ErrKind }
func (e *PricingError) Details() map[string]any { return e.ErrDetails }

// PricingNotFound is raised when no pricing covers the event date.
type PricingNotFound struct{}

func (PricingNotFound) Error() string { return "pricing not found" }
func (PricingNotFound) Kind() string { return KindPricingNotFound }
func (PricingNotFound) Details() map[string]any { return map[string]any{} }

// PayerError is raised when the payer of a user cannot be resolved.
type PayerError struct {
	ErrDetails map[string]any
}

func (e *PayerError) Error() string { return "payer error" }
func (e *PayerError) Kind() string { return KindPayerError }
func (e *PayerError) Details() map[string]any { return e.ErrDetails }

// PayerDataError is raised when the data of a resolved payer cannot be read.
type PayerDataError struct {
	ErrDetails map[string]any
}

func (e *PayerDataError) Error() string { return "payer data error" }
func (e *PayerDataError) Kind() string { return KindPayerDataError }
func (e *PayerDataError) Details() map[string]any { return e.ErrDetails }

// AsFactError extracts a per fact error from err.
func AsFactError(err error) (FactError, bool) {
	var notFound PricingNotFound
	if errors.As(err, &notFound) {
		return notFound, true
	}
	var fact FactError
	if errors.As(err, &fact) {
		return fact, true
	}
	return nil, false
}
