package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/smallbiznis/poolbilling/internal/external"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"go.uber.org/zap"
)

type pricingClient struct {
	*client
}

func NewPricingService(baseURL, token string, log *zap.Logger) external.PricingService {
	return &pricingClient{client: newClient(baseURL, token, log.Named("external.pricing"))}
}

type pricingRequest struct {
	Agenda          string                    `json:"agenda"`
	Event           journaldomain.Event       `json:"event"`
	CheckStatus     journaldomain.CheckStatus `json:"check_status"`
	UserExternalID  string                    `json:"user_external_id"`
	PayerExternalID string                    `json:"payer_external_id"`
}

func (c *pricingClient) GetPricingDataForEvent(ctx context.Context, rc external.RequestContext, req external.PricingRequest) (journaldomain.PricingData, error) {
	body := pricingRequest{
		Agenda:          req.Agenda.Slug,
		Event:           req.Event,
		CheckStatus:     req.CheckStatus,
		UserExternalID:  req.UserExternalID,
		PayerExternalID: req.PayerExternalID,
	}
	var data journaldomain.PricingData
	err := c.do(ctx, rc, http.MethodPost, "/api/pricings/"+url.PathEscape(req.Pricing.Slug)+"/compute", nil, body, &data)
	if err == nil {
		return data, nil
	}

	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.Body.Error != "" {
		if statusErr.Body.Error == external.KindPricingNotFound {
			return journaldomain.PricingData{}, external.PricingNotFound{}
		}
		return journaldomain.PricingData{}, external.NewPricingError(statusErr.Body.Error, decodeDetails(statusErr.Body.ErrorDetails))
	}
	return journaldomain.PricingData{}, external.NewPricingError(external.KindPricingError, map[string]any{"message": err.Error()})
}

func decodeDetails(raw json.RawMessage) map[string]any {
	details := map[string]any{}
	if len(raw) == 0 {
		return details
	}
	if err := json.Unmarshal(raw, &details); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return details
}
