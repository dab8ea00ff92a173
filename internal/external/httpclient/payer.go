package httpclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/smallbiznis/poolbilling/internal/external"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"go.uber.org/zap"
)

type payerClient struct {
	*client
}

func NewPayerService(baseURL, token string, log *zap.Logger) external.PayerService {
	return &payerClient{client: newClient(baseURL, token, log.Named("external.payer"))}
}

type payerIDRequest struct {
	UserExternalID string                `json:"user_external_id"`
	Booking        journaldomain.Booking `json:"booking"`
}

func (c *payerClient) GetPayerExternalID(ctx context.Context, rc external.RequestContext, regie regiedomain.Regie, userExternalID string, booking journaldomain.Booking) (string, error) {
	var resp struct {
		PayerExternalID string `json:"payer_external_id"`
	}
	path := "/api/regies/" + url.PathEscape(regie.Slug) + "/payer"
	if err := c.do(ctx, rc, http.MethodPost, path, nil, payerIDRequest{UserExternalID: userExternalID, Booking: booking}, &resp); err != nil {
		return "", &external.PayerError{ErrDetails: map[string]any{"message": err.Error()}}
	}
	if resp.PayerExternalID == "" {
		return "", &external.PayerError{ErrDetails: map[string]any{"message": "empty payer_external_id"}}
	}
	return resp.PayerExternalID, nil
}

func (c *payerClient) GetPayerData(ctx context.Context, rc external.RequestContext, regie regiedomain.Regie, payerExternalID string) (external.PayerData, error) {
	var data external.PayerData
	path := "/api/regies/" + url.PathEscape(regie.Slug) + "/payers/" + url.PathEscape(payerExternalID)
	if err := c.do(ctx, rc, http.MethodGet, path, nil, nil, &data); err != nil {
		return external.PayerData{}, &external.PayerDataError{ErrDetails: map[string]any{"message": err.Error()}}
	}
	return data, nil
}
