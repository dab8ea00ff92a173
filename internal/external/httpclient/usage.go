package httpclient

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/smallbiznis/poolbilling/internal/external"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	"go.uber.org/zap"
)

type usageClient struct {
	*client
}

func NewUsageService(baseURL, token string, log *zap.Logger) external.UsageService {
	return &usageClient{client: newClient(baseURL, token, log.Named("external.usage"))}
}

type checkStatusRequest struct {
	Agendas        []string `json:"agendas"`
	UserExternalID string   `json:"user_external_id,omitempty"`
	DateStart      string   `json:"date_start"`
	DateEnd        string   `json:"date_end"`
}

func (c *usageClient) GetSubscriptions(ctx context.Context, rc external.RequestContext, agendaSlug string, start, end time.Time) ([]external.Subscription, error) {
	query := url.Values{}
	query.Set("date_start", dateParam(start))
	query.Set("date_end", dateParam(end))

	var resp struct {
		Data []external.Subscription `json:"data"`
	}
	if err := c.do(ctx, rc, http.MethodGet, "/api/agendas/"+url.PathEscape(agendaSlug)+"/subscriptions", query, nil, &resp); err != nil {
		return nil, &external.UsageServiceError{Op: "get_subscriptions", Err: err}
	}
	return resp.Data, nil
}

func (c *usageClient) GetCheckStatus(ctx context.Context, rc external.RequestContext, agendaSlugs []string, userExternalID string, start, end time.Time) ([]journaldomain.CheckStatusRecord, error) {
	req := checkStatusRequest{
		Agendas:        agendaSlugs,
		UserExternalID: userExternalID,
		DateStart:      dateParam(start),
		DateEnd:        dateParam(end),
	}
	var resp struct {
		Data []journaldomain.CheckStatusRecord `json:"data"`
	}
	if err := c.do(ctx, rc, http.MethodPost, "/api/check-status", nil, req, &resp); err != nil {
		return nil, &external.UsageServiceError{Op: "get_check_status", Err: err}
	}
	return resp.Data, nil
}

func (c *usageClient) LockEventsCheck(ctx context.Context, rc external.RequestContext, agendaSlugs []string, start, end time.Time) error {
	return c.lock(ctx, rc, "lock", agendaSlugs, start, end)
}

func (c *usageClient) UnlockEventsCheck(ctx context.Context, rc external.RequestContext, agendaSlugs []string, start, end time.Time) error {
	return c.lock(ctx, rc, "unlock", agendaSlugs, start, end)
}

func (c *usageClient) lock(ctx context.Context, rc external.RequestContext, op string, agendaSlugs []string, start, end time.Time) error {
	req := checkStatusRequest{Agendas: agendaSlugs, DateStart: dateParam(start), DateEnd: dateParam(end)}
	if err := c.do(ctx, rc, http.MethodPost, "/api/check-status/"+op, nil, req, nil); err != nil {
		return &external.UsageServiceError{Op: op + "_events_check", Err: err}
	}
	return nil
}
