// Package httpclient implements the external services over JSON HTTP APIs.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/poolbilling/internal/external"
	"github.com/smallbiznis/poolbilling/internal/observability/tracing"
	"go.uber.org/zap"
)

const retryBackoff = 200 * time.Millisecond

// errorBody is the error envelope returned by the services.
type errorBody struct {
	Error        string          `json:"error"`
	ErrorDetails json.RawMessage `json:"error_details,omitempty"`
	Message      string          `json:"message,omitempty"`
}

// statusError is a non 2xx answer.
type statusError struct {
	StatusCode int
	Body       errorBody
}

func (e *statusError) Error() string {
	msg := strings.TrimSpace(e.Body.Message)
	if msg == "" {
		msg = e.Body.Error
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, msg)
}

func (e *statusError) retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

type client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

func newClient(baseURL, token string, log *zap.Logger) *client {
	return &client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    tracing.WrapHTTPClient(&http.Client{}),
		log:     log,
	}
}

// do sends one JSON request and decodes the answer into out, retrying on
// transport errors and 5xx answers up to rc.MaxRetries times.
func (c *client) do(ctx context.Context, rc external.RequestContext, method, path string, query url.Values, in, out any) error {
	if c.baseURL == "" {
		return external.ErrServiceNotConfigured
	}
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= rc.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}
		lastErr = c.once(ctx, rc, method, target, payload, out)
		if lastErr == nil {
			return nil
		}
		var statusErr *statusError
		if errors.As(lastErr, &statusErr) && !statusErr.retryable() {
			return lastErr
		}
		c.log.Warn("external request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

func (c *client) once(ctx context.Context, rc external.RequestContext, method, target string, payload []byte, out any) error {
	if rc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.Timeout)
		defer cancel()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		statusErr := &statusError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&statusErr.Body)
		return statusErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func dateParam(t time.Time) string {
	return t.Format("2006-01-02")
}
