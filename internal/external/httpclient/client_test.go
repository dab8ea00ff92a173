package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	agendadomain "github.com/smallbiznis/poolbilling/internal/agenda/domain"
	"github.com/smallbiznis/poolbilling/internal/external"
	journaldomain "github.com/smallbiznis/poolbilling/internal/journal/domain"
	regiedomain "github.com/smallbiznis/poolbilling/internal/regie/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var rc = external.RequestContext{Timeout: time.Second, MaxRetries: 2}

func TestUsageRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "2026-09-01", r.URL.Query().Get("date_start"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"user_external_id": "u1", "user_first_name": "Ada"}},
		})
	}))
	defer srv.Close()

	usage := NewUsageService(srv.URL, "", zap.NewNop())
	subs, err := usage.GetSubscriptions(context.Background(), rc, "garderie",
		time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Ada", subs[0].UserFirstName)
	assert.EqualValues(t, 2, calls.Load())
}

func TestUsageFailureIsFatalKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	usage := NewUsageService(srv.URL, "", zap.NewNop())
	_, err := usage.GetCheckStatus(context.Background(), rc, []string{"garderie"}, "u1", time.Now(), time.Now())
	var usageErr *external.UsageServiceError
	require.True(t, errors.As(err, &usageErr))
	assert.Equal(t, "get_check_status", usageErr.Op)
}

func TestPricingErrorKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		switch r.URL.Path {
		case "/api/pricings/missing/compute":
			_, _ = w.Write([]byte(`{"error":"PricingNotFound"}`))
		default:
			_, _ = w.Write([]byte(`{"error":"PricingSQLError","error_details":{"pricing":"foo"}}`))
		}
	}))
	defer srv.Close()

	pricing := NewPricingService(srv.URL, "", zap.NewNop())
	_, err := pricing.GetPricingDataForEvent(context.Background(), rc, external.PricingRequest{
		Pricing: agendadomain.Pricing{Slug: "missing"},
		Event:   journaldomain.Event{Slug: "ev"},
	})
	fact, ok := external.AsFactError(err)
	require.True(t, ok)
	assert.Equal(t, external.KindPricingNotFound, fact.Kind())

	_, err = pricing.GetPricingDataForEvent(context.Background(), rc, external.PricingRequest{
		Pricing: agendadomain.Pricing{Slug: "broken"},
		Event:   journaldomain.Event{Slug: "ev"},
	})
	fact, ok = external.AsFactError(err)
	require.True(t, ok)
	assert.Equal(t, "PricingSQLError", fact.Kind())
	assert.Equal(t, "foo", fact.Details()["pricing"])
}

func TestPricingKeepsExtraFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pricing":12.5,"accounting_code":"414","calcul_details":{"qf":3}}`))
	}))
	defer srv.Close()

	pricing := NewPricingService(srv.URL, "", zap.NewNop())
	data, err := pricing.GetPricingDataForEvent(context.Background(), rc, external.PricingRequest{
		Pricing: agendadomain.Pricing{Slug: "p"},
	})
	require.NoError(t, err)
	assert.Equal(t, "12.5", data.Amount().String())
	assert.JSONEq(t, `{"qf":3}`, string(data.Extra["calcul_details"]))
}

func TestNotConfigured(t *testing.T) {
	payer := NewPayerService("", "", zap.NewNop())
	_, err := payer.GetPayerData(context.Background(), rc, regiedomain.Regie{Slug: "r"}, "p1")
	fact, ok := external.AsFactError(err)
	require.True(t, ok)
	assert.Equal(t, external.KindPayerDataError, fact.Kind())
}
