package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/burningass23/kraft-broker/internal/metrics"
)

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	m := metrics.New()
	m.ConnectionsTotal.Inc()
	m.RequestsTotal.WithLabelValues("18", "4", "0").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "kraft_broker_connections_total")
	require.Contains(t, rec.Body.String(), "kraft_broker_requests_total")
}
