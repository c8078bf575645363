package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionsCounter(t *testing.T) {
	before := testutil.ToFloat64(Decisions.WithLabelValues("metrics-test", "denied"))
	Decisions.WithLabelValues("metrics-test", "denied").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Decisions.WithLabelValues("metrics-test", "denied")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	StoreFailures.WithLabelValues(KindUnavailable).Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "gateway_ratelimit_store_failures_total"))
}
