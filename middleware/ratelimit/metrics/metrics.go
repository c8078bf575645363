// Package metrics expõe os coletores Prometheus do rate limit.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Decisions por rota e resultado (allowed, denied, unlimited, fail_open, fail_closed).
	// Não usar a chave como label: cardinalidade ilimitada.
	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_ratelimit_decisions_total",
		Help: "Total number of rate limit decisions by route and outcome",
	}, []string{"route", "outcome"})
	StoreFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_ratelimit_store_failures_total",
		Help: "Total number of limiter calls resolved through the failure policy, by kind",
	}, []string{"kind"})
	CASAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_ratelimit_cas_attempts",
		Help:    "Compare-and-swap attempts needed per limiter call",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 16, 32},
	})
	StoreDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_ratelimit_store_duration_seconds",
		Help:    "Time spent talking to the counter store per limiter call",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})
	InflightStoreCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_ratelimit_inflight_store_calls",
		Help: "Number of counter store operations currently in flight",
	})
)

// Failure kinds
const (
	KindUnavailable = "store_unavailable"
	KindConflict    = "cas_conflict_exhausted"
	KindCanceled    = "caller_canceled"
)

func init() {
	prometheus.MustRegister(Decisions)
	prometheus.MustRegister(StoreFailures)
	prometheus.MustRegister(CASAttempts)
	prometheus.MustRegister(StoreDuration)
	prometheus.MustRegister(InflightStoreCalls)
}

// Handler serve o endpoint /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
