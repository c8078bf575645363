package infra

import (
	"context"

	"gateway-ratelimit/middleware/ratelimit/domain"
	"gateway-ratelimit/middleware/ratelimit/metrics"
)

// PrometheusStatsStore publica cada decisão no contador de decisões.
// A chave não vira label (cardinalidade).
type PrometheusStatsStore struct{}

func (PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	outcome := ev.Outcome
	if outcome == "" {
		outcome = domain.OutcomeDenied
		if ev.Allowed {
			outcome = domain.OutcomeAllowed
		}
	}
	metrics.Decisions.WithLabelValues(ev.Route, string(outcome)).Inc()
	return nil
}

type teeStats []domain.StatsStore

// TeeStats repassa cada evento para todos os stores não-nil.
// Um erro não impede os demais; retorna o primeiro.
func TeeStats(stores ...domain.StatsStore) domain.StatsStore {
	out := make(teeStats, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t teeStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range t {
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
