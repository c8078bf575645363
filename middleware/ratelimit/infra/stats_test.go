package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"gateway-ratelimit/middleware/ratelimit/domain"
	"gateway-ratelimit/middleware/ratelimit/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStatsStore_Record(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStatsStore(WithTrackKeys(true))

	_ = s.Record(ctx, domain.StatsEvent{Key: "a", Route: "rl", Allowed: true, Outcome: domain.OutcomeAllowed})
	_ = s.Record(ctx, domain.StatsEvent{Key: "a", Route: "rl", Allowed: false, Outcome: domain.OutcomeDenied})
	_ = s.Record(ctx, domain.StatsEvent{Key: "b", Method: "GET", Path: "/x", Allowed: true, Outcome: domain.OutcomeFailOpen})

	assert.Equal(t, Counters{Allowed: 2, Denied: 1, Degraded: 1}, s.Total())
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, s.ByRoute()["rl"])
	assert.Equal(t, Counters{Allowed: 1, Degraded: 1}, s.ByRoute()["GET /x"])
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, s.ByKey()["a"])
	assert.Equal(t, int64(1), s.ByOutcome(domain.OutcomeFailOpen))
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "a", Allowed: true})
	assert.Empty(t, s.ByKey())
}

func TestMemoryStatsStore_Snapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStatsStore()
	_ = s.Record(ctx, domain.StatsEvent{Route: "rl", Allowed: true, Outcome: domain.OutcomeAllowed})
	_ = s.Record(ctx, domain.StatsEvent{Route: "rl", Allowed: false, Outcome: domain.OutcomeFailClosed})
	_ = s.Record(ctx, domain.StatsEvent{Route: "other", Allowed: true, Outcome: domain.OutcomeAllowed})

	snap, err := s.Snapshot(ctx, "rl")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Allowed)
	assert.Equal(t, int64(1), snap.Denied)
	assert.Equal(t, int64(1), snap.Degraded)
	assert.Equal(t, int64(1), snap.Outcomes[domain.OutcomeFailClosed])

	total, err := s.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total.Allowed)
	assert.Equal(t, int64(2), total.Outcomes[domain.OutcomeAllowed])
}

func TestRedisStatsStore_Record(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsPrefix("st:"), WithStatsTrackKeys(true), WithStatsTTL(time.Hour))

	at := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	err := s.Record(context.Background(), domain.StatsEvent{
		Key: "user", Route: "rl", Allowed: false, Outcome: domain.OutcomeDenied, At: at,
	})
	require.NoError(t, err)

	assert.Equal(t, "1", mr.HGet("st:total", "denied"))
	assert.Equal(t, "1", mr.HGet("st:total", "outcome:denied"))
	assert.Equal(t, "1", mr.HGet("st:scope:rl", "denied"))
	assert.Equal(t, "1", mr.HGet("st:minute:202601020304", "rl:denied"))
	assert.Equal(t, "1", mr.HGet("st:key:user", "denied"))
	assert.Equal(t, time.Hour, mr.TTL("st:key:user"))
	assert.Equal(t, time.Hour, mr.TTL("st:minute:202601020304"))
	assert.Zero(t, mr.TTL("st:total"))
}

func TestRedisStatsStore_Snapshot(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewRedisStatsStore(rdb, WithStatsBucket("none"))
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, domain.StatsEvent{Route: "rl", Allowed: true, Outcome: domain.OutcomeAllowed}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Route: "rl", Allowed: true, Outcome: domain.OutcomeFailOpen}))
	require.NoError(t, s.Record(ctx, domain.StatsEvent{Method: "GET", Path: "/x", Allowed: false, Outcome: domain.OutcomeDenied}))

	snap, err := s.Snapshot(ctx, "rl")
	require.NoError(t, err)
	assert.Equal(t, domain.StatsSnapshot{
		Allowed:  2,
		Degraded: 1,
		Outcomes: map[domain.Outcome]int64{domain.OutcomeAllowed: 1, domain.OutcomeFailOpen: 1},
	}, snap)

	byPath, err := s.Snapshot(ctx, "GET /x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), byPath.Denied)

	total, err := s.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total.Allowed)
	assert.Equal(t, int64(1), total.Denied)

	empty, err := s.Snapshot(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, empty.Allowed+empty.Denied)
}

func TestRedisStatsStore_NilIsNoop(t *testing.T) {
	var s *RedisStatsStore
	assert.NoError(t, s.Record(context.Background(), domain.StatsEvent{}))
}

func TestPrometheusStatsStore_Record(t *testing.T) {
	c := metrics.Decisions.WithLabelValues("prom-test", "fail_closed")
	before := testutil.ToFloat64(c)

	_ = PrometheusStatsStore{}.Record(context.Background(), domain.StatsEvent{Route: "prom-test", Outcome: domain.OutcomeFailClosed})
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

type failingStats struct{ calls int }

func (f *failingStats) Record(context.Context, domain.StatsEvent) error {
	f.calls++
	return errors.New("boom")
}

func TestTeeStats_FansOutAndKeepsGoing(t *testing.T) {
	bad := &failingStats{}
	mem := NewMemoryStatsStore()
	tee := TeeStats(bad, nil, mem)

	err := tee.Record(context.Background(), domain.StatsEvent{Allowed: true})
	assert.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, int64(1), mem.Total().Allowed)
}
