package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gateway-ratelimit/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// Campos dos hashes de estatística.
const (
	statsFieldAllowed  = "allowed"
	statsFieldDenied   = "denied"
	statsFieldDegraded = "degraded"
	statsOutcomePrefix = "outcome:"
)

// RedisStatsStore agrega decisões de todas as instâncias do gateway.
//
// Layout (prefix padrão "ratelimit:stats"):
//
//	<prefix>:total          hash cumulativo, sem TTL
//	<prefix>:scope:<rota>   hash cumulativo por rota, sem TTL
//	<prefix>:minute:<ts>    hash "<rota>:<allowed|denied>" por minuto, com TTL
//	<prefix>:key:<key>      hash por chave (opcional), com TTL
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix    string
	ttl       time.Duration
	bucket    string // "minute" (padrão) ou "none"
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) scopeKey(scope string) string {
	if scope == "" {
		return s.prefix + ":total"
	}
	return s.prefix + ":scope:" + scope
}

// incrDecision soma a decisão, o outcome e a degradação no mesmo hash.
func incrDecision(ctx context.Context, pipe redis.Pipeliner, key string, ev domain.StatsEvent) {
	field := statsFieldDenied
	if ev.Allowed {
		field = statsFieldAllowed
	}
	pipe.HIncrBy(ctx, key, field, 1)
	if ev.Outcome != "" {
		pipe.HIncrBy(ctx, key, statsOutcomePrefix+string(ev.Outcome), 1)
	}
	if ev.Degraded() {
		pipe.HIncrBy(ctx, key, statsFieldDegraded, 1)
	}
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	scope := ev.Scope()

	pipe := s.rdb.Pipeline()
	incrDecision(ctx, pipe, s.scopeKey(""), ev)
	if scope != "" {
		incrDecision(ctx, pipe, s.scopeKey(scope), ev)
	}

	if s.bucket == "minute" && scope != "" {
		field := statsFieldDenied
		if ev.Allowed {
			field = statsFieldAllowed
		}
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, scope+":"+field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			keyKey := s.prefix + ":key:" + k
			incrDecision(ctx, pipe, keyKey, ev)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Snapshot lê os contadores cumulativos de uma rota ("" = total).
func (s *RedisStatsStore) Snapshot(ctx context.Context, scope string) (domain.StatsSnapshot, error) {
	fields, err := s.rdb.HGetAll(ctx, s.scopeKey(scope)).Result()
	if err != nil {
		return domain.StatsSnapshot{}, fmt.Errorf("stats snapshot %q: %w", scope, err)
	}

	snap := domain.StatsSnapshot{Outcomes: make(map[domain.Outcome]int64)}
	for f, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.StatsSnapshot{}, fmt.Errorf("stats snapshot %q: field %s: %w", scope, f, err)
		}
		switch {
		case f == statsFieldAllowed:
			snap.Allowed = n
		case f == statsFieldDenied:
			snap.Denied = n
		case f == statsFieldDegraded:
			snap.Degraded = n
		case strings.HasPrefix(f, statsOutcomePrefix):
			snap.Outcomes[domain.Outcome(strings.TrimPrefix(f, statsOutcomePrefix))] = n
		}
	}
	return snap, nil
}
