package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gateway-ratelimit/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// Cada bucket é um hash com os campos tokens, last_refill (µs) e version.
// As escritas rodam em Lua para que a checagem de versão e o HSET sejam atômicos
// no servidor, valendo para todas as instâncias do gateway.

var createIfAbsentScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('HMGET', KEYS[1], 'tokens', 'last_refill', 'version')
end
redis.call('HSET', KEYS[1], 'tokens', ARGV[1], 'last_refill', ARGV[2], 'version', '1')
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {ARGV[1], ARGV[2], '1'}
`)

var compareAndSwapScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if (not v) or v ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'tokens', ARGV[2], 'last_refill', ARGV[3], 'version', tostring(tonumber(v) + 1))
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// takeScript é o passo inteiro do token bucket no servidor (mesma conta de
// domain.Rule.Take): cria cheio se não existir, refill com elapsed >= 0, consome
// se houver saldo, grava e renova o TTL. Devolve {allowed, tokens}.
// tokens volta como string: o Redis truncaria um número Lua para inteiro.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local need = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local h = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill', 'version')
local tokens, last, version = capacity, now, 0
if h[3] then
  tokens = tonumber(h[1])
  last = tonumber(h[2])
  version = tonumber(h[3])
end

local elapsed = now - last
local stamp = now
if elapsed < 0 then
  elapsed = 0
  stamp = last
end
if tokens < 0 then
  tokens = 0
end
tokens = math.min(capacity, tokens + elapsed / 1e6 * rate)

local allowed = 0
if tokens >= need then
  tokens = tokens - need
  allowed = 1
end

local t = string.format('%.17g', tokens)
redis.call('HSET', KEYS[1], 'tokens', t, 'last_refill', string.format('%d', stamp), 'version', string.format('%d', version + 1))
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {allowed, t}
`)

// RedisCounterStore é o domain.CounterStore distribuído, sobre Redis.
type RedisCounterStore struct {
	rdb    redis.UniversalClient
	prefix string
}

var (
	_ domain.CounterStore = (*RedisCounterStore)(nil)
	_ domain.AtomicTaker  = (*RedisCounterStore)(nil)
)

type RedisStoreOption func(*RedisCounterStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisCounterStore) {
		s.prefix = strings.TrimRight(prefix, ":") + ":"
	}
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:    rdb,
		prefix: "ratelimit:bucket:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) redisKey(key domain.Key) string {
	return s.prefix + string(key)
}

func (s *RedisCounterStore) Get(ctx context.Context, key domain.Key) (domain.Versioned, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.redisKey(key), "tokens", "last_refill", "version").Result()
	if err != nil {
		return domain.Versioned{}, false, err
	}
	if len(vals) != 3 || vals[2] == nil {
		return domain.Versioned{}, false, nil
	}
	fields := make([]string, 3)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return domain.Versioned{}, false, fmt.Errorf("redis store: unexpected field type %T", v)
		}
		fields[i] = str
	}
	st, err := parseBucket(fields)
	if err != nil {
		return domain.Versioned{}, false, err
	}
	return st, true, nil
}

func (s *RedisCounterStore) CreateIfAbsent(ctx context.Context, key domain.Key, initial domain.BucketState, ttl time.Duration) (domain.Versioned, error) {
	fields, err := createIfAbsentScript.Run(ctx, s.rdb, []string{s.redisKey(key)},
		formatTokens(initial.Tokens),
		initial.LastRefill,
		ttl.Milliseconds(),
	).StringSlice()
	if err != nil {
		return domain.Versioned{}, err
	}
	return parseBucket(fields)
}

func (s *RedisCounterStore) CompareAndSwap(ctx context.Context, key domain.Key, expectedVersion int64, next domain.BucketState, ttl time.Duration) (bool, error) {
	n, err := compareAndSwapScript.Run(ctx, s.rdb, []string{s.redisKey(key)},
		expectedVersion,
		formatTokens(next.Tokens),
		next.LastRefill,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TakeAtomic executa takeScript: uma ida ao Redis por decisão, sem CAS no cliente.
func (s *RedisCounterStore) TakeAtomic(ctx context.Context, key domain.Key, rule domain.Rule, now time.Time, ttl time.Duration) (domain.Decision, error) {
	res, err := takeScript.Run(ctx, s.rdb, []string{s.redisKey(key)},
		rule.Capacity(),
		formatTokens(rule.RefillRatePerSecond()),
		rule.RequestedTokens(),
		now.UnixMicro(),
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return domain.Decision{}, err
	}
	if len(res) != 2 {
		return domain.Decision{}, fmt.Errorf("%w: take returned %d values", errCorruptBucket, len(res))
	}
	allowed, ok := res[0].(int64)
	if !ok {
		return domain.Decision{}, fmt.Errorf("%w: take allowed %T", errCorruptBucket, res[0])
	}
	raw, ok := res[1].(string)
	if !ok {
		return domain.Decision{}, fmt.Errorf("%w: take tokens %T", errCorruptBucket, res[1])
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("%w: tokens: %w", errCorruptBucket, err)
	}
	return rule.Decide(allowed == 1, tokens), nil
}

func formatTokens(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var errCorruptBucket = errors.New("redis store: corrupt bucket hash")

func parseBucket(fields []string) (domain.Versioned, error) {
	if len(fields) != 3 {
		return domain.Versioned{}, errCorruptBucket
	}
	tokens, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return domain.Versioned{}, fmt.Errorf("%w: tokens: %w", errCorruptBucket, err)
	}
	last, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return domain.Versioned{}, fmt.Errorf("%w: last_refill: %w", errCorruptBucket, err)
	}
	version, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return domain.Versioned{}, fmt.Errorf("%w: version: %w", errCorruptBucket, err)
	}
	return domain.Versioned{
		State:   domain.BucketState{Tokens: tokens, LastRefill: last},
		Version: version,
	}, nil
}
