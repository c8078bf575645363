package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gateway-ratelimit/middleware/ratelimit/clock"
	"gateway-ratelimit/middleware/ratelimit/domain"
	"gateway-ratelimit/middleware/ratelimit/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout     = 100 * time.Millisecond
	DefaultMaxAttempts = 5

	// RetryAfter sugerido quando a política fail-closed rejeita.
	failClosedRetryAfter = time.Second
)

// errCallerGone: a requisição foi cancelada antes do store responder.
var errCallerGone = errors.New("ratelimit: caller canceled before store responded")

// Limiter é o Token Bucket Limiter distribuído.
//
// Nenhum estado de bucket fica em memória entre chamadas. Stores que implementam
// domain.AtomicTaker decidem em um passo atômico; os demais passam por um ciclo
// read-modify-write com compare-and-swap no CounterStore compartilhado.
// É seguro para uso concorrente; chaves diferentes não disputam nada aqui.
type Limiter struct {
	store       domain.CounterStore
	clock       clock.Clock
	policy      domain.FailurePolicy
	timeout     time.Duration
	maxAttempts int
	idleTTL     time.Duration
	inflight    InflightService

	log *zap.SugaredLogger
	// limita logs de falha do store (um outage não pode virar uma enxurrada de logs)
	logLimiter *rate.Limiter
}

type Option func(*Limiter)

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

func WithPolicy(p domain.FailurePolicy) Option {
	return func(l *Limiter) { l.policy = p }
}

// WithTimeout limita o tempo total gasto no store por chamada
// (independente do timeout da requisição downstream).
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithIdleTTL fixa o TTL dos buckets. Sem ele, usa Rule.IdleTTL().
func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = d }
}

func WithInflight(s InflightService) Option {
	return func(l *Limiter) { l.inflight = s }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// WithFailureLogRate controla quantos logs de falha por segundo (com rajada) são emitidos.
func WithFailureLogRate(perSecond float64, burst int) Option {
	return func(l *Limiter) { l.logLimiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func NewLimiter(store domain.CounterStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:       store,
		clock:       clock.Real{},
		policy:      domain.FailOpen,
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		log:         zap.NewNop().Sugar(),
		logLimiter:  rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Policy() domain.FailurePolicy { return l.policy }

// TryAcquire consome RequestedTokens do bucket de key no instante atual do clock.
func (l *Limiter) TryAcquire(ctx context.Context, key domain.Key, rule domain.Rule) domain.Decision {
	return l.TryAcquireAt(ctx, key, rule, l.clock.Now())
}

// TryAcquireAt é TryAcquire com o instante explícito.
//
// Nunca retorna erro: falhas viram Decision conforme a FailurePolicy, com Cause
// preenchido, log e métrica. Se ctx encerrar antes do store responder, a operação
// no store continua até o fim (para não deixar estado parcial) e o resultado é descartado.
func (l *Limiter) TryAcquireAt(ctx context.Context, key domain.Key, rule domain.Rule, now time.Time) domain.Decision {
	if key == "" || !rule.Bound() || l.store == nil {
		return domain.Decision{Allowed: true, Remaining: float64(rule.Capacity()), Outcome: domain.OutcomeUnlimited}
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	release, ok := l.inflight.Acquire(opCtx)
	if !ok {
		cancel()
		return l.fail(key, fmt.Errorf("%w: no in-flight slot available", domain.ErrStoreUnavailable))
	}

	// ctx sem cancelamento: não precisa de goroutine.
	if ctx.Done() == nil {
		defer cancel()
		defer release()
		dec, err := l.acquire(opCtx, key, rule, now)
		if err != nil {
			return l.fail(key, err)
		}
		return dec
	}

	type result struct {
		dec domain.Decision
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer cancel()
		defer release()
		dec, err := l.acquire(opCtx, key, rule, now)
		done <- result{dec: dec, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return l.fail(key, res.err)
		}
		return res.dec
	case <-ctx.Done():
		return l.fail(key, fmt.Errorf("%w: %w", errCallerGone, ctx.Err()))
	}
}

// acquire usa o passo atômico do store quando existe; senão, o loop de
// compare-and-swap limitado por maxAttempts.
func (l *Limiter) acquire(ctx context.Context, key domain.Key, rule domain.Rule, now time.Time) (domain.Decision, error) {
	start := time.Now()
	defer func() { metrics.StoreDuration.Observe(time.Since(start).Seconds()) }()

	ttl := l.idleTTL
	if ttl <= 0 {
		ttl = rule.IdleTTL()
	}

	if taker, ok := l.store.(domain.AtomicTaker); ok {
		dec, err := taker.TakeAtomic(ctx, key, rule, now, ttl)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("%w: take: %w", domain.ErrStoreUnavailable, err)
		}
		return dec, nil
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		cur, found, err := l.store.Get(ctx, key)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("%w: get: %w", domain.ErrStoreUnavailable, err)
		}
		if !found {
			// criação atômica: se outra instância criou antes, recebemos o estado dela.
			cur, err = l.store.CreateIfAbsent(ctx, key, rule.Initial(now), ttl)
			if err != nil {
				return domain.Decision{}, fmt.Errorf("%w: create: %w", domain.ErrStoreUnavailable, err)
			}
		}

		next, dec := rule.Take(cur.State, now)
		swapped, err := l.store.CompareAndSwap(ctx, key, cur.Version, next, ttl)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("%w: compare-and-swap: %w", domain.ErrStoreUnavailable, err)
		}
		if swapped {
			metrics.CASAttempts.Observe(float64(attempt))
			return dec, nil
		}
	}

	metrics.CASAttempts.Observe(float64(l.maxAttempts))
	return domain.Decision{}, fmt.Errorf("%w: %d attempts", domain.ErrCASConflictExhausted, l.maxAttempts)
}

func (l *Limiter) fail(key domain.Key, err error) domain.Decision {
	kind := metrics.KindUnavailable
	switch {
	case errors.Is(err, domain.ErrCASConflictExhausted):
		kind = metrics.KindConflict
	case errors.Is(err, errCallerGone):
		kind = metrics.KindCanceled
	}
	metrics.StoreFailures.WithLabelValues(kind).Inc()

	switch {
	case kind == metrics.KindCanceled:
		l.log.Debugw("rate limit decision discarded, caller canceled", "key", key)
	case !l.logLimiter.Allow():
	case kind == metrics.KindConflict:
		l.log.Warnw("rate limit CAS retries exhausted", "key", key, "policy", l.policy.String(), "error", err)
	default:
		l.log.Errorw("rate limit store unavailable", "key", key, "policy", l.policy.String(), "error", err)
	}

	// Remaining -1: saldo desconhecido.
	if l.policy == domain.FailClosed {
		return domain.Decision{
			Allowed:    false,
			Remaining:  -1,
			RetryAfter: failClosedRetryAfter,
			Outcome:    domain.OutcomeFailClosed,
			Cause:      err,
		}
	}
	return domain.Decision{Allowed: true, Remaining: -1, Outcome: domain.OutcomeFailOpen, Cause: err}
}
