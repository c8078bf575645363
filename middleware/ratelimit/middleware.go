package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gateway-ratelimit/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// Acquirer é o que o middleware precisa do limiter (application.Limiter).
type Acquirer interface {
	TryAcquire(ctx context.Context, key domain.Key, rule domain.Rule) domain.Decision
}

type Options struct {
	Limiter Acquirer
	// Rule já validada no bind da rota (domain.Bind).
	Rule domain.Rule
	// Route escopa as chaves: o mesmo cliente tem um bucket por rota.
	Route string

	Stats              domain.StatsStore
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	RejectStatus       int
	// AddRateLimitHeaders inclui os headers de quota também nas respostas permitidas.
	AddRateLimitHeaders bool
	Logger              *zap.SugaredLogger
}

// Headers de quota (mesmos nomes usados por gateways Spring Cloud).
const (
	HeaderRemaining       = "X-RateLimit-Remaining"
	HeaderBurstCapacity   = "X-RateLimit-Burst-Capacity"
	HeaderReplenishRate   = "X-RateLimit-Replenish-Rate"
	HeaderRequestedTokens = "X-RateLimit-Requested-Tokens"
)

type rejectionBody struct {
	Error            string  `json:"error"`
	RetryAfterMillis int64   `json:"retryAfterMillis"`
	RemainingTokens  float64 `json:"remainingTokens"`
}

// Middleware é o filtro do gateway: resolve a chave, consulta o limiter e
// encaminha ou rejeita. Não guarda estado.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Route != "" {
		opts.KeyFn = ScopedKeyFunc(opts.Route, opts.KeyFn)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	return func(next http.Handler) http.Handler {
		if opts.Limiter == nil || !opts.Rule.Bound() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := resolveKey(opts.KeyFn, r, opts.Logger)

			var dec domain.Decision
			if key == "" {
				dec = domain.Decision{Allowed: true, Remaining: float64(opts.Rule.Capacity()), Outcome: domain.OutcomeUnlimited}
			} else {
				dec = opts.Limiter.TryAcquire(r.Context(), domain.Key(key), opts.Rule)
			}

			if opts.Stats != nil {
				if err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     domain.Key(key),
					Route:   opts.Route,
					Allowed: dec.Allowed,
					Outcome: dec.Outcome,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				}); err != nil {
					opts.Logger.Debugw("rate limit stats record failed", "route", opts.Route, "error", err)
				}
			}

			// cliente já desistiu: não encaminha nem responde.
			if r.Context().Err() != nil {
				return
			}

			if !dec.Allowed {
				setQuotaHeaders(w.Header(), opts.Rule, dec)
				writeRejection(w, opts.RejectStatus, dec)
				return
			}
			if opts.AddRateLimitHeaders && dec.Outcome != domain.OutcomeUnlimited {
				setQuotaHeaders(w.Header(), opts.Rule, dec)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// resolveKey trata pânico do resolver como falha de resolução: requisição sem limite.
func resolveKey(fn KeyFunc, r *http.Request, log *zap.SugaredLogger) (key string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warnw("rate limit key resolution failed, request not limited",
				"path", r.URL.Path, "error", fmt.Errorf("%w: %v", domain.ErrKeyResolution, rec))
			key = ""
		}
	}()
	return fn(r)
}

func setQuotaHeaders(h http.Header, rule domain.Rule, dec domain.Decision) {
	h.Set(HeaderRemaining, formatRemaining(dec.Remaining))
	h.Set(HeaderBurstCapacity, formatInt(rule.Capacity()))
	h.Set(HeaderReplenishRate, formatFloat(rule.RefillRatePerSecond()))
	h.Set(HeaderRequestedTokens, formatInt(rule.RequestedTokens()))
}

func writeRejection(w http.ResponseWriter, status int, dec domain.Decision) {
	w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rejectionBody{
		Error:            "too many requests",
		RetryAfterMillis: dec.RetryAfterMillis(),
		RemainingTokens:  dec.Remaining,
	})
}
