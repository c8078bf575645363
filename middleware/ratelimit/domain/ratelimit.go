package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Key identifica uma partição do rate limit (ex: usuário, IP, rota).
// Chave vazia significa "sem limite" para a requisição.
type Key string

// Config é a configuração de um bucket, como vem do arquivo de rotas.
type Config struct {
	Capacity            int
	RefillRatePerSecond float64
	// RequestedTokens é o custo de cada requisição. 0 vira 1.
	RequestedTokens int
}

// Rule é uma Config validada e imutável. Só é construída por Bind, então
// erros de configuração nunca aparecem no caminho da requisição.
//
// O valor zero representa "não vinculada" e o limiter trata como ilimitada.
type Rule struct {
	capacity  int
	rate      float64
	requested int
}

// Bind valida a configuração no momento de registrar a rota.
func Bind(cfg Config) (Rule, error) {
	if cfg.RequestedTokens == 0 {
		cfg.RequestedTokens = 1
	}
	switch {
	case cfg.Capacity <= 0:
		return Rule{}, fmt.Errorf("%w: capacity must be > 0, got %d", ErrConfiguration, cfg.Capacity)
	case math.IsNaN(cfg.RefillRatePerSecond) || math.IsInf(cfg.RefillRatePerSecond, 0) || cfg.RefillRatePerSecond <= 0:
		return Rule{}, fmt.Errorf("%w: refillRatePerSecond must be a positive number, got %v", ErrConfiguration, cfg.RefillRatePerSecond)
	case cfg.RequestedTokens < 0:
		return Rule{}, fmt.Errorf("%w: requestedTokens must be >= 1, got %d", ErrConfiguration, cfg.RequestedTokens)
	case cfg.RequestedTokens > cfg.Capacity:
		return Rule{}, fmt.Errorf("%w: requestedTokens (%d) exceeds capacity (%d)", ErrConfiguration, cfg.RequestedTokens, cfg.Capacity)
	}
	return Rule{capacity: cfg.Capacity, rate: cfg.RefillRatePerSecond, requested: cfg.RequestedTokens}, nil
}

// MustBind é Bind para configurações estáticas (exemplos e testes).
func MustBind(cfg Config) Rule {
	r, err := Bind(cfg)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rule) Bound() bool                  { return r.capacity > 0 }
func (r Rule) Capacity() int                { return r.capacity }
func (r Rule) RefillRatePerSecond() float64 { return r.rate }
func (r Rule) RequestedTokens() int         { return r.requested }

// MaxIdleTTL limita o TTL dos buckets. Taxas muito baixas levariam o cálculo
// além do que cabe num time.Duration.
const MaxIdleTTL = 30 * 24 * time.Hour

// IdleTTL é o tempo sem tráfego depois do qual o store pode descartar o bucket:
// o dobro do tempo de encher do zero, entre 1s e MaxIdleTTL.
func (r Rule) IdleTTL() time.Duration {
	if !r.Bound() {
		return time.Second
	}
	ttl := secondsToDuration(2*float64(r.capacity)/r.rate, MaxIdleTTL)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// secondsToDuration converte sem estourar int64: acima de limit (ou NaN) devolve limit.
func secondsToDuration(secs float64, limit time.Duration) time.Duration {
	if !(secs < limit.Seconds()) {
		return limit
	}
	return time.Duration(secs * float64(time.Second))
}

type Outcome string

const (
	OutcomeAllowed    Outcome = "allowed"
	OutcomeDenied     Outcome = "denied"
	OutcomeUnlimited  Outcome = "unlimited"
	OutcomeFailOpen   Outcome = "fail_open"
	OutcomeFailClosed Outcome = "fail_closed"
)

type Decision struct {
	Allowed bool
	// Remaining é o saldo de tokens após a decisão.
	Remaining float64
	// RetryAfter é o tempo estimado até haver tokens suficientes.
	// Se 0, não há recomendação.
	RetryAfter time.Duration

	Outcome Outcome
	// Cause é o sinal de diagnóstico quando a decisão veio de uma falha
	// (store fora, CAS esgotado). Nunca é retornado como erro ao chamador.
	Cause error
}

func (d Decision) RetryAfterMillis() int64 { return d.RetryAfter.Milliseconds() }

// FailurePolicy decide o que fazer quando o store não responde.
type FailurePolicy int

const (
	FailOpen FailurePolicy = iota
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open", "fail-open":
		return FailOpen, nil
	case "closed", "fail-closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("%w: unknown failure policy %q", ErrConfiguration, s)
}
