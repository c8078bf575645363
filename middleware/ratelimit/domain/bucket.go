package domain

import (
	"math"
	"time"
)

// BucketState é o que fica no store compartilhado para cada chave.
// Invariante: 0 <= Tokens <= capacity.
type BucketState struct {
	Tokens float64
	// LastRefill em microssegundos desde a epoch.
	LastRefill int64
}

// Versioned acompanha a versão usada no compare-and-swap.
type Versioned struct {
	State   BucketState
	Version int64
}

// Initial é o bucket cheio criado no primeiro acesso de uma chave.
func (r Rule) Initial(now time.Time) BucketState {
	return BucketState{Tokens: float64(r.capacity), LastRefill: now.UnixMicro()}
}

// Take aplica refill e depois tenta consumir RequestedTokens.
// Retorna o próximo estado a persistir (sempre, mesmo quando nega) e a decisão.
func (r Rule) Take(st BucketState, now time.Time) (BucketState, Decision) {
	nowMicros := now.UnixMicro()

	// relógio andou para trás (skew entre instâncias): não faz refill negativo
	// e não regride o timestamp gravado.
	elapsed := nowMicros - st.LastRefill
	last := nowMicros
	if elapsed < 0 {
		elapsed = 0
		last = st.LastRefill
	}

	capacity := float64(r.capacity)
	tokens := st.Tokens
	if tokens < 0 {
		tokens = 0
	}
	tokens = math.Min(capacity, tokens+float64(elapsed)/1e6*r.rate)

	need := float64(r.requested)
	allowed := tokens >= need
	if allowed {
		tokens -= need
	}
	return BucketState{Tokens: tokens, LastRefill: last}, r.Decide(allowed, tokens)
}

// maxRetryAfter limita o Retry-After calculado para taxas muito baixas.
const maxRetryAfter = MaxIdleTTL

// Decide monta a decisão a partir do saldo já descontado (allowed) ou do saldo
// insuficiente (negada). Usado também pelos stores que fazem o passo inteiro no servidor.
func (r Rule) Decide(allowed bool, tokens float64) Decision {
	if allowed {
		return Decision{Allowed: true, Remaining: tokens, Outcome: OutcomeAllowed}
	}
	// arredonda em milissegundos para cima: o cliente nunca volta cedo demais.
	waitMillis := math.Ceil((float64(r.requested) - tokens) / r.rate * 1000)
	if limit := float64(maxRetryAfter.Milliseconds()); !(waitMillis < limit) {
		waitMillis = limit
	}
	return Decision{
		Allowed:    false,
		Remaining:  tokens,
		RetryAfter: time.Duration(waitMillis) * time.Millisecond,
		Outcome:    OutcomeDenied,
	}
}
