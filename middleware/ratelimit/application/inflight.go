package application

import (
	"context"
	"time"

	"gateway-ratelimit/middleware/ratelimit/domain"
	"gateway-ratelimit/middleware/ratelimit/metrics"
)

// InflightService limita quantas operações no store podem estar em voo.
//
// As operações rodam desacopladas do cancelamento da requisição; sem esse limite
// um store lento acumularia goroutines. Sem vaga, a chamada vira falha de store.
type InflightService struct {
	Pool domain.SlotPool
	// AcquireTimeout <= 0: espera até o ctx (timeout do limiter) encerrar.
	AcquireTimeout time.Duration
}

// Acquire retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s InflightService) Acquire(ctx context.Context) (func(), bool) {
	if s.Pool == nil {
		return func() {}, true
	}

	var (
		release func()
		ok      bool
	)
	if s.AcquireTimeout <= 0 {
		release, ok = s.Pool.Acquire(ctx)
	} else {
		acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
		release, ok = s.Pool.Acquire(acqCtx)
		cancel()
	}
	if !ok {
		return nil, false
	}

	metrics.InflightStoreCalls.Inc()
	return func() {
		metrics.InflightStoreCalls.Dec()
		release()
	}, true
}
