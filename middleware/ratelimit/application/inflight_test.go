package application

import (
	"context"
	"testing"
	"time"
)

type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case <-time.After(5 * time.Second):
		// não deve chegar aqui nos testes
		return nil, false
	}
}

func (p *blockingPool) TryAcquire() (func(), bool) { return nil, false }

type immediatePool struct {
	acquired int
	released int
}

func (p *immediatePool) Acquire(ctx context.Context) (func(), bool) {
	p.acquired++
	return func() { p.released++ }, true
}

func (p *immediatePool) TryAcquire() (func(), bool) { return p.Acquire(context.Background()) }

func TestInflightService_Acquire_AllowsWhenNoPool(t *testing.T) {
	svc := InflightService{}
	release, ok := svc.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected ok")
	}
	release()
}

func TestInflightService_Acquire_UsesTimeout(t *testing.T) {
	svc := InflightService{Pool: &blockingPool{}, AcquireTimeout: 10 * time.Millisecond}

	_, ok := svc.Acquire(context.Background())
	if ok {
		t.Fatalf("expected timeout and ok=false")
	}
}

func TestInflightService_Acquire_NoTimeoutDelegatesToPool(t *testing.T) {
	pool := &immediatePool{}
	svc := InflightService{Pool: pool}

	release, ok := svc.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected ok")
	}
	release()
	if pool.acquired != 1 || pool.released != 1 {
		t.Fatalf("expected one acquire and one release, got %d/%d", pool.acquired, pool.released)
	}
}
