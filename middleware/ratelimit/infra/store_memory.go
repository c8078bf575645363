package infra

import (
	"context"
	"sync"
	"time"

	"gateway-ratelimit/middleware/ratelimit/clock"
	"gateway-ratelimit/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

const memoryShards = 64

// MemoryCounterStore é um domain.CounterStore em memória, com expiração por TTL.
//
// As chaves são distribuídas em shards (xxhash) para que chaves diferentes não
// disputem o mesmo mutex. Serve para testes e para gateway de instância única;
// não compartilha estado entre processos.
type MemoryCounterStore struct {
	shards       [memoryShards]memoryShard
	clock        clock.Clock
	cleanupEvery time.Duration
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[domain.Key]*memoryEntry
}

type memoryEntry struct {
	state     domain.BucketState
	version   int64
	expiresAt time.Time
}

var (
	_ domain.CounterStore = (*MemoryCounterStore)(nil)
	_ domain.AtomicTaker  = (*MemoryCounterStore)(nil)
)

type MemoryStoreOption func(*MemoryCounterStore)

func WithStoreClock(c clock.Clock) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.clock = c }
}

func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryStoreOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		clock:        clock.Real{},
		cleanupEvery: 2 * time.Minute,
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[domain.Key]*memoryEntry)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryCounterStore) shard(key domain.Key) *memoryShard {
	return &s.shards[xxhash.Sum64String(string(key))%memoryShards]
}

// live retorna a entrada se ainda não expirou. Chamar com o lock do shard.
func (sh *memoryShard) live(key domain.Key, now time.Time) (*memoryEntry, bool) {
	ent, ok := sh.entries[key]
	if !ok {
		return nil, false
	}
	if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
		delete(sh.entries, key)
		return nil, false
	}
	return ent, true
}

func (s *MemoryCounterStore) Get(ctx context.Context, key domain.Key) (domain.Versioned, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Versioned{}, false, err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent, ok := sh.live(key, s.clock.Now())
	if !ok {
		return domain.Versioned{}, false, nil
	}
	return domain.Versioned{State: ent.state, Version: ent.version}, true, nil
}

func (s *MemoryCounterStore) CreateIfAbsent(ctx context.Context, key domain.Key, initial domain.BucketState, ttl time.Duration) (domain.Versioned, error) {
	if err := ctx.Err(); err != nil {
		return domain.Versioned{}, err
	}
	now := s.clock.Now()

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if ent, ok := sh.live(key, now); ok {
		return domain.Versioned{State: ent.state, Version: ent.version}, nil
	}
	ent := &memoryEntry{state: initial, version: 1, expiresAt: expiry(now, ttl)}
	sh.entries[key] = ent
	return domain.Versioned{State: ent.state, Version: ent.version}, nil
}

func (s *MemoryCounterStore) CompareAndSwap(ctx context.Context, key domain.Key, expectedVersion int64, next domain.BucketState, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.clock.Now()

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent, ok := sh.live(key, now)
	if !ok || ent.version != expectedVersion {
		return false, nil
	}
	ent.state = next
	ent.version++
	ent.expiresAt = expiry(now, ttl)
	return true, nil
}

// TakeAtomic faz criação, refill e consumo sob o mutex do shard.
func (s *MemoryCounterStore) TakeAtomic(ctx context.Context, key domain.Key, rule domain.Rule, now time.Time, ttl time.Duration) (domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return domain.Decision{}, err
	}
	wall := s.clock.Now()

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ent, ok := sh.live(key, wall)
	if !ok {
		ent = &memoryEntry{state: rule.Initial(now)}
		sh.entries[key] = ent
	}
	next, dec := rule.Take(ent.state, now)
	ent.state = next
	ent.version++
	ent.expiresAt = expiry(wall, ttl)
	return dec, nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Len retorna o número de buckets guardados (inclui expirados ainda não limpos).
func (s *MemoryCounterStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Cleanup remove buckets expirados.
func (s *MemoryCounterStore) Cleanup() {
	now := s.clock.Now()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k := range sh.entries {
			sh.live(k, now)
		}
		sh.mu.Unlock()
	}
}

// StartJanitor inicia uma goroutine que limpa buckets expirados periodicamente.
// Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
