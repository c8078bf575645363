package infra

import (
	"context"
	"maps"
	"sync"

	"gateway-ratelimit/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Denied  int64
	// Degraded conta decisões tomadas pela FailurePolicy (fail_open/fail_closed).
	Degraded int64
}

func (c *Counters) add(ev domain.StatsEvent) {
	if ev.Allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	if ev.Degraded() {
		c.Degraded++
	}
}

// MemoryStatsStore guarda contadores no processo. Sem expiração: serve para
// testes, desenvolvimento e o example-server.
type MemoryStatsStore struct {
	mu        sync.Mutex
	total     Counters
	byScope   map[string]Counters
	byKey     map[string]Counters
	byOutcome map[domain.Outcome]int64
	scopeOutc map[string]map[domain.Outcome]int64
	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byScope:   make(map[string]Counters),
		byKey:     make(map[string]Counters),
		byOutcome: make(map[domain.Outcome]int64),
		scopeOutc: make(map[string]map[domain.Outcome]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	scope := ev.Scope()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)
	c := s.byScope[scope]
	c.add(ev)
	s.byScope[scope] = c

	if ev.Outcome != "" {
		s.byOutcome[ev.Outcome]++
		so := s.scopeOutc[scope]
		if so == nil {
			so = make(map[domain.Outcome]int64)
			s.scopeOutc[scope] = so
		}
		so[ev.Outcome]++
	}
	if s.trackKeys && ev.Key != "" {
		k := s.byKey[string(ev.Key)]
		k.add(ev)
		s.byKey[string(ev.Key)] = k
	}
	return nil
}

func (s *MemoryStatsStore) Snapshot(_ context.Context, scope string) (domain.StatsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, outcomes := s.total, s.byOutcome
	if scope != "" {
		c, outcomes = s.byScope[scope], s.scopeOutc[scope]
	}
	return domain.StatsSnapshot{
		Allowed:  c.Allowed,
		Denied:   c.Denied,
		Degraded: c.Degraded,
		Outcomes: maps.Clone(outcomes),
	}, nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byScope)
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.byKey)
}

func (s *MemoryStatsStore) ByOutcome(o domain.Outcome) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byOutcome[o]
}
