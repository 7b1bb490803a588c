package infra

import (
	"context"
	"sync"

	"fingerprint-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Denied  int64
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byRoute  map[string]Counters
	byPolicy map[string]Counters
	byKey    map[string]Counters
	last     []domain.RateLimitStat

	trackKeys bool
	keepLast  int
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// WithKeepLast guarda os últimos n eventos (0 desliga).
func WithKeepLast(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.keepLast = n }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute:  make(map[string]Counters),
		byPolicy: make(map[string]Counters),
		byKey:    make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, st domain.RateLimitStat) error {
	route := st.Method + " " + st.Endpoint

	s.mu.Lock()
	defer s.mu.Unlock()

	bump(&s.total, st.Allowed)
	s.byRoute[route] = bumped(s.byRoute[route], st.Allowed)
	s.byPolicy[st.Policy] = bumped(s.byPolicy[st.Policy], st.Allowed)
	if s.trackKeys {
		s.byKey[st.ScopeKey] = bumped(s.byKey[st.ScopeKey], st.Allowed)
	}

	if s.keepLast > 0 {
		s.last = append(s.last, st)
		if len(s.last) > s.keepLast {
			s.last = s.last[len(s.last)-s.keepLast:]
		}
	}
	return nil
}

func bump(c *Counters, allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

func bumped(c Counters, allowed bool) Counters {
	bump(&c, allowed)
	return c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byRoute)
}

func (s *MemoryStatsStore) ByPolicy() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byPolicy)
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byKey)
}

func (s *MemoryStatsStore) Last() []domain.RateLimitStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RateLimitStat(nil), s.last...)
}

func copyCounters(in map[string]Counters) map[string]Counters {
	out := make(map[string]Counters, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
