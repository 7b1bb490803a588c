package infra

import (
	"context"
	"strings"
	"sync"

	"fingerprint-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
)

const defaultKeyPrefix = "ratelimit"

// storeKey monta a chave física do registro. Formato é detalhe do store:
// <prefix>:<policy>:<type>:<id>.
func storeKey(prefix string, scope domain.Scope) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(':')
	if scope.Policy != "" {
		b.WriteString(scope.Policy)
		b.WriteByte(':')
	}
	b.WriteString(scope.Key())
	return b.String()
}

// MemoryCounterStore implementa domain.CounterStore em memória, com o mesmo
// contrato otimista do Redis (versão comparada no commit).
//
// Só serve para um processo (dev/testes). Não é cache: é o próprio store.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	rec     domain.RateLimitRecord
	version uint64
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryCounterStore) Update(ctx context.Context, scope domain.Scope, fn domain.UpdateFunc) (domain.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.TxCommitted, errors.WithMessage(err, "memory store update")
	}
	key := storeKey(defaultKeyPrefix, scope)

	s.mu.Lock()
	var (
		rec     domain.RateLimitRecord
		version uint64
	)
	if ent, ok := s.entries[key]; ok {
		rec = cloneRecord(ent.rec)
		version = ent.version
	}
	s.mu.Unlock()

	if !fn(&rec) {
		return domain.TxCommitted, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current uint64
	if ent, ok := s.entries[key]; ok {
		current = ent.version
	}
	if current != version {
		return domain.TxConflict, nil
	}
	s.entries[key] = &memoryEntry{rec: cloneRecord(rec), version: version + 1}
	return domain.TxCommitted, nil
}

func (s *MemoryCounterStore) Get(_ context.Context, scope domain.Scope) (domain.RateLimitRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[storeKey(defaultKeyPrefix, scope)]
	if !ok {
		return domain.RateLimitRecord{}, false, nil
	}
	return cloneRecord(ent.rec), true, nil
}

// Len devolve quantos registros existem.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func cloneRecord(rec domain.RateLimitRecord) domain.RateLimitRecord {
	out := rec
	if rec.RequestTimestamps != nil {
		out.RequestTimestamps = append([]int64(nil), rec.RequestTimestamps...)
	}
	return out
}
