package infra

import (
	"context"
	"reflect"
	"testing"
	"time"

	"fingerprint-gateway/middleware/ratelimit/domain"
)

var ipScope = domain.Scope{Type: domain.ScopeIP, ID: "198.51.100.7", Policy: "public"}

func admit(ts ...int64) domain.UpdateFunc {
	return func(rec *domain.RateLimitRecord) bool {
		rec.ScopeKey = "ip:198.51.100.7"
		rec.ScopeType = domain.ScopeIP
		rec.RequestTimestamps = append(rec.RequestTimestamps, ts...)
		rec.LastUpdated = time.UnixMilli(ts[len(ts)-1])
		return true
	}
}

func TestMemoryCounterStore_GetAbsent(t *testing.T) {
	s := NewMemoryCounterStore()

	_, ok, err := s.Get(context.Background(), ipScope)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected absent record")
	}
}

func TestMemoryCounterStore_RoundTripKeepsOrder(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	if res, err := s.Update(ctx, ipScope, admit(30, 10, 20)); err != nil || res != domain.TxCommitted {
		t.Fatalf("expected commit, got %s err=%v", res, err)
	}

	rec, ok, err := s.Get(ctx, ipScope)
	if err != nil || !ok {
		t.Fatalf("expected record, ok=%v err=%v", ok, err)
	}
	if want := []int64{30, 10, 20}; !reflect.DeepEqual(rec.RequestTimestamps, want) {
		t.Fatalf("expected %v, got %v", want, rec.RequestTimestamps)
	}
	if !rec.LastUpdated.Equal(time.UnixMilli(20)) {
		t.Fatalf("unexpected lastUpdated %s", rec.LastUpdated)
	}

	// o registro devolvido é cópia
	rec.RequestTimestamps[0] = 999
	again, _, _ := s.Get(ctx, ipScope)
	if again.RequestTimestamps[0] != 30 {
		t.Fatalf("store leaked internal slice")
	}
}

func TestMemoryCounterStore_NoWriteLeavesRecordAlone(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	res, err := s.Update(ctx, ipScope, func(*domain.RateLimitRecord) bool { return false })
	if err != nil || res != domain.TxCommitted {
		t.Fatalf("expected commit without write, got %s err=%v", res, err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected no record, got %d", s.Len())
	}
}

func TestMemoryCounterStore_ConcurrentWriteIsConflict(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx := context.Background()

	res, err := s.Update(ctx, ipScope, func(rec *domain.RateLimitRecord) bool {
		// outro escritor commita entre a leitura e o commit desta transação
		if _, err := s.Update(ctx, ipScope, admit(1)); err != nil {
			t.Fatalf("inner update: %v", err)
		}
		rec.RequestTimestamps = append(rec.RequestTimestamps, 2)
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != domain.TxConflict {
		t.Fatalf("expected conflict, got %s", res)
	}

	rec, _, _ := s.Get(ctx, ipScope)
	if want := []int64{1}; !reflect.DeepEqual(rec.RequestTimestamps, want) {
		t.Fatalf("conflicting write must not be applied, got %v", rec.RequestTimestamps)
	}
}

func TestMemoryCounterStore_CancelledContext(t *testing.T) {
	s := NewMemoryCounterStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := s.Update(ctx, ipScope, func(*domain.RateLimitRecord) bool { called = true; return true })
	if err == nil {
		t.Fatalf("expected error on cancelled context")
	}
	if called {
		t.Fatalf("update func must not run on cancelled context")
	}
}

func TestStoreKey_NamespacesByPolicy(t *testing.T) {
	health := domain.Scope{Type: domain.ScopeIP, ID: "1.2.3.4", Policy: "health"}
	public := domain.Scope{Type: domain.ScopeIP, ID: "1.2.3.4", Policy: "public"}

	if got := storeKey("ratelimit", health); got != "ratelimit:health:ip:1.2.3.4" {
		t.Fatalf("unexpected key %q", got)
	}
	if storeKey("ratelimit", health) == storeKey("ratelimit", public) {
		t.Fatalf("expected different policies to use different records")
	}
	if got := storeKey("rl", domain.Scope{Type: domain.ScopeAPIKey, ID: "k"}); got != "rl:apiKey:k" {
		t.Fatalf("unexpected key without policy %q", got)
	}
}

func TestChanPool_LimitsAndReleases(t *testing.T) {
	p := NewChanPool(1)

	release, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected second acquire to time out")
	}

	release()

	done, cancelDone := context.WithCancel(context.Background())
	cancelDone()
	if _, ok := p.Acquire(done); !ok {
		t.Fatalf("expected free slot to be taken even with cancelled ctx")
	}
}
