package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"fingerprint-gateway/middleware/ratelimit/domain"
)

func fastRetrier(attempts int) Retrier {
	return Retrier{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrier_RetriesConflictThenCommits(t *testing.T) {
	calls := 0
	err := fastRetrier(3).Do(context.Background(), "ip:1.2.3.4", func(context.Context) (domain.TxResult, error) {
		calls++
		if calls < 3 {
			return domain.TxConflict, nil
		}
		return domain.TxCommitted, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetrier_ExhaustedBudgetReturnsContention(t *testing.T) {
	calls := 0
	err := fastRetrier(3).Do(context.Background(), "ip:1.2.3.4", func(context.Context) (domain.TxResult, error) {
		calls++
		return domain.TxConflict, nil
	})
	if !errors.Is(err, domain.ErrContention) {
		t.Fatalf("expected ErrContention, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetrier_TerminalErrorIsNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0
	err := fastRetrier(3).Do(context.Background(), "ip:1.2.3.4", func(context.Context) (domain.TxResult, error) {
		calls++
		return domain.TxCommitted, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetrier_StopsOnContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := Retrier{MaxAttempts: 3, BaseDelay: time.Second}
	start := time.Now()
	err := r.Do(ctx, "ip:1.2.3.4", func(context.Context) (domain.TxResult, error) {
		return domain.TxConflict, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("backoff ignored context")
	}
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	cases := map[int]time.Duration{
		0: 100 * time.Millisecond,
		1: 200 * time.Millisecond,
		2: 400 * time.Millisecond,
		9: time.Second,
	}
	for attempt, want := range cases {
		if got := backoff(base, time.Second, attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestJitter_StaysWithinHalfAndFull(t *testing.T) {
	d := 100 * time.Millisecond
	seen := make(map[time.Duration]bool)
	for i := 0; i < 200; i++ {
		got := jitter(d)
		if got < d/2 || got > d {
			t.Fatalf("jitter(%s) = %s, outside [%s, %s]", d, got, d/2, d)
		}
		seen[got] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected jitter to spread delays, got a single value")
	}
	if got := jitter(1); got != 1 {
		t.Fatalf("expected tiny delay unchanged, got %s", got)
	}
}
