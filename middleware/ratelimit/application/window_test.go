package application

import (
	"reflect"
	"testing"
	"time"

	"fingerprint-gateway/middleware/ratelimit/domain"
)

var lim3 = domain.Limit{Window: time.Second, Max: 3}

func TestEvaluate_AdmitsUpToMaxThenRejects(t *testing.T) {
	var ts []int64
	wantRemaining := []int{2, 1, 0}

	for i, now := range []int64{0, 100, 200} {
		dec, next := Evaluate(ts, lim3, now)
		if !dec.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
		if dec.Remaining != wantRemaining[i] {
			t.Fatalf("request %d: expected remaining=%d, got %d", i, wantRemaining[i], dec.Remaining)
		}
		ts = next
	}

	dec, next := Evaluate(ts, lim3, 300)
	if dec.Allowed {
		t.Fatalf("expected 4th request to be rejected")
	}
	if next != nil {
		t.Fatalf("expected no new timestamps on reject, got %v", next)
	}
	// ceil((0+1000-300)/1000) = 1
	if got := dec.RetryAfterSeconds(); got != 1 {
		t.Fatalf("expected retryAfter=1, got %d", got)
	}
	if dec.RetryAfter != 700*time.Millisecond {
		t.Fatalf("expected RetryAfter=700ms, got %s", dec.RetryAfter)
	}
}

func TestEvaluate_WindowSlidesPastOldest(t *testing.T) {
	ts := []int64{0, 100, 200}

	// em 1001 o timestamp 0 já saiu (1001-1000=1 > 0): sobram {100,200}
	dec, next := Evaluate(ts, lim3, 1001)
	if !dec.Allowed {
		t.Fatalf("expected allowed after window slid")
	}
	if dec.Remaining != 0 {
		t.Fatalf("expected remaining=0, got %d", dec.Remaining)
	}
	if want := []int64{100, 200, 1001}; !reflect.DeepEqual(next, want) {
		t.Fatalf("expected pruned+appended %v, got %v", want, next)
	}
}

func TestEvaluate_TimestampExactlyWindowOldIsExcluded(t *testing.T) {
	lim := domain.Limit{Window: time.Second, Max: 1}

	// 1000-1000 = 0: timestamp 0 tem exatamente window de idade -> fora
	dec, next := Evaluate([]int64{0}, lim, 1000)
	if !dec.Allowed {
		t.Fatalf("expected timestamp exactly window old to be excluded")
	}
	if want := []int64{1000}; !reflect.DeepEqual(next, want) {
		t.Fatalf("expected %v, got %v", want, next)
	}

	// um ms antes ainda conta
	dec, _ = Evaluate([]int64{0}, lim, 999)
	if dec.Allowed {
		t.Fatalf("expected timestamp 999ms old to still count")
	}
	if got := dec.RetryAfterSeconds(); got != 1 {
		t.Fatalf("expected retryAfter=1, got %d", got)
	}
}

func TestEvaluate_RejectIsIdempotentAndRetryAfterNonIncreasing(t *testing.T) {
	lim := domain.Limit{Window: 10 * time.Second, Max: 2}
	ts := []int64{1000, 2000}
	orig := append([]int64(nil), ts...)

	d1, _ := Evaluate(ts, lim, 3000)
	d2, _ := Evaluate(ts, lim, 3000)
	if d1.Allowed || d2.Allowed {
		t.Fatalf("expected both rejected")
	}
	if d1.RetryAfterSeconds() != d2.RetryAfterSeconds() {
		t.Fatalf("expected same retryAfter, got %d and %d", d1.RetryAfterSeconds(), d2.RetryAfterSeconds())
	}
	if !reflect.DeepEqual(ts, orig) {
		t.Fatalf("input mutated: %v", ts)
	}

	prev := d1.RetryAfterSeconds()
	for now := int64(3000); now < 11000; now += 700 {
		d, _ := Evaluate(ts, lim, now)
		if d.Allowed {
			break
		}
		if d.RetryAfterSeconds() > prev {
			t.Fatalf("retryAfter increased at now=%d: %d > %d", now, d.RetryAfterSeconds(), prev)
		}
		prev = d.RetryAfterSeconds()
	}
}

func TestEvaluate_NeverExceedsMax(t *testing.T) {
	lim := domain.Limit{Window: 500 * time.Millisecond, Max: 4}
	var ts []int64

	for now := int64(0); now < 5000; now += 37 {
		dec, next := Evaluate(ts, lim, now)
		if dec.Allowed {
			ts = next
		}
		inWindow := 0
		for _, t0 := range ts {
			if t0 > now-lim.Window.Milliseconds() {
				inWindow++
			}
		}
		if inWindow > lim.Max {
			t.Fatalf("now=%d: %d timestamps in window, max=%d", now, inWindow, lim.Max)
		}
		if len(ts) > lim.Max {
			t.Fatalf("now=%d: stored list not pruned, len=%d", now, len(ts))
		}
	}
}

func TestEvaluate_NonPositiveMaxRejectsWithoutPanic(t *testing.T) {
	lim := domain.Limit{Window: time.Second, Max: 0}

	dec, next := Evaluate(nil, lim, 500)
	if dec.Allowed || next != nil {
		t.Fatalf("expected reject, got %+v %v", dec, next)
	}
	if dec.RetryAfter != time.Second {
		t.Fatalf("expected full window wait, got %s", dec.RetryAfter)
	}
}
