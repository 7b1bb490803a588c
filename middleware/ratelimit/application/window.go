package application

import (
	"context"
	"time"

	"fingerprint-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
)

// Evaluate aplica a janela deslizante (now-window, now] sobre timestamps em ms.
//
// Rejeição não devolve lista nova: o registro não deve ser alterado, para
// não consumir slot nem reiniciar a janela. Na admissão devolve a lista já
// podada + now, que substitui a lista gravada.
func Evaluate(timestamps []int64, lim domain.Limit, now int64) (domain.Decision, []int64) {
	windowMs := lim.Window.Milliseconds()
	cutoff := now - windowMs

	valid := make([]int64, 0, len(timestamps)+1)
	for _, ts := range timestamps {
		// comparação estrita: um timestamp com exatamente window de idade já saiu
		if ts > cutoff {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= lim.Max {
		if len(valid) == 0 {
			// Max <= 0: nada libera a janela antes dela inteira
			return domain.Decision{Allowed: false, Limit: lim.Max, RetryAfter: lim.Window}, nil
		}
		oldest := valid[0]
		for _, ts := range valid[1:] {
			if ts < oldest {
				oldest = ts
			}
		}
		wait := oldest + windowMs - now
		return domain.Decision{
			Allowed:    false,
			Limit:      lim.Max,
			RetryAfter: time.Duration(wait) * time.Millisecond,
		}, nil
	}

	valid = append(valid, now)
	return domain.Decision{
		Allowed:   true,
		Remaining: lim.Max - len(valid),
		Limit:     lim.Max,
	}, valid
}

// SlidingWindow executa uma tentativa de decisão dentro de uma transação do store.
type SlidingWindow struct {
	Store domain.CounterStore
}

// Attempt faz exatamente uma tentativa. TxConflict volta para o chamador
// (Retrier), que decide se tenta de novo.
func (w SlidingWindow) Attempt(ctx context.Context, scope domain.Scope, lim domain.Limit, now time.Time) (domain.Decision, domain.TxResult, error) {
	var dec domain.Decision
	nowMs := now.UnixMilli()

	res, err := w.Store.Update(ctx, scope, func(rec *domain.RateLimitRecord) bool {
		d, next := Evaluate(rec.RequestTimestamps, lim, nowMs)
		dec = d
		if !d.Allowed {
			return false
		}
		rec.ScopeKey = scope.Key()
		rec.ScopeType = scope.Type
		rec.RequestTimestamps = next
		rec.LastUpdated = now
		return true
	})
	if err != nil {
		return domain.Decision{}, res, errors.WithMessage(err, "counter store update")
	}
	return dec, res, nil
}
