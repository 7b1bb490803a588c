package application

import (
	"context"
	"time"

	"fingerprint-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão
// ou um erro de store (contenção esgotada, store fora, timeout).
//
// Sem Store não existe decisão: Decide devolve ErrStoreUnavailable e quem
// chama aplica a FailurePolicy.
type Service struct {
	Store domain.CounterStore
	Retry Retrier
	// Now permite fixar o relógio em testes.
	Now func() time.Time
}

func (s Service) Decide(ctx context.Context, scope domain.Scope, lim domain.Limit) (domain.Decision, error) {
	if s.Store == nil {
		return domain.Decision{}, errors.Wrap(domain.ErrStoreUnavailable, "no counter store configured")
	}
	if !lim.Valid() {
		return domain.Decision{}, errors.Errorf("invalid limit for %s: window=%s max=%d", scope.Key(), lim.Window, lim.Max)
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}

	win := SlidingWindow{Store: s.Store}
	var dec domain.Decision
	err := s.Retry.Do(ctx, scope.Key(), func(ctx context.Context) (domain.TxResult, error) {
		d, res, err := win.Attempt(ctx, scope, lim, now())
		dec = d
		return res, err
	})
	if err != nil {
		return domain.Decision{}, err
	}
	return dec, nil
}
