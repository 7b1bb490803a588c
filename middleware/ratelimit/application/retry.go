package application

import (
	"context"
	"math/rand/v2"
	"time"

	"fingerprint-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
)

// Retrier absorve conflitos de transação entre requisições concorrentes do
// mesmo escopo. É o único lugar com política de retry/backoff.
//
// Só TxConflict é retentado. Erro terminal do store volta na hora, e uma
// rejeição por limite é um commit normal (não é retentada).
type Retrier struct {
	MaxAttempts int
	// BaseDelay * 2^attempt entre tentativas, limitado a MaxDelay. A espera
	// real sorteia entre metade e o total, senão todos que perderam o mesmo
	// conflito acordam juntos e só um vence por rodada.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (r Retrier) Do(ctx context.Context, scopeKey string, fn func(ctx context.Context) (domain.TxResult, error)) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	base := r.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := r.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	for attempt := 0; attempt < attempts; attempt++ {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		if res == domain.TxCommitted {
			return nil
		}

		log.WithFields(log.Fields{"scope": scopeKey, "attempt": attempt + 1}).Debug("rate limit: transaction conflict")
		if attempt == attempts-1 {
			break
		}

		t := time.NewTimer(jitter(backoff(base, maxDelay, attempt)))
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.WithMessage(ctx.Err(), "rate limit retry backoff")
		case <-t.C:
		}
	}

	return errors.Wrapf(domain.ErrContention, "scope %s after %d attempts", scopeKey, attempts)
}

func backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// jitter devolve um valor em [d/2, d].
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(d-half+1)
}
