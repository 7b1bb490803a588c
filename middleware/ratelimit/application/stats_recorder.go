package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fingerprint-gateway/middleware/ratelimit/domain"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// StatsRecorder grava estatísticas em background, best-effort.
//
// Record nunca bloqueia e nunca devolve erro: sem vaga no pool o evento é
// descartado, falha de gravação vira log (amostrado para não inundar).
type StatsRecorder struct {
	store   domain.StatsStore
	slots   ConcurrencyService
	timeout time.Duration

	logLimiter *rate.Limiter
	wg         sync.WaitGroup
	dropped    atomic.Int64
	failed     atomic.Int64
}

// NewStatsRecorder: slots limita gravações em voo. timeout vale por gravação.
func NewStatsRecorder(store domain.StatsStore, slots domain.SlotPool, timeout time.Duration) *StatsRecorder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &StatsRecorder{
		store:      store,
		slots:      ConcurrencyService{Pool: slots},
		timeout:    timeout,
		logLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (r *StatsRecorder) Record(st domain.RateLimitStat) {
	if r == nil || r.store == nil {
		return
	}
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now()
	}

	release, ok := r.slots.TryAcquire()
	if !ok {
		n := r.dropped.Add(1)
		if r.logLimiter.Allow() {
			log.WithFields(log.Fields{"scope": st.ScopeKey, "dropped_total": n}).Warn("rate limit stats: no free slot, event dropped")
		}
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer release()
		defer func() {
			// um sink com bug não pode derrubar o processo
			if p := recover(); p != nil {
				r.failed.Add(1)
				log.WithField("panic", p).Error("rate limit stats: sink panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.store.Record(ctx, st); err != nil {
			n := r.failed.Add(1)
			if r.logLimiter.Allow() {
				log.WithError(err).WithField("failed_total", n).Warn("rate limit stats: record failed")
			}
		}
	}()
}

// Wait bloqueia até as gravações em voo terminarem (shutdown e testes).
func (r *StatsRecorder) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

func (r *StatsRecorder) Dropped() int64 { return r.dropped.Load() }
func (r *StatsRecorder) Failed() int64  { return r.failed.Load() }
