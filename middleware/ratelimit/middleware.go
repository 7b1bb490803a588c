package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"fingerprint-gateway/middleware/ratelimit/application"
	"fingerprint-gateway/middleware/ratelimit/config"
	"fingerprint-gateway/middleware/ratelimit/domain"

	log "github.com/sirupsen/logrus"
)

const (
	msgTooManyRequests = "Too many requests, please try again later"
	msgCheckFailed     = "Rate limit check failed"
)

type Options struct {
	Config config.Config
	Store  domain.CounterStore
	// Stats é opcional. Nil desliga as estatísticas.
	Stats *application.StatsRecorder
	Retry application.Retrier
	Now   func() time.Time
	// Describe sobrescreve a extração padrão (DefaultDescribeFunc).
	Describe DescribeFunc
}

// Verdict é o resultado do gate para uma requisição.
type Verdict struct {
	Proceed bool
	// Skipped: o resolver decidiu não limitar; o store não foi tocado.
	Skipped  bool
	Status   int
	Scope    domain.Scope
	Decision domain.Decision
	// Err vem preenchido em falha do limiter, inclusive com fail-open.
	Err error
}

// Gate é o ponto de admissão: roda antes de qualquer handler de negócio.
type Gate struct {
	resolver *Resolver
	svc      application.Service
	stats    *application.StatsRecorder
	policy   config.FailurePolicy
	timeout  time.Duration

	addHeaders bool
	describe   DescribeFunc
	now        func() time.Time
}

func NewGate(opts Options) *Gate {
	timeout := opts.Config.CheckTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	policy := opts.Config.FailurePolicy
	if policy == "" {
		policy = config.FailClosed
	}
	describe := opts.Describe
	if describe == nil {
		describe = DefaultDescribeFunc(opts.Config.APIKeyHeader)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Store == nil {
		log.Warnf("rate limit: no counter store configured, every check fails (failure policy %s)", policy)
	}
	return &Gate{
		resolver: NewResolver(opts.Config),
		svc: application.Service{
			Store: opts.Store,
			Retry: opts.Retry,
			Now:   now,
		},
		stats:      opts.Stats,
		policy:     policy,
		timeout:    timeout,
		addHeaders: opts.Config.AddHeaders,
		describe:   describe,
		now:        now,
	}
}

// Check resolve o escopo e decide. O timeout cobre a sequência inteira;
// cancelamento do cliente não interrompe a checagem no meio.
func (g *Gate) Check(ctx context.Context, req RequestDescriptor) Verdict {
	scope, lim, ok := g.resolver.Resolve(req)
	if !ok {
		return Verdict{Proceed: true, Skipped: true}
	}

	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	dec, err := g.svc.Decide(checkCtx, scope, lim)
	if err != nil {
		entry := log.WithError(err).WithFields(log.Fields{
			"scope":  scope.Key(),
			"policy": scope.Policy,
			"path":   req.Path,
		})
		if g.policy == config.FailOpen {
			entry.Warn("rate limit: check failed, failing open")
			return Verdict{Proceed: true, Scope: scope, Err: err}
		}
		entry.Error("rate limit: check failed")
		return Verdict{Status: http.StatusInternalServerError, Scope: scope, Err: err}
	}

	g.stats.Record(domain.RateLimitStat{
		ScopeKey:  scope.Key(),
		ScopeType: scope.Type,
		Policy:    scope.Policy,
		Allowed:   dec.Allowed,
		Method:    req.Method,
		Endpoint:  req.Path,
		Remaining: dec.Remaining,
		Timestamp: g.now(),
	})

	if !dec.Allowed {
		return Verdict{Status: http.StatusTooManyRequests, Scope: scope, Decision: dec}
	}
	return Verdict{Proceed: true, Scope: scope, Decision: dec}
}

// Body é o JSON de erro devolvido ao cliente.
type Body struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}

// Body devolve o corpo de resposta de um verdict que não prossegue.
func (v Verdict) Body() Body {
	if v.Status == http.StatusTooManyRequests {
		secs := v.Decision.RetryAfterSeconds()
		return Body{Error: msgTooManyRequests, RetryAfter: &secs}
	}
	return Body{Error: msgCheckFailed}
}

// headers devolve os headers a aplicar na resposta (admissão ou rejeição).
func (g *Gate) headers(v Verdict) map[string]string {
	h := make(map[string]string, 3)
	if v.Status == http.StatusTooManyRequests {
		h["Retry-After"] = formatInt(v.Decision.RetryAfterSeconds())
	}
	if g.addHeaders && !v.Skipped && v.Err == nil {
		h["X-RateLimit-Limit"] = formatInt(v.Decision.Limit)
		h["X-RateLimit-Remaining"] = formatInt(v.Decision.Remaining)
	}
	return h
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	g := NewGate(opts)
	return g.Handler
}

// Handler é o adapter net/http do gate.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := g.Check(r.Context(), g.describe(r))
		for k, val := range g.headers(v) {
			w.Header().Set(k, val)
		}

		if !v.Proceed {
			writeJSON(w, v.Status, v.Body())
			return
		}
		if !v.Skipped && v.Err == nil {
			r = r.WithContext(withRemaining(r.Context(), v.Decision.Remaining))
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("rate limit: write response body")
	}
}
