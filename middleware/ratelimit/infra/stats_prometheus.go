package infra

import (
	"context"

	"fingerprint-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusStatsStore expõe as decisões como contadores.
//
// Só labels de baixa cardinalidade: nada de scope key ou endpoint aqui.
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
	remaining *prometheus.HistogramVec
}

// NewPrometheusStatsStore registra os coletores em reg (nil = registry padrão).
func NewPrometheusStatsStore(reg prometheus.Registerer) *PrometheusStatsStore {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusStatsStore{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_decisions_total",
				Help: "Total number of rate limit decisions",
			},
			[]string{"policy", "scope_type", "result"},
		),
		remaining: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_rate_limit_remaining",
				Help:    "Remaining quota after admitted requests",
				Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"policy"},
		),
	}
}

func (s *PrometheusStatsStore) Record(_ context.Context, st domain.RateLimitStat) error {
	result := "rejected"
	if st.Allowed {
		result = "allowed"
		s.remaining.WithLabelValues(st.Policy).Observe(float64(st.Remaining))
	}
	s.decisions.WithLabelValues(st.Policy, string(st.ScopeType), result).Inc()
	return nil
}
