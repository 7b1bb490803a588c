package infra

import (
	"context"

	"fingerprint-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
)

// MultiStatsStore repassa o evento para todos os sinks. Um sink com erro não
// impede os outros; o primeiro erro é devolvido.
type MultiStatsStore []domain.StatsStore

func (m MultiStatsStore) Record(ctx context.Context, st domain.RateLimitStat) error {
	var first error
	for i, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, st); err != nil && first == nil {
			first = errors.WithMessagef(err, "stats sink #%d", i)
		}
	}
	return first
}
