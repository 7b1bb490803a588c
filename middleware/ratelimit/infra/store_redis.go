package infra

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"fingerprint-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Campos do hash. É o formato que o job de limpeza varre (lastUpdated em ms).
const (
	fieldTimestamps  = "requestTimestamps"
	fieldLastUpdated = "lastUpdated"
	fieldScopeType   = "scopeType"
)

// RedisCounterStore implementa domain.CounterStore com WATCH/MULTI/EXEC.
//
// Cada escopo é um hash. Se outro escritor mexer na chave entre o WATCH e o
// EXEC, o go-redis devolve redis.TxFailedErr, que vira domain.TxConflict.
type RedisCounterStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisStoreOption func(*RedisCounterStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisCounterStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisCounterStore {
	s := &RedisCounterStore{rdb: rdb, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) Update(ctx context.Context, scope domain.Scope, fn domain.UpdateFunc) (domain.TxResult, error) {
	key := storeKey(s.prefix, scope)

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		rec := decodeRecord(key, vals)
		if len(vals) > 0 {
			rec.ScopeKey = scope.Key()
		}
		if !fn(&rec) {
			return nil
		}

		fields, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// HSET substitui a lista inteira; nunca anexa.
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.TxConflict, nil
	}
	if err != nil {
		return domain.TxCommitted, errors.Wrapf(domain.ErrStoreUnavailable, "redis tx %s: %v", key, err)
	}
	return domain.TxCommitted, nil
}

func (s *RedisCounterStore) Get(ctx context.Context, scope domain.Scope) (domain.RateLimitRecord, bool, error) {
	key := storeKey(s.prefix, scope)
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.RateLimitRecord{}, false, errors.Wrapf(domain.ErrStoreUnavailable, "redis hgetall %s: %v", key, err)
	}
	if len(vals) == 0 {
		return domain.RateLimitRecord{}, false, nil
	}
	rec := decodeRecord(key, vals)
	rec.ScopeKey = scope.Key()
	return rec, true, nil
}

func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return errors.WithMessage(s.rdb.Ping(ctx).Err(), "redis ping")
}

func encodeRecord(rec domain.RateLimitRecord) (map[string]interface{}, error) {
	ts := rec.RequestTimestamps
	if ts == nil {
		ts = []int64{}
	}
	raw, err := json.Marshal(ts)
	if err != nil {
		return nil, errors.WithMessage(err, "encode timestamps")
	}
	return map[string]interface{}{
		fieldTimestamps:  string(raw),
		fieldLastUpdated: strconv.FormatInt(rec.LastUpdated.UnixMilli(), 10),
		fieldScopeType:   string(rec.ScopeType),
	}, nil
}

// decodeRecord trata hash ausente como registro vazio. Campo corrompido
// também vira vazio (logado): a próxima admissão regrava a lista inteira.
func decodeRecord(key string, vals map[string]string) domain.RateLimitRecord {
	var rec domain.RateLimitRecord
	if len(vals) == 0 {
		return rec
	}
	rec.ScopeType = domain.ScopeType(vals[fieldScopeType])

	if raw := vals[fieldTimestamps]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.RequestTimestamps); err != nil {
			log.WithError(err).WithField("key", key).Warn("rate limit: corrupted timestamps, resetting record")
			rec.RequestTimestamps = nil
		}
	}
	if raw := vals[fieldLastUpdated]; raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			rec.LastUpdated = time.UnixMilli(ms)
		}
	}
	return rec
}
