package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fingerprint-gateway/middleware/ratelimit"
	"fingerprint-gateway/middleware/ratelimit/application"
	"fingerprint-gateway/middleware/ratelimit/config"
	"fingerprint-gateway/middleware/ratelimit/domain"
	"fingerprint-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	setupLogging(cfg.Log)

	if strings.TrimSpace(cfg.Server.UpstreamURL) == "" {
		log.Fatal("config error: UPSTREAM_URL is required")
	}
	target, err := url.Parse(cfg.Server.UpstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.WithError(err).Warn("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	counters := infra.NewRedisCounterStore(rdb, infra.WithKeyPrefix(cfg.Redis.KeyPrefix))
	if cfg.Enabled {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := counters.Ping(pingCtx)
		cancel()
		if err != nil {
			// não é fatal: a FailurePolicy decide o que acontece com as requisições
			log.WithError(err).Warn("redis unavailable at start-up")
		}
	}

	recorder, err := buildStats(cfg, rdb)
	if err != nil {
		log.Fatalf("stats error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gate := ratelimit.NewGate(gateOptions(cfg, counters, recorder))

	mux := http.NewServeMux()
	if cfg.Stats.Enabled && cfg.Stats.Prometheus && cfg.Server.MetricsPath != "" {
		mux.Handle(cfg.Server.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", gate.Handler(proxy))

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("gateway listening on %s -> %s", cfg.Server.ListenAddr, target)
	log.Infof("rate: enabled=%v failurePolicy=%s checkTimeout=%s trustXFF=%v apiKeyHeader=%q", cfg.Enabled, cfg.FailurePolicy, cfg.CheckTimeout, cfg.TrustXFF, cfg.APIKeyHeader)
	for _, name := range cfg.PolicyNames() {
		p := cfg.Policies[name]
		log.Infof("rate policy %s: scope=%s enabled=%v window=%s max=%d", name, p.Scope, p.Enabled, p.Window, p.Max)
	}
	log.Infof("rate-stats: enabled=%v redis=%v sql=%q prometheus=%v maxInFlight=%d", cfg.Stats.Enabled, cfg.Stats.Redis, cfg.Stats.SQLDialect, cfg.Stats.Prometheus, cfg.Stats.MaxInFlight)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	recorder.Wait()
}

// gateOptions monta as opções do gate do gateway. A identidade só vem de um
// header confiável (RATE_LIMIT_IDENTITY_HEADER); sem ele as rotas por
// fingerprint são removidas e caem no limite por IP do prefixo pai.
func gateOptions(cfg config.Config, store domain.CounterStore, stats *application.StatsRecorder) ratelimit.Options {
	opts := ratelimit.Options{
		Config: cfg,
		Store:  store,
		Stats:  stats,
		Retry: application.Retrier{
			MaxAttempts: application.DefaultMaxAttempts,
			BaseDelay:   application.DefaultBaseDelay,
		},
	}
	if h := strings.TrimSpace(cfg.IdentityHeader); h != "" {
		opts.Describe = ratelimit.TrustedIdentityDescribeFunc(cfg.APIKeyHeader, h)
		return opts
	}
	log.Warn("rate limit: RATE_LIMIT_IDENTITY_HEADER not set, fingerprint routes limited by IP")
	opts.Config = cfg.WithoutIdentityRoutes()
	return opts
}

func buildStats(cfg config.Config, rdb *redis.Client) (*application.StatsRecorder, error) {
	if !cfg.Stats.Enabled {
		return nil, nil
	}

	var sinks infra.MultiStatsStore
	if cfg.Stats.Redis {
		sinks = append(sinks, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		))
	}
	if cfg.Stats.SQLDSN != "" {
		db, err := infra.OpenStatsDB(cfg.Stats.SQLDialect, cfg.Stats.SQLDSN)
		if err != nil {
			return nil, err
		}
		store := infra.NewSQLStatsStore(db)
		migrateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = store.Migrate(migrateCtx)
		cancel()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, store)
	}
	if cfg.Stats.Prometheus {
		sinks = append(sinks, infra.NewPrometheusStatsStore(nil))
	}

	var store domain.StatsStore = sinks
	if len(sinks) == 1 {
		store = sinks[0]
	}
	return application.NewStatsRecorder(store, infra.NewChanPool(cfg.Stats.MaxInFlight), cfg.Stats.Timeout), nil
}

func setupLogging(c config.Log) {
	if c.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		log.WithError(err).Warnf("invalid LOG_LEVEL %q, using info", c.Level)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
