package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fingerprint-gateway/middleware/ratelimit"
	"fingerprint-gateway/middleware/ratelimit/application"
	"fingerprint-gateway/middleware/ratelimit/config"
	"fingerprint-gateway/middleware/ratelimit/infra"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Exemplo: gate injetado direto numa API gin (sem proxy), store em memória.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))
	recorder := application.NewStatsRecorder(stats, infra.NewChanPool(16), time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(demoFingerprintAuth())
	r.Use(ratelimit.GinMiddleware(ratelimit.Options{
		Config: cfg,
		Store:  infra.NewMemoryCounterStore(),
		Stats:  recorder,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/api/fingerprint", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"success": true})
	})
	r.POST("/api/visits", func(c *gin.Context) {
		remaining, _ := ratelimit.RemainingFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"success": true, "remaining": remaining})
	})
	r.GET("/debug/ratelimit", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"total": stats.Total(), "byPolicy": stats.ByPolicy()})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
	recorder.Wait()
}

// demoFingerprintAuth só serve para o exemplo: confia no header sem verificar.
// Em produção quem preenche a identidade é o middleware de autenticação.
func demoFingerprintAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if fp := strings.TrimSpace(c.GetHeader("X-Fingerprint")); fp != "" {
			c.Request = c.Request.WithContext(ratelimit.WithIdentity(c.Request.Context(), fp))
		}
		c.Next()
	}
}
