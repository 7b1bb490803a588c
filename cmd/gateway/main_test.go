package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fingerprint-gateway/middleware/ratelimit"
	"fingerprint-gateway/middleware/ratelimit/config"
	"fingerprint-gateway/middleware/ratelimit/domain"
	"fingerprint-gateway/middleware/ratelimit/infra"
)

func smallLimits() config.Config {
	cfg := config.Default()
	cfg.Policies[config.PolicyPublic] = config.Policy{Scope: domain.ScopeIP, Enabled: true, Window: time.Minute, Max: 2}
	cfg.Policies[config.PolicyFingerprint] = config.Policy{Scope: domain.ScopeFingerprint, Enabled: true, Window: time.Minute, Max: 1}
	return cfg
}

func gatewayHandler(cfg config.Config) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return ratelimit.NewGate(gateOptions(cfg, infra.NewMemoryCounterStore(), nil)).Handler(next)
}

func send(h http.Handler, path, remote, fingerprint string) int {
	r := httptest.NewRequest(http.MethodGet, "http://gateway"+path, nil)
	r.RemoteAddr = remote
	if fingerprint != "" {
		r.Header.Set("X-Verified-Fingerprint", fingerprint)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w.Code
}

func TestGateway_FingerprintRoutesLimitedByIPWithoutIdentityHeader(t *testing.T) {
	h := gatewayHandler(smallLimits())

	for i, path := range []string{"/api/visits", "/api/roles", "/api/tags", "/api/missions", "/api/agents"} {
		// um IP por path: sem header todos caem no mesmo escopo public
		remote := fmt.Sprintf("10.1.0.%d:1", i+1)
		codes := []int{send(h, path, remote, "fp-x"), send(h, path, remote, "fp-y"), send(h, path, remote, "fp-z")}
		if codes[2] != http.StatusTooManyRequests {
			t.Fatalf("%s: expected third request from same IP to be limited, got %v", path, codes)
		}
	}
}

func TestGateway_FingerprintRoutesUseTrustedHeader(t *testing.T) {
	cfg := smallLimits()
	cfg.IdentityHeader = "X-Verified-Fingerprint"
	h := gatewayHandler(cfg)

	if code := send(h, "/api/visits", "10.2.0.1:1", "fp-a"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send(h, "/api/visits", "10.2.0.9:1", "fp-a"); code != http.StatusTooManyRequests {
		t.Fatalf("expected same fingerprint from another IP to be limited, got %d", code)
	}
	if code := send(h, "/api/visits", "10.2.0.1:1", "fp-b"); code != http.StatusOK {
		t.Fatalf("expected another fingerprint to pass, got %d", code)
	}
}
