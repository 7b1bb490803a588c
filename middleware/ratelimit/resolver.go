package ratelimit

import (
	"net"
	"net/http"
	"sort"
	"strings"

	"fingerprint-gateway/middleware/ratelimit/config"
	"fingerprint-gateway/middleware/ratelimit/domain"
)

// UnknownClient é a chave usada quando não há XFF nem endereço do peer.
// Todos esses clientes dividem o mesmo escopo (e se limitam entre si).
const UnknownClient = "unknown"

// RequestDescriptor é o que o resolver precisa saber da requisição.
type RequestDescriptor struct {
	RemoteAddr   string
	ForwardedFor string
	// Identity só é preenchido por autenticação já verificada.
	Identity string
	APIKey   string
	Method   string
	Path     string
}

// DescribeFunc extrai o RequestDescriptor de uma *http.Request.
type DescribeFunc func(r *http.Request) RequestDescriptor

func DefaultDescribeFunc(apiKeyHeader string) DescribeFunc {
	return func(r *http.Request) RequestDescriptor {
		d := RequestDescriptor{
			RemoteAddr:   r.RemoteAddr,
			ForwardedFor: r.Header.Get("X-Forwarded-For"),
			Identity:     IdentityFromContext(r.Context()),
			Method:       r.Method,
			Path:         r.URL.Path,
		}
		if apiKeyHeader != "" {
			d.APIKey = strings.TrimSpace(r.Header.Get(apiKeyHeader))
		}
		return d
	}
}

// TrustedIdentityDescribeFunc lê a identidade de um header setado pela
// camada de autenticação à frente deste processo. Só use quando essa camada
// sobrescreve o header em toda requisição; senão o cliente escolhe o escopo.
func TrustedIdentityDescribeFunc(apiKeyHeader, identityHeader string) DescribeFunc {
	base := DefaultDescribeFunc(apiKeyHeader)
	return func(r *http.Request) RequestDescriptor {
		d := base(r)
		if d.Identity == "" && identityHeader != "" {
			d.Identity = strings.TrimSpace(r.Header.Get(identityHeader))
		}
		return d
	}
}

// ClientIP: primeiro IP do X-Forwarded-For (se confiável), senão host do
// peer, senão UnknownClient. Nunca rejeita por falta de informação.
func ClientIP(forwardedFor, remoteAddr string, trustXFF bool) string {
	if trustXFF && forwardedFor != "" {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	remote := strings.TrimSpace(remoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err == nil && host != "" {
		return host
	}
	if remote != "" {
		return remote
	}
	return UnknownClient
}

// Resolver decide (scope, limit) de cada requisição a partir da config.
type Resolver struct {
	cfg    config.Config
	routes []config.Route
}

func NewResolver(cfg config.Config) *Resolver {
	routes := append([]config.Route(nil), cfg.Routes...)
	// prefixo mais longo primeiro
	sort.SliceStable(routes, func(i, j int) bool { return len(routes[i].Prefix) > len(routes[j].Prefix) })
	return &Resolver{cfg: cfg, routes: routes}
}

// Resolve devolve ok=false ("skip") quando nada deve ser limitado: kill
// switch global ou da policy, rota isenta ou sem policy, ou policy que
// exige identidade/API key que a requisição não traz.
func (r *Resolver) Resolve(req RequestDescriptor) (domain.Scope, domain.Limit, bool) {
	if !r.cfg.Enabled {
		return domain.Scope{}, domain.Limit{}, false
	}
	for _, p := range r.cfg.Exempt {
		if matchPrefix(req.Path, p) {
			return domain.Scope{}, domain.Limit{}, false
		}
	}

	route, ok := r.match(req.Path)
	if !ok {
		return domain.Scope{}, domain.Limit{}, false
	}
	pol, ok := r.cfg.Policies[route.Policy]
	if !ok || !pol.Enabled {
		return domain.Scope{}, domain.Limit{}, false
	}

	var id string
	switch pol.Scope {
	case domain.ScopeIP:
		id = ClientIP(req.ForwardedFor, req.RemoteAddr, r.cfg.TrustXFF)
	case domain.ScopeFingerprint:
		// sem identidade verificada é bug de quem autentica, não decisão nossa
		id = strings.TrimSpace(req.Identity)
	case domain.ScopeAPIKey:
		id = strings.TrimSpace(req.APIKey)
	}
	if id == "" {
		return domain.Scope{}, domain.Limit{}, false
	}

	return domain.Scope{Type: pol.Scope, ID: id, Policy: route.Policy}, pol.Limit(), true
}

func (r *Resolver) match(path string) (config.Route, bool) {
	for _, rt := range r.routes {
		if matchPrefix(path, rt.Prefix) {
			return rt, true
		}
	}
	return config.Route{}, false
}

// matchPrefix casa por segmento: "/api" casa "/api" e "/api/x", não "/apix".
func matchPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
