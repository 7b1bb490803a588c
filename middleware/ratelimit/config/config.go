// Package config monta a configuração do rate limit uma única vez, no start
// do processo: defaults compilados, depois um arquivo YAML opcional
// (RATE_LIMIT_CONFIG_FILE), depois variáveis de ambiente.
//
// O resultado é um Config passado explicitamente a cada componente.
package config

import (
	"os"
	"sort"
	"strings"
	"time"

	"fingerprint-gateway/middleware/ratelimit/domain"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FailurePolicy define o que fazer quando o limiter não consegue decidir
// (store fora, retentativas esgotadas, timeout). Vale para o processo inteiro.
type FailurePolicy string

const (
	FailClosed FailurePolicy = "closed"
	FailOpen   FailurePolicy = "open"
)

// Nomes das policies compiladas.
const (
	PolicyHealth      = "health"
	PolicyPublic      = "public"
	PolicyFingerprint = "fingerprint"
	PolicyAPIKey      = "apiKey"
)

type Policy struct {
	Scope   domain.ScopeType `yaml:"scope"`
	Enabled bool             `yaml:"enabled"`
	Window  time.Duration    `yaml:"window"`
	Max     int              `yaml:"max"`
}

func (p Policy) Limit() domain.Limit { return domain.Limit{Window: p.Window, Max: p.Max} }

// Route associa um prefixo de path a uma policy. O prefixo mais longo vence.
type Route struct {
	Prefix string `yaml:"prefix"`
	Policy string `yaml:"policy"`
}

type Server struct {
	ListenAddr  string `yaml:"listenAddr"`
	UpstreamURL string `yaml:"upstreamURL"`
	MetricsPath string `yaml:"metricsPath"`
}

type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

type Stats struct {
	Enabled     bool          `yaml:"enabled"`
	MaxInFlight int           `yaml:"maxInFlight"`
	Timeout     time.Duration `yaml:"timeout"`

	Redis     bool          `yaml:"redis"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Bucket    string        `yaml:"bucket"`
	TrackKeys bool          `yaml:"trackKeys"`

	SQLDialect string `yaml:"sqlDialect"`
	SQLDSN     string `yaml:"sqlDSN"`

	Prometheus bool `yaml:"prometheus"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Config struct {
	// Enabled é o kill switch global.
	Enabled       bool          `yaml:"enabled"`
	FailurePolicy FailurePolicy `yaml:"failurePolicy"`
	// CheckTimeout cobre resolve+evaluate+retry de uma requisição.
	CheckTimeout time.Duration `yaml:"checkTimeout"`
	TrustXFF     bool          `yaml:"trustXFF"`
	APIKeyHeader string        `yaml:"apiKeyHeader"`
	AddHeaders   bool          `yaml:"addHeaders"`

	// IdentityHeader é o header com o fingerprint já verificado pela camada
	// de autenticação à frente do gateway. Vazio: o gateway não tem como
	// saber a identidade e as rotas por fingerprint caem na policy de IP.
	IdentityHeader string `yaml:"identityHeader"`

	Policies map[string]Policy `yaml:"policies"`
	Routes   []Route           `yaml:"routes"`
	Exempt   []string          `yaml:"exempt"`

	Server Server `yaml:"server"`
	Redis  Redis  `yaml:"redis"`
	Stats  Stats  `yaml:"stats"`
	Log    Log    `yaml:"log"`
}

// Default devolve os valores compilados. As janelas só mudam via YAML.
func Default() Config {
	return Config{
		Enabled:       true,
		FailurePolicy: FailClosed,
		CheckTimeout:  2 * time.Second,
		TrustXFF:      true,
		APIKeyHeader:  "X-Api-Key",
		AddHeaders:    true,
		Policies: map[string]Policy{
			PolicyHealth:      {Scope: domain.ScopeIP, Enabled: true, Window: time.Minute, Max: 30},
			PolicyPublic:      {Scope: domain.ScopeIP, Enabled: true, Window: time.Hour, Max: 100},
			PolicyFingerprint: {Scope: domain.ScopeFingerprint, Enabled: true, Window: time.Hour, Max: 1000},
			PolicyAPIKey:      {Scope: domain.ScopeAPIKey, Enabled: true, Window: time.Hour, Max: 5000},
		},
		Routes: []Route{
			{Prefix: "/health", Policy: PolicyHealth},
			{Prefix: "/api", Policy: PolicyPublic},
			{Prefix: "/api/visits", Policy: PolicyFingerprint},
			{Prefix: "/api/roles", Policy: PolicyFingerprint},
			{Prefix: "/api/tags", Policy: PolicyFingerprint},
			{Prefix: "/api/missions", Policy: PolicyFingerprint},
			{Prefix: "/api/agents", Policy: PolicyFingerprint},
			{Prefix: "/api/partner", Policy: PolicyAPIKey},
		},
		Server: Server{
			ListenAddr:  ":8080",
			MetricsPath: "/metrics",
		},
		Redis: Redis{
			Addr:      "localhost:6379",
			KeyPrefix: "ratelimit",
		},
		Stats: Stats{
			MaxInFlight: 64,
			Timeout:     2 * time.Second,
			Prefix:      "ratelimit:stats",
			TTL:         24 * time.Hour,
			Bucket:      "minute",
			SQLDialect:  "postgres",
		},
		Log: Log{Level: "info"},
	}
}

// Load: defaults, arquivo (se RATE_LIMIT_CONFIG_FILE), env. Valida no fim.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("RATE_LIMIT_CONFIG_FILE")); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.WithMessagef(err, "read config file %s", path)
	}
	return c.mergeYAML(raw)
}

// mergeYAML sobrepõe só o que o documento declara. Policies são mescladas
// campo a campo com as compiladas.
func (c *Config) mergeYAML(raw []byte) error {
	base := c.Policies
	c.Policies = nil
	if err := yaml.Unmarshal(raw, c); err != nil {
		c.Policies = base
		return errors.WithMessage(err, "parse config yaml")
	}

	var partial struct {
		Policies map[string]map[string]yaml.Node `yaml:"policies"`
	}
	if err := yaml.Unmarshal(raw, &partial); err != nil {
		return errors.WithMessage(err, "parse config yaml policies")
	}

	merged := make(map[string]Policy, len(base)+len(c.Policies))
	for name, p := range base {
		merged[name] = p
	}
	for name, p := range c.Policies {
		cur, ok := merged[name]
		if !ok {
			merged[name] = p
			continue
		}
		fields := partial.Policies[name]
		if _, ok := fields["scope"]; ok {
			cur.Scope = p.Scope
		}
		if _, ok := fields["enabled"]; ok {
			cur.Enabled = p.Enabled
		}
		if _, ok := fields["window"]; ok {
			cur.Window = p.Window
		}
		if _, ok := fields["max"]; ok {
			cur.Max = p.Max
		}
		merged[name] = cur
	}
	c.Policies = merged
	return nil
}

func (c *Config) applyEnv() {
	c.Enabled = getenvBoolDefault("RATE_LIMIT_ENABLED", c.Enabled)
	c.FailurePolicy = FailurePolicy(strings.ToLower(getenvDefault("RATE_LIMIT_FAILURE_POLICY", string(c.FailurePolicy))))
	c.CheckTimeout = getenvDurationDefault("RATE_LIMIT_CHECK_TIMEOUT", c.CheckTimeout)
	c.TrustXFF = getenvBoolDefault("RATE_LIMIT_TRUST_XFF", c.TrustXFF)
	c.APIKeyHeader = getenvDefault("RATE_LIMIT_API_KEY_HEADER", c.APIKeyHeader)
	c.IdentityHeader = getenvDefault("RATE_LIMIT_IDENTITY_HEADER", c.IdentityHeader)
	c.AddHeaders = getenvBoolDefault("RATE_LIMIT_ADD_HEADERS", c.AddHeaders)
	if v := os.Getenv("RATE_LIMIT_EXEMPT"); v != "" {
		c.Exempt = splitList(v)
	}

	// <POLICY>_RATE_LIMIT_ENABLED / <POLICY>_RATE_LIMIT_MAX
	for name, p := range c.Policies {
		env := strings.ToUpper(name) + "_RATE_LIMIT_"
		p.Enabled = getenvBoolDefault(env+"ENABLED", p.Enabled)
		p.Max = getenvIntDefault(env+"MAX", p.Max)
		c.Policies[name] = p
	}

	c.Server.ListenAddr = getenvDefault("LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.UpstreamURL = getenvDefault("UPSTREAM_URL", c.Server.UpstreamURL)
	c.Server.MetricsPath = getenvDefault("METRICS_PATH", c.Server.MetricsPath)

	c.Redis.Addr = getenvDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenvDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getenvIntDefault("REDIS_DB", c.Redis.DB)
	c.Redis.KeyPrefix = getenvDefault("RATE_LIMIT_KEY_PREFIX", c.Redis.KeyPrefix)

	c.Stats.Enabled = getenvBoolDefault("RATE_STATS_ENABLED", c.Stats.Enabled)
	c.Stats.MaxInFlight = getenvIntDefault("RATE_STATS_MAX_IN_FLIGHT", c.Stats.MaxInFlight)
	c.Stats.Timeout = getenvDurationDefault("RATE_STATS_TIMEOUT", c.Stats.Timeout)
	c.Stats.Redis = getenvBoolDefault("RATE_STATS_REDIS", c.Stats.Redis)
	c.Stats.Prefix = getenvDefault("RATE_STATS_PREFIX", c.Stats.Prefix)
	c.Stats.TTL = getenvDurationDefault("RATE_STATS_TTL", c.Stats.TTL)
	c.Stats.Bucket = getenvDefault("RATE_STATS_BUCKET", c.Stats.Bucket)
	c.Stats.TrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", c.Stats.TrackKeys)
	c.Stats.SQLDialect = getenvDefault("RATE_STATS_SQL_DIALECT", c.Stats.SQLDialect)
	c.Stats.SQLDSN = getenvDefault("RATE_STATS_SQL_DSN", c.Stats.SQLDSN)
	c.Stats.Prometheus = getenvBoolDefault("RATE_STATS_PROMETHEUS", c.Stats.Prometheus)

	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.JSON = getenvBoolDefault("LOG_JSON", c.Log.JSON)
}

func (c Config) Validate() error {
	switch c.FailurePolicy {
	case FailClosed, FailOpen:
	default:
		return errors.Errorf("RATE_LIMIT_FAILURE_POLICY must be %q or %q, got %q", FailClosed, FailOpen, c.FailurePolicy)
	}
	if c.CheckTimeout <= 0 {
		return errors.New("RATE_LIMIT_CHECK_TIMEOUT must be > 0")
	}
	for _, name := range c.PolicyNames() {
		p := c.Policies[name]
		if !p.Scope.Valid() {
			return errors.Errorf("policy %s: invalid scope %q", name, p.Scope)
		}
		if !p.Limit().Valid() {
			return errors.Errorf("policy %s: window and max must be > 0", name)
		}
	}
	for _, r := range c.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return errors.Errorf("route prefix %q must start with /", r.Prefix)
		}
		if _, ok := c.Policies[r.Policy]; !ok {
			return errors.Errorf("route %s: unknown policy %q", r.Prefix, r.Policy)
		}
	}
	if c.Stats.Enabled && c.Stats.MaxInFlight <= 0 {
		return errors.New("RATE_STATS_MAX_IN_FLIGHT must be > 0")
	}
	if c.Stats.Enabled && c.Stats.Redis && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("REDIS_ADDR is required when RATE_STATS_REDIS=true")
	}
	return nil
}

// WithoutIdentityRoutes devolve uma cópia sem as rotas cujas policies contam
// por fingerprint. Esses paths passam a casar o prefixo mais curto (ex.: /api).
func (c Config) WithoutIdentityRoutes() Config {
	out := c
	out.Routes = nil
	for _, r := range c.Routes {
		if p, ok := c.Policies[r.Policy]; ok && p.Scope == domain.ScopeFingerprint {
			continue
		}
		out.Routes = append(out.Routes, r)
	}
	return out
}

// PolicyNames em ordem estável (logs e validação).
func (c Config) PolicyNames() []string {
	names := make([]string, 0, len(c.Policies))
	for name := range c.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
