package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gateway-ratelimit/middleware/ratelimit"
	"gateway-ratelimit/middleware/ratelimit/domain"

	"gopkg.in/yaml.v3"
)

type config struct {
	listenAddr  string
	routesFile  string
	upstreamURL string
	metricsPath string
	logDev      bool

	store          string // "memory" | "redis"
	redisAddr      string
	redisPassword  string
	redisDB        int
	redisKeyPrefix string

	failPolicy         domain.FailurePolicy
	limiterTimeout     time.Duration
	limiterMaxAttempts int
	limiterMaxInflight int

	rateKeyHeader string
	trustXFF      bool
	addHeaders    bool

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.routesFile = os.Getenv("ROUTES_FILE")
	cfg.upstreamURL = getenvDefault("UPSTREAM_URL", "http://localhost:8081/movies")
	cfg.metricsPath = getenvDefault("METRICS_PATH", "/metrics")
	cfg.logDev = getenvBoolDefault("LOG_DEV", false)

	cfg.store = strings.ToLower(getenvDefault("STORE", "memory"))
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisKeyPrefix = getenvDefault("REDIS_KEY_PREFIX", "ratelimit:bucket:")

	policy, err := domain.ParseFailurePolicy(os.Getenv("FAIL_POLICY"))
	if err != nil {
		return config{}, err
	}
	cfg.failPolicy = policy
	cfg.limiterTimeout = getenvDurationDefault("LIMITER_TIMEOUT", 100*time.Millisecond)
	cfg.limiterMaxAttempts = getenvIntDefault("LIMITER_MAX_ATTEMPTS", 5)
	cfg.limiterMaxInflight = getenvIntDefault("LIMITER_MAX_INFLIGHT", 1024)

	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", true)

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.rateStatsRedisDB = getenvIntDefault("RATE_STATS_REDIS_DB", 0)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	if cfg.store != "memory" && cfg.store != "redis" {
		return config{}, fmt.Errorf("STORE must be memory or redis, got %q", cfg.store)
	}
	if cfg.store == "redis" && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required when STORE=redis")
	}
	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.limiterTimeout <= 0 {
		return config{}, errors.New("LIMITER_TIMEOUT must be > 0")
	}
	if cfg.limiterMaxAttempts <= 0 {
		return config{}, errors.New("LIMITER_MAX_ATTEMPTS must be > 0")
	}
	if cfg.limiterMaxInflight < 0 {
		return config{}, errors.New("LIMITER_MAX_INFLIGHT must be >= 0")
	}
	return cfg, nil
}

// Arquivo de rotas (YAML).
type routesFile struct {
	Routes []routeConfig `yaml:"routes"`
	Users  []userConfig  `yaml:"users"`
}

type routeConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Upstream string `yaml:"upstream"`
	// Auth: "" (público) ou "basic".
	Auth string `yaml:"auth"`
	// Handler: "" ou "proxy" (encaminha) e "titles" (lista só os títulos do upstream).
	Handler   string           `yaml:"handler"`
	RateLimit *rateLimitConfig `yaml:"rateLimit"`
}

const (
	handlerProxy  = "proxy"
	handlerTitles = "titles"
)

type rateLimitConfig struct {
	Capacity            int     `yaml:"capacity"`
	RefillRatePerSecond float64 `yaml:"refillRatePerSecond"`
	RequestedTokens     int     `yaml:"requestedTokens"`
	KeyResolver         string  `yaml:"keyResolver"`
}

type userConfig struct {
	Username string `yaml:"username"`
	// PasswordHash em bcrypt.
	PasswordHash string `yaml:"passwordHash"`
}

// defaultRoutes reproduz o gateway de referência: /proxy aberto, /titles e /rl
// com rate limit (replenish 5/s, burst 10). Basic auth só quando houver usuários.
func defaultRoutes(upstream string) routesFile {
	return routesFile{Routes: []routeConfig{
		{Name: "proxy", Path: "/proxy", Upstream: upstream},
		{Name: "titles", Path: "/titles", Upstream: upstream, Handler: handlerTitles},
		{Name: "rl", Path: "/rl", Upstream: upstream, RateLimit: &rateLimitConfig{
			Capacity:            10,
			RefillRatePerSecond: 5,
			RequestedTokens:     1,
			KeyResolver:         ratelimit.StrategyPrincipalOrIP,
		}},
	}}
}

func loadRoutes(path string) (routesFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return routesFile{}, err
	}
	defer f.Close()

	var rf routesFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return routesFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return rf, nil
}

type boundRoute struct {
	name     string
	path     string
	upstream *url.URL
	auth     bool
	handler  string
	rule     domain.Rule
	keyFn    ratelimit.KeyFunc
}

// bindRoutes valida tudo no startup: erro aqui derruba o processo, nunca uma requisição.
func bindRoutes(rf routesFile, cfg config) ([]boundRoute, map[string][]byte, error) {
	users := make(map[string][]byte, len(rf.Users))
	for _, u := range rf.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, nil, errors.New("users: username and passwordHash are required")
		}
		users[u.Username] = []byte(u.PasswordHash)
	}

	if len(rf.Routes) == 0 {
		return nil, nil, errors.New("no routes configured")
	}

	seen := make(map[string]bool, len(rf.Routes))
	out := make([]boundRoute, 0, len(rf.Routes))
	for i, rc := range rf.Routes {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("route-%d", i)
		}
		if !strings.HasPrefix(rc.Path, "/") {
			return nil, nil, fmt.Errorf("route %s: path must start with /", name)
		}
		if seen[rc.Path] {
			return nil, nil, fmt.Errorf("route %s: duplicate path %s", name, rc.Path)
		}
		seen[rc.Path] = true

		target, err := url.Parse(rc.Upstream)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, nil, fmt.Errorf("route %s: invalid upstream %q", name, rc.Upstream)
		}

		br := boundRoute{name: name, path: rc.Path, upstream: target, handler: handlerProxy}
		switch h := strings.ToLower(rc.Handler); h {
		case "", handlerProxy:
		case handlerTitles:
			br.handler = h
		default:
			return nil, nil, fmt.Errorf("route %s: unknown handler %q", name, rc.Handler)
		}
		switch strings.ToLower(rc.Auth) {
		case "":
		case "basic":
			if len(users) == 0 {
				return nil, nil, fmt.Errorf("route %s: basic auth requires at least one user", name)
			}
			br.auth = true
		default:
			return nil, nil, fmt.Errorf("route %s: unknown auth %q", name, rc.Auth)
		}

		if rl := rc.RateLimit; rl != nil {
			rule, err := domain.Bind(domain.Config{
				Capacity:            rl.Capacity,
				RefillRatePerSecond: rl.RefillRatePerSecond,
				RequestedTokens:     rl.RequestedTokens,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("route %s: %w", name, err)
			}
			keyFn, err := ratelimit.ParseKeyStrategy(rl.KeyResolver, cfg.rateKeyHeader, cfg.trustXFF)
			if err != nil {
				return nil, nil, fmt.Errorf("route %s: %w", name, err)
			}
			br.rule = rule
			br.keyFn = keyFn
		}
		out = append(out, br)
	}
	return out, users, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
