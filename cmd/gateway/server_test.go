package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gateway-ratelimit/middleware/ratelimit"
	"gateway-ratelimit/middleware/ratelimit/application"
	"gateway-ratelimit/middleware/ratelimit/clock"
	"gateway-ratelimit/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGateway(t *testing.T, rf routesFile) (http.Handler, *infra.MemoryStatsStore) {
	t.Helper()

	clk := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	store := infra.NewMemoryCounterStore(infra.WithStoreClock(clk))
	limiter := application.NewLimiter(store, application.WithClock(clk))
	stats := infra.NewMemoryStatsStore()

	cfg := config{addHeaders: true, metricsPath: "/metrics"}
	routes, users, err := bindRoutes(rf, cfg)
	require.NoError(t, err)
	return buildHandler(routes, users, handlerDeps{limiter: limiter, stats: stats, cfg: cfg, log: zap.NewNop().Sugar()}), stats
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Path", r.URL.Path)
		_, _ = io.WriteString(w, `[{"id":1}]`)
	}))
	t.Cleanup(up.Close)
	return up
}

func get(h http.Handler, path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.10:40000"
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGateway_DefaultRoutes(t *testing.T) {
	up := newUpstream(t)
	h, stats := newTestGateway(t, defaultRoutes(up.URL+"/movies"))

	for i := 0; i < 10; i++ {
		rr := get(h, "/rl", nil)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
		assert.Equal(t, "/movies", rr.Header().Get("X-Upstream-Path"))
		assert.Equal(t, "10", rr.Header().Get(ratelimit.HeaderBurstCapacity))
	}

	rr := get(h, "/rl", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get(ratelimit.HeaderRemaining))

	// outro cliente tem o próprio bucket
	rr = get(h, "/rl", func(r *http.Request) { r.RemoteAddr = "198.51.100.7:1234" })
	assert.Equal(t, http.StatusOK, rr.Code)

	// /proxy não tem limite
	for i := 0; i < 20; i++ {
		rr := get(h, "/proxy", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Header().Get(ratelimit.HeaderRemaining))
	}

	total := stats.Total()
	assert.Equal(t, int64(11), total.Allowed)
	assert.Equal(t, int64(1), total.Denied)
	assert.Equal(t, int64(12), stats.ByRoute()["rl"].Allowed+stats.ByRoute()["rl"].Denied)
}

func TestGateway_BasicAuthPerPrincipal(t *testing.T) {
	up := newUpstream(t)
	hash, err := bcryptHash("s3cret")
	require.NoError(t, err)

	rf := routesFile{
		Routes: []routeConfig{{
			Name: "rl", Path: "/rl", Upstream: up.URL + "/movies", Auth: "basic",
			RateLimit: &rateLimitConfig{Capacity: 2, RefillRatePerSecond: 1, KeyResolver: ratelimit.StrategyPrincipal},
		}},
		Users: []userConfig{{Username: "alice", PasswordHash: hash}, {Username: "bob", PasswordHash: hash}},
	}
	h, _ := newTestGateway(t, rf)

	assert.Equal(t, http.StatusUnauthorized, get(h, "/rl", nil).Code)

	asUser := func(name string) func(*http.Request) {
		return func(r *http.Request) { r.SetBasicAuth(name, "s3cret") }
	}
	assert.Equal(t, http.StatusOK, get(h, "/rl", asUser("alice")).Code)
	assert.Equal(t, http.StatusOK, get(h, "/rl", asUser("alice")).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(h, "/rl", asUser("alice")).Code)

	// mesmo IP, outro principal
	assert.Equal(t, http.StatusOK, get(h, "/rl", asUser("bob")).Code)
}

func TestGateway_Metrics(t *testing.T) {
	up := newUpstream(t)
	h, _ := newTestGateway(t, defaultRoutes(up.URL+"/movies"))

	get(h, "/rl", nil)
	rr := get(h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "gateway_ratelimit_cas_attempts")
}

func TestGateway_UpstreamDown(t *testing.T) {
	up := newUpstream(t)
	url := up.URL
	up.Close()

	h, _ := newTestGateway(t, defaultRoutes(url+"/movies"))
	assert.Equal(t, http.StatusBadGateway, get(h, "/proxy", nil).Code)
}

func TestGateway_Titles(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":1,"title":"Back to the Future"},{"id":2,"title":"Flux Gordon"}]`)
	}))
	t.Cleanup(up.Close)
	h, _ := newTestGateway(t, defaultRoutes(up.URL+"/movies"))

	rr := get(h, "/titles", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var titles []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &titles))
	assert.Equal(t, []string{"Back to the Future", "Flux Gordon"}, titles)
}

func TestGateway_TitlesUpstreamError(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(up.Close)
	h, _ := newTestGateway(t, defaultRoutes(up.URL+"/movies"))

	assert.Equal(t, http.StatusBadGateway, get(h, "/titles", nil).Code)
}

// O primeiro evento precisa chegar ao cliente enquanto o upstream ainda está aberto.
func TestGateway_StreamsEventsWithoutBuffering(t *testing.T) {
	release := make(chan struct{})
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data:{\"movieId\":1}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(up.Close)
	defer close(release)

	rf := routesFile{Routes: []routeConfig{{Name: "events", Path: "/events", Upstream: up.URL + "/movies/1/events"}}}
	h, _ := newTestGateway(t, rf)
	gw := httptest.NewServer(h)
	t.Cleanup(gw.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gw.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data:{\"movieId\":1}\n", line)
}
