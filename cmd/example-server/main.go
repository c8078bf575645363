package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gateway-ratelimit/middleware/ratelimit"
	"gateway-ratelimit/middleware/ratelimit/application"
	"gateway-ratelimit/middleware/ratelimit/domain"
	"gateway-ratelimit/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

func main() {
	zlog, _ := zap.NewDevelopment()
	defer func() { _ = zlog.Sync() }()
	log := zlog.Sugar()

	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infra.NewMemoryCounterStore()
	store.StartJanitor(ctx)

	limiter := application.NewLimiter(store,
		application.WithInflight(application.InflightService{Pool: infra.NewChanPool(50)}),
		application.WithLogger(log),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := ratelimit.Middleware(ratelimit.Options{
		Limiter:             limiter,
		Rule:                domain.MustBind(domain.Config{Capacity: 10, RefillRatePerSecond: 5}),
		Stats:               infra.PrometheusStatsStore{},
		KeyHeader:           "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
		Logger:              log,
	})(mux)

	addr := ":8082"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
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

	log.Infow("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalw("server error", "error", err)
	}
}
