package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gateway-ratelimit/middleware/ratelimit/application"
	"gateway-ratelimit/middleware/ratelimit/domain"
	"gateway-ratelimit/middleware/ratelimit/infra"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var routesPath, listenAddr string

	root := &cobra.Command{
		Use:          "gateway",
		Short:        "Reverse proxy gateway with a distributed token bucket rate limiter",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if cmd.Flags().Changed("routes") {
				cfg.routesFile = routesPath
			}
			if cmd.Flags().Changed("listen") {
				cfg.listenAddr = listenAddr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}
	root.PersistentFlags().StringVar(&routesPath, "routes", "", "routes YAML file (env ROUTES_FILE)")
	root.Flags().StringVar(&listenAddr, "listen", "", "listen address (env LISTEN_ADDR)")

	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Bind every configured route and report configuration errors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if routesPath != "" {
				cfg.routesFile = routesPath
			}
			routes, _, err := loadAndBind(cfg)
			if err != nil {
				return err
			}
			for _, rt := range routes {
				if rt.rule.Bound() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s capacity=%d refill=%g/s requested=%d\n",
						rt.name, rt.path, rt.upstream, rt.rule.Capacity(), rt.rule.RefillRatePerSecond(), rt.rule.RequestedTokens())
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s (no rate limit)\n", rt.name, rt.path, rt.upstream)
			}
			return nil
		},
	})
	root.AddCommand(newStatsCmd(&routesPath))
	return root
}

// newStatsCmd lê as estatísticas agregadas no Redis (RATE_STATS_*) por rota.
func newStatsCmd(routesPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print rate limit decision counters aggregated in Redis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if *routesPath != "" {
				cfg.routesFile = *routesPath
			}
			if cfg.rateStatsRedisAddr == "" {
				return errors.New("RATE_STATS_REDIS_ADDR is required")
			}
			routes, _, err := loadAndBind(cfg)
			if err != nil {
				return err
			}

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.rateStatsRedisAddr,
				Password: cfg.rateStatsRedisPassword,
				DB:       cfg.rateStatsRedisDB,
			})
			defer func() { _ = rdb.Close() }()

			var reader domain.StatsReader = infra.NewRedisStatsStore(rdb, infra.WithStatsPrefix(cfg.rateStatsPrefix))
			scopes := []string{""}
			for _, rt := range routes {
				if rt.rule.Bound() {
					scopes = append(scopes, rt.name)
				}
			}

			out := cmd.OutOrStdout()
			for _, scope := range scopes {
				snap, err := reader.Snapshot(cmd.Context(), scope)
				if err != nil {
					return err
				}
				name := scope
				if name == "" {
					name = "total"
				}
				fmt.Fprintf(out, "%s allowed=%d denied=%d degraded=%d\n", name, snap.Allowed, snap.Denied, snap.Degraded)
			}
			return nil
		},
	}
}

func loadAndBind(cfg config) ([]boundRoute, map[string][]byte, error) {
	rf := defaultRoutes(cfg.upstreamURL)
	if cfg.routesFile != "" {
		var err error
		if rf, err = loadRoutes(cfg.routesFile); err != nil {
			return nil, nil, err
		}
	}
	return bindRoutes(rf, cfg)
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg config) error {
	zlog, err := newLogger(cfg.logDev)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = zlog.Sync() }()
	log := zlog.Sugar().With("instance", uuid.NewString())

	routes, users, err := loadAndBind(cfg)
	if err != nil {
		log.Errorw("route binding failed", "error", err)
		return err
	}

	var store domain.CounterStore
	switch cfg.store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// segue de pé: a política de falha decide o que fazer com as requisições
			log.Warnw("redis store ping failed", "addr", cfg.redisAddr, "policy", cfg.failPolicy.String(), "error", err)
		}
		store = infra.NewRedisCounterStore(rdb, infra.WithKeyPrefix(cfg.redisKeyPrefix))
	default:
		mem := infra.NewMemoryCounterStore()
		mem.StartJanitor(ctx)
		store = mem
	}

	limiterOpts := []application.Option{
		application.WithPolicy(cfg.failPolicy),
		application.WithTimeout(cfg.limiterTimeout),
		application.WithMaxAttempts(cfg.limiterMaxAttempts),
		application.WithLogger(log),
	}
	if cfg.limiterMaxInflight > 0 {
		limiterOpts = append(limiterOpts, application.WithInflight(application.InflightService{
			Pool: infra.NewChanPool(cfg.limiterMaxInflight),
		}))
	}
	limiter := application.NewLimiter(store, limiterOpts...)

	var redisStats domain.StatsStore
	if cfg.rateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.rateStatsRedisAddr,
			Password: cfg.rateStatsRedisPassword,
			DB:       cfg.rateStatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			return fmt.Errorf("redis stats ping error: %w", err)
		}

		redisStats = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		)
	}
	stats := infra.TeeStats(infra.PrometheusStatsStore{}, redisStats)

	h := buildHandler(routes, users, handlerDeps{limiter: limiter, stats: stats, cfg: cfg, log: log})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
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

	log.Infow("gateway listening", "addr", cfg.listenAddr, "routes", len(routes), "store", cfg.store)
	for _, rt := range routes {
		log.Infow("route bound", "name", rt.name, "path", rt.path, "upstream", rt.upstream.String(),
			"auth", rt.auth, "capacity", rt.rule.Capacity(), "refillRatePerSecond", rt.rule.RefillRatePerSecond(),
			"requestedTokens", rt.rule.RequestedTokens())
	}
	log.Infow("limiter", "policy", cfg.failPolicy.String(), "timeout", cfg.limiterTimeout,
		"maxAttempts", cfg.limiterMaxAttempts, "maxInflight", cfg.limiterMaxInflight)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorw("server error", "error", err)
		return err
	}
	return nil
}
