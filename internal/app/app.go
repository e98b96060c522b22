// Package app wires configuration, storage and the HTTP server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/voucher-engine/internal/domain/report"
	"github.com/xenking/voucher-engine/internal/domain/usage"
	"github.com/xenking/voucher-engine/internal/domain/voucher"
	"github.com/xenking/voucher-engine/internal/handler"
	"github.com/xenking/voucher-engine/internal/storage/memory"
	"github.com/xenking/voucher-engine/internal/storage/postgres"
	"github.com/xenking/voucher-engine/pkg/health"
	"github.com/xenking/voucher-engine/pkg/httpmiddleware"
)

const serviceName = "voucher-engine"

// storage bundles the repositories of one backend.
type storage struct {
	vouchers voucher.Repository
	usage    usage.Repository
	close    func()
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config, hc *health.Health) (*storage, error) {
	if cfg.DatabaseURL == "" {
		lg.Warn("No database configured, using in-memory storage")
		store := memory.New()
		return &storage{vouchers: store, usage: store.Usage(), close: func() {}}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	hc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

	return &storage{
		vouchers: postgres.NewVoucherRepository(pool),
		usage:    postgres.NewUsageRepository(pool),
		close:    pool.Close,
	}, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	healthSvc := health.New(2 * time.Second)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	store, err := openStorage(ctx, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer store.close()

	var (
		rdb     *redis.Client
		cache   report.Cache
		limiter httpmiddleware.Limiter
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		if cfg.Report.CacheTTL > 0 {
			cache = report.NewRedisCache(rdb, cfg.Report.CacheTTL)
		}
		limiter = httpmiddleware.NewRedisLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else if cfg.RateLimit.Max > 0 {
		ml := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go ml.Run(ctx)
		limiter = ml
	}

	vouchers, err := voucher.NewService(store.vouchers, m.MeterProvider().Meter(serviceName))
	if err != nil {
		return errors.Wrap(err, "create voucher service")
	}
	reports := report.NewService(store.usage, cache, m.TracerProvider().Tracer(serviceName))

	router := chi.NewRouter()
	router.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	handler.New(vouchers, reports).Mount(router)

	middlewares := []httpmiddleware.Middleware{
		httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.HeaderRequestID},
			ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
	}
	if cfg.RateLimit.Max > 0 {
		middlewares = append(middlewares, httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			Limiter: limiter,
		}))
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           httpmiddleware.Wrap(router, middlewares...),
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
