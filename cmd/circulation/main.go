package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"circulus/internal/circulation"
	"circulus/internal/clients"
	"circulus/internal/config"
	"circulus/internal/eventstore"
	"circulus/internal/logging"
	"circulus/internal/metrics"
	"circulus/internal/rules"
	"circulus/internal/storage"
	"circulus/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("CIRCULATION_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("circulation service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "circulation", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(db); err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: cfg.ClientTimeout}
	inventory := clients.NewInventoryClient(cfg.InventoryServiceURL, httpClient)
	users := clients.NewUsersClient(cfg.UsersServiceURL, httpClient)

	cache, err := newRulesCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	resolver := rules.NewCachingResolver(clients.NewRulesClient(cfg.RulesServiceURL, httpClient), cache, logger)

	store := storage.New(db)
	svc := circulation.NewService(circulation.Dependencies{
		Items:    inventory,
		Users:    users,
		Loans:    store,
		Requests: store,
		Policies: store,
		Resolver: resolver,
		History:  eventstore.NewEventStore(db),
	}, logger)

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	handler := circulation.NewHandler(svc, resolver, limiter, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(metrics.InstrumentHandler)
	router.Mount("/", handler.Routes())
	router.Handle("/metrics", metrics.Handler())
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("starting circulation service", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down circulation service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newRulesCache shares cached policy ids through Redis when it is configured
// and otherwise keeps them in process.
func newRulesCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (rules.Cache, error) {
	if cfg.RedisURL == "" {
		cache := rules.NewMemoryCache(cfg.RulesCacheSize, cfg.RulesCacheTTL)
		if cfg.RulesCacheExpires() {
			go sweep(ctx, cache, cfg.RulesCacheTTL, logger)
		}
		return cache, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, policy lookups will bypass the cache until it recovers", zap.Error(err))
	}
	return rules.NewRedisCache(client, cfg.RulesCacheTTL), nil
}

func sweep(ctx context.Context, cache *rules.MemoryCache, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := cache.Cleanup(); removed > 0 {
				logger.Debug("expired loan policy cache entries removed", zap.Int("removed", removed))
			}
		}
	}
}
