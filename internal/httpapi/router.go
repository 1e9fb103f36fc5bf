package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dDraxb/Llamaserve/internal/config"
	"github.com/dDraxb/Llamaserve/internal/metrics"
	"github.com/dDraxb/Llamaserve/internal/ratelimit"
	"github.com/dDraxb/Llamaserve/internal/routing"
	"github.com/dDraxb/Llamaserve/internal/storage"
)

// Dependencies holds everything the server needs to run and tear down.
type Dependencies struct {
	DB           *storage.DB
	Users        *storage.UserRepository
	Usage        *storage.UsageRepository
	Routes       *routing.Table
	RouteWatcher *routing.Watcher
	Limiter      ratelimit.Limiter
	Metrics      *metrics.Metrics
	RedisClient  *redis.Client

	log *logrus.Logger
}

// Close releases all resources.
func (d *Dependencies) Close() {
	if d.RouteWatcher != nil {
		d.RouteWatcher.Stop()
	}
	if d.RedisClient != nil {
		if err := d.RedisClient.Close(); err != nil {
			d.log.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.log.WithError(err).Warn("Failed to close database")
		}
	}
}

// NewRouter wires the full proxy: storage, route table, rate limiter, metrics
// and the request pipeline. The returned Dependencies must be closed on
// shutdown.
func NewRouter(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (http.Handler, *Dependencies, error) {
	deps := &Dependencies{log: logger}

	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.DSN(),
		UsersTable:      cfg.UsersTable,
		RequestsTable:   cfg.RequestsTable,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		UserCacheSize:   cfg.Cache.UserCacheSize,
		UserCacheTTL:    cfg.Cache.UserCacheTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db

	if err := db.EnsureSchema(ctx); err != nil {
		deps.Close()
		return nil, nil, err
	}

	deps.Users = storage.NewUserRepository(db)
	deps.Usage = storage.NewUsageRepository(db)

	deps.Routes = routing.NewTable(cfg.BackendURL)
	deps.RouteWatcher = routing.NewWatcher(
		deps.Routes, cfg.RoutesFile, cfg.RouteHostOverride, cfg.RoutesReloadInterval, logger)
	if err := deps.RouteWatcher.Start(); err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("failed to load routes file: %w", err)
	}

	limiter, redisClient, err := newLimiter(ctx, cfg, deps.Usage)
	if err != nil {
		deps.Close()
		return nil, nil, err
	}
	deps.Limiter = limiter
	deps.RedisClient = redisClient

	deps.Metrics = metrics.New()

	proxy := NewProxyHandler(ProxyConfig{
		BackendAPIKey:     cfg.BackendAPIKey,
		AccountModelsList: cfg.AccountModelsList,
		Routes:            deps.Routes,
		Limiter:           deps.Limiter,
		Ledger:            deps.Usage,
		Metrics:           deps.Metrics,
		Logger:            logger,
	})

	credentials := NewDatabaseCredentialStore(deps.Users)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthHandler(db)).Methods(http.MethodGet)
	router.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/").Handler(authMiddleware(credentials, logger)(proxy))

	return router, deps, nil
}

// newLimiter builds the configured rate limit backend. The ledger backend
// derives the window from ledger rows; redis and memory keep their own state.
func newLimiter(ctx context.Context, cfg *config.Config, usage *storage.UsageRepository) (ratelimit.Limiter, *redis.Client, error) {
	if cfg.RateLimit <= 0 {
		return ratelimit.NewNoopLimiter(), nil, nil
	}

	switch cfg.RateLimitBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return ratelimit.NewRedisLimiter(client, cfg.RateLimit, cfg.RateWindow()), client, nil
	case "memory":
		return ratelimit.NewMemoryLimiter(cfg.RateLimit, cfg.RateWindow()), nil, nil
	default:
		return ratelimit.NewLedgerLimiter(usage, cfg.RateLimit, cfg.RateWindow()), nil, nil
	}
}

func healthHandler(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
