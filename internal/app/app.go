package app

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/crazysandman/air-quality/internal/cache"
	"github.com/crazysandman/air-quality/internal/config"
	"github.com/crazysandman/air-quality/internal/db"
	httpserver "github.com/crazysandman/air-quality/internal/http"
	"github.com/crazysandman/air-quality/internal/http/handlers"
	"github.com/crazysandman/air-quality/internal/reconcile"
	"github.com/crazysandman/air-quality/internal/repository"
	"github.com/crazysandman/air-quality/internal/scheduler"
	"github.com/crazysandman/air-quality/internal/service"
	"github.com/crazysandman/air-quality/internal/source"
)

// App wires the service dependency graph.
type App struct {
	server      *httpserver.Server
	sched       *scheduler.Scheduler
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	// Redis is optional; without it reads go straight to Postgres.
	var redisClient *redis.Client
	var listingCache *cache.LatestStore
	if cfg.Redis.Addr != "" {
		redisClient, err = cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		listingCache = cache.NewLatestStore(redisClient, cfg.CacheTTL())
	}

	stationRepo := repository.NewStationRepository(sqlDB)
	stationsService := service.NewStationsService(stationRepo, listingCache, logger)
	reconciler := reconcile.New(stationRepo, logger)

	var sources []source.Source
	if cfg.Sources.WAQI.Enabled {
		sources = append(sources, source.NewWAQISource(cfg.Sources.WAQI, cfg.Sources.Region, cfg.FetchTimeout(), logger))
	}
	if cfg.Sources.OpenAQ.Enabled {
		sources = append(sources, source.NewOpenAQSource(cfg.Sources.OpenAQ, cfg.Sources.Region, cfg.FetchTimeout(), logger))
	}

	sched := scheduler.New(sources, reconciler, scheduler.Options{
		Interval:    cfg.Interval(),
		RunTimeout:  cfg.RunTimeout(),
		HistorySize: cfg.Scheduler.HistorySize,
		OnSuccess:   stationsService.InvalidateCache,
	}, logger)

	routes := httpserver.Routes{
		Root:            handlers.NewRootHandler(),
		Health:          handlers.NewHealthHandler(sqlDB, sched),
		LatestStations:  handlers.NewLatestStationsHandler(stationsService),
		RegionStations:  handlers.NewRegionStationsHandler(stationsService),
		SchedulerStatus: handlers.NewSchedulerStatusHandler(sched),
		SchedulerRun:    handlers.NewSchedulerRunHandler(sched),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:      server,
		sched:       sched,
		db:          sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run starts the scheduler loop and the HTTP server; it returns when ctx
// is cancelled and the server has shut down.
func (a *App) Run(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	defer a.sched.Stop()

	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
