package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/urnharvest/internal/config"
	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/harvest"
	"github.com/MrSnakeDoc/urnharvest/internal/httpserver"
	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
	"github.com/MrSnakeDoc/urnharvest/internal/metrics"
	"github.com/MrSnakeDoc/urnharvest/internal/reconcile"
	"github.com/MrSnakeDoc/urnharvest/internal/redis"
	"github.com/MrSnakeDoc/urnharvest/internal/scheduler"
	"github.com/MrSnakeDoc/urnharvest/internal/sources"
	"github.com/MrSnakeDoc/urnharvest/internal/store/memory"
	"github.com/MrSnakeDoc/urnharvest/internal/store/postgres"
	redisstore "github.com/MrSnakeDoc/urnharvest/internal/store/redis"
	"github.com/MrSnakeDoc/urnharvest/internal/transport"
	"github.com/MrSnakeDoc/urnharvest/internal/version"
)

// ErrHarvestFailed is returned when at least one source of a batch failed.
var ErrHarvestFailed = errors.New("harvest failed")

// Store is the persisted side of a harvest.
type Store interface {
	reconcile.Store
	harvest.RunStateStore
	harvest.ExclusionLoader
	RequestFullRun(ctx context.Context, sourceID int64) error
	Ping(ctx context.Context) error
}

// postgresStore puts the postgres repositories behind one Store.
type postgresStore struct {
	*postgres.MappingRepository
	*postgres.RunStateRepository
	*postgres.ExclusionRepository
}

// runningLocker is a source lock that can list what it holds.
type runningLocker interface {
	harvest.Locker
	Running(ctx context.Context) ([]int64, error)
}

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	store       Store
	db          *sqlx.DB
	redisClient *goredis.Client
	runs        *redisstore.RunStore
	locker      runningLocker
	metrics     *metrics.Metrics
	harvester   *harvest.Harvester
}

// New connects the store and, when configured, Redis, and builds the
// harvester on top of them.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: log, metrics: metrics.New()}

	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using the in-memory store, nothing will be persisted")
		a.store = memory.New()
	default:
		db, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.DatabaseURL,
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.db = db
		a.store = postgresStore{
			MappingRepository:   postgres.NewMappingRepository(db),
			RunStateRepository:  postgres.NewRunStateRepository(db),
			ExclusionRepository: postgres.NewExclusionRepository(db),
		}
		log.Info("postgres connected")
	}

	client, err := redis.New(ctx, redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, log)
	switch {
	case errors.Is(err, redis.ErrDisabled):
		log.Info("redis not configured, using in-process source locks")
		a.locker = harvest.NewLocalLocker()
	case err != nil:
		a.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	default:
		a.redisClient = client
		a.runs = redisstore.NewRunStore(client)
		a.locker = redisstore.NewLocker(client, cfg.LockTTL, log)
		log.Info("redis initialized successfully")
	}

	hd := harvest.Deps{
		Fetcher: transport.New(transport.Options{
			Timeout:   cfg.FetchTimeout,
			UserAgent: cfg.UserAgent,
		}),
		Reconciler:  reconcile.New(a.store, log),
		RunState:    a.store,
		Exclusions:  a.store,
		Locker:      a.locker,
		Metrics:     a.metrics,
		Logger:      log,
		MaxRequests: cfg.MaxRequests,
	}
	if a.runs != nil {
		hd.Reporter = a.runs
	}
	a.harvester = harvest.New(hd)
	return a, nil
}

// Close releases the store and Redis connections.
func (a *App) Close() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", logger.Error(err))
		}
	}
}

// Sources loads the source registry from the configured file.
func (a *App) Sources() (*sources.Registry, error) {
	reg, err := sources.Load(a.cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources from %s: %w", a.cfg.SourcesFile, err)
	}
	return reg, nil
}

func (a *App) selectSources(titles []string, all bool) ([]*domain.Source, error) {
	reg, err := a.Sources()
	if err != nil {
		return nil, err
	}
	if all {
		return reg.All(), nil
	}
	return reg.Select(titles)
}

// Harvest runs the named sources, or every source when all is set, and
// returns ErrHarvestFailed if any of them failed.
func (a *App) Harvest(ctx context.Context, titles []string, all, full bool) error {
	srcs, err := a.selectSources(titles, all)
	if err != nil {
		return err
	}

	var opts []harvest.RunOption
	if full {
		opts = append(opts, harvest.Full())
	}
	report := a.harvester.HarvestAll(ctx, srcs, a.cfg.Workers, opts...)
	a.logger.Info("batch finished",
		logger.Int("succeeded", len(report.Succeeded)),
		logger.Int("failed", len(report.Failed)))
	if len(report.Failed) > 0 {
		return fmt.Errorf("%w: %d of %d sources: %w", ErrHarvestFailed, len(report.Failed), len(srcs), report.Err())
	}
	return nil
}

// RequestFullRun flags the next run of the named sources as full.
func (a *App) RequestFullRun(ctx context.Context, titles []string, all bool) error {
	srcs, err := a.selectSources(titles, all)
	if err != nil {
		return err
	}
	for _, src := range srcs {
		if err := a.store.RequestFullRun(ctx, src.ID); err != nil {
			return fmt.Errorf("request full run of %s: %w", src.Title, err)
		}
		a.logger.Info("next run will be full", logger.String("source", src.Title))
	}
	return nil
}

// Serve harvests every source on a schedule and exposes the ops HTTP
// server until SIGINT or SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	a.logger.Info("🚀 Starting urnharvest", logger.String("version", version.String()),
		logger.String("listen", a.cfg.ListenPort))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadSources := func() ([]*domain.Source, error) {
		reg, err := a.Sources()
		if err != nil {
			return nil, err
		}
		return reg.All(), nil
	}

	trigger := make(chan struct{}, 1)
	sched := scheduler.NewHarvestScheduler(a.harvester, loadSources, a.logger,
		a.cfg.HarvestInterval, a.cfg.Workers, trigger)

	d := deps.Deps{
		Logger:         a.logger,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		TimeNow:        time.Now,
		AllowedCIDRS:   a.cfg.AllowedCIDRS,
		TrustProxy:     a.cfg.TrustProxy,
		Store:          a.store,
		Running:        a.locker,
		Metrics:        a.metrics.Handler(),
		HarvestTrigger: trigger,
		TriggerBurst:   3,
		TriggerPerMin:  1,
		SourceCount: func() (int, error) {
			srcs, err := loadSources()
			return len(srcs), err
		},
	}
	d.LastCycle = func() (deps.Cycle, bool) {
		report, at, ok := sched.Last()
		if !ok {
			return deps.Cycle{}, false
		}
		c := deps.Cycle{At: at, Succeeded: report.Succeeded, Failed: make(map[string]string, len(report.Failed))}
		for title, err := range report.Failed {
			c.Failed[title] = err.Error()
		}
		return c, true
	}
	if a.runs != nil {
		d.Redis = a.runs
		d.Runs = a.runs
	}
	server := httpserver.New(a.cfg.ListenPort, d)

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start harvest scheduler: %w", err)
	}
	a.logger.Info("harvest scheduler started", logger.Duration("interval", a.cfg.HarvestInterval))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	stop()
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to stop server: %w", err)
	}
	if runErr == nil {
		a.logger.Info("✅ urnharvest stopped cleanly")
	}
	return runErr
}
