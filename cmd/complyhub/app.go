package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/complyhub/guidance-core/config"
	"github.com/complyhub/guidance-core/internal/application/command"
	"github.com/complyhub/guidance-core/internal/application/query"
	"github.com/complyhub/guidance-core/internal/domain/achievement"
	"github.com/complyhub/guidance-core/internal/domain/recommendation"
	"github.com/complyhub/guidance-core/internal/infrastructure/messaging"
	"github.com/complyhub/guidance-core/internal/infrastructure/observability"
	"github.com/complyhub/guidance-core/internal/infrastructure/persistence/postgres"
	rediscache "github.com/complyhub/guidance-core/internal/infrastructure/persistence/redis"
	"github.com/complyhub/guidance-core/internal/infrastructure/persistence/sqlite"
	"github.com/complyhub/guidance-core/internal/infrastructure/service"
	"github.com/complyhub/guidance-core/pkg/logger"
	"github.com/complyhub/guidance-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUNTIME
// ══════════════════════════════════════════════════════════════════════════════

// runtime is the loaded configuration plus the process logger.
type runtime struct {
	cfg *config.Config
	log *logger.Logger
}

func loadRuntime(levelOverride string) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Observability.LogLevel
	if levelOverride != "" {
		level = levelOverride
	}
	format := logger.Format(cfg.Observability.LogFormat)
	if format != logger.FormatConsole {
		format = logger.FormatJSON
	}
	log := logger.New(logger.Options{
		Output:    os.Stderr,
		Level:     logger.ParseLevel(level),
		Format:    format,
		AddCaller: cfg.App.Debug,
	}).With(
		logger.String("service", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
	return &runtime{cfg: cfg, log: log}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// migrationRow is one line of `migrate status`.
type migrationRow struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// migrator is implemented by both store drivers.
type migrator interface {
	Migrate(ctx context.Context) (int, error)
	Rollback(ctx context.Context) (int, error)
	Status(ctx context.Context) ([]migrationRow, error)
}

// store is an opened backend together with its lifecycle hooks.
type store struct {
	service.Backend
	migrator migrator
	ping     func(ctx context.Context) error
	close    func() error
	driver   string
}

func openStore(ctx context.Context, rt *runtime) (*store, error) {
	db := rt.cfg.Database
	switch db.Driver {
	case config.DriverPostgres:
		opts := postgres.DefaultOptions(db.URL)
		if db.MaxOpenConns > 0 {
			opts.MaxConns = int32(db.MaxOpenConns)
		}
		if db.MaxIdleConns > 0 {
			opts.MinConns = int32(min(db.MaxIdleConns, db.MaxOpenConns))
		}
		opts.MaxConnLifetime = db.ConnMaxLifetime
		opts.MaxConnIdleTime = db.ConnMaxIdleTime
		opts.QueryTimeout = db.QueryTimeout

		conn, err := postgres.NewConnection(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &store{
			Backend:  postgres.NewStore(conn),
			migrator: postgresMigrator{postgres.NewMigrator(conn)},
			ping:     conn.Ping,
			close:    func() error { conn.Close(); return nil },
			driver:   db.Driver,
		}, nil

	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, db.URL)
		if err != nil {
			return nil, err
		}
		return &store{
			Backend:  s,
			migrator: sqliteMigrator{s},
			ping:     s.Ping,
			close:    s.Close,
			driver:   db.Driver,
		}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
}

type postgresMigrator struct{ m *postgres.Migrator }

func (p postgresMigrator) Migrate(ctx context.Context) (int, error)  { return p.m.Migrate(ctx) }
func (p postgresMigrator) Rollback(ctx context.Context) (int, error) { return p.m.Rollback(ctx) }

func (p postgresMigrator) Status(ctx context.Context) ([]migrationRow, error) {
	list, err := p.m.Status(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]migrationRow, 0, len(list))
	for _, m := range list {
		row := migrationRow{Version: m.Version, Name: m.Name, Applied: m.IsApplied}
		if m.IsApplied {
			at := m.AppliedAt
			row.AppliedAt = &at
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type sqliteMigrator struct{ s *sqlite.Store }

func (m sqliteMigrator) Migrate(ctx context.Context) (int, error)  { return m.s.Migrate(ctx) }
func (m sqliteMigrator) Rollback(ctx context.Context) (int, error) { return m.s.Rollback(ctx) }

func (m sqliteMigrator) Status(ctx context.Context) ([]migrationRow, error) {
	list, err := m.s.Status(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]migrationRow, 0, len(list))
	for _, st := range list {
		rows = append(rows, migrationRow{Version: st.Version, Name: st.Name, Applied: st.Applied, AppliedAt: st.AppliedAt})
	}
	return rows, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION
// ══════════════════════════════════════════════════════════════════════════════

// app is the fully wired application layer.
type app struct {
	rt      *runtime
	store   *store
	guarded *service.GuardedStore
	cache   *rediscache.Cache
	bus     *messaging.InMemoryEventBus

	recommendations    *query.GetRecommendationsHandler
	topRecommendations *query.GetTopRecommendationsHandler
	progress           *query.GetProgressHandler
	achievements       *query.GetAchievementsHandler
	checkAchievements  *command.CheckAndUnlockAchievementsHandler
	steps              *command.StepProgressHandler
	documents          *command.MarkDocumentCompleteHandler

	shutdownTracing observability.Shutdown
}

// buildApp opens every dependency and wires the handlers. Redis is optional:
// when it is disabled or unreachable recommendations are computed per call.
func buildApp(ctx context.Context, rt *runtime) (*app, error) {
	cfg := rt.cfg
	log := rt.log

	zone, err := timeutil.LoadZone(cfg.App.Timezone)
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := observability.SetupTracing(ctx, log, observability.TracingConfig{
		ServiceName: cfg.App.Name,
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
		Enabled:     cfg.Observability.TracingEnabled,
		Endpoint:    cfg.Observability.TracingEndpoint,
		Insecure:    cfg.Observability.TracingInsecure,
		SampleRatio: cfg.Observability.TracingSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	log.Info("opening store", logger.String("driver", cfg.Database.Driver))
	st, err := openStore(ctx, rt)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a := &app{rt: rt, store: st, shutdownTracing: shutdownTracing}

	if cfg.Database.AutoMigrate {
		applied, err := st.migrator.Migrate(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("migrations applied", logger.Count("applied", applied))
	}

	a.guarded = service.NewGuardedStore(st.Backend, service.GuardOptions{
		MaxAttempts:      cfg.Resilience.MaxRetries,
		RetryBaseDelay:   cfg.Resilience.RetryBaseDelay,
		RetryMaxDelay:    cfg.Resilience.RetryMaxDelay,
		BreakerThreshold: cfg.Resilience.CircuitBreakerThreshold,
		BreakerTimeout:   cfg.Resilience.CircuitBreakerTimeout,
		HalfOpenRequests: cfg.Resilience.CircuitBreakerHalfOpen,
	}, log)

	// Event bus: audit log always, Redis forwarding when configured.
	a.bus = messaging.NewInMemoryEventBus(messaging.Config{
		AsyncMode:      true,
		WorkerPoolSize: 4,
		Logger:         log,
		EnableMetrics:  true,
	})
	if err := a.bus.SubscribeAll(messaging.AuditHandler(log)); err != nil {
		a.Close(ctx)
		return nil, err
	}

	var (
		recCache    recommendation.Cache
		invalidator command.CacheInvalidator
	)
	if !cfg.Redis.Disabled {
		a.cache, err = rediscache.NewCache(ctx, redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("redis unavailable, recommendation cache disabled", logger.Err(err))
			a.cache = nil
		}
	}
	if a.cache != nil {
		rc := rediscache.NewRecommendationCache(a.cache, cfg.Recommendation.CacheTTL)
		recCache, invalidator = rc, rc

		if ch := cfg.Redis.EventsChannel; ch != "" {
			hostname, _ := os.Hostname()
			fwd := messaging.NewRedisForwarder(a.cache.Client(), ch, hostname)
			if err := a.bus.SubscribeAll(fwd.Handle); err != nil {
				a.Close(ctx)
				return nil, err
			}
			log.Info("forwarding domain events", logger.String("channel", fwd.Channel()))
		}
	}

	flags := cfg.Features
	evaluator := achievement.NewEvaluator()

	a.recommendations = query.NewGetRecommendationsHandler(a.guarded, a.guarded, recCache, flags, log)
	a.topRecommendations = query.NewGetTopRecommendationsHandler(a.recommendations, cfg.Recommendation.MaxLimit)
	a.progress = query.NewGetProgressHandler(a.guarded, a.guarded, a.guarded, flags, zone, log)
	a.achievements = query.NewGetAchievementsHandler(a.guarded, evaluator, log)
	a.checkAchievements = command.NewCheckAndUnlockAchievementsHandler(a.guarded, a.progress, evaluator, a.bus, flags, log)
	a.steps = command.NewStepProgressHandler(a.guarded, a.guarded, invalidator, a.checkAchievements, a.bus, flags, log)
	a.documents = command.NewMarkDocumentCompleteHandler(a.guarded, a.bus, log)

	return a, nil
}

func redisConfig(c config.RedisConfig) rediscache.Config {
	return rediscache.Config{
		URL:          c.URL,
		Host:         c.Host,
		Port:         c.Port,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// healthChecks reports store reachability, the breaker state and Redis.
func (a *app) healthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"store": a.store.ping,
		"store_circuit": func(context.Context) error {
			if a.guarded.Breaker().IsOpen() {
				return errors.New("circuit open")
			}
			return nil
		},
	}
	if a.cache != nil {
		checks["redis"] = a.cache.Ping
	}
	return checks
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	log := a.rt.log
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			log.Warn("event bus close failed", logger.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Warn("redis close failed", logger.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.close(); err != nil {
			log.Warn("store close failed", logger.Err(err))
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			log.Warn("tracer shutdown failed", logger.Err(err))
		}
	}
	_ = log.Sync()
}
