package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/felixgeelhaar/courseforge/internal/config"
	"github.com/felixgeelhaar/courseforge/internal/domain"
	"github.com/felixgeelhaar/courseforge/internal/engine"
	"github.com/felixgeelhaar/courseforge/internal/generator"
	"github.com/felixgeelhaar/courseforge/internal/lock"
	"github.com/felixgeelhaar/courseforge/internal/queue"
	"github.com/felixgeelhaar/courseforge/internal/repository"
	"github.com/felixgeelhaar/courseforge/internal/storage/local"
	"github.com/felixgeelhaar/courseforge/internal/storage/postgres"
	"github.com/felixgeelhaar/courseforge/internal/storage/sqlite"
	"github.com/felixgeelhaar/courseforge/internal/xp"
)

// ReadyCheck reports whether a dependency is usable.
type ReadyCheck func(ctx context.Context) error

// App holds all application dependencies
type App struct {
	Config     *config.Config
	Engine     *engine.Service
	Generator  generator.Generator
	Dispatcher *domain.EventDispatcher
	Retry      engine.RetryConfig

	// Optional, set when RABBITMQ_URL is configured
	Producer *queue.Producer
	Consumer *queue.Consumer
	Results  *queue.ResultConsumer

	// Optional, set when EVENT_LOG_URL is configured
	Events *repository.EventRepository

	checks  map[string]ReadyCheck
	closers []func() error
	logger  *slog.Logger
}

// NewApp creates a new application instance with all dependencies wired.
// On error every resource opened so far is released.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:     cfg,
		Dispatcher: domain.NewEventDispatcher(),
		Retry:      engine.DefaultRetryConfig(),
		checks:     make(map[string]ReadyCheck),
		logger:     logger,
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	uow, err := app.openStore(ctx)
	if err != nil {
		return nil, err
	}

	app.Engine = engine.NewService(uow, xp.New(cfg.XPPerLevel, cfg.XPPerUnit))
	app.Engine.SetLogger(logger)
	app.Engine.SetPublisher(app.Dispatcher)

	if cfg.RedisAddr != "" {
		redisCfg := lock.DefaultRedisConfig(cfg.RedisAddr)
		if cfg.LockTTL > 0 {
			redisCfg.TTL = cfg.LockTTL
		}
		locker, err := lock.NewRedisLocker(ctx, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.closers = append(app.closers, locker.Close)
		app.Engine.SetLocker(locker)
		logger.Info("distributed learner lock enabled", "addr", cfg.RedisAddr)
	}

	app.Generator = newGenerator(cfg, logger)

	app.Dispatcher.SubscribeAll(func(e domain.Event) {
		logger.Debug("domain event", "type", e.EventType(), "aggregate_id", e.AggregateID().String())
	})
	app.Dispatcher.Subscribe(domain.EventLevelUp, func(e domain.Event) {
		if up, ok := e.(domain.LevelUpEvent); ok {
			logger.Info("learner leveled up", "learner_id", up.LearnerID, "from", up.FromLevel, "to", up.ToLevel)
		}
	})

	if cfg.EventLogURL != "" {
		if err := app.openEventLog(ctx); err != nil {
			return nil, err
		}
	}

	if cfg.RabbitMQURL != "" {
		if err := app.openQueue(); err != nil {
			return nil, err
		}
	}

	return app, nil
}

func (a *App) openStore(ctx context.Context) (domain.UnitOfWorkFactory, error) {
	cfg := a.Config
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		db.SetLogger(a.logger)
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		a.checks["store"] = db.PingContext
		a.logger.Info("store opened", "driver", cfg.StoreDriver, "path", cfg.SQLitePath)
		return sqlite.NewUnitOfWorkFactory(db), nil

	case config.StorePostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		a.checks["store"] = store.Ping
		a.logger.Info("store opened", "driver", cfg.StoreDriver)
		return store, nil

	default:
		store, err := local.NewStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		a.checks["store"] = func(context.Context) error {
			_, err := os.Stat(store.Path())
			return err
		}
		a.logger.Info("store opened", "driver", config.StoreLocal, "path", store.Path())
		factory := local.NewUnitOfWorkFactory(store)
		factory.SetLogger(a.logger)
		return factory, nil
	}
}

func newGenerator(cfg *config.Config, logger *slog.Logger) generator.Generator {
	if cfg.GeneratorURL == "" {
		logger.Info("content generator", "name", "static")
		return generator.NewStatic()
	}
	ollama := generator.NewOllamaGenerator(generator.OllamaConfig{
		BaseURL: cfg.GeneratorURL,
		Model:   cfg.GeneratorModel,
		APIKey:  cfg.GeneratorAPIKey,
	})
	resilientCfg := generator.DefaultResilientConfig()
	resilientCfg.Logger = logger
	logger.Info("content generator", "name", ollama.Name(), "model", cfg.GeneratorModel)
	return generator.NewResilient(ollama, resilientCfg)
}

func (a *App) openEventLog(ctx context.Context) error {
	db, err := repository.Open(ctx, a.Config.EventLogURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db.Close)

	events := repository.NewEventRepository(db)
	events.SetLogger(a.logger)
	if host, err := os.Hostname(); err == nil {
		events.SetSource(host)
	}
	if err := events.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate event log: %w", err)
	}
	a.Events = events
	a.checks["event_log"] = db.PingContext
	a.Dispatcher.SubscribeAll(func(e domain.Event) {
		events.PublishAll([]domain.Event{e})
	})
	return nil
}

func (a *App) openQueue() error {
	conn, err := queue.NewConnection(a.Config.RabbitMQURL, a.logger)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	a.closers = append(a.closers, conn.Close)

	a.Producer = queue.NewProducer(conn, a.logger)
	a.Consumer = queue.NewConsumer(conn,
		queue.NewImportHandler(a.Engine, a.Retry),
		queue.ConsumerConfig{Workers: a.Config.ImportWorkers},
		a.logger,
	)
	a.Results = queue.NewResultConsumer(conn, 0, a.logger)
	a.checks["rabbitmq"] = func(context.Context) error {
		if !conn.IsConnected() {
			return errors.New("disconnected")
		}
		return nil
	}
	a.Dispatcher.SubscribeAll(func(e domain.Event) {
		a.Producer.PublishAll([]domain.Event{e})
	})
	return nil
}

// Start launches the background consumers, if any.
func (a *App) Start(ctx context.Context) error {
	if a.Consumer != nil {
		if err := a.Consumer.Start(ctx); err != nil {
			return fmt.Errorf("start import consumer: %w", err)
		}
	}
	if a.Results != nil {
		if err := a.Results.Start(ctx); err != nil {
			return fmt.Errorf("start result consumer: %w", err)
		}
	}
	return nil
}

// Ready runs every readiness check with a short timeout.
func (a *App) Ready(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out := make(map[string]error, len(a.checks))
	for name, check := range a.checks {
		out[name] = check(ctx)
	}
	return out
}

// Close cleans up application resources in reverse order of opening
func (a *App) Close() error {
	if a.Consumer != nil {
		a.Consumer.Stop()
	}
	if a.Results != nil {
		a.Results.Stop()
	}
	if c, ok := a.Generator.(interface{ Close() error }); ok {
		_ = c.Close()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
