// Package di assembles the application's object graph. The providers
// feed Google Wire; NewContainer performs the same wiring by hand so
// the binaries build without generated code.
package di

import (
	"context"
	"fmt"

	"acs-backend/application/commands/bus"
	"acs-backend/application/ports"
	"acs-backend/application/services"
	"acs-backend/domain/core/aggregates"
	"acs-backend/infrastructure/config"
	"acs-backend/infrastructure/persistence"
	"acs-backend/infrastructure/persistence/dynamodb"
	"acs-backend/infrastructure/persistence/memory"
	"acs-backend/infrastructure/persistence/sqlite"
	"acs-backend/infrastructure/resilience"
	"acs-backend/interfaces/http/rest"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	LogLevel    zap.AtomicLevel
	Registry    *prometheus.Registry
	Store       ports.Store
	Graph       *aggregates.Graph
	Cache       *services.DecisionCache
	Evaluator   *services.Evaluator
	Executor    *resilience.Executor
	Health      *resilience.HealthMonitor
	DLQ         *persistence.DeadLetterQueue
	Coordinator *persistence.Coordinator
	Dispatcher  *bus.Dispatcher
	Router      *rest.Router
	Watcher     *config.Watcher
}

// ProvideLogger creates a logger matching the environment. The
// returned atomic level is what the config reloader adjusts at
// runtime.
func ProvideLogger(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	logger, err := zcfg.Build()
	return logger, zcfg.Level, err
}

// ProvideRegistry creates the process metrics registry
func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ProvideStore selects the persistence driver from configuration
func ProvideStore(ctx context.Context, cfg *config.Config) (ports.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite":
		return sqlite.NewStore(ctx, cfg.SQLiteDSN)
	case "dynamodb":
		return dynamodb.NewStore(ctx, cfg.DynamoDBTable)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// ProvideHealthMonitor creates the health monitor
func ProvideHealthMonitor(registry *prometheus.Registry, logger *zap.Logger) *resilience.HealthMonitor {
	return resilience.NewHealthMonitor(registry, logger.Named("health"))
}

// ProvideExecutor assembles the resilience stack
func ProvideExecutor(registry *prometheus.Registry, health *resilience.HealthMonitor, logger *zap.Logger) *resilience.Executor {
	breakers := resilience.NewBreakerRegistry(nil, registry, logger.Named("breaker"))
	return resilience.NewExecutor(breakers, resilience.DefaultRetryPolicy(), health, nil, logger.Named("resilience"))
}

// ProvideCache creates the decision cache
func ProvideCache(cfg *config.Config) *services.DecisionCache {
	return services.NewDecisionCache(cfg.CacheSize, cfg.CacheTTL)
}

// ProvideEvaluator creates the permission evaluator
func ProvideEvaluator(cfg *config.Config, graph *aggregates.Graph, cache *services.DecisionCache, logger *zap.Logger) (*services.Evaluator, error) {
	strategy, err := services.ParseConflictStrategy(cfg.ConflictStrategy)
	if err != nil {
		return nil, err
	}
	return services.NewEvaluator(graph, cache, strategy, logger.Named("evaluator")), nil
}

// ProvideDeadLetterQueue creates the dead-letter queue
func ProvideDeadLetterQueue(store ports.Store, logger *zap.Logger) *persistence.DeadLetterQueue {
	return persistence.NewDeadLetterQueue(store, logger.Named("dlq"))
}

// ProvideCoordinator creates the persistence coordinator
func ProvideCoordinator(cfg *config.Config, store ports.Store, exec *resilience.Executor, dlq *persistence.DeadLetterQueue, logger *zap.Logger) *persistence.Coordinator {
	return persistence.NewCoordinator(
		store,
		exec,
		dlq,
		cfg.SynchronousPersistence,
		cfg.PersistQueueCapacity,
		logger.Named("persistence"),
	)
}

// ProvideDispatcher creates the command dispatcher
func ProvideDispatcher(cfg *config.Config, graph *aggregates.Graph, evaluator *services.Evaluator, coordinator *persistence.Coordinator, logger *zap.Logger) *bus.Dispatcher {
	return bus.NewDispatcher(graph, evaluator, coordinator, bus.Options{
		QueueCapacity:   cfg.CommandQueueCapacity,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger.Named("dispatcher"))
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	cfg *config.Config,
	dispatcher *bus.Dispatcher,
	evaluator *services.Evaluator,
	health *resilience.HealthMonitor,
	dlq *persistence.DeadLetterQueue,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(cfg, dispatcher, evaluator, health, dlq, registry, logger.Named("http"))
}

// NewContainer wires the full object graph by hand. The graph is built
// empty; callers hydrate it from the store before starting traffic.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, logLevel, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}
	registry := ProvideRegistry()

	store, err := ProvideStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	graph := aggregates.NewGraph()
	cache := ProvideCache(cfg)
	evaluator, err := ProvideEvaluator(cfg, graph, cache, logger)
	if err != nil {
		return nil, err
	}

	health := ProvideHealthMonitor(registry, logger)
	exec := ProvideExecutor(registry, health, logger)
	dlq := ProvideDeadLetterQueue(store, logger)
	coordinator := ProvideCoordinator(cfg, store, exec, dlq, logger)
	dispatcher := ProvideDispatcher(cfg, graph, evaluator, coordinator, logger)
	router := ProvideRouter(cfg, dispatcher, evaluator, health, dlq, registry, logger)

	c := &Container{
		Config:      cfg,
		Logger:      logger,
		LogLevel:    logLevel,
		Registry:    registry,
		Store:       store,
		Graph:       graph,
		Cache:       cache,
		Evaluator:   evaluator,
		Executor:    exec,
		Health:      health,
		DLQ:         dlq,
		Coordinator: coordinator,
		Dispatcher:  dispatcher,
		Router:      router,
	}

	if cfg.DynamicConfigPath != "" {
		watcher, err := config.NewWatcher(cfg.DynamicConfigPath, logger.Named("config"))
		if err != nil {
			return nil, err
		}
		watcher.OnChange(func(dc config.DynamicConfig) {
			if dc.ConflictStrategy != "" {
				if strategy, err := services.ParseConflictStrategy(dc.ConflictStrategy); err == nil {
					evaluator.SetStrategy(strategy)
				} else {
					logger.Warn("ignoring invalid conflict strategy", zap.Error(err))
				}
			}
			if dc.CacheTTL > 0 {
				cache.SetTTL(dc.CacheTTL)
			}
			if dc.LogLevel != "" {
				if level, err := zapcore.ParseLevel(dc.LogLevel); err == nil {
					logLevel.SetLevel(level)
				} else {
					logger.Warn("ignoring invalid log level", zap.Error(err))
				}
			}
		})
		c.Watcher = watcher
	}

	return c, nil
}

// Hydrate loads the persisted snapshot into the graph under the
// database resilience stack.
func (c *Container) Hydrate(ctx context.Context) error {
	return c.Executor.Do(ctx, resilience.ClassDatabase, "hydrate", func(ctx context.Context) error {
		snap, err := c.Store.LoadSnapshot(ctx)
		if err != nil {
			return err
		}
		return c.Graph.Hydrate(snap)
	})
}

// Start launches the background workers in dependency order
func (c *Container) Start(ctx context.Context) error {
	if err := c.Coordinator.Start(ctx); err != nil {
		return err
	}
	c.Dispatcher.Start()
	c.Health.StartSampler(ctx, 0)
	if c.Watcher != nil {
		c.Watcher.Start()
	}
	return nil
}

// Stop shuts the workers down in reverse order: dispatcher first so no
// new change sets arrive, then the coordinator drains.
func (c *Container) Stop(ctx context.Context) error {
	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	err := c.Dispatcher.Shutdown(ctx)
	c.Coordinator.Stop()
	if cerr := c.Store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
