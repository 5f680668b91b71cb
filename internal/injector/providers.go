package injector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/google/wire"

	"github.com/zeusync/vault/internal/config"
	"github.com/zeusync/vault/internal/core/events/bus"
	"github.com/zeusync/vault/internal/core/observability/log"
	"github.com/zeusync/vault/internal/core/observability/metrics"
	"github.com/zeusync/vault/internal/core/rpc"
	"github.com/zeusync/vault/internal/core/spatial/geometry"
	"github.com/zeusync/vault/internal/core/storage"
	"github.com/zeusync/vault/internal/core/vault"
	"github.com/zeusync/vault/internal/core/zones"
	"github.com/zeusync/vault/internal/server"
)

// App is the fully wired daemon.
type App struct {
	Config  config.Config
	Logger  log.Log
	Manager *vault.Manager
	Bus     bus.EventBus
	Adapter *vault.EventAdapter
	Zones   *zones.Engine
	Server  *server.Server
}

var LoggingSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
)

var StorageSet = wire.NewSet(
	LoggingSet,
	metrics.New,
	ProvideBackend,
)

var AppSet = wire.NewSet(
	StorageSet,
	ProvideManager,
	ProvideBus,
	ProvideEventAdapter,
	ProvideZones,
	ProvideDispatcher,
	ProvideServerConfig,
	server.NewServer,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) (*log.Logger, func(), error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(level)
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideBackend opens the configured storage driver. The cleanup closes it.
func ProvideBackend(cfg config.Config, logger log.Log, m *metrics.Metrics) (storage.Backend, func(), error) {
	var backend storage.Backend
	switch cfg.Storage.Driver {
	case "memory":
		backend = storage.NewMemory()
	case "disk":
		store, err := storage.Open(cfg.StorageOptions(), logger, m)
		if err != nil {
			return nil, nil, err
		}
		backend = store
	default:
		return nil, nil, fmt.Errorf("%w: %q", storage.ErrUnknownBackend, cfg.Storage.Driver)
	}

	cleanup := func() {
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close storage", log.Error(err))
		}
	}
	return backend, cleanup, nil
}

// ProvideManager builds the manager and restores every persisted region.
func ProvideManager(ctx context.Context, cfg config.Config, backend storage.Backend, logger log.Log, m *metrics.Metrics) (*vault.Manager, error) {
	manager := vault.NewManager(backend, cfg.VaultConfig(), logger, m)
	n, err := manager.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load regions: %w", err)
	}
	logger.Info("Regions restored", log.Int("regions", n))
	return manager, nil
}

func ProvideBus(m *metrics.Metrics) bus.EventBus {
	b := bus.New()
	b.AddObserver(m.BusObserver())
	return b
}

func ProvideEventAdapter(manager *vault.Manager, b bus.EventBus, logger log.Log) (*vault.EventAdapter, func(), error) {
	adapter := vault.NewEventAdapter(manager, logger)
	if err := adapter.Attach(b); err != nil {
		return nil, nil, err
	}
	return adapter, adapter.Detach, nil
}

// ProvideZones builds the zone engine with the configured zones and, unless
// following is off, drives it from player position events.
func ProvideZones(cfg config.Config, b bus.EventBus, logger log.Log, m *metrics.Metrics) (*zones.Engine, func(), error) {
	engine := zones.New(
		zones.WithBus(b),
		zones.WithLogger(logger),
		zones.WithMetrics(m),
		zones.WithMaxEntries(cfg.Index.MaxEntries),
	)
	for _, z := range cfg.Zones.Zones {
		if _, err := engine.AddZone(geometry.FromArray(z.Center), z.Radius, nil, nil); err != nil {
			return nil, nil, err
		}
	}

	var target uuid.UUID
	switch cfg.Zones.Follow {
	case "off":
		return engine, func() {}, nil
	case "all":
	default:
		id, err := uuid.Parse(cfg.Zones.Follow)
		if err != nil {
			return nil, nil, fmt.Errorf("zones follow target: %w", err)
		}
		target = id
	}

	follower, err := engine.Follow(b, target)
	if err != nil {
		return nil, nil, err
	}
	return engine, follower.Stop, nil
}

func ProvideDispatcher(manager *vault.Manager, logger log.Log, m *metrics.Metrics) *rpc.Dispatcher {
	d := rpc.NewDispatcher(logger, m)
	rpc.RegisterVault(d, manager)
	return d
}

// ProvideServerConfig maps the server section. The snapshot ticker only runs
// in snapshot mode; sync mode is already durable.
func ProvideServerConfig(cfg config.Config) server.Config {
	sc := server.DefaultServerConfig()
	sc.ListenAddr = cfg.Server.Addr
	sc.ReadLimit = cfg.Server.ReadLimit
	sc.ShutdownTimeout = cfg.Server.ShutdownTimeout
	sc.SnapshotInterval = 0
	if vault.Mode(cfg.Persistence.Mode) == vault.ModeSnapshot {
		sc.SnapshotInterval = cfg.Server.SnapshotInterval
	}
	return sc
}
