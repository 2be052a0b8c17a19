// Package daemon composes the sync daemon: config, logging, the CRM
// client, push channel, sync engine, archive, and the local HTTP
// bridge, wired together with fx lifecycle hooks.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/caiofmo/zapdesk/internal/archive"
	"github.com/caiofmo/zapdesk/internal/bus"
	"github.com/caiofmo/zapdesk/internal/cache"
	"github.com/caiofmo/zapdesk/internal/config"
	"github.com/caiofmo/zapdesk/internal/crm"
	"github.com/caiofmo/zapdesk/internal/inbox"
	"github.com/caiofmo/zapdesk/internal/lock"
	"github.com/caiofmo/zapdesk/internal/logging"
	"github.com/caiofmo/zapdesk/internal/outbound"
	"github.com/caiofmo/zapdesk/internal/push"
	"github.com/caiofmo/zapdesk/internal/store"
	intsync "github.com/caiofmo/zapdesk/internal/sync"
)

// Params holds the startup parameters passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideCache,
			provideLock,
			provideCRMClient,
			provideStore,
			provideInboxStore,
			provideReconciler,
			provideStateMachine,
			providePushManager,
			provideEngine,
			providePipeline,
			provideArchiver,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), cfg.Instance)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideCache() *cache.Cache {
	return cache.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring daemon lock", zap.String("data_dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir, cfg.Instance)
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideCRMClient(cfg *config.Config, logger *zap.Logger) *crm.Client {
	return crm.New(cfg.ServerURL, cfg.Token, logger)
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.ArchivePath())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	return db, nil
}

func provideInboxStore(client *crm.Client, c *cache.Cache, b *bus.Bus, logger *zap.Logger) *inbox.Store {
	return inbox.NewStore(client, c, b, logger)
}

func provideReconciler(client *crm.Client, c *cache.Cache, b *bus.Bus, logger *zap.Logger) *inbox.Reconciler {
	return inbox.NewReconciler(client, c, b, logger)
}

func provideStateMachine(b *bus.Bus) *push.Machine {
	return push.NewMachine(b)
}

func providePushManager(cfg *config.Config, client *crm.Client, b *bus.Bus, m *push.Machine, logger *zap.Logger) *push.Manager {
	opts := push.Options{
		Keepalive:   cfg.KeepaliveInterval(),
		BackoffBase: cfg.BackoffBase(),
		BackoffMax:  cfg.BackoffMax(),
	}
	return push.NewManager(client.PushURL(), opts, b, m, logger)
}

func provideEngine(cfg *config.Config, st *inbox.Store, rec *inbox.Reconciler, b *bus.Bus, c *cache.Cache, client *crm.Client, logger *zap.Logger) *intsync.Engine {
	opts := intsync.Options{
		ListInterval:   cfg.PollListInterval(),
		ThreadInterval: cfg.PollThreadInterval(),
	}
	return intsync.NewEngine(st, rec, b, c, client, opts, logger)
}

func providePipeline(cfg *config.Config, client *crm.Client, rec *inbox.Reconciler, b *bus.Bus, logger *zap.Logger) *outbound.Pipeline {
	return outbound.NewPipeline(client, rec, b, cfg.TypingInterval(), logger)
}

func provideArchiver(db *store.DB, b *bus.Bus, logger *zap.Logger) *archive.Archiver {
	return archive.New(db, b, logger)
}

func provideServer(
	cfg *config.Config,
	st *inbox.Store,
	rec *inbox.Reconciler,
	engine *intsync.Engine,
	pipeline *outbound.Pipeline,
	client *crm.Client,
	machine *push.Machine,
	db *store.DB,
	c *cache.Cache,
	logger *zap.Logger,
) *Server {
	return NewServer(cfg.Listen, st, rec, engine, pipeline, client, machine, db, c, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	engine *intsync.Engine,
	manager *push.Manager,
	archiver *archive.Archiver,
	db *store.DB,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Consumers first so the initial refreshes are observed.
			archiver.Start(context.Background())
			engine.Start(context.Background())
			manager.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("bridge server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("bridge shutdown error", zap.Error(err))
			}
			manager.Stop()
			engine.Stop()
			archiver.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing archive db", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
