package daemon

import (
	"context"

	"github.com/matheus3301/sigil/internal/bus"
	"github.com/matheus3301/sigil/internal/chats"
	"github.com/matheus3301/sigil/internal/crypto"
	"github.com/matheus3301/sigil/internal/directory"
	"github.com/matheus3301/sigil/internal/lock"
	"github.com/matheus3301/sigil/internal/logging"
	"github.com/matheus3301/sigil/internal/outbox"
	"github.com/matheus3301/sigil/internal/processor"
	"github.com/matheus3301/sigil/internal/reconcile"
	"github.com/matheus3301/sigil/internal/remote"
	"github.com/matheus3301/sigil/internal/session"
	"github.com/matheus3301/sigil/internal/status"
	"github.com/matheus3301/sigil/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Identity    string

	// Transport and Directory override the defaults; tests inject
	// in-memory implementations here.
	Transport remote.Transport
	Directory directory.Directory
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideDirectory,
			provideTransport,
			provideCipher,
			provideSessionManager,
			provideProcessor,
			provideReconciler,
			provideChats,
			provideSender,
			NewLoop,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
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
	if err := db.EnsureAccount(p.Identity); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideDirectory(p Params) directory.Directory {
	if p.Directory != nil {
		return p.Directory
	}
	return directory.NewMemory()
}

func provideTransport(p Params) remote.Transport {
	if p.Transport != nil {
		return p.Transport
	}
	return remote.NewMemory(p.Identity)
}

func provideCipher(p Params) (*crypto.BoxCipher, error) {
	return crypto.LoadOrCreateBoxCipher(session.KeyPath(p.SessionName))
}

func provideSessionManager(p Params, cipher *crypto.BoxCipher) *crypto.Manager {
	groups := crypto.NewFileGroupStore(session.Dir(p.SessionName))
	return crypto.NewManager(p.Identity, cipher, groups)
}

func provideProcessor(db *store.DB, dir directory.Directory, sessions *crypto.Manager, b *bus.Bus, logger *zap.Logger) *processor.Processor {
	return processor.New(db, dir, sessions, b, logger)
}

func provideReconciler(db *store.DB, transport remote.Transport, dir directory.Directory, sessions *crypto.Manager, proc *processor.Processor, b *bus.Bus, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(db, transport, dir, sessions, proc, b, logger)
}

func provideChats(db *store.DB, transport remote.Transport, dir directory.Directory, sessions *crypto.Manager, rec *reconcile.Reconciler, b *bus.Bus, logger *zap.Logger) *chats.Manager {
	return chats.New(db, transport, dir, sessions, rec, b, logger)
}

func provideSender(db *store.DB, transport remote.Transport, sessions *crypto.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, transport, sessions, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, loop *Loop, lk *lock.Lock, db *store.DB, sender *outbox.Sender, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			loop.Start()
			sender.Start(context.Background())
			_ = machine.Transition(status.Connecting)
			loop.RequestSync()
			return nil
		},
		OnStop: func(_ context.Context) error {
			sender.Stop()
			loop.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
