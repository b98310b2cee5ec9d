// Package app composes the chat engine with fx. The platform shell calls
// Module with resolved parameters and embeds the resulting application; no
// standalone binary exists.
package app

import (
	"context"
	"path/filepath"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/bus"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/cache"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chatstore"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/config"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/identity"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/lock"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/logging"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/notify"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/remote"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/session"
	intsync "github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/sync"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/timeconv"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/unread"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileKey string
	Config     *config.Config

	// ProfileDir overrides the on-disk profile directory for testing;
	// empty = the default under session.BaseDir.
	ProfileDir string

	// Store overrides the remote transport; nil dials Config.RemoteURL.
	Store remote.Store
	// Identity overrides the token-derived identity provider.
	Identity identity.Provider
	// Notifier overrides the log-only notifier.
	Notifier notify.Notifier
}

// Module returns the fx module for the chat engine, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideCacheDB,
			provideSnapshot,
			provideIdentity,
			provideNormalizer,
			provideRemoteStore,
			provideEngine,
			provideTracker,
			provideNotifier,
			provideDispatcher,
			provideChatStore,
		),
		fx.Invoke(registerLifecycle),
	)
}

func profileDir(p Params) string {
	if p.ProfileDir != "" {
		return p.ProfileDir
	}
	return session.Dir(p.ProfileKey)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(filepath.Join(profileDir(p), "logs", "chat.log"), p.ProfileKey)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.ValidateKey(p.ProfileKey); err != nil {
		return nil, err
	}
	if p.ProfileDir == "" {
		if err := session.EnsureDir(p.ProfileKey); err != nil {
			return nil, err
		}
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileKey))
	l, err := lock.Acquire(profileDir(p))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideCacheDB(p Params, _ *lock.Lock, logger *zap.Logger) (*cache.DB, error) {
	dbPath := filepath.Join(profileDir(p), "cache.db")
	db, err := cache.Open(dbPath)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSnapshot(p Params, db *cache.DB) *cache.Snapshot {
	snap := cache.NewSnapshot(db)
	snap.SetFreshnessWindow(p.Config.FreshnessWindowDuration())
	return snap
}

func provideIdentity(p Params) (identity.Provider, error) {
	if p.Identity != nil {
		return p.Identity, nil
	}
	return identity.NewTokenProvider(p.Config.AuthToken, []byte(p.Config.JWTSecret))
}

func provideNormalizer(p Params) *timeconv.Normalizer {
	norm := timeconv.NewNormalizer()
	norm.SkewTolerance = p.Config.SkewToleranceDuration()
	norm.SkewOffset = p.Config.SkewOffsetDuration()
	return norm
}

func provideRemoteStore(p Params, logger *zap.Logger) (remote.Store, error) {
	if p.Store != nil {
		return p.Store, nil
	}
	return remote.Dial(context.Background(), p.Config.RemoteURL, p.Config.AuthToken, logger)
}

func provideEngine(store remote.Store, ids identity.Provider, norm *timeconv.Normalizer, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(store, ids, norm, b, logger)
}

func provideTracker(store remote.Store, snap *cache.Snapshot, b *bus.Bus, logger *zap.Logger) *unread.Tracker {
	return unread.NewTracker(store, snap, b, logger)
}

func provideNotifier(p Params, logger *zap.Logger) notify.Notifier {
	if p.Notifier != nil {
		return p.Notifier
	}
	return &notify.LogNotifier{Logger: logger}
}

func provideDispatcher(notifier notify.Notifier, b *bus.Bus, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(notifier, b, logger)
}

func provideChatStore(engine *intsync.Engine, tracker *unread.Tracker, snap *cache.Snapshot, ids identity.Provider, b *bus.Bus, logger *zap.Logger) *chatstore.Store {
	return chatstore.New(engine, tracker, snap, ids, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, store remote.Store, lk *lock.Lock, db *cache.DB, disp *notify.Dispatcher, cs *chatstore.Store, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if !p.Config.DisableNotifications {
				disp.Start(context.Background())
			}
			logger.Info("chat engine started", zap.String("profile", p.ProfileKey))
			return nil
		},
		OnStop: func(_ context.Context) error {
			logger.Info("chat engine stopping")

			cs.Close()
			disp.Stop()

			if client, ok := store.(*remote.Client); ok {
				if err := client.Close(); err != nil {
					logger.Warn("remote close failed", zap.Error(err))
				}
			}
			if err := db.Close(); err != nil {
				logger.Warn("cache close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("lock release failed", zap.Error(err))
			}

			logger.Info("chat engine stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
