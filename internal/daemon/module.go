package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/rest"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile  string
	Settings *config.Profile
	// Owner is the binary hosting the module; it names the log file and
	// is recorded in the profile lock.
	Owner string
	// Console also logs to stderr.
	Console    bool
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module hosting the sync core for one profile,
// composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideMetrics,
			provideLock,
			provideStore,
			provideREST,
			provideSyncEngine,
			provideChat,
			provideCounters,
			provideNotify,
			provideSender,
			NewHealthReporter,
			provideServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile, p.Owner), p.Profile, p.Console)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile), p.Owner)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(b *bus.Bus, logger *zap.Logger) (*store.Store, error) {
	db, err := store.Open()
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.Uint("schema_version", result.Version))
	return store.New(db, b), nil
}

func provideREST(p Params, m *metrics.Metrics, logger *zap.Logger) *rest.Client {
	s := p.Settings
	return rest.New(rest.Options{
		BaseURL:            s.APIBaseURL,
		Token:              s.Token,
		Timeout:            s.RequestTimeout,
		RetryMaxElapsed:    s.RetryMaxElapsed,
		BreakerMaxFailures: s.BreakerMaxFailures,
		BreakerOpenTimeout: s.BreakerOpenTimeout,
		Metrics:            m,
		Logger:             logger.Named("rest"),
	})
}

func provideSyncEngine(p Params, s *store.Store, client *rest.Client, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(s, client, store.UserID(p.Settings.UserID), b, m, logger.Named("sync"))
}

func channelConfig(s *config.Profile, url string) transport.Config {
	return transport.Config{
		URL:               url,
		Token:             s.Token,
		HandshakeTimeout:  s.RequestTimeout,
		WriteTimeout:      s.WriteTimeout,
		ReconnectInterval: s.ReconnectInterval,
	}
}

func provideChat(p Params, engine *intsync.Engine, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *transport.Chat {
	return transport.NewChat(channelConfig(p.Settings, p.Settings.ChatURL), engine, b, m, logger)
}

func provideCounters(p Params, b *bus.Bus, m *metrics.Metrics) *notify.Counters {
	return notify.NewCounters(p.Settings.RecentNotifications, b, m)
}

func provideNotify(p Params, counters *notify.Counters, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *transport.Notify {
	return transport.NewNotify(channelConfig(p.Settings, p.Settings.NotifyURL), counters, b, m, logger)
}

func provideSender(p Params, s *store.Store, chat *transport.Chat, client *rest.Client, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(s, chat, client, store.UserID(p.Settings.UserID), b, m, logger.Named("outbox"))
}

// provideServer binds the control socket. The lock must be held first:
// NewServer unlinks whatever socket file it finds.
func provideServer(p Params, logger *zap.Logger, health *HealthReporter, _ *lock.Lock) (*Server, error) {
	return NewServer(p, logger, health)
}

type lifecycleDeps struct {
	fx.In

	Params     Params
	Shutdowner fx.Shutdowner
	Server     *Server
	Metrics    *MetricsServer
	Health     *HealthReporter
	Lock       *lock.Lock
	Store      *store.Store
	Engine     *intsync.Engine
	Chat       *transport.Chat
	Notify     *transport.Notify
	Bus        *bus.Bus
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := d.Logger

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (refreshes conversations whenever chat opens).
			d.Engine.Start(ctx)
			d.Health.Start(ctx)

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			if d.Metrics != nil {
				go func() {
					if err := d.Metrics.Start(); err != nil {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
			}

			// Open both channels opportunistically. A channel that fails
			// to open now is dialed again on next use.
			go func() {
				openCtx, cancelOpen := context.WithTimeout(ctx, d.Params.Settings.RequestTimeout)
				defer cancelOpen()
				if err := d.Chat.Open(openCtx); err != nil {
					logger.Warn("chat channel not open at startup", zap.Error(err))
					if err := d.Engine.FetchAllConversations(ctx); err != nil {
						logger.Warn("initial conversation fetch", zap.Error(err))
					}
				}
			}()
			go func() {
				openCtx, cancelOpen := context.WithTimeout(ctx, d.Params.Settings.RequestTimeout)
				defer cancelOpen()
				if err := d.Notify.Open(openCtx); err != nil {
					logger.Warn("notification channel not open at startup", zap.Error(err))
				}
			}()

			// Logging out tears the whole session down.
			logout, unsub := d.Bus.Subscribe(bus.KindLoggedOut, 1)
			go func() {
				defer unsub()
				select {
				case <-logout:
					logger.Info("logged out, shutting down")
					if err := d.Shutdowner.Shutdown(); err != nil {
						logger.Error("shutdown", zap.Error(err))
					}
				case <-ctx.Done():
				}
			}()

			logger.Info("sync core started", zap.String("profile", d.Params.Profile))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			d.Engine.Stop()
			d.Health.Stop()
			err := errors.Join(d.Chat.Close(), d.Notify.Close())
			d.Server.Stop(stopCtx)
			if d.Metrics != nil {
				if mErr := d.Metrics.Stop(stopCtx); mErr != nil {
					logger.Warn("error stopping metrics server", zap.Error(mErr))
				}
			}
			if sErr := d.Store.Close(); sErr != nil {
				logger.Warn("error closing store", zap.Error(sErr))
			}
			if lErr := d.Lock.Release(); lErr != nil {
				logger.Warn("error releasing lock", zap.Error(lErr))
			}
			logger.Info("sync core stopped")
			_ = logger.Sync()
			return err
		},
	})
}
