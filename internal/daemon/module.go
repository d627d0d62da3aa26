package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/matheus3301/casesync/internal/api"
	"github.com/matheus3301/casesync/internal/bus"
	"github.com/matheus3301/casesync/internal/channel"
	"github.com/matheus3301/casesync/internal/clock"
	"github.com/matheus3301/casesync/internal/config"
	"github.com/matheus3301/casesync/internal/connection"
	"github.com/matheus3301/casesync/internal/inbox"
	"github.com/matheus3301/casesync/internal/lock"
	"github.com/matheus3301/casesync/internal/logging"
	"github.com/matheus3301/casesync/internal/mirror"
	"github.com/matheus3301/casesync/internal/reconnect"
	"github.com/matheus3301/casesync/internal/session"
	"github.com/matheus3301/casesync/internal/status"
	"github.com/matheus3301/casesync/internal/store"
	intsync "github.com/matheus3301/casesync/internal/sync"
	"github.com/matheus3301/casesync/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	ConfigPath  string         // optional override; empty = ~/.casesync/config.toml
	Config      *config.Config // optional; skips loading ConfigPath
	Logger      *zap.Logger    // optional; skips the file logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideClock,
			provideLock,
			provideStore,
			provideTransport,
			provideManager,
			provideCoordinator,
			provideInbox,
			provideMirror,
			provideSupervisor,
			provideService,
			NewHealth,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		path := p.ConfigPath
		if path == "" {
			path = session.ConfigPath()
		}
		var err error
		cfg, err = config.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no config at %s: create it with [user] id and [conversation] case_id", path)
		}
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideClock() clock.Clock {
	return clock.Real()
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

func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	if !cfg.Mirror.Enabled {
		logger.Info("transcript mirror disabled")
		return nil, nil
	}
	dbPath := session.MirrorDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTransport(cfg *config.Config) *transport.HTTPClient {
	return transport.NewHTTPClient(cfg.Server.APIURL,
		transport.WithToken(cfg.Server.Token),
		transport.WithTimeout(cfg.Server.RequestTimeout.Duration),
	)
}

func provideManager(cfg *config.Config, machine *status.Machine, clk clock.Clock, logger *zap.Logger) *connection.Manager {
	wsURL := cfg.Server.WSURL
	if wsURL == "" {
		wsURL = strings.TrimSuffix(cfg.Server.APIURL, "/") + "/ws"
	}
	heartbeat := cfg.Channel.HeartbeatInterval.Duration
	if heartbeat == 0 {
		heartbeat = -1
	}
	return connection.NewManager(channel.NewWSDialer(wsURL, nil), machine, clk, logger, heartbeat)
}

func provideCoordinator(cfg *config.Config, m *connection.Manager, rpc *transport.HTTPClient, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *intsync.Coordinator {
	return intsync.New(intsync.Config{
		CaseID:         cfg.Conversation.CaseID,
		LocalUserID:    cfg.User.ID,
		RecipientID:    cfg.Conversation.OtherUserID,
		SharedChannel:  true,
		PageSize:       cfg.Conversation.PageSize,
		TypingTimeout:  cfg.Conversation.TypingTimeout.Duration,
		TypingInterval: cfg.Conversation.TypingSendInterval.Duration,
	}, m, rpc, b, clk, logger)
}

func provideInbox(rpc *transport.HTTPClient, logger *zap.Logger) *inbox.Inbox {
	return inbox.New(rpc, logger)
}

func provideMirror(db *store.DB, b *bus.Bus, logger *zap.Logger) *mirror.Mirror {
	if db == nil {
		return nil
	}
	return mirror.New(db, b, logger)
}

func provideSupervisor(cfg *config.Config, m *connection.Manager, coord *intsync.Coordinator, clk clock.Clock, logger *zap.Logger) *reconnect.Supervisor {
	if !cfg.Reconnect.Enabled || !cfg.Channel.Enabled {
		return nil
	}
	policy := reconnect.Backoff{
		Base:        cfg.Reconnect.BaseDelay.Duration,
		Max:         cfg.Reconnect.MaxDelay.Duration,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Jitter:      0.2,
	}
	sup := reconnect.NewSupervisor(m, policy, clk, cfg.Server.Token, logger)
	sup.OnReconnect = func(ctx context.Context) {
		if err := coord.Refresh(ctx); err != nil {
			logger.Warn("refresh after reconnect failed", zap.Error(err))
		}
	}
	return sup
}

func provideService(coord *intsync.Coordinator, ib *inbox.Inbox, db *store.DB, logger *zap.Logger) *api.Service {
	var history api.History
	if db != nil {
		history = db
	}
	return api.NewService(coord, ib, history, logger)
}

type lifecycleDeps struct {
	fx.In

	Config      *config.Config
	Lock        *lock.Lock
	Server      *Server
	Health      *Health
	DB          *store.DB
	Manager     *connection.Manager
	Coordinator *intsync.Coordinator
	Inbox       *inbox.Inbox
	Mirror      *mirror.Mirror
	Supervisor  *reconnect.Supervisor
	Logger      *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if d.Mirror != nil {
				d.Mirror.Start(runCtx)
			}
			d.Health.Start(runCtx)

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if d.Supervisor != nil {
				d.Supervisor.Start(runCtx)
			}
			if d.Config.Channel.Enabled {
				if err := d.Manager.Bind(runCtx, d.Config.Server.Token); err != nil {
					d.Logger.Warn("channel bind failed", zap.Error(err))
				}
			} else {
				d.Logger.Info("persistent channel disabled, using request/response only")
			}

			// The initial fetch may take up to request_timeout; keep it off
			// the fx start deadline.
			go func() {
				if err := d.Coordinator.Start(runCtx); err != nil {
					d.Logger.Warn("initial history fetch failed", zap.Error(err))
				}
				if _, err := d.Inbox.Refresh(runCtx); err != nil {
					d.Logger.Warn("initial conversation list failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			var err error
			if d.Supervisor != nil {
				d.Supervisor.Stop()
			}
			err = multierr.Append(err, d.Coordinator.Close())
			err = multierr.Append(err, d.Manager.Unbind())
			if d.Mirror != nil {
				d.Mirror.Stop()
			}
			d.Health.Stop()
			d.Server.Stop(ctx)
			if d.DB != nil {
				err = multierr.Append(err, d.DB.Close())
			}
			err = multierr.Append(err, d.Lock.Release())
			if err != nil {
				d.Logger.Warn("daemon stopped with errors", zap.Error(err))
			} else {
				d.Logger.Info("daemon stopped")
			}
			return err
		},
	})
}
