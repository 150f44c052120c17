// Package app wires the host together: it builds every manager from the
// configuration, serves the UI websocket and metrics, and tears everything
// down on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdullathedruid/ptyhost/internal/config"
	"github.com/abdullathedruid/ptyhost/internal/files"
	"github.com/abdullathedruid/ptyhost/internal/hub"
	"github.com/abdullathedruid/ptyhost/internal/logging"
	"github.com/abdullathedruid/ptyhost/internal/metrics"
	"github.com/abdullathedruid/ptyhost/internal/process"
	"github.com/abdullathedruid/ptyhost/internal/pty"
	"github.com/abdullathedruid/ptyhost/internal/trust"
	"github.com/abdullathedruid/ptyhost/internal/waiting"
	"github.com/abdullathedruid/ptyhost/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

// SessionRegistry owns the logical sessions the UI shows. The host does not
// keep one; it only tells the registry when a session's shell is gone so the
// registry can decide whether to close its watch.
type SessionRegistry interface {
	ShellExited(sessionID string, exit pty.ExitInfo)
}

// Option customizes an App.
type Option func(*App)

// WithRegistry attaches the registry notified of shell exits.
func WithRegistry(r SessionRegistry) Option {
	return func(a *App) { a.registry = r }
}

// WithIntegrationDir overrides the shell integration scratch directory.
func WithIntegrationDir(dir string) Option {
	return func(a *App) { a.integrationDir = dir }
}

// App is the running host.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	registry SessionRegistry
	token    string

	integrationDir string

	ptys    *pty.Manager
	watches *watcher.Manager
	waiting *waiting.Engine
	gateway *trust.Gateway
	hub     *hub.Hub
	mux     *http.ServeMux

	stopWaiting  context.CancelFunc
	waitingDone  chan struct{}
	shutdownOnce sync.Once
}

// New builds every component from cfg. Nothing is started until Serve or Run.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		metrics: metrics.New(),
		token:   cfg.Token,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.token == "" {
		a.token = uuid.NewString()
		a.logger.Info("generated connection token", zap.String("token", a.token))
	}

	a.ptys = pty.NewManager(pty.Options{
		DefaultShell: cfg.DefaultShell,
		Integration:  pty.NewShellIntegration(a.integrationDir),
		Inspector:    process.NewInspector(nil),
		Logger:       a.logger,
		Sessions:     a.metrics.PTYSessions,
	})

	a.watches = watcher.NewManager(watcher.Options{
		Debounce: cfg.Watch.Debounce,
		Ignore:   cfg.Watch.Ignore,
		Logger:   a.logger,
		Metrics:  a.metrics,
	})

	backends := trust.Backends{
		Sessions: &sessionBackend{app: a},
		Watches:  &watchBackend{app: a},
		Files:    files.NewReader(),
	}

	if cfg.Waiting.Enabled {
		a.waiting = waiting.New(waiting.Options{
			PollInterval:        cfg.Waiting.PollInterval,
			QuietWindow:         cfg.Waiting.QuietWindow,
			IdleThreshold:       cfg.Waiting.IdleThreshold,
			InteractivePrograms: cfg.Waiting.InteractivePrograms,
			Foreground:          a.ptys.GetForegroundProcess,
			Logger:              a.logger,
			Waiting:             a.metrics.WaitingSessions,
		})
		a.waiting.OnChange(func(sessionID string, isWaiting bool) {
			a.hub.Notify(hub.SessionWaiting{Type: hub.TypeSessionWaiting, SessionID: sessionID, Waiting: isWaiting})
		})
		backends.Focus = a.waiting
	}

	policy := trust.Policy{
		Mode:      cfg.Trust.Mode,
		EntryURL:  cfg.Trust.EntryURL,
		DevOrigin: cfg.Trust.DevOrigin,
	}
	a.gateway = trust.NewGateway(policy, backends, a.metrics, a.logger.Named("trust"))

	a.hub = hub.New(a.gateway, hub.Options{
		Token:              a.token,
		Policy:             policy,
		AllowMissingOrigin: cfg.Trust.AllowMissingOrigin,
		RequestsPerSecond:  cfg.RateLimit.RequestsPerSecond,
		Burst:              cfg.RateLimit.Burst,
		Logger:             a.logger,
		Metrics:            a.metrics,
	})

	a.mux = http.NewServeMux()
	a.mux.Handle("/ws", a.hub)
	a.mux.Handle("/metrics", a.metrics.Handler())
	a.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return a, nil
}

// Token returns the token UI clients must present.
func (a *App) Token() string { return a.token }

// Handler returns the HTTP handler serving /ws, /metrics and /healthz.
func (a *App) Handler() http.Handler { return a.mux }

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Listen, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.startWaiting()

	srv := &http.Server{
		Handler:           a.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	a.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	a.Shutdown()

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func (a *App) startWaiting() {
	if a.waiting == nil || a.stopWaiting != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.stopWaiting = cancel
	a.waitingDone = make(chan struct{})
	go func() {
		defer close(a.waitingDone)
		a.waiting.Run(ctx)
	}()
}

// Shutdown disconnects clients, kills every shell, closes every watch and
// stops the waiting engine. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.hub.Close()
		a.ptys.KillAll()
		a.watches.UnwatchAll()
		if a.stopWaiting != nil {
			a.stopWaiting()
			<-a.waitingDone
		}
		a.logger.Info("shutdown complete")
	})
}
