package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/abdullathedruid/ptyhost/internal/hub"
	"github.com/abdullathedruid/ptyhost/internal/pty"
	"github.com/abdullathedruid/ptyhost/internal/trust"
	"github.com/abdullathedruid/ptyhost/internal/watcher"
)

// sessionBackend forwards validated process commands to the PTY manager
// and turns its callbacks into notifications.
type sessionBackend struct {
	app *App
}

func (b *sessionBackend) Spawn(ctx context.Context, cmd trust.Spawn) error {
	a := b.app
	return a.ptys.Spawn(ctx, pty.SpawnOptions{
		SessionID: cmd.SessionID,
		Cwd:       cmd.Cwd,
		Shell:     cmd.Shell,
		Cols:      cmd.Cols,
		Rows:      cmd.Rows,
		Login:     cmd.Login,
	}, pty.Callbacks{
		OnData: func(sessionID string, data []byte) {
			if a.waiting != nil {
				a.waiting.Observe(sessionID, data)
			}
			a.hub.Notify(hub.PTYData{Type: hub.TypePTYData, SessionID: sessionID, Data: data})
		},
		OnExit: func(sessionID string, exit pty.ExitInfo) {
			if a.waiting != nil {
				a.waiting.Forget(sessionID)
			}
			a.hub.Notify(hub.PTYExit{
				Type:      hub.TypePTYExit,
				SessionID: sessionID,
				ExitCode:  exit.Code,
				Signal:    exit.Signal,
			})
			if a.registry != nil {
				a.registry.ShellExited(sessionID, exit)
			}
		},
		OnCwdChanged: func(sessionID, cwd string) {
			a.hub.Notify(hub.PTYCwd{Type: hub.TypePTYCwd, SessionID: sessionID, Cwd: cwd})
		},
	})
}

func (b *sessionBackend) Write(sessionID string, data []byte) error {
	return b.app.ptys.Write(sessionID, data)
}

func (b *sessionBackend) Resize(sessionID string, cols, rows int) error {
	return b.app.ptys.Resize(sessionID, cols, rows)
}

// Kill silences the session, so its waiting state is dropped here rather
// than by an exit callback.
func (b *sessionBackend) Kill(sessionID string) error {
	err := b.app.ptys.Kill(sessionID)
	if b.app.waiting != nil {
		b.app.waiting.Forget(sessionID)
	}
	return err
}

func (b *sessionBackend) GetCwd(sessionID string) (string, bool) {
	return b.app.ptys.GetCwd(sessionID)
}

func (b *sessionBackend) GetForegroundProcess(ctx context.Context, sessionID string) (string, bool) {
	return b.app.ptys.GetForegroundProcess(ctx, sessionID)
}

// watchBackend forwards watch commands and reports changes and errors to
// every client, tagged with the session id.
type watchBackend struct {
	app *App
}

func (b *watchBackend) Watch(sessionID, directory string) (bool, error) {
	a := b.app
	return a.watches.Watch(sessionID, directory,
		func(sessionID string, change watcher.Change) {
			a.hub.Notify(hub.WatchChange{
				Type:      hub.TypeWatchChange,
				SessionID: sessionID,
				Kind:      string(change.Kind),
				Path:      change.Path,
			})
		},
		func(sessionID string, err error) {
			a.logger.Warn("watch closed", zap.String("session", sessionID), zap.Error(err))
			a.hub.Notify(hub.WatchError{Type: hub.TypeWatchError, SessionID: sessionID, Error: err.Error()})
		},
	)
}

func (b *watchBackend) Unwatch(sessionID string) {
	b.app.watches.Unwatch(sessionID)
}
