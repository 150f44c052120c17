package pty

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	creackpty "github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/abdullathedruid/ptyhost/internal/logging"
	"github.com/abdullathedruid/ptyhost/internal/process"
)

const (
	defaultKillGrace = 2 * time.Second
	defaultDrain     = 500 * time.Millisecond
)

// Gauge is the subset of a metrics gauge the manager updates.
type Gauge interface {
	Set(float64)
}

// Options configure a Manager. Zero values select defaults.
type Options struct {
	DefaultShell string
	Integration  *ShellIntegration // nil disables cwd reporting hooks
	Inspector    *process.Inspector
	Logger       *zap.Logger
	Sessions     Gauge
	KillGrace    time.Duration
	Drain        time.Duration
	Env          []string // extra environment for every shell
}

// Manager tracks the live PTY instance of every session.
type Manager struct {
	opts      Options
	logger    *zap.Logger
	inspector *process.Inspector

	mu        sync.Mutex
	instances map[string]*Instance
}

// NewManager creates an empty Manager.
func NewManager(opts Options) *Manager {
	if opts.DefaultShell == "" {
		opts.DefaultShell = DefaultShell()
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	if opts.Drain <= 0 {
		opts.Drain = defaultDrain
	}
	inspector := opts.Inspector
	if inspector == nil {
		inspector = process.NewInspector(nil)
	}
	return &Manager{
		opts:      opts,
		logger:    logging.OrNop(opts.Logger).Named("pty"),
		inspector: inspector,
		instances: make(map[string]*Instance),
	}
}

// DefaultShell returns $SHELL, else the first of bash and sh that exists.
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	for _, candidate := range []string{"/bin/bash", "/bin/sh"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "/bin/sh"
}

// Spawn starts a shell for opts.SessionID. A live instance under the same
// id is torn down first and its callbacks are silenced. Start failures are
// returned as is.
func (m *Manager) Spawn(ctx context.Context, opts SpawnOptions, cb Callbacks) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if prev := m.detach(opts.SessionID); prev != nil {
		m.logger.Info("replacing live session", zap.String("session", opts.SessionID), zap.Int("pid", prev.PID()))
		prev.stop(m.opts.KillGrace)
	}

	shell := opts.Shell
	if shell == "" {
		shell = m.opts.DefaultShell
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd, _ = os.UserHomeDir()
	}

	argv := plainCommand(shell, opts.Login)
	var hookEnv []string
	if m.opts.Integration != nil {
		if err := m.opts.Integration.Prepare(); err != nil {
			m.logger.Warn("shell integration unavailable", zap.Error(err))
		} else {
			argv, hookEnv = m.opts.Integration.Command(shell, opts.Login)
		}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"PTYHOST_SESSION="+opts.SessionID,
		"PWD="+cwd,
	)
	cmd.Env = append(cmd.Env, m.opts.Env...)
	cmd.Env = append(cmd.Env, hookEnv...)

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Cols: uint16(opts.Cols),
		Rows: uint16(opts.Rows),
	})
	if err != nil {
		return fmt.Errorf("spawn %s: %w", shell, err)
	}

	inst := newInstance(opts.SessionID, shell, cwd, cmd, ptmx)

	m.mu.Lock()
	if raced := m.instances[opts.SessionID]; raced != nil {
		raced.detached.Store(true)
		defer raced.stop(m.opts.KillGrace)
	}
	m.instances[opts.SessionID] = inst
	count := len(m.instances)
	m.mu.Unlock()
	m.setGauge(count)

	m.logger.Info("spawned session",
		zap.String("session", opts.SessionID),
		zap.String("shell", shell),
		zap.String("cwd", cwd),
		zap.Int("pid", inst.PID()))

	go inst.readPump(cb)
	go inst.waitExit(m.opts.Drain, func(exit ExitInfo) {
		m.handleExit(inst, cb, exit)
	})
	return nil
}

func (m *Manager) handleExit(inst *Instance, cb Callbacks, exit ExitInfo) {
	m.mu.Lock()
	if m.instances[inst.sessionID] == inst {
		delete(m.instances, inst.sessionID)
	}
	count := len(m.instances)
	m.mu.Unlock()
	m.setGauge(count)

	m.logger.Info("session exited",
		zap.String("session", inst.sessionID),
		zap.Int("code", exit.Code),
		zap.String("signal", exit.Signal))

	if cb.OnExit != nil && !inst.detached.Load() {
		cb.OnExit(inst.sessionID, exit)
	}
}

// detach removes and silences the instance for id, if any.
func (m *Manager) detach(id string) *Instance {
	m.mu.Lock()
	inst := m.instances[id]
	if inst != nil {
		delete(m.instances, id)
		inst.detached.Store(true)
	}
	count := len(m.instances)
	m.mu.Unlock()
	if inst != nil {
		m.setGauge(count)
	}
	return inst
}

func (m *Manager) get(id string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[id]
}

// Write forwards data to the session's terminal. Unknown ids are ignored.
func (m *Manager) Write(sessionID string, data []byte) error {
	inst := m.get(sessionID)
	if inst == nil {
		return nil
	}
	if err := inst.write(data); err != nil {
		return fmt.Errorf("write %s: %w", sessionID, err)
	}
	return nil
}

// Resize sets the terminal size. Unknown ids are ignored.
func (m *Manager) Resize(sessionID string, cols, rows int) error {
	inst := m.get(sessionID)
	if inst == nil {
		return nil
	}
	if err := inst.resize(cols, rows); err != nil {
		return fmt.Errorf("resize %s: %w", sessionID, err)
	}
	return nil
}

// Kill terminates the session and forgets it. Killing an unknown or
// already killed session does nothing.
func (m *Manager) Kill(sessionID string) error {
	inst := m.detach(sessionID)
	if inst == nil {
		return nil
	}
	m.logger.Info("killing session", zap.String("session", sessionID), zap.Int("pid", inst.PID()))
	inst.stop(m.opts.KillGrace)
	return nil
}

// KillAll terminates every session.
func (m *Manager) KillAll() {
	m.mu.Lock()
	all := make([]*Instance, 0, len(m.instances))
	for id, inst := range m.instances {
		inst.detached.Store(true)
		all = append(all, inst)
		delete(m.instances, id)
	}
	m.mu.Unlock()
	m.setGauge(0)

	for _, inst := range all {
		inst.stop(m.opts.KillGrace)
	}
}

// GetCwd returns the session's last known working directory.
func (m *Manager) GetCwd(sessionID string) (string, bool) {
	inst := m.get(sessionID)
	if inst == nil {
		return "", false
	}
	return inst.Cwd(), true
}

// GetForegroundProcess names the program in the foreground of the
// session's terminal. It returns false when only the shell is running,
// the session is unknown, or the lookup fails.
func (m *Manager) GetForegroundProcess(ctx context.Context, sessionID string) (string, bool) {
	inst := m.get(sessionID)
	if inst == nil {
		return "", false
	}
	return m.inspector.Foreground(ctx, inst.PID(), inst.foregroundGroup())
}

// List returns the live instances ordered by session id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.instances))
	for _, inst := range m.instances {
		infos = append(infos, inst.info())
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

func (m *Manager) setGauge(n int) {
	if m.opts.Sessions != nil {
		m.opts.Sessions.Set(float64(n))
	}
}
