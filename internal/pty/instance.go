package pty

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Instance wraps one shell running inside a PTY.
type Instance struct {
	sessionID string
	shell     string
	createdAt time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	mu  sync.Mutex
	cwd string

	// detached is set once the manager no longer owns the instance.
	// Callbacks are suppressed from then on.
	detached atomic.Bool
	exited   chan struct{}
	readDone chan struct{}
	stopOnce sync.Once
}

func newInstance(sessionID, shell, cwd string, cmd *exec.Cmd, ptmx *os.File) *Instance {
	return &Instance{
		sessionID: sessionID,
		shell:     shell,
		createdAt: time.Now(),
		cmd:       cmd,
		ptmx:      ptmx,
		cwd:       cwd,
		exited:    make(chan struct{}),
		readDone:  make(chan struct{}),
	}
}

// readPump delivers output until the PTY is closed. OSC 7 reports update
// the cached working directory after the chunk carrying them is delivered.
func (in *Instance) readPump(cb Callbacks) {
	defer close(in.readDone)

	var tracker cwdTracker
	buf := make([]byte, 32*1024)
	for {
		n, err := in.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if cb.OnData != nil && !in.detached.Load() {
				cb.OnData(in.sessionID, chunk)
			}
			for _, dir := range tracker.Feed(chunk) {
				if in.setCwd(dir) && cb.OnCwdChanged != nil && !in.detached.Load() {
					cb.OnCwdChanged(in.sessionID, dir)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// waitExit reaps the shell, waits for remaining output to drain and then
// reports the exit. drain bounds how long output from lingering background
// jobs may hold the report back.
func (in *Instance) waitExit(drain time.Duration, onExit func(ExitInfo)) {
	err := in.cmd.Wait()
	close(in.exited)

	select {
	case <-in.readDone:
	case <-time.After(drain):
	}
	in.ptmx.Close()
	<-in.readDone

	onExit(exitInfo(in.cmd.ProcessState, err))
}

func exitInfo(state *os.ProcessState, err error) ExitInfo {
	if state == nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return ExitInfo{Code: code}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitInfo{Code: -1, Signal: unix.SignalName(ws.Signal())}
	}
	return ExitInfo{Code: state.ExitCode()}
}

func (in *Instance) setCwd(dir string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cwd == dir {
		return false
	}
	in.cwd = dir
	return true
}

// Cwd returns the last reported working directory.
func (in *Instance) Cwd() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cwd
}

// PID returns the shell's process id.
func (in *Instance) PID() int {
	return in.cmd.Process.Pid
}

func (in *Instance) write(data []byte) error {
	_, err := in.ptmx.Write(data)
	return err
}

func (in *Instance) resize(cols, rows int) error {
	return creackpty.Setsize(in.ptmx, &creackpty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// foregroundGroup reads the terminal's foreground process group. It uses
// the raw connection so the master stays in non-blocking mode.
func (in *Instance) foregroundGroup() int {
	rc, err := in.ptmx.SyscallConn()
	if err != nil {
		return 0
	}
	pgrp := 0
	_ = rc.Control(func(fd uintptr) {
		if v, err := unix.IoctlGetInt(int(fd), unix.TIOCGPGRP); err == nil {
			pgrp = v
		}
	})
	return pgrp
}

// stop hangs up the session's process group and escalates to SIGKILL if
// the shell has not exited after grace. It is safe to call more than once.
func (in *Instance) stop(grace time.Duration) {
	in.stopOnce.Do(func() {
		pid := in.PID()
		fg := in.foregroundGroup()

		_ = unix.Kill(-pid, unix.SIGHUP)
		if fg > 0 && fg != pid {
			_ = unix.Kill(-fg, unix.SIGHUP)
		}

		go func() {
			select {
			case <-in.exited:
			case <-time.After(grace):
				_ = unix.Kill(-pid, unix.SIGKILL)
				if fg > 0 && fg != pid {
					_ = unix.Kill(-fg, unix.SIGKILL)
				}
			}
		}()
	})
}

func (in *Instance) info() Info {
	return Info{
		SessionID: in.sessionID,
		PID:       in.PID(),
		Shell:     in.shell,
		Cwd:       in.Cwd(),
		CreatedAt: in.createdAt,
	}
}
