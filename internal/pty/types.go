// Package pty owns the pseudo-terminal processes behind terminal sessions.
//
// One Manager holds at most one live Instance per session id. Output, exit
// and working-directory changes are reported through per-spawn Callbacks,
// always from the session's single reader goroutine so they arrive in
// stream order.
package pty

import "time"

// Callbacks receive a session's asynchronous events. Any field may be nil.
type Callbacks struct {
	OnData       func(sessionID string, data []byte)
	OnExit       func(sessionID string, exit ExitInfo)
	OnCwdChanged func(sessionID, cwd string)
}

// ExitInfo describes how a session's shell ended.
type ExitInfo struct {
	Code   int    `json:"exit_code"`
	Signal string `json:"signal,omitempty"`
}

// SpawnOptions describe the shell to start for a session.
type SpawnOptions struct {
	SessionID string
	Cwd       string
	Shell     string // empty selects the platform default
	Cols      int
	Rows      int
	Login     bool
}

// Info is a point-in-time view of a live instance.
type Info struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	Shell     string    `json:"shell"`
	Cwd       string    `json:"cwd"`
	CreatedAt time.Time `json:"created_at"`
}
