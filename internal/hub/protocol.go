package hub

import (
	"encoding/json"

	"github.com/abdullathedruid/ptyhost/internal/trust"
)

// Request is a command sent by the UI.
type Request struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Sender *trust.Sender   `json:"sender"`
	Params json.RawMessage `json:"params"`
}

// Response answers exactly one Request.
type Response struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Notification types pushed to every client.
const (
	TypeResult         = "result"
	TypePTYData        = "pty.data"
	TypePTYExit        = "pty.exit"
	TypePTYCwd         = "pty.cwd"
	TypeWatchChange    = "watch.change"
	TypeWatchError     = "watch.error"
	TypeSessionWaiting = "session.waiting"
)

// PTYData carries raw terminal output, base64 encoded on the wire so
// multi-byte characters split across chunks survive intact.
type PTYData struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      []byte `json:"data"`
}

// PTYExit reports that a session's shell ended.
type PTYExit struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
	Signal    string `json:"signal,omitempty"`
}

// PTYCwd reports a new working directory.
type PTYCwd struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
}

// WatchChange reports one debounced filesystem change.
type WatchChange struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Path      string `json:"path"`
}

// WatchError reports that a session's watch was closed.
type WatchError struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// SessionWaiting reports a waiting-state transition.
type SessionWaiting struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Waiting   bool   `json:"waiting"`
}
