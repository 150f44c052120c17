package trust

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Sessions is the process-control surface behind the gateway.
type Sessions interface {
	Spawn(ctx context.Context, cmd Spawn) error
	Write(sessionID string, data []byte) error
	Resize(sessionID string, cols, rows int) error
	Kill(sessionID string) error
	GetCwd(sessionID string) (string, bool)
	GetForegroundProcess(ctx context.Context, sessionID string) (string, bool)
}

// Watches is the file-watch surface behind the gateway.
type Watches interface {
	Watch(sessionID, directory string) (bool, error)
	Unwatch(sessionID string)
}

// Files reads files on behalf of the UI.
type Files interface {
	ReadFile(path string) (FileContent, error)
}

// FocusTarget receives the user's active session.
type FocusTarget interface {
	SetActive(sessionID string)
}

// FileContent is the result of fs.readFile.
type FileContent struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Recorder observes gateway outcomes. Outcome is "ok", "unauthorized",
// "invalid" or "error".
type Recorder interface {
	ObserveRequest(command, outcome string)
}

// Backends bundles the components a gateway forwards to.
type Backends struct {
	Sessions Sessions
	Watches  Watches
	Files    Files
	Focus    FocusTarget
}

// Gateway is the single validated entry point for UI commands.
type Gateway struct {
	policy   Policy
	backends Backends
	recorder Recorder
	logger   *zap.Logger
}

// NewGateway creates a gateway enforcing policy in front of backends.
// recorder and logger may be nil.
func NewGateway(policy Policy, backends Backends, recorder Recorder, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		policy:   policy,
		backends: backends,
		recorder: recorder,
		logger:   logger,
	}
}

// Results returned by Dispatch, encoded as the response payload.
type (
	CwdResult struct {
		Cwd *string `json:"cwd"`
	}
	ForegroundResult struct {
		Name *string `json:"name"`
	}
	WatchResult struct {
		Watching bool `json:"watching"`
	}
)

// Dispatch authenticates sender, validates params for the named command,
// and only then forwards it. A rejected request never reaches a backend.
func (g *Gateway) Dispatch(ctx context.Context, sender *Sender, name string, params json.RawMessage) (any, error) {
	if !IsTrustedSender(sender, g.policy) {
		g.observe(name, "unauthorized")
		err := unauthorized()
		g.logger.Warn("rejected request from untrusted sender",
			zap.String("command", name),
			zap.String("sender", senderURL(sender)),
			zap.String("stack", Stack(err)))
		return nil, err
	}

	cmd, err := Decode(name, params)
	if err != nil {
		g.observe(name, "invalid")
		g.logger.Warn("rejected request with invalid parameters",
			zap.String("command", name),
			zap.Error(err),
			zap.String("stack", Stack(err)))
		return nil, err
	}

	result, err := g.execute(ctx, cmd)
	if err != nil {
		g.observe(cmd.Name(), "error")
		g.logger.Debug("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return nil, err
	}
	g.observe(cmd.Name(), "ok")
	return result, nil
}

func (g *Gateway) execute(ctx context.Context, cmd Command) (any, error) {
	b := g.backends
	switch c := cmd.(type) {
	case Spawn:
		return nil, b.Sessions.Spawn(ctx, c)
	case Write:
		return nil, b.Sessions.Write(c.SessionID, []byte(c.Data))
	case Resize:
		return nil, b.Sessions.Resize(c.SessionID, c.Cols, c.Rows)
	case Kill:
		return nil, b.Sessions.Kill(c.SessionID)
	case GetCwd:
		cwd, ok := b.Sessions.GetCwd(c.SessionID)
		return CwdResult{Cwd: optional(cwd, ok)}, nil
	case GetForegroundProcess:
		name, ok := b.Sessions.GetForegroundProcess(ctx, c.SessionID)
		return ForegroundResult{Name: optional(name, ok)}, nil
	case WatchStart:
		watching, err := b.Watches.Watch(c.SessionID, c.Directory)
		if err != nil {
			return nil, err
		}
		return WatchResult{Watching: watching}, nil
	case WatchStop:
		b.Watches.Unwatch(c.SessionID)
		return nil, nil
	case ReadFile:
		if b.Files == nil {
			return nil, fmt.Errorf("%s: not available", c.Name())
		}
		content, err := b.Files.ReadFile(c.Path)
		if err != nil {
			return nil, err
		}
		return content, nil
	case Focus:
		if b.Focus != nil {
			b.Focus.SetActive(c.SessionID)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unhandled command %s", cmd.Name())
}

func (g *Gateway) observe(command, outcome string) {
	if g.recorder == nil {
		return
	}
	if _, known := decoders[command]; !known {
		command = "unknown"
	}
	g.recorder.ObserveRequest(command, outcome)
}

func optional(s string, ok bool) *string {
	if !ok {
		return nil
	}
	return &s
}

func senderURL(s *Sender) string {
	if s == nil {
		return "<none>"
	}
	return s.URL
}
