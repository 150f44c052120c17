package trust

import (
	"encoding/json"
)

// Command names as they appear on the wire.
const (
	CmdSpawn                = "pty.spawn"
	CmdWrite                = "pty.write"
	CmdResize               = "pty.resize"
	CmdKill                 = "pty.kill"
	CmdGetCwd               = "pty.getCwd"
	CmdGetForegroundProcess = "pty.getForegroundProcess"
	CmdWatchStart           = "watch.start"
	CmdWatchStop            = "watch.stop"
	CmdReadFile             = "fs.readFile"
	CmdFocus                = "session.focus"
)

// Default terminal size used when a spawn request omits it.
const (
	DefaultCols = 80
	DefaultRows = 24
)

// Command is one validated privileged request. The set of implementations
// is closed: only this package can produce them, and only through Decode.
type Command interface {
	Name() string
	command()
}

// Spawn starts a shell for a session.
type Spawn struct {
	SessionID string
	Cwd       string
	Shell     string // empty selects the configured default
	Cols      int
	Rows      int
	Login     bool
}

// Write sends input to a session's terminal.
type Write struct {
	SessionID string
	Data      string
}

// Resize changes a session's terminal size.
type Resize struct {
	SessionID string
	Cols      int
	Rows      int
}

// Kill terminates a session's shell.
type Kill struct {
	SessionID string
}

// GetCwd asks for a session's last reported working directory.
type GetCwd struct {
	SessionID string
}

// GetForegroundProcess asks which program owns a session's terminal.
type GetForegroundProcess struct {
	SessionID string
}

// WatchStart watches a directory on behalf of a session.
type WatchStart struct {
	SessionID string
	Directory string
}

// WatchStop stops a session's watch.
type WatchStop struct {
	SessionID string
}

// ReadFile reads a file for display.
type ReadFile struct {
	Path string
}

// Focus marks the session the user is looking at. Empty means none.
type Focus struct {
	SessionID string
}

func (Spawn) Name() string                { return CmdSpawn }
func (Write) Name() string                { return CmdWrite }
func (Resize) Name() string               { return CmdResize }
func (Kill) Name() string                 { return CmdKill }
func (GetCwd) Name() string               { return CmdGetCwd }
func (GetForegroundProcess) Name() string { return CmdGetForegroundProcess }
func (WatchStart) Name() string           { return CmdWatchStart }
func (WatchStop) Name() string            { return CmdWatchStop }
func (ReadFile) Name() string             { return CmdReadFile }
func (Focus) Name() string                { return CmdFocus }

func (Spawn) command()                {}
func (Write) command()                {}
func (Resize) command()               {}
func (Kill) command()                 {}
func (GetCwd) command()               {}
func (GetForegroundProcess) command() {}
func (WatchStart) command()           {}
func (WatchStop) command()            {}
func (ReadFile) command()             {}
func (Focus) command()                {}

type decoder func(f fields) (Command, error)

var decoders = map[string]decoder{
	CmdSpawn: func(f fields) (Command, error) {
		var c Spawn
		var err error
		if c.SessionID, err = f.sessionID("session_id"); err != nil {
			return nil, err
		}
		if c.Cwd, err = f.path("cwd"); err != nil {
			return nil, err
		}
		if c.Shell, err = f.str("shell", false, MaxShellLen); err != nil {
			return nil, err
		}
		if c.Cols, err = f.optionalIntRange("cols", MinDimension, MaxDimension, DefaultCols); err != nil {
			return nil, err
		}
		if c.Rows, err = f.optionalIntRange("rows", MinDimension, MaxDimension, DefaultRows); err != nil {
			return nil, err
		}
		if c.Login, err = f.boolean("login", false); err != nil {
			return nil, err
		}
		return c, nil
	},
	CmdWrite: func(f fields) (Command, error) {
		var c Write
		var err error
		if c.SessionID, err = f.sessionID("session_id"); err != nil {
			return nil, err
		}
		if c.Data, err = f.data("data", MaxWriteLen); err != nil {
			return nil, err
		}
		return c, nil
	},
	CmdResize: func(f fields) (Command, error) {
		var c Resize
		var err error
		if c.SessionID, err = f.sessionID("session_id"); err != nil {
			return nil, err
		}
		if c.Cols, err = f.intRange("cols", MinDimension, MaxDimension); err != nil {
			return nil, err
		}
		if c.Rows, err = f.intRange("rows", MinDimension, MaxDimension); err != nil {
			return nil, err
		}
		return c, nil
	},
	CmdKill: func(f fields) (Command, error) {
		id, err := f.sessionID("session_id")
		return Kill{SessionID: id}, err
	},
	CmdGetCwd: func(f fields) (Command, error) {
		id, err := f.sessionID("session_id")
		return GetCwd{SessionID: id}, err
	},
	CmdGetForegroundProcess: func(f fields) (Command, error) {
		id, err := f.sessionID("session_id")
		return GetForegroundProcess{SessionID: id}, err
	},
	CmdWatchStart: func(f fields) (Command, error) {
		var c WatchStart
		var err error
		if c.SessionID, err = f.sessionID("session_id"); err != nil {
			return nil, err
		}
		if c.Directory, err = f.path("directory"); err != nil {
			return nil, err
		}
		return c, nil
	},
	CmdWatchStop: func(f fields) (Command, error) {
		id, err := f.sessionID("session_id")
		return WatchStop{SessionID: id}, err
	},
	CmdReadFile: func(f fields) (Command, error) {
		p, err := f.path("path")
		return ReadFile{Path: p}, err
	},
	CmdFocus: func(f fields) (Command, error) {
		id, err := f.optionalSessionID("session_id")
		return Focus{SessionID: id}, err
	},
}

// Decode validates params against the schema of the named command and
// returns the typed command. Unknown names, unknown fields and every schema
// violation yield an ErrInvalidParameter error.
func Decode(name string, params json.RawMessage) (Command, error) {
	dec, ok := decoders[name]
	if !ok {
		return nil, invalid("type", "unknown command")
	}
	f, err := parseFields(params)
	if err != nil {
		return nil, err
	}
	cmd, err := dec(f)
	if err != nil {
		return nil, err
	}
	if err := f.done(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Names lists every command the gateway accepts.
func Names() []string {
	return []string{
		CmdSpawn, CmdWrite, CmdResize, CmdKill, CmdGetCwd,
		CmdGetForegroundProcess, CmdWatchStart, CmdWatchStop,
		CmdReadFile, CmdFocus,
	}
}
