// Package waiting infers whether background terminal sessions are blocked
// on user input.
//
// The engine watches a copy of each session's output and periodically asks
// which program holds the terminal. A session is flagged when its output
// ends in a prompt and has gone quiet, or when an interactive program has
// produced nothing for several polls. The focused session is never polled
// and never flagged.
package waiting

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abdullathedruid/ptyhost/internal/logging"
)

const (
	DefaultPollInterval  = 1500 * time.Millisecond
	DefaultQuietWindow   = 1500 * time.Millisecond
	DefaultIdleThreshold = 4500 * time.Millisecond
	DefaultTailSize      = 2048

	// clearAfter is the number of consecutive negative polls that clear a
	// flag the session did not clear by becoming active.
	clearAfter = 2
)

// ForegroundFunc names the program in the foreground of a session.
type ForegroundFunc func(ctx context.Context, sessionID string) (string, bool)

// Gauge is the subset of a metrics gauge the engine updates.
type Gauge interface {
	Set(float64)
}

// Options configure an Engine. Zero durations select the defaults.
type Options struct {
	PollInterval        time.Duration
	QuietWindow         time.Duration
	IdleThreshold       time.Duration
	TailSize            int
	InteractivePrograms []string
	Foreground          ForegroundFunc
	Now                 func() time.Time
	Logger              *zap.Logger
	Waiting             Gauge
}

type sessionState struct {
	raw          []byte
	lastActivity time.Time
	foreground   string
	negatives    int
	waiting      bool
}

// Engine tracks waiting state for every background session.
type Engine struct {
	opts   Options
	logger *zap.Logger

	// notifyMu orders transition callbacks. It is taken before mu, and a
	// transition is re-checked against current state while it is held.
	notifyMu sync.Mutex

	mu       sync.Mutex
	active   string
	sessions map[string]*sessionState
	onChange func(sessionID string, waiting bool)
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.QuietWindow <= 0 {
		opts.QuietWindow = DefaultQuietWindow
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = DefaultIdleThreshold
	}
	if opts.TailSize <= 0 {
		opts.TailSize = DefaultTailSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Foreground == nil {
		opts.Foreground = func(context.Context, string) (string, bool) { return "", false }
	}
	return &Engine{
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).Named("waiting"),
		sessions: make(map[string]*sessionState),
	}
}

// OnChange registers the transition callback. It is called without the
// engine lock held and must not call back into the engine.
func (e *Engine) OnChange(fn func(sessionID string, waiting bool)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// Observe records a chunk of output. The chunk is copied; the caller's
// stream is untouched. Output of the active session is not tracked.
func (e *Engine) Observe(sessionID string, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if sessionID == e.active {
		return
	}

	st := e.stateLocked(sessionID)
	st.lastActivity = e.opts.Now()

	// Raw bytes are kept at twice the visible budget so escape sequences
	// split across chunks are stripped whole.
	limit := 2 * e.opts.TailSize
	st.raw = append(st.raw, chunk...)
	if len(st.raw) > limit {
		st.raw = append(st.raw[:0:0], st.raw[len(st.raw)-limit:]...)
	}
}

// SetActive marks sessionID as focused. Its flag is cleared and reported
// before SetActive returns, and it is excluded from polling. The session
// that loses focus becomes a poll target starting now. An empty id means
// no session is focused.
func (e *Engine) SetActive(sessionID string) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	prev := e.active
	e.active = sessionID

	cleared := false
	if st, ok := e.sessions[sessionID]; ok {
		cleared = st.waiting
		delete(e.sessions, sessionID)
	}
	if prev != "" && prev != sessionID {
		e.stateLocked(prev)
	}
	count := e.countLocked()
	notify := e.onChange
	e.mu.Unlock()

	e.setGauge(count)
	if cleared && notify != nil {
		notify(sessionID, false)
	}
}

// Forget drops all state for a session that has exited.
func (e *Engine) Forget(sessionID string) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	e.mu.Lock()
	st, ok := e.sessions[sessionID]
	delete(e.sessions, sessionID)
	if e.active == sessionID {
		e.active = ""
	}
	count := e.countLocked()
	notify := e.onChange
	e.mu.Unlock()

	e.setGauge(count)
	if ok && st.waiting && notify != nil {
		notify(sessionID, false)
	}
}

// Waiting reports the current flag for sessionID.
func (e *Engine) Waiting(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	return ok && st.waiting
}

// Tick polls every background session once and applies the detection
// policy. Foreground lookups run without the engine lock held.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)

	type transition struct {
		id      string
		st      *sessionState
		waiting bool
	}
	var changes []transition

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		name, ok := e.opts.Foreground(ctx, id)
		if !ok {
			name = ""
		}

		e.mu.Lock()
		st, tracked := e.sessions[id]
		if !tracked || id == e.active {
			e.mu.Unlock()
			continue
		}
		st.foreground = name
		if changed := e.evaluateLocked(st); changed {
			changes = append(changes, transition{id, st, st.waiting})
		}
		e.mu.Unlock()
	}

	if len(changes) == 0 {
		return
	}

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	for _, c := range changes {
		// A focus change or exit since the poll supersedes this transition.
		e.mu.Lock()
		current := e.sessions[c.id] == c.st && c.id != e.active && c.st.waiting == c.waiting
		notify := e.onChange
		e.mu.Unlock()
		if !current {
			continue
		}
		e.logger.Debug("waiting changed", zap.String("session", c.id), zap.Bool("waiting", c.waiting))
		if notify != nil {
			notify(c.id, c.waiting)
		}
	}

	e.mu.Lock()
	count := e.countLocked()
	e.mu.Unlock()
	e.setGauge(count)
}

// evaluateLocked applies one poll result and reports whether the flag
// changed.
func (e *Engine) evaluateLocked(st *sessionState) bool {
	quiet := e.opts.Now().Sub(st.lastActivity)

	positive := false
	if quiet >= e.opts.QuietWindow {
		text := visibleText(st.raw)
		if len(text) > e.opts.TailSize {
			text = text[len(text)-e.opts.TailSize:]
		}
		positive = matchesPrompt(text)
	}
	if !positive && quiet >= e.opts.IdleThreshold {
		positive = isInteractive(st.foreground, e.opts.InteractivePrograms)
	}

	if positive {
		st.negatives = 0
		if !st.waiting {
			st.waiting = true
			return true
		}
		return false
	}

	if !st.waiting {
		return false
	}
	st.negatives++
	if st.negatives >= clearAfter {
		st.waiting = false
		st.negatives = 0
		return true
	}
	return false
}

// Run ticks every poll interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

func (e *Engine) stateLocked(id string) *sessionState {
	st, ok := e.sessions[id]
	if !ok {
		st = &sessionState{lastActivity: e.opts.Now()}
		e.sessions[id] = st
	}
	return st
}

func (e *Engine) countLocked() int {
	n := 0
	for _, st := range e.sessions {
		if st.waiting {
			n++
		}
	}
	return n
}

func (e *Engine) setGauge(n int) {
	if e.opts.Waiting != nil {
		e.opts.Waiting.Set(float64(n))
	}
}
