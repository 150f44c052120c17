// Package watcher reports debounced filesystem changes below each
// session's working directory.
package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/abdullathedruid/ptyhost/internal/logging"
)

// DefaultDebounce is the quiet period before pending changes are flushed.
const DefaultDebounce = 300 * time.Millisecond

// ErrResourceExhausted is reported through onError when the kernel refuses
// more watches or descriptors. The session's watch has been closed.
var ErrResourceExhausted = errors.New("watch resources exhausted")

// ChangeKind classifies a filesystem change.
type ChangeKind string

const (
	Add       ChangeKind = "add"
	Modify    ChangeKind = "change"
	Unlink    ChangeKind = "unlink"
	AddDir    ChangeKind = "addDir"
	UnlinkDir ChangeKind = "unlinkDir"
)

// Change is one flushed event.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Path string     `json:"path"`
}

// Native is the OS notification source behind one watch.
type Native interface {
	Add(path string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyNative struct {
	*fsnotify.Watcher
}

func (n fsnotifyNative) Events() <-chan fsnotify.Event { return n.Watcher.Events }
func (n fsnotifyNative) Errors() <-chan error          { return n.Watcher.Errors }

// NewFSNotify is the production Native factory.
func NewFSNotify() (Native, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return fsnotifyNative{w}, nil
}

// Timer is a stoppable pending function call.
type Timer interface {
	Stop() bool
}

// Metrics receives watch counts and error classifications.
type Metrics interface {
	SetWatches(n int)
	WatchError(kind string)
}

// Options configure a Manager. Zero values select production defaults.
type Options struct {
	Debounce  time.Duration
	Ignore    []string
	Logger    *zap.Logger
	Metrics   Metrics
	NewNative func() (Native, error)
	AfterFunc func(d time.Duration, f func()) Timer
	IsWSL     func() bool
}

type watch struct {
	sessionID string
	dir       string
	native    Native
	onChange  func(sessionID string, change Change)
	onError   func(sessionID string, err error)

	// dirs is touched only during the initial walk and by the event loop.
	dirs map[string]struct{}

	// guarded by Manager.mu
	pending map[string]ChangeKind
	timer   Timer
	seq     uint64

	done      chan struct{}
	closeOnce sync.Once
	errOnce   sync.Once
}

// Manager owns at most one recursive watch per session.
type Manager struct {
	opts    Options
	logger  *zap.Logger
	ignorer *Ignorer

	mu      sync.Mutex
	watches map[string]*watch
}

// NewManager creates a Manager with no watches.
func NewManager(opts Options) *Manager {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.NewNative == nil {
		opts.NewNative = NewFSNotify
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.IsWSL == nil {
		opts.IsWSL = IsWSL
	}
	return &Manager{
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).Named("watcher"),
		ignorer: NewIgnorer(opts.Ignore),
		watches: make(map[string]*watch),
	}
}

// Watch starts watching dir recursively for sessionID. Watching the same
// directory again is a no-op; a different directory replaces the old
// watch, which is closed first. It returns false without creating a native
// watcher on WSL.
func (m *Manager) Watch(sessionID, dir string, onChange func(string, Change), onError func(string, error)) (bool, error) {
	if m.opts.IsWSL() {
		m.logger.Info("native watching disabled on WSL", zap.String("session", sessionID))
		return false, nil
	}
	dir = filepath.Clean(dir)

	m.mu.Lock()
	prev := m.watches[sessionID]
	if prev != nil && prev.dir == dir {
		m.mu.Unlock()
		return true, nil
	}
	if prev != nil {
		m.removeLocked(prev)
	}
	m.mu.Unlock()
	if prev != nil {
		prev.close()
		m.logger.Debug("replaced watch", zap.String("session", sessionID), zap.String("old", prev.dir), zap.String("new", dir))
	}

	info, err := os.Stat(dir)
	if err != nil {
		return false, fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("watch %s: not a directory", dir)
	}

	native, err := m.opts.NewNative()
	if err != nil {
		return false, m.classify(fmt.Errorf("create watcher: %w", err))
	}

	w := &watch{
		sessionID: sessionID,
		dir:       dir,
		native:    native,
		onChange:  onChange,
		onError:   onError,
		dirs:      make(map[string]struct{}),
		pending:   make(map[string]ChangeKind),
		done:      make(chan struct{}),
	}
	if _, err := m.addTree(w, dir); err != nil {
		w.close()
		return false, m.classify(err)
	}

	m.mu.Lock()
	if raced := m.watches[sessionID]; raced != nil {
		m.removeLocked(raced)
		defer raced.close()
	}
	m.watches[sessionID] = w
	count := len(m.watches)
	m.mu.Unlock()
	m.setWatches(count)

	go m.loop(w)

	m.logger.Info("watching", zap.String("session", sessionID), zap.String("dir", dir), zap.Int("dirs", len(w.dirs)))
	return true, nil
}

// Unwatch closes the session's watch and discards unflushed changes.
func (m *Manager) Unwatch(sessionID string) {
	m.mu.Lock()
	w := m.watches[sessionID]
	if w != nil {
		m.removeLocked(w)
	}
	count := len(m.watches)
	m.mu.Unlock()

	if w != nil {
		w.close()
		m.setWatches(count)
		m.logger.Debug("unwatched", zap.String("session", sessionID))
	}
}

// UnwatchAll closes every watch.
func (m *Manager) UnwatchAll() {
	m.mu.Lock()
	all := make([]*watch, 0, len(m.watches))
	for _, w := range m.watches {
		m.removeLocked(w)
		all = append(all, w)
	}
	m.mu.Unlock()

	for _, w := range all {
		w.close()
	}
	m.setWatches(0)
}

// Watching returns the directory watched for sessionID.
func (m *Manager) Watching(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.watches[sessionID]; w != nil {
		return w.dir, true
	}
	return "", false
}

// removeLocked detaches w and cancels its timer. m.mu must be held.
func (m *Manager) removeLocked(w *watch) {
	if m.watches[w.sessionID] == w {
		delete(m.watches, w.sessionID)
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = nil
	w.seq++
}

func (w *watch) close() {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.native.Close()
	})
}

func (m *Manager) loop(w *watch) {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.native.Events():
			if !ok {
				return
			}
			m.handleEvent(w, ev)
		case err, ok := <-w.native.Errors():
			if !ok {
				return
			}
			m.handleError(w, err)
		}
	}
}

func (m *Manager) handleEvent(w *watch, ev fsnotify.Event) {
	path := ev.Name
	if path == "" || m.ignorer.Ignored(w.dir, path) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			return
		}
		if !info.IsDir() {
			m.record(w, Change{Kind: Add, Path: path})
			return
		}
		// Entries created before the new directory was watched are
		// reported as additions.
		found, err := m.addTree(w, path)
		if err != nil {
			m.handleError(w, err)
			return
		}
		m.record(w, found...)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind := Unlink
		if _, ok := w.dirs[path]; ok {
			kind = UnlinkDir
			prefix := path + string(filepath.Separator)
			for d := range w.dirs {
				if d == path || strings.HasPrefix(d, prefix) {
					delete(w.dirs, d)
				}
			}
		}
		m.record(w, Change{Kind: kind, Path: path})
	case ev.Has(fsnotify.Write):
		m.record(w, Change{Kind: Modify, Path: path})
	}
}

// addTree watches root and every non-ignored directory below it. The
// returned changes describe what was found, root first.
func (m *Manager) addTree(w *watch, root string) ([]Change, error) {
	var (
		mu    sync.Mutex
		found []Change
		dirs  []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path != root && m.ignorer.Ignored(w.dir, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			mu.Lock()
			found = append(found, Change{Kind: Add, Path: path})
			mu.Unlock()
			return nil
		}
		if err := w.native.Add(path); err != nil {
			if isExhausted(err) {
				return err
			}
			m.logger.Debug("skip directory", zap.String("dir", path), zap.Error(err))
			return nil
		}
		mu.Lock()
		dirs = append(dirs, path)
		found = append(found, Change{Kind: AddDir, Path: path})
		mu.Unlock()
		return nil
	})

	for _, d := range dirs {
		w.dirs[d] = struct{}{}
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, nil
}

// record merges changes into the pending set and restarts the quiet
// period. Later kinds replace earlier ones for the same path.
func (m *Manager) record(w *watch, changes ...Change) {
	if len(changes) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watches[w.sessionID] != w {
		return
	}
	for _, c := range changes {
		w.pending[c.Path] = c.Kind
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.seq++
	seq := w.seq
	w.timer = m.opts.AfterFunc(m.opts.Debounce, func() { m.flush(w, seq) })
}

// flush delivers the pending set if w is still current and no event has
// arrived since the timer for seq was armed.
func (m *Manager) flush(w *watch, seq uint64) {
	m.mu.Lock()
	if m.watches[w.sessionID] != w || w.seq != seq || len(w.pending) == 0 {
		m.mu.Unlock()
		return
	}
	pending := w.pending
	w.pending = make(map[string]ChangeKind)
	w.timer = nil
	m.mu.Unlock()

	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if w.onChange == nil {
		return
	}
	for _, p := range paths {
		w.onChange(w.sessionID, Change{Kind: pending[p], Path: p})
	}
}

// handleError closes the watch on exhaustion and reports it once. Any other
// error is only logged.
func (m *Manager) handleError(w *watch, err error) {
	if !isExhausted(err) {
		m.logger.Warn("watch error", zap.String("session", w.sessionID), zap.Error(err))
		m.countError("other")
		return
	}

	m.mu.Lock()
	if m.watches[w.sessionID] != w {
		m.mu.Unlock()
		return
	}
	m.removeLocked(w)
	count := len(m.watches)
	m.mu.Unlock()
	w.close()
	m.setWatches(count)

	w.errOnce.Do(func() {
		m.logger.Warn("watch closed: resources exhausted", zap.String("session", w.sessionID), zap.Error(err))
		m.countError("exhausted")
		if w.onError != nil {
			w.onError(w.sessionID, fmt.Errorf("%w: %w", ErrResourceExhausted, err))
		}
	})
}

func (m *Manager) classify(err error) error {
	if isExhausted(err) {
		m.countError("exhausted")
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}
	return err
}

func isExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) || errors.Is(err, unix.ENOSPC)
}

func (m *Manager) setWatches(n int) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.SetWatches(n)
	}
}

func (m *Manager) countError(kind string) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.WatchError(kind)
	}
}
