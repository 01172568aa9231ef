// Package watcher observes a session's plan and task files on disk.
// Agents communicate progress by editing these files; the watcher
// turns debounced filesystem events into callbacks.
package watcher

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rdfitted/hive-manager/internal/logging"
)

const defaultDebounce = 500 * time.Millisecond

// Options configures a SessionWatcher. OnTask fires for markdown
// files under the tasks directory, OnPlan for the plan file. Both run
// on timer goroutines and must not block.
type Options struct {
	SessionID string
	TasksDir  string
	PlanPath  string
	Debounce  time.Duration
	Logger    *logging.Logger
	OnTask    func(path string)
	OnPlan    func(path string)
}

// SessionWatcher debounces rapid rewrites of the same file so a
// half-written task file is not parsed mid-save.
type SessionWatcher struct {
	fsw      *fsnotify.Watcher
	opts     Options
	debounce time.Duration
	logger   *logging.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// New starts watching the session's tasks directory and the directory
// holding its plan file.
func New(opts Options) (*SessionWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.LevelInfo)
	}
	w := &SessionWatcher{
		fsw:      fsw,
		opts:     opts,
		debounce: debounce,
		logger:   logger.With(map[string]string{"session": opts.SessionID, "component": "watcher"}),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}

	if opts.TasksDir != "" {
		if err := fsw.Add(opts.TasksDir); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	if opts.PlanPath != "" {
		// Watch the parent so a plan file created later is still seen.
		if err := fsw.Add(filepath.Dir(opts.PlanPath)); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	go w.run()
	return w, nil
}

func (w *SessionWatcher) run() {
	for {
		select {
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(evt)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", map[string]string{"error": err.Error()})
		case <-w.done:
			return
		}
	}
}

func (w *SessionWatcher) handle(evt fsnotify.Event) {
	if !evt.Op.Has(fsnotify.Write) && !evt.Op.Has(fsnotify.Create) {
		return
	}
	path := filepath.Clean(evt.Name)
	isPlan := w.opts.PlanPath != "" && path == filepath.Clean(w.opts.PlanPath)
	isTask := !isPlan && w.opts.TasksDir != "" &&
		filepath.Dir(path) == filepath.Clean(w.opts.TasksDir) &&
		strings.HasSuffix(path, ".md")
	if !isPlan && !isTask {
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		w.mu.Unlock()
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.flush(path, isPlan)
	})
	w.mu.Unlock()
}

func (w *SessionWatcher) flush(path string, isPlan bool) {
	w.mu.Lock()
	delete(w.timers, path)
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}
	if isPlan {
		if w.opts.OnPlan != nil {
			w.opts.OnPlan(path)
		}
		return
	}
	if w.opts.OnTask != nil {
		w.opts.OnTask(path)
	}
}

// Close stops the watcher and cancels pending debounce timers.
func (w *SessionWatcher) Close() error {
	w.mu.Lock()
	w.closed = true
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.closeOnce.Do(func() { close(w.done) })
	return w.fsw.Close()
}
