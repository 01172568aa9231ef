package process

import (
	"context"
	"errors"
	"sync"
)

var ErrProcessNotFound = errors.New("process not running")

// Entry records a spawned agent process. Wait, when set, blocks until
// the process reaps; otherwise liveness is polled.
type Entry struct {
	PID     int
	PGID    int
	AgentID string
	Wait    func(context.Context) error
}

// Registry tracks every live agent process so shutdown can reap the
// whole fleet.
type Registry struct {
	mu      sync.Mutex
	entries map[int]Entry
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[int]Entry),
	}
}

func (r *Registry) Register(pid, pgid int, agentID string, wait func(context.Context) error) {
	if r == nil || pid <= 0 {
		return
	}
	r.mu.Lock()
	r.entries[pid] = Entry{
		PID:     pid,
		PGID:    pgid,
		AgentID: agentID,
		Wait:    wait,
	}
	r.mu.Unlock()
}

func (r *Registry) Unregister(pid int) {
	if r == nil || pid <= 0 {
		return
	}
	r.mu.Lock()
	delete(r.entries, pid)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop terminates a single registered process and unregisters it.
func (r *Registry) Stop(ctx context.Context, pid int) error {
	if r == nil || pid <= 0 {
		return nil
	}
	r.mu.Lock()
	entry, ok := r.entries[pid]
	r.mu.Unlock()
	if !ok {
		return ErrProcessNotFound
	}
	err := terminate(ctx, entry)
	r.Unregister(pid)
	return err
}

// StopAll terminates every registered process. Errors are joined; a
// process that already exited is not an error.
func (r *Registry) StopAll(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	var stopErr error
	for _, entry := range entries {
		if err := terminate(ctx, entry); err != nil && !errors.Is(err, ErrProcessNotFound) {
			stopErr = errors.Join(stopErr, err)
		}
	}
	if len(entries) > 0 {
		r.mu.Lock()
		for _, entry := range entries {
			delete(r.entries, entry.PID)
		}
		r.mu.Unlock()
	}
	return stopErr
}

// Alive reports whether pid still exists. Used by session resume to
// decide whether a recorded agent survived a daemon restart.
func Alive(pid int) bool {
	return alive(pid)
}
