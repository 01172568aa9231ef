// Package metrics keeps engine counters for the status endpoint.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Registry struct {
	sessionsStarted   atomic.Int64
	sessionsCompleted atomic.Int64
	sessionsFailed    atomic.Int64
	sessionsStopped   atomic.Int64
	spawns            sync.Map
}

type spawnStats struct {
	count         atomic.Int64
	failures      atomic.Int64
	durationNanos atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncSessionStarted() {
	if r == nil {
		return
	}
	r.sessionsStarted.Add(1)
}

func (r *Registry) IncSessionCompleted() {
	if r == nil {
		return
	}
	r.sessionsCompleted.Add(1)
}

func (r *Registry) IncSessionFailed() {
	if r == nil {
		return
	}
	r.sessionsFailed.Add(1)
}

func (r *Registry) IncSessionStopped() {
	if r == nil {
		return
	}
	r.sessionsStopped.Add(1)
}

// RecordSpawn accumulates per-CLI agent spawn outcomes.
func (r *Registry) RecordSpawn(cli string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	if strings.TrimSpace(cli) == "" {
		cli = "unknown"
	}
	stats := r.spawnStats(cli)
	stats.count.Add(1)
	stats.durationNanos.Add(duration.Nanoseconds())
	if err != nil {
		stats.failures.Add(1)
	}
}

type SpawnSnapshot struct {
	CLI             string  `json:"cli"`
	Count           int64   `json:"count"`
	Failures        int64   `json:"failures"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type Snapshot struct {
	SessionsStarted   int64           `json:"sessions_started"`
	SessionsCompleted int64           `json:"sessions_completed"`
	SessionsFailed    int64           `json:"sessions_failed"`
	SessionsStopped   int64           `json:"sessions_stopped"`
	Spawns            []SpawnSnapshot `json:"spawns"`
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{Spawns: []SpawnSnapshot{}}
	}
	snapshot := Snapshot{
		SessionsStarted:   r.sessionsStarted.Load(),
		SessionsCompleted: r.sessionsCompleted.Load(),
		SessionsFailed:    r.sessionsFailed.Load(),
		SessionsStopped:   r.sessionsStopped.Load(),
		Spawns:            []SpawnSnapshot{},
	}
	names := r.spawnNames()
	sort.Strings(names)
	for _, name := range names {
		stats := r.spawnStats(name)
		snapshot.Spawns = append(snapshot.Spawns, SpawnSnapshot{
			CLI:             name,
			Count:           stats.count.Load(),
			Failures:        stats.failures.Load(),
			DurationSeconds: float64(stats.durationNanos.Load()) / float64(time.Second),
		})
	}
	return snapshot
}

func (r *Registry) spawnStats(cli string) *spawnStats {
	value, _ := r.spawns.LoadOrStore(cli, &spawnStats{})
	return value.(*spawnStats)
}

func (r *Registry) spawnNames() []string {
	var names []string
	r.spawns.Range(func(key, value interface{}) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}
