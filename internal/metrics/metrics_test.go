package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestSessionCounters(t *testing.T) {
	r := &Registry{}
	r.IncSessionStarted()
	r.IncSessionStarted()
	r.IncSessionCompleted()
	r.IncSessionFailed()
	r.IncSessionStopped()

	snapshot := r.Snapshot()
	if snapshot.SessionsStarted != 2 {
		t.Fatalf("expected 2 started, got %d", snapshot.SessionsStarted)
	}
	if snapshot.SessionsCompleted != 1 || snapshot.SessionsFailed != 1 || snapshot.SessionsStopped != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestRecordSpawnAccumulates(t *testing.T) {
	r := &Registry{}
	r.RecordSpawn("claude", 2*time.Second, nil)
	r.RecordSpawn("claude", time.Second, errors.New("spawn failed"))
	r.RecordSpawn("", time.Second, nil)

	snapshot := r.Snapshot()
	if len(snapshot.Spawns) != 2 {
		t.Fatalf("expected 2 spawn entries, got %d", len(snapshot.Spawns))
	}
	claude := snapshot.Spawns[0]
	if claude.CLI != "claude" {
		t.Fatalf("expected claude first after sort, got %q", claude.CLI)
	}
	if claude.Count != 2 || claude.Failures != 1 {
		t.Fatalf("unexpected claude stats: %+v", claude)
	}
	if claude.DurationSeconds != 3 {
		t.Fatalf("expected 3s total duration, got %f", claude.DurationSeconds)
	}
	if snapshot.Spawns[1].CLI != "unknown" {
		t.Fatalf("expected blank cli mapped to unknown, got %q", snapshot.Spawns[1].CLI)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	r.IncSessionStarted()
	r.RecordSpawn("claude", time.Second, nil)
	snapshot := r.Snapshot()
	if snapshot.SessionsStarted != 0 || len(snapshot.Spawns) != 0 {
		t.Fatalf("expected zero snapshot, got %+v", snapshot)
	}
}
