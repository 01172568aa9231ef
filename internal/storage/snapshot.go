package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rdfitted/hive-manager/internal/hive"
)

// Snapshot is the durable record of one session: its lifecycle state
// and every agent with role, status and pid. It is rewritten in full
// on every mutation.
type Snapshot struct {
	SessionID   string       `json:"session_id"`
	State       hive.State   `json:"state"`
	SessionType string       `json:"session_type,omitempty"`
	ProjectPath string       `json:"project_path,omitempty"`
	Failure     string       `json:"failure,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Agents      []hive.Agent `json:"agents"`
}

// PersistenceCorruptionError marks a snapshot that exists but cannot
// be decoded. Sessions with corrupt snapshots are reported, never
// silently dropped.
type PersistenceCorruptionError struct {
	SessionID string
	Path      string
	Err       error
}

func (e *PersistenceCorruptionError) Error() string {
	return fmt.Sprintf("session %s: corrupt snapshot at %s: %v", e.SessionID, e.Path, e.Err)
}

func (e *PersistenceCorruptionError) Unwrap() error {
	return e.Err
}

// SaveSnapshot writes the snapshot atomically: marshal, write to a
// temp file in the same directory, fsync, rename. Readers never see a
// torn file.
func (r Root) SaveSnapshot(snapshot Snapshot) error {
	if err := ValidateSessionID(snapshot.SessionID); err != nil {
		return err
	}
	path := r.SnapshotPath(snapshot.SessionID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	snapshot.UpdatedAt = time.Now().UTC()
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "hierarchy-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tempName := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempName)
	}()

	if _, err := tempFile.Write(payload); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tempName, 0o644); err != nil {
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	if dirHandle, err := os.Open(dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}
	return nil
}

// LoadSnapshot reads a session snapshot back. A missing snapshot
// returns os.ErrNotExist; an undecodable one returns
// PersistenceCorruptionError.
func (r Root) LoadSnapshot(sessionID string) (Snapshot, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return Snapshot{}, err
	}
	path := r.SnapshotPath(sessionID)
	payload, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return Snapshot{}, &PersistenceCorruptionError{
			SessionID: sessionID,
			Path:      path,
			Err:       err,
		}
	}
	if snapshot.SessionID == "" {
		snapshot.SessionID = sessionID
	}
	return snapshot, nil
}
