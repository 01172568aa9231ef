package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rdfitted/hive-manager/internal/hive"
)

// StoredSession summarizes one snapshot found under the state root.
// Corrupt snapshots are listed with Corrupt set instead of failing
// the whole scan.
type StoredSession struct {
	SessionID  string     `json:"session_id"`
	State      hive.State `json:"state,omitempty"`
	AgentCount int        `json:"agent_count"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
	Corrupt    bool       `json:"corrupt,omitempty"`
}

// ListStoredSessions scans the state root for resumable sessions.
func (r Root) ListStoredSessions() ([]StoredSession, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state root: %w", err)
	}

	var sessions []StoredSession
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID := entry.Name()
		if ValidateSessionID(sessionID) != nil {
			continue
		}

		snapshot, err := r.LoadSnapshot(sessionID)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			var corrupt *PersistenceCorruptionError
			if errors.As(err, &corrupt) {
				sessions = append(sessions, StoredSession{
					SessionID: sessionID,
					Corrupt:   true,
				})
				continue
			}
			return nil, err
		}
		sessions = append(sessions, StoredSession{
			SessionID:  sessionID,
			State:      snapshot.State,
			AgentCount: len(snapshot.Agents),
			UpdatedAt:  snapshot.UpdatedAt,
		})
	}
	return sessions, nil
}

// PendingConfig holds the worker fleet recorded at planning launch
// and consumed once the plan is approved.
type PendingConfig struct {
	Queen   hive.AgentSpec   `json:"queen"`
	Workers []hive.AgentSpec `json:"workers"`
	Prompt  string           `json:"prompt,omitempty"`
}

func (r Root) SavePendingConfig(sessionID string, config PendingConfig) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pending config: %w", err)
	}
	return os.WriteFile(r.PendingConfigPath(sessionID), payload, 0o644)
}

func (r Root) LoadPendingConfig(sessionID string) (PendingConfig, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return PendingConfig{}, err
	}
	payload, err := os.ReadFile(r.PendingConfigPath(sessionID))
	if err != nil {
		return PendingConfig{}, err
	}
	var config PendingConfig
	if err := json.Unmarshal(payload, &config); err != nil {
		return PendingConfig{}, fmt.Errorf("parse pending config: %w", err)
	}
	return config, nil
}
