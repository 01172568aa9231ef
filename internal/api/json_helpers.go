package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/rdfitted/hive-manager/internal/controller"
	"github.com/rdfitted/hive-manager/internal/fusion"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/storage"
	"github.com/rdfitted/hive-manager/internal/supervisor"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// writeDomainError maps engine errors onto HTTP statuses and stable
// error codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		invalidID      *storage.InvalidSessionIDError
		parentNotFound *hive.ParentNotFoundError
		spawnFailure   *supervisor.ProcessSpawnFailureError
		badTransition  *hive.InvalidTransitionError
		corruption     *storage.PersistenceCorruptionError
	)
	switch {
	case errors.As(err, &invalidID):
		writeError(w, http.StatusBadRequest, "invalid_session_id", err)
	case errors.As(err, &parentNotFound):
		writeError(w, http.StatusNotFound, "parent_not_found", err)
	case errors.As(err, &spawnFailure):
		writeError(w, http.StatusBadGateway, "process_spawn_failure", err)
	case errors.As(err, &badTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err)
	case errors.As(err, &corruption):
		writeError(w, http.StatusInternalServerError, "persistence_corruption", err)
	case errors.Is(err, hive.ErrSessionNotFound), errors.Is(err, hive.ErrAgentNotFound), errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, hive.ErrPlanNotApproved):
		writeError(w, http.StatusConflict, "plan_not_approved", err)
	case errors.Is(err, hive.ErrNotConfirmed):
		writeError(w, http.StatusPreconditionRequired, "confirmation_required", err)
	case errors.Is(err, controller.ErrSessionExists):
		writeError(w, http.StatusConflict, "session_exists", err)
	case errors.Is(err, supervisor.ErrAgentNotRunning):
		writeError(w, http.StatusConflict, "agent_not_running", err)
	case errors.Is(err, fusion.ErrUnknownVariant):
		writeError(w, http.StatusNotFound, "unknown_variant", err)
	case errors.Is(err, fusion.ErrEvaluationNotReady):
		writeError(w, http.StatusConflict, "evaluation_not_ready", err)
	case errors.Is(err, fusion.ErrWinnerApplied):
		writeError(w, http.StatusConflict, "winner_applied", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}

func parsePositiveInt(raw string) (int, error) {
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if parsed < 0 {
		return 0, fmt.Errorf("value must be positive, got %d", parsed)
	}
	return parsed, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return false
	}
	return true
}
