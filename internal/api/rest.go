package api

import (
	"net/http"

	"github.com/rdfitted/hive-manager/internal/controller"
	"github.com/rdfitted/hive-manager/internal/coord"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/logging"
	"github.com/rdfitted/hive-manager/internal/metrics"
	"github.com/rdfitted/hive-manager/internal/version"
)

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

type statusResponse struct {
	Version  version.Info     `json:"version"`
	Sessions int              `json:"sessions"`
	Metrics  metrics.Snapshot `json:"metrics"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Version:  version.Get(),
		Sessions: len(s.controller.ListSessions()),
		Metrics:  s.controller.Metrics().Snapshot(),
	})
}

type launchRequest struct {
	SessionID    string           `json:"session_id"`
	ProjectPath  string           `json:"project_path"`
	Task         string           `json:"task"`
	Queen        hive.AgentSpec   `json:"queen"`
	Workers      []hive.AgentSpec `json:"workers,omitempty"`
	PlannerCount int              `json:"planner_count,omitempty"`
	Planner      hive.AgentSpec   `json:"planner,omitempty"`
	Planning     bool             `json:"planning,omitempty"`
}

func (req launchRequest) spec() controller.LaunchSpec {
	return controller.LaunchSpec{
		SessionID:    req.SessionID,
		ProjectPath:  req.ProjectPath,
		Task:         req.Task,
		Queen:        req.Queen,
		Workers:      req.Workers,
		PlannerCount: req.PlannerCount,
		Planner:      req.Planner,
		Planning:     req.Planning,
	}
}

type sessionResponse struct {
	SessionID string       `json:"session_id"`
	State     hive.State   `json:"state"`
	Agents    []hive.Agent `json:"agents"`
}

func sessionPayload(s *controller.Session) sessionResponse {
	return sessionResponse{
		SessionID: s.ID(),
		State:     s.State(),
		Agents:    s.Agents(),
	}
}

func (s *Server) handleLaunchHive(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.controller.LaunchHive(r.Context(), req.spec())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *Server) handleLaunchSwarm(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.controller.LaunchSwarm(r.Context(), req.spec())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *Server) handleLaunchSolo(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.controller.LaunchSolo(r.Context(), req.spec())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

type fusionLaunchRequest struct {
	SessionID   string             `json:"session_id"`
	ProjectPath string             `json:"project_path"`
	Task        string             `json:"task"`
	Variants    []hive.VariantSpec `json:"variants"`
	Judge       hive.AgentSpec     `json:"judge"`
}

func (s *Server) handleLaunchFusion(w http.ResponseWriter, r *http.Request) {
	var req fusionLaunchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.controller.LaunchFusion(r.Context(), controller.FusionSpec{
		SessionID:   req.SessionID,
		ProjectPath: req.ProjectPath,
		Task:        req.Task,
		Variants:    req.Variants,
		Judge:       req.Judge,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.ListSessions())
}

func (s *Server) handleListStored(w http.ResponseWriter, r *http.Request) {
	projectPath := r.URL.Query().Get("project_path")
	if projectPath == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "project_path is required", Code: "bad_request"})
		return
	}
	stored, err := s.controller.ListStoredSessions(projectPath)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.StopSession(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type resumeRequest struct {
	ProjectPath string `json:"project_path"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.controller.ResumeSession(r.Context(), r.PathValue("id"), req.ProjectPath)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.PauseSession(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.ResumeFromPause(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := s.logger.Buffer().List()
	if entries == nil {
		entries = []logging.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePlanReady(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.MarkPlanReady(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "plan_ready"})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.ContinueAfterPlanning(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

type addWorkerRequest struct {
	Worker   hive.AgentSpec `json:"worker"`
	ParentID string         `json:"parent_id,omitempty"`
}

func (s *Server) handleAddWorker(w http.ResponseWriter, r *http.Request) {
	var req addWorkerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	agent, err := s.controller.AddWorker(r.Context(), r.PathValue("id"), req.Worker, req.ParentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

type injectRequest struct {
	TargetID string `json:"target_id"`
	Message  string `json:"message"`
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.controller.QueenInject(r.Context(), r.PathValue("id"), req.TargetID, req.Message); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "injected"})
}

type fusionWinnerRequest struct {
	Variant   string `json:"variant"`
	Confirmed bool   `json:"confirmed"`
}

func (s *Server) handleFusionWinner(w http.ResponseWriter, r *http.Request) {
	var req fusionWinnerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	hash, err := s.controller.ApplyFusionWinner(r.Context(), r.PathValue("id"), req.Variant, req.Confirmed)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"commit": hash})
}

func (s *Server) handleFusionDecision(w http.ResponseWriter, r *http.Request) {
	report, err := s.controller.FusionDecision(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"decision": report})
}

func (s *Server) handleCoordinationLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := parsePositiveInt(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		limit = parsed
	}
	messages, err := s.controller.CoordinationLog(r.PathValue("id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if messages == nil {
		messages = []coord.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleWorkersState(w http.ResponseWriter, r *http.Request) {
	agents, err := s.controller.WorkersState(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

type ptyWriteRequest struct {
	Data string `json:"data"`
}

func (s *Server) handlePtyWrite(w http.ResponseWriter, r *http.Request) {
	var req ptyWriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.controller.WriteToPty(r.PathValue("id"), r.PathValue("agent"), []byte(req.Data)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "written"})
}

type ptyResizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func (s *Server) handlePtyResize(w http.ResponseWriter, r *http.Request) {
	var req ptyResizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.controller.ResizePty(r.PathValue("id"), r.PathValue("agent"), req.Cols, req.Rows); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resized"})
}
