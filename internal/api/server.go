// Package api exposes the engine over REST plus websocket event and
// terminal streams.
package api

import (
	"net/http"

	"github.com/rdfitted/hive-manager/internal/controller"
	"github.com/rdfitted/hive-manager/internal/logging"
)

// Server routes engine commands and event streams.
type Server struct {
	controller *controller.Controller
	logger     *logging.Logger
	authToken  string
	mux        *http.ServeMux
}

func NewServer(ctrl *controller.Controller, logger *logging.Logger, authToken string) *Server {
	s := &Server{
		controller: ctrl,
		logger:     logger.With(map[string]string{"component": "api"}),
		authToken:  authToken,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/version", s.handleVersion)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/sessions/hive", s.handleLaunchHive)
	s.mux.HandleFunc("POST /api/sessions/swarm", s.handleLaunchSwarm)
	s.mux.HandleFunc("POST /api/sessions/fusion", s.handleLaunchFusion)
	s.mux.HandleFunc("POST /api/sessions/solo", s.handleLaunchSolo)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/stored", s.handleListStored)
	s.mux.HandleFunc("POST /api/sessions/{id}/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/sessions/{id}/resume", s.handleResume)
	s.mux.HandleFunc("POST /api/sessions/{id}/pause", s.handlePause)
	s.mux.HandleFunc("POST /api/sessions/{id}/unpause", s.handleUnpause)
	s.mux.HandleFunc("POST /api/sessions/{id}/plan-ready", s.handlePlanReady)
	s.mux.HandleFunc("POST /api/sessions/{id}/continue", s.handleContinue)
	s.mux.HandleFunc("POST /api/sessions/{id}/workers", s.handleAddWorker)
	s.mux.HandleFunc("POST /api/sessions/{id}/inject", s.handleInject)
	s.mux.HandleFunc("POST /api/sessions/{id}/fusion/winner", s.handleFusionWinner)
	s.mux.HandleFunc("GET /api/sessions/{id}/fusion/decision", s.handleFusionDecision)
	s.mux.HandleFunc("GET /api/sessions/{id}/coordination", s.handleCoordinationLog)
	s.mux.HandleFunc("GET /api/sessions/{id}/workers", s.handleWorkersState)
	s.mux.HandleFunc("POST /api/sessions/{id}/pty/{agent}/write", s.handlePtyWrite)
	s.mux.HandleFunc("POST /api/sessions/{id}/pty/{agent}/resize", s.handlePtyResize)
	s.mux.HandleFunc("GET /api/logs", s.handleLogs)
	s.mux.HandleFunc("GET /ws/events", s.handleEvents)
	s.mux.HandleFunc("GET /ws/sessions/{id}/pty/{agent}", s.handlePtyStream)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "unauthorized"})
		return
	}
	s.mux.ServeHTTP(w, r)
}

// authorized accepts the configured token via bearer header or query
// parameter; an empty configured token disables auth.
func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+s.authToken {
		return true
	}
	return r.URL.Query().Get("token") == s.authToken
}
