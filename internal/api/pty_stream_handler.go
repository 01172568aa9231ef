package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rdfitted/hive-manager/internal/event"
)

const ptyReplayLines = 50

type ptyInboundMessage struct {
	Input  string `json:"input,omitempty"`
	Resize *struct {
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	} `json:"resize,omitempty"`
}

type ptyOutboundMessage struct {
	Type       string `json:"type"`
	Data       string `json:"data,omitempty"`
	Status     string `json:"status,omitempty"`
	StatusLine string `json:"status_line,omitempty"`
}

// handlePtyStream attaches a websocket to one agent's terminal. Output
// and status events flow out; input and resize messages flow in.
func (s *Server) handlePtyStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	agentID := r.PathValue("agent")

	if _, err := s.controller.WorkersState(sessionID); err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("pty websocket upgrade failed", map[string]string{"error": err.Error()})
		return
	}
	defer conn.Close()

	events, cancel := s.controller.Bus().SubscribeFiltered(func(evt event.Event) bool {
		pty, ok := evt.(event.PtyEvent)
		return ok && pty.SessionID == sessionID && pty.AgentID == agentID
	})
	defer cancel()

	// Replay the recent tail so a late subscriber sees context.
	if tail, err := s.controller.Supervisor().OutputTail(agentID, ptyReplayLines); err == nil {
		for _, line := range tail {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ptyOutboundMessage{Type: event.TypePtyOutput, Data: line + "\n"}); err != nil {
				return
			}
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range events {
			pty, ok := evt.(event.PtyEvent)
			if !ok {
				continue
			}
			out := ptyOutboundMessage{Type: pty.EventType}
			switch pty.EventType {
			case event.TypePtyOutput:
				out.Data = pty.Data
			case event.TypePtyStatus:
				out.Status = pty.Status
				out.StatusLine = pty.StatusLine
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var payload ptyInboundMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		if payload.Input != "" {
			if err := s.controller.WriteToPty(sessionID, agentID, []byte(payload.Input)); err != nil {
				s.logger.Warn("pty input write failed", map[string]string{
					"session": sessionID,
					"agent":   agentID,
					"error":   err.Error(),
				})
			}
		}
		if payload.Resize != nil {
			if err := s.controller.ResizePty(sessionID, agentID, payload.Resize.Cols, payload.Resize.Rows); err != nil {
				s.logger.Warn("pty resize failed", map[string]string{
					"session": sessionID,
					"agent":   agentID,
					"error":   err.Error(),
				})
			}
		}
	}
	cancel()
	<-done
}
