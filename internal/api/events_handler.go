package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rdfitted/hive-manager/internal/event"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsReadBufferSize,
	WriteBufferSize: wsWriteBufferSize,
	// The engine binds to loopback; cross-origin browser clients are
	// expected during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type eventSubscribeMessage struct {
	Subscribe []string `json:"subscribe"`
	SessionID string   `json:"session_id,omitempty"`
}

// eventFilter narrows the stream to subscribed event types and an
// optional session.
type eventFilter struct {
	mu        sync.RWMutex
	types     map[string]struct{}
	sessionID string
}

func (f *eventFilter) Allows(evt event.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.types) > 0 {
		if _, ok := f.types[evt.Type()]; !ok {
			return false
		}
	}
	if f.sessionID != "" && sessionOf(evt) != f.sessionID {
		return false
	}
	return true
}

func (f *eventFilter) Set(msg eventSubscribeMessage) {
	types := make(map[string]struct{}, len(msg.Subscribe))
	for _, eventType := range msg.Subscribe {
		types[strings.TrimSpace(eventType)] = struct{}{}
	}
	f.mu.Lock()
	f.types = types
	f.sessionID = msg.SessionID
	f.mu.Unlock()
}

func sessionOf(evt event.Event) string {
	switch e := evt.(type) {
	case event.SessionEvent:
		return e.SessionID
	case event.CoordinationEvent:
		return e.SessionID
	case event.FusionEvent:
		return e.SessionID
	case event.PtyEvent:
		return e.SessionID
	case event.PlanEvent:
		return e.SessionID
	default:
		return ""
	}
}

type eventEnvelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Event     event.Event `json:"event"`
}

// handleEvents streams the engine's event bus over a websocket.
// Clients may send subscribe messages to narrow the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]string{"error": err.Error()})
		return
	}
	defer conn.Close()

	filter := &eventFilter{}
	events, cancel := s.controller.Bus().Subscribe()
	defer cancel()

	// Ack once the subscription is live so clients know no earlier
	// events will arrive.
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(map[string]string{"type": "connected"}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range events {
			if !filter.Allows(evt) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(eventEnvelope{
				Type:      evt.Type(),
				Timestamp: evt.Timestamp(),
				Event:     evt,
			}); err != nil {
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
		var payload eventSubscribeMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		filter.Set(payload)
	}
	cancel()
	<-done
}
