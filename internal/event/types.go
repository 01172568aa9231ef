package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

// Outbound event type names.
const (
	TypeSessionUpdate         = "session-update"
	TypeCoordinationMessage   = "coordination-message"
	TypeFusionVariantComplete = "fusion-variant-completed"
	TypeJudgeEvaluationReady  = "judge-evaluation-ready"
	TypePtyOutput             = "pty-output"
	TypePtyStatus             = "pty-status"
	TypePlanUpdate            = "plan-update"
)

// SessionEvent captures a session state change.
type SessionEvent struct {
	EventType  string
	SessionID  string
	State      string
	Detail     map[string]any
	OccurredAt time.Time
}

func NewSessionEvent(sessionID, state string) SessionEvent {
	return SessionEvent{
		EventType:  TypeSessionUpdate,
		SessionID:  sessionID,
		State:      state,
		OccurredAt: time.Now().UTC(),
	}
}

func (e SessionEvent) Type() string         { return e.EventType }
func (e SessionEvent) Timestamp() time.Time { return e.OccurredAt }

// CoordinationEvent wraps a routed coordination message.
type CoordinationEvent struct {
	EventType  string
	SessionID  string
	MessageID  string
	Kind       string
	From       string
	To         string
	Content    string
	OccurredAt time.Time
}

func NewCoordinationEvent(sessionID, messageID, kind, from, to, content string) CoordinationEvent {
	return CoordinationEvent{
		EventType:  TypeCoordinationMessage,
		SessionID:  sessionID,
		MessageID:  messageID,
		Kind:       kind,
		From:       from,
		To:         to,
		Content:    content,
		OccurredAt: time.Now().UTC(),
	}
}

func (e CoordinationEvent) Type() string         { return e.EventType }
func (e CoordinationEvent) Timestamp() time.Time { return e.OccurredAt }

// FusionEvent captures fusion variant progress and judge readiness.
type FusionEvent struct {
	EventType  string
	SessionID  string
	Variant    string
	OccurredAt time.Time
}

func NewFusionVariantCompletedEvent(sessionID, variant string) FusionEvent {
	return FusionEvent{
		EventType:  TypeFusionVariantComplete,
		SessionID:  sessionID,
		Variant:    variant,
		OccurredAt: time.Now().UTC(),
	}
}

func NewJudgeEvaluationReadyEvent(sessionID string) FusionEvent {
	return FusionEvent{
		EventType:  TypeJudgeEvaluationReady,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
	}
}

func (e FusionEvent) Type() string         { return e.EventType }
func (e FusionEvent) Timestamp() time.Time { return e.OccurredAt }

// PtyEvent carries raw agent terminal output or a status change.
type PtyEvent struct {
	EventType  string
	SessionID  string
	AgentID    string
	Data       string
	Status     string
	StatusLine string
	OccurredAt time.Time
}

func NewPtyOutputEvent(sessionID, agentID, data string) PtyEvent {
	return PtyEvent{
		EventType:  TypePtyOutput,
		SessionID:  sessionID,
		AgentID:    agentID,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

func NewPtyStatusEvent(sessionID, agentID, status, statusLine string) PtyEvent {
	return PtyEvent{
		EventType:  TypePtyStatus,
		SessionID:  sessionID,
		AgentID:    agentID,
		Status:     status,
		StatusLine: statusLine,
		OccurredAt: time.Now().UTC(),
	}
}

func (e PtyEvent) Type() string         { return e.EventType }
func (e PtyEvent) Timestamp() time.Time { return e.OccurredAt }

// PlanEvent captures plan artifact changes.
type PlanEvent struct {
	EventType  string
	SessionID  string
	Path       string
	OccurredAt time.Time
}

func NewPlanUpdateEvent(sessionID, path string) PlanEvent {
	return PlanEvent{
		EventType:  TypePlanUpdate,
		SessionID:  sessionID,
		Path:       path,
		OccurredAt: time.Now().UTC(),
	}
}

func (e PlanEvent) Type() string         { return e.EventType }
func (e PlanEvent) Timestamp() time.Time { return e.OccurredAt }
