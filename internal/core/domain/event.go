package domain

// Stage is a state of the query pipeline.
type Stage string

// Pipeline stages in the only order they may be visited.
// StageCalculating is optional; StageError is reachable from any stage.
const (
	StageConnected          Stage = "connected"
	StageRouting            Stage = "routing"
	StageRetrieving         Stage = "retrieving"
	StageCalculating        Stage = "calculating"
	StageGenerating         Stage = "generating"
	StageComplianceChecking Stage = "compliance_checking"
	StageDone               Stage = "done"
	StageError              Stage = "error"
)

var stageOrder = map[Stage]int{
	StageConnected:          0,
	StageRouting:            1,
	StageRetrieving:         2,
	StageCalculating:        3,
	StageGenerating:         4,
	StageComplianceChecking: 5,
	StageDone:               6,
}

// CanTransitionTo reports whether the pipeline may move from s to next.
// Transitions only move forward; Calculating may be skipped but nothing else.
func (s Stage) CanTransitionTo(next Stage) bool {
	if s == StageDone || s == StageError {
		return false
	}
	if next == StageError {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	if to == from+1 {
		return true
	}
	return s == StageRetrieving && next == StageGenerating
}

// IsTerminal returns true for done and error.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageError
}

// String returns the string representation.
func (s Stage) String() string {
	return string(s)
}

// EventType names a stream event.
type EventType string

// Stream event types.
const (
	EventConnected  EventType = "connected"
	EventStatus     EventType = "status"
	EventRouting    EventType = "routing"
	EventContent    EventType = "content"
	EventCompliance EventType = "compliance"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// IsTerminal returns true for done and error events.
func (t EventType) IsTerminal() bool {
	return t == EventDone || t == EventError
}

// Event is one element of a query's ordered event stream.
// Exactly one payload field is set, matching Type.
type Event struct {
	Type       EventType           `json:"type"`
	SessionID  string              `json:"sessionId,omitempty"`
	Stage      Stage               `json:"stage,omitempty"`
	Routing    *RoutingResult      `json:"routing,omitempty"`
	Content    string              `json:"content,omitempty"`
	Compliance *ComplianceResult   `json:"compliance,omitempty"`
	Result     *OrchestratorResult `json:"result,omitempty"`
	Err        *PipelineError      `json:"error,omitempty"`
}

// Payload returns the value carried by the event, for encoders.
func (e Event) Payload() any {
	switch e.Type {
	case EventConnected:
		return map[string]string{"sessionId": e.SessionID}
	case EventStatus:
		return map[string]Stage{"stage": e.Stage}
	case EventRouting:
		return e.Routing
	case EventContent:
		return map[string]string{"text": e.Content}
	case EventCompliance:
		return e.Compliance
	case EventDone:
		return e.Result
	case EventError:
		return e.Err
	default:
		return nil
	}
}
