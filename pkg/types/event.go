package types

import "encoding/json"

// EventKind names a ledger event. The string values are part of the stored
// format; changing one breaks replay of existing ledgers.
type EventKind string

const (
	EventSessionCreated      EventKind = "session.created"
	EventConsentGranted      EventKind = "consent.granted"
	EventConsentDenied       EventKind = "consent.denied"
	EventConsentRevoked      EventKind = "consent.revoked"
	EventPhaseChanged        EventKind = "phase.changed"
	EventTurnProcessed       EventKind = "turn.processed"
	EventRiskAssessed        EventKind = "risk.assessed"
	EventRiskDegraded        EventKind = "risk.degraded"
	EventGuardViolation      EventKind = "guard.violation"
	EventEscalationDirective EventKind = "escalation.directive"
	EventEscalationAttempt   EventKind = "escalation.attempt"
	EventEscalationResolved  EventKind = "escalation.resolved"
	EventResourceDelivered   EventKind = "resource.delivered"
	EventSessionClosed       EventKind = "session.closed"
	EventSessionArchived     EventKind = "session.archived"
	EventObserveDropped      EventKind = "observe.dropped"
)

// Event is one entry in a session's append-only ledger. Seq is gapless and
// strictly increasing per session; cross-session ordering is wall-clock only.
// Payload is always redacted before the event is appended.
type Event struct {
	SessionID string          `json:"sessionID"`
	Seq       uint64          `json:"seq"`
	Kind      EventKind       `json:"kind"`
	Time      int64           `json:"time"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals an event payload into a typed value.
func DecodePayload[T any](e Event) (T, error) {
	var v T
	if len(e.Payload) == 0 {
		return v, nil
	}
	err := json.Unmarshal(e.Payload, &v)
	return v, err
}

// SessionCreatedData is the payload for session.created events. Metadata is
// stored in sanitized form.
type SessionCreatedData struct {
	Locale   string            `json:"locale,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PhaseChangedData is the payload for phase.changed events.
type PhaseChangedData struct {
	From   Phase  `json:"from"`
	To     Phase  `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// TurnProcessedData is the payload for turn.processed events. Sanitized text
// only; raw turn text never reaches the ledger.
type TurnProcessedData struct {
	TurnID    string   `json:"turnID"`
	Phase     Phase    `json:"phase"`
	Sanitized string   `json:"sanitized"`
	Entities  []Entity `json:"entities,omitempty"`
}

// RiskAssessedData is the payload for risk.assessed and risk.degraded events.
type RiskAssessedData struct {
	TurnID  string      `json:"turnID,omitempty"`
	Verdict RiskVerdict `json:"verdict"`
}

// GuardViolationData is the payload for guard.violation events.
type GuardViolationData struct {
	Phase  Phase  `json:"phase"`
	Target Phase  `json:"target"`
	Reason string `json:"reason"`
}

// ConsentData is the payload for consent.* events.
type ConsentData struct {
	Status ConsentStatus `json:"status"`
	Source string        `json:"source,omitempty"` // "turn" | "api"
}

// EscalationDirectiveData is the payload for escalation.directive events.
type EscalationDirectiveData struct {
	PlanID          string   `json:"planID"`
	Severity        Severity `json:"severity"`
	EmergencyNumber string   `json:"emergencyNumber"`
	Text            string   `json:"text"`
}

// EscalationAttemptData is the payload for escalation.attempt events.
type EscalationAttemptData struct {
	PlanID  string         `json:"planID"`
	Attempt int            `json:"attempt"`
	Status  TransferStatus `json:"status"`
	Error   string         `json:"error,omitempty"`
}

// EscalationResolvedData is the payload for escalation.resolved events.
type EscalationResolvedData struct {
	PlanID   string     `json:"planID"`
	Status   PlanStatus `json:"status"`
	Attempts int        `json:"attempts"`
}

// ResourceDeliveredData is the payload for resource.delivered events.
type ResourceDeliveredData struct {
	Locale   string   `json:"locale"`
	Category string   `json:"category"`
	Count    int      `json:"count"`
	IDs      []string `json:"ids,omitempty"`
}

// SessionClosedData is the payload for session.closed events.
type SessionClosedData struct {
	Reason CloseReason `json:"reason"`
}

// ObserveDroppedData is the payload for observe.dropped meta-events.
type ObserveDroppedData struct {
	Dropped uint64 `json:"dropped"` // total dropped since start
}
