package types

// PlanStatus is the lifecycle state of an escalation plan.
type PlanStatus string

const (
	PlanPending    PlanStatus = "PENDING"
	PlanInProgress PlanStatus = "IN_PROGRESS"
	PlanCompleted  PlanStatus = "COMPLETED"
	PlanFailed     PlanStatus = "FAILED"
)

// Terminal reports whether the plan has resolved.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanFailed
}

// TransferStatus is the outcome of one warm hand-off attempt.
type TransferStatus string

const (
	TransferInitiated  TransferStatus = "INITIATED"
	TransferConnecting TransferStatus = "CONNECTING"
	TransferConnected  TransferStatus = "CONNECTED"
	TransferFailed     TransferStatus = "FAILED"
	TransferDeclined   TransferStatus = "DECLINED"
)

// Directive is the emergency instruction surfaced to the user before any
// hand-off attempt on a CRITICAL escalation.
type Directive struct {
	EmergencyNumber string `json:"emergencyNumber"`
	Text            string `json:"text"`
}

// EscalationAttempt records one hand-off attempt and its outcome.
type EscalationAttempt struct {
	Number int            `json:"number"`
	Status TransferStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
	Time   int64          `json:"time"` // Unix milliseconds
}

// EscalationPlan is produced by the escalation coordinator. Only the
// coordinator mutates it; the session references it by ID.
type EscalationPlan struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	Severity  Severity `json:"severity"`
	Channel   string   `json:"channel"`  // target hand-off channel
	Priority  string   `json:"priority"` // "urgent" for CRITICAL, else "high"

	Status    PlanStatus          `json:"status"`
	Directive *Directive          `json:"directive,omitempty"`
	Attempts  []EscalationAttempt `json:"attempts,omitempty"`

	Created  int64 `json:"created"`            // Unix milliseconds
	Resolved int64 `json:"resolved,omitempty"` // Unix milliseconds
}
