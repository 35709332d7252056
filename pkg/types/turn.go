package types

// Turn is one user message plus its sanitized form and the phase it was
// processed in. Immutable once recorded.
type Turn struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`

	// Text is the raw user input. It is never serialized; everything that
	// leaves the turn pipeline goes through the sanitized form.
	Text string `json:"-"`

	Sanitized string   `json:"sanitized"`
	Entities  []Entity `json:"entities,omitempty"`
	Phase     Phase    `json:"phase"`
	Time      int64    `json:"time"` // Unix milliseconds
}

// TurnResult is what the caller gets back for a processed turn.
type TurnResult struct {
	SessionID string `json:"sessionID"`
	TurnID    string `json:"turnID"`
	Phase     Phase  `json:"phase"` // phase after the turn
	Reply     string `json:"reply"`

	Verdict RiskVerdict `json:"verdict"`

	// Plan is set when the turn triggered or progressed an escalation.
	Plan *EscalationPlan `json:"plan,omitempty"`

	// Bundle is set when resources were delivered this turn.
	Bundle *ResourceBundle `json:"bundle,omitempty"`

	Closed      bool        `json:"closed,omitempty"`
	CloseReason CloseReason `json:"closeReason,omitempty"`
}
