package types

// Phase represents a session's position in the support flow.
type Phase string

const (
	PhaseInit        Phase = "INIT"
	PhaseConsented   Phase = "CONSENTED"
	PhaseTriage      Phase = "TRIAGE"
	PhaseSupportLoop Phase = "SUPPORT_LOOP"
	PhaseRiskCheck   Phase = "RISK_CHECK"
	PhaseResources   Phase = "RESOURCES"
	PhaseEscalate    Phase = "ESCALATE"
	PhaseClose       Phase = "CLOSE"
)

// Valid reports whether p is a defined phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseInit, PhaseConsented, PhaseTriage, PhaseSupportLoop,
		PhaseRiskCheck, PhaseResources, PhaseEscalate, PhaseClose:
		return true
	}
	return false
}

// Terminal reports whether p is the absorbing terminal phase.
func (p Phase) Terminal() bool { return p == PhaseClose }

// CloseReason explains why a session reached CLOSE.
type CloseReason string

const (
	CloseUserExit           CloseReason = "user_exit"
	CloseConsentDenied      CloseReason = "consent_denied"
	CloseConsentRevoked     CloseReason = "consent_revoked"
	CloseConsentTimeout     CloseReason = "consent_timeout"
	CloseIdleTimeout        CloseReason = "idle_timeout"
	CloseHardTimeout        CloseReason = "hard_timeout"
	CloseMessageCap         CloseReason = "message_cap"
	CloseEscalationComplete CloseReason = "escalation_complete"
	CloseOperator           CloseReason = "operator_close"
)

// Session represents one support conversation.
type Session struct {
	ID      string        `json:"id"`
	Phase   Phase         `json:"phase"`
	Consent ConsentStatus `json:"consent"`
	Locale  string        `json:"locale,omitempty"`

	// Caller-owned metadata, opaque to the core.
	Metadata map[string]string `json:"metadata,omitempty"`

	MessageCount int  `json:"messageCount"`
	Degraded     bool `json:"degraded,omitempty"` // triage or risk ran in degraded mode

	// TriageSummary is the sanitized presenting-concern summary produced on
	// the TRIAGE -> SUPPORT_LOOP transition.
	TriageSummary string `json:"triageSummary,omitempty"`

	// RiskHistory is append-only; verdicts are never mutated retroactively.
	RiskHistory []RiskVerdict `json:"riskHistory,omitempty"`

	CloseReason CloseReason `json:"closeReason,omitempty"`
	PlanID      string      `json:"planID,omitempty"` // escalation plan, if any

	Time SessionTime `json:"time"`
}

// SessionTime contains session timestamps in Unix milliseconds.
type SessionTime struct {
	Created  int64 `json:"created"`
	Updated  int64 `json:"updated"` // last activity
	Closed   int64 `json:"closed,omitempty"`
	Archived int64 `json:"archived,omitempty"`
}

// HighestSeverity returns the maximum severity recorded in the session's
// risk history, or SeverityNone when no verdicts exist.
func (s *Session) HighestSeverity() Severity {
	max := SeverityNone
	for _, v := range s.RiskHistory {
		if v.Severity > max {
			max = v.Severity
		}
	}
	return max
}
