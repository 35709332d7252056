package types

import (
	"encoding/json"
	"fmt"
)

// Severity is the ordered risk classification. Ordering is significant:
// NONE < LOW < MEDIUM < HIGH < CRITICAL.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"NONE", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity parses a severity name such as "HIGH".
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity: %q", name)
}

// MarshalJSON encodes the severity as its name so ledger records and API
// responses stay readable.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// RiskCategory classifies what kind of risk a signal indicates.
type RiskCategory string

const (
	RiskSuicide      RiskCategory = "SUICIDE"
	RiskSelfHarm     RiskCategory = "SELF_HARM"
	RiskHarmToOthers RiskCategory = "HARM_TO_OTHERS"
	RiskAbuse        RiskCategory = "ABUSE"
	RiskCrisis       RiskCategory = "CRISIS"
	RiskSubstance    RiskCategory = "SUBSTANCE"

	// RiskOther covers signals that carry no category of their own, such as
	// classifier verdicts and modifier bumps.
	RiskOther RiskCategory = "OTHER"
)

// RiskSignal identifies one matched risk indicator.
type RiskSignal struct {
	ID       string       `json:"id"` // e.g. "kw:kill myself", "pat:suicide_plan", "classifier"
	Category RiskCategory `json:"category"`
	Severity Severity     `json:"severity"`
	Source   string       `json:"source"` // "keyword" | "classifier"
}

// RiskVerdict is the outcome of one risk assessment. Immutable once produced.
type RiskVerdict struct {
	Severity   Severity     `json:"severity"`
	Confidence float64      `json:"confidence"` // 0.0–1.0
	Signals    []RiskSignal `json:"signals,omitempty"`

	// Degraded marks a verdict produced under partial collaborator failure
	// (classifier timeout or outage); such verdicts are biased upward.
	Degraded bool `json:"degraded,omitempty"`

	Time int64 `json:"time"` // Unix milliseconds
}
