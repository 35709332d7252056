package session

import (
	"errors"
	"fmt"

	"github.com/careline-ai/careline/pkg/types"
)

// ErrSessionClosed is returned for any operation on a session that has
// reached the terminal phase. CLOSE is absorbing: no event except archival
// bookkeeping may follow it.
var ErrSessionClosed = errors.New("session is closed")

// ErrNotFound is returned when no live session and no archived record exist
// for an ID.
var ErrNotFound = errors.New("session not found")

// GuardViolation reports an attempted phase transition outside the lifecycle
// graph. Violations are recorded in the ledger and the transition is refused;
// the session stays in its current phase.
type GuardViolation struct {
	From   types.Phase
	To     types.Phase
	Reason string
}

func (v *GuardViolation) Error() string {
	if v.Reason != "" {
		return fmt.Sprintf("illegal transition %s -> %s: %s", v.From, v.To, v.Reason)
	}
	return fmt.Sprintf("illegal transition %s -> %s", v.From, v.To)
}

// IsGuardViolation reports whether err is a guard violation.
func IsGuardViolation(err error) bool {
	var v *GuardViolation
	return errors.As(err, &v)
}

// transitions is the session lifecycle graph. ESCALATE is reachable from
// every non-terminal phase so the risk fast-path can preempt the normal flow,
// and CLOSE is reachable from everywhere because exits, revocations and
// timeouts can land at any time.
var transitions = map[types.Phase][]types.Phase{
	types.PhaseInit:        {types.PhaseConsented, types.PhaseEscalate, types.PhaseClose},
	types.PhaseConsented:   {types.PhaseTriage, types.PhaseEscalate, types.PhaseClose},
	types.PhaseTriage:      {types.PhaseSupportLoop, types.PhaseEscalate, types.PhaseClose},
	types.PhaseSupportLoop: {types.PhaseRiskCheck, types.PhaseResources, types.PhaseEscalate, types.PhaseClose},
	types.PhaseRiskCheck:   {types.PhaseSupportLoop, types.PhaseEscalate, types.PhaseClose},
	types.PhaseResources:   {types.PhaseSupportLoop, types.PhaseEscalate, types.PhaseClose},
	types.PhaseEscalate:    {types.PhaseClose},
	types.PhaseClose:       {},
}

// CanTransition reports whether the lifecycle graph contains the edge
// from -> to.
func CanTransition(from, to types.Phase) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// checkTransition validates an edge and returns a GuardViolation describing
// the refusal when the edge is not in the graph.
func checkTransition(from, to types.Phase) error {
	if !to.Valid() {
		return &GuardViolation{From: from, To: to, Reason: "unknown phase"}
	}
	if from.Terminal() {
		return &GuardViolation{From: from, To: to, Reason: "session is closed"}
	}
	if !CanTransition(from, to) {
		return &GuardViolation{From: from, To: to, Reason: "edge not in lifecycle graph"}
	}
	return nil
}
