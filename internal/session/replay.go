package session

import (
	"errors"
	"fmt"

	"github.com/careline-ai/careline/pkg/types"
)

// Replay folds a session's full event stream back into the session state it
// produced. The stream is verified as it folds: sequence numbers must be
// gapless and every phase change must be a legal lifecycle edge, so a
// tampered or corrupted ledger is rejected rather than trusted.
//
// Replay is deterministic: the same events always produce the same phase,
// consent status, risk history and close reason.
func Replay(events []types.Event) (*types.Session, error) {
	if len(events) == 0 {
		return nil, errors.New("empty event stream")
	}
	first := events[0]
	if first.Kind != types.EventSessionCreated {
		return nil, fmt.Errorf("stream starts with %s, want %s", first.Kind, types.EventSessionCreated)
	}
	created, err := types.DecodePayload[types.SessionCreatedData](first)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", first.Kind, err)
	}

	s := &types.Session{
		ID:       first.SessionID,
		Phase:    types.PhaseInit,
		Consent:  types.ConsentPending,
		Locale:   created.Locale,
		Metadata: created.Metadata,
		Time:     types.SessionTime{Created: first.Time, Updated: first.Time},
	}

	lastSeq := first.Seq
	for _, evt := range events[1:] {
		if evt.SessionID != s.ID {
			return nil, fmt.Errorf("event %d belongs to session %s, want %s", evt.Seq, evt.SessionID, s.ID)
		}
		if evt.Seq != lastSeq+1 {
			return nil, fmt.Errorf("sequence gap: %d -> %d", lastSeq, evt.Seq)
		}
		lastSeq = evt.Seq
		s.Time.Updated = evt.Time

		switch evt.Kind {
		case types.EventPhaseChanged:
			d, err := types.DecodePayload[types.PhaseChangedData](evt)
			if err != nil {
				return nil, fmt.Errorf("decode %s at seq %d: %w", evt.Kind, evt.Seq, err)
			}
			if d.From != s.Phase {
				return nil, fmt.Errorf("seq %d: transition from %s but session is in %s", evt.Seq, d.From, s.Phase)
			}
			if err := checkTransition(d.From, d.To); err != nil {
				return nil, fmt.Errorf("seq %d: %w", evt.Seq, err)
			}
			s.Phase = d.To
			if d.To == types.PhaseClose {
				s.Time.Closed = evt.Time
				if s.CloseReason == "" {
					s.CloseReason = types.CloseReason(d.Reason)
				}
			}
		case types.EventTurnProcessed:
			s.MessageCount++
		case types.EventRiskAssessed, types.EventRiskDegraded:
			d, err := types.DecodePayload[types.RiskAssessedData](evt)
			if err != nil {
				return nil, fmt.Errorf("decode %s at seq %d: %w", evt.Kind, evt.Seq, err)
			}
			s.RiskHistory = append(s.RiskHistory, d.Verdict)
			if evt.Kind == types.EventRiskDegraded {
				s.Degraded = true
			}
		case types.EventConsentGranted, types.EventConsentDenied, types.EventConsentRevoked:
			d, err := types.DecodePayload[types.ConsentData](evt)
			if err != nil {
				return nil, fmt.Errorf("decode %s at seq %d: %w", evt.Kind, evt.Seq, err)
			}
			s.Consent = d.Status
		case types.EventEscalationDirective:
			d, err := types.DecodePayload[types.EscalationDirectiveData](evt)
			if err != nil {
				return nil, fmt.Errorf("decode %s at seq %d: %w", evt.Kind, evt.Seq, err)
			}
			s.PlanID = d.PlanID
		case types.EventEscalationResolved:
			d, err := types.DecodePayload[types.EscalationResolvedData](evt)
			if err != nil {
				return nil, fmt.Errorf("decode %s at seq %d: %w", evt.Kind, evt.Seq, err)
			}
			s.PlanID = d.PlanID
		case types.EventSessionClosed:
			d, err := types.DecodePayload[types.SessionClosedData](evt)
			if err != nil {
				return nil, fmt.Errorf("decode %s at seq %d: %w", evt.Kind, evt.Seq, err)
			}
			s.CloseReason = d.Reason
		case types.EventSessionArchived:
			s.Time.Archived = evt.Time
		}
	}
	return s, nil
}

// Verify checks a session's event stream for gaps and illegal transitions
// without caring about the folded state.
func Verify(events []types.Event) error {
	_, err := Replay(events)
	return err
}
