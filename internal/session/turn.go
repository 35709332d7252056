package session

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/careline-ai/careline/internal/consent"
	"github.com/careline-ai/careline/internal/generate"
	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/pkg/types"
)

// ProcessTurn runs one user message through the pipeline: redact, record,
// assess risk, then act by phase. Turns on the same session are strictly
// serialized; the ledger receives events in admission order.
//
// Risk outranks everything else: a verdict at or above the escalation
// threshold preempts exits, consent handling and the normal phase flow.
func (r *Registry) ProcessTurn(ctx context.Context, sessionID, text string) (*types.TurnResult, error) {
	e, err := r.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer r.release(e)

	s := &e.session
	if s.Phase.Terminal() {
		return nil, ErrSessionClosed
	}

	now := time.Now().UnixMilli()
	sanitized, entities, rerr := r.redactor.Redact(text)
	if rerr != nil {
		// The redactor fails closed: sanitized is a full mask here. The turn
		// proceeds on it so the session keeps helping, raw text stays local.
		logging.Error().Err(rerr).Str("sessionID", s.ID).Msg("redaction degraded to full mask")
	}

	turn := types.Turn{
		ID:        ulid.Make().String(),
		SessionID: s.ID,
		Text:      text,
		Sanitized: sanitized,
		Entities:  entities,
		Phase:     s.Phase,
		Time:      now,
	}

	// Commit point: a turn that cannot be recorded is not processed.
	if _, err := r.ledger.Append(context.WithoutCancel(ctx), s.ID, types.EventTurnProcessed, types.TurnProcessedData{
		TurnID:    turn.ID,
		Phase:     turn.Phase,
		Sanitized: turn.Sanitized,
		Entities:  turn.Entities,
	}); err != nil {
		return nil, err
	}
	s.MessageCount++
	s.Time.Updated = now

	verdict := r.monitor.Assess(ctx, sanitized, s.RiskHistory)
	kind := types.EventRiskAssessed
	if verdict.Degraded {
		kind = types.EventRiskDegraded
		s.Degraded = true
	}
	r.append(ctx, s.ID, kind, types.RiskAssessedData{TurnID: turn.ID, Verdict: verdict})
	s.RiskHistory = append(s.RiskHistory, verdict)

	res := &types.TurnResult{SessionID: s.ID, TurnID: turn.ID, Verdict: verdict}

	if verdict.Severity >= r.risk.EscalateAt {
		r.escalateLocked(ctx, e, &turn, verdict, res)
	} else {
		r.handleLocked(ctx, e, &turn, verdict, res)
	}

	// The capping turn is still fully processed; only further turns are
	// refused.
	if !s.Phase.Terminal() && s.MessageCount >= r.cfg.MaxMessages {
		r.closeLocked(ctx, e, types.CloseMessageCap)
		res.Reply = generate.SessionLimitReply
	}

	if s.Phase.Terminal() {
		res.Closed = true
		res.CloseReason = s.CloseReason
	}
	res.Phase = s.Phase
	r.persist(ctx, s)
	return res, nil
}

// escalateLocked runs the risk fast path: move to ESCALATE, hand off, then
// close. The coordinator surfaces the emergency directive before any
// transfer attempt on CRITICAL verdicts.
func (r *Registry) escalateLocked(ctx context.Context, e *entry, turn *types.Turn, verdict types.RiskVerdict, res *types.TurnResult) {
	s := &e.session
	if err := r.transitionLocked(ctx, e, types.PhaseEscalate, "risk severity "+verdict.Severity.String()); err != nil {
		res.Reply = generate.FallbackReply(s.Phase)
		return
	}

	plan, err := r.escalator.Escalate(ctx, s.ID, s.Locale, verdict.Severity, handOffSummary(s, turn.Sanitized, verdict))
	if err != nil {
		logging.Error().Err(err).Str("sessionID", s.ID).Msg("escalation did not connect")
	}
	s.PlanID = plan.ID
	res.Plan = plan

	bundle := r.deliverLocked(ctx, e, categoryFor(verdict))
	res.Bundle = bundle
	res.Reply = escalationReply(plan, bundle)

	r.closeLocked(ctx, e, types.CloseEscalationComplete)
}

// handleLocked is the normal-path dispatch once risk has cleared the turn.
func (r *Registry) handleLocked(ctx context.Context, e *entry, turn *types.Turn, verdict types.RiskVerdict, res *types.TurnResult) {
	s := &e.session

	// An explicit goodbye ends the session from any phase.
	if consent.IsExit(turn.Text) {
		r.closeLocked(ctx, e, types.CloseUserExit)
		res.Reply = generate.ExitReply
		return
	}
	// As does taking consent back once it was given.
	if s.Consent == types.ConsentGranted && consent.Interpret(turn.Text) == consent.DecisionRevoked {
		r.append(ctx, s.ID, types.EventConsentRevoked, types.ConsentData{Status: types.ConsentWithdrawn, Source: "turn"})
		s.Consent = types.ConsentWithdrawn
		r.closeLocked(ctx, e, types.CloseConsentRevoked)
		res.Reply = generate.ConsentRevokedReply
		return
	}

	switch s.Phase {
	case types.PhaseInit:
		r.initLocked(ctx, e, turn, res)
	case types.PhaseConsented:
		// Consent came through the API; this first message is the concern.
		if err := r.transitionLocked(ctx, e, types.PhaseTriage, "intake"); err != nil {
			res.Reply = generate.FallbackReply(s.Phase)
			return
		}
		r.triageLocked(ctx, e, turn, res)
	case types.PhaseTriage:
		r.triageLocked(ctx, e, turn, res)
	case types.PhaseSupportLoop:
		r.supportLocked(ctx, e, turn, verdict, res)
	default:
		res.Reply = generate.FallbackReply(s.Phase)
	}
}

// initLocked interprets the consent response. A grant moves straight through
// CONSENTED into TRIAGE; a refusal keeps the session in INIT until the
// consent timeout sweeps it, leaving the door open to a changed mind.
func (r *Registry) initLocked(ctx context.Context, e *entry, turn *types.Turn, res *types.TurnResult) {
	s := &e.session
	switch consent.Interpret(turn.Text) {
	case consent.DecisionGranted:
		r.append(ctx, s.ID, types.EventConsentGranted, types.ConsentData{Status: types.ConsentGranted, Source: "turn"})
		s.Consent = types.ConsentGranted
		if err := r.transitionLocked(ctx, e, types.PhaseConsented, "consent granted"); err != nil {
			return
		}
		if err := r.transitionLocked(ctx, e, types.PhaseTriage, "intake"); err != nil {
			return
		}
		res.Reply = generate.ConsentGrantedReply
	case consent.DecisionDenied, consent.DecisionRevoked:
		// Nothing was granted yet, so a revocation here is a refusal.
		r.append(ctx, s.ID, types.EventConsentDenied, types.ConsentData{Status: types.ConsentDenied, Source: "turn"})
		s.Consent = types.ConsentDenied
		res.Reply = generate.ConsentDeniedReply
	default:
		res.Reply = generate.ConsentPrompt
	}
}

// triageLocked condenses the presenting concern and opens the support loop.
// Summary generation is bounded; on timeout the sanitized concern itself is
// carried forward and the session is marked degraded.
func (r *Registry) triageLocked(ctx context.Context, e *entry, turn *types.Turn, res *types.TurnResult) {
	s := &e.session

	tctx, cancel := context.WithTimeout(ctx, r.cfg.TriageTimeout.Std())
	summary, degraded := r.generator.TriageSummary(tctx, turn.Sanitized)
	cancel()
	s.TriageSummary = summary
	if degraded {
		s.Degraded = true
	}

	if err := r.transitionLocked(ctx, e, types.PhaseSupportLoop, "triage complete"); err != nil {
		return
	}
	reply, _ := r.generator.Reply(ctx, types.PhaseSupportLoop, e.history, turn.Sanitized)
	res.Reply = reply
	e.pushHistory(turn.Sanitized, reply)
}

// supportLocked handles a support-loop turn. A resource request detours
// through RESOURCES and straight back; everything else is a supportive
// reply.
func (r *Registry) supportLocked(ctx context.Context, e *entry, turn *types.Turn, verdict types.RiskVerdict, res *types.TurnResult) {
	s := &e.session

	if wantsResources(turn.Text) {
		if err := r.transitionLocked(ctx, e, types.PhaseResources, "resource request"); err != nil {
			res.Reply = generate.FallbackReply(s.Phase)
			return
		}
		bundle := r.deliverLocked(ctx, e, requestCategory(turn.Text, verdict))
		res.Bundle = bundle
		if err := r.transitionLocked(ctx, e, types.PhaseSupportLoop, "resources delivered"); err != nil {
			return
		}
		reply := formatResources(bundle)
		res.Reply = reply
		e.pushHistory(turn.Sanitized, reply)
		return
	}

	reply, _ := r.generator.Reply(ctx, types.PhaseSupportLoop, e.history, turn.Sanitized)
	res.Reply = reply
	e.pushHistory(turn.Sanitized, reply)
}

// deliverLocked looks up directory entries and records the delivery. A
// failed lookup returns nil; callers fall back to text without a bundle.
func (r *Registry) deliverLocked(ctx context.Context, e *entry, category string) *types.ResourceBundle {
	s := &e.session
	bundle, err := r.directory.Lookup(s.Locale, category)
	if err != nil {
		logging.Error().Err(err).Str("sessionID", s.ID).Str("category", category).Msg("resource lookup failed")
		return nil
	}
	ids := make([]string, 0, len(bundle.Resources))
	for _, rs := range bundle.Resources {
		ids = append(ids, rs.ID)
	}
	r.append(ctx, s.ID, types.EventResourceDelivered, types.ResourceDeliveredData{
		Locale:   bundle.Locale,
		Category: category,
		Count:    len(bundle.Resources),
		IDs:      ids,
	})
	return bundle
}

func (e *entry) pushHistory(user, assistant string) {
	e.history = append(e.history, generate.Exchange{User: user, Assistant: assistant})
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}

// handOffSummary builds the sanitized context passed to the crisis team.
func handOffSummary(s *types.Session, lastSanitized string, verdict types.RiskVerdict) string {
	var b strings.Builder
	if s.TriageSummary != "" {
		b.WriteString("Concern: ")
		b.WriteString(s.TriageSummary)
		b.WriteString(". ")
	}
	b.WriteString("Latest message: ")
	b.WriteString(lastSanitized)
	b.WriteString(". Severity: ")
	b.WriteString(verdict.Severity.String())
	return b.String()
}

// resourceRequests are the phrasings that route a support-loop turn through
// RESOURCES.
var resourceRequests = []string{
	"resource", "hotline", "helpline", "help line", "crisis line",
	"phone number", "number to call", "number i can call", "who can i call",
	"who do i call", "someone to talk to", "talk to someone",
	"support group", "therapist", "therapy", "counseling", "counselling",
}

func wantsResources(text string) bool {
	t := strings.ToLower(text)
	for _, phrase := range resourceRequests {
		if strings.Contains(t, phrase) {
			return true
		}
	}
	return false
}

// requestCategory picks the directory category for an explicit request,
// preferring what the user named over what the risk signals suggest.
func requestCategory(text string, verdict types.RiskVerdict) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "suicide"):
		return "suicide"
	case strings.Contains(t, "substance") || strings.Contains(t, "alcohol") ||
		strings.Contains(t, "drug") || strings.Contains(t, "addiction"):
		return "substance"
	case strings.Contains(t, "abuse") || strings.Contains(t, "domestic"):
		return "domestic_violence"
	case strings.Contains(t, "veteran"):
		return "veterans"
	case strings.Contains(t, "lgbt") || strings.Contains(t, "queer"):
		return "lgbtq"
	}
	return categoryFor(verdict)
}

// categoryFor maps the strongest risk signal to a directory category.
func categoryFor(verdict types.RiskVerdict) string {
	strongest := types.RiskOther
	top := types.SeverityNone
	for _, sig := range verdict.Signals {
		if sig.Category == types.RiskOther {
			continue
		}
		if sig.Severity > top {
			top = sig.Severity
			strongest = sig.Category
		}
	}
	switch strongest {
	case types.RiskSuicide, types.RiskSelfHarm:
		return "suicide"
	case types.RiskAbuse:
		return "domestic_violence"
	case types.RiskSubstance:
		return "substance"
	default:
		return "crisis"
	}
}

// formatResources renders a bundle as reply text.
func formatResources(bundle *types.ResourceBundle) string {
	if bundle == nil || len(bundle.Resources) == 0 {
		return "I wasn't able to pull up the directory just now. If you are in immediate danger, call your local emergency number. In the US you can call or text 988 at any time."
	}
	var b strings.Builder
	b.WriteString("Here are some resources that can help:\n")
	for _, rs := range bundle.Resources {
		b.WriteString("\n- ")
		b.WriteString(rs.Name)
		if rs.Phone != "" {
			b.WriteString(": ")
			b.WriteString(rs.Phone)
		}
		if rs.Text != "" {
			b.WriteString(" (")
			b.WriteString(rs.Text)
			b.WriteString(")")
		}
		if rs.Available247 {
			b.WriteString(", available 24/7")
		}
	}
	if bundle.EmergencyNumber != "" {
		b.WriteString("\n\nIf you are in immediate danger, call ")
		b.WriteString(bundle.EmergencyNumber)
		b.WriteString(".")
	}
	return b.String()
}

// escalationReply builds the user-facing text for an escalated turn. The
// emergency directive, when present, always leads.
func escalationReply(plan *types.EscalationPlan, bundle *types.ResourceBundle) string {
	var b strings.Builder
	if plan.Directive != nil {
		b.WriteString(plan.Directive.Text)
	} else {
		b.WriteString(generate.EscalationNoticeReply)
	}
	switch plan.Status {
	case types.PlanCompleted:
		b.WriteString("\n\nYou're being connected with a trained counselor now. Please stay with me until they pick up.")
	default:
		b.WriteString("\n\nI wasn't able to reach the crisis team directly. Please use the numbers below right now.")
	}
	if bundle != nil && len(bundle.Resources) > 0 {
		b.WriteString("\n\n")
		b.WriteString(formatResources(bundle))
	}
	return b.String()
}
