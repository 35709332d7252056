// Package escalate coordinates the hand-off of a session to human support
// once risk preempts the normal phase flow. For CRITICAL severity the
// coordinator makes an emergency-number directive durable before the first
// hand-off attempt; attempts themselves are best-effort and bounded, and an
// exhausted plan resolves to FAILED rather than holding the session open.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	"github.com/careline-ai/careline/internal/ledger"
	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/internal/resource"
	"github.com/careline-ai/careline/pkg/types"
)

const (
	// DefaultChannel is the hand-off channel when none is configured.
	DefaultChannel = "crisis-team"
	// DefaultMaxAttempts bounds hand-off attempts per plan.
	DefaultMaxAttempts = 3
	// DefaultAttemptTimeout bounds one hand-off call.
	DefaultAttemptTimeout = 5 * time.Second
	// DefaultRetryInterval is the initial interval between attempts.
	DefaultRetryInterval = 500 * time.Millisecond

	// maxRetryInterval caps the exponential backoff between attempts.
	maxRetryInterval = 10 * time.Second
)

// ErrEscalationExhausted reports that every hand-off attempt failed and the
// plan resolved to FAILED. The session can and must still close.
var ErrEscalationExhausted = errors.New("escalation attempts exhausted")

// Coordinator drives escalation plans. Safe for concurrent use; each call to
// Escalate works on its own plan.
type Coordinator struct {
	transfer  Transfer
	directory *resource.Directory
	ledger    *ledger.Ledger
	cfg       types.EscalationConfig
}

// NewCoordinator builds a coordinator. transfer may be nil, in which case the
// simulated collaborator is used. directory may be nil; directives then fall
// back to the default emergency number.
func NewCoordinator(transfer Transfer, directory *resource.Directory, led *ledger.Ledger, cfg types.EscalationConfig) *Coordinator {
	if transfer == nil {
		transfer = &SimulatedTransfer{}
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = types.Duration(DefaultAttemptTimeout)
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = types.Duration(DefaultRetryInterval)
	}
	return &Coordinator{
		transfer:  transfer,
		directory: directory,
		ledger:    led,
		cfg:       cfg,
	}
}

// Escalate runs one escalation plan for a session and returns it resolved.
// summary is the sanitized context carried to the responder. The returned
// plan is always non-nil and terminal; err is ErrEscalationExhausted when it
// resolved FAILED.
func (c *Coordinator) Escalate(ctx context.Context, sessionID, locale string, severity types.Severity, summary string) (*types.EscalationPlan, error) {
	plan := &types.EscalationPlan{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Severity:  severity,
		Channel:   c.cfg.Channel,
		Priority:  priorityFor(severity),
		Status:    types.PlanPending,
		Created:   time.Now().UnixMilli(),
	}

	// The directive must be durable before any hand-off is tried: a user in
	// immediate danger gets the emergency number even if every transfer
	// attempt below fails.
	if severity >= types.SeverityCritical {
		d := c.directive(locale)
		plan.Directive = &d
		c.append(ctx, sessionID, types.EventEscalationDirective, types.EscalationDirectiveData{
			PlanID:          plan.ID,
			Severity:        severity,
			EmergencyNumber: d.EmergencyNumber,
			Text:            d.Text,
		})
	}

	plan.Status = types.PlanInProgress
	retry := newAttemptBackoff(ctx, c.cfg.RetryInterval.Std())

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		status, err := c.initiate(ctx, summary)

		rec := types.EscalationAttempt{
			Number: attempt,
			Status: status,
			Time:   time.Now().UnixMilli(),
		}
		if err != nil {
			rec.Error = err.Error()
		}
		plan.Attempts = append(plan.Attempts, rec)
		c.append(ctx, sessionID, types.EventEscalationAttempt, types.EscalationAttemptData{
			PlanID:  plan.ID,
			Attempt: attempt,
			Status:  status,
			Error:   rec.Error,
		})

		if err == nil && status == types.TransferConnected {
			c.resolve(ctx, plan, types.PlanCompleted)
			return plan, nil
		}

		logging.Warn().
			Str("sessionID", sessionID).
			Str("planID", plan.ID).
			Int("attempt", attempt).
			Str("status", string(status)).
			Err(err).
			Msg("hand-off attempt did not connect")

		if attempt == c.cfg.MaxAttempts {
			break
		}
		next := retry.NextBackOff()
		if next == backoff.Stop {
			break
		}
		select {
		case <-time.After(next):
		case <-ctx.Done():
			c.resolve(ctx, plan, types.PlanFailed)
			return plan, fmt.Errorf("%w: %v", ErrEscalationExhausted, ctx.Err())
		}
	}

	c.resolve(ctx, plan, types.PlanFailed)
	return plan, ErrEscalationExhausted
}

// initiate runs one bounded hand-off call.
func (c *Coordinator) initiate(ctx context.Context, summary string) (types.TransferStatus, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout.Std())
	defer cancel()

	status, err := c.transfer.Initiate(attemptCtx, summary)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("hand-off timed out after %s", c.cfg.AttemptTimeout)
	}
	if status == "" {
		status = types.TransferFailed
	}
	return status, err
}

func (c *Coordinator) resolve(ctx context.Context, plan *types.EscalationPlan, status types.PlanStatus) {
	plan.Status = status
	plan.Resolved = time.Now().UnixMilli()
	c.append(ctx, plan.SessionID, types.EventEscalationResolved, types.EscalationResolvedData{
		PlanID:   plan.ID,
		Status:   status,
		Attempts: len(plan.Attempts),
	})
	logging.Info().
		Str("sessionID", plan.SessionID).
		Str("planID", plan.ID).
		Str("status", string(status)).
		Int("attempts", len(plan.Attempts)).
		Msg("escalation resolved")
}

// directive builds the emergency instruction for the caller's region.
func (c *Coordinator) directive(locale string) types.Directive {
	number := "911"
	if c.directory != nil {
		number = c.directory.EmergencyNumber(locale)
	}
	return types.Directive{
		EmergencyNumber: number,
		Text:            directiveText(number),
	}
}

func directiveText(number string) string {
	return "I'm very concerned about your safety. You're not alone, and help is available right now. " +
		"If you are in immediate danger, please call " + number + " now. " +
		"You can also call or text 988 to reach the Suicide & Crisis Lifeline at any time. " +
		"I'll stay with you until you're connected with help."
}

// append records an audit event. Audit must land even when the turn context
// has already expired, so appends run detached from the caller's deadline and
// retry briefly before giving up. A lost audit event is logged, never allowed
// to stall the hand-off.
func (c *Coordinator) append(ctx context.Context, sessionID string, kind types.EventKind, payload any) {
	if c.ledger == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	err := backoff.Retry(func() error {
		_, aerr := c.ledger.Append(detached, sessionID, kind, payload)
		return aerr
	}, backoff.WithMaxRetries(b, 2))
	if err != nil {
		logging.Error().
			Err(err).
			Str("sessionID", sessionID).
			Str("kind", string(kind)).
			Msg("escalation event append failed")
	}
}

// newAttemptBackoff builds the jittered exponential backoff between hand-off
// attempts. Total attempts are bounded by count, not elapsed time.
func newAttemptBackoff(ctx context.Context, initial time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(b, ctx)
}

func priorityFor(severity types.Severity) string {
	if severity >= types.SeverityCritical {
		return "urgent"
	}
	return "high"
}
