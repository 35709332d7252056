package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/careline-ai/careline/internal/consent"
	"github.com/careline-ai/careline/internal/escalate"
	"github.com/careline-ai/careline/internal/generate"
	"github.com/careline-ai/careline/internal/ledger"
	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/internal/redact"
	"github.com/careline-ai/careline/internal/resource"
	"github.com/careline-ai/careline/internal/risk"
	"github.com/careline-ai/careline/internal/storage"
	"github.com/careline-ai/careline/pkg/types"
)

// Lifecycle defaults, applied when the corresponding config field is zero.
const (
	DefaultConsentTimeout = 5 * time.Minute
	DefaultIdleTimeout    = 30 * time.Minute
	DefaultHardTimeout    = 2 * time.Hour
	DefaultTriageTimeout  = 10 * time.Second
	DefaultSweepInterval  = 30 * time.Second
	DefaultMaxMessages    = 50
)

// maxHistory bounds the in-memory conversation context handed to the
// generator. Older exchanges fall off; the ledger keeps the full record.
const maxHistory = 8

// Deps are the collaborators a Registry orchestrates.
type Deps struct {
	Ledger    *ledger.Ledger
	Store     *storage.Storage
	Redactor  *redact.Redactor
	Monitor   *risk.Monitor
	Generator *generate.Service
	Escalator *escalate.Coordinator
	Directory *resource.Directory
}

// Registry owns every live session. All state reads and mutations for a
// session happen under that session's slot; the registry mutex only guards
// the map and the slot bookkeeping, so sessions never serialize against each
// other.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	ledger    *ledger.Ledger
	store     *storage.Storage
	redactor  *redact.Redactor
	monitor   *risk.Monitor
	generator *generate.Service
	escalator *escalate.Coordinator
	directory *resource.Directory

	cfg  types.SessionConfig
	risk types.RiskConfig
}

// entry is the live state of one session. busy marks a turn (or sweep close)
// in flight; waiters queue in arrival order and are all notified on release,
// then race to reacquire.
type entry struct {
	session types.Session
	history []generate.Exchange

	busy    bool
	waiters []chan error
}

// NewRegistry builds a registry. Zero lifecycle fields fall back to the
// package defaults.
func NewRegistry(cfg types.Config, deps Deps) *Registry {
	sc := cfg.Session
	if sc.ConsentTimeout <= 0 {
		sc.ConsentTimeout = types.Duration(DefaultConsentTimeout)
	}
	if sc.IdleTimeout <= 0 {
		sc.IdleTimeout = types.Duration(DefaultIdleTimeout)
	}
	if sc.HardTimeout <= 0 {
		sc.HardTimeout = types.Duration(DefaultHardTimeout)
	}
	if sc.TriageTimeout <= 0 {
		sc.TriageTimeout = types.Duration(DefaultTriageTimeout)
	}
	if sc.SweepInterval <= 0 {
		sc.SweepInterval = types.Duration(DefaultSweepInterval)
	}
	if sc.MaxMessages <= 0 {
		sc.MaxMessages = DefaultMaxMessages
	}
	rc := cfg.Risk
	if rc.EscalateAt <= 0 {
		rc.EscalateAt = types.SeverityHigh
	}
	if rc.EmergencyAt <= 0 {
		rc.EmergencyAt = types.SeverityCritical
	}
	return &Registry{
		entries:   make(map[string]*entry),
		ledger:    deps.Ledger,
		store:     deps.Store,
		redactor:  deps.Redactor,
		monitor:   deps.Monitor,
		generator: deps.Generator,
		escalator: deps.Escalator,
		directory: deps.Directory,
		cfg:       sc,
		risk:      rc,
	}
}

// Create opens a new session in INIT with consent pending. Metadata values
// pass through redaction before anything is stored.
func (r *Registry) Create(ctx context.Context, locale string, metadata map[string]string) (*types.Session, error) {
	if r.redactor != nil && len(metadata) > 0 {
		metadata = r.redactor.SanitizeMap(metadata)
	}
	now := time.Now().UnixMilli()
	s := types.Session{
		ID:       ulid.Make().String(),
		Phase:    types.PhaseInit,
		Consent:  types.ConsentPending,
		Locale:   resource.NormalizeLocale(locale),
		Metadata: metadata,
		Time:     types.SessionTime{Created: now, Updated: now},
	}

	if err := r.store.Put(ctx, []string{"session", s.ID}, &s); err != nil {
		return nil, err
	}
	if _, err := r.ledger.Append(ctx, s.ID, types.EventSessionCreated, types.SessionCreatedData{
		Locale:   s.Locale,
		Metadata: s.Metadata,
	}); err != nil {
		return nil, err
	}

	e := &entry{session: s}
	r.mu.Lock()
	r.entries[s.ID] = e
	r.mu.Unlock()

	logging.Info().Str("sessionID", s.ID).Str("locale", s.Locale).Msg("session created")
	return cloneSession(&s), nil
}

// Get returns the stored session record, live or archived.
func (r *Registry) Get(ctx context.Context, id string) (*types.Session, error) {
	var s types.Session
	err := r.store.Get(ctx, []string{"session", id}, &s)
	if errors.Is(err, storage.ErrNotFound) {
		err = r.store.Get(ctx, []string{"archive", id}, &s)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// List returns all open sessions, newest first.
func (r *Registry) List(ctx context.Context) ([]*types.Session, error) {
	var out []*types.Session
	err := r.store.Scan(ctx, []string{"session"}, func(key string, data json.RawMessage) error {
		var s types.Session
		if jerr := json.Unmarshal(data, &s); jerr != nil {
			logging.Warn().Err(jerr).Str("key", key).Msg("skipping unreadable session record")
			return nil
		}
		out = append(out, &s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Created > out[j].Time.Created })
	return out, nil
}

// Events replays a session's ledger from fromSeq on (inclusive; 0 means the
// full stream).
func (r *Registry) Events(ctx context.Context, id string, fromSeq uint64) ([]types.Event, error) {
	if !r.store.Exists(ctx, []string{"session", id}) && !r.store.Exists(ctx, []string{"archive", id}) {
		return nil, ErrNotFound
	}
	return r.ledger.Replay(ctx, id, fromSeq)
}

// Consent applies an API consent action. Grants move INIT to CONSENTED;
// revocations close the session, with reason consent_revoked after a grant
// and consent_denied before one.
func (r *Registry) Consent(ctx context.Context, id string, action consent.Action) (*types.TurnResult, error) {
	e, err := r.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer r.release(e)

	s := &e.session
	if s.Phase.Terminal() {
		return nil, ErrSessionClosed
	}

	res := &types.TurnResult{SessionID: s.ID, Phase: s.Phase}
	switch action {
	case consent.ActionGrant:
		if s.Consent == types.ConsentGranted {
			res.Reply = generate.ConsentGrantedReply
			return res, nil
		}
		r.append(ctx, s.ID, types.EventConsentGranted, types.ConsentData{Status: types.ConsentGranted, Source: "api"})
		s.Consent = types.ConsentGranted
		if s.Phase == types.PhaseInit {
			if err := r.transitionLocked(ctx, e, types.PhaseConsented, "consent granted"); err != nil {
				return nil, err
			}
		}
		res.Phase = s.Phase
		res.Reply = generate.ConsentGrantedReply
	case consent.ActionRevoke:
		if s.Consent == types.ConsentGranted {
			r.append(ctx, s.ID, types.EventConsentRevoked, types.ConsentData{Status: types.ConsentWithdrawn, Source: "api"})
			s.Consent = types.ConsentWithdrawn
			r.closeLocked(ctx, e, types.CloseConsentRevoked)
			res.Reply = generate.ConsentRevokedReply
		} else {
			r.append(ctx, s.ID, types.EventConsentDenied, types.ConsentData{Status: types.ConsentDenied, Source: "api"})
			s.Consent = types.ConsentDenied
			r.closeLocked(ctx, e, types.CloseConsentDenied)
			res.Reply = generate.ConsentDeniedReply
		}
		res.Phase = s.Phase
		res.Closed = true
		res.CloseReason = s.CloseReason
	}

	s.Time.Updated = time.Now().UnixMilli()
	r.persist(ctx, s)
	return res, nil
}

// Close force-closes a session with the given reason. Closing an already
// closed session returns ErrSessionClosed without recording anything.
func (r *Registry) Close(ctx context.Context, id string, reason types.CloseReason) (*types.Session, error) {
	e, err := r.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer r.release(e)

	if e.session.Phase.Terminal() {
		return nil, ErrSessionClosed
	}
	r.closeLocked(ctx, e, reason)
	return cloneSession(&e.session), nil
}

// acquire claims a session's processing slot, queueing behind an in-flight
// turn. Sessions not in memory are restored from their stored record; closed
// sessions surface ErrSessionClosed.
func (r *Registry) acquire(ctx context.Context, id string) (*entry, error) {
	for {
		r.mu.Lock()
		e, ok := r.entries[id]
		if !ok {
			r.mu.Unlock()
			if err := r.restore(ctx, id); err != nil {
				return nil, err
			}
			continue
		}
		if !e.busy {
			e.busy = true
			r.mu.Unlock()
			return e, nil
		}
		waiter := make(chan error, 1)
		e.waiters = append(e.waiters, waiter)
		r.mu.Unlock()

		select {
		case <-waiter:
			// Slot freed; race the other waiters for it.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// release frees a session's slot and wakes every waiter. Waiter channels are
// buffered so abandoned waiters never block the release.
func (r *Registry) release(e *entry) {
	r.mu.Lock()
	e.busy = false
	for _, w := range e.waiters {
		w <- nil
	}
	e.waiters = nil
	r.mu.Unlock()
}

// restore loads a stored session record into the live map. Records only
// exist under "session" while open, so an archived ID reports closed.
func (r *Registry) restore(ctx context.Context, id string) error {
	var s types.Session
	err := r.store.Get(ctx, []string{"session", id}, &s)
	if errors.Is(err, storage.ErrNotFound) {
		if r.store.Exists(ctx, []string{"archive", id}) {
			return ErrSessionClosed
		}
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if s.Phase.Terminal() {
		return ErrSessionClosed
	}

	r.mu.Lock()
	if _, ok := r.entries[id]; !ok {
		r.entries[id] = &entry{session: s}
	}
	r.mu.Unlock()
	return nil
}

// transitionLocked applies a phase change under the caller-held slot. An
// illegal edge is recorded as a guard.violation event and refused.
func (r *Registry) transitionLocked(ctx context.Context, e *entry, to types.Phase, reason string) error {
	s := &e.session
	if err := checkTransition(s.Phase, to); err != nil {
		var v *GuardViolation
		if errors.As(err, &v) {
			r.append(ctx, s.ID, types.EventGuardViolation, types.GuardViolationData{
				Phase:  v.From,
				Target: v.To,
				Reason: v.Reason,
			})
			logging.Error().Str("sessionID", s.ID).Str("from", string(v.From)).Str("to", string(v.To)).Msg("guard violation")
		}
		return err
	}
	r.append(ctx, s.ID, types.EventPhaseChanged, types.PhaseChangedData{From: s.Phase, To: to, Reason: reason})
	s.Phase = to
	return nil
}

// closeLocked moves a session to CLOSE, writes the archive record and drops
// the live entry. Callers must hold the slot and have checked the session is
// not already terminal.
func (r *Registry) closeLocked(ctx context.Context, e *entry, reason types.CloseReason) {
	s := &e.session
	now := time.Now().UnixMilli()

	if err := r.transitionLocked(ctx, e, types.PhaseClose, string(reason)); err != nil {
		logging.Error().Err(err).Str("sessionID", s.ID).Msg("close transition refused")
		return
	}
	s.CloseReason = reason
	s.Time.Closed = now
	s.Time.Updated = now
	r.append(ctx, s.ID, types.EventSessionClosed, types.SessionClosedData{Reason: reason})

	s.Time.Archived = now
	if err := r.store.Put(context.WithoutCancel(ctx), []string{"archive", s.ID}, s); err != nil {
		logging.Error().Err(err).Str("sessionID", s.ID).Msg("archive write failed")
	} else {
		if err := r.store.Delete(context.WithoutCancel(ctx), []string{"session", s.ID}); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logging.Warn().Err(err).Str("sessionID", s.ID).Msg("open record removal failed")
		}
		r.append(ctx, s.ID, types.EventSessionArchived, nil)
	}

	r.mu.Lock()
	delete(r.entries, s.ID)
	r.mu.Unlock()

	logging.Info().Str("sessionID", s.ID).Str("reason", string(reason)).Msg("session closed")
}

// append writes a ledger event detached from the caller's deadline: the
// audit record must land even when the originating request has expired.
// Failures are logged, never propagated; a safety flow is not interrupted
// for a bookkeeping write.
func (r *Registry) append(ctx context.Context, sessionID string, kind types.EventKind, payload any) {
	if _, err := r.ledger.Append(context.WithoutCancel(ctx), sessionID, kind, payload); err != nil {
		logging.Error().Err(err).Str("sessionID", sessionID).Str("kind", string(kind)).Msg("ledger append failed")
	}
}

// persist writes the session record through to storage. Runs under the slot,
// so records are never torn.
func (r *Registry) persist(ctx context.Context, s *types.Session) {
	if s.Phase.Terminal() {
		return // closeLocked already wrote the archive record
	}
	if err := r.store.Put(context.WithoutCancel(ctx), []string{"session", s.ID}, s); err != nil {
		logging.Error().Err(err).Str("sessionID", s.ID).Msg("session record write failed")
	}
}

func cloneSession(s *types.Session) *types.Session {
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	if s.RiskHistory != nil {
		out.RiskHistory = append([]types.RiskVerdict(nil), s.RiskHistory...)
	}
	return &out
}
