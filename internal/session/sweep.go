package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/pkg/types"
)

// Archive defaults, applied when the corresponding config field is zero.
const (
	DefaultArchiveRetention     = 168 * time.Hour
	DefaultArchiveSweepInterval = time.Hour
)

// Sweeper closes sessions whose lifecycle timeouts have expired and prunes
// archived records past retention. A sweep-triggered close queues on the
// session's slot exactly like a turn: it waits for in-flight processing and
// never interrupts it.
type Sweeper struct {
	registry *Registry
	interval time.Duration

	retention       time.Duration
	archiveInterval time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper builds a sweeper over the registry's lifecycle config.
func NewSweeper(r *Registry, archive types.ArchiveConfig) *Sweeper {
	retention := archive.Retention.Std()
	if retention <= 0 {
		retention = DefaultArchiveRetention
	}
	archiveInterval := archive.SweepInterval.Std()
	if archiveInterval <= 0 {
		archiveInterval = DefaultArchiveSweepInterval
	}
	return &Sweeper{
		registry:        r,
		interval:        r.cfg.SweepInterval.Std(),
		retention:       retention,
		archiveInterval: archiveInterval,
	}
}

// Start launches the sweep loop. Starting a started sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run()
	logging.Debug().Dur("interval", s.interval).Dur("retention", s.retention).Msg("session sweeper started")
}

// Stop halts the loop and waits for an in-progress pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()
	<-s.doneCh
}

func (s *Sweeper) run() {
	defer close(s.doneCh)
	sessions := time.NewTicker(s.interval)
	defer sessions.Stop()
	archive := time.NewTicker(s.archiveInterval)
	defer archive.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-sessions.C:
			s.sweepSessions(context.Background())
		case <-archive.C:
			s.sweepArchive(context.Background())
		}
	}
}

// sweepSessions closes every open session whose timeout has expired. The
// stored records are the candidate source, so sessions from a previous
// process run are swept too.
func (s *Sweeper) sweepSessions(ctx context.Context) {
	now := time.Now().UnixMilli()
	type candidate struct {
		id     string
		reason types.CloseReason
	}
	var candidates []candidate
	err := s.registry.store.Scan(ctx, []string{"session"}, func(key string, data json.RawMessage) error {
		var sess types.Session
		if jerr := json.Unmarshal(data, &sess); jerr != nil {
			logging.Warn().Err(jerr).Str("key", key).Msg("skipping unreadable session record")
			return nil
		}
		if reason, expired := expiry(&sess, s.registry.cfg, now); expired {
			candidates = append(candidates, candidate{id: sess.ID, reason: reason})
		}
		return nil
	})
	if err != nil {
		logging.Error().Err(err).Msg("session sweep scan failed")
		return
	}

	for _, c := range candidates {
		s.expire(ctx, c.id, c.reason)
	}
}

// expire re-checks the timeout under the session's slot before closing: a
// turn admitted after the scan resets the clock.
func (s *Sweeper) expire(ctx context.Context, id string, scanned types.CloseReason) {
	e, err := s.registry.acquire(ctx, id)
	if err != nil {
		return // closed or gone since the scan
	}
	defer s.registry.release(e)

	if e.session.Phase.Terminal() {
		return
	}
	reason, expired := expiry(&e.session, s.registry.cfg, time.Now().UnixMilli())
	if !expired {
		return
	}
	logging.Info().Str("sessionID", id).Str("scanned", string(scanned)).Str("reason", string(reason)).Msg("sweeping expired session")
	s.registry.closeLocked(ctx, e, reason)
}

// expiry evaluates the lifecycle timeouts. The hard ceiling outranks the
// consent window, which outranks idleness.
func expiry(sess *types.Session, cfg types.SessionConfig, now int64) (types.CloseReason, bool) {
	age := now - sess.Time.Created
	idle := now - sess.Time.Updated
	switch {
	case age >= cfg.HardTimeout.Std().Milliseconds():
		return types.CloseHardTimeout, true
	case sess.Phase == types.PhaseInit && sess.Consent != types.ConsentGranted &&
		age >= cfg.ConsentTimeout.Std().Milliseconds():
		return types.CloseConsentTimeout, true
	case idle >= cfg.IdleTimeout.Std().Milliseconds():
		return types.CloseIdleTimeout, true
	}
	return "", false
}

// sweepArchive deletes archived records past retention and purges their
// ledger events.
func (s *Sweeper) sweepArchive(ctx context.Context) {
	now := time.Now().UnixMilli()
	var expired []string
	err := s.registry.store.Scan(ctx, []string{"archive"}, func(key string, data json.RawMessage) error {
		var sess types.Session
		if jerr := json.Unmarshal(data, &sess); jerr != nil {
			logging.Warn().Err(jerr).Str("key", key).Msg("skipping unreadable archive record")
			return nil
		}
		closed := sess.Time.Closed
		if closed == 0 {
			closed = sess.Time.Updated
		}
		if now-closed >= s.retention.Milliseconds() {
			expired = append(expired, sess.ID)
		}
		return nil
	})
	if err != nil {
		logging.Error().Err(err).Msg("archive sweep scan failed")
		return
	}

	for _, id := range expired {
		if err := s.registry.store.Delete(ctx, []string{"archive", id}); err != nil {
			logging.Error().Err(err).Str("sessionID", id).Msg("archive prune failed")
			continue
		}
		purged, err := s.registry.ledger.Purge(ctx, id)
		if err != nil {
			logging.Error().Err(err).Str("sessionID", id).Msg("ledger purge failed")
			continue
		}
		logging.Info().Str("sessionID", id).Int("events", purged).Msg("archived session pruned")
	}
}
