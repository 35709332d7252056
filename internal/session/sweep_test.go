package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline-ai/careline/internal/consent"
	"github.com/careline-ai/careline/pkg/types"
)

func ms(d time.Duration) types.Duration { return types.Duration(d) }

func TestSweepConsentTimeout(t *testing.T) {
	te := newTestEnv(t, withSessionConfig(types.SessionConfig{ConsentTimeout: ms(40 * time.Millisecond)}))
	ctx := context.Background()

	s, err := te.registry.Create(ctx, "en-US", nil)
	require.NoError(t, err)

	sw := NewSweeper(te.registry, types.ArchiveConfig{})
	time.Sleep(80 * time.Millisecond)
	sw.sweepSessions(ctx)

	got, err := te.registry.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseClose, got.Phase)
	assert.Equal(t, types.CloseConsentTimeout, got.CloseReason)
}

func TestSweepDeniedSessionEventuallyTimesOut(t *testing.T) {
	te := newTestEnv(t, withSessionConfig(types.SessionConfig{ConsentTimeout: ms(40 * time.Millisecond)}))
	ctx := context.Background()

	s, err := te.registry.Create(ctx, "en-US", nil)
	require.NoError(t, err)
	res, err := te.registry.ProcessTurn(ctx, s.ID, "no thanks")
	require.NoError(t, err)
	require.Equal(t, types.PhaseInit, res.Phase)

	sw := NewSweeper(te.registry, types.ArchiveConfig{})
	time.Sleep(80 * time.Millisecond)
	sw.sweepSessions(ctx)

	got, err := te.registry.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CloseConsentTimeout, got.CloseReason)
}

func TestSweepIdleTimeout(t *testing.T) {
	te := newTestEnv(t, withSessionConfig(types.SessionConfig{
		ConsentTimeout: ms(time.Hour),
		IdleTimeout:    ms(40 * time.Millisecond),
	}))
	ctx := context.Background()

	s, err := te.registry.Create(ctx, "en-US", nil)
	require.NoError(t, err)
	_, err = te.registry.Consent(ctx, s.ID, consent.ActionGrant)
	require.NoError(t, err)

	sw := NewSweeper(te.registry, types.ArchiveConfig{})
	time.Sleep(80 * time.Millisecond)
	sw.sweepSessions(ctx)

	got, err := te.registry.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CloseIdleTimeout, got.CloseReason)
}

func TestSweepHardTimeout(t *testing.T) {
	te := newTestEnv(t, withSessionConfig(types.SessionConfig{
		ConsentTimeout: ms(time.Hour),
		IdleTimeout:    ms(time.Hour),
		HardTimeout:    ms(40 * time.Millisecond),
	}))
	ctx := context.Background()

	s, err := te.registry.Create(ctx, "en-US", nil)
	require.NoError(t, err)
	_, err = te.registry.Consent(ctx, s.ID, consent.ActionGrant)
	require.NoError(t, err)

	sw := NewSweeper(te.registry, types.ArchiveConfig{})
	time.Sleep(80 * time.Millisecond)
	sw.sweepSessions(ctx)

	got, err := te.registry.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CloseHardTimeout, got.CloseReason)
}

func TestSweepActiveTurnResetsClock(t *testing.T) {
	te := newTestEnv(t, withSessionConfig(types.SessionConfig{
		ConsentTimeout: ms(time.Hour),
		IdleTimeout:    ms(60 * time.Millisecond),
	}))
	ctx := context.Background()

	s, err := te.registry.Create(ctx, "en-US", nil)
	require.NoError(t, err)
	_, err = te.registry.Consent(ctx, s.ID, consent.ActionGrant)
	require.NoError(t, err)

	// Activity keeps the session alive across what would otherwise be two
	// idle windows.
	sw := NewSweeper(te.registry, types.ArchiveConfig{})
	for i := 0; i < 3; i++ {
		time.Sleep(30 * time.Millisecond)
		_, err = te.registry.ProcessTurn(ctx, s.ID, "still here, thinking it through")
		require.NoError(t, err)
		sw.sweepSessions(ctx)
	}

	got, err := te.registry.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.NotEqual(t, types.PhaseClose, got.Phase)
}

func TestSweepWaitsForInFlightTurn(t *testing.T) {
	te := newTestEnv(t, withSessionConfig(types.SessionConfig{ConsentTimeout: ms(30 * time.Millisecond)}))
	ctx := context.Background()

	s, err := te.registry.Create(ctx, "en-US", nil)
	require.NoError(t, err)

	// Hold the session's slot as an in-flight turn would.
	e, err := te.registry.acquire(ctx, s.ID)
	require.NoError(t, err)

	sw := NewSweeper(te.registry, types.ArchiveConfig{})
	time.Sleep(60 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		sw.sweepSessions(ctx)
		close(done)
	}()

	// The sweep queues behind the slot instead of interrupting.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("sweep finished while the turn still held the slot")
	default:
	}
	got, err := te.registry.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseInit, got.Phase)

	te.registry.release(e)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not finish after the slot was released")
	}

	got, err = te.registry.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CloseConsentTimeout, got.CloseReason)
}

func TestSweepFindsSessionsFromPreviousRun(t *testing.T) {
	te := newTestEnv(t, withSessionConfig(types.SessionConfig{ConsentTimeout: ms(30 * time.Millisecond)}))
	ctx := context.Background()

	s, err := te.registry.Create(ctx, "en-US", nil)
	require.NoError(t, err)

	reborn := NewRegistry(te.cfg, Deps{
		Ledger:    te.registry.ledger,
		Store:     te.registry.store,
		Redactor:  te.registry.redactor,
		Monitor:   te.registry.monitor,
		Generator: te.registry.generator,
		Escalator: te.registry.escalator,
		Directory: te.registry.directory,
	})
	sw := NewSweeper(reborn, types.ArchiveConfig{})

	time.Sleep(60 * time.Millisecond)
	sw.sweepSessions(ctx)

	got, err := reborn.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CloseConsentTimeout, got.CloseReason)

	// The close was recorded in the ledger, continuing the audit trail.
	kinds := kindsOf(te.events(t, s.ID))
	assert.Contains(t, kinds, types.EventSessionClosed)
}

func TestArchiveRetentionPrunes(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	s, err := te.registry.Create(ctx, "en-US", nil)
	require.NoError(t, err)
	_, err = te.registry.Close(ctx, s.ID, types.CloseOperator)
	require.NoError(t, err)

	sw := NewSweeper(te.registry, types.ArchiveConfig{Retention: ms(30 * time.Millisecond)})
	time.Sleep(60 * time.Millisecond)
	sw.sweepArchive(ctx)

	_, err = te.registry.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = te.registry.Events(ctx, s.ID, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	evts, err := te.ledger.Replay(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, evts, "ledger events purged with the record")
}

func TestArchiveRetentionKeepsFreshRecords(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	s, err := te.registry.Create(ctx, "en-US", nil)
	require.NoError(t, err)
	_, err = te.registry.Close(ctx, s.ID, types.CloseOperator)
	require.NoError(t, err)

	sw := NewSweeper(te.registry, types.ArchiveConfig{Retention: ms(time.Hour)})
	sw.sweepArchive(ctx)

	got, err := te.registry.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseClose, got.Phase)
}

func TestSweeperLifecycle(t *testing.T) {
	te := newTestEnv(t, withSessionConfig(types.SessionConfig{
		ConsentTimeout: ms(25 * time.Millisecond),
		SweepInterval:  ms(10 * time.Millisecond),
	}))
	ctx := context.Background()

	s, err := te.registry.Create(ctx, "en-US", nil)
	require.NoError(t, err)

	sw := NewSweeper(te.registry, types.ArchiveConfig{})
	sw.Start()
	sw.Start() // idempotent
	defer sw.Stop()

	require.Eventually(t, func() bool {
		got, gerr := te.registry.Get(ctx, s.ID)
		return gerr == nil && got.Phase == types.PhaseClose
	}, 2*time.Second, 10*time.Millisecond)

	sw.Stop()
	sw.Stop() // idempotent
}
