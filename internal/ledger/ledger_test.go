package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline-ai/careline/internal/event"
	"github.com/careline-ai/careline/pkg/types"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(types.LedgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAssignsGaplessSeq(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		evt, err := l.Append(ctx, "s1", types.EventTurnProcessed, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), evt.Seq)
		assert.Equal(t, "s1", evt.SessionID)
		assert.Equal(t, types.EventTurnProcessed, evt.Kind)
		assert.NotZero(t, evt.Time)
	}

	last, err := l.LastSeq("s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)
}

func TestSeqIsPerSession(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	a, err := l.Append(ctx, "s1", types.EventSessionCreated, nil)
	require.NoError(t, err)
	b, err := l.Append(ctx, "s2", types.EventSessionCreated, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(1), b.Seq)
}

func TestPayloadRoundTrip(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	in := types.PhaseChangedData{From: types.PhaseInit, To: types.PhaseConsented, Reason: "consent granted"}
	_, err := l.Append(ctx, "s1", types.EventPhaseChanged, in)
	require.NoError(t, err)

	events, err := l.Replay(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)

	out, err := types.DecodePayload[types.PhaseChangedData](events[0])
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReplayFromSeq(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, "s1", types.EventTurnProcessed, nil)
		require.NoError(t, err)
	}

	tests := []struct {
		name    string
		from    uint64
		want    int
		firstAt uint64
	}{
		{"from start", 0, 5, 1},
		{"from one", 1, 5, 1},
		{"from middle", 3, 3, 3},
		{"past end", 10, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := l.Replay(ctx, "s1", tt.from)
			require.NoError(t, err)
			assert.Len(t, events, tt.want)
			if tt.want > 0 {
				assert.Equal(t, tt.firstAt, events[0].Seq)
			}
			for i := 1; i < len(events); i++ {
				assert.Equal(t, events[i-1].Seq+1, events[i].Seq)
			}
		})
	}
}

func TestReplayUnknownSession(t *testing.T) {
	l := openTestLedger(t)

	events, err := l.Replay(context.Background(), "nope", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSeqSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := types.LedgerConfig{Path: dir, SyncWrites: true}
	ctx := context.Background()

	l, err := Open(cfg)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, "s1", types.EventTurnProcessed, nil)
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	l, err = Open(cfg)
	require.NoError(t, err)
	defer l.Close()

	evt, err := l.Append(ctx, "s1", types.EventTurnProcessed, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), evt.Seq)

	events, err := l.Replay(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestReplayDetectsCorruption(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, "s1", types.EventTurnProcessed, nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, "s1", types.EventTurnProcessed, nil)
	require.NoError(t, err)

	// Flip the stored bytes under the second key.
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey("s1", 2), []byte("garbage"))
	})
	require.NoError(t, err)

	_, err = l.Replay(ctx, "s1", 1)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestReplayDetectsGap(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, "s1", types.EventTurnProcessed, nil)
		require.NoError(t, err)
	}
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(eventKey("s1", 2))
	})
	require.NoError(t, err)

	_, err = l.Replay(ctx, "s1", 1)
	assert.ErrorIs(t, err, ErrSequenceGap)
}

func TestReplayDetectsMissingHead(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Append(ctx, "s1", types.EventTurnProcessed, nil)
		require.NoError(t, err)
	}
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(eventKey("s1", 1))
	})
	require.NoError(t, err)

	_, err = l.Replay(ctx, "s1", 1)
	assert.ErrorIs(t, err, ErrSequenceGap)
}

func TestPurge(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, "s1", types.EventTurnProcessed, nil)
		require.NoError(t, err)
	}
	_, err := l.Append(ctx, "s2", types.EventSessionCreated, nil)
	require.NoError(t, err)

	n, err := l.Purge(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	events, err := l.Replay(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = l.Replay(ctx, "s2", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	n, err = l.Purge(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAppendPublishes(t *testing.T) {
	event.Reset()
	l := openTestLedger(t)

	var got []*types.Event
	unsub := event.Subscribe(event.PhaseChanged, func(e event.Event) {
		if data, ok := e.Data.(event.LedgerData); ok {
			got = append(got, data.Event)
		}
	})
	defer unsub()

	evt, err := l.Append(context.Background(), "s1", types.EventPhaseChanged, nil)
	require.NoError(t, err)

	// Publication is synchronous, so the subscriber has already run.
	require.Len(t, got, 1)
	assert.Equal(t, evt.Seq, got[0].Seq)
	assert.Equal(t, evt.SessionID, got[0].SessionID)
}

func TestConcurrentAppendsStayGapless(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	const goroutines = 4
	const perG = 25

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				_, err := l.Append(ctx, "s1", types.EventTurnProcessed, nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events, err := l.Replay(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, events, goroutines*perG)
	for i, evt := range events {
		assert.Equal(t, uint64(i+1), evt.Seq)
	}
}

func TestClosedLedger(t *testing.T) {
	l, err := Open(types.LedgerConfig{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err = l.Append(context.Background(), "s1", types.EventTurnProcessed, nil)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = l.Replay(context.Background(), "s1", 0)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = l.LastSeq("s1")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = l.Purge(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(types.LedgerConfig{})
	assert.Error(t, err)
}

func TestAppendHonorsContext(t *testing.T) {
	l := openTestLedger(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Append(ctx, "s1", types.EventTurnProcessed, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGCLoopStopsOnClose(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(types.LedgerConfig{Path: dir, GCInterval: types.Duration(10 * time.Millisecond)})
	require.NoError(t, err)

	_, err = l.Append(context.Background(), "s1", types.EventSessionCreated, nil)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, l.Close())
}
