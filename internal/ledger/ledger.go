// Package ledger is the append-only event store behind session replay and
// audit. Events live in badger under evt/<sessionID>/<seq> keys with a CRC32
// checksum prefix. Sequence numbers are gapless and strictly increasing within
// a session; every append is published to the event bus once it is durable.
package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/careline-ai/careline/internal/event"
	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/pkg/types"
)

const (
	eventKeyPrefix = "evt/"
	gcDiscardRatio = 0.5
)

var (
	// ErrClosed is returned by operations on a closed ledger.
	ErrClosed = errors.New("ledger is closed")

	// ErrCorrupted reports an entry that failed its integrity check.
	ErrCorrupted = errors.New("ledger entry corrupted")

	// ErrSequenceGap reports a hole in a session's event sequence.
	ErrSequenceGap = errors.New("ledger sequence gap")
)

// Ledger is a badger-backed append-only event store. Safe for concurrent use.
type Ledger struct {
	db *badger.DB

	mu       sync.Mutex
	sessions map[string]*sessionSeq

	closed atomic.Bool
	gcStop chan struct{}
	gcDone chan struct{}
}

// sessionSeq serializes appends for one session. next is the sequence the
// next event will take; it is only advanced after a successful write, so a
// failed write cannot leave a gap.
type sessionSeq struct {
	mu   sync.Mutex
	next uint64
	init bool
}

// Open opens the ledger at cfg.Path, or in memory when cfg.InMemory is set.
func Open(cfg types.LedgerConfig) (*Ledger, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("ledger path is required for persistent mode")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	l := &Ledger{db: db, sessions: make(map[string]*sessionSeq)}
	if interval := cfg.GCInterval.Std(); interval > 0 && !cfg.InMemory {
		l.gcStop = make(chan struct{})
		l.gcDone = make(chan struct{})
		go l.runGC(interval)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("inMemory", cfg.InMemory).
		Bool("syncWrites", cfg.SyncWrites).
		Msg("ledger opened")
	return l, nil
}

// Append stores one event for sessionID and returns it with its assigned
// sequence number. payload may be nil; otherwise it is JSON-marshaled. The
// appended event is published on the event bus before Append returns.
func (l *Ledger) Append(ctx context.Context, sessionID string, kind types.EventKind, payload any) (*types.Event, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, errors.New("session id must not be empty")
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}

	seqs := l.sessionSeqs(sessionID)
	seqs.mu.Lock()
	defer seqs.mu.Unlock()

	if !seqs.init {
		last, err := l.lastStoredSeq(sessionID)
		if err != nil {
			return nil, err
		}
		seqs.next = last + 1
		seqs.init = true
	}

	evt := &types.Event{
		SessionID: sessionID,
		Seq:       seqs.next,
		Kind:      kind,
		Time:      time.Now().UnixMilli(),
		Payload:   raw,
	}

	value, err := encodeEvent(evt)
	if err != nil {
		return nil, err
	}
	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(sessionID, evt.Seq), value)
	})
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	seqs.next++

	// Synchronous publish preserves per-session ordering for subscribers;
	// anything slow behind the bus must buffer on its own.
	event.PublishSync(event.FromLedger(evt))
	return evt, nil
}

// Replay returns sessionID's events with Seq >= fromSeq, in order. The whole
// stored sequence is validated on the way: a checksum mismatch or a gap fails
// the replay rather than returning a silently incomplete history. An unknown
// session replays as empty.
func (l *Ledger) Replay(ctx context.Context, sessionID string, fromSeq uint64) ([]types.Event, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(sessionPrefix(sessionID))
	var events []types.Event
	var lastSeq uint64

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			seq, err := parseSeq(prefix, item.Key())
			if err != nil {
				return err
			}
			if lastSeq == 0 && seq != 1 {
				return fmt.Errorf("%w: expected 1, got %d", ErrSequenceGap, seq)
			}
			if lastSeq > 0 && seq != lastSeq+1 {
				return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, lastSeq+1, seq)
			}
			lastSeq = seq
			if seq < fromSeq {
				continue
			}
			err = item.Value(func(val []byte) error {
				evt, err := decodeEvent(val)
				if err != nil {
					return fmt.Errorf("seq %d: %w", seq, err)
				}
				if evt.Seq != seq || evt.SessionID != sessionID {
					return fmt.Errorf("%w: key seq %d holds event %s/%d", ErrCorrupted, seq, evt.SessionID, evt.Seq)
				}
				events = append(events, evt)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// LastSeq returns the highest sequence stored for sessionID, 0 when the
// session has no events.
func (l *Ledger) LastSeq(sessionID string) (uint64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	seqs := l.sessionSeqs(sessionID)
	seqs.mu.Lock()
	defer seqs.mu.Unlock()

	if !seqs.init {
		last, err := l.lastStoredSeq(sessionID)
		if err != nil {
			return 0, err
		}
		seqs.next = last + 1
		seqs.init = true
	}
	return seqs.next - 1, nil
}

// Purge removes every event for sessionID. The archive sweep calls this once
// a closed session ages out of retention.
func (l *Ledger) Purge(ctx context.Context, sessionID string) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	prefix := []byte(sessionPrefix(sessionID))
	var keys [][]byte
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan session events: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	// WriteBatch sidesteps the max-transaction-size limit on long sessions.
	wb := l.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("delete event: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("purge session: %w", err)
	}

	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()

	logging.Debug().Str("sessionID", sessionID).Int("events", len(keys)).Msg("ledger purged session")
	return len(keys), nil
}

// Close stops background GC and closes the store. Idempotent.
func (l *Ledger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if l.gcStop != nil {
		close(l.gcStop)
		<-l.gcDone
	}
	return l.db.Close()
}

func (l *Ledger) sessionSeqs(sessionID string) *sessionSeq {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[sessionID]
	if !ok {
		s = &sessionSeq{}
		l.sessions[sessionID] = s
	}
	return s
}

// lastStoredSeq finds the highest stored sequence by seeking to the end of
// the session's key range and reading one key backwards.
func (l *Ledger) lastStoredSeq(sessionID string) (uint64, error) {
	prefix := []byte(sessionPrefix(sessionID))
	var last uint64
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if it.ValidForPrefix(prefix) {
			seq, err := parseSeq(prefix, it.Item().Key())
			if err != nil {
				return err
			}
			last = seq
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan last seq: %w", err)
	}
	return last, nil
}

func (l *Ledger) runGC(interval time.Duration) {
	defer close(l.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.gcStop:
			return
		case <-ticker.C:
			err := l.db.RunValueLogGC(gcDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("ledger value log gc")
			}
		}
	}
}

func sessionPrefix(sessionID string) string {
	return eventKeyPrefix + sessionID + "/"
}

func eventKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", sessionPrefix(sessionID), seq))
}

func parseSeq(prefix, key []byte) (uint64, error) {
	seq, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed ledger key %q: %w", key, err)
	}
	return seq, nil
}

// Value format: [4-byte big-endian CRC32 of the JSON][JSON event].

func encodeEvent(evt *types.Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], crc32.ChecksumIEEE(data))
	copy(buf[4:], data)
	return buf, nil
}

func decodeEvent(value []byte) (types.Event, error) {
	var evt types.Event
	if len(value) < 5 {
		return evt, fmt.Errorf("%w: entry too short", ErrCorrupted)
	}
	stored := binary.BigEndian.Uint32(value[:4])
	data := value[4:]
	if computed := crc32.ChecksumIEEE(data); stored != computed {
		return evt, fmt.Errorf("%w: crc stored=%08x computed=%08x", ErrCorrupted, stored, computed)
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return evt, nil
}

// badgerLogger routes badger's internal logging through zerolog. Badger is
// chatty at info level, so info drops to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logging.Error().Msg("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logging.Warn().Msg("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...any) {
	logging.Debug().Msg("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logging.Debug().Msg("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}
