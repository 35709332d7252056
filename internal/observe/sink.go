// Package observe is the observability sink: a bounded, lossy fan-out of bus
// events to consumers that must never block session processing. When the
// queue overflows the oldest events are dropped and the loss is surfaced to
// consumers as an observe.dropped meta-event.
package observe

import (
	"sync"
	"sync/atomic"

	"github.com/careline-ai/careline/internal/event"
	"github.com/careline-ai/careline/internal/logging"
	"github.com/careline-ai/careline/pkg/types"
)

// DefaultQueueSize is used when the configured queue size is not positive.
const DefaultQueueSize = 1024

// Consumer receives events on the sink's drain goroutine. A slow consumer
// causes drops, never backpressure on the publishing side.
type Consumer func(event.Event)

// Sink subscribes to the event bus and fans events out to its consumers
// through a bounded queue.
type Sink struct {
	queue     chan event.Event
	consumers []Consumer

	dropped  atomic.Uint64
	reported uint64 // drain goroutine only

	unsub  func()
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
}

// NewSink builds a sink with the given consumers. Consumers are called in
// order for every delivered event.
func NewSink(cfg types.ObserveConfig, consumers ...Consumer) *Sink {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Sink{
		queue:     make(chan event.Event, size),
		consumers: consumers,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start subscribes to the bus and begins draining. Idempotent.
func (s *Sink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.unsub = event.SubscribeAll(s.enqueue)
	go s.run()
	logging.Debug().Int("queueSize", cap(s.queue)).Msg("observability sink started")
}

// Stop unsubscribes from the bus and stops the drain goroutine. Events still
// queued at stop time are discarded.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.unsub()
	close(s.stopCh)
	<-s.doneCh
}

// Dropped returns the total number of events dropped since start.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// enqueue never blocks: when the queue is full the oldest queued event is
// discarded to make room.
func (s *Sink) enqueue(ev event.Event) {
	for {
		select {
		case s.queue <- ev:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Sink) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.queue:
			s.reportDrops()
			s.deliver(ev)
		}
	}
}

// reportDrops surfaces queue overflow to consumers before the next regular
// event. The meta-event carries the cumulative drop count; it exists only on
// the bus side and is never appended to a session ledger.
func (s *Sink) reportDrops() {
	total := s.dropped.Load()
	if total == s.reported {
		return
	}
	s.reported = total
	logging.Warn().Uint64("dropped", total).Msg("observability queue overflowed, oldest events dropped")
	s.deliver(event.Event{
		Type: event.ObserveDropped,
		Data: types.ObserveDroppedData{Dropped: total},
	})
}

func (s *Sink) deliver(ev event.Event) {
	for _, consume := range s.consumers {
		consume(ev)
	}
}

// LogConsumer emits one debug log line per event. Payloads are not logged;
// events reference sanitized text only, but log volume matters too.
func LogConsumer() Consumer {
	return func(ev event.Event) {
		if ld, ok := ev.Data.(event.LedgerData); ok && ld.Event != nil {
			logging.Debug().
				Str("kind", string(ld.Event.Kind)).
				Str("sessionID", ld.Event.SessionID).
				Uint64("seq", ld.Event.Seq).
				Msg("event")
			return
		}
		logging.Debug().Str("type", string(ev.Type)).Msg("event")
	}
}
