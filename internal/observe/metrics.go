package observe

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careline-ai/careline/internal/event"
	"github.com/careline-ai/careline/pkg/types"
)

const metricsNamespace = "careline"

// Metrics holds the Prometheus instruments for the service. Counters derived
// from ledger events are fed by Consumer; request-scoped observations such as
// turn duration are recorded directly by the HTTP layer.
type Metrics struct {
	registry *prometheus.Registry

	// ActiveSessions tracks sessions created and not yet closed.
	ActiveSessions prometheus.Gauge

	// SessionsCreated counts sessions ever created.
	SessionsCreated prometheus.Counter

	// SessionsClosed counts closed sessions by close reason.
	SessionsClosed *prometheus.CounterVec

	// TurnsTotal counts processed turns.
	TurnsTotal prometheus.Counter

	// TurnDuration measures the full turn pipeline in seconds.
	TurnDuration prometheus.Histogram

	// RiskVerdicts counts assessments by severity and degraded flag.
	RiskVerdicts *prometheus.CounterVec

	// Escalations counts resolved plans by terminal status.
	Escalations *prometheus.CounterVec

	// EventsTotal counts every ledger event by kind.
	EventsTotal *prometheus.CounterVec

	// DroppedEvents counts events the sink discarded under overflow.
	DroppedEvents prometheus.Counter

	lastDropped uint64 // sink drain goroutine only
}

// NewMetrics builds the instrument set on its own registry so tests can hold
// independent instances.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of sessions created and not yet closed",
		}),

		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_created_total",
			Help:      "Total sessions created",
		}),

		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_closed_total",
			Help:      "Total sessions closed by close reason",
		}, []string{"reason"}),

		TurnsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "turns_total",
			Help:      "Total turns processed",
		}),

		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn pipeline duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		RiskVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "risk_verdicts_total",
			Help:      "Total risk assessments by severity and degraded flag",
		}, []string{"severity", "degraded"}),

		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "escalations_total",
			Help:      "Total resolved escalation plans by terminal status",
		}, []string{"status"}),

		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Total ledger events by kind",
		}, []string{"kind"}),

		DroppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "observe_dropped_events_total",
			Help:      "Total events dropped by the observability sink",
		}),
	}
}

// Registry exposes the backing registry for test scrapes.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurnDuration records one turn's wall-clock duration.
func (m *Metrics) ObserveTurnDuration(seconds float64) {
	m.TurnDuration.Observe(seconds)
}

// Consumer returns a sink consumer that derives counters from events. It is
// not safe for concurrent use; register it with a single sink.
func (m *Metrics) Consumer() Consumer {
	return func(ev event.Event) {
		if ev.Type == event.ObserveDropped {
			if data, ok := ev.Data.(types.ObserveDroppedData); ok {
				if data.Dropped > m.lastDropped {
					m.DroppedEvents.Add(float64(data.Dropped - m.lastDropped))
					m.lastDropped = data.Dropped
				}
			}
			return
		}

		ld, ok := ev.Data.(event.LedgerData)
		if !ok || ld.Event == nil {
			return
		}
		evt := *ld.Event
		m.EventsTotal.WithLabelValues(string(evt.Kind)).Inc()

		switch evt.Kind {
		case types.EventSessionCreated:
			m.SessionsCreated.Inc()
			m.ActiveSessions.Inc()
		case types.EventSessionClosed:
			m.ActiveSessions.Dec()
			data, err := types.DecodePayload[types.SessionClosedData](evt)
			if err == nil {
				m.SessionsClosed.WithLabelValues(string(data.Reason)).Inc()
			}
		case types.EventTurnProcessed:
			m.TurnsTotal.Inc()
		case types.EventRiskAssessed, types.EventRiskDegraded:
			data, err := types.DecodePayload[types.RiskAssessedData](evt)
			if err == nil {
				m.RiskVerdicts.WithLabelValues(
					data.Verdict.Severity.String(),
					strconv.FormatBool(data.Verdict.Degraded),
				).Inc()
			}
		case types.EventEscalationResolved:
			data, err := types.DecodePayload[types.EscalationResolvedData](evt)
			if err == nil {
				m.Escalations.WithLabelValues(string(data.Status)).Inc()
			}
		}
	}
}
