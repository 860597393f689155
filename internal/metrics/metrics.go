// Package metrics exposes Prometheus collectors for extraction, reminder
// scheduling and persistence. All methods are safe on a nil *Metrics so
// components can run without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	extractions        *prometheus.CounterVec
	extractedEvents    *prometheus.CounterVec
	remindersScheduled prometheus.Counter
	remindersFired     *prometheus.CounterVec
	remindersDropped   *prometheus.CounterVec
	remindersPending   prometheus.Gauge
	persistFailures    *prometheus.CounterVec
	syncRuns           *prometheus.CounterVec
	syncEvents         prometheus.Gauge
}

// MustNew registers all collectors with reg. Registration errors panic, as
// with promauto; tests pass a fresh prometheus.NewRegistry().
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartcal",
			Subsystem: "extract",
			Name:      "requests_total",
			Help:      "Extraction requests by strategy and outcome.",
		}, []string{"source", "result"}),
		extractedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartcal",
			Subsystem: "extract",
			Name:      "events_total",
			Help:      "Events produced by extraction, by strategy.",
		}, []string{"source"}),
		remindersScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "smartcal",
			Subsystem: "reminders",
			Name:      "scheduled_total",
			Help:      "Reminders added to the pending set.",
		}),
		remindersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartcal",
			Subsystem: "reminders",
			Name:      "fired_total",
			Help:      "Reminders fired, by event priority.",
		}, []string{"priority"}),
		remindersDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartcal",
			Subsystem: "reminders",
			Name:      "dropped_total",
			Help:      "Reminders dropped without reaching a sink, by reason.",
		}, []string{"reason"}),
		remindersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartcal",
			Subsystem: "reminders",
			Name:      "pending",
			Help:      "Reminders waiting to fire.",
		}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartcal",
			Subsystem: "store",
			Name:      "failures_total",
			Help:      "Persistence adapter failures, by operation.",
		}, []string{"op"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartcal",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Calendar subscription sync runs, by outcome.",
		}, []string{"result"}),
		syncEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "smartcal",
			Subsystem: "sync",
			Name:      "events",
			Help:      "Events expanded from subscriptions in the last sync.",
		}),
	}
	reg.MustRegister(
		m.extractions,
		m.extractedEvents,
		m.remindersScheduled,
		m.remindersFired,
		m.remindersDropped,
		m.remindersPending,
		m.persistFailures,
		m.syncRuns,
		m.syncEvents,
	)
	return m
}

func (m *Metrics) ObserveExtraction(source string, success bool, events int) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "failed"
	}
	m.extractions.WithLabelValues(source, result).Inc()
	if events > 0 {
		m.extractedEvents.WithLabelValues(source).Add(float64(events))
	}
}

func (m *Metrics) ReminderScheduled() {
	if m == nil {
		return
	}
	m.remindersScheduled.Inc()
}

func (m *Metrics) ReminderFired(priority string) {
	if m == nil {
		return
	}
	m.remindersFired.WithLabelValues(priority).Inc()
}

func (m *Metrics) ReminderDropped(reason string) {
	if m == nil {
		return
	}
	m.remindersDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.remindersPending.Set(float64(n))
}

func (m *Metrics) PersistFailed(op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(op).Inc()
}

// ObserveSync records one subscription sync. result is "ok", "partial" or
// "failed".
func (m *Metrics) ObserveSync(result string, events int) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(result).Inc()
	if result != "failed" {
		m.syncEvents.Set(float64(events))
	}
}
