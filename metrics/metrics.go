// Package metrics holds the Prometheus collectors for the ingestion and
// notification pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intellikeeper"

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	framesDecoded    prometheus.Counter
	malformedBatches prometheus.Counter
	lostSignal       prometheus.Counter
	eventsRecorded   *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	messages         *prometheus.CounterVec
	outbox           *prometheus.CounterVec
}

// New builds a private registry carrying the pipeline collectors plus the
// standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Tag report frames decoded from property messages.",
		}),
		malformedBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_batches_total",
			Help:      "Property messages skipped because the frame stream was malformed.",
		}),
		lostSignal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lost_signal_transitions_total",
			Help:      "Tags flipped from online to offline.",
		}),
		eventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_recorded_total",
			Help:      "Tag events recorded, by kind.",
		}, []string{"kind"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_dispatches_total",
			Help:      "Trigger dispatch attempts, by outcome.",
		}, []string{"outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_total",
			Help:      "Bus messages consumed, by topic and result.",
		}, []string{"topic", "result"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_messages_total",
			Help:      "Device commands drained from the outbox, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.framesDecoded, m.malformedBatches, m.lostSignal,
		m.eventsRecorded, m.dispatches, m.messages, m.outbox,
	)
	return m
}

// Registerer lets other packages add their own collectors to the registry.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FramesDecoded(n int) {
	if m != nil {
		m.framesDecoded.Add(float64(n))
	}
}

func (m *Metrics) MalformedBatch() {
	if m != nil {
		m.malformedBatches.Inc()
	}
}

func (m *Metrics) LostSignal(n int) {
	if m != nil {
		m.lostSignal.Add(float64(n))
	}
}

func (m *Metrics) EventRecorded(kind string) {
	if m != nil {
		m.eventsRecorded.WithLabelValues(kind).Inc()
	}
}

// Dispatch outcomes.
const (
	DispatchOK       = "ok"
	DispatchFailed   = "failed"
	DispatchSkipped  = "skipped"
	DispatchDropped  = "dropped"
	DispatchInactive = "inactive"
)

func (m *Metrics) Dispatch(outcome string) {
	if m != nil {
		m.dispatches.WithLabelValues(outcome).Inc()
	}
}

// Message results.
const (
	MessageOK      = "ok"
	MessageSkipped = "skipped"
	MessageFailed  = "failed"
)

func (m *Metrics) Message(topic, result string) {
	if m != nil {
		m.messages.WithLabelValues(topic, result).Inc()
	}
}

// Outbox results.
const (
	OutboxSent   = "sent"
	OutboxFailed = "failed"
	OutboxDead   = "dead"
)

func (m *Metrics) Outbox(result string) {
	if m != nil {
		m.outbox.WithLabelValues(result).Inc()
	}
}
