// Package metrics exposes Prometheus instruments for the request client and
// the hearing controller.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/gavel/internal/hearing"
	"github.com/MikeSquared-Agency/gavel/internal/sequencer"
	"github.com/MikeSquared-Agency/gavel/internal/transport"
)

const namespace = "gavel"

var allStates = []hearing.ConnectionState{
	hearing.Disconnected,
	hearing.Connecting,
	hearing.Connected,
	hearing.Reconnecting,
	hearing.Exhausted,
}

// Metrics implements transport.Recorder and hearing.Observer.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	messages    *prometheus.CounterVec
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	concluded   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "requests_total",
				Help:      "Backend requests by final outcome.",
			},
			[]string{"method", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "request_duration_seconds",
				Help:      "Backend request duration including retries, in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "retries_total",
				Help:      "Backend request retries by failure kind.",
			},
			[]string{"method", "kind"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hearing",
				Name:      "messages_total",
				Help:      "Transcript updates by role and confirmation.",
			},
			[]string{"role", "pending"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "hearing",
				Name:      "connection_state",
				Help:      "1 for the current realtime connection state.",
			},
			[]string{"state"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hearing",
				Name:      "state_transitions_total",
				Help:      "Realtime connection state transitions.",
			},
			[]string{"from", "to"},
		),
		concluded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hearing",
			Name:      "concluded",
			Help:      "1 once the current hearing has concluded.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.retries,
		m.messages, m.state, m.transitions, m.concluded,
	)
	m.setState(hearing.Disconnected)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRetry(method string, kind transport.Kind) {
	m.retries.WithLabelValues(method, string(kind)).Inc()
}

func (m *Metrics) OnMessage(caseID string, msg sequencer.Message) {
	pending := "false"
	if msg.Pending {
		pending = "true"
	}
	m.messages.WithLabelValues(string(msg.Role), pending).Inc()
}

func (m *Metrics) OnStateChange(change hearing.StateChange) {
	if change.From != change.To {
		m.transitions.WithLabelValues(change.From.String(), change.To.String()).Inc()
	}
	m.setState(change.To)
	if change.Concluded {
		m.concluded.Set(1)
	} else {
		m.concluded.Set(0)
	}
}

func (m *Metrics) setState(current hearing.ConnectionState) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}
