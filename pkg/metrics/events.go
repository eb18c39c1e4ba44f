// Package metrics exposes connection and event counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skycoin/skyevent/pkg/netevent"
)

// EventMetrics records the event lifecycle of every connection of a node.
// It implements netevent.Recorder.
type EventMetrics struct {
	posted        *prometheus.CounterVec
	sent          *prometheus.CounterVec
	retransmitted *prometheus.CounterVec
	acked         *prometheus.CounterVec
	lost          *prometheus.CounterVec
	dispatched    *prometheus.CounterVec
	violations    prometheus.Counter
	conns         prometheus.Gauge
}

func guaranteeCounter(namespace, name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, []string{"guarantee"})
}

// NewEventMetrics constructs EventMetrics and registers them with reg.
func NewEventMetrics(namespace string, reg prometheus.Registerer) *EventMetrics {
	m := &EventMetrics{
		posted:        guaranteeCounter(namespace, "events_posted_total", "The total number of events accepted for sending"),
		sent:          guaranteeCounter(namespace, "events_sent_total", "The total number of events written into packets"),
		retransmitted: guaranteeCounter(namespace, "events_retransmitted_total", "The total number of events written again after loss"),
		acked:         guaranteeCounter(namespace, "events_acked_total", "The total number of events acknowledged by the peer"),
		lost:          guaranteeCounter(namespace, "events_lost_total", "The total number of events carried by lost packets"),
		dispatched:    guaranteeCounter(namespace, "events_dispatched_total", "The total number of received events processed"),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "The total number of connections terminated for protocol violations",
		}),
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "The number of established connections",
		}),
	}
	reg.MustRegister(m.posted, m.sent, m.retransmitted, m.acked, m.lost, m.dispatched, m.violations, m.conns)
	return m
}

// Posted implements netevent.Recorder.
func (m *EventMetrics) Posted(g netevent.Guarantee) {
	m.posted.WithLabelValues(g.String()).Inc()
}

// Sent implements netevent.Recorder.
func (m *EventMetrics) Sent(g netevent.Guarantee, retransmit bool) {
	m.sent.WithLabelValues(g.String()).Inc()
	if retransmit {
		m.retransmitted.WithLabelValues(g.String()).Inc()
	}
}

// Acked implements netevent.Recorder.
func (m *EventMetrics) Acked(g netevent.Guarantee) {
	m.acked.WithLabelValues(g.String()).Inc()
}

// Lost implements netevent.Recorder.
func (m *EventMetrics) Lost(g netevent.Guarantee) {
	m.lost.WithLabelValues(g.String()).Inc()
}

// Dispatched implements netevent.Recorder.
func (m *EventMetrics) Dispatched(g netevent.Guarantee) {
	m.dispatched.WithLabelValues(g.String()).Inc()
}

// Violation implements netevent.Recorder.
func (m *EventMetrics) Violation() { m.violations.Inc() }

// ConnOpened counts an established connection.
func (m *EventMetrics) ConnOpened() { m.conns.Inc() }

// ConnClosed discounts a connection that terminated.
func (m *EventMetrics) ConnClosed() { m.conns.Dec() }
