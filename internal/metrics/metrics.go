// Package metrics exposes Prometheus collectors that report connection and
// sync activity. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "novelsync"

// Metrics holds the collectors shared by the connection manager and the syncer.
type Metrics struct {
	connectionState  prometheus.Gauge
	reconnects       prometheus.Counter
	received         *prometheus.CounterVec
	sent             prometheus.Counter
	sendFailures     prometheus.Counter
	dropped          *prometheus.CounterVec
	handlerPanics    *prometheus.CounterVec
	autoApprovals    prometheus.Counter
	countdownsActive prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// Default returns the package-level metrics registered with the global
// Prometheus registry. Collectors are created once to avoid duplicate
// registration panics.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Tests should pass a fresh prometheus.NewRegistry(). Registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current connection state (0 idle, 1 connecting, 2 connected, 3 disconnected, 4 error).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Number of scheduled automatic reconnection attempts.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Inbound messages received, by event, whether or not a handler is registered.",
		}, []string{"event"}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Outbound messages written to the transport.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "send_failures_total",
			Help:      "Outbound messages rejected because the transport was not open or the write failed.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
		handlerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "handler_panics_total",
			Help:      "Handler panics recovered by the dispatcher, by event.",
		}, []string{"event"}),
		autoApprovals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "auto_approvals_total",
			Help:      "Approve decisions issued because a countdown expired.",
		}),
		countdownsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "approval",
			Name:      "countdown_active",
			Help:      "1 while an approval countdown is running.",
		}),
	}

	collectors := []prometheus.Collector{
		m.connectionState, m.reconnects, m.received, m.sent, m.sendFailures,
		m.dropped, m.handlerPanics, m.autoApprovals, m.countdownsActive,
	}
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return m
}

// SetConnectionState records the numeric connection state.
func (m *Metrics) SetConnectionState(v int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(v))
}

// ObserveReconnect counts one scheduled reconnect.
func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ObserveReceived counts one dispatched inbound message.
func (m *Metrics) ObserveReceived(event string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(event).Inc()
}

// ObserveSent counts one outbound message, successful or not.
func (m *Metrics) ObserveSent(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.sent.Inc()
		return
	}
	m.sendFailures.Inc()
}

// ObserveDropped counts one inbound message that never reached a handler.
func (m *Metrics) ObserveDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// ObserveHandlerPanic counts one recovered handler panic.
func (m *Metrics) ObserveHandlerPanic(event string) {
	if m == nil {
		return
	}
	m.handlerPanics.WithLabelValues(event).Inc()
}

// ObserveAutoApproval counts one countdown-issued approval.
func (m *Metrics) ObserveAutoApproval() {
	if m == nil {
		return
	}
	m.autoApprovals.Inc()
}

// SetCountdownActive flags whether a countdown is running.
func (m *Metrics) SetCountdownActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.countdownsActive.Set(1)
		return
	}
	m.countdownsActive.Set(0)
}
