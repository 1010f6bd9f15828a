package server

import "github.com/prometheus/client_golang/prometheus"

type backendMetrics struct {
	clients  prometheus.Gauge
	received *prometheus.CounterVec
	sent     *prometheus.CounterVec
	runs     prometheus.Gauge
}

func newBackendMetrics(reg prometheus.Registerer) *backendMetrics {
	m := &backendMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "novelsync",
			Subsystem: "backend",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "novelsync",
			Subsystem: "backend",
			Name:      "frames_received_total",
			Help:      "Client frames received, by event.",
		}, []string{"event"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "novelsync",
			Subsystem: "backend",
			Name:      "frames_sent_total",
			Help:      "Frames written to clients, by event.",
		}, []string{"event"}),
		runs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "novelsync",
			Subsystem: "backend",
			Name:      "active_runs",
			Help:      "Sessions currently executing their plan.",
		}),
	}
	reg.MustRegister(m.clients, m.received, m.sent, m.runs)
	return m
}
