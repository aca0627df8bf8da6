// Package metrics exposes coordinator counters and gauges to Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "boardly"

type Metrics struct {
	Connections    prometheus.Gauge
	Sessions       prometheus.Gauge
	Rooms          prometheus.Gauge
	Broadcasts     prometheus.Gauge
	Transcriptions prometheus.Gauge

	Evictions      prometheus.Counter
	Expirations    prometheus.Counter
	Backpressure   prometheus.Counter
	Signals        *prometheus.CounterVec
	AudioFrames    *prometheus.CounterVec
	ProtocolErrors *prometheus.CounterVec
	UpstreamErrors prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Live event-channel connections.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions",
			Help: "Session records across all rooms.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Rooms with live state.",
		}),
		Broadcasts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "voice_broadcasts_active",
			Help: "Rooms currently broadcasting voice.",
		}),
		Transcriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "transcriptions",
			Help: "Upstream transcription channels, opening or open.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "multi_device_evictions_total",
			Help: "Connections evicted by a login from another device.",
		}),
		Expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_expirations_total",
			Help: "Sessions reaped for missing heartbeats.",
		}),
		Backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "backpressure_total",
			Help: "Outbound messages refused by a full connection buffer.",
		}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_relayed_total",
			Help: "Signaling messages relayed, by type.",
		}, []string{"type"}),
		AudioFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_frames_total",
			Help: "Audio frames received for transcription, by result.",
		}, []string{"result"}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "protocol_errors_total",
			Help: "Client protocol errors, by code.",
		}, []string{"code"}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transcription_upstream_errors_total",
			Help: "Upstream speech-to-text failures, on open or mid-stream.",
		}),
	}
	reg.MustRegister(
		m.Connections, m.Sessions, m.Rooms, m.Broadcasts, m.Transcriptions,
		m.Evictions, m.Expirations, m.Backpressure,
		m.Signals, m.AudioFrames, m.ProtocolErrors, m.UpstreamErrors,
	)
	return m
}
