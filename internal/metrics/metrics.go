package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the streaming server.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	AudioChunks    prometheus.Counter
	AudioBytes     prometheus.Counter
	AcksSent       prometheus.Counter
	Transcripts    *prometheus.CounterVec
}

// New creates and registers the instruments on a fresh registry so tests can
// hold independent instances.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "calldeck_sessions_active",
			Help: "Current number of live streaming sessions",
		}),
		AudioChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "calldeck_audio_chunks_total",
			Help: "Total audio chunks received across all sessions",
		}),
		AudioBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "calldeck_audio_bytes_total",
			Help: "Total audio bytes received across all sessions",
		}),
		AcksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "calldeck_acks_sent_total",
			Help: "Total audio acknowledgement envelopes sent",
		}),
		Transcripts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "calldeck_transcripts_total",
			Help: "Total transcription events relayed, by finality",
		}, []string{"finality"}),
	}
}

// TranscriptObserved records one relayed transcription event.
func (m *Metrics) TranscriptObserved(isFinal bool) {
	finality := "interim"
	if isFinal {
		finality = "final"
	}
	m.Transcripts.WithLabelValues(finality).Inc()
}
