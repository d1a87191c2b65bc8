package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry, so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry
	stages   *turnStageWindow

	TurnEvents        *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	PlaybackEvents    *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	StreamChunks      prometheus.Counter
	AvatarClients     prometheus.Gauge
	WSMessages        *prometheus.CounterVec
	FirstAudioLatency prometheus.Histogram
}

func NewMetrics(namespace string, windowSize int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		stages:   newTurnStageWindow(windowSize),
		TurnEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_events_total",
			Help:      "Conversation turn lifecycle events by type.",
		}, []string{"event"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		PlaybackEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_events_total",
			Help:      "Audio playback queue events by type.",
		}, []string{"event"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Clips waiting in the playback queue.",
		}),
		StreamChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_stream_chunks_total",
			Help:      "Decoded agent reply chunks.",
		}),
		AvatarClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "avatar_clients",
			Help:      "Connected avatar renderer websockets.",
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		FirstAudioLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from turn start to first enqueued assistant audio in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 3000},
		}),
	}
}

func (m *Metrics) ObserveTurnEvent(event string) {
	if m == nil {
		return
	}
	m.TurnEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObservePlayback(event string) {
	if m == nil {
		return
	}
	m.PlaybackEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveStreamChunk() {
	if m == nil {
		return
	}
	m.StreamChunks.Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) SetAvatarClients(n int) {
	if m == nil {
		return
	}
	m.AvatarClients.Set(float64(n))
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageFirstAudio, float64(d.Microseconds())/1000)
}

// ObserveTurnStage records d in the rolling per-stage latency window.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveTurnIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m == nil {
		return TurnStageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

// ResetTurnStages drops every retained stage sample and indicator count.
func (m *Metrics) ResetTurnStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
