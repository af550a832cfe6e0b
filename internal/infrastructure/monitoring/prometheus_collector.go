package monitoring

import (
	"voicemesh/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.Metrics on top of promauto-registered
// collectors. Construct it once per process.
type PrometheusCollector struct {
	sessionsActive        prometheus.Gauge
	participantsConnected prometheus.Gauge

	controlMessagesTotal *prometheus.CounterVec
	packetsRoutedTotal   prometheus.Counter
	packetsDroppedTotal  *prometheus.CounterVec
	staleReapedTotal     prometheus.Counter

	fanoutSize prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_sessions_active",
			Help: "Number of active sessions",
		}),

		participantsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicemesh_participants_connected",
			Help: "Number of connected participants across all sessions",
		}),

		controlMessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_control_messages_total",
			Help: "Control-plane messages processed, by kind",
		}, []string{"kind"}),

		packetsRoutedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_audio_packets_routed_total",
			Help: "Audio packet deliveries dispatched by the router",
		}),

		packetsDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicemesh_audio_packets_dropped_total",
			Help: "Audio packets dropped, by reason",
		}, []string{"reason"}),

		staleReapedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicemesh_stale_channels_reaped_total",
			Help: "Channels torn down by the presence sweep",
		}),

		fanoutSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicemesh_fanout_size",
			Help:    "Recipients per routed audio packet",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}),
	}
}

func (c *PrometheusCollector) SetSessionsActive(n int) {
	c.sessionsActive.Set(float64(n))
}

func (c *PrometheusCollector) SetParticipantsConnected(n int) {
	c.participantsConnected.Set(float64(n))
}

func (c *PrometheusCollector) IncControlMessages(kind string) {
	c.controlMessagesTotal.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) AddPacketsRouted(n int) {
	c.packetsRoutedTotal.Add(float64(n))
}

func (c *PrometheusCollector) IncPacketsDropped(reason string) {
	c.packetsDroppedTotal.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) IncStaleChannelsReaped() {
	c.staleReapedTotal.Inc()
}

func (c *PrometheusCollector) ObserveFanoutSize(n int) {
	c.fanoutSize.Observe(float64(n))
}

var _ ports.Metrics = (*PrometheusCollector)(nil)
