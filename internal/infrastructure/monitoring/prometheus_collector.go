package monitoring

import (
	"strconv"

	"liveorch/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector observes protocol events and network adjustments.
type PrometheusCollector struct {
	// Counters
	sessionsStartedTotal *prometheus.CounterVec
	sessionsEndedTotal   *prometheus.CounterVec
	eventsTotal          *prometheus.CounterVec
	adjustmentsTotal     *prometheus.CounterVec

	// Histograms
	sessionDuration *prometheus.HistogramVec

	// Session metrics
	sessionStatus   *prometheus.GaugeVec
	sessionBitrate  *prometheus.GaugeVec
	sessionFPS      *prometheus.GaugeVec
	droppedFrames   *prometheus.GaugeVec
	uplinkKbps      prometheus.Gauge
	videoBitrateCap prometheus.Gauge
}

// NewPrometheusCollector registers its metrics with reg, or with the
// default registerer when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsStartedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveorch_sessions_started_total",
			Help: "Sessions that reached the streaming state",
		}, []string{"variant"}),

		sessionsEndedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveorch_sessions_ended_total",
			Help: "Sessions that ended, by final status",
		}, []string{"variant", "status"}),

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveorch_protocol_events_total",
			Help: "Protocol events seen by the orchestrator",
		}, []string{"variant", "kind"}),

		adjustmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveorch_network_adjustments_total",
			Help: "Adaptive bitrate adjustments by ladder band",
		}, []string{"band", "applied"}),

		sessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liveorch_session_duration_seconds",
			Help:    "Duration of finished sessions",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"variant"}),

		sessionStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveorch_session_status",
			Help: "Current session status per variant (1 for the current status)",
		}, []string{"variant", "status"}),

		sessionBitrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveorch_session_bitrate_kbps",
			Help: "Measured output bitrate of the current session",
		}, []string{"variant"}),

		sessionFPS: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveorch_session_fps",
			Help: "Measured output frame rate of the current session",
		}, []string{"variant"}),

		droppedFrames: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveorch_session_dropped_frames",
			Help: "Frames dropped by the transport in the current session",
		}, []string{"variant"}),

		uplinkKbps: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liveorch_uplink_kbps",
			Help: "Last measured uplink throughput",
		}),

		videoBitrateCap: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liveorch_video_bitrate_cap_kbps",
			Help: "Video bitrate after the last network adjustment",
		}),
	}
}

// ObserveEvent implements ports.SessionObserver.
func (p *PrometheusCollector) ObserveEvent(ev domain.ProtocolEvent) {
	variant := string(ev.Variant)
	p.eventsTotal.WithLabelValues(variant, ev.Kind.String()).Inc()
	p.setStatus(variant, ev.Status)

	if ev.Kind == domain.ProtocolStarted {
		p.sessionsStartedTotal.WithLabelValues(variant).Inc()
	}

	if ev.Stats.Bitrate > 0 || ev.Stats.FPS > 0 {
		p.sessionBitrate.WithLabelValues(variant).Set(ev.Stats.Bitrate)
		p.sessionFPS.WithLabelValues(variant).Set(ev.Stats.FPS)
	}
	p.droppedFrames.WithLabelValues(variant).Set(float64(ev.Stats.DroppedFrames))

	if ev.Terminal() {
		p.sessionsEndedTotal.WithLabelValues(variant, ev.Status.String()).Inc()
		if !ev.Stats.StartedAt.IsZero() && !ev.Stats.EndedAt.IsZero() {
			p.sessionDuration.WithLabelValues(variant).Observe(ev.Stats.EndedAt.Sub(ev.Stats.StartedAt).Seconds())
		}
		p.sessionBitrate.DeleteLabelValues(variant)
		p.sessionFPS.DeleteLabelValues(variant)
	}
}

// RecordNetworkAdjustment implements services.AdjustmentRecorder.
func (p *PrometheusCollector) RecordNetworkAdjustment(adj domain.NetworkAdjustment) {
	band := adj.Band
	if band == "" {
		band = "none"
	}
	p.adjustmentsTotal.WithLabelValues(band, strconv.FormatBool(adj.Applied)).Inc()
	p.uplinkKbps.Set(float64(adj.SpeedKbps))
	p.videoBitrateCap.Set(float64(adj.After.Bitrate))
}

func (p *PrometheusCollector) setStatus(variant string, current domain.SessionStatus) {
	for s := domain.StatusIdle; s <= domain.StatusDisconnected; s++ {
		value := 0.0
		if s == current {
			value = 1
		}
		p.sessionStatus.WithLabelValues(variant, s.String()).Set(value)
	}
}
