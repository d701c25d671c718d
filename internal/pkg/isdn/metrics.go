package isdn

import (
	"net/http"

	"github.com/endorses/isdnq931/internal/pkg/q931"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports controller counters to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	messages     *prometheus.CounterVec
	decodeErrors prometheus.Counter
	calls        *prometheus.CounterVec
	releases     *prometheus.CounterVec
	restarts     *prometheus.CounterVec
	segments     *prometheus.CounterVec
	activeCalls  prometheus.Gauge
}

// NewMetrics registers the Q.931 metrics with reg. A nil reg gets a
// private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "q931_messages_total",
				Help: "Q.931 messages sent and received",
			},
			[]string{"direction", "type"},
		),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "q931_decode_errors_total",
			Help: "Received buffers that failed to decode",
		}),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "q931_calls_total",
				Help: "Calls created",
			},
			[]string{"kind"},
		),
		releases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "q931_call_releases_total",
				Help: "Calls released by reason",
			},
			[]string{"reason"},
		),
		restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "q931_restarts_total",
				Help: "Restart procedures by result",
			},
			[]string{"result"},
		),
		segments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "q931_segments_total",
				Help: "Segmented message handling",
			},
			[]string{"event"},
		),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "q931_active_calls",
			Help: "Calls currently held by controllers and monitors",
		}),
	}
	reg.MustRegister(m.messages, m.decodeErrors, m.calls, m.releases, m.restarts, m.segments, m.activeCalls)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) message(direction string, t q931.MsgType) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction, t.String()).Inc()
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) callStarted(kind string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(kind).Inc()
	m.activeCalls.Inc()
}

// callReleased counts a release. active is set when the call was counted
// by callStarted.
func (m *Metrics) callReleased(reason string, active bool) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(reason).Inc()
	if active {
		m.activeCalls.Dec()
	}
}

func (m *Metrics) restart(result string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(result).Inc()
}

func (m *Metrics) segment(event string) {
	if m == nil {
		return
	}
	m.segments.WithLabelValues(event).Inc()
}
