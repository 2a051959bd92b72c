// Package metrics exposes Prometheus instrumentation for the transport,
// probe and playback layers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/mantonx/gstream/internal/packet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gstream"

// Metrics holds every collector and the registry they are registered with
type Metrics struct {
	registry *prometheus.Registry

	connectAttempts prometheus.Counter
	connected       prometheus.Gauge
	framesReceived  *prometheus.CounterVec // by packet type
	framesDropped   *prometheus.CounterVec // by reason

	streamsTotal  prometheus.Gauge
	streamsOnline prometheus.Gauge
	newlyOnline   prometheus.Counter

	probeDuration  *prometheus.HistogramVec // by result
	playbackStarts *prometheus.CounterVec   // by result
}

// New creates and registers all collectors on a fresh registry, together
// with the Go runtime and process collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connect_attempts_total",
			Help:      "Total number of connection attempts to the coordination host",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connected",
			Help:      "1 while connected to the coordination host",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Total number of frames received",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_dropped_total",
			Help:      "Total number of frames discarded",
		}, []string{"reason"}), // reason: malformed_frame, malformed_payload, unknown_type

		streamsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "total",
			Help:      "Number of streams in the last update",
		}),
		streamsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "online",
			Help:      "Number of online streams in the last update",
		}),
		newlyOnline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streams",
			Name:      "newly_online_total",
			Help:      "Total number of offline to online transitions",
		}),

		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Probe run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"result"}), // result: ok or an error kind
		playbackStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "playback",
			Name:      "starts_total",
			Help:      "Total number of player launches",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		m.connectAttempts, m.connected, m.framesReceived, m.framesDropped,
		m.streamsTotal, m.streamsOnline, m.newlyOnline,
		m.probeDuration, m.playbackStarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry backing the handler
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConnectAttempt implements transport.Observer
func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

// ConnectionState implements transport.Observer
func (m *Metrics) ConnectionState(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// FrameReceived implements transport.Observer
func (m *Metrics) FrameReceived(t packet.Type) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(t.String()).Inc()
}

// FrameDropped implements transport.Observer
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// StreamsUpdated records the size of the latest stream set
func (m *Metrics) StreamsUpdated(total, online, newlyOnline int) {
	if m == nil {
		return
	}
	m.streamsTotal.Set(float64(total))
	m.streamsOnline.Set(float64(online))
	m.newlyOnline.Add(float64(newlyOnline))
}

// ProbeFinished records one probe run
func (m *Metrics) ProbeFinished(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.probeDuration.WithLabelValues(result).Observe(d.Seconds())
}

// PlaybackStarted records one player launch
func (m *Metrics) PlaybackStarted(result string) {
	if m == nil {
		return
	}
	m.playbackStarts.WithLabelValues(result).Inc()
}
