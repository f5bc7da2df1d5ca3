package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all scanner metrics
type Metrics struct {
	// Frame loop
	FramesCaptured atomic.Uint64
	FramesNoSource atomic.Uint64 // ticks with no frame available
	PreviewFrames  atomic.Uint64

	// Scheduler decisions
	DecodeDispatched      atomic.Uint64
	DecodeSkippedBusy     atomic.Uint64
	DecodeSkippedThrottle atomic.Uint64

	// Worker responses
	DecodeSucceeded atomic.Uint64
	DecodeFailed    atomic.Uint64
	StaleResponses  atomic.Uint64

	// Tracker
	TrackedCodes atomic.Uint64
	Appearances  atomic.Uint64
	Expirations  atomic.Uint64
	Relayouts    atomic.Uint64

	// Notifications
	NotificationsSent    atomic.Uint64
	NotificationsFailed  atomic.Uint64
	NotificationsDropped atomic.Uint64

	// Presentation clients
	SSEClients      atomic.Uint64
	WebRTCClients   atomic.Uint64
	TotalClients    atomic.Uint64
	EventsDropped   atomic.Uint64
	SelectsAnswered atomic.Uint64

	// Last decode round trip in ms
	DecodeLatencyMs  atomic.Uint64
	// Age of the outstanding decode in ms, 0 when idle
	DecodeInFlightMs atomic.Uint64

	decodeLatency prometheus.Histogram
	registry      *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codescan_decode_latency_seconds",
			Help:    "Time from dispatch to worker response",
			Buckets: []float64{.005, .01, .025, .05, .1, .2, .35, .5, 1},
		}),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "codescan_" + name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("frames_captured_total", "Frames drawn onto the capture surface", &m.FramesCaptured)
	m.gauge("frames_unavailable_total", "Ticks where the source had no frame", &m.FramesNoSource)
	m.gauge("preview_frames_total", "Preview frames published", &m.PreviewFrames)

	m.gauge("decode_dispatched_total", "Frames handed to the decode worker", &m.DecodeDispatched)
	m.gauge("decode_skipped_busy_total", "Ticks skipped because a decode was outstanding", &m.DecodeSkippedBusy)
	m.gauge("decode_skipped_throttle_total", "Ticks skipped by the dispatch throttle", &m.DecodeSkippedThrottle)

	m.gauge("decode_succeeded_total", "Worker responses carrying a code", &m.DecodeSucceeded)
	m.gauge("decode_failed_total", "Worker responses without a code", &m.DecodeFailed)
	m.gauge("stale_responses_total", "Worker responses arriving after teardown", &m.StaleResponses)

	m.gauge("tracked_codes", "Codes currently tracked", &m.TrackedCodes)
	m.gauge("appearances_total", "Codes that newly appeared", &m.Appearances)
	m.gauge("expirations_total", "Codes dropped after their retention window", &m.Expirations)
	m.gauge("overlay_relayouts_total", "Overlay geometry recomputations", &m.Relayouts)

	m.gauge("notifications_sent_total", "Appearance notifications delivered", &m.NotificationsSent)
	m.gauge("notifications_failed_total", "Appearance notifications that failed", &m.NotificationsFailed)
	m.gauge("notifications_dropped_total", "Appearance notifications dropped on a full queue", &m.NotificationsDropped)

	m.gauge("sse_clients", "Connected SSE clients", &m.SSEClients)
	m.gauge("webrtc_clients", "Connected WebRTC clients", &m.WebRTCClients)
	m.gauge("clients_total", "Presentation clients connected since start", &m.TotalClients)
	m.gauge("events_dropped_total", "Overlay events dropped for slow clients", &m.EventsDropped)
	m.gauge("selects_total", "Select requests answered", &m.SelectsAnswered)

	m.gauge("decode_latency_ms", "Last decode round trip in milliseconds", &m.DecodeLatencyMs)
	m.gauge("decode_in_flight_ms", "Age of the outstanding decode in milliseconds", &m.DecodeInFlightMs)
	m.registry.MustRegister(m.decodeLatency)
}

// ObserveDecodeLatency records one dispatch-to-response round trip
func (m *Metrics) ObserveDecodeLatency(d time.Duration) {
	m.DecodeLatencyMs.Store(uint64(d.Milliseconds()))
	m.decodeLatency.Observe(d.Seconds())
}

// Snapshot returns the counters as a flat map for health endpoints
func (m *Metrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"framesCaptured":        m.FramesCaptured.Load(),
		"decodeDispatched":      m.DecodeDispatched.Load(),
		"decodeSkippedBusy":     m.DecodeSkippedBusy.Load(),
		"decodeSkippedThrottle": m.DecodeSkippedThrottle.Load(),
		"decodeSucceeded":       m.DecodeSucceeded.Load(),
		"decodeFailed":          m.DecodeFailed.Load(),
		"staleResponses":        m.StaleResponses.Load(),
		"trackedCodes":          m.TrackedCodes.Load(),
		"appearances":           m.Appearances.Load(),
		"notificationsDropped":  m.NotificationsDropped.Load(),
		"sseClients":            m.SSEClients.Load(),
		"webrtcClients":         m.WebRTCClients.Load(),
		"decodeInFlightMs":      m.DecodeInFlightMs.Load(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an http.Server exposing /metrics on addr
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
