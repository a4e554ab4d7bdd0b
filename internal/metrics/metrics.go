// Package metrics exposes gateway counters to Prometheus and serves the
// /metrics and /health endpoints. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sensor_gateway"

// Drop reasons for FramesDropped.
const (
	DropQueueFull  = "queue_full"
	DropDecode     = "decode"
	DropUnverified = "unverified"
)

// Sink outcomes for SinkWrites.
const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomeEmpty     = "dropped_empty"
	OutcomeQueueFull = "queue_full"
	OutcomeSpooled   = "spooled"
)

type Metrics struct {
	framesReceived   prometheus.Counter
	framesDropped    *prometheus.CounterVec
	handshakes       prometheus.Counter
	ackFailures      prometheus.Counter
	readingsMapped   prometheus.Counter
	fieldParseErrors prometheus.Counter
	sinkWrites       *prometheus.CounterVec
	sinkLatency      prometheus.Histogram
	spoolPending     prometheus.Gauge
	spoolBytes       prometheus.Gauge
	sessionsStarted  prometheus.Counter
	connectFailures  prometheus.Counter
	linkUp           prometheus.Gauge
}

// New creates the gateway metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames received from the peripheral.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames discarded before mapping, by reason.",
		}, []string{"reason"}),
		handshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Sessions that completed the handshake.",
		}),
		ackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ack_failures_total",
			Help:      "Handshake acknowledgements that could not be written.",
		}),
		readingsMapped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_mapped_total",
			Help:      "Readings produced from decoded frames.",
		}),
		fieldParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_parse_failures_total",
			Help:      "Fields omitted because they were not numeric.",
		}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Readings handed to storage, by outcome.",
		}, []string{"outcome"}),
		sinkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_write_seconds",
			Help:      "Latency of a single storage write.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		spoolPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spool_pending",
			Help:      "Readings waiting in the spool.",
		}),
		spoolBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spool_size_bytes",
			Help:      "Size of the spool on disk.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Successful connections to the peripheral.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed attempts to connect to the peripheral.",
		}),
		linkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_up",
			Help:      "1 while a session is connected.",
		}),
	}

	reg.MustRegister(
		m.framesReceived, m.framesDropped, m.handshakes, m.ackFailures,
		m.readingsMapped, m.fieldParseErrors, m.sinkWrites, m.sinkLatency,
		m.spoolPending, m.spoolBytes, m.sessionsStarted, m.connectFailures,
		m.linkUp,
	)
	return m
}

func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Handshake() {
	if m == nil {
		return
	}
	m.handshakes.Inc()
}

func (m *Metrics) AckFailed() {
	if m == nil {
		return
	}
	m.ackFailures.Inc()
}

// ReadingMapped records a mapped reading and how many fields were omitted.
func (m *Metrics) ReadingMapped(omitted int) {
	if m == nil {
		return
	}
	m.readingsMapped.Inc()
	if omitted > 0 {
		m.fieldParseErrors.Add(float64(omitted))
	}
}

func (m *Metrics) SinkWrite(outcome string) {
	if m == nil {
		return
	}
	m.sinkWrites.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSinkLatency(seconds float64) {
	if m == nil {
		return
	}
	m.sinkLatency.Observe(seconds)
}

func (m *Metrics) SetSpool(pending uint64, sizeBytes int64) {
	if m == nil {
		return
	}
	m.spoolPending.Set(float64(pending))
	m.spoolBytes.Set(float64(sizeBytes))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.linkUp.Set(1)
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.linkUp.Set(0)
}

func (m *Metrics) ConnectFailed() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}
