package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relayhub"

// Error kinds recorded by RecordEnvelopeError
const (
	ErrorMalformed    = "malformed"
	ErrorUnknownType  = "unknown_type"
	ErrorInvalidField = "invalid_field"
	ErrorHandler      = "handler"
	ErrorDecode       = "payload_decode"
)

// Metrics contains all Prometheus instruments for the relay hub. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Device metrics
	DevicesConnected prometheus.Gauge
	Registrations    prometheus.Counter

	// Envelope metrics
	EnvelopesReceived *prometheus.CounterVec
	EnvelopeErrors    *prometheus.CounterVec
	MediaBytes        *prometheus.CounterVec

	// Delivery metrics
	FramesSent      *prometheus.CounterVec
	SendFailures    prometheus.Counter
	BroadcastFanout prometheus.Histogram

	// Transport metrics
	ConnectionsOpened prometheus.Counter
	ConnectionsOpen   prometheus.Gauge
	SlowConsumerDrops prometheus.Counter

	// Stream metrics
	ActiveStreams   prometheus.Gauge
	StreamsMerged   prometheus.Counter
	StreamEvictions *prometheus.CounterVec

	// Storage metrics
	StorageWrites *prometheus.CounterVec
	StorageBytes  prometheus.Counter
}

// New creates all instruments on a dedicated registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the instruments on reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		DevicesConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_connected",
			Help:      "Current number of registered devices",
		}),
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Total number of REGISTER envelopes accepted",
		}),

		EnvelopesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Total number of decoded envelopes by type",
		}, []string{"type"}),
		EnvelopeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelope_errors_total",
			Help:      "Total number of envelopes that failed, by failure kind",
		}, []string{"kind"}),
		MediaBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_bytes_total",
			Help:      "Decoded media bytes received, by envelope type",
		}, []string{"type"}),

		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames queued to devices, by frame type",
		}, []string{"type"}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Total number of frames that could not be queued to a device",
		}),
		BroadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_fanout",
			Help:      "Number of devices reached per broadcast",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
		}),

		ConnectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_opened_total",
			Help:      "Total number of accepted WebSocket connections",
		}),
		ConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Current number of open WebSocket connections",
		}),
		SlowConsumerDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_consumer_drops_total",
			Help:      "Total number of connections closed because their send queue was full",
		}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_streams_active",
			Help:      "Current number of in-flight audio streams",
		}),
		StreamsMerged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_streams_merged_total",
			Help:      "Total number of audio streams reassembled",
		}),
		StreamEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_stream_evictions_total",
			Help:      "Total number of in-flight audio streams evicted, by reason",
		}, []string{"reason"}),

		StorageWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_writes_total",
			Help:      "Total number of artifact writes, by kind and result",
		}, []string{"kind", "result"}),
		StorageBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_bytes_total",
			Help:      "Total number of artifact bytes written",
		}),
	}
}

// Registry returns the registry the instruments live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the exposition handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetDevicesConnected sets the registered device gauge
func (m *Metrics) SetDevicesConnected(n int) {
	if m == nil {
		return
	}
	m.DevicesConnected.Set(float64(n))
}

// RecordRegistration counts an accepted REGISTER
func (m *Metrics) RecordRegistration() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

// RecordEnvelope counts a decoded envelope
func (m *Metrics) RecordEnvelope(msgType string) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(msgType).Inc()
}

// RecordEnvelopeError counts a failed envelope
func (m *Metrics) RecordEnvelopeError(kind string) {
	if m == nil {
		return
	}
	m.EnvelopeErrors.WithLabelValues(kind).Inc()
}

// RecordMediaBytes adds decoded payload bytes for an envelope type
func (m *Metrics) RecordMediaBytes(msgType string, n int) {
	if m == nil {
		return
	}
	m.MediaBytes.WithLabelValues(msgType).Add(float64(n))
}

// RecordFrameSent counts a frame queued to a device
func (m *Metrics) RecordFrameSent(frameType string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(frameType).Inc()
}

// RecordSendFailure counts a frame that could not be queued
func (m *Metrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

// RecordBroadcast observes the number of devices one broadcast reached
func (m *Metrics) RecordBroadcast(sent int) {
	if m == nil {
		return
	}
	m.BroadcastFanout.Observe(float64(sent))
}

// ConnectionOpened counts a new transport connection
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsOpened.Inc()
	m.ConnectionsOpen.Inc()
}

// ConnectionClosed records a finished transport connection
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsOpen.Dec()
}

// RecordSlowConsumer counts a connection dropped for a full send queue
func (m *Metrics) RecordSlowConsumer() {
	if m == nil {
		return
	}
	m.SlowConsumerDrops.Inc()
}

// SetActiveStreams sets the in-flight audio stream gauge
func (m *Metrics) SetActiveStreams(n int) {
	if m == nil {
		return
	}
	m.ActiveStreams.Set(float64(n))
}

// RecordStreamMerged counts a reassembled audio stream
func (m *Metrics) RecordStreamMerged() {
	if m == nil {
		return
	}
	m.StreamsMerged.Inc()
}

// RecordStreamEviction counts an evicted audio stream
func (m *Metrics) RecordStreamEviction(reason string) {
	if m == nil {
		return
	}
	m.StreamEvictions.WithLabelValues(reason).Inc()
}

// RecordStorageWrite counts an artifact write and, on success, its size
func (m *Metrics) RecordStorageWrite(kind string, size int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.StorageWrites.WithLabelValues(kind, "error").Inc()
		return
	}
	m.StorageWrites.WithLabelValues(kind, "ok").Inc()
	m.StorageBytes.Add(float64(size))
}
