// Package metrics exposes Prometheus instrumentation for the transport.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcwire"

// Direction labels.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

var (
	registerOnce sync.Once

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames read from or written to connections.",
		},
		[]string{"direction"},
	)
	wireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Bytes received from or sent to sockets, as seen on the wire.",
		},
		[]string{"direction"},
	)
	compressedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "compressed_frames_total",
			Help:      "Outbound frames that exceeded the compression threshold.",
		},
	)
	transportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Fatal transport errors by kind.",
		},
		[]string{"kind"},
	)
	rejectedConns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "rejected_connections_total",
			Help:      "Connections turned away before play, by reason.",
		},
		[]string{"reason"},
	)
	activeConns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections",
			Help:      "Connections currently open.",
		},
	)
)

// Register adds the collectors to the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(frames, wireBytes, compressedFrames, transportErrors, rejectedConns, activeConns)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

func FrameRead() {
	frames.WithLabelValues(Inbound).Inc()
}

func BytesRead(n int) {
	wireBytes.WithLabelValues(Inbound).Add(float64(n))
}

func FrameWritten(wireLen int, compressed bool) {
	frames.WithLabelValues(Outbound).Inc()
	wireBytes.WithLabelValues(Outbound).Add(float64(wireLen))
	if compressed {
		compressedFrames.Inc()
	}
}

func TransportError(kind string) {
	transportErrors.WithLabelValues(kind).Inc()
}

func ConnRejected(reason string) {
	rejectedConns.WithLabelValues(reason).Inc()
}

func ConnOpened() { activeConns.Inc() }

func ConnClosed() { activeConns.Dec() }
