package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gammactl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gammactl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	controlsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gammactl",
			Subsystem: "gamma",
			Name:      "controls_active",
			Help:      "Gamma controls currently tracked by the manager.",
		},
	)
	controlsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gammactl",
			Subsystem: "gamma",
			Name:      "controls_created_total",
			Help:      "Gamma control requests by outcome.",
		},
		[]string{"outcome"},
	)
	controlsDestroyed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gammactl",
			Subsystem: "gamma",
			Name:      "controls_destroyed_total",
			Help:      "Gamma controls destroyed by reason.",
		},
		[]string{"reason"},
	)
	supersedes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gammactl",
			Subsystem: "gamma",
			Name:      "supersedes_total",
			Help:      "Controls evicted by a newer control on the same output.",
		},
	)
	setGamma = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gammactl",
			Subsystem: "gamma",
			Name:      "set_gamma_total",
			Help:      "set_gamma requests by outcome.",
		},
		[]string{"outcome"},
	)
	rampBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gammactl",
			Subsystem: "gamma",
			Name:      "ramp_bytes_read_total",
			Help:      "Ramp bytes read from client streams.",
		},
	)
	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gammactl",
			Subsystem: "transport",
			Name:      "connections",
			Help:      "Open client connections.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			controlsActive, controlsCreated, controlsDestroyed, supersedes, setGamma, rampBytes,
			connections,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func SetControlsActive(n int) {
	RegisterMetrics()
	controlsActive.Set(float64(n))
}

func RecordControlCreated(outcome string) {
	RegisterMetrics()
	controlsCreated.WithLabelValues(outcome).Inc()
}

func RecordControlDestroyed(reason string) {
	RegisterMetrics()
	controlsDestroyed.WithLabelValues(reason).Inc()
}

func RecordSupersede() {
	RegisterMetrics()
	supersedes.Inc()
}

func RecordSetGamma(outcome string, bytes int) {
	RegisterMetrics()
	setGamma.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		rampBytes.Add(float64(bytes))
	}
}

func AddConnections(delta int) {
	RegisterMetrics()
	connections.Add(float64(delta))
}
