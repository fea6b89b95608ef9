package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "geoharvest",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoharvest",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "geoharvest",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	harvests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "geoharvest",
			Subsystem: "harvest",
			Name:      "resources_total",
			Help:      "Total number of resource harvest attempts.",
		},
		[]string{"type", "status"},
	)

	harvestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "geoharvest",
			Subsystem: "harvest",
			Name:      "resource_duration_seconds",
			Help:      "Duration of single resource harvests.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"type"},
	)

	pendingResources = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "geoharvest",
			Subsystem: "monitor",
			Name:      "pending_resources",
			Help:      "Remote resources not yet harvested, per service.",
		},
		[]string{"service"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		harvests,
		harvestDuration,
		pendingResources,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordHarvest records the outcome of a single resource harvest.
func RecordHarvest(serviceType string, duration time.Duration, err error) {
	if serviceType == "" {
		serviceType = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	harvests.WithLabelValues(serviceType, status).Inc()
	harvestDuration.WithLabelValues(serviceType).Observe(duration.Seconds())
}

// SetPendingResources records how many resources of a service are not yet
// harvested.
func SetPendingResources(service string, n int) {
	pendingResources.WithLabelValues(service).Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses identifiers so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] == "api" && len(parts) > 1 {
		if len(parts) == 2 {
			return "/api/" + parts[1]
		}
		return "/api/" + parts[1] + "/:id"
	}
	switch parts[0] {
	case "services", "layers":
		out := "/" + parts[0]
		for i, p := range parts[1:] {
			if i%2 == 0 {
				out += "/:id"
			} else {
				out += "/" + p
			}
		}
		return out
	case "thumbs":
		return "/thumbs/:key"
	}
	return "/" + parts[0]
}
