package metrics

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reelpulse"

// Collector owns the Prometheus registry: inbound HTTP metrics plus the sync
// pipeline metrics exposed through Pipeline.
type Collector struct {
	registry *prometheus.Registry
	latency  *prometheus.HistogramVec
	requests *prometheus.CounterVec
	inFlight prometheus.Gauge
	pipeline *Pipeline
}

// NewCollector constructs a collector with its own registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of operator API requests by route.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 15, 30},
		}, []string{"method", "route", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Operator API requests by route and status.",
		}, []string{"method", "route", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Requests currently being served.",
		}),
	}

	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, m := range []prometheus.Collector{c.latency, c.requests, c.inFlight} {
		if err := c.registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register http metrics: %w", err)
		}
	}

	pipeline, err := newPipeline(c.registry)
	if err != nil {
		return nil, err
	}
	c.pipeline = pipeline
	return c, nil
}

// Pipeline returns the sync pipeline metrics.
func (c *Collector) Pipeline() *Pipeline {
	return c.pipeline
}

// RegisterDB exports connection pool statistics of db.
func (c *Collector) RegisterDB(db *sql.DB, name string) error {
	if err := c.registry.Register(collectors.NewDBStatsCollector(db, name)); err != nil {
		return fmt.Errorf("failed to register db stats: %w", err)
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// InstrumentHandler records latency and status per matched route pattern.
// Requests no route matched share the "unmatched" label so account and
// video ids never become label values. Scrapes of /metrics are not counted.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		c.inFlight.Inc()
		defer c.inFlight.Dec()

		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(rw.status)
		c.requests.WithLabelValues(r.Method, route, status).Inc()
		c.latency.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
