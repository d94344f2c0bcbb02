package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline records queue, sync cycle, gateway and cleanup metrics. All
// methods are safe to call on a nil *Pipeline, which records nothing.
type Pipeline struct {
	queueDepth       *prometheus.GaugeVec
	dispatched       prometheus.Counter
	jobOutcomes      *prometheus.CounterVec
	cycleDuration    *prometheus.HistogramVec
	videosDiscovered *prometheus.CounterVec
	snapshots        *prometheus.CounterVec
	gatewayRuns      *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	breakerRequests  *prometheus.CounterVec
	cleanupDeleted   *prometheus.CounterVec
}

func newPipeline(reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "jobs",
			Help: "Sync jobs by status as of the last dispatch tick.",
		}, []string{"status"}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "dispatched_total",
			Help: "Jobs claimed and dispatched to a sync cycle.",
		}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "job_outcomes_total",
			Help: "Job transitions: completed, failed, requeued, contended, cancelled.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sync", Name: "cycle_duration_seconds",
			Help:    "Duration of per-account sync cycles.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"platform", "result"}),
		videosDiscovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "videos_discovered_total",
			Help: "New videos stored by discovery.",
		}, []string{"platform"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sync", Name: "snapshots_total",
			Help: "Snapshots created, by capture reason.",
		}, []string{"captured_by"}),
		gatewayRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "runs_total",
			Help: "Scrape gateway runs by task and status.",
		}, []string{"task", "status"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
		breakerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result.",
		}, []string{"name", "result"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cleanup", Name: "deleted_total",
			Help: "Records and objects removed by deletion cascades.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		p.queueDepth, p.dispatched, p.jobOutcomes, p.cycleDuration, p.videosDiscovered,
		p.snapshots, p.gatewayRuns, p.breakerState, p.breakerRequests, p.cleanupDeleted,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SetQueueDepth replaces the per-status job gauges.
func (p *Pipeline) SetQueueDepth(counts map[string]int) {
	if p == nil {
		return
	}
	for _, status := range []string{"pending", "running", "completed", "failed"} {
		p.queueDepth.WithLabelValues(status).Set(float64(counts[status]))
	}
}

func (p *Pipeline) AddDispatched(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.dispatched.Add(float64(n))
}

func (p *Pipeline) RecordJobOutcome(outcome string) {
	if p == nil {
		return
	}
	p.jobOutcomes.WithLabelValues(outcome).Inc()
}

func (p *Pipeline) ObserveCycle(platform, result string, d time.Duration) {
	if p == nil {
		return
	}
	p.cycleDuration.WithLabelValues(platform, result).Observe(d.Seconds())
}

func (p *Pipeline) AddDiscovered(platform string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.videosDiscovered.WithLabelValues(platform).Add(float64(n))
}

func (p *Pipeline) AddSnapshots(capturedBy string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.snapshots.WithLabelValues(capturedBy).Add(float64(n))
}

func (p *Pipeline) RecordGatewayRun(task, status string) {
	if p == nil {
		return
	}
	p.gatewayRuns.WithLabelValues(task, status).Inc()
}

func (p *Pipeline) SetBreakerState(name string, state float64) {
	if p == nil {
		return
	}
	p.breakerState.WithLabelValues(name).Set(state)
}

func (p *Pipeline) RecordBreakerRequest(name, result string) {
	if p == nil {
		return
	}
	p.breakerRequests.WithLabelValues(name, result).Inc()
}

func (p *Pipeline) AddCleanupDeleted(kind string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.cleanupDeleted.WithLabelValues(kind).Add(float64(n))
}
