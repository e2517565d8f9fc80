// Package metrics provides metrics collection for site audits.
//
// A Collector keeps cheap atomic counters for in-process summaries and
// mirrors every observation into a Prometheus registry served on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "siteaudit"

// Scan outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Skip reasons.
const (
	SkipAuditError    = "audit_error"
	SkipInvalidReport = "invalid_report"
)

// Collector collects and aggregates metrics.
type Collector struct {
	registry *prometheus.Registry

	// Counters
	scansStarted    atomic.Int64
	scansFinished   atomic.Int64
	pagesDiscovered atomic.Int64
	pagesAudited    atomic.Int64
	pagesSkipped    atomic.Int64
	retriesTotal    atomic.Int64
	blockedRequests atomic.Int64

	// Gauges
	activeScans atomic.Int64

	// Audit time tracking
	auditTimeSum atomic.Int64
	auditTimeNum atomic.Int64

	skipMu      sync.RWMutex
	skipReasons map[string]*atomic.Int64

	startTime time.Time

	promScansStarted     prometheus.Counter
	promScansFinished    *prometheus.CounterVec
	promPagesDiscovered  prometheus.Counter
	promPagesAudited     prometheus.Counter
	promPagesSkipped     *prometheus.CounterVec
	promRetries          prometheus.Counter
	promBlocked          *prometheus.CounterVec
	promActiveScans      prometheus.Gauge
	promAuditDuration    prometheus.Histogram
	promDiscoverDuration prometheus.Histogram
	promHTTPRequests     *prometheus.CounterVec
	promHTTPDuration     *prometheus.HistogramVec
}

// New creates a collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry:    reg,
		skipReasons: make(map[string]*atomic.Int64),
		startTime:   time.Now(),

		promScansStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scans_started_total",
			Help: "Total number of scans started.",
		}),
		promScansFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scans_finished_total",
			Help: "Total number of scans finished, by outcome.",
		}, []string{"outcome"}),
		promPagesDiscovered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pages_discovered_total",
			Help: "Total number of pages admitted by discovery.",
		}),
		promPagesAudited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pages_audited_total",
			Help: "Total number of pages audited successfully.",
		}),
		promPagesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pages_skipped_total",
			Help: "Total number of pages skipped during a scan, by reason.",
		}, []string{"reason"}),
		promRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audit_retries_total",
			Help: "Total number of retried page audits.",
		}),
		promBlocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_blocked_total",
			Help: "Total number of browser requests aborted during discovery, by resource type.",
		}, []string{"type"}),
		promActiveScans: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_scans",
			Help: "Number of scans in progress.",
		}),
		promAuditDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "audit_duration_seconds",
			Help:    "Duration of single page audits.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 15, 30, 60},
		}),
		promDiscoverDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "discovery_duration_seconds",
			Help:    "Duration of discovery passes.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		promHTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		promHTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ScanStarted records a scan start.
func (c *Collector) ScanStarted() {
	c.scansStarted.Add(1)
	c.activeScans.Add(1)
	c.promScansStarted.Inc()
	c.promActiveScans.Inc()
}

// ScanFinished records a scan end with its outcome.
func (c *Collector) ScanFinished(outcome string) {
	c.scansFinished.Add(1)
	c.activeScans.Add(-1)
	c.promScansFinished.WithLabelValues(outcome).Inc()
	c.promActiveScans.Dec()
}

// RecordDiscovery records a finished discovery pass.
func (c *Collector) RecordDiscovery(pages int, d time.Duration) {
	c.pagesDiscovered.Add(int64(pages))
	c.promPagesDiscovered.Add(float64(pages))
	c.promDiscoverDuration.Observe(d.Seconds())
}

// RecordAudit records a successful page audit.
func (c *Collector) RecordAudit(d time.Duration) {
	c.pagesAudited.Add(1)
	c.auditTimeSum.Add(d.Milliseconds())
	c.auditTimeNum.Add(1)
	c.promPagesAudited.Inc()
	c.promAuditDuration.Observe(d.Seconds())
}

// RecordSkip records a page that yielded no result.
func (c *Collector) RecordSkip(reason string) {
	c.pagesSkipped.Add(1)

	c.skipMu.Lock()
	if c.skipReasons[reason] == nil {
		c.skipReasons[reason] = &atomic.Int64{}
	}
	c.skipReasons[reason].Add(1)
	c.skipMu.Unlock()

	c.promPagesSkipped.WithLabelValues(reason).Inc()
}

// RecordRetry records a retry attempt.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Add(1)
	c.promRetries.Inc()
}

// RecordBlocked records requests aborted by the discovery request policy.
func (c *Collector) RecordBlocked(blocked map[string]int) {
	for resourceType, n := range blocked {
		c.blockedRequests.Add(int64(n))
		c.promBlocked.WithLabelValues(resourceType).Add(float64(n))
	}
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.promHTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.promHTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// GetAverageAuditTime returns the average page audit time.
func (c *Collector) GetAverageAuditTime() time.Duration {
	sum := c.auditTimeSum.Load()
	num := c.auditTimeNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of the counters.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:        time.Now(),
		Uptime:           time.Since(c.startTime),
		ScansStarted:     c.scansStarted.Load(),
		ScansFinished:    c.scansFinished.Load(),
		ActiveScans:      c.activeScans.Load(),
		PagesDiscovered:  c.pagesDiscovered.Load(),
		PagesAudited:     c.pagesAudited.Load(),
		PagesSkipped:     c.pagesSkipped.Load(),
		RetriesTotal:     c.retriesTotal.Load(),
		BlockedRequests:  c.blockedRequests.Load(),
		AverageAuditTime: c.GetAverageAuditTime(),
		SkipReasons:      make(map[string]int64),
	}

	c.skipMu.RLock()
	for k, v := range c.skipReasons {
		s.SkipReasons[k] = v.Load()
	}
	c.skipMu.RUnlock()

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp        time.Time        `json:"timestamp"`
	Uptime           time.Duration    `json:"uptime"`
	ScansStarted     int64            `json:"scans_started"`
	ScansFinished    int64            `json:"scans_finished"`
	ActiveScans      int64            `json:"active_scans"`
	PagesDiscovered  int64            `json:"pages_discovered"`
	PagesAudited     int64            `json:"pages_audited"`
	PagesSkipped     int64            `json:"pages_skipped"`
	RetriesTotal     int64            `json:"retries_total"`
	BlockedRequests  int64            `json:"blocked_requests"`
	AverageAuditTime time.Duration    `json:"average_audit_time"`
	SkipReasons      map[string]int64 `json:"skip_reasons"`
}

// SkipRate returns skipped pages over attempted pages.
func (s *Snapshot) SkipRate() float64 {
	attempted := s.PagesAudited + s.PagesSkipped
	if attempted == 0 {
		return 0
	}
	return float64(s.PagesSkipped) / float64(attempted)
}

// Summary returns a human-readable summary.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":            s.Uptime.String(),
		"scans_started":     s.ScansStarted,
		"active_scans":      s.ActiveScans,
		"pages_discovered":  s.PagesDiscovered,
		"pages_audited":     s.PagesAudited,
		"pages_skipped":     s.PagesSkipped,
		"skip_rate":         s.SkipRate(),
		"retries_total":     s.RetriesTotal,
		"blocked_requests":  s.BlockedRequests,
		"avg_audit_time_ms": s.AverageAuditTime.Milliseconds(),
	}
}

// Global metrics collector.
var globalCollector = New()

// SetGlobal sets the global metrics collector.
func SetGlobal(c *Collector) {
	globalCollector = c
}

// Global returns the global metrics collector.
func Global() *Collector {
	return globalCollector
}
