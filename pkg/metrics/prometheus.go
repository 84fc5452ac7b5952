package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records engine, persistence and HTTP metrics. A nil *Recorder is a no-op.
type Recorder struct {
	matchesTotal    *prometheus.CounterVec
	matchDuration   *prometheus.HistogramVec
	rebuildsTotal   *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	persistTotal    *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	httpRequests    *prometheus.CounterVec
}

// New registers the fractal metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		matchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_matches_total",
				Help: "Total number of match queries by outcome",
			},
			[]string{"window_len", "result"},
		),
		matchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fractal_match_duration_seconds",
				Help:    "Duration of match queries in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"window_len"},
		),
		rebuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_cache_rebuilds_total",
				Help: "Total number of series cache rebuilds",
			},
			[]string{"result"},
		),
		rebuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fractal_cache_rebuild_duration_seconds",
				Help:    "Duration of series load plus index build",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		persistTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_persist_total",
				Help: "Feature record persistence attempts by outcome",
			},
			[]string{"result"},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fractal_persist_queue_depth",
				Help: "Feature records waiting to be persisted",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fractal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
	}
}

// RecordMatch records a finished match query. result is ok, insufficient_data, no_candidates or error.
func (r *Recorder) RecordMatch(windowLen, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.matchesTotal.WithLabelValues(windowLen, result).Inc()
	r.matchDuration.WithLabelValues(windowLen).Observe(d.Seconds())
}

// RecordRebuild records a cache rebuild
func (r *Recorder) RecordRebuild(ok bool, d time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.rebuildsTotal.WithLabelValues(result).Inc()
	r.rebuildDuration.Observe(d.Seconds())
}

// RecordPersist records a persistence outcome: ok, error, dropped or rejected
func (r *Recorder) RecordPersist(result string) {
	if r == nil {
		return
	}
	r.persistTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth records the persistence queue length
func (r *Recorder) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.queueDepth.Set(float64(n))
}

// RecordHTTP records a served HTTP request
func (r *Recorder) RecordHTTP(route, method, status string) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, status).Inc()
}
