// Package metrics exposes Prometheus collectors for the aggregation pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aggregator"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CacheRequests    *prometheus.CounterVec
	ScrapeChannels   *prometheus.CounterVec
	ItemsInspected   prometheus.Histogram
	VideosIngested   prometheus.Counter
	AIRequests       *prometheus.CounterVec
	SchedulerRuns    *prometheus.CounterVec
	SchedulerDelay   prometheus.Histogram
	ClassifyInFlight prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by result (hit, miss).",
		}, []string{"result"}),
		ScrapeChannels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_channels_total",
			Help:      "Channels processed by outcome (success, failure).",
		}, []string{"outcome"}),
		ItemsInspected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_items_inspected",
			Help:      "Listing items inspected per channel scrape.",
			Buckets:   []float64{5, 10, 15, 20, 30, 50, 100, 200},
		}),
		VideosIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "videos_ingested_total",
			Help:      "New video records persisted.",
		}),
		AIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_requests_total",
			Help:      "AI provider calls by outcome (ok, retry, rate_limited, fatal, invalid_output).",
		}, []string{"outcome"}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduler runs by final job status.",
		}, []string{"status"}),
		SchedulerDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_inter_channel_delay_seconds",
			Help:      "Adaptive delay slept between channels.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		ClassifyInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classify_in_flight",
			Help:      "Classification calls currently in flight.",
		}),
	}

	reg.MustRegister(
		m.CacheRequests,
		m.ScrapeChannels,
		m.ItemsInspected,
		m.VideosIngested,
		m.AIRequests,
		m.SchedulerRuns,
		m.SchedulerDelay,
		m.ClassifyInFlight,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheRequests.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheRequests.WithLabelValues("miss").Inc()
	}
}

// ChannelScraped records a per-channel outcome and how many items were walked.
func (m *Metrics) ChannelScraped(ok bool, inspected int) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.ScrapeChannels.WithLabelValues(outcome).Inc()
	if inspected > 0 {
		m.ItemsInspected.Observe(float64(inspected))
	}
}

func (m *Metrics) Ingested(n int) {
	if m != nil && n > 0 {
		m.VideosIngested.Add(float64(n))
	}
}

func (m *Metrics) AIRequest(outcome string) {
	if m != nil {
		m.AIRequests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SchedulerRun(status string) {
	if m != nil {
		m.SchedulerRuns.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) InterChannelDelay(seconds float64) {
	if m != nil {
		m.SchedulerDelay.Observe(seconds)
	}
}

// TrackClassify increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackClassify() func() {
	if m == nil {
		return func() {}
	}
	m.ClassifyInFlight.Inc()
	return m.ClassifyInFlight.Dec
}
