// Package metrics holds the Prometheus collectors for the publisher.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "social_publisher"

// Collector owns its registry so tests can build one per case. All
// methods are safe on a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	TargetsTotal        *prometheus.CounterVec
	DispatchDuration    *prometheus.HistogramVec
	CredentialRefreshes *prometheus.CounterVec
	FollowUpFailures    *prometheus.CounterVec
	ContentOutcomes     *prometheus.CounterVec
	SchedulerTicks      *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		TargetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_total",
			Help:      "Dispatched publish targets by platform and result kind",
		}, []string{"platform", "kind"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of one target dispatch in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"platform"}),
		CredentialRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_refreshes_total",
			Help:      "Credential refresh attempts by platform and status",
		}, []string{"platform", "status"}),
		FollowUpFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_up_failures_total",
			Help:      "Follow-up comments that could not be posted",
		}, []string{"platform"}),
		ContentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_outcomes_total",
			Help:      "Aggregated content item results",
		}, []string{"status"}),
		SchedulerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler ticks by status",
		}, []string{"status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.TargetsTotal,
		c.DispatchDuration,
		c.CredentialRefreshes,
		c.FollowUpFailures,
		c.ContentOutcomes,
		c.SchedulerTicks,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// ObserveDispatch records one settled target. kind is empty on success.
func (c *Collector) ObserveDispatch(platform, kind string, d time.Duration) {
	if c == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	c.TargetsTotal.WithLabelValues(platform, kind).Inc()
	c.DispatchDuration.WithLabelValues(platform).Observe(d.Seconds())
}

func (c *Collector) ObserveRefresh(platform string, ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	c.CredentialRefreshes.WithLabelValues(platform, status).Inc()
}

func (c *Collector) ObserveFollowUpFailure(platform string) {
	if c == nil {
		return
	}
	c.FollowUpFailures.WithLabelValues(platform).Inc()
}

func (c *Collector) ObserveContent(status string) {
	if c == nil {
		return
	}
	c.ContentOutcomes.WithLabelValues(status).Inc()
}

func (c *Collector) ObserveTick(status string) {
	if c == nil {
		return
	}
	c.SchedulerTicks.WithLabelValues(status).Inc()
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
