package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ocirt/store"
)

const metricsNamespace = "ocirt"

// Lister lists container records. *container.Runtime implements it.
type Lister interface {
	List() ([]*store.Record, error)
}

// Metrics holds the daemon's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
}

// NewMetrics registers the request metrics and a per-status container
// gauge read from l at scrape time.
func NewMetrics(l Lister) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Runtime requests by method and status code.",
			},
			[]string{"method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Runtime request latency by method.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"method"},
		),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "create_rate_limited_total",
			Help:      "Create requests rejected by the rate limit.",
		}),
	}
	m.registry.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.RateLimited,
		newContainerCollector(l),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mostly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

type containerCollector struct {
	lister Lister
	desc   *prometheus.Desc
}

func newContainerCollector(l Lister) *containerCollector {
	return &containerCollector{
		lister: l,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "containers"),
			"Containers by status.",
			[]string{"status"}, nil,
		),
	}
}

func (c *containerCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *containerCollector) Collect(ch chan<- prometheus.Metric) {
	recs, err := c.lister.List()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	counts := map[string]int{"creating": 0, "created": 0, "running": 0, "stopped": 0}
	for _, rec := range recs {
		counts[string(rec.Status)]++
	}
	for st, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), st)
	}
}
