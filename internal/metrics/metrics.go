package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	AllocationsTotal  *prometheus.CounterVec
	AllocationLatency *prometheus.HistogramVec
	OutcomesTotal     *prometheus.CounterVec
	RateLimited       prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		AllocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moebandit_allocations_total",
			Help: "Total allocation requests served",
		}, []string{"experiment", "subtype", "status"}),
		AllocationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moebandit_allocation_latency_us",
			Help:    "Allocation computation latency in microseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"experiment", "subtype"}),
		OutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moebandit_outcomes_total",
			Help: "Total arm outcomes recorded",
		}, []string{"experiment", "arm", "result"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moebandit_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
	reg.MustRegister(m.AllocationsTotal, m.AllocationLatency, m.OutcomesTotal, m.RateLimited)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
