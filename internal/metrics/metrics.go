// Package metrics exposes Prometheus counters for the order lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "phantomtrade"

// Metrics holds the collectors registered on its own registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ordersCreated *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	reconciled    *prometheus.CounterVec
	bookFills     prometheus.Counter
	expired       prometheus.Counter
	jobRuns       *prometheus.CounterVec
}

// New creates a Metrics with Go runtime and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Unsigned transactions issued to wallets.",
		}, []string{"trade_type", "order_type"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Signed transaction submissions by result code.",
		}, []string{"result"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_total",
			Help:      "Transaction verifications by outcome.",
		}, []string{"outcome"}),
		bookFills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orderbook_fills_total",
			Help:      "Fills produced by the limit order book.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_expired_total",
			Help:      "Pending orders failed because no signature arrived in time.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersCreated, m.submissions, m.reconciled, m.bookFills, m.expired, m.jobRuns,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OrderCreated(tradeType, orderType string) {
	if m != nil {
		m.ordersCreated.WithLabelValues(tradeType, orderType).Inc()
	}
}

// Submission records a submit attempt; result is "submitted" or an error code.
func (m *Metrics) Submission(result string) {
	if m != nil {
		m.submissions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Reconciled(outcome string) {
	if m != nil {
		m.reconciled.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) BookFills(n int) {
	if m != nil && n > 0 {
		m.bookFills.Add(float64(n))
	}
}

func (m *Metrics) Expired() {
	if m != nil {
		m.expired.Inc()
	}
}

func (m *Metrics) JobRun(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}
