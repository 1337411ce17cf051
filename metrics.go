package sentry_transport

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/your-org/sentry-envelope-transport/internal/clientreport"
	"github.com/your-org/sentry-envelope-transport/internal/ratelimit"
)

const (
	namespace = "rr_sentry_transport"
)

// metricsCollector implements prometheus.Collector interface
type metricsCollector struct {
	sentEnvelopes   *uint64 // envelopes answered with a 2xx status
	failedEnvelopes *uint64 // envelopes that failed on the network or got a non-2xx status

	sentEnvelopesDesc   *prometheus.Desc
	failedEnvelopesDesc *prometheus.Desc
	pendingDesc         *prometheus.Desc
	capacityDesc        *prometheus.Desc

	// discarded items by reason and category
	discardedItems *prometheus.CounterVec

	pending  func() int
	capacity func() int
}

// newMetricsCollector creates a new metrics collector. pending and capacity
// are sampled on every scrape.
func newMetricsCollector(pending, capacity func() int) *metricsCollector {
	return &metricsCollector{
		sentEnvelopes:   ptrTo(uint64(0)),
		failedEnvelopes: ptrTo(uint64(0)),

		sentEnvelopesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "envelopes_sent_total"),
			"Total number of envelopes accepted by Sentry",
			nil, nil),

		failedEnvelopesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "envelopes_failed_total"),
			"Total number of envelopes that failed to send",
			nil, nil),

		pendingDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "buffer_pending"),
			"Number of sends currently in flight",
			nil, nil),

		capacityDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "buffer_capacity"),
			"Capacity of the dispatch buffer",
			nil, nil),

		discardedItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(namespace, "", "discarded_items_total"),
				Help: "Total number of discarded envelope items by reason and category",
			},
			[]string{"reason", "category"}),

		pending:  pending,
		capacity: capacity,
	}
}

// IncSent increments the sent envelopes counter
func (mc *metricsCollector) IncSent() {
	atomic.AddUint64(mc.sentEnvelopes, 1)
}

// IncFailed increments the failed envelopes counter
func (mc *metricsCollector) IncFailed() {
	atomic.AddUint64(mc.failedEnvelopes, 1)
}

// IncDiscarded increments the discarded items counter
func (mc *metricsCollector) IncDiscarded(reason clientreport.DiscardReason, category ratelimit.Category) {
	mc.discardedItems.WithLabelValues(string(reason), string(category)).Inc()
}

// Sent returns the sent envelopes counter value
func (mc *metricsCollector) Sent() uint64 {
	return atomic.LoadUint64(mc.sentEnvelopes)
}

// Failed returns the failed envelopes counter value
func (mc *metricsCollector) Failed() uint64 {
	return atomic.LoadUint64(mc.failedEnvelopes)
}

// Describe sends all metric descriptions to Prometheus
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.sentEnvelopesDesc
	ch <- mc.failedEnvelopesDesc
	ch <- mc.pendingDesc
	ch <- mc.capacityDesc

	mc.discardedItems.Describe(ch)
}

// Collect sends current metric values to Prometheus
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		mc.sentEnvelopesDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.sentEnvelopes)))

	ch <- prometheus.MustNewConstMetric(
		mc.failedEnvelopesDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.failedEnvelopes)))

	ch <- prometheus.MustNewConstMetric(
		mc.pendingDesc,
		prometheus.GaugeValue,
		float64(mc.pending()))

	ch <- prometheus.MustNewConstMetric(
		mc.capacityDesc,
		prometheus.GaugeValue,
		float64(mc.capacity()))

	mc.discardedItems.Collect(ch)
}

func ptrTo[T any](v T) *T {
	return &v
}
