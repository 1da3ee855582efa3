// Package metrics exposes engine counters to prometheus. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matchd"

type Collector struct {
	registry *prometheus.Registry

	submitted *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	cancelled prometheus.Counter
	trades    prometheus.Counter
	volume    prometheus.Counter
	resting   *prometheus.GaugeVec

	published     prometheus.Counter
	publishFailed prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Accepted order submissions by side.",
		}, []string{"side"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Rejected order submissions by reason.",
		}, []string{"reason"}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Resting orders removed by cancel.",
		}),
		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed trades.",
		}),
		volume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_volume_total",
			Help:      "Sum of executed trade quantities.",
		}),
		resting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_quantity",
			Help:      "Quantity resting in the book by side.",
		}, []string{"side"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_events_published_total",
			Help:      "Trade events delivered by the broadcaster.",
		}),
		publishFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_events_failed_total",
			Help:      "Failed trade event deliveries.",
		}),
	}
	c.registry.MustRegister(
		c.submitted, c.rejected, c.cancelled, c.trades, c.volume, c.resting,
		c.published, c.publishFailed,
		collectors.NewGoCollector(),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) OrderSubmitted(side string) {
	if c == nil {
		return
	}
	c.submitted.WithLabelValues(side).Inc()
}

func (c *Collector) OrderRejected(reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) OrderCancelled() {
	if c == nil {
		return
	}
	c.cancelled.Inc()
}

func (c *Collector) Traded(qty int64) {
	if c == nil {
		return
	}
	c.trades.Inc()
	c.volume.Add(float64(qty))
}

func (c *Collector) SetResting(side string, qty int64) {
	if c == nil {
		return
	}
	c.resting.WithLabelValues(side).Set(float64(qty))
}

func (c *Collector) Published() {
	if c == nil {
		return
	}
	c.published.Inc()
}

func (c *Collector) PublishFailed() {
	if c == nil {
		return
	}
	c.publishFailed.Inc()
}
