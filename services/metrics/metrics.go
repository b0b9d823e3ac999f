package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/jotutor/core/payment"
)

const namespace = "jotutor"

// Collector counts checkouts and gateway calls.
type Collector struct {
	registry *prometheus.Registry

	checkoutsStarted  *prometheus.CounterVec
	checkoutsFinished *prometheus.CounterVec
	checkoutDuration  *prometheus.HistogramVec
	gatewayCalls      *prometheus.CounterVec
	gatewayLatency    *prometheus.HistogramVec
}

var (
	_ payment.Observer        = (*Collector)(nil)
	_ payment.GatewayObserver = (*Collector)(nil)
)

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		checkoutsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "started_total",
			Help:      "Checkout attempts started.",
		}, []string{"method"}),
		checkoutsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "finished_total",
			Help:      "Checkout attempts that reached a terminal state.",
		}, []string{"method", "state"}),
		checkoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "duration_seconds",
			Help:      "Time from checkout start to its terminal state.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"method", "state"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Payment gateway calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Payment gateway round trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.checkoutsStarted,
		c.checkoutsFinished,
		c.checkoutDuration,
		c.gatewayCalls,
		c.gatewayLatency,
	)
	return c
}

func (c *Collector) CheckoutStarted(method payment.Method) {
	c.checkoutsStarted.WithLabelValues(string(method)).Inc()
}

func (c *Collector) CheckoutFinished(method payment.Method, state payment.State, elapsed time.Duration) {
	c.checkoutsFinished.WithLabelValues(string(method), string(state)).Inc()
	c.checkoutDuration.WithLabelValues(string(method), string(state)).Observe(elapsed.Seconds())
}

// ObserveGatewayCall records a gateway call. Calls rejected before the network have no latency.
func (c *Collector) ObserveGatewayCall(op, outcome string, elapsed time.Duration) {
	c.gatewayCalls.WithLabelValues(op, outcome).Inc()
	if elapsed > 0 {
		c.gatewayLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
