// Package metrics exports optimization engine activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DickShmiggleTM/qux-95-genesis-core-sub001/internal/optimization"
)

const namespace = "optimization"

// Collector is an engine observer that maintains Prometheus metrics. Register
// it with a prometheus.Registerer and pass it to the engine with
// engine.WithObserver.
type Collector struct {
	runs       *prometheus.CounterVec
	steps      *prometheus.CounterVec
	iterations *prometheus.HistogramVec
	duration   *prometheus.HistogramVec
	rateChange *prometheus.CounterVec
	penalties  prometheus.Counter
	running    prometheus.Gauge
}

var _ optimization.Observer = (*Collector)(nil)
var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector. It is not registered.
func NewCollector() *Collector {
	return &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished optimization runs by method and final status.",
		}, []string{"method", "status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Recorded optimization steps by method.",
		}, []string{"method"}),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iterations",
			Help:      "Iterations used by finished runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"method"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		rateChange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learning_rate_changes_total",
			Help:      "Learning rate changes applied by schedulers.",
		}, []string{"method"}),
		penalties: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regularization_evaluations_total",
			Help:      "Explicit regularization penalty evaluations.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "Optimization runs currently in progress.",
		}),
	}
}

// OnEvent implements optimization.Observer.
func (c *Collector) OnEvent(e optimization.Event) {
	switch e.Type {
	case optimization.EventStarted:
		c.running.Inc()
	case optimization.EventStep:
		c.steps.WithLabelValues(e.Method).Inc()
	case optimization.EventLearningRateChanged:
		c.rateChange.WithLabelValues(e.Method).Inc()
	case optimization.EventRegularizationApplied:
		c.penalties.Inc()
	case optimization.EventCompleted, optimization.EventCancelled:
		c.finish(e, statusOf(e.Type))
		if e.Result != nil {
			c.iterations.WithLabelValues(e.Method).Observe(float64(e.Result.Iterations))
			c.duration.WithLabelValues(e.Method).Observe(e.Result.Duration.Seconds())
		}
	case optimization.EventFailed:
		c.finish(e, statusOf(e.Type))
	}
}

func (c *Collector) finish(e optimization.Event, status optimization.Status) {
	c.running.Dec()
	c.runs.WithLabelValues(e.Method, string(status)).Inc()
}

func statusOf(t optimization.EventType) optimization.Status {
	switch t {
	case optimization.EventCompleted:
		return optimization.StatusCompleted
	case optimization.EventCancelled:
		return optimization.StatusCancelled
	default:
		return optimization.StatusFailed
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.runs.Describe(ch)
	c.steps.Describe(ch)
	c.iterations.Describe(ch)
	c.duration.Describe(ch)
	c.rateChange.Describe(ch)
	c.penalties.Describe(ch)
	c.running.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.runs.Collect(ch)
	c.steps.Collect(ch)
	c.iterations.Collect(ch)
	c.duration.Collect(ch)
	c.rateChange.Collect(ch)
	c.penalties.Collect(ch)
	c.running.Collect(ch)
}
