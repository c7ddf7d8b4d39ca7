// Package metrics exports guest call and buffer traffic as Prometheus
// metrics. A Collector is an engine.CallObserver; hand it to
// runtime.WithMetrics or engine.Config.Observer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/wasm-hostbridge/engine"
)

const namespace = "hostbridge"

// Collector counts guest calls by export and outcome, times them, and sums
// the bytes moved through guest buffers.
type Collector struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	memory   *prometheus.CounterVec
}

var _ engine.CallObserver = (*Collector)(nil)

// New creates a Collector and registers it with reg. A nil reg leaves the
// metrics unregistered.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "guest",
				Name:      "calls_total",
				Help:      "Guest export calls by outcome",
			},
			[]string{"export", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "guest",
				Name:      "call_duration_seconds",
				Help:      "Guest export call duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs ~ 2.6s
			},
			[]string{"export"},
		),
		memory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "memory",
				Name:      "bytes_total",
				Help:      "Bytes copied between host and guest buffers",
			},
			[]string{"direction"},
		),
	}
	if reg != nil {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is New that panics on registration failure.
func MustNew(reg prometheus.Registerer) *Collector {
	c, err := New(reg)
	if err != nil {
		panic(err)
	}
	return c
}

// ObserveCall implements engine.CallObserver. Calls rejected before
// reaching the guest are counted but not timed.
func (c *Collector) ObserveCall(export string, outcome engine.Outcome, d time.Duration) {
	c.calls.WithLabelValues(export, string(outcome)).Inc()
	if outcome != engine.OutcomeRejected {
		c.duration.WithLabelValues(export).Observe(d.Seconds())
	}
}

// ObserveMemory implements engine.CallObserver.
func (c *Collector) ObserveMemory(direction engine.Direction, n int) {
	c.memory.WithLabelValues(string(direction)).Add(float64(n))
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.calls.Describe(ch)
	c.duration.Describe(ch)
	c.memory.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.calls.Collect(ch)
	c.duration.Collect(ch)
	c.memory.Collect(ch)
}
