package client

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"xdao.co/pinfetch/deadline"
)

// Metrics collects read outcomes and remote call latencies.
// A nil *Metrics records nothing.
type Metrics struct {
	results      *prometheus.CounterVec
	readBytes    prometheus.Counter
	pinFailures  prometheus.Counter
	callDuration *prometheus.HistogramVec
	callTimeouts *prometheus.CounterVec
}

// NewMetrics builds the client collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pinfetch",
			Name:      "read_results_total",
			Help:      "Reads by result code.",
		}, []string{"code"}),
		readBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pinfetch",
			Name:      "read_bytes_total",
			Help:      "Payload bytes returned by successful reads.",
		}),
		pinFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pinfetch",
			Name:      "pin_failures_total",
			Help:      "Pins that failed after a successful read.",
		}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pinfetch",
			Name:      "remote_call_duration_seconds",
			Help:      "Latency of guarded node calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"op"}),
		callTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pinfetch",
			Name:      "remote_call_timeouts_total",
			Help:      "Guarded node calls that hit the per-call timeout.",
		}, []string{"op"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.results, m.readBytes, m.pinFailures, m.callDuration, m.callTimeouts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRead(r FetchResult) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(r.Code.String()).Inc()
	if r.Code == Success {
		m.readBytes.Add(float64(len(r.Content)))
	}
}

func (m *Metrics) observeCall(op string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(op).Observe(took.Seconds())
	if errors.Is(err, deadline.ErrTimeout) {
		m.callTimeouts.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) pinFailed() {
	if m == nil {
		return
	}
	m.pinFailures.Inc()
}
