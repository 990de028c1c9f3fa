package conductor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/librescoot/metalfsm"
)

// Metrics are the conductor's prometheus collectors. They are not
// registered anywhere until Register is called.
type Metrics struct {
	transitions *prometheus.CounterVec
	provisions  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	driverCalls *prometheus.CounterVec
	timeouts    prometheus.Counter
}

// NewMetrics creates the collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metalfsm",
				Subsystem: "conductor",
				Name:      "transitions_total",
				Help:      "Committed provision state transitions",
			},
			[]string{"from", "to", "event"},
		),
		provisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metalfsm",
				Subsystem: "conductor",
				Name:      "provisions_total",
				Help:      "Provision state change requests by target and the state the node settled in",
			},
			[]string{"target", "state"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "metalfsm",
				Subsystem: "conductor",
				Name:      "provision_duration_seconds",
				Help:      "Time spent driving a node until it settled",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"target"},
		),
		driverCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metalfsm",
				Subsystem: "driver",
				Name:      "calls_total",
				Help:      "Driver calls by driver, operation and result",
			},
			[]string{"driver", "operation", "result"},
		),
		timeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "metalfsm",
				Subsystem: "conductor",
				Name:      "callback_timeouts_total",
				Help:      "Deployments failed because the deploy callback never arrived",
			},
		),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.transitions, m.provisions, m.duration, m.driverCalls, m.timeouts} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) recordTransition(from, to metalfsm.StateID, event metalfsm.EventID) {
	m.transitions.WithLabelValues(string(from), string(to), string(event)).Inc()
}

func (m *Metrics) recordProvision(target string, settled metalfsm.StateID, took time.Duration) {
	m.provisions.WithLabelValues(target, string(settled)).Inc()
	m.duration.WithLabelValues(target).Observe(took.Seconds())
}

func (m *Metrics) recordDriverCall(drv, op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.driverCalls.WithLabelValues(drv, op, result).Inc()
}

func (m *Metrics) recordTimeout() {
	m.timeouts.Inc()
}
