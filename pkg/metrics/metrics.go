// Package metrics exposes call counters and timings to Prometheus.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label names and values
const (
	LabelStatus        = "status"
	LabelStatusFail    = "fail"
	LabelStatusSuccess = "success"

	LabelBackend = "backend"
	LabelCode    = "code"
)

// Metrics holds the collectors for one Conn.
type Metrics struct {
	Calls       *prometheus.CounterVec
	BindErrors  *prometheus.CounterVec
	Truncations prometheus.Counter
	Duration    *prometheus.HistogramVec
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		// Calls collects executed calls by backend and status
		Calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callbind_calls_total",
				Help: "number of executed procedure calls",
			}, []string{LabelBackend, LabelStatus}),

		// BindErrors collects rejected bindings by error code
		BindErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callbind_bind_errors_total",
				Help: "number of bindings rejected before execution",
			}, []string{LabelCode}),

		Truncations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callbind_truncations_total",
				Help: "number of parameter values truncated to fit a buffer",
			}),

		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callbind_call_duration_seconds",
			Help:    "Time of procedure call execution",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{LabelBackend}),
	}
}

// Register registers every collector with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{m.Calls, m.BindErrors, m.Truncations, m.Duration} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveCall records one execution.
func (m *Metrics) ObserveCall(backend string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := LabelStatusSuccess
	if err != nil {
		status = LabelStatusFail
	}
	m.Calls.With(prometheus.Labels{LabelBackend: backend, LabelStatus: status}).Inc()
	m.Duration.With(prometheus.Labels{LabelBackend: backend}).Observe(d.Seconds())
}

// BindError records a rejected binding by its numeric error code.
func (m *Metrics) BindError(code int) {
	if m == nil {
		return
	}
	m.BindErrors.With(prometheus.Labels{LabelCode: strconv.Itoa(code)}).Inc()
}

// Truncated records n truncation warnings.
func (m *Metrics) Truncated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Truncations.Add(float64(n))
}
