// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Iteration results (label values)
const (
	RESULT_ACCEPTED = "accepted"
	RESULT_REJECTED = "rejected"
	RESULT_ERROR    = "error"
)

const metricsNamespace = "posegraph"

// Metrics collects solver statistics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Iterations *prometheus.CounterVec   // by solver and result
	Chi2       *prometheus.GaugeVec     // chi2 after the last iteration, by solver
	Lambda     prometheus.Gauge         // current LM damping
	Duration   *prometheus.HistogramVec // seconds per iteration, by solver
	Failures   prometheus.Counter       // failed iterations (linearization or factorization)
}

// NewMetrics registers the solver metrics with reg. Returns nil for a nil
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &Metrics{
		Iterations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "iterations_total",
			Help:      "Solver iterations by solver and result",
		}, []string{"solver", "result"}),
		Chi2: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "chi2",
			Help:      "Total chi2 after the last iteration",
		}, []string{"solver"}),
		Lambda: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "lm_lambda",
			Help:      "Current Levenberg-Marquardt damping",
		}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "iteration_duration_seconds",
			Help:      "Wall time of one solver iteration",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 10),
		}, []string{"solver"}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "iteration_failures_total",
			Help:      "Iterations aborted by a linearization or factorization error",
		}),
	}
}

func (m *Metrics) observe(solver, result string, chi2 float64, d time.Duration) {
	if m == nil {
		return
	}
	m.Iterations.WithLabelValues(solver, result).Inc()
	m.Duration.WithLabelValues(solver).Observe(d.Seconds())
	if result == RESULT_ERROR {
		m.Failures.Inc()
		return
	}
	m.Chi2.WithLabelValues(solver).Set(chi2)
}

func (m *Metrics) setLambda(l float64) {
	if m == nil {
		return
	}
	m.Lambda.Set(l)
}
