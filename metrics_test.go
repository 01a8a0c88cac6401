// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Values of every gathered series keyed by "name{label=value,...}".
// Histograms report their sample count.
func gatherValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			v := m.GetCounter().GetValue() + m.GetGauge().GetValue() + float64(m.GetHistogram().GetSampleCount())
			out[mf.GetName()+"{"+strings.Join(labels, ",")+"}"] = v
		}
	}
	return out
}

func TestNewMetricsNil(t *testing.T) {
	var m *Metrics
	assert.Nil(t, NewMetrics(nil))
	assert.NotPanics(t, func() {
		m.observe(SOLVER_LM, RESULT_ACCEPTED, 1, time.Millisecond)
		m.setLambda(1)
	})
}

func TestMetricsRecordLMRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := chainGraph(t)
	opt := NewLMOpt()
	opt.Logger = quietLogger()
	opt.Metrics = NewMetrics(reg)
	s, err := NewLMSolver(g, opt)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Iterate(context.Background()))
	}

	v := gatherValues(t, reg)
	total := v["posegraph_iterations_total{result=accepted,solver=lm}"] + v["posegraph_iterations_total{result=rejected,solver=lm}"]
	assert.Equal(t, 3.0, total)
	assert.GreaterOrEqual(t, v["posegraph_iterations_total{result=accepted,solver=lm}"], 1.0)
	assert.Equal(t, 3.0, v["posegraph_iteration_duration_seconds{solver=lm}"])
	assert.Equal(t, s.Lambda(), v["posegraph_lm_lambda{}"])
	assert.InDelta(t, g.Chi2(), v["posegraph_chi2{solver=lm}"], 1e-12)
	assert.Equal(t, 0.0, v["posegraph_iteration_failures_total{}"])
}

func TestMetricsRecordFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewGraph()
	g.AddVariable(NewPose2(Pose2{}))
	g.AddVariable(NewPose2(Pose2{}))
	mustAdd(t, g)(NewPose2Relative(0, 1, Pose2{X: 1}, Diag(1, 1, 1)))
	opt := NewDirectOpt()
	opt.Logger = quietLogger()
	opt.Metrics = NewMetrics(reg)

	require.Error(t, NewDirectSolver(g, opt).Iterate(context.Background()))
	v := gatherValues(t, reg)
	assert.Equal(t, 1.0, v["posegraph_iteration_failures_total{}"])
	assert.Equal(t, 1.0, v["posegraph_iterations_total{result=error,solver=direct}"])
	_, ok := v["posegraph_chi2{solver=direct}"]
	assert.False(t, ok)
}

func TestMetricsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
