// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// mustAdd(t, g)(NewX(...)) adds the constructed factor or fails the test.
func mustAdd(t *testing.T, g *Graph) func(Factor, error) {
	t.Helper()
	return func(f Factor, err error) {
		t.Helper()
		require.NoError(t, err)
		require.NoError(t, g.AddFactor(f))
	}
}

// Three pose2 chain anchored at the origin, all states at zero
func chainGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	for i := 0; i < 3; i++ {
		g.AddVariable(NewPose2(Pose2{}))
	}
	mustAdd(t, g)(NewPose2Prior(0, Pose2{}, Diag(1e-6, 1e-6, 1e-6)))
	mustAdd(t, g)(NewPose2Relative(0, 1, Pose2{X: 1}, Diag(0.01, 0.01, 0.01)))
	mustAdd(t, g)(NewPose2Relative(1, 2, Pose2{X: 1}, Diag(0.01, 0.01, 0.01)))
	return g
}

// Chain plus an inconsistent loop closure 0 -> 2
func loopGraph(t *testing.T) *Graph {
	t.Helper()
	g := chainGraph(t)
	mustAdd(t, g)(NewPose2Relative(0, 2, Pose2{X: 2.2}, Diag(0.01, 0.01, 0.01)))
	return g
}

// One scalar variable at x0 with the measurement atan(x) = 0.
// A full Gauss-Newton step from |x0| > 1.4 overshoots.
func atanGraph(t *testing.T, x0 float64) *Graph {
	t.Helper()
	g := NewGraph()
	v, err := NewVector([]float64{x0})
	require.NoError(t, err)
	g.AddVariable(v)
	model := &FuncModel{
		Name: "atan",
		DOFs: []int{1},
		K:    1,
		F:    func(x [][]float64) []float64 { return []float64{math.Atan(x[0][0])} },
	}
	mustAdd(t, g)(NewMeasFactor(model, []int{0}, []float64{0}, Diag(1)))
	return g
}

func requirePose2(t *testing.T, want Pose2, v *Variable, delta float64) {
	t.Helper()
	require.InDelta(t, want.X, v.State[0], delta, "x of %d", v.ID)
	require.InDelta(t, want.Y, v.State[1], delta, "y of %d", v.ID)
	require.InDelta(t, 0.0, WrapAngle(want.Theta-v.State[2]), delta, "theta of %d", v.ID)
}
