// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNumericMatchesAnalyticJacobians(t *testing.T) {
	tests := []struct {
		name  string
		model JacobianModel
		x     [][]float64
	}{
		{"pose2 relative", Pose2Relative{}, [][]float64{{0.3, -1.2, 0.4}, {2.5, 0.7, -2.9}}},
		{"pose2 relative across pi", Pose2Relative{}, [][]float64{{0, 0, 3.1}, {1, 1, -3.1}}},
		{"pose2 prior", Pose2Prior{}, [][]float64{{5, -3, 1}}},
		{"xy prior", XYPrior{}, [][]float64{{5, -3, 1}}},
		{"vector relative", VectorRelative{N: 3}, [][]float64{{1, 2, 3}, {-4, 5, 600}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var angles []bool
			if am, ok := tt.model.(AngularModel); ok {
				angles = am.Angles()
			}
			want := tt.model.Jacobians(tt.x)
			got, err := NumericJacobians(tt.model, tt.x, angles)
			require.NoError(t, err)
			require.Len(t, got, len(want))
			for i := range want {
				assert.True(t, mat.EqualApprox(want[i], got[i], 1e-5), "block %d\nwant %v\ngot  %v",
					i, mat.Formatted(want[i]), mat.Formatted(got[i]))
			}
		})
	}
}

func TestNumericJacobianLeavesStateUntouched(t *testing.T) {
	x := [][]float64{{1, 2, 3}, {4, 5, 6}}
	_, err := NumericJacobians(Pose2Relative{}, x, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, x)
}

func TestNumericStep(t *testing.T) {
	assert.Equal(t, NUMERIC_MIN_STEP, numericStep(0))
	assert.Equal(t, NUMERIC_MIN_STEP, numericStep(-0.5))
	assert.InDelta(t, 2.0, numericStep(-2000), 1e-12)
}

func TestPose3RelativeConsistency(t *testing.T) {
	a := Pose3{X: 1, Y: -2, Z: 0.5, Roll: 0.1, Pitch: -0.2, Yaw: 0.3}
	b := Pose3{X: 3, Y: 1, Z: -1, Roll: -0.4, Pitch: 0.25, Yaw: 2.5}
	d := a.Between(b)
	c := a.Compose(d)
	for i, v := range b.Slice() {
		assert.InDelta(t, 0.0, WrapAngle(v-c.Slice()[i]), 1e-9, "component %d", i)
	}

	// Numeric Jacobian of the relative model vanishes nowhere on a generic state
	J, err := NumericJacobians(Pose3Relative{}, [][]float64{a.Slice(), b.Slice()}, Pose3Relative{}.Angles())
	require.NoError(t, err)
	require.Len(t, J, 2)
	for _, blk := range J {
		assert.Greater(t, mat.Norm(blk, 2), 0.5)
	}
}

func TestLinearizeResidualWrapsAngles(t *testing.T) {
	g := NewGraph()
	g.AddVariable(NewPose2(Pose2{Theta: math.Pi - 0.05}))
	f, err := NewPose2Prior(0, Pose2{Theta: -math.Pi + 0.05}, Diag(1, 1, 1))
	require.NoError(t, err)
	require.NoError(t, g.AddFactor(f))

	l, err := f.Linearize(g)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, l.Residual.AtVec(2), 1e-12)
	assert.InDelta(t, 0.01, l.Chi2(), 1e-12)
	assert.InDelta(t, 0.01, f.Chi2(g), 1e-12)
}

func TestFuncModelUsesNumericJacobian(t *testing.T) {
	g := NewGraph()
	v, err := NewVector([]float64{2, 3})
	require.NoError(t, err)
	g.AddVariable(v)
	model := &FuncModel{
		Name: "product",
		DOFs: []int{2},
		K:    1,
		F:    func(x [][]float64) []float64 { return []float64{x[0][0] * x[0][1]} },
	}
	f, err := NewMeasFactor(model, []int{0}, []float64{5}, Diag(1))
	require.NoError(t, err)
	require.NoError(t, g.AddFactor(f))

	l, err := f.Linearize(g)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, l.J[0].At(0, 0), 1e-9)
	assert.InDelta(t, 2.0, l.J[0].At(0, 1), 1e-9)
	assert.InDelta(t, -1.0, l.Residual.AtVec(0), 1e-12)
}
