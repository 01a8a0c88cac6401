// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
)

// Linearization of one factor at the current state.
//   - Residual: r = z - h(x)
//   - W: weight (inverse covariance)
//   - J[i]: dh/dx_i, k x dof_i
type Linearization struct {
	Residual *mat.VecDense
	W        *mat.SymDense
	J        []*mat.Dense
}

// r^T W r
func (l *Linearization) Chi2() float64 {
	return mat.Inner(l.Residual, l.W, l.Residual)
}

// Minimum step for numeric differentiation
const (
	NUMERIC_MIN_STEP   = 0.001  // Lower bound of the step [state unit]
	NUMERIC_STEP_RATIO = 1000.0 // Step is |x| / NUMERIC_STEP_RATIO when that is larger
)

// Step size for central differences on one scalar of the state
func numericStep(x float64) float64 {
	return math.Max(NUMERIC_MIN_STEP, math.Abs(x)/NUMERIC_STEP_RATIO)
}

// NumericJacobians computes dh/dx_i by central differences.
// The step for scalar s is max(0.001, |x_s|/1000).
// Components flagged in angles are wrapped after differencing.
// A Predict result whose length differs from Dim is an ErrDimension.
func NumericJacobians(m Model, x [][]float64, angles []bool) ([]*mat.Dense, error) {
	k := m.Dim()

	// Work on a copy so the caller's states are untouched
	xw := make([][]float64, len(x))
	for i := range x {
		xw[i] = slices.Clone(x[i])
	}

	J := make([]*mat.Dense, len(x))
	for i := range xw {
		J[i] = mat.NewDense(k, len(xw[i]), nil)
		for s := range xw[i] {
			x0 := xw[i][s]
			eps := numericStep(x0)

			xw[i][s] = x0 + eps
			hp := m.Predict(xw)
			xw[i][s] = x0 - eps
			hm := m.Predict(xw)
			xw[i][s] = x0
			if n := len(hp); n != k || len(hm) != k {
				if n == k {
					n = len(hm)
				}
				return nil, fmt.Errorf("%w: %s predicted %d values, want %d", ErrDimension, m.Kind(), n, k)
			}

			for r := 0; r < k; r++ {
				d := hp[r] - hm[r]
				if angles != nil && angles[r] {
					d = WrapAngle(d)
				}
				J[i].Set(r, s, d/(2*eps))
			}
		}
	}
	return J, nil
}
