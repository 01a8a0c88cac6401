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
	"gonum.org/v1/gonum/floats"
)

// Allowed deviation of the sum of mixture weights from 1
const MIXTURE_WEIGHT_TOL = 1e-6

// Type name of mixture factors in serialized graphs
const KindMixture = "mixture"

// MixtureFactor holds competing explanations of one measurement.
// Its cost is min_i(-2 ln w_i + chi2_i) and only the winning component is
// linearized, so the active hypothesis may switch between iterations and
// the objective is only piecewise smooth.
type MixtureFactor struct {
	comps   []Factor
	weights []float64
	penalty []float64 // -2 ln w_i
}

// NewMixtureFactor validates that all components have the same kind and
// the same variable tuple and that the weights are positive and sum to 1.
func NewMixtureFactor(comps []Factor, weights []float64) (*MixtureFactor, error) {
	m := &MixtureFactor{
		comps:   slices.Clone(comps),
		weights: slices.Clone(weights),
		penalty: make([]float64, len(weights)),
	}
	if err := m.validate(); err != nil {
		return nil, &FactorError{Index: -1, Var: -1, Err: err}
	}
	for i, w := range m.weights {
		m.penalty[i] = -2 * math.Log(w)
	}
	return m, nil
}

func (m *MixtureFactor) validate() error {
	if len(m.comps) == 0 {
		return fmt.Errorf("%w: no components", ErrMixture)
	}
	if len(m.comps) != len(m.weights) {
		return fmt.Errorf("%w: %d components, %d weights", ErrMixture, len(m.comps), len(m.weights))
	}
	first := m.comps[0]
	for i, c := range m.comps {
		if _, nested := c.(*MixtureFactor); nested {
			return fmt.Errorf("%w: component %d is a mixture", ErrMixture, i)
		}
		if c.Kind() != first.Kind() {
			return fmt.Errorf("%w: component %d is %s, component 0 is %s", ErrMixture, i, c.Kind(), first.Kind())
		}
		if !slices.Equal(c.Vars(), first.Vars()) {
			return fmt.Errorf("%w: component %d variables %v differ from %v", ErrMixture, i, c.Vars(), first.Vars())
		}
		if c.Dim() != first.Dim() {
			return fmt.Errorf("%w: component %d dimension %d, component 0 has %d", ErrMixture, i, c.Dim(), first.Dim())
		}
		if !(m.weights[i] > 0) {
			return fmt.Errorf("%w: weight %d is %g", ErrMixture, i, m.weights[i])
		}
	}
	if sum := floats.Sum(m.weights); math.Abs(sum-1) > MIXTURE_WEIGHT_TOL {
		return fmt.Errorf("%w: weights sum to %g", ErrMixture, sum)
	}
	return nil
}

func (m *MixtureFactor) Kind() string         { return KindMixture }
func (m *MixtureFactor) Vars() []int          { return m.comps[0].Vars() }
func (m *MixtureFactor) Dim() int             { return m.comps[0].Dim() }
func (m *MixtureFactor) Components() []Factor { return m.comps }
func (m *MixtureFactor) Weights() []float64   { return m.weights }

func (m *MixtureFactor) varDOF(i int) int {
	if dc, ok := m.comps[0].(dofChecker); ok {
		return dc.varDOF(i)
	}
	return -1
}

func (m *MixtureFactor) checkPredict(g *Graph) error {
	for i, c := range m.comps {
		if pc, ok := c.(predictChecker); ok {
			if err := pc.checkPredict(g); err != nil {
				return fmt.Errorf("component %d: %w", i, err)
			}
		}
	}
	return nil
}

// Selected returns the index of the winning component and its cost.
// Ties go to the lowest index. A NaN cost of component 0 is kept.
func (m *MixtureFactor) Selected(g *Graph) (int, float64) {
	best, bestCost := 0, m.penalty[0]+m.comps[0].Chi2(g)
	for i := 1; i < len(m.comps); i++ {
		if cost := m.penalty[i] + m.comps[i].Chi2(g); cost < bestCost {
			best, bestCost = i, cost
		}
	}
	return best, bestCost
}

func (m *MixtureFactor) Chi2(g *Graph) float64 {
	_, cost := m.Selected(g)
	return cost
}

// Linearize returns the winning component's linearization unchanged
func (m *MixtureFactor) Linearize(g *Graph) (*Linearization, error) {
	i, _ := m.Selected(g)
	return m.comps[i].Linearize(g)
}
