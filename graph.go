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

	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/topo"
)

// Graph holds the variables and factors of one optimization problem.
// The order of Vars fixes the layout of the global state vector.
// A Graph is not safe for concurrent mutation while a solver iterates.
//
// Vars and Factors are exported for reading. Grow them only through
// AddVariable and AddFactor, which keep the state layout and the incidence
// lists in step; Validate reports entries appended any other way.
// Individual states may be edited in place.
type Graph struct {
	Vars    []*Variable
	Factors []Factor

	offsets  []int   // offsets[i] = sum of dof of Vars[:i], len(Vars)+1
	incident [][]int // factor indices touching each variable
}

func NewGraph() *Graph {
	return &Graph{
		Vars:     []*Variable{},
		Factors:  []Factor{},
		offsets:  []int{0},
		incident: [][]int{},
	}
}

// AddVariable appends v and returns its id
func (g *Graph) AddVariable(v *Variable) int {
	v.ID = len(g.Vars)
	g.Vars = append(g.Vars, v)
	g.offsets = append(g.offsets, g.offsets[len(g.offsets)-1]+v.DOF())
	g.incident = append(g.incident, nil)
	return v.ID
}

// Factors whose connected variables report an expected dof
type dofChecker interface {
	varDOF(i int) int
}

func (f *MeasFactor) varDOF(i int) int { return f.model.DOF(i) }

// Factors that can check the size of h(x) at the current states
type predictChecker interface {
	checkPredict(g *Graph) error
}

// AddFactor validates f against the graph and appends it
func (g *Graph) AddFactor(f Factor) error {
	idx := len(g.Factors)
	if err := g.checkFactor(idx, f); err != nil {
		return err
	}
	g.Factors = append(g.Factors, f)
	for _, id := range f.Vars() {
		if !slices.Contains(g.incident[id], idx) {
			g.incident[id] = append(g.incident[id], idx)
		}
	}
	return nil
}

func (g *Graph) checkFactor(idx int, f Factor) error {
	vars := f.Vars()
	if len(vars) == 0 {
		return &FactorError{Index: idx, Var: -1, Err: fmt.Errorf("%w: %s has no variables", ErrArity, f.Kind())}
	}
	dc, hasDOF := f.(dofChecker)
	for i, id := range vars {
		if id < 0 || id >= len(g.Vars) {
			return &FactorError{Index: idx, Var: id, Err: ErrUnknownVariable}
		}
		if !hasDOF {
			continue
		}
		if want := dc.varDOF(i); want >= 0 && want != g.Vars[id].DOF() {
			return &FactorError{Index: idx, Var: id, Err: fmt.Errorf("%w: %s expects dof %d, variable has %d",
				ErrDimension, f.Kind(), want, g.Vars[id].DOF())}
		}
	}
	if pc, ok := f.(predictChecker); ok {
		if err := pc.checkPredict(g); err != nil {
			return &FactorError{Index: idx, Var: -1, Err: err}
		}
	}
	return nil
}

// Validate re-checks every factor and returns all violations at once
func (g *Graph) Validate() error {
	var result *multierror.Error
	if len(g.Vars) == 0 {
		result = multierror.Append(result, ErrEmptyGraph)
	}
	for i, v := range g.Vars {
		if v.ID != i || len(g.offsets) <= i+1 || g.offsets[i+1]-g.offsets[i] != v.DOF() {
			result = multierror.Append(result, fmt.Errorf("%w: variable at index %d", ErrUnregistered, i))
		}
	}
	for i, f := range g.Factors {
		if err := g.checkFactor(i, f); err != nil {
			result = multierror.Append(result, err)
		} else if !g.registered(i, f) {
			result = multierror.Append(result, &FactorError{Index: i, Var: -1, Err: ErrUnregistered})
		}
		if m, ok := f.(*MixtureFactor); ok {
			if err := m.validate(); err != nil {
				result = multierror.Append(result, &FactorError{Index: i, Var: -1, Err: err})
			}
		}
	}
	for _, v := range g.Vars {
		if len(v.State) != v.DOF() {
			result = multierror.Append(result, fmt.Errorf("%w: variable %d state has %d values, dof %d", ErrDimension, v.ID, len(v.State), v.DOF()))
		}
	}
	return result.ErrorOrNil()
}

// Whether factor idx is in the incidence list of each of its variables
func (g *Graph) registered(idx int, f Factor) bool {
	for _, id := range f.Vars() {
		if id >= len(g.incident) || !slices.Contains(g.incident[id], idx) {
			return false
		}
	}
	return true
}

// Total length of the state vector
func (g *Graph) StateLen() int {
	return g.offsets[len(g.offsets)-1]
}

// Offset of variable id in the state vector
func (g *Graph) Offset(id int) int {
	return g.offsets[id]
}

// Indices of the factors connected to variable id
func (g *Graph) Incident(id int) []int {
	return g.incident[id]
}

// Total chi2 at the current state
func (g *Graph) Chi2() float64 {
	chi2 := 0.0
	for _, f := range g.Factors {
		chi2 += f.Chi2(g)
	}
	return chi2
}

// Restore every state from its initial guess
func (g *Graph) Reset() {
	for _, v := range g.Vars {
		v.Reset()
	}
}

// Copy of every state
func (g *Graph) snapshot() [][]float64 {
	s := make([][]float64, len(g.Vars))
	for i, v := range g.Vars {
		s[i] = slices.Clone(v.State)
	}
	return s
}

// Put back a snapshot taken by snapshot()
func (g *Graph) restore(s [][]float64) {
	for i, v := range g.Vars {
		copy(v.State, s[i])
	}
}

// state += dx (dx in graph layout). Angles are wrapped.
func (g *Graph) applyUpdate(dx []float64) {
	for _, v := range g.Vars {
		off := g.offsets[v.ID]
		g.applyVarUpdate(v, dx[off:off+v.DOF()])
	}
}

func (g *Graph) applyVarUpdate(v *Variable, dx []float64) {
	for i := range v.State {
		v.State[i] += dx[i]
		if v.isAngle(i) {
			v.State[i] = WrapAngle(v.State[i])
		}
	}
}

// Connected components of the variable graph (by variable id)
func (g *Graph) Components() [][]int {
	cc := topo.ConnectedComponents(variableGraph(g))
	comps := make([][]int, 0, len(cc))
	for _, c := range cc {
		ids := make([]int, len(c))
		for i, n := range c {
			ids[i] = int(n.ID())
		}
		slices.Sort(ids)
		comps = append(comps, ids)
	}
	slices.SortFunc(comps, func(a, b []int) int { return a[0] - b[0] })
	return comps
}

// Components with no unary factor. Without other anchoring they make the
// information matrix singular.
func (g *Graph) Unanchored() [][]int {
	anchored := make([]bool, len(g.Vars))
	for _, f := range g.Factors {
		if vars := f.Vars(); len(vars) == 1 {
			anchored[vars[0]] = true
		}
	}
	var out [][]int
	for _, c := range g.Components() {
		if !slices.ContainsFunc(c, func(id int) bool { return anchored[id] }) {
			out = append(out, c)
		}
	}
	return out
}

//-------------------------------------------------------------------
// Error statistics
//-------------------------------------------------------------------

// ErrorStats holds diagnostics of the current state. Only Chi2 relates to the
// objective; the truth based values are informative.
type ErrorStats struct {
	Chi2       float64 // Total chi2
	Chi2PerDOF float64 // Chi2 / state length
	MSE        float64 // Mean squared translation error vs truth (x,y,z)
	MSERot     float64 // Mean squared rotation error vs truth (roll,pitch,yaw, wrapped)
	NumTruth   int     // Number of variables with truth
}

func (g *Graph) ErrorStats() ErrorStats {
	st := ErrorStats{Chi2: g.Chi2()}
	if n := g.StateLen(); n > 0 {
		st.Chi2PerDOF = st.Chi2 / float64(n)
	}

	for _, v := range g.Vars {
		t, ok := v.TruthSpatialPose()
		if !ok {
			continue
		}
		p := v.SpatialPose()
		d := floats.Distance(p[:3], t[:3], 2)
		st.MSE += d * d
		for i := 3; i < 6; i++ {
			st.MSERot += math.Pow(WrapAngle(p[i]-t[i]), 2)
		}
		st.NumTruth++
	}
	if st.NumTruth > 0 {
		st.MSE /= float64(st.NumTruth)
		st.MSERot /= float64(st.NumTruth)
	}
	return st
}
