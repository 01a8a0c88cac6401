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

// Factor is a nonlinear constraint over an ordered tuple of variables.
// Vars order defines the order of the Jacobian blocks.
type Factor interface {
	Kind() string
	Vars() []int
	Dim() int                                   // Residual dimension
	Chi2(g *Graph) float64                      // Weighted squared error at the current state
	Linearize(g *Graph) (*Linearization, error) // Residual, weight and Jacobians at the current state
}

// Model is the measurement function h(x) of a factor.
type Model interface {
	Kind() string
	Arity() int                      // Number of connected variables
	Dim() int                        // Residual dimension
	DOF(i int) int                   // Expected dof of the i-th variable
	Predict(x [][]float64) []float64 // h(x), x[i] is the state of the i-th variable
}

// JacobianModel is a Model with analytic Jacobians dh/dx_i.
type JacobianModel interface {
	Model
	Jacobians(x [][]float64) []*mat.Dense
}

// AngularModel marks residual components that are angles and must be wrapped.
type AngularModel interface {
	Angles() []bool
}

// MeasFactor is a measurement z of h(x) with Gaussian noise cov.
// Measurement and covariance are read-only after construction.
type MeasFactor struct {
	model  Model
	vars   []int
	z      []float64
	cov    *mat.SymDense
	info   *mat.SymDense // cov^-1
	angles []bool
}

// NewMeasFactor validates and creates a measurement factor.
func NewMeasFactor(model Model, vars []int, z []float64, cov mat.Symmetric) (*MeasFactor, error) {
	if len(vars) != model.Arity() {
		return nil, &FactorError{Index: -1, Var: -1, Err: fmt.Errorf("%w: %s needs %d, got %d", ErrArity, model.Kind(), model.Arity(), len(vars))}
	}
	k := model.Dim()
	if len(z) != k {
		return nil, &FactorError{Index: -1, Var: -1, Err: fmt.Errorf("%w: %s measurement has %d values, want %d", ErrDimension, model.Kind(), len(z), k)}
	}
	if cov == nil || cov.SymmetricDim() != k {
		n := 0
		if cov != nil {
			n = cov.SymmetricDim()
		}
		return nil, &FactorError{Index: -1, Var: -1, Err: fmt.Errorf("%w: %s covariance is %dx%d, want %dx%d", ErrDimension, model.Kind(), n, n, k, k)}
	}

	// Weight = inverse covariance
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, &FactorError{Index: -1, Var: -1, Err: fmt.Errorf("%w: %s", ErrCovariance, model.Kind())}
	}
	info := mat.NewSymDense(k, nil)
	if err := chol.InverseTo(info); err != nil {
		return nil, &FactorError{Index: -1, Var: -1, Err: fmt.Errorf("%w: %s: %v", ErrCovariance, model.Kind(), err)}
	}

	f := &MeasFactor{
		model: model,
		vars:  slices.Clone(vars),
		z:     slices.Clone(z),
		cov:   mat.NewSymDense(k, nil),
		info:  info,
	}
	f.cov.CopySym(cov)
	if am, ok := model.(AngularModel); ok {
		f.angles = am.Angles()
	}
	return f, nil
}

func (f *MeasFactor) Kind() string           { return f.model.Kind() }
func (f *MeasFactor) Vars() []int            { return f.vars }
func (f *MeasFactor) Dim() int               { return f.model.Dim() }
func (f *MeasFactor) Model() Model           { return f.model }
func (f *MeasFactor) Measurement() []float64 { return f.z }

// Covariance of the measurement
func (f *MeasFactor) Covariance() *mat.SymDense { return f.cov }

// Information (weight) matrix
func (f *MeasFactor) Information() *mat.SymDense { return f.info }

// States of the connected variables
func (f *MeasFactor) states(g *Graph) [][]float64 {
	x := make([][]float64, len(f.vars))
	for i, id := range f.vars {
		x[i] = g.Vars[id].State
	}
	return x
}

// r = z - h(x)
func (f *MeasFactor) residual(x [][]float64) (*mat.VecDense, error) {
	h := f.model.Predict(x)
	if len(h) != len(f.z) {
		return nil, fmt.Errorf("%w: %s predicted %d values, want %d", ErrDimension, f.Kind(), len(h), len(f.z))
	}
	r := mat.NewVecDense(len(h), nil)
	for i := range h {
		d := f.z[i] - h[i]
		if f.angles != nil && f.angles[i] {
			d = WrapAngle(d)
		}
		r.SetVec(i, d)
	}
	return r, nil
}

// Chi2 is NaN if the model predicts the wrong number of values.
func (f *MeasFactor) Chi2(g *Graph) float64 {
	r, err := f.residual(f.states(g))
	if err != nil {
		return math.NaN()
	}
	return mat.Inner(r, f.info, r)
}

func (f *MeasFactor) Linearize(g *Graph) (*Linearization, error) {
	x := f.states(g)
	r, err := f.residual(x)
	if err != nil {
		return nil, &FactorError{Index: -1, Var: -1, Err: err}
	}
	var J []*mat.Dense
	if jm, ok := f.model.(JacobianModel); ok {
		J = jm.Jacobians(x)
	} else if J, err = NumericJacobians(f.model, x, f.angles); err != nil {
		return nil, &FactorError{Index: -1, Var: -1, Err: err}
	}
	if len(J) != len(f.vars) {
		return nil, fmt.Errorf("%w: %s returned %d jacobians for %d variables", ErrDimension, f.Kind(), len(J), len(f.vars))
	}
	return &Linearization{
		Residual: r,
		W:        f.info,
		J:        J,
	}, nil
}

// checkPredict evaluates h at the current states once and checks its size.
// Skipped while any connected state has the wrong length.
func (f *MeasFactor) checkPredict(g *Graph) error {
	x := f.states(g)
	for i, id := range f.vars {
		if len(x[i]) != g.Vars[id].DOF() {
			return nil
		}
	}
	_, err := f.residual(x)
	return err
}

//-------------------------------------------------------------------
// FuncModel
//-------------------------------------------------------------------

// FuncModel wraps a user supplied measurement function, e.g. a reprojection
// model from a calibration front-end. Jacobians are numeric.
// It has no registered type name, so graphs containing it can't be written.
type FuncModel struct {
	Name      string
	DOFs      []int                         // dof of each connected variable
	K         int                           // residual dimension
	F         func(x [][]float64) []float64 // h(x)
	AngleMask []bool                        // optional
}

func (m *FuncModel) Kind() string                    { return m.Name }
func (m *FuncModel) Arity() int                      { return len(m.DOFs) }
func (m *FuncModel) Dim() int                        { return m.K }
func (m *FuncModel) DOF(i int) int                   { return m.DOFs[i] }
func (m *FuncModel) Predict(x [][]float64) []float64 { return m.F(x) }
func (m *FuncModel) Angles() []bool                  { return m.AngleMask }

// Diagonal covariance helper
func Diag(v ...float64) *mat.SymDense {
	s := mat.NewSymDense(len(v), nil)
	for i, x := range v {
		s.SetSym(i, i, x)
	}
	return s
}
