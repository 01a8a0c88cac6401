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

	"gonum.org/v1/gonum/mat"
)

// Registered measurement model type names
const (
	ModelPose2Prior     = "pose2.prior"
	ModelPose2Relative  = "pose2.relative"
	ModelXYPrior        = "xy.prior"
	ModelPose3Prior     = "pose3.prior"
	ModelPose3Relative  = "pose3.relative"
	ModelVectorPrior    = "vector.prior"
	ModelVectorRelative = "vector.relative"
)

// Constructors by type name. dim is the measurement length, used by
// models with variable size.
var modelRegistry = map[string]func(dim int) (Model, error){
	ModelPose2Prior:     fixedModel(Pose2Prior{}),
	ModelPose2Relative:  fixedModel(Pose2Relative{}),
	ModelXYPrior:        fixedModel(XYPrior{}),
	ModelPose3Prior:     fixedModel(Pose3Prior{}),
	ModelPose3Relative:  fixedModel(Pose3Relative{}),
	ModelVectorPrior:    func(dim int) (Model, error) { return newVectorModel(VectorPrior{N: dim}, dim) },
	ModelVectorRelative: func(dim int) (Model, error) { return newVectorModel(VectorRelative{N: dim}, dim) },
}

func fixedModel(m Model) func(int) (Model, error) {
	return func(dim int) (Model, error) {
		if dim != m.Dim() {
			return nil, fmt.Errorf("%w: %s has dimension %d, got %d", ErrDimension, m.Kind(), m.Dim(), dim)
		}
		return m, nil
	}
}

func newVectorModel(m Model, dim int) (Model, error) {
	if dim < 1 {
		return nil, fmt.Errorf("%w: %s with dimension %d", ErrDimension, m.Kind(), dim)
	}
	return m, nil
}

// Look up a model constructor by type name
func LookupModel(kind string, dim int) (Model, error) {
	ctor, ok := modelRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: model %q", ErrUnknownKind, kind)
	}
	return ctor(dim)
}

func identity(n int) *mat.Dense {
	I := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		I.Set(i, i, 1)
	}
	return I
}

//-------------------------------------------------------------------
// Pose2
//-------------------------------------------------------------------

// Absolute pose2 measurement. Anchors a graph when given a tight covariance.
type Pose2Prior struct{}

func (Pose2Prior) Kind() string                    { return ModelPose2Prior }
func (Pose2Prior) Arity() int                      { return 1 }
func (Pose2Prior) Dim() int                        { return 3 }
func (Pose2Prior) DOF(int) int                     { return 3 }
func (Pose2Prior) Angles() []bool                  { return []bool{false, false, true} }
func (Pose2Prior) Predict(x [][]float64) []float64 { return []float64{x[0][0], x[0][1], x[0][2]} }

func (Pose2Prior) Jacobians([][]float64) []*mat.Dense {
	return []*mat.Dense{identity(3)}
}

// Absolute position-only measurement of a pose2 (e.g. a GPS fix)
type XYPrior struct{}

func (XYPrior) Kind() string                    { return ModelXYPrior }
func (XYPrior) Arity() int                      { return 1 }
func (XYPrior) Dim() int                        { return 2 }
func (XYPrior) DOF(int) int                     { return 3 }
func (XYPrior) Predict(x [][]float64) []float64 { return []float64{x[0][0], x[0][1]} }

func (XYPrior) Jacobians([][]float64) []*mat.Dense {
	return []*mat.Dense{mat.NewDense(2, 3, []float64{
		1, 0, 0,
		0, 1, 0,
	})}
}

// Relative pose2 measurement (odometry, loop closure): h = a^-1 * b
type Pose2Relative struct{}

func (Pose2Relative) Kind() string   { return ModelPose2Relative }
func (Pose2Relative) Arity() int     { return 2 }
func (Pose2Relative) Dim() int       { return 3 }
func (Pose2Relative) DOF(int) int    { return 3 }
func (Pose2Relative) Angles() []bool { return []bool{false, false, true} }

func (Pose2Relative) Predict(x [][]float64) []float64 {
	return NewPose2FromSlice(x[0]).Between(NewPose2FromSlice(x[1])).Slice()
}

func (Pose2Relative) Jacobians(x [][]float64) []*mat.Dense {
	a, b := x[0], x[1]
	c, s := math.Cos(a[2]), math.Sin(a[2])
	dx, dy := b[0]-a[0], b[1]-a[1]
	Ja := mat.NewDense(3, 3, []float64{
		-c, -s, -s*dx + c*dy,
		s, -c, -c*dx - s*dy,
		0, 0, -1,
	})
	Jb := mat.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
	return []*mat.Dense{Ja, Jb}
}

//-------------------------------------------------------------------
// Pose3
//-------------------------------------------------------------------

// Absolute pose3 measurement
type Pose3Prior struct{}

func (Pose3Prior) Kind() string   { return ModelPose3Prior }
func (Pose3Prior) Arity() int     { return 1 }
func (Pose3Prior) Dim() int       { return 6 }
func (Pose3Prior) DOF(int) int    { return 6 }
func (Pose3Prior) Angles() []bool { return []bool{false, false, false, true, true, true} }

func (Pose3Prior) Predict(x [][]float64) []float64 {
	h := make([]float64, 6)
	copy(h, x[0])
	return h
}

func (Pose3Prior) Jacobians([][]float64) []*mat.Dense {
	return []*mat.Dense{identity(6)}
}

// Relative pose3 measurement: h = a^-1 * b. Jacobians are numeric.
type Pose3Relative struct{}

func (Pose3Relative) Kind() string   { return ModelPose3Relative }
func (Pose3Relative) Arity() int     { return 2 }
func (Pose3Relative) Dim() int       { return 6 }
func (Pose3Relative) DOF(int) int    { return 6 }
func (Pose3Relative) Angles() []bool { return []bool{false, false, false, true, true, true} }

func (Pose3Relative) Predict(x [][]float64) []float64 {
	return NewPose3FromSlice(x[0]).Between(NewPose3FromSlice(x[1])).Slice()
}

//-------------------------------------------------------------------
// Vector
//-------------------------------------------------------------------

// Absolute measurement of a parameter vector
type VectorPrior struct {
	N int
}

func (m VectorPrior) Kind() string { return ModelVectorPrior }
func (m VectorPrior) Arity() int   { return 1 }
func (m VectorPrior) Dim() int     { return m.N }
func (m VectorPrior) DOF(int) int  { return m.N }

func (m VectorPrior) Predict(x [][]float64) []float64 {
	h := make([]float64, m.N)
	copy(h, x[0])
	return h
}

func (m VectorPrior) Jacobians([][]float64) []*mat.Dense {
	return []*mat.Dense{identity(m.N)}
}

// Difference of two parameter vectors: h = b - a
type VectorRelative struct {
	N int
}

func (m VectorRelative) Kind() string { return ModelVectorRelative }
func (m VectorRelative) Arity() int   { return 2 }
func (m VectorRelative) Dim() int     { return m.N }
func (m VectorRelative) DOF(int) int  { return m.N }

func (m VectorRelative) Predict(x [][]float64) []float64 {
	h := make([]float64, m.N)
	for i := range h {
		h[i] = x[1][i] - x[0][i]
	}
	return h
}

func (m VectorRelative) Jacobians([][]float64) []*mat.Dense {
	Ja := identity(m.N)
	Ja.Scale(-1, Ja)
	return []*mat.Dense{Ja, identity(m.N)}
}

//-------------------------------------------------------------------
// Convenience constructors
//-------------------------------------------------------------------

func NewPose2Prior(id int, z Pose2, cov mat.Symmetric) (*MeasFactor, error) {
	return NewMeasFactor(Pose2Prior{}, []int{id}, z.Slice(), cov)
}

func NewPose2Relative(a, b int, z Pose2, cov mat.Symmetric) (*MeasFactor, error) {
	return NewMeasFactor(Pose2Relative{}, []int{a, b}, z.Slice(), cov)
}

func NewXYPrior(id int, x, y float64, cov mat.Symmetric) (*MeasFactor, error) {
	return NewMeasFactor(XYPrior{}, []int{id}, []float64{x, y}, cov)
}

func NewPose3Prior(id int, z Pose3, cov mat.Symmetric) (*MeasFactor, error) {
	return NewMeasFactor(Pose3Prior{}, []int{id}, z.Slice(), cov)
}

func NewPose3Relative(a, b int, z Pose3, cov mat.Symmetric) (*MeasFactor, error) {
	return NewMeasFactor(Pose3Relative{}, []int{a, b}, z.Slice(), cov)
}

func NewVectorPrior(id int, z []float64, cov mat.Symmetric) (*MeasFactor, error) {
	return NewMeasFactor(VectorPrior{N: len(z)}, []int{id}, z, cov)
}

func NewVectorRelative(a, b int, z []float64, cov mat.Symmetric) (*MeasFactor, error) {
	return NewMeasFactor(VectorRelative{N: len(z)}, []int{a, b}, z, cov)
}
