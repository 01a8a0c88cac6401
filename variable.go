// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Type name of a variable. The set of kinds is closed: see varKinds.
type VarKind string

const (
	KindPose2      VarKind = "pose2"      // x, y, theta
	KindPose3      VarKind = "pose3"      // x, y, z, roll, pitch, yaw
	KindVector     VarKind = "vector"     // generic parameter vector
	KindIntrinsics VarKind = "intrinsics" // fx, fy, cx, cy, distortion...
	KindExtrinsics VarKind = "extrinsics" // camera pose, pose3 layout
)

// Per-kind properties
type varKindInfo struct {
	minDOF  int                         // minimum dof
	fixDOF  int                         // exact dof (0: any >= minDOF)
	spatial func([]float64) [6]float64 // projection to x,y,z,roll,pitch,yaw (diagnostics only)
}

var varKinds = map[VarKind]varKindInfo{
	KindPose2: {minDOF: 3, fixDOF: 3, spatial: func(v []float64) [6]float64 {
		return [6]float64{v[0], v[1], 0, 0, 0, v[2]}
	}},
	KindPose3: {minDOF: 6, fixDOF: 6, spatial: func(v []float64) [6]float64 {
		return [6]float64{v[0], v[1], v[2], v[3], v[4], v[5]}
	}},
	KindExtrinsics: {minDOF: 6, fixDOF: 6, spatial: func(v []float64) [6]float64 {
		return [6]float64{v[0], v[1], v[2], v[3], v[4], v[5]}
	}},
	KindVector: {minDOF: 1, spatial: func(v []float64) [6]float64 {
		var p [6]float64
		copy(p[:3], v)
		return p
	}},
	KindIntrinsics: {minDOF: 4, spatial: func([]float64) [6]float64 {
		return [6]float64{}
	}},
}

// Variable is one optimization unknown. Its id is its index in the graph.
type Variable struct {
	ID    int            // Index in Graph.Vars (set by Graph.AddVariable)
	Kind  VarKind        // Type name
	State []float64      // Current estimate. Mutated by solvers
	Init  []float64      // Initial guess. Never mutated by solvers
	Truth []float64      // Ground truth (optional, diagnostics only)
	Attrs map[string]any // Free-form payload for external consumers, no solver semantics
}

// NewVariable creates a variable of the given kind. State starts at init.
func NewVariable(kind VarKind, init []float64) (*Variable, error) {
	info, ok := varKinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: variable kind %q", ErrUnknownKind, kind)
	}
	if len(init) < info.minDOF || (info.fixDOF > 0 && len(init) != info.fixDOF) {
		return nil, fmt.Errorf("%w: %s variable with %d values", ErrDimension, kind, len(init))
	}
	return &Variable{
		ID:    -1,
		Kind:  kind,
		State: slices.Clone(init),
		Init:  slices.Clone(init),
		Truth: nil,
		Attrs: map[string]any{},
	}, nil
}

func mustVariable(kind VarKind, init []float64) *Variable {
	v, err := NewVariable(kind, init)
	if err != nil {
		panic(err)
	}
	return v
}

// Planar pose variable
func NewPose2(init Pose2) *Variable {
	return mustVariable(KindPose2, init.Slice())
}

// Spatial pose variable
func NewPose3(init Pose3) *Variable {
	return mustVariable(KindPose3, init.Slice())
}

// Camera extrinsics variable
func NewExtrinsics(init Pose3) *Variable {
	return mustVariable(KindExtrinsics, init.Slice())
}

// Generic parameter vector variable
func NewVector(init []float64) (*Variable, error) {
	return NewVariable(KindVector, init)
}

// Camera intrinsics variable (fx, fy, cx, cy and any distortion terms)
func NewIntrinsics(init []float64) (*Variable, error) {
	return NewVariable(KindIntrinsics, init)
}

// Local degrees of freedom
func (v *Variable) DOF() int {
	return len(v.Init)
}

// Set the ground truth. Returns an error if the size doesn't match.
func (v *Variable) SetTruth(truth []float64) error {
	if len(truth) != v.DOF() {
		return fmt.Errorf("%w: truth has %d values, variable %d has dof %d", ErrDimension, len(truth), v.ID, v.DOF())
	}
	v.Truth = slices.Clone(truth)
	return nil
}

// Restore the state from the initial guess
func (v *Variable) Reset() {
	copy(v.State, v.Init)
}

// Projection of the current state to x,y,z,roll,pitch,yaw
func (v *Variable) SpatialPose() [6]float64 {
	return varKinds[v.Kind].spatial(v.State)
}

// Projection of the ground truth. ok is false if no truth is set.
func (v *Variable) TruthSpatialPose() (p [6]float64, ok bool) {
	if v.Truth == nil {
		return p, false
	}
	return varKinds[v.Kind].spatial(v.Truth), true
}

// Whether the kind has angular components at the given index
func (v *Variable) isAngle(i int) bool {
	switch v.Kind {
	case KindPose2:
		return i == 2
	case KindPose3, KindExtrinsics:
		return i >= 3
	}
	return false
}
