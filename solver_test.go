// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

func newTestLM(t *testing.T, g *Graph) *LMSolver {
	t.Helper()
	opt := NewLMOpt()
	opt.Logger = quietLogger()
	s, err := NewLMSolver(g, opt)
	require.NoError(t, err)
	return s
}

func TestLMChain(t *testing.T) {
	g := chainGraph(t)
	s := newTestLM(t, g)
	for i := 0; i < 20 && s.CanIterate(); i++ {
		require.NoError(t, s.Iterate(context.Background()))
	}
	requirePose2(t, Pose2{}, g.Vars[0], 1e-6)
	requirePose2(t, Pose2{X: 1}, g.Vars[1], 1e-6)
	requirePose2(t, Pose2{X: 2}, g.Vars[2], 1e-6)
	assert.InDelta(t, 0.0, g.Chi2(), 1e-9)
}

func TestDirectChain(t *testing.T) {
	g := chainGraph(t)
	opt := NewDirectOpt()
	opt.Logger = quietLogger()
	s := NewDirectSolver(g, opt)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Iterate(context.Background()))
	}
	requirePose2(t, Pose2{X: 2}, g.Vars[2], 1e-6)
	assert.InDelta(t, 0.0, g.Chi2(), 1e-9)
}

func TestLoopClosureTradeOff(t *testing.T) {
	g := loopGraph(t)
	s := newTestLM(t, g)

	prev := g.Chi2()
	for i := 0; i < 30 && s.CanIterate(); i++ {
		require.NoError(t, s.Iterate(context.Background()))
		chi2 := g.Chi2()
		require.LessOrEqual(t, chi2, prev, "iteration %d", i)
		prev = chi2
	}

	// Residual is shared by the three constraints on the x axis
	assert.Greater(t, prev, 1.0)
	for i, f := range g.Factors[1:] {
		assert.Greater(t, f.Chi2(g), 1e-3, "factor %d", i+1)
	}
	x2 := g.Vars[2].State[0]
	assert.Greater(t, x2, 2.0)
	assert.Less(t, x2, 2.2)
	// Symmetric trade-off: each edge stretches by the same amount
	assert.InDelta(t, x2/2, g.Vars[1].State[0], 1e-6)
	assert.InDelta(t, 2+0.2*2/3, x2, 1e-3)
}

func TestLMRejectionRestoresState(t *testing.T) {
	g := atanGraph(t, 2)
	opt := NewLMOpt()
	opt.Logger = quietLogger()
	opt.Lambda = 1e-9
	s, err := NewLMSolver(g, opt)
	require.NoError(t, err)

	before := slices.Clone(g.Vars[0].State)
	chi2 := g.Chi2()
	require.NoError(t, s.Iterate(context.Background()))

	step := s.LastStep()
	require.False(t, step.Accepted)
	assert.Greater(t, step.Chi2After, step.Chi2Before)
	assert.Equal(t, before, g.Vars[0].State)
	assert.Equal(t, chi2, g.Chi2())
	assert.InDelta(t, 1e-8, s.Lambda(), 1e-20)
	assert.True(t, s.CanIterate())
}

func TestLMConvergesWithDamping(t *testing.T) {
	g := atanGraph(t, 2)
	opt := NewLMOpt()
	opt.Logger = quietLogger()
	opt.Lambda = 1e-9
	s, err := NewLMSolver(g, opt)
	require.NoError(t, err)

	prev := g.Chi2()
	for i := 0; i < 100 && s.CanIterate(); i++ {
		require.NoError(t, s.Iterate(context.Background()))
		require.LessOrEqual(t, g.Chi2(), prev)
		prev = g.Chi2()
	}
	assert.InDelta(t, 0.0, g.Vars[0].State[0], 1e-4)
}

func TestLMStuckAtMaxDamping(t *testing.T) {
	g := atanGraph(t, 2)
	opt := NewLMOpt()
	opt.Logger = quietLogger()
	opt.Lambda = 1e-9
	opt.LambdaMax = 1e-9
	s, err := NewLMSolver(g, opt)
	require.NoError(t, err)

	require.NoError(t, s.Iterate(context.Background()))
	assert.False(t, s.LastStep().Accepted)
	assert.False(t, s.CanIterate())
	assert.Equal(t, 2.0, g.Vars[0].State[0])
}

func TestLMOptValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*LMOpt)
	}{
		{"negative min", func(o *LMOpt) { o.LambdaMin = -1 }},
		{"max below min", func(o *LMOpt) { o.LambdaMax = o.LambdaMin / 2 }},
		{"initial above max", func(o *LMOpt) { o.Lambda = o.LambdaMax * 2 }},
		{"scale not growing", func(o *LMOpt) { o.Scale = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := NewLMOpt()
			tt.mod(opt)
			_, err := NewLMSolver(NewGraph(), opt)
			require.Error(t, err)
		})
	}
}

func TestUnanchoredGraphFails(t *testing.T) {
	g := NewGraph()
	g.AddVariable(NewPose2(Pose2{}))
	g.AddVariable(NewPose2(Pose2{}))
	mustAdd(t, g)(NewPose2Relative(0, 1, Pose2{X: 1}, Diag(0.01, 0.01, 0.01)))
	require.Len(t, g.Unanchored(), 1)

	opt := NewDirectOpt()
	opt.Logger = quietLogger()
	err := NewDirectSolver(g, opt).Iterate(context.Background())
	require.Error(t, err)
	var fe *FactorizationError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
	assert.Equal(t, []float64{0, 0, 0}, g.Vars[1].State)
}

func TestLMFactorizationErrorKeepsState(t *testing.T) {
	g := NewGraph()
	g.AddVariable(NewPose2(Pose2{X: 0.5}))
	g.AddVariable(NewPose2(Pose2{}))
	mustAdd(t, g)(NewPose2Prior(0, Pose2{}, Diag(1, 1, 1)))

	opt := NewLMOpt()
	opt.Logger = quietLogger()
	opt.Lambda, opt.LambdaMin = 0, 0
	s, err := NewLMSolver(g, opt)
	require.NoError(t, err)

	err = s.Iterate(context.Background())
	require.ErrorIs(t, err, ErrNotPositiveDefinite)
	assert.Equal(t, []float64{0.5, 0, 0}, g.Vars[0].State)
}

func TestGaussSeidelDescent(t *testing.T) {
	g := loopGraph(t)
	opt := NewGSOpt()
	opt.Logger = quietLogger()
	s := NewGSSolver(g, opt)

	prev := g.Chi2()
	for i := 0; i < 500 && s.CanIterate(); i++ {
		require.NoError(t, s.Iterate(context.Background()))
		require.LessOrEqual(t, g.Chi2(), prev+1e-12)
		prev = g.Chi2()
	}

	// Same minimum as the direct methods
	ref := loopGraph(t)
	lm := newTestLM(t, ref)
	for i := 0; i < 30 && lm.CanIterate(); i++ {
		require.NoError(t, lm.Iterate(context.Background()))
	}
	assert.InDelta(t, ref.Chi2(), g.Chi2(), 1e-3*ref.Chi2())
	assert.InDelta(t, ref.Vars[2].State[0], g.Vars[2].State[0], 1e-3)
}

func TestSolversAreInterchangeable(t *testing.T) {
	build := map[string]func(g *Graph) Solver{
		SOLVER_DIRECT: func(g *Graph) Solver {
			o := NewDirectOpt()
			o.Logger = quietLogger()
			return NewDirectSolver(g, o)
		},
		SOLVER_LM: func(g *Graph) Solver { return newTestLM(t, g) },
		SOLVER_GS: func(g *Graph) Solver {
			o := NewGSOpt()
			o.Logger = quietLogger()
			return NewGSSolver(g, o)
		},
	}
	for name, mk := range build {
		t.Run(name, func(t *testing.T) {
			g := chainGraph(t)
			opt := NewOptimizeOpt()
			opt.Logger = quietLogger()
			opt.MaxIterations = 500
			_, err := Optimize(context.Background(), g, mk(g), opt)
			require.NoError(t, err)
			requirePose2(t, Pose2{X: 2}, g.Vars[2], 1e-4)
		})
	}
}

func TestParallelLinearizationMatchesSerial(t *testing.T) {
	g := loopGraph(t)
	g.Vars[1].State[0], g.Vars[2].State[2] = 0.7, 0.3

	serial, err := BuildSystem(context.Background(), g, NewLinOpt())
	require.NoError(t, err)
	par, err := BuildSystem(context.Background(), g, &LinOpt{Workers: 4})
	require.NoError(t, err)

	assert.Equal(t, serial.B, par.B)
	assert.Equal(t, serial.Chi2, par.Chi2)
	assert.Equal(t, serial.Dense().RawSymmetric().Data, par.Dense().RawSymmetric().Data)
}

func TestBuildSystemCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildSystem(ctx, loopGraph(t), nil)
	require.ErrorIs(t, err, context.Canceled)
}
