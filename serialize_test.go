// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Graph using every variable kind and every registered model
func mixedGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	p0 := g.AddVariable(NewPose2(Pose2{X: 0.1, Y: -0.2, Theta: 0.3}))
	p1 := g.AddVariable(NewPose2(Pose2{X: 1.1, Y: 0.2, Theta: -0.1}))
	q0 := g.AddVariable(NewPose3(Pose3{X: 1, Y: 2, Z: 3, Roll: 0.1, Pitch: 0.2, Yaw: 0.3}))
	q1 := g.AddVariable(NewPose3(Pose3{X: 2, Y: 2, Z: 3}))
	vec, err := NewVector([]float64{1, 2})
	require.NoError(t, err)
	v0 := g.AddVariable(vec)
	vec, err = NewVector([]float64{1.5, 2.5})
	require.NoError(t, err)
	v1 := g.AddVariable(vec)
	in, err := NewIntrinsics([]float64{500, 500, 320, 240, 0.01})
	require.NoError(t, err)
	g.AddVariable(in)
	g.AddVariable(NewExtrinsics(Pose3{Z: 0.5}))

	require.NoError(t, g.Vars[p1].SetTruth([]float64{1, 0, 0}))
	g.Vars[p1].State[0] = 1.0 / 3.0

	mustAdd(t, g)(NewPose2Prior(p0, Pose2{}, Diag(0.01, 0.01, 0.001)))
	mustAdd(t, g)(NewPose2Relative(p0, p1, Pose2{X: 1}, Diag(0.1, 0.1, 0.01)))
	mustAdd(t, g)(NewXYPrior(p1, 1, 0, Diag(0.5, 0.5)))
	mustAdd(t, g)(NewPose3Prior(q0, Pose3{X: 1, Y: 2, Z: 3}, Diag(1, 1, 1, 0.1, 0.1, 0.1)))
	mustAdd(t, g)(NewPose3Relative(q0, q1, Pose3{X: 1}, Diag(1, 1, 1, 0.1, 0.1, 0.1)))
	mustAdd(t, g)(NewVectorPrior(v0, []float64{1, 2}, Diag(1, 2)))
	mustAdd(t, g)(NewVectorRelative(v0, v1, []float64{0.5, 0.5}, Diag(1, 1)))

	good, err := NewPose2Relative(p0, p1, Pose2{X: 1.05}, Diag(0.01, 0.01, 0.01))
	require.NoError(t, err)
	null, err := NewPose2Relative(p0, p1, Pose2{X: 1.05}, Diag(100, 100, 100))
	require.NoError(t, err)
	mustAdd(t, g)(NewMixtureFactor([]Factor{good, null}, []float64{0.75, 0.25}))
	return g
}

func TestGraphRoundTrip(t *testing.T) {
	g := mixedGraph(t)
	var buf bytes.Buffer
	require.NoError(t, WriteGraph(&buf, g))

	h, err := ReadGraph(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	require.Len(t, h.Vars, len(g.Vars))
	for i, v := range g.Vars {
		w := h.Vars[i]
		assert.Equal(t, v.Kind, w.Kind, "variable %d", i)
		assert.Equal(t, v.State, w.State, "variable %d", i)
		assert.Equal(t, v.Init, w.Init, "variable %d", i)
		assert.Equal(t, v.Truth, w.Truth, "variable %d", i)
	}
	require.Len(t, h.Factors, len(g.Factors))
	for i, f := range g.Factors {
		assert.Equal(t, f.Kind(), h.Factors[i].Kind(), "factor %d", i)
		assert.Equal(t, f.Vars(), h.Factors[i].Vars(), "factor %d", i)
		assert.Equal(t, f.Chi2(g), h.Factors[i].Chi2(h), "factor %d", i)
	}
	m := h.Factors[len(h.Factors)-1].(*MixtureFactor)
	assert.Equal(t, []float64{0.75, 0.25}, m.Weights())

	// Writing again gives the same text
	var again bytes.Buffer
	require.NoError(t, WriteGraph(&again, h))
	assert.Equal(t, buf.String(), again.String())
}

func TestGraphFileRoundTrip(t *testing.T) {
	g := chainGraph(t)
	fn := filepath.Join(t.TempDir(), "chain.graph")
	require.NoError(t, WriteGraphFile(fn, g))
	h, err := ReadGraphFile(fn)
	require.NoError(t, err)
	assert.Equal(t, g.Chi2(), h.Chi2())
	assert.Len(t, h.Factors, 3)
}

func TestWriteGraphRejectsFuncModel(t *testing.T) {
	g := atanGraph(t, 1)
	var buf bytes.Buffer
	err := WriteGraph(&buf, g)
	require.ErrorIs(t, err, ErrNotSerializable)
	var fe *FactorError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 0, fe.Index)
}

func TestReadGraphErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteGraph(&buf, chainGraph(t)))
	valid := buf.String()
	half := valid[:strings.LastIndex(valid[:len(valid)/2], "\n")+1]

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrTruncated},
		{"truncated", half, ErrTruncated},
		{"unknown variable kind", strings.Replace(valid, `"pose2"`, `"pose9"`, 1), ErrUnknownKind},
		{"unknown factor kind", strings.Replace(valid, `"pose2.relative"`, `"pose2.odometry"`, 1), ErrUnknownKind},
		{"wrong tag", strings.Replace(valid, "int 3", "double 3", 1), ErrSyntax},
		{"short list", strings.Replace(valid, "doubles 3 0 0 0", "doubles 3 0 0", 1), ErrTruncated},
		{"dangling variable id", strings.Replace(valid, "ints 2 1 2", "ints 2 1 9", 1), ErrUnknownVariable},
		{"asymmetric covariance", strings.Replace(valid, "doubles 9 0.01 0 0 0 0.01", "doubles 9 0.01 0.001 0 0 0.01", 1), ErrCovariance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ReadGraph(strings.NewReader(tt.input))
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, g)
		})
	}
}

func TestReadGraphParseErrorLine(t *testing.T) {
	_, err := ReadGraph(strings.NewReader("# comment\n\nint x\n"))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.Line)
	assert.ErrorIs(t, err, ErrSyntax)
}
