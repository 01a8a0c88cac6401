// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/mat"
)

// Graph file layout
//
//	int <number of variables>
//	  string <variable kind>
//	  { int dof, doubles state, doubles init, int hasTruth, [doubles truth] }
//	int <number of factors>
//	  string <factor kind>
//	  { ints vars, doubles z, doubles cov }                 measurement factor
//	  { ints vars, int n, n x (double w, string kind, {...}) } mixture
//
// Variable attributes are not written.

const graphHeader = "posegraph graph v1"

// WriteGraph writes g to w in the text format
func WriteGraph(w io.Writer, g *Graph) error {
	sw := NewTextWriter(w)
	if err := writeGraph(sw, g); err != nil {
		return err
	}
	return sw.Flush()
}

func writeGraph(sw StructureWriter, g *Graph) error {
	sw.WriteComment(graphHeader)

	sw.WriteInt(len(g.Vars))
	for _, v := range g.Vars {
		sw.WriteString(string(v.Kind))
		sw.BlockBegin()
		sw.WriteInt(v.DOF())
		sw.WriteDoubles(v.State)
		sw.WriteDoubles(v.Init)
		if v.Truth != nil {
			sw.WriteInt(1)
			sw.WriteDoubles(v.Truth)
		} else {
			sw.WriteInt(0)
		}
		sw.BlockEnd()
	}

	sw.WriteInt(len(g.Factors))
	for i, f := range g.Factors {
		sw.WriteString(f.Kind())
		sw.BlockBegin()
		if err := writeFactor(sw, f); err != nil {
			return &FactorError{Index: i, Var: -1, Err: err}
		}
		sw.BlockEnd()
	}
	return nil
}

// Fields of one factor (without kind and block delimiters)
func writeFactor(sw StructureWriter, f Factor) error {
	switch f := f.(type) {
	case *MeasFactor:
		if _, ok := modelRegistry[f.Kind()]; !ok {
			return fmt.Errorf("%w: %s", ErrNotSerializable, f.Kind())
		}
		sw.WriteInts(f.vars)
		sw.WriteDoubles(f.z)
		k := len(f.z)
		cov := make([]float64, 0, k*k)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				cov = append(cov, f.cov.At(i, j))
			}
		}
		sw.WriteDoubles(cov)
	case *MixtureFactor:
		sw.WriteInts(f.Vars())
		sw.WriteInt(len(f.comps))
		for i, c := range f.comps {
			sw.WriteDouble(f.weights[i])
			sw.WriteString(c.Kind())
			sw.BlockBegin()
			if err := writeFactor(sw, c); err != nil {
				return err
			}
			sw.BlockEnd()
		}
	default:
		return fmt.Errorf("%w: %T", ErrNotSerializable, f)
	}
	return nil
}

// WriteGraphFile writes g to the named file
func WriteGraphFile(fn string, g *Graph) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	if err := WriteGraph(f, g); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadGraph reads a graph written by WriteGraph. Any error aborts reading;
// no partial graph is returned.
func ReadGraph(r io.Reader) (*Graph, error) {
	sr := NewTextReader(r)
	g := NewGraph()

	nv, err := sr.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("read variable count: %w", err)
	}
	for i := 0; i < nv; i++ {
		v, err := readVariable(sr)
		if err != nil {
			return nil, fmt.Errorf("read variable %d: %w", i, err)
		}
		g.AddVariable(v)
	}

	nf, err := sr.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("read factor count: %w", err)
	}
	for i := 0; i < nf; i++ {
		kind, err := sr.ReadString()
		if err != nil {
			return nil, fmt.Errorf("read factor %d: %w", i, err)
		}
		f, err := readFactorBlock(sr, kind)
		if err != nil {
			return nil, fmt.Errorf("read factor %d: %w", i, err)
		}
		if err := g.AddFactor(f); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func readVariable(sr StructureReader) (*Variable, error) {
	kind, err := sr.ReadString()
	if err != nil {
		return nil, err
	}
	if err := sr.BlockBegin(); err != nil {
		return nil, err
	}
	dof, err := sr.ReadInt()
	if err != nil {
		return nil, err
	}
	state, err := sr.ReadDoubles()
	if err != nil {
		return nil, err
	}
	init, err := sr.ReadDoubles()
	if err != nil {
		return nil, err
	}
	if len(state) != dof || len(init) != dof {
		return nil, fmt.Errorf("%w: dof %d, state %d, init %d", ErrDimension, dof, len(state), len(init))
	}
	v, err := NewVariable(VarKind(kind), init)
	if err != nil {
		return nil, err
	}
	copy(v.State, state)

	hasTruth, err := sr.ReadInt()
	if err != nil {
		return nil, err
	}
	if hasTruth != 0 {
		truth, err := sr.ReadDoubles()
		if err != nil {
			return nil, err
		}
		if err := v.SetTruth(truth); err != nil {
			return nil, err
		}
	}
	return v, sr.BlockEnd()
}

// Block of a factor of the given kind, including its delimiters
func readFactorBlock(sr StructureReader, kind string) (Factor, error) {
	if err := sr.BlockBegin(); err != nil {
		return nil, err
	}
	var f Factor
	var err error
	if kind == KindMixture {
		f, err = readMixture(sr)
	} else {
		f, err = readMeasFactor(sr, kind)
	}
	if err != nil {
		return nil, err
	}
	return f, sr.BlockEnd()
}

func readMeasFactor(sr StructureReader, kind string) (*MeasFactor, error) {
	vars, err := sr.ReadInts()
	if err != nil {
		return nil, err
	}
	z, err := sr.ReadDoubles()
	if err != nil {
		return nil, err
	}
	cov, err := sr.ReadDoubles()
	if err != nil {
		return nil, err
	}
	model, err := LookupModel(kind, len(z))
	if err != nil {
		return nil, err
	}
	k := len(z)
	if len(cov) != k*k {
		return nil, fmt.Errorf("%w: %s covariance has %d values, want %d", ErrDimension, kind, len(cov), k*k)
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if cov[i*k+j] != cov[j*k+i] {
				return nil, fmt.Errorf("%w: %s covariance (%d,%d)=%g, (%d,%d)=%g", ErrCovariance, kind, i, j, cov[i*k+j], j, i, cov[j*k+i])
			}
		}
	}
	return NewMeasFactor(model, vars, z, mat.NewSymDense(k, cov))
}

func readMixture(sr StructureReader) (*MixtureFactor, error) {
	vars, err := sr.ReadInts()
	if err != nil {
		return nil, err
	}
	n, err := sr.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: %d components", ErrMixture, n)
	}
	comps := make([]Factor, n)
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		if weights[i], err = sr.ReadDouble(); err != nil {
			return nil, err
		}
		kind, err := sr.ReadString()
		if err != nil {
			return nil, err
		}
		if kind == KindMixture {
			return nil, fmt.Errorf("%w: nested mixture", ErrMixture)
		}
		if comps[i], err = readFactorBlock(sr, kind); err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
	}
	m, err := NewMixtureFactor(comps, weights)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(m.Vars(), vars) {
		return nil, fmt.Errorf("%w: mixture variables %v, components use %v", ErrMixture, vars, m.Vars())
	}
	return m, nil
}

// ReadGraphFile reads a graph from the named file
func ReadGraphFile(fn string) (*Graph, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadGraph(f)
}
