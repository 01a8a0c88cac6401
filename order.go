// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// Ordering is a permutation of variables used for factorization.
type Ordering struct {
	Perm   []int // Perm[k]: variable eliminated at step k
	Inv    []int // Inv[id]: step at which variable id is eliminated
	Scalar []int // Scalar[k]: state index placed at permuted scalar position k
	Fill   int   // Number of nonzero blocks of L (lower triangle incl. diagonal)
}

// Variable level adjacency: an edge for every pair of variables sharing a factor
func variableGraph(g *Graph) *simple.UndirectedGraph {
	ug := simple.NewUndirectedGraph()
	for _, v := range g.Vars {
		ug.AddNode(simple.Node(v.ID))
	}
	for _, f := range g.Factors {
		vars := f.Vars()
		for i := 0; i < len(vars); i++ {
			for j := i + 1; j < len(vars); j++ {
				a, b := int64(vars[i]), int64(vars[j])
				if a == b || ug.HasEdgeBetween(a, b) {
					continue
				}
				ug.SetEdge(simple.Edge{F: simple.Node(a), T: simple.Node(b)})
			}
		}
	}
	return ug
}

// MinDegreeOrdering computes a fill-reducing ordering by exact minimum
// degree elimination on the variable adjacency graph. Ties go to the
// lowest variable id, so the result is deterministic.
func MinDegreeOrdering(g *Graph) *Ordering {
	eg := variableGraph(g)
	alive := make([]bool, len(g.Vars))
	for i := range alive {
		alive[i] = true
	}
	return eliminate(g, eg, func() int {
		best, bestDeg := -1, 0
		for id, ok := range alive {
			if !ok {
				continue
			}
			deg := eg.From(int64(id)).Len()
			if best < 0 || deg < bestDeg {
				best, bestDeg = id, deg
			}
		}
		alive[best] = false
		return best
	})
}

// NaturalOrdering eliminates variables in graph order
func NaturalOrdering(g *Graph) *Ordering {
	eg := variableGraph(g)
	next := 0
	return eliminate(g, eg, func() int {
		next++
		return next - 1
	})
}

// Symbolic elimination. pick returns the next variable to eliminate.
// Eliminating a node connects its remaining neighbours into a clique.
func eliminate(g *Graph, eg *simple.UndirectedGraph, pick func() int) *Ordering {
	n := len(g.Vars)
	ord := &Ordering{
		Perm:   make([]int, 0, n),
		Inv:    make([]int, n),
		Scalar: make([]int, 0, g.StateLen()),
	}
	for step := 0; step < n; step++ {
		id := pick()
		nbrs := graph.NodesOf(eg.From(int64(id)))
		for i := 0; i < len(nbrs); i++ {
			for j := i + 1; j < len(nbrs); j++ {
				a, b := nbrs[i].ID(), nbrs[j].ID()
				if !eg.HasEdgeBetween(a, b) {
					eg.SetEdge(simple.Edge{F: simple.Node(a), T: simple.Node(b)})
				}
			}
		}
		eg.RemoveNode(int64(id))

		ord.Fill += 1 + len(nbrs)
		ord.Inv[id] = step
		ord.Perm = append(ord.Perm, id)
		off := g.Offset(id)
		for d := 0; d < g.Vars[id].DOF(); d++ {
			ord.Scalar = append(ord.Scalar, off+d)
		}
	}
	return ord
}

// Permute a vector in graph layout into ordering layout
func (o *Ordering) permute(x []float64) []float64 {
	y := make([]float64, len(x))
	for k, s := range o.Scalar {
		y[k] = x[s]
	}
	return y
}

// Inverse of permute
func (o *Ordering) unpermute(y []float64) []float64 {
	x := make([]float64, len(y))
	for k, s := range o.Scalar {
		x[s] = y[k]
	}
	return x
}
