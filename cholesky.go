// Copyright (c) 2025 hitoshi.mukai.b@gmail.com. All rights reserved.
// You are free to use this source code for any purpose. The copyright remains with the author.
// The author accepts no liability for any damages arising from the use of this source code.
//
// Last modified: 2026.10.15
//

package posegraph

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// BlockCholesky is the sparse factorization P A P^T = L L^T of a System.
// L is stored by block columns in elimination order; each block is dense.
type BlockCholesky struct {
	ord  *Ordering
	dofs []int                // dof of the variable eliminated at each step
	offs []int                // scalar offset of each step in permuted layout
	diag []*mat.TriDense      // L_kk
	cols []map[int]*mat.Dense // cols[k][i]: L_ik for steps i > k
	rows [][]int              // sorted keys of cols[k]
	fill int                  // number of off-diagonal blocks of L
}

// FactorizeSystem permutes s by ord, adds lambda to the diagonal and
// factorizes. A non positive definite pivot block returns a
// *FactorizationError wrapping ErrNotPositiveDefinite.
func FactorizeSystem(s *System, ord *Ordering, lambda float64) (*BlockCholesky, error) {
	n := s.NumVars()
	c := &BlockCholesky{
		ord:  ord,
		dofs: make([]int, n),
		offs: make([]int, n),
		diag: make([]*mat.TriDense, n),
		cols: make([]map[int]*mat.Dense, n),
		rows: make([][]int, n),
	}

	// Permuted layout
	off := 0
	for k, id := range ord.Perm {
		c.dofs[k] = s.dofs[id]
		c.offs[k] = off
		off += s.dofs[id]
	}

	// Lower triangle of P A P^T, working copy
	work := make([]map[int]*mat.Dense, n)
	for k := range work {
		work[k] = map[int]*mat.Dense{}
	}
	for vi := range s.blocks {
		for vj, blk := range s.blocks[vi] {
			pi, pj := ord.Inv[vi], ord.Inv[vj]
			if pi < pj {
				continue
			}
			work[pj][pi] = mat.DenseCopyOf(blk)
		}
	}

	for k := 0; k < n; k++ {
		d := c.dofs[k]

		// Pivot block
		D, ok := work[k][k]
		if !ok {
			D = mat.NewDense(d, d, nil)
		}
		sym := mat.NewSymDense(d, nil)
		for a := 0; a < d; a++ {
			for b := a; b < d; b++ {
				sym.SetSym(a, b, D.At(a, b))
			}
			sym.SetSym(a, a, sym.At(a, a)+lambda)
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(sym); !ok {
			return nil, &FactorizationError{Var: ord.Perm[k], Step: k, Err: ErrNotPositiveDefinite}
		}
		Lkk := &mat.TriDense{}
		chol.LTo(Lkk)
		c.diag[k] = Lkk
		delete(work[k], k)

		// Column below the pivot: L_ik = A_ik L_kk^-T
		rows := maps.Keys(work[k])
		slices.Sort(rows)
		tri := Lkk.RawTriangular()
		for _, i := range rows {
			blas64.Trsm(blas.Right, blas.Trans, 1, tri, work[k][i].RawMatrix())
		}

		// Schur complement update of the trailing blocks, creating fill
		for a, i := range rows {
			Lik := work[k][i].RawMatrix()
			for _, j := range rows[:a+1] {
				Ljk := work[k][j].RawMatrix()
				dst, ok := work[j][i]
				if !ok {
					dst = mat.NewDense(c.dofs[i], c.dofs[j], nil)
					work[j][i] = dst
				}
				blas64.Gemm(blas.NoTrans, blas.Trans, -1, Lik, Ljk, 1, dst.RawMatrix())
			}
		}

		c.cols[k] = work[k]
		c.rows[k] = rows
		c.fill += len(rows)
	}
	return c, nil
}

// Number of off-diagonal blocks in L
func (c *BlockCholesky) Fill() int { return c.fill }

// Ordering used by the factorization
func (c *BlockCholesky) Ordering() *Ordering { return c.ord }

// Solve A x = b. b and x are in graph layout.
func (c *BlockCholesky) Solve(b []float64) []float64 {
	y := c.ord.permute(b)

	// L y = Pb
	for k := range c.diag {
		yk := c.segment(y, k)
		blas64.Trsv(blas.NoTrans, c.diag[k].RawTriangular(), yk)
		for _, i := range c.rows[k] {
			blas64.Gemv(blas.NoTrans, -1, c.cols[k][i].RawMatrix(), yk, 1, c.segment(y, i))
		}
	}

	// L^T x = y
	for k := len(c.diag) - 1; k >= 0; k-- {
		xk := c.segment(y, k)
		for _, i := range c.rows[k] {
			blas64.Gemv(blas.Trans, -1, c.cols[k][i].RawMatrix(), c.segment(y, i), 1, xk)
		}
		blas64.Trsv(blas.Trans, c.diag[k].RawTriangular(), xk)
	}

	return c.ord.unpermute(y)
}

// Block of a permuted vector belonging to step k
func (c *BlockCholesky) segment(v []float64, k int) blas64.Vector {
	return blas64.Vector{N: c.dofs[k], Data: v[c.offs[k] : c.offs[k]+c.dofs[k]], Inc: 1}
}
