// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0
)

var epsilon = math.Nextafter(one, two) - one

var errDegenerate = errors.New("degenerate trial subspace")

// symFromDense symmetrizes a square product whose off-diagonal entries may
// differ by rounding.
func symFromDense(a mat.Matrix) *mat.SymDense {
	n, m := a.Dims()
	if n != m {
		panic("bound check error")
	}
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/two)
		}
	}
	return s
}

// compressSym computes GᵀSG for an orthonormal G.
func compressSym(s mat.Symmetric, g *mat.Dense) *mat.SymDense {
	var sg, c mat.Dense
	sg.Mul(s, g)
	c.Mul(g.T(), &sg)
	return symFromDense(&c)
}

// liftSym computes GWGᵀ.
func liftSym(g *mat.Dense, w *mat.SymDense) *mat.SymDense {
	var gw, l mat.Dense
	gw.Mul(g, w)
	l.Mul(&gw, g.T())
	return symFromDense(&l)
}

// liftSum reconstructs a full covariance from the coordinates of two
// complementary subspaces: GWGᵀ + G₀W₀G₀ᵀ.
func liftSum(g *mat.Dense, w *mat.SymDense, g0 *mat.Dense, w0 *mat.SymDense) *mat.SymDense {
	s := liftSym(g, w)
	s.AddSym(s, liftSym(g0, w0))
	return s
}

// orthoCols replaces the columns of a with an orthonormal basis of their span.
func orthoCols(a mat.Matrix) *mat.Dense {
	n, k := a.Dims()
	var qr mat.QR
	qr.Factorize(mat.DenseCopyOf(a))
	var q mat.Dense
	qr.QTo(&q)
	return mat.DenseCopyOf(q.Slice(0, n, 0, k))
}

// nullBasis returns an orthonormal basis of the orthogonal complement of the
// columns of g: the trailing block of the full QR orthogonal factor.
func nullBasis(g *mat.Dense) *mat.Dense {
	n, k := g.Dims()
	if k >= n {
		panic("bound check error")
	}
	var qr mat.QR
	qr.Factorize(g)
	var q mat.Dense
	qr.QTo(&q)
	return mat.DenseCopyOf(q.Slice(0, n, k, n))
}

// copySym clones a symmetric matrix.
func copySym(s *mat.SymDense) *mat.SymDense {
	c := mat.NewSymDense(s.SymmetricDim(), nil)
	c.CopySym(s)
	return c
}

// invertSym inverts a covariance block through its Cholesky factorization.
func invertSym(s *mat.SymDense) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if !chol.Factorize(s) {
		return nil, errors.New("covariance block is not positive definite")
	}
	inv := mat.NewSymDense(s.SymmetricDim(), nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, errors.New("covariance block is not positive definite")
	}
	return inv, nil
}

// logDetPos sums the logarithms of the strictly positive eigenvalues of s,
// silently dropping the rest. Rank-deficient sample covariances (n ≤ r)
// therefore yield a finite value instead of -Inf. A matrix whose
// factorization fails yields NaN.
func logDetPos(s *mat.SymDense) float64 {
	var es mat.EigenSym
	if !es.Factorize(s, false) {
		return math.NaN()
	}
	vals := es.Values(nil)
	var cut float64
	for _, v := range vals {
		if v > cut {
			cut = v
		}
	}
	cut *= float64(len(vals)) * epsilon
	var ld float64
	for _, v := range vals {
		if v > cut {
			ld += math.Log(v)
		}
	}
	return ld
}

// eyeDense returns the n×n identity.
func eyeDense(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, one)
	}
	return d
}

// onesDense returns an r×c matrix of ones.
func onesDense(r, c int) *mat.Dense {
	d := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.Set(i, j, one)
		}
	}
	return d
}

// onesVec returns a length-n vector of ones.
func onesVec(n int) *mat.VecDense {
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, one)
	}
	return v
}

// selectRows copies the given rows of a into a new matrix.
func selectRows(a *mat.Dense, rows []int) *mat.Dense {
	_, c := a.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, row := range rows {
		out.SetRow(i, a.RawRowView(row))
	}
	return out
}
