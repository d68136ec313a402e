// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestOrthoCols(t *testing.T) {
	a := mat.NewDense(4, 2, []float64{
		1, 1,
		1, 2,
		0, 1,
		2, 0,
	})

	q := orthoCols(a)
	rows, cols := q.Dims()
	require.Equal(t, 4, rows)
	require.Equal(t, 2, cols)

	var gram mat.Dense
	gram.Mul(q.T(), q)
	require.True(t, mat.EqualApprox(&gram, eyeDense(2), 1e-12))

	// Projecting onto the column span must leave a unchanged.
	var proj, back mat.Dense
	proj.Mul(q, q.T())
	back.Mul(&proj, a)
	require.True(t, mat.EqualApprox(&back, a, 1e-12))
}

func TestNullBasis(t *testing.T) {
	g := randomSemiOrtho(5, 2, 13)

	g0 := nullBasis(g)
	rows, cols := g0.Dims()
	require.Equal(t, 5, rows)
	require.Equal(t, 3, cols)

	var cross mat.Dense
	cross.Mul(g.T(), g0)
	require.True(t, mat.EqualApprox(&cross, mat.NewDense(2, 3, nil), 1e-12))

	var gram mat.Dense
	gram.Mul(g0.T(), g0)
	require.True(t, mat.EqualApprox(&gram, eyeDense(3), 1e-12))

	// The two bases together resolve the identity.
	var p, p0 mat.Dense
	p.Mul(g, g.T())
	p0.Mul(g0, g0.T())
	p.Add(&p, &p0)
	require.True(t, mat.EqualApprox(&p, eyeDense(5), 1e-12))
}

func TestCompressLiftReducing(t *testing.T) {
	s := diagSym([]float64{3, 5, 7, 11})
	g := mat.NewDense(4, 2, []float64{
		1, 0,
		0, 0,
		0, 1,
		0, 0,
	})

	w := compressSym(s, g)
	require.InDelta(t, 3, w.At(0, 0), 1e-15)
	require.InDelta(t, 7, w.At(1, 1), 1e-15)
	require.InDelta(t, 0, w.At(0, 1), 1e-15)

	// span{e₁,e₃} reduces a diagonal matrix, so the two compressed blocks
	// reassemble it exactly.
	g0 := nullBasis(g)
	w0 := compressSym(s, g0)
	require.True(t, mat.EqualApprox(liftSum(g, w, g0, w0), s, 1e-12))
}

func TestLogDetPos(t *testing.T) {
	require.InDelta(t, math.Log(9), logDetPos(diagSym([]float64{2, 0.5, 9})), 1e-12)

	s := mat.NewSymDense(2, []float64{4, 1, 1, 3})
	var chol mat.Cholesky
	require.True(t, chol.Factorize(s))
	require.InDelta(t, chol.LogDet(), logDetPos(s), 1e-12)
}

func TestInvertSym(t *testing.T) {
	s := mat.NewSymDense(2, []float64{4, 1, 1, 3})

	inv, err := invertSym(s)
	require.NoError(t, err)
	var prod mat.Dense
	prod.Mul(s, inv)
	require.True(t, mat.EqualApprox(&prod, eyeDense(2), 1e-12))

	_, err = invertSym(mat.NewSymDense(2, []float64{1, 0, 0, 0}))
	require.EqualError(t, err, "covariance block is not positive definite")
}

func TestSelectRows(t *testing.T) {
	a := mat.NewDense(3, 2, []float64{
		1, 2,
		3, 4,
		5, 6,
	})

	got := selectRows(a, []int{2, 0})
	require.True(t, mat.Equal(got, mat.NewDense(2, 2, []float64{5, 6, 1, 2})))
}
