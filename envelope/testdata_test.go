// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Test fixtures are built so that their leading sample moments are exact, not
// just close in expectation: the rows of a seeded Gaussian matrix are passed
// through a QR factorization whose first column is the constant vector, which
// makes every remaining column exactly orthonormal and exactly mean-free.
// Hand-computed envelope quantities then hold to rounding error and the
// assertions need no statistical slack.

// exactRegression builds a regression sample with S_X = I, β̂ₒₗₛ = beta,
// S_res = diag(resSD²) and Ȳ = alpha, all exact.
func exactRegression(t *testing.T, n int, beta *mat.Dense, alpha, resSD []float64, seed uint64) (x, y *mat.Dense) {
	t.Helper()
	r, p := beta.Dims()
	if len(alpha) != r || len(resSD) != r || n <= 1+p+r {
		t.Fatal("exactRegression: invalid fixture shape")
	}

	q := orthoSample(n, 1+p+r, seed)
	root := math.Sqrt(float64(n))

	x = mat.NewDense(n, p, nil)
	x.Scale(root, q.Slice(0, n, 1, 1+p))

	y = mat.NewDense(n, r, nil)
	var fit mat.Dense
	fit.Mul(x, beta.T())
	for i := 0; i < n; i++ {
		for j := 0; j < r; j++ {
			y.Set(i, j, alpha[j]+fit.At(i, j)+resSD[j]*root*q.At(i, 1+p+j))
		}
	}
	return x, y
}

// exactSample builds a multivariate sample with Ȳ = mu and S_Y = diag(sd²),
// both exact.
func exactSample(t *testing.T, n int, mu, sd []float64, seed uint64) *mat.Dense {
	t.Helper()
	r := len(mu)
	if len(sd) != r || n <= 1+r {
		t.Fatal("exactSample: invalid fixture shape")
	}

	q := orthoSample(n, 1+r, seed)
	root := math.Sqrt(float64(n))

	y := mat.NewDense(n, r, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < r; j++ {
			y.Set(i, j, mu[j]+sd[j]*root*q.At(i, 1+j))
		}
	}
	return y
}

// noisyRegression draws an ordinary Gaussian sample from the single-direction
// envelope model Y = alpha + Γ(bᵀX) + ε with Γ = e₁ and ε ~ N(0, diag(resSD²)).
func noisyRegression(n int, b, alpha, resSD []float64, seed uint64) (x, y *mat.Dense) {
	p, r := len(b), len(alpha)
	rnd := rand.New(rand.NewSource(seed))
	x = mat.NewDense(n, p, nil)
	y = mat.NewDense(n, r, nil)
	for i := 0; i < n; i++ {
		var xb float64
		for j := 0; j < p; j++ {
			v := rnd.NormFloat64()
			x.Set(i, j, v)
			xb += b[j] * v
		}
		for j := 0; j < r; j++ {
			mean := alpha[j]
			if j == 0 {
				mean += xb
			}
			y.Set(i, j, mean+resSD[j]*rnd.NormFloat64())
		}
	}
	return x, y
}

// orthoSample returns the thin orthogonal factor of a seeded Gaussian n×m
// matrix whose first column is constant.
func orthoSample(n, m int, seed uint64) *mat.Dense {
	rnd := rand.New(rand.NewSource(seed))
	g := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		g.Set(i, 0, 1)
		for j := 1; j < m; j++ {
			g.Set(i, j, rnd.NormFloat64())
		}
	}
	var qr mat.QR
	qr.Factorize(g)
	var q mat.Dense
	qr.QTo(&q)
	return mat.DenseCopyOf(q.Slice(0, n, 0, m))
}

// fixtureRegression is the shared response-envelope fixture: r = 4, p = 3,
// a single material direction e₁ with coordinates b = (2, 1, −1) and
// residual scales (1, 1.2, 0.8, 0.6), so that
//
//	S_res = diag(1, 1.44, 0.64, 0.36)
//	S_Y   = diag(7, 1.44, 0.64, 0.36)
//
// and the u = 1 envelope basis is exactly ±e₁.
func fixtureRegression(t *testing.T) (x, y *mat.Dense) {
	t.Helper()
	beta := mat.NewDense(4, 3, nil)
	beta.SetRow(0, fixtureB)
	return exactRegression(t, 50, beta, fixtureAlpha, fixtureSD, 42)
}

var (
	fixtureB     = []float64{2, 1, -1}
	fixtureAlpha = []float64{0.3, -0.7, 1.1, 2.5}
	fixtureSD    = []float64{1, 1.2, 0.8, 0.6}
)

// fixtureSYDiag lists the diagonal of S_Y implied by the fixture.
func fixtureSYDiag() []float64 {
	d := make([]float64, len(fixtureSD))
	var nb float64
	for _, v := range fixtureB {
		nb += v * v
	}
	for i, sd := range fixtureSD {
		d[i] = sd * sd
		if i == 0 {
			d[i] += nb
		}
	}
	return d
}

func diagSym(d []float64) *mat.SymDense {
	s := mat.NewSymDense(len(d), nil)
	for i, v := range d {
		s.SetSym(i, i, v)
	}
	return s
}

func logProd(d []float64) float64 {
	var ld float64
	for _, v := range d {
		ld += math.Log(v)
	}
	return ld
}

// randomSemiOrtho draws a seeded random n×k semi-orthogonal matrix.
func randomSemiOrtho(n, k int, seed uint64) *mat.Dense {
	rnd := rand.New(rand.NewSource(seed))
	g := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			g.Set(i, j, rnd.NormFloat64())
		}
	}
	return orthoCols(g)
}
