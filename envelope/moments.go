// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// moments bundles the sample statistics shared by every stage of a response
// envelope fit. All covariances carry the maximum-likelihood 1/n scale, not
// the unbiased 1/(n-1) one. A bundle is built once per entry point and passed
// down explicitly, never cached across calls.
type moments struct {
	n    int // observations
	p, r int // predictor and response dimensions

	xbar *mat.VecDense // predictor sample mean
	ybar *mat.VecDense // response sample mean

	sigX    *mat.SymDense // predictor covariance S_X
	invSigX *mat.SymDense // S_X⁻¹
	sigY    *mat.SymDense // marginal response covariance S_Y
	sigRes  *mat.SymDense // residual covariance of the unconstrained fit

	betaOLS *mat.Dense // unconstrained coefficient estimate (r×p)

	ldSigY   float64 // logdet₊ S_Y
	ldSigRes float64 // logdet₊ S_res
}

// newMoments centers the data and derives every moment of the unconstrained
// regression in a single covariance pass over the joint sample [X Y].
func newMoments(x, y mat.Matrix) (*moments, error) {
	n, p := x.Dims()
	yn, r := y.Dims()
	if n != yn {
		panic("bound check error")
	}

	joint := mat.NewDense(n, p+r, nil)
	joint.Slice(0, n, 0, p).(*mat.Dense).Copy(x)
	joint.Slice(0, n, p, p+r).(*mat.Dense).Copy(y)

	cov := mat.NewSymDense(p+r, nil)
	stat.CovarianceMatrix(cov, joint, nil)
	cov.ScaleSym(float64(n-1)/float64(n), cov)

	xbar := mat.NewVecDense(p, nil)
	for j := 0; j < p; j++ {
		xbar.SetVec(j, stat.Mean(mat.Col(nil, j, x), nil))
	}
	ybar := mat.NewVecDense(r, nil)
	for j := 0; j < r; j++ {
		ybar.SetVec(j, stat.Mean(mat.Col(nil, j, y), nil))
	}

	sigX := mat.NewSymDense(p, nil)
	sigX.CopySym(cov.SliceSym(0, p))
	sigY := mat.NewSymDense(r, nil)
	sigY.CopySym(cov.SliceSym(p, p+r))

	sigYX := mat.NewDense(r, p, nil) // cross-covariance S_YX
	for i := 0; i < r; i++ {
		for j := 0; j < p; j++ {
			sigYX.Set(i, j, cov.At(p+i, j))
		}
	}

	var cholX mat.Cholesky
	if !cholX.Factorize(sigX) {
		return nil, errors.New("predictor covariance is not positive definite")
	}
	invSigX := mat.NewSymDense(p, nil)
	if err := cholX.InverseTo(invSigX); err != nil {
		return nil, errors.New("predictor covariance is not positive definite")
	}

	// β̂ₒₗₛᵀ solves S_X·B = S_XY.
	var betaT mat.Dense
	if err := cholX.SolveTo(&betaT, sigYX.T()); err != nil {
		return nil, errors.New("predictor covariance is not positive definite")
	}
	betaOLS := mat.DenseCopyOf(betaT.T())

	// S_res = S_Y − S_YX·S_X⁻¹·S_XY
	var fitted mat.Dense
	fitted.Mul(betaOLS, sigYX.T())
	sigRes := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sigRes.SetSym(i, j, sigY.At(i, j)-(fitted.At(i, j)+fitted.At(j, i))/two)
		}
	}

	return &moments{
		n: n, p: p, r: r,
		xbar: xbar, ybar: ybar,
		sigX: sigX, invSigX: invSigX,
		sigY: sigY, sigRes: sigRes,
		betaOLS:  betaOLS,
		ldSigY:   logDetPos(sigY),
		ldSigRes: logDetPos(sigRes),
	}, nil
}

// envObjective binds the concentrated objective of the response envelope:
// the material matrix is S_res and the pencil denominator is S_Y.
func (m *moments) envObjective() (*objective, error) {
	return newObjective(m.n, m.sigRes, m.sigY, "response covariance is not positive definite")
}

// meanMoments bundles the sample statistics of a mean envelope fit, where the
// immaterial part of the response carries mean zero and is therefore measured
// about the origin.
type meanMoments struct {
	n, r int

	ybar *mat.VecDense

	sigY  *mat.SymDense // covariance about the sample mean
	sigY0 *mat.SymDense // second moment about the origin

	ldSigY  float64 // logdet₊ S_Y
	ldSigY0 float64 // logdet₊ S_Y⁰
}

func newMeanMoments(y mat.Matrix) *meanMoments {
	n, r := y.Dims()

	sigY := mat.NewSymDense(r, nil)
	stat.CovarianceMatrix(sigY, y, nil)
	sigY.ScaleSym(float64(n-1)/float64(n), sigY)

	ybar := mat.NewVecDense(r, nil)
	for j := 0; j < r; j++ {
		ybar.SetVec(j, stat.Mean(mat.Col(nil, j, y), nil))
	}

	// S_Y⁰ = S_Y + ȳȳᵀ
	sigY0 := mat.NewSymDense(r, nil)
	sigY0.SymRankOne(sigY, one, ybar)

	return &meanMoments{
		n: n, r: r,
		ybar:    ybar,
		sigY:    sigY,
		sigY0:   sigY0,
		ldSigY:  logDetPos(sigY),
		ldSigY0: logDetPos(sigY0),
	}
}

// meanObjective binds the concentrated objective of the mean envelope:
// the material matrix is S_Y and the pencil denominator is S_Y⁰.
func (m *meanMoments) meanObjective() (*objective, error) {
	return newObjective(m.n, m.sigY, m.sigY0, "response second moment is not positive definite")
}
