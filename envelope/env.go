// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"errors"
	"math"

	"github.com/curioloop/envelope/grassmann"
	"gonum.org/v1/gonum/mat"
)

// Fit estimates the response envelope of dimension u for the multivariate
// linear regression of a response sample Y (n×r) on a predictor sample X (n×p):
//
//	𝑌 = α + β𝑋 + ε,  ε ~ 𝑁(0, Σ)
//	β = Γη,  Σ = ΓΩΓᵀ + Γ₀Ω₀Γ₀ᵀ
//
// where the columns of Γ (r×u) span the smallest reducing subspace of Σ that
// contains 𝚜𝚙𝚊𝚗(β), the envelope. The immaterial part Γ₀ᵀ𝑌 then carries no
// information about 𝑋, and the maximum-likelihood estimator of β can be far
// more efficient than OLS when the immaterial variation dominates.
//
// Concentrating all parameters but the subspace out of the likelihood leaves
//
//	𝐹(𝑅) = 𝑛·(𝚕𝚘𝚐|𝑅ᵀS_res𝑅| + 𝚕𝚘𝚐|𝑅ᵀS_Y⁻¹𝑅|)
//
// which is minimized over the Grassmann manifold 𝓖(r,u); the remaining
// estimates are closed forms of the minimizer. The boundary dimensions skip
// the iteration entirely: u = 0 forces β = 0 and u = r reproduces OLS.
//
// The returned model may be a non-converged best effort, reported through
// its Converged field rather than an error. Errors are reserved for invalid
// inputs and moment matrices too degenerate to start from.
//
// # Reference
//
// Cook, R.D., Li, B. and Chiaromonte, F. (2010).
// Envelope models for parsimonious and efficient multivariate linear regression.
// Statistica Sinica 20, 927-1010.
func Fit(x, y mat.Matrix, u int, opts *Options) (*Model, error) {
	if err := checkRegression(x, y, u); err != nil {
		return nil, err
	}
	m, err := newMoments(x, y)
	if err != nil {
		return nil, err
	}
	return fitMoments(m, u, opts.normalize())
}

func checkRegression(x, y mat.Matrix, u int) error {
	if x == nil || y == nil {
		return errors.New("design and response matrices are required")
	}
	n, _ := x.Dims()
	yn, r := y.Dims()
	switch {
	case n != yn:
		return errors.New("design and response row counts not match")
	case n < 1:
		return errors.New("at least one observation is required")
	case u < 0 || u > r:
		return errors.New("envelope dimension must lie in [0, r]")
	}
	return nil
}

// fitMoments dispatches one dimension over an already built moment bundle.
func fitMoments(m *moments, u int, opt Options) (*Model, error) {
	switch u {
	case 0:
		return degenerateModel(m), nil
	case m.r:
		return saturatedModel(m), nil
	}

	obj, err := m.envObjective()
	if err != nil {
		return nil, err
	}
	basis, res, err := minimize(obj, m.r, u, opt)
	if err != nil {
		return nil, err
	}
	return envelopeModel(m, u, basis, res)
}

// degenerateModel is the closed form at u = 0: the predictors are declared
// immaterial, so β = 0 and Σ is the marginal response covariance.
func degenerateModel(m *moments) *Model {
	return &Model{
		U:          0,
		Beta:       mat.NewDense(m.r, m.p, nil),
		Alpha:      mat.VecDenseCopyOf(m.ybar),
		Gamma0:     eyeDense(m.r),
		Omega0:     copySym(m.sigY),
		Sigma:      copySym(m.sigY),
		Loglik:     gaussConst(m.n, m.r) - float64(m.n)/two*m.ldSigY,
		ParamNum:   m.r + m.r*(m.r+1)/2,
		Ratio:      onesDense(m.r, m.p),
		N:          m.n,
		Converged:  true,
		Iterations: 0,
	}
}

// saturatedModel is the closed form at u = r: the envelope is the whole
// response space and the estimator coincides with OLS.
func saturatedModel(m *moments) *Model {
	alpha := mat.NewVecDense(m.r, nil)
	alpha.MulVec(m.betaOLS, m.xbar)
	alpha.SubVec(m.ybar, alpha)

	se := mat.NewDense(m.r, m.p, nil)
	for i := 0; i < m.r; i++ {
		for j := 0; j < m.p; j++ {
			se.Set(i, j, math.Sqrt(m.invSigX.At(j, j)*m.sigRes.At(i, i)/float64(m.n)))
		}
	}

	return &Model{
		U:          m.r,
		Beta:       mat.DenseCopyOf(m.betaOLS),
		Alpha:      alpha,
		Gamma:      eyeDense(m.r),
		Eta:        mat.DenseCopyOf(m.betaOLS),
		Omega:      copySym(m.sigRes),
		Sigma:      copySym(m.sigRes),
		Loglik:     gaussConst(m.n, m.r) - float64(m.n)/two*m.ldSigRes,
		ParamNum:   m.r + m.r*m.p + m.r*(m.r+1)/2,
		Ratio:      onesDense(m.r, m.p),
		AsySE:      se,
		N:          m.n,
		Converged:  true,
		Iterations: 0,
	}
}

// envelopeModel reconstructs every estimate from the optimized basis.
func envelopeModel(m *moments, u int, gamma *mat.Dense, res *grassmann.Result) (*Model, error) {
	gamma0 := nullBasis(gamma)

	var eta mat.Dense
	eta.Mul(gamma.T(), m.betaOLS)

	var beta mat.Dense
	beta.Mul(gamma, &eta)

	alpha := mat.NewVecDense(m.r, nil)
	alpha.MulVec(&beta, m.xbar)
	alpha.SubVec(m.ybar, alpha)

	omega := compressSym(m.sigRes, gamma)
	omega0 := compressSym(m.sigY, gamma0)
	sigma := liftSum(gamma, omega, gamma0, omega0)

	ratio, se, err := asyRatios(m.n, m.sigX, m.invSigX, sigma, gamma, gamma0, &eta, omega, omega0)
	if err != nil {
		return nil, err
	}

	return &Model{
		U:          u,
		Beta:       &beta,
		Alpha:      alpha,
		Gamma:      gamma,
		Gamma0:     gamma0,
		Eta:        &eta,
		Omega:      omega,
		Omega0:     omega0,
		Sigma:      sigma,
		Loglik:     gaussConst(m.n, m.r) - res.F/two - float64(m.n)/two*m.ldSigY,
		ParamNum:   m.r + u*m.p + m.r*(m.r+1)/2,
		Ratio:      ratio,
		AsySE:      se,
		N:          m.n,
		Converged:  res.OK,
		Iterations: res.NumIter,
	}, nil
}
