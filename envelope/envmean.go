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

// FitMean estimates the mean envelope of dimension u for a multivariate
// sample Y (n×r):
//
//	𝑌 = μ + ε,  ε ~ 𝑁(0, Σ)
//	μ = Γη,  Σ = ΓΩΓᵀ + Γ₀Ω₀Γ₀ᵀ
//
// where the columns of Γ (r×u) span the smallest reducing subspace of Σ that
// contains μ. The immaterial part Γ₀ᵀ𝑌 has mean zero, so its moments are
// taken about the origin: with S_Y⁰ = S_Y + ȳȳᵀ the concentrated objective is
//
//	𝐹(𝑅) = 𝑛·(𝚕𝚘𝚐|𝑅ᵀS_Y𝑅| + 𝚕𝚘𝚐|𝑅ᵀ(S_Y⁰)⁻¹𝑅|)
//
// minimized over 𝓖(r,u). The boundary dimensions skip the iteration:
// u = 0 forces μ = 0 and u = r reproduces the sample mean.
//
// # Reference
//
// Cook, R.D. (2018).
// An Introduction to Envelopes: Dimension Reduction for Efficient Estimation
// in Multivariate Statistics. Wiley, Hoboken.
func FitMean(y mat.Matrix, u int, opts *Options) (*MeanModel, error) {
	if err := checkResponse(y, u); err != nil {
		return nil, err
	}
	return fitMeanMoments(newMeanMoments(y), u, opts.normalize())
}

func checkResponse(y mat.Matrix, u int) error {
	if y == nil {
		return errors.New("response matrix is required")
	}
	n, r := y.Dims()
	switch {
	case n < 1:
		return errors.New("at least one observation is required")
	case u < 0 || u > r:
		return errors.New("envelope dimension must lie in [0, r]")
	}
	return nil
}

func fitMeanMoments(m *meanMoments, u int, opt Options) (*MeanModel, error) {
	switch u {
	case 0:
		return zeroMeanModel(m), nil
	case m.r:
		return fullMeanModel(m), nil
	}

	obj, err := m.meanObjective()
	if err != nil {
		return nil, err
	}
	basis, res, err := minimize(obj, m.r, u, opt)
	if err != nil {
		return nil, err
	}
	return meanEnvelopeModel(m, u, basis, res)
}

// zeroMeanModel is the closed form at u = 0: the mean is forced to zero and
// Σ becomes the second moment about the origin.
func zeroMeanModel(m *meanMoments) *MeanModel {
	return &MeanModel{
		U:          0,
		Mu:         mat.NewVecDense(m.r, nil),
		Gamma0:     eyeDense(m.r),
		Omega0:     copySym(m.sigY0),
		Sigma:      copySym(m.sigY0),
		Loglik:     gaussConst(m.n, m.r) - float64(m.n)/two*m.ldSigY0,
		ParamNum:   m.r * (m.r + 1) / 2,
		Ratio:      onesVec(m.r),
		N:          m.n,
		Converged:  true,
		Iterations: 0,
	}
}

// fullMeanModel is the closed form at u = r: the estimator coincides with
// the sample mean.
func fullMeanModel(m *meanMoments) *MeanModel {
	se := mat.NewVecDense(m.r, nil)
	for i := 0; i < m.r; i++ {
		se.SetVec(i, math.Sqrt(m.sigY.At(i, i)/float64(m.n)))
	}
	return &MeanModel{
		U:          m.r,
		Mu:         mat.VecDenseCopyOf(m.ybar),
		Gamma:      eyeDense(m.r),
		Eta:        mat.VecDenseCopyOf(m.ybar),
		Omega:      copySym(m.sigY),
		Sigma:      copySym(m.sigY),
		Loglik:     gaussConst(m.n, m.r) - float64(m.n)/two*m.ldSigY,
		ParamNum:   m.r + m.r*(m.r+1)/2,
		Ratio:      onesVec(m.r),
		AsySE:      se,
		N:          m.n,
		Converged:  true,
		Iterations: 0,
	}
}

// meanEnvelopeModel reconstructs every estimate from the optimized basis.
// The asymptotics reuse the regression forms with the constant 1 playing the
// predictor, whose second moment is the 1×1 identity.
func meanEnvelopeModel(m *meanMoments, u int, gamma *mat.Dense, res *grassmann.Result) (*MeanModel, error) {
	gamma0 := nullBasis(gamma)

	eta := mat.NewVecDense(u, nil)
	eta.MulVec(gamma.T(), m.ybar)

	mu := mat.NewVecDense(m.r, nil)
	mu.MulVec(gamma, eta)

	omega := compressSym(m.sigY, gamma)
	omega0 := compressSym(m.sigY0, gamma0)
	sigma := liftSum(gamma, omega, gamma0, omega0)

	unit := mat.NewSymDense(1, []float64{one})
	etaCol := mat.NewDense(u, 1, nil)
	etaCol.SetCol(0, eta.RawVector().Data)

	ratioCol, seCol, err := asyRatios(m.n, unit, unit, sigma, gamma, gamma0, etaCol, omega, omega0)
	if err != nil {
		return nil, err
	}

	return &MeanModel{
		U:          u,
		Mu:         mu,
		Gamma:      gamma,
		Gamma0:     gamma0,
		Eta:        eta,
		Omega:      omega,
		Omega0:     omega0,
		Sigma:      sigma,
		Loglik:     gaussConst(m.n, m.r) - res.F/two - float64(m.n)/two*m.ldSigY0,
		ParamNum:   u + m.r*(m.r+1)/2,
		Ratio:      mat.NewVecDense(m.r, mat.Col(nil, 0, ratioCol)),
		AsySE:      mat.NewVecDense(m.r, mat.Col(nil, 0, seCol)),
		N:          m.n,
		Converged:  res.OK,
		Iterations: res.NumIter,
	}, nil
}
