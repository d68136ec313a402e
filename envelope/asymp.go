// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// asyRatios compares the asymptotic covariance of the envelope coefficient
// estimator against the unconstrained one, both evaluated at the fitted
// parameters:
//
//	𝚊𝚟𝚊𝚛(√𝑛·𝚟𝚎𝚌 β̂ₒₗₛ) = S_X⁻¹ ⊗ Σ̂
//	𝚊𝚟𝚊𝚛(√𝑛·𝚟𝚎𝚌 β̂) = S_X⁻¹ ⊗ Γ̂Ω̂Γ̂ᵀ + (η̂ᵀ⊗Γ̂₀)·𝑀⁻¹·(η̂⊗Γ̂₀ᵀ)
//	𝑀 = (η̂S_Xη̂ᵀ + Ω̂) ⊗ Ω̂₀⁻¹ + Ω̂⁻¹ ⊗ Ω̂₀ − 2𝐼
//
// with 𝚟𝚎𝚌 stacking columns. The first term of the envelope variance is the
// cost of estimating η with Γ known; the second prices the estimation of the
// subspace itself. Only the diagonals are formed: ratio(i,j) is the per-entry
// standard deviation ratio OLS/envelope and se(i,j) the envelope standard
// error at sample size n.
//
// 𝑀 is singular when material and immaterial eigenvalues collide; the
// Moore-Penrose pseudo-inverse is used for such boundary fits.
//
// # Reference
//
// Cook, R.D., Li, B. and Chiaromonte, F. (2010).
// Envelope models for parsimonious and efficient multivariate linear regression.
// Statistica Sinica 20, 927-1010.
func asyRatios(n int, sigX, invSigX, sigma *mat.SymDense, gamma, gamma0, eta *mat.Dense, omega, omega0 *mat.SymDense) (ratio, se *mat.Dense, err error) {

	r, u := gamma.Dims()
	p := sigX.SymmetricDim()
	d := u * (r - u)

	material := liftSym(gamma, omega) // Γ̂Ω̂Γ̂ᵀ

	invOmega, err := invertSym(omega)
	if err != nil {
		return nil, nil, err
	}
	invOmega0, err := invertSym(omega0)
	if err != nil {
		return nil, nil, err
	}

	// 𝑀 over vec of the (r−u)×u basis perturbation.
	var exs, exse mat.Dense
	exs.Mul(eta, sigX)
	exse.Mul(&exs, eta.T())
	head := symFromDense(&exse)
	head.AddSym(head, omega)

	var ka, kb mat.Dense
	ka.Kronecker(head, invOmega0)
	kb.Kronecker(invOmega, omega0)

	mm := mat.NewDense(d, d, nil)
	mm.Add(&ka, &kb)
	for i := 0; i < d; i++ {
		mm.Set(i, i, mm.At(i, i)-two)
	}

	var k mat.Dense
	k.Kronecker(eta.T(), gamma0) // (p·r)×d

	// Z = 𝑀⁻¹·Kᵀ, through Cholesky when 𝑀 is definite.
	var z mat.Dense
	var chol mat.Cholesky
	if chol.Factorize(symFromDense(mm)) {
		if err := chol.SolveTo(&z, k.T()); err != nil {
			return nil, nil, errors.New("subspace information matrix is degenerate")
		}
	} else if err := pseudoSolve(&z, mm, k.T()); err != nil {
		return nil, nil, err
	}

	ratio = mat.NewDense(r, p, nil)
	se = mat.NewDense(r, p, nil)
	for j := 0; j < p; j++ {
		for i := 0; i < r; i++ {
			idx := j*r + i
			var cost float64
			for t := 0; t < d; t++ {
				cost += k.At(idx, t) * z.At(t, idx)
			}
			olsVar := invSigX.At(j, j) * sigma.At(i, i)
			envVar := invSigX.At(j, j)*material.At(i, i) + cost
			ratio.Set(i, j, math.Sqrt(olsVar/envVar))
			se.Set(i, j, math.Sqrt(envVar/float64(n)))
		}
	}
	return ratio, se, nil
}

// pseudoSolve computes dst = a⁺·b through a thin SVD, dropping singular
// values below the relative spectrum cutoff.
func pseudoSolve(dst *mat.Dense, a *mat.Dense, b mat.Matrix) error {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return errors.New("subspace information matrix is degenerate")
	}

	var uf, vf mat.Dense
	svd.UTo(&uf)
	svd.VTo(&vf)
	s := svd.Values(nil)

	var utb mat.Dense
	utb.Mul(uf.T(), b)

	cut := float64(len(s)) * epsilon * s[0]
	for t, sv := range s {
		row := utb.RawRowView(t)
		if sv > cut {
			for c := range row {
				row[c] /= sv
			}
		} else {
			for c := range row {
				row[c] = zero
			}
		}
	}
	dst.Mul(&vf, &utb)
	return nil
}
