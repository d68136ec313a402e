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

// objective is the concentrated negative profile log-likelihood of an
// envelope fit, reduced to a smooth function of the basis alone:
//
//	𝐹(𝑅) = 𝑛·(𝚕𝚘𝚐|𝑅ᵀ𝑎𝑅| + 𝚕𝚘𝚐|𝑅ᵀ𝑏𝑅|)
//	∂𝐹/∂𝑅 = 2𝑛·(𝑎𝑅(𝑅ᵀ𝑎𝑅)⁻¹ + 𝑏𝑅(𝑅ᵀ𝑏𝑅)⁻¹)
//
// where b = c⁻¹ for the moment pencil (a, c). The value is invariant under
// right multiplication by any orthogonal matrix, so 𝐹 descends to a function
// on the Grassmann manifold of 𝚜𝚙𝚊𝚗(𝑅).
type objective struct {
	n    int
	a, b *mat.SymDense

	// cholC retains the factorization of the pencil denominator c
	// for the starting-value reduction.
	cholC *mat.Cholesky
}

// newObjective inverts the pencil denominator c into b and binds the pair.
// A c that is not positive definite is reported with the given message.
func newObjective(n int, a, c *mat.SymDense, msg string) (*objective, error) {
	var chol mat.Cholesky
	if !chol.Factorize(c) {
		return nil, errors.New(msg)
	}
	b := mat.NewSymDense(c.SymmetricDim(), nil)
	if err := chol.InverseTo(b); err != nil {
		return nil, errors.New(msg)
	}
	return &objective{n: n, a: a, b: b, cholC: &chol}, nil
}

// eval implements grassmann.Evaluation. A trial basis compressing either
// moment matrix to a singular block is rejected with errDegenerate, which
// makes the line search shrink away from the boundary of the feasible cone.
func (o *objective) eval(r *mat.Dense, grad *mat.Dense) (float64, error) {
	if grad != nil {
		grad.Zero()
	}
	fa, err := compressTerm(r, o.a, grad)
	if err != nil {
		return zero, err
	}
	fb, err := compressTerm(r, o.b, grad)
	if err != nil {
		return zero, err
	}
	if grad != nil {
		grad.Scale(two*float64(o.n), grad)
	}
	return float64(o.n) * (fa + fb), nil
}

// compressTerm computes log|RᵀsR| and, when grad is not nil, accumulates the
// unscaled gradient term sR(RᵀsR)⁻¹ into it.
func compressTerm(r *mat.Dense, s *mat.SymDense, grad *mat.Dense) (float64, error) {
	var sr, c mat.Dense
	sr.Mul(s, r)
	c.Mul(r.T(), &sr)

	var chol mat.Cholesky
	if !chol.Factorize(symFromDense(&c)) {
		return zero, errDegenerate
	}
	ld := chol.LogDet()

	if grad != nil {
		// (RᵀsR)·Zᵀ = (sR)ᵀ so that Z = sR(RᵀsR)⁻¹.
		var zt mat.Dense
		if err := chol.SolveTo(&zt, sr.T()); err != nil {
			return zero, errDegenerate
		}
		grad.Add(grad, zt.T())
	}
	return ld, nil
}

// start builds the initial basis of a u-dimensional fit from the generalized
// eigenproblem a·v = λ·c·v, reduced to ordinary form with the Cholesky factor
// of c. The u leading and u trailing eigenvector blocks are both evaluated
// and the better one wins, since either end of the spectrum may carry the
// envelope.
func (o *objective) start(u int) (*mat.Dense, error) {
	r := o.a.SymmetricDim()

	var l mat.TriDense
	o.cholC.LTo(&l)

	// C̃ = L⁻¹·a·L⁻ᵀ for c = LLᵀ, by two triangular solves.
	var la, ct mat.Dense
	if err := la.Solve(&l, o.a); err != nil {
		return nil, errDegenerate
	}
	if err := ct.Solve(&l, la.T()); err != nil {
		return nil, errDegenerate
	}

	var es mat.EigenSym
	if !es.Factorize(symFromDense(&ct), true) {
		return nil, errors.New("starting value eigendecomposition failed")
	}
	var vt mat.Dense
	es.VectorsTo(&vt)

	// Back-transform Lᵀ·V = Ṽ to pencil eigenvectors.
	var v mat.Dense
	if err := v.Solve(l.T(), &vt); err != nil {
		return nil, errDegenerate
	}

	// Eigenvalues come out ascending.
	lower := orthoCols(v.Slice(0, r, 0, u))
	upper := orthoCols(v.Slice(0, r, r-u, r))

	fl, errL := o.eval(lower, nil)
	fu, errU := o.eval(upper, nil)
	switch {
	case errL != nil && errU != nil:
		return nil, errors.New("no feasible starting value")
	case errU != nil || (errL == nil && fl <= fu):
		return lower, nil
	default:
		return upper, nil
	}
}

// minimize runs the Grassmann optimizer on the objective from its pencil
// starting value. The returned result may be non-converged best effort; a
// result without a single valid evaluation is an error.
func minimize(obj *objective, r, u int, opt Options) (*mat.Dense, *grassmann.Result, error) {
	init, err := obj.start(u)
	if err != nil {
		return nil, nil, err
	}

	problem := grassmann.Problem{
		N:    r,
		K:    u,
		Eval: obj.eval,
		Stop: opt.termination(),
	}
	optimizer, err := problem.New(opt.logger())
	if err != nil {
		return nil, nil, err
	}

	res := optimizer.Fit(init)
	if math.IsNaN(res.F) {
		return nil, nil, errors.New("envelope objective evaluation failed")
	}
	return res.Basis, res, nil
}
