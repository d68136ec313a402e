// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grassmann

import (
	"gonum.org/v1/gonum/mat"
)

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0
)

// iterTask tracks the state of the iteration driver.
// The final value classifies the outcome of a fit.
type iterTask int

const (
	// iterLoop keep the iteration running.
	iterLoop iterTask = 0

	// ConvGradNorm the Frobenius norm of the tangent gradient is below tolerance.
	ConvGradNorm iterTask = 1 << iota
	// ConvSmallDecrease the relative reduction of the objective is below tolerance.
	ConvSmallDecrease
	// OverIterLimit the number of iterations exceeds the limit.
	OverIterLimit
	// HaltEvalFault the objective reported an error or panicked at an accepted basis.
	HaltEvalFault
	// StopAbnormalSearch the line search cannot locate an acceptable step.
	StopAbnormalSearch
)

const (
	iterConv = ConvGradNorm | ConvSmallDecrease
	iterStop = OverIterLimit | HaltEvalFault | StopAbnormalSearch
)

// errInfo carries diagnostics of numerical trouble inside one iteration.
type errInfo int

const (
	ok errInfo = iota
	// errDerivative the directional derivative at the search origin is not negative.
	errDerivative
	// errLineSearchFailed no acceptable step within the backtrack limit.
	errLineSearchFailed
	// warnRestartLoop the conjugate direction is rejected and the iteration restarts.
	warnRestartLoop
	// warnTooManySearch the last line search backtracked suspiciously often.
	warnTooManySearch
)

type iterSpec struct {
	// the ambient dimension.
	n int
	// the subspace dimension.
	k int
	// machine epsilon.
	epsilon float64
	// conjugate steps allowed between steepest-descent restarts.
	restartAfter int
	eval         Evaluation
	stop         Termination
	logger       Logger
}

type iterLoc struct {
	f  float64
	r  *mat.Dense // current basis: n×k semi-orthogonal
	g  *mat.Dense // ambient gradient at r
	tg *mat.Dense // tangent gradient at r
}

type iterCtx struct {
	// iteration counter.
	iter int
	// function and gradient evaluation counter.
	numEval int
	// backtrack counter of the last line search.
	numBack int
	// conjugate steps taken since the last steepest-descent restart.
	sinceRestart int
	// force the next direction to steepest descent.
	forceSD bool
	// the current direction is the steepest descent.
	steepest bool
	// directional derivative ⟨𝚝𝚊𝚗 g, d⟩ at the search origin.
	gd float64
	// accepted step length of the last search.
	stp float64
	// accepted step norm ‖λd‖ of the last search.
	stpNorm float64
	// direction norm ‖d‖ of the current search.
	dNorm float64
	// objective value at the previous iterate.
	fOld float64
	// objective value accepted by the last search.
	fTrial float64
	// Frobenius norm of the tangent gradient.
	tgNorm float64
	// squared norm of the tangent gradient at the previous iterate.
	gOldNorm2 float64
	// the search direction.
	dir *mat.Dense
	// the previous tangent gradient, transported on demand.
	tgOld *mat.Dense
	// the previous search direction, transported on demand.
	dirOld *mat.Dense
	// the candidate basis produced by the line search.
	trial *mat.Dense
	// n×k workspace for retraction and transport.
	work *mat.Dense
	// k×k workspace for basis products.
	kk *mat.Dense
}

func newIterCtx(n, k int) *iterCtx {
	return &iterCtx{
		dir:    mat.NewDense(n, k, nil),
		tgOld:  mat.NewDense(n, k, nil),
		dirOld: mat.NewDense(n, k, nil),
		trial:  mat.NewDense(n, k, nil),
		work:   mat.NewDense(n, k, nil),
		kk:     mat.NewDense(k, k, nil),
	}
}
