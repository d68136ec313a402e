// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grassmann

import (
	"errors"
	"math"
)

const (
	searchAlpha  = 1.0e-4
	searchShrink = 0.5
)

const (
	searchBackExit = 20
	searchBackSlow = 10
)

var errEvalPanic = errors.New("panic inside evaluation")

// Perform a backtracking line search along the tangent direction dₖ.
// Trial bases are produced by the retraction rₜ = 𝚚𝚏(rₖ + λdₖ) and the step λ
// keeps halving until the Armijo sufficient decrease condition holds:
//   f(rₜ) ≤ fₖ + ɑλ⟨𝚝𝚊𝚗 gₖ, dₖ⟩ (ɑ = 10⁻⁴)
// An evaluation fault rejects the trial exactly like an insufficient decrease.
func performSearchStep(loc *iterLoc, spec *iterSpec, ctx *iterCtx) errInfo {

	ctx.gd = frobInner(loc.tg, ctx.dir)
	if ctx.gd >= zero {
		// Line search is impossible when the directional derivative ≥ 0.
		if ctx.steepest {
			return errDerivative
		}
		return warnRestartLoop
	}

	initSearchStep(ctx)

	for ctx.numBack = 0; ctx.numBack < searchBackExit; ctx.numBack++ {
		retract(ctx.trial, loc.r, ctx.dir, ctx.stp, ctx.work)
		if f, err := evalTrial(spec, ctx); err == nil {
			if f <= loc.f+searchAlpha*ctx.stp*ctx.gd {
				ctx.fTrial = f
				ctx.stpNorm = ctx.stp * ctx.dNorm
				return ok
			}
		}
		ctx.stp *= searchShrink
	}

	if !ctx.steepest {
		return warnRestartLoop
	}
	return errLineSearchFailed
}

// initSearchStep picks the first trial step of the search.
// After the first iteration the step starts from twice the previous
// accepted step norm: λ₀ = 𝚖𝚒𝚗(1, 2‖λd‖ₒₗₔ/‖dₖ‖).
func initSearchStep(ctx *iterCtx) {
	if ctx.iter == 0 {
		ctx.stp = math.Min(one, one/ctx.dNorm)
	} else {
		ctx.stp = math.Min(one, two*ctx.stpNorm/ctx.dNorm)
	}
}

// evalTrial computes the objective at the trial basis without the gradient.
// A panic inside the evaluation rejects the trial like an explicit error.
func evalTrial(spec *iterSpec, ctx *iterCtx) (f float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errEvalPanic
		}
	}()
	f, err = spec.eval(ctx.trial, nil)
	ctx.numEval++
	return
}
