// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grassmann

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// iterDriver minimize a smooth function 𝒇 over the Grassmann manifold 𝓖(n,k),
// the set of all k-dimensional subspaces of ℝⁿ.
//
// A subspace is represented by a semi-orthogonal basis 𝐑 (𝐑ᵀ𝐑 = 𝐈ₖ) and the
// objective must be rotation invariant: 𝒇(𝐑𝐐) = 𝒇(𝐑) for any orthogonal 𝐐,
// so that 𝒇 is a well-defined function of the subspace 𝚜𝚙𝚊𝚗(𝐑) alone.
//
// # Tangent projection
//
// The Euclidean gradient 𝐠 = 𝜵𝒇(𝐑) is not a feasible moving direction on the
// manifold. Its projection onto the tangent space at 𝐑 removes the component
// that only rotates the basis without changing the subspace:
//
//	𝚝𝚊𝚗 𝐠 = 𝐠 - 𝐑(𝐑ᵀ𝐠)
//
// Stationary subspaces are characterized by ‖𝚝𝚊𝚗 𝐠‖F = 0.
//
// # Retraction
//
// A step along a tangent direction 𝐃 leaves the manifold. The QR-based
// retraction maps the stepped point back onto it:
//
//	𝐑(λ) = 𝚚𝚏(𝐑 + λ𝐃)
//
// where 𝚚𝚏(·) is the Q factor of the thin QR decomposition whose R factor
// carries a non-negative diagonal.
//
// # Conjugate direction
//
// The Polak-Ribière(+) rule combines the current tangent gradient with the
// previous search direction. Tangent vectors at different iterates live in
// different tangent spaces, so the previous quantities are first transported
// to the current basis by projection:
//
//	𝚃𝐯 = 𝐯 - 𝐑(𝐑ᵀ𝐯)
//	β = 𝚖𝚊𝚡[0, (⟨𝐠,𝐠⟩ - ⟨𝐠,𝚃𝐠ₒₗₔ⟩)/⟨𝐠ₒₗₔ,𝐠ₒₗₔ⟩]  (𝐠 ≡ 𝚝𝚊𝚗 𝐠)
//	𝐃 = -𝐠 + β𝚃𝐃ₒₗₔ
//
// β = 0 restarts the iteration from the steepest descent -𝐠, which also
// happens after 6k(n-k) conjugate steps or whenever the conjugate direction
// fails to produce descent.
//
// # Line search
//
// The step length λ is determined by backtracking until the Armijo sufficient
// decrease condition holds:
//
//	𝒇(𝚚𝚏(𝐑 + λ𝐃)) ≤ 𝒇(𝐑) + ɑλ⟨𝚝𝚊𝚗 𝐠, 𝐃⟩ (ɑ = 10⁻⁴)
//
// # Reference
//
// Alan Edelman, Tomás A. Arias, Steven T. Smith:
// "The geometry of algorithms with orthogonality constraints".
// SIAM J. Matrix Anal. Appl. 20(2), 1998
//
// P.-A. Absil, R. Mahony, R. Sepulchre:
// "Optimization algorithms on matrix manifolds".
// Princeton University Press, 2008
type iterDriver struct {
	optimizer *Optimizer
	location  *iterLoc
	ctx       *iterCtx
}

// nextLocation evaluates the objective and gradient at the current basis and
// projects the gradient onto the tangent space.
func (d *iterDriver) nextLocation(iter iterTask) iterTask {
	o, loc, ctx := d.optimizer, d.location, d.ctx
	func() {
		defer func() {
			if r := recover(); r != nil {
				iter = HaltEvalFault
			}
		}()
		f, err := o.eval(loc.r, loc.g)
		if err != nil {
			iter = HaltEvalFault
			return
		}
		loc.f = f
		ctx.numEval++
	}()
	if iter == iterLoop {
		tangent(loc.tg, loc.r, loc.g, ctx.kk)
		ctx.tgNorm = frobNorm(loc.tg)
	}
	return iter
}

// newIteration handles the transition to a new iteration,
// checking for the iteration limit.
func (d *iterDriver) newIteration(iter iterTask) iterTask {
	o, ctx := d.optimizer, d.ctx
	ctx.iter++
	if ctx.iter > o.stop.MaxIterations {
		iter = OverIterLimit
	}
	return iter
}

// checkConvergence checks if the convergence criteria have been met based on
// the tangent gradient norm and the progress in function value reduction.
func (d *iterDriver) checkConvergence(iter iterTask) iterTask {
	o, loc, ctx := d.optimizer, d.location, d.ctx
	if ctx.tgNorm <= o.stop.GradTolerance {
		iter = ConvGradNorm
	} else if ctx.iter > 0 {
		change := math.Max(math.Abs(ctx.fOld), math.Max(math.Abs(loc.f), one))
		if ctx.fOld-loc.f <= o.stop.ObjTolerance*change {
			iter = ConvSmallDecrease
		}
	}
	return iter
}

// mainLoop is the main execution loop of the iteration process, performing
// multiple operations including checking convergence, performing line searches,
// and updating conjugate directions. It controls the iteration flow.
func (d *iterDriver) mainLoop() (task iterTask) {

	loc := d.location
	spec := &d.optimizer.iterSpec
	ctx := d.ctx

	log := spec.logger

	d.printInit()

	// Calculate f₀ and g₀
	if task = d.nextLocation(iterLoop); task == iterLoop {
		task = d.checkConvergence(task)
		if log.enable(LogEval) {
			log.log("At iterate %5d    f= %12.5e    |tan g|= %12.5e\n", ctx.iter, loc.f, ctx.tgNorm)
			log.out(" %4d %4d    -       -       -   %10.3e %10.3e\n", ctx.iter, ctx.numEval, ctx.tgNorm, loc.f)
		}
	}

	info := ok
	for task == iterLoop {

		if info != ok {
			info = ok
			ctx.forceSD = true
			if log.enable(LogLast) {
				log.log("Restarting iteration from steepest descent.\n")
			}
		}

		if log.enable(LogTrace) {
			log.log("\n\nITERATION %5d\n", ctx.iter+1)
		}

		d.nextDirection()
		if info = d.searchOptimalStep(&task); info != ok {
			continue
		}

		// Move to the accepted basis and evaluate the new gradient.
		d.acceptTrial()
		if task = d.nextLocation(task); task&iterStop > 0 {
			continue
		}

		task = d.newIteration(task)
		task = d.checkConvergence(task)

		// Print iteration information
		d.printIter()

		if task&ConvSmallDecrease > 0 && ctx.numBack >= searchBackSlow {
			info = warnTooManySearch
		}
	}

	d.printExit(task, info)
	return
}

// nextDirection forms the search direction for the current iteration, either
// the steepest descent -𝚝𝚊𝚗 g or its Polak-Ribière(+) conjugate combination
// with the transported previous direction.
func (d *iterDriver) nextDirection() {

	loc := d.location
	spec := &d.optimizer.iterSpec
	ctx := d.ctx

	restart := ctx.forceSD || ctx.iter == 0 || ctx.sinceRestart >= spec.restartAfter
	ctx.forceSD = false

	if !restart {
		// Transport the previous tangent vectors to the current basis.
		transport(ctx.tgOld, loc.r, ctx.kk, ctx.work)
		transport(ctx.dirOld, loc.r, ctx.kk, ctx.work)

		gNorm2 := ctx.tgNorm * ctx.tgNorm
		beta := (gNorm2 - frobInner(loc.tg, ctx.tgOld)) / ctx.gOldNorm2
		if beta > zero {
			ctx.dir.Scale(beta, ctx.dirOld)
			ctx.dir.Sub(ctx.dir, loc.tg)
			ctx.steepest = false
			ctx.sinceRestart++
		} else {
			// PR+ cutoff: fall back to the steepest descent.
			restart = true
		}
	}

	if restart {
		ctx.dir.Scale(-one, loc.tg)
		ctx.steepest = true
		ctx.sinceRestart = 0
	}

	ctx.dNorm = frobNorm(ctx.dir)
}

// searchOptimalStep calculates the optimal step size (λₖ) for the current iteration,
// using backtracking line search to determine the next basis in the optimization process.
func (d *iterDriver) searchOptimalStep(task *iterTask) (info errInfo) {

	loc := d.location
	spec := &d.optimizer.iterSpec
	ctx := d.ctx

	if info = performSearchStep(loc, spec, ctx); info != ok && info != warnRestartLoop {
		*task = StopAbnormalSearch
		ctx.iter++
	}

	if log := spec.logger; log.enable(LogLast) && info != ok {
		switch info {
		case errDerivative:
			log.log("Ascent direction in search gd = %f\n", ctx.gd)
		case warnRestartLoop:
			log.log("Bad direction in the line search;\n")
		}
	}
	return
}

// acceptTrial moves the iterate to the basis accepted by the line search and
// saves the quantities of the leaving iterate for the next conjugate update.
func (d *iterDriver) acceptTrial() {
	loc, ctx := d.location, d.ctx
	ctx.fOld = loc.f
	ctx.gOldNorm2 = ctx.tgNorm * ctx.tgNorm
	ctx.tgOld.Copy(loc.tg)
	ctx.dirOld.Copy(ctx.dir)
	loc.f = ctx.fTrial
	loc.r.Copy(ctx.trial)
}

// printInit logs the initialization details of the optimization process,
// including machine precision and problem dimensions.
func (d *iterDriver) printInit() {

	spec := &d.optimizer.iterSpec

	log := spec.logger

	if log.enable(LogLast) {
		log.log("RUNNING THE GRASSMANN CG CODE\n")
		log.log("           * * *\n")
		log.log("Machine precision = %10.3e\n", spec.epsilon)
		log.log("N = %d    K = %d\n", spec.n, spec.k)

		if log.enable(LogEval) {
			log.out("RUNNING THE GRASSMANN CG CODE\n\n")
			log.out("Machine precision = %10.3e\n", spec.epsilon)
			log.out("N = %d    K = %d\n", spec.n, spec.k)
			log.out("\n   it   nf   itls   stepl    tstep     tang        f\n")
		}
	}
}

// printIter logs the current iteration details, including the function value,
// gradient norm, and other iteration statistics.
func (d *iterDriver) printIter() {

	loc := d.location
	spec := &d.optimizer.iterSpec
	ctx := d.ctx

	log := spec.logger

	if log.enable(LogTrace) {
		log.log("LINE SEARCH %d times; norm of step = %12.5e\n", ctx.numBack, ctx.stpNorm)
		log.log("At iterate %5d    f= %12.5e    |tan g|= %12.5e\n", ctx.iter, loc.f, ctx.tgNorm)
		if log.enable(LogVerbose) {
			log.log("\n R = %v\n", mat.Formatted(loc.r, mat.Prefix("     "), mat.Squeeze()))
			log.log("\n G = %v\n", mat.Formatted(loc.tg, mat.Prefix("     "), mat.Squeeze()))
		}
	} else if log.enable(LogEval) {
		if ctx.iter%int(log.Level) == 0 {
			log.log("At iterate %5d    f= %12.5e    |tan g|= %12.5e\n", ctx.iter, loc.f, ctx.tgNorm)
		}
	}

	if log.enable(LogEval) {
		log.out("%4d %5d %4d %7.1e %7.1e %10.3e %10.3e\n",
			ctx.iter, ctx.numEval, ctx.numBack, ctx.stp, ctx.stpNorm, ctx.tgNorm, loc.f)
	}
}

// printExit logs the final statistics and exit conditions of the optimization process.
func (d *iterDriver) printExit(task iterTask, info errInfo) {

	loc := d.location
	spec := &d.optimizer.iterSpec
	ctx := d.ctx

	log := spec.logger
	if !log.enable(LogLast) {
		return
	}

	log.log("\n           * * *\n")
	log.log("Tit  = total number of iterations\n")
	log.log("Tnf  = total number of function evaluations\n")
	log.log("Tang = norm of the final tangent gradient\n")
	log.log("F    = final function value\n")
	log.log("\n           * * *\n")
	log.log("\n   N    K    Tit    Tnf    Tang         F\n")
	log.log("%5d %4d %6d %6d %6.2e %9.5e\n",
		spec.n, spec.k, ctx.iter, ctx.numEval, ctx.tgNorm, loc.f)

	if log.enable(LogChange) {
		log.log("\n R = %v\n", mat.Formatted(loc.r, mat.Prefix("     "), mat.Squeeze()))
	}

	if log.enable(LogEval) {
		log.log(" F = %.9e\n", loc.f)
	}

	var msg string
	switch task {
	case ConvGradNorm:
		msg = "CONVERGENCE: NORM_OF_TANGENT_GRADIENT_<=_GTOL"
	case ConvSmallDecrease:
		msg = "CONVERGENCE: REL_REDUCTION_OF_F_<=_FTOL"
	case StopAbnormalSearch:
		msg = "ABNORMAL_TERMINATION_IN_LNSRCH"
	case HaltEvalFault:
		msg = "STOP: EVALUATION REQUESTED HALT"
	case OverIterLimit:
		msg = "STOP: TOTAL NO. of ITERATIONS REACHED LIMIT"
	default:
		msg = "UNKNOWN TASK"
	}
	log.log("\n%s\n", msg)

	if info != ok {
		switch info {
		case errDerivative:
			log.log("\n Derivative >= 0, backtracking line search impossible.\n")
			log.log(" Possible causes: 1 error in function or gradient evaluation;\n")
			log.log("                  2 rounding errors dominate computation.\n")
		case warnTooManySearch:
			log.log("\n Warning:  more than 10 function evaluations in the last line search.\n")
			log.log("   Termination may possibly be caused by a bad search direction.\n")
		case errLineSearchFailed:
			log.log("\n Line search cannot locate an adequate point after 20 function evaluations.\n")
			log.log(" Possible causes: 1 error in function or gradient evaluation;\n")
			log.log("                  2 rounding error dominate computation.\n")
		}
	}
}
