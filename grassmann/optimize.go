// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grassmann

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only one line at the last iteration
	LogLast LogLevel = 0
	// LogEval print also f and |tan g| every `level` iterations for any (0 < level < 99)
	LogEval LogLevel = 1
	// LogTrace print details of every iteration except basis matrices
	LogTrace LogLevel = 99
	// LogChange print also the final basis
	LogChange LogLevel = 100
	// LogVerbose print details of every iteration including the basis and gradient (level > 100)
	LogVerbose LogLevel = 101
)

// Logger handles logging output for the optimizer.
// Note the writers must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for output data.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

func (l *Logger) out(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Out, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Out, format)
	}
}

// Evaluation is a function type for evaluating the objective function and
// gradient at a semi-orthogonal n×k basis.
//
// The basis r must be treated as read-only and never retained. When grad is
// not nil, the ambient (Euclidean) gradient ∂𝒇/∂r is stored into it; the
// driver performs the tangent projection itself. A non-nil error marks the
// basis as numerically unacceptable: trial bases from the line search are
// rejected and the step shrinks, while a failure at an accepted basis halts
// the fit.
type Evaluation func(r *mat.Dense, grad *mat.Dense) (f float64, err error)

// Termination specifies the stopping criteria for the optimization algorithm.
type Termination struct {
	// The iteration stop when the number of iteration exceeds limit.
	MaxIterations int
	// The iteration will stop when the function value satisfied:
	//   (fₖ - fₖ₊₁)/𝚖𝚊𝚡(|fₖ|,|fₖ₊₁|,1) ≤ 𝚏𝚝𝚘𝚕
	ObjTolerance float64
	// The iteration will stop when the tangent gradient satisfied:
	//   ‖ 𝚝𝚊𝚗 gₖ ‖F ≤ 𝚐𝚝𝚘𝚕
	GradTolerance float64
}

// Problem specifies a minimization over the k-dimensional subspaces of ℝⁿ.
type Problem struct {
	N    int         // The ambient dimension
	K    int         // The subspace dimension
	Eval Evaluation  // Objective function and gradient
	Stop Termination // Stop condition
}

// New creates a new Grassmann CG optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}
	if logger.Out == nil {
		logger.Out = os.Stderr
	}

	n, k := p.N, p.K
	eval, stop := p.Eval, p.Stop

	switch {
	case n <= 0:
		err = errors.New("ambient dimension must greater than 0")
	case k <= 0 || k >= n:
		err = errors.New("subspace dimension must lie in (0, n)")
	case eval == nil:
		err = errors.New("evaluation target is required")
	case stop.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 1")
	case math.IsNaN(stop.ObjTolerance) || stop.ObjTolerance < zero:
		err = errors.New("objective tolerance must not less than 0")
	case math.IsNaN(stop.GradTolerance) || stop.GradTolerance < zero:
		err = errors.New("gradient tolerance must not less than 0")
	}

	if err != nil {
		return
	}

	epsilon := math.Nextafter(1, 2) - 1
	optimizer = &Optimizer{
		iterSpec{
			n: n, k: k,
			epsilon:      epsilon,
			restartAfter: 6 * k * (n - k),
			eval:         eval,
			stop:         stop,
			logger:       *logger,
		},
	}
	return
}

// Optimizer implemented using conjugate gradient iteration on the Grassmann manifold.
// All mutable state is allocated per Fit call, so one optimizer may be shared
// between goroutines.
type Optimizer struct {
	iterSpec
}

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool       // Whether the optimization was converged.
	F       float64    // Final function value.
	Basis   *mat.Dense // Semi-orthogonal representative of the final subspace.
	Summary            // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status  iterTask // Final task status after optimization.
	NumIter int      // Number of iterations performed.
	NumEval int      // Number of function and gradient evaluations performed.
}

// Fit runs the optimization process from the initial basis.
// Any full column rank matrix works as a starting point: the initial basis is
// orthonormalized before the first evaluation. When the iteration stops
// without convergence the best basis reached so far is still returned.
func (o *Optimizer) Fit(init mat.Matrix) *Result {

	if r, c := init.Dims(); r != o.n || c != o.k {
		panic("initial basis dimension not match spec")
	}

	loc := &iterLoc{
		f:  math.NaN(),
		r:  mat.DenseCopyOf(init),
		g:  mat.NewDense(o.n, o.k, nil),
		tg: mat.NewDense(o.n, o.k, nil),
	}
	qf(loc.r, loc.r)

	driver := iterDriver{
		optimizer: o,
		location:  loc,
		ctx:       newIterCtx(o.n, o.k),
	}

	res := driver.mainLoop()
	return &Result{
		OK:    res&iterConv > 0,
		F:     loc.f,
		Basis: loc.r,
		Summary: Summary{
			Status:  res,
			NumIter: driver.ctx.iter,
			NumEval: driver.ctx.numEval,
		},
	}
}
