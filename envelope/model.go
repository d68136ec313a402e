// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"io"
	"math"
	"os"

	"github.com/curioloop/envelope/grassmann"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultMaxIterations = 300
	defaultObjTolerance  = 1e-10
	defaultGradTolerance = 1e-7
)

// Options control the iterative stage of an envelope fit.
// The zero value of every field selects its default, so both a nil *Options
// and an empty one run the fit with the standard tolerances.
type Options struct {
	// The iteration stops when its count exceeds the limit (default 300).
	MaxIterations int
	// Relative objective decrease below which the fit converged (default 1e-10).
	ObjTolerance float64
	// Tangent gradient norm below which the fit converged (default 1e-7).
	GradTolerance float64
	// Verbose enables the optimizer iteration trace.
	Verbose bool
	// Log receives the trace when Verbose is set (default os.Stdout).
	Log io.Writer
}

// normalize fills defaults into a copy, accepting nil as all-defaults.
func (o *Options) normalize() Options {
	var opt Options
	if o != nil {
		opt = *o
	}
	if opt.MaxIterations <= 0 {
		opt.MaxIterations = defaultMaxIterations
	}
	if opt.ObjTolerance <= 0 {
		opt.ObjTolerance = defaultObjTolerance
	}
	if opt.GradTolerance <= 0 {
		opt.GradTolerance = defaultGradTolerance
	}
	if opt.Log == nil {
		opt.Log = os.Stdout
	}
	return opt
}

func (o Options) termination() grassmann.Termination {
	return grassmann.Termination{
		MaxIterations: o.MaxIterations,
		ObjTolerance:  o.ObjTolerance,
		GradTolerance: o.GradTolerance,
	}
}

func (o Options) logger() *grassmann.Logger {
	level := grassmann.LogNoop
	if o.Verbose {
		level = grassmann.LogTrace
	}
	return &grassmann.Logger{Level: level, Msg: o.Log, Out: o.Log}
}

// Model is a fitted response envelope. All fields are owned by the caller
// and never shared with later fits.
//
// The coordinate fields tied to the material part (Gamma, Eta, Omega) are nil
// when U = 0 and the ones tied to the immaterial part (Gamma0, Omega0) are
// nil when U = r.
type Model struct {
	U int // Envelope dimension.

	Beta  *mat.Dense    // Coefficient estimate Γ̂η̂ (r×p).
	Alpha *mat.VecDense // Intercept estimate Ȳ − β̂X̄.

	Gamma  *mat.Dense // Orthonormal basis of the envelope (r×u).
	Gamma0 *mat.Dense // Orthonormal basis of its complement (r×(r−u)).
	Eta    *mat.Dense // Envelope coordinates of Beta (u×p).

	Omega  *mat.SymDense // Material covariance coordinates Γ̂ᵀS_resΓ̂ (u×u).
	Omega0 *mat.SymDense // Immaterial coordinates Γ̂₀ᵀS_YΓ̂₀ ((r−u)×(r−u)).
	Sigma  *mat.SymDense // Reconstructed residual covariance (r×r).

	Loglik   float64 // Maximized log-likelihood.
	ParamNum int     // Effective parameter count of the model.

	Ratio *mat.Dense // Asymptotic efficiency ratios relative to OLS (r×p).
	AsySE *mat.Dense // Asymptotic standard errors of Beta (r×p, nil when U = 0).

	N          int  // Number of observations.
	Converged  bool // Whether the iterative stage converged.
	Iterations int  // Iterations spent by the iterative stage.
}

// MeanModel is a fitted mean envelope: the multivariate mean constrained to
// a u-dimensional reducing subspace of the covariance.
type MeanModel struct {
	U int // Envelope dimension.

	Mu *mat.VecDense // Mean estimate Γ̂Γ̂ᵀȲ.

	Gamma  *mat.Dense    // Orthonormal basis of the envelope (r×u).
	Gamma0 *mat.Dense    // Orthonormal basis of its complement (r×(r−u)).
	Eta    *mat.VecDense // Envelope coordinates of Mu (u).

	Omega  *mat.SymDense // Material covariance coordinates Γ̂ᵀS_YΓ̂ (u×u).
	Omega0 *mat.SymDense // Immaterial coordinates Γ̂₀ᵀS_Y⁰Γ̂₀ ((r−u)×(r−u)).
	Sigma  *mat.SymDense // Reconstructed covariance (r×r).

	Loglik   float64 // Maximized log-likelihood.
	ParamNum int     // Effective parameter count of the model.

	Ratio *mat.VecDense // Asymptotic efficiency ratios relative to the sample mean (r).
	AsySE *mat.VecDense // Asymptotic standard errors of Mu (r, nil when U = 0).

	N          int  // Number of observations.
	Converged  bool // Whether the iterative stage converged.
	Iterations int  // Iterations spent by the iterative stage.
}

// gaussConst is the data-free part of the Gaussian log-likelihood.
func gaussConst(n, r int) float64 {
	return -float64(n*r) / two * (one + math.Log(two*math.Pi))
}
