package numdiff

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

// Approx represents a numerical differentiation algorithm to estimate the gradient
// of a scalar function with a matrix argument.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
//
// # License
//
//   - https://github.com/scipy/scipy/blob/main/LICENSE.txt
type Approx struct {
	// Function of which to estimate the derivatives.
	// The argument passed to this function must not be retained.
	Object func(x mat.Matrix) float64
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute absolute step size.
	// The default absolute step size is computed as h = RelStep * sign(x0) * max(1, abs(x0)) with RelStep being selected automatically.
	// Otherwise, absolute step size is computed as h = RelStep * sign(x0) * abs(x0) when RelStep is provided.
	RelStep float64
	// Absolute step size to use.
	// The RelStep is used when AbsStep is not provide.
	// For Central method the sign of AbsStep is ignored.
	AbsStep float64
}

// Gradient calculates the approximation of ∂𝒇/∂x at x0 by finite differences.
// The result is stored into dst whose shape must match x0.
func (as *Approx) Gradient(dst *mat.Dense, x0 mat.Matrix) error {

	switch {
	case as.Object == nil:
		return errors.New("object function is required")
	case as.Method != Forward && as.Method != Central:
		return errors.New("unknown method")
	}

	n, m := x0.Dims()
	if dn, dm := dst.Dims(); dn != n || dm != m {
		return errors.New("invalid dst dimensions")
	}

	x := mat.DenseCopyOf(x0)
	if as.Method == Central {
		as.approxCentral(x, dst)
	} else {
		as.approxForward(x, dst)
	}
	return nil
}

// step computes the absolute step size for one entry,
// guarding against steps that vanish in floating point.
func (as *Approx) step(v float64) float64 {

	var eps float64
	switch as.Method {
	case Forward:
		eps = sqrtEps
	case Central:
		eps = cubeEps
	default:
		panic("unknown method")
	}

	s := as.AbsStep
	if s == 0 && as.RelStep != 0 {
		s = math.Copysign(as.RelStep, v) * math.Abs(v)
	}
	if s == 0 || (v+s)-v == 0 {
		s = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
	}
	if as.Method == Central {
		s = math.Abs(s)
	}
	return s
}

func (as *Approx) approxForward(x, df *mat.Dense) {

	n, m := x.Dims()
	fun := as.Object

	f0 := fun(x)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			v := x.At(i, j)
			s := as.step(v)
			x.Set(i, j, v+s)
			fx := fun(x)
			df.Set(i, j, (fx-f0)/s)
			x.Set(i, j, v)
		}
	}
}

func (as *Approx) approxCentral(x, df *mat.Dense) {

	n, m := x.Dims()
	fun := as.Object

	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			v := x.At(i, j)
			s := as.step(v)
			x.Set(i, j, v-s)
			f1 := fun(x)
			x.Set(i, j, v+s)
			f2 := fun(x)
			df.Set(i, j, (f2-f1)/(2*s))
			x.Set(i, j, v)
		}
	}
}
