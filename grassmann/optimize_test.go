// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grassmann

import (
	"bytes"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// rayleighEval builds the Rayleigh quotient trace objective for a diagonal
// matrix: f(R) = 𝚝𝚛(RᵀAR), ∂f/∂R = 2AR. The minimum over k-dim subspaces is
// the sum of the k smallest diagonal entries.
func rayleighEval(diag []float64) Evaluation {
	return func(r *mat.Dense, grad *mat.Dense) (float64, error) {
		n, k := r.Dims()
		var f float64
		for i := 0; i < n; i++ {
			for j := 0; j < k; j++ {
				v := r.At(i, j)
				f += diag[i] * v * v
				if grad != nil {
					grad.Set(i, j, 2*diag[i]*v)
				}
			}
		}
		return f, nil
	}
}

// rayleighInit mixes the two leading coordinate directions with a small
// component along higher ones, so the start is close to the optimum but
// clear of any saddle.
func rayleighInit() *mat.Dense {
	s := 1 / math.Sqrt(1.01)
	init := mat.NewDense(6, 2, nil)
	init.Set(0, 0, s)
	init.Set(2, 0, 0.1*s)
	init.Set(1, 1, s)
	init.Set(4, 1, 0.1*s)
	return init
}

func devNull() *os.File {
	f, _ := os.Open(os.DevNull)
	return f
}

func TestRayleigh(t *testing.T) {

	diag := []float64{-5, -4, -2, -1, 1, 3}

	stop := Termination{
		MaxIterations: 300,
		ObjTolerance:  1e-12,
		GradTolerance: 1e-7,
	}

	f := devNull()
	logger := &Logger{
		Level: LogVerbose,
		Msg:   f,
		Out:   f,
	}

	p := Problem{
		N: 6, K: 2,
		Eval: rayleighEval(diag),
		Stop: stop,
	}
	s, e := p.New(logger)
	if e != nil {
		panic(e)
	}

	r := s.Fit(rayleighInit())

	switch {
	case !r.OK:
		t.Fatal("TestRayleigh: Not Converge")
	case math.Abs(r.F-(-9)) > 1e-5:
		t.Fatal("TestRayleigh: Object Too Large")
	case r.NumIter < 1 || r.NumEval < r.NumIter:
		t.Fatal("TestRayleigh: Broken Counters")
	}

	// The minimizer spans the two leading coordinate directions.
	var proj mat.Dense
	proj.Mul(r.Basis, r.Basis.T())
	want := mat.NewDense(6, 6, nil)
	want.Set(0, 0, one)
	want.Set(1, 1, one)
	if !mat.EqualApprox(&proj, want, 1e-3) {
		t.Fatal("TestRayleigh: Wrong Subspace")
	}
}

func TestReducingSubspace(t *testing.T) {

	const n, k = 5, 2

	a := mat.NewDiagDense(n, []float64{1, 2, 4, 8, 16})
	ainv := mat.NewDiagDense(n, []float64{1, 0.5, 0.25, 0.125, 0.0625})

	// f(R) = log|RᵀAR| + log|RᵀA⁻¹R| is non-negative and vanishes exactly on
	// the subspaces spanned by eigenvectors of A.
	eval := func(r *mat.Dense, grad *mat.Dense) (float64, error) {
		var ar, br, m1, m2 mat.Dense
		ar.Mul(a, r)
		br.Mul(ainv, r)
		m1.Mul(r.T(), &ar)
		m2.Mul(r.T(), &br)

		d1, s1 := mat.LogDet(&m1)
		d2, s2 := mat.LogDet(&m2)
		if s1 <= 0 || s2 <= 0 {
			return 0, errors.New("indefinite compression")
		}
		if grad != nil {
			var i1, i2, g1, g2 mat.Dense
			if err := i1.Inverse(&m1); err != nil {
				return 0, err
			}
			if err := i2.Inverse(&m2); err != nil {
				return 0, err
			}
			g1.Mul(&ar, &i1)
			g2.Mul(&br, &i2)
			grad.Add(&g1, &g2)
			grad.Scale(2, grad)
		}
		return d1 + d2, nil
	}

	stop := Termination{
		MaxIterations: 300,
		ObjTolerance:  1e-12,
		GradTolerance: 1e-7,
	}

	f := devNull()
	logger := &Logger{
		Level: LogVerbose,
		Msg:   f,
		Out:   f,
	}

	p := Problem{
		N: n, K: k,
		Eval: eval,
		Stop: stop,
	}
	s, e := p.New(logger)
	if e != nil {
		panic(e)
	}

	r := s.Fit(randomBasis(n, k, 11))

	switch {
	case !r.OK:
		t.Fatal("TestReducingSubspace: Not Converge")
	case math.Abs(r.F) > 1e-6:
		t.Fatal("TestReducingSubspace: Object Too Large")
	}

	// The limit must reduce A: the projector commutes with it.
	var proj, ap, pa mat.Dense
	proj.Mul(r.Basis, r.Basis.T())
	ap.Mul(a, &proj)
	pa.Mul(&proj, a)
	ap.Sub(&ap, &pa)
	if mat.Norm(&ap, 2) > 1e-3 {
		t.Fatal("TestReducingSubspace: Not A Reducing Subspace")
	}
}

func TestProblemValidation(t *testing.T) {

	eval := func(r *mat.Dense, g *mat.Dense) (float64, error) { return 0, nil }
	stop := Termination{
		MaxIterations: 10,
		ObjTolerance:  1e-10,
		GradTolerance: 1e-7,
	}

	tests := []struct {
		name string
		p    Problem
	}{
		{"ambient dim", Problem{N: 0, K: 1, Eval: eval, Stop: stop}},
		{"subspace low", Problem{N: 3, K: 0, Eval: eval, Stop: stop}},
		{"subspace high", Problem{N: 3, K: 3, Eval: eval, Stop: stop}},
		{"missing eval", Problem{N: 3, K: 1, Stop: stop}},
		{"iter limit", Problem{N: 3, K: 1, Eval: eval, Stop: Termination{ObjTolerance: 1e-10, GradTolerance: 1e-7}}},
		{"obj tol", Problem{N: 3, K: 1, Eval: eval, Stop: Termination{MaxIterations: 10, ObjTolerance: -1, GradTolerance: 1e-7}}},
		{"grad tol", Problem{N: 3, K: 1, Eval: eval, Stop: Termination{MaxIterations: 10, ObjTolerance: 1e-10, GradTolerance: math.NaN()}}},
	}

	for _, tt := range tests {
		if _, err := tt.p.New(nil); err == nil {
			t.Fatalf("TestProblemValidation: %s accepted", tt.name)
		}
	}

	if _, err := (&Problem{N: 3, K: 1, Eval: eval, Stop: stop}).New(nil); err != nil {
		t.Fatal("TestProblemValidation: Valid Spec Rejected")
	}
}

func TestInitDimension(t *testing.T) {

	p := Problem{
		N: 3, K: 1,
		Eval: rayleighEval([]float64{1, 2, 3}),
		Stop: Termination{MaxIterations: 10, ObjTolerance: 1e-10, GradTolerance: 1e-7},
	}
	s, e := p.New(nil)
	if e != nil {
		panic(e)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("TestInitDimension: No Panic")
		}
	}()
	s.Fit(mat.NewDense(2, 1, nil))
}

func TestBestEffort(t *testing.T) {

	diag := []float64{-5, -4, -2, -1, 1, 3}
	eval := rayleighEval(diag)

	p := Problem{
		N: 6, K: 2,
		Eval: eval,
		Stop: Termination{MaxIterations: 1, ObjTolerance: 1e-12, GradTolerance: 1e-7},
	}
	s, e := p.New(nil)
	if e != nil {
		panic(e)
	}

	init := rayleighInit()
	f0, _ := eval(init, nil)
	r := s.Fit(init)

	switch {
	case r.OK:
		t.Fatal("TestBestEffort: Unexpected Convergence")
	case r.Status != OverIterLimit:
		t.Fatal("TestBestEffort: Wrong Status")
	case math.IsNaN(r.F) || r.F >= f0:
		t.Fatal("TestBestEffort: No Progress")
	}
}

func TestEvalFault(t *testing.T) {

	stop := Termination{MaxIterations: 50, ObjTolerance: 1e-12, GradTolerance: 1e-7}
	init := rayleighInit()

	// An error at the very first evaluation leaves no usable value.
	bad := Problem{
		N: 6, K: 2,
		Eval: func(r *mat.Dense, g *mat.Dense) (float64, error) { return 0, errors.New("bad moments") },
		Stop: stop,
	}
	s, e := bad.New(nil)
	if e != nil {
		panic(e)
	}
	r := s.Fit(init)
	switch {
	case r.OK:
		t.Fatal("TestEvalFault: Error Not Halted")
	case r.Status != HaltEvalFault:
		t.Fatal("TestEvalFault: Wrong Error Status")
	case !math.IsNaN(r.F):
		t.Fatal("TestEvalFault: Ghost Value")
	}

	// A panic is captured like an error.
	boom := Problem{
		N: 6, K: 2,
		Eval: func(r *mat.Dense, g *mat.Dense) (float64, error) { panic("boom") },
		Stop: stop,
	}
	s, e = boom.New(nil)
	if e != nil {
		panic(e)
	}
	r = s.Fit(init)
	switch {
	case r.OK:
		t.Fatal("TestEvalFault: Panic Not Halted")
	case r.Status != HaltEvalFault:
		t.Fatal("TestEvalFault: Wrong Panic Status")
	case !math.IsNaN(r.F):
		t.Fatal("TestEvalFault: Ghost Value")
	}

	// A fault at a later iterate keeps the best basis reached so far.
	diag := []float64{-5, -4, -2, -1, 1, 3}
	eval := rayleighEval(diag)
	gradCalls := 0
	flaky := Problem{
		N: 6, K: 2,
		Eval: func(r *mat.Dense, g *mat.Dense) (float64, error) {
			if g != nil {
				if gradCalls++; gradCalls > 2 {
					return 0, errors.New("gradient fault")
				}
			}
			return eval(r, g)
		},
		Stop: stop,
	}
	s, e = flaky.New(nil)
	if e != nil {
		panic(e)
	}
	f0, _ := eval(init, nil)
	r = s.Fit(init)
	switch {
	case r.OK:
		t.Fatal("TestEvalFault: Late Fault Not Halted")
	case r.Status != HaltEvalFault:
		t.Fatal("TestEvalFault: Wrong Late Status")
	case math.IsNaN(r.F) || r.F >= f0:
		t.Fatal("TestEvalFault: Progress Lost")
	}
}

func TestLogging(t *testing.T) {

	var msg, out bytes.Buffer
	logger := &Logger{Level: LogVerbose, Msg: &msg, Out: &out}

	p := Problem{
		N: 6, K: 2,
		Eval: rayleighEval([]float64{-5, -4, -2, -1, 1, 3}),
		Stop: Termination{MaxIterations: 300, ObjTolerance: 1e-12, GradTolerance: 1e-7},
	}
	s, e := p.New(logger)
	if e != nil {
		panic(e)
	}
	s.Fit(rayleighInit())

	switch {
	case !strings.Contains(msg.String(), "RUNNING THE GRASSMANN CG CODE"):
		t.Fatal("TestLogging: Missing Banner")
	case !strings.Contains(msg.String(), "CONVERGENCE"):
		t.Fatal("TestLogging: Missing Exit Message")
	case out.Len() == 0:
		t.Fatal("TestLogging: Missing Trace Output")
	}
}
