// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Selection reports a dimension scan: the chosen envelope dimension and the
// criterion value recorded for each candidate. A sequential scan leaves the
// dimensions it never reached as NaN.
type Selection struct {
	U      int       // Selected envelope dimension.
	Values []float64 // Criterion value per dimension 0..r.
}

// fitness is the part of a fitted model a selection criterion consumes.
type fitness struct {
	loglik   float64
	paramNum int
}

// scanCriterion fits every candidate dimension and keeps the score argmin.
// Ties keep the smaller dimension. A fit failure at any dimension aborts the
// whole scan.
func scanCriterion(dims int, fitAt func(u int) (fitness, error), score func(f fitness) float64) (*Selection, error) {
	sel := &Selection{Values: make([]float64, dims+1)}
	best := math.Inf(1)
	for u := 0; u <= dims; u++ {
		f, err := fitAt(u)
		if err != nil {
			return nil, err
		}
		v := score(f)
		sel.Values[u] = v
		if v < best {
			best = v
			sel.U = u
		}
	}
	return sel, nil
}

func bicScore(n int) func(fitness) float64 {
	return func(f fitness) float64 {
		return -two*f.loglik + math.Log(float64(n))*float64(f.paramNum)
	}
}

func aicScore(f fitness) float64 {
	return -two*f.loglik + two*float64(f.paramNum)
}

// regressionScan builds the per-dimension refit closure of one shared moment
// bundle, so a whole scan pays the moment pass once.
func regressionScan(x, y mat.Matrix, opts *Options) (*moments, func(u int) (fitness, error), error) {
	if err := checkRegression(x, y, 0); err != nil {
		return nil, nil, err
	}
	m, err := newMoments(x, y)
	if err != nil {
		return nil, nil, err
	}
	opt := opts.normalize()
	return m, func(u int) (fitness, error) {
		model, err := fitMoments(m, u, opt)
		if err != nil {
			return fitness{}, err
		}
		return fitness{loglik: model.Loglik, paramNum: model.ParamNum}, nil
	}, nil
}

// SelectBIC chooses the response envelope dimension minimizing the Bayesian
// information criterion −2·𝚕𝚘𝚐𝚕𝚒𝚔 + 𝚕𝚘𝚐(𝑛)·𝚙𝚊𝚛𝚊𝚖𝙽𝚞𝚖 over u = 0..r.
func SelectBIC(x, y mat.Matrix, opts *Options) (*Selection, error) {
	m, fitAt, err := regressionScan(x, y, opts)
	if err != nil {
		return nil, err
	}
	return scanCriterion(m.r, fitAt, bicScore(m.n))
}

// SelectAIC chooses the response envelope dimension minimizing the Akaike
// information criterion −2·𝚕𝚘𝚐𝚕𝚒𝚔 + 2·𝚙𝚊𝚛𝚊𝚖𝙽𝚞𝚖 over u = 0..r.
func SelectAIC(x, y mat.Matrix, opts *Options) (*Selection, error) {
	m, fitAt, err := regressionScan(x, y, opts)
	if err != nil {
		return nil, err
	}
	return scanCriterion(m.r, fitAt, aicScore)
}

// SelectLRT chooses the response envelope dimension by sequential likelihood
// ratio tests of the candidate against the saturated model u = r. Starting
// from u = 0, the first dimension whose test statistic
//
//	Λ(u) = 2·(𝚕𝚘𝚐𝚕𝚒𝚔(r) − 𝚕𝚘𝚐𝚕𝚒𝚔(u)) ~ χ²((r−u)·p)
//
// is not rejected at level alpha wins; when every test rejects the scan
// settles on u = r. Values holds the per-dimension p-values, NaN where the
// scan stopped early.
func SelectLRT(x, y mat.Matrix, alpha float64, opts *Options) (*Selection, error) {
	if math.IsNaN(alpha) || alpha <= 0 || alpha >= 1 {
		return nil, errors.New("significance level must lie in (0, 1)")
	}
	m, fitAt, err := regressionScan(x, y, opts)
	if err != nil {
		return nil, err
	}

	full, err := fitAt(m.r)
	if err != nil {
		return nil, err
	}

	sel := &Selection{U: m.r, Values: make([]float64, m.r+1)}
	for u := range sel.Values {
		sel.Values[u] = math.NaN()
	}

	for u := 0; u < m.r; u++ {
		f, err := fitAt(u)
		if err != nil {
			return nil, err
		}
		stat := two * (full.loglik - f.loglik)
		df := full.paramNum - f.paramNum
		pv := distuv.ChiSquared{K: float64(df)}.Survival(stat)
		sel.Values[u] = pv
		if pv > alpha {
			sel.U = u
			break
		}
	}
	return sel, nil
}

// SelectMeanBIC chooses the mean envelope dimension minimizing BIC over
// u = 0..r.
func SelectMeanBIC(y mat.Matrix, opts *Options) (*Selection, error) {
	if err := checkResponse(y, 0); err != nil {
		return nil, err
	}
	m := newMeanMoments(y)
	opt := opts.normalize()
	return scanCriterion(m.r, func(u int) (fitness, error) {
		model, err := fitMeanMoments(m, u, opt)
		if err != nil {
			return fitness{}, err
		}
		return fitness{loglik: model.Loglik, paramNum: model.ParamNum}, nil
	}, bicScore(m.n))
}
