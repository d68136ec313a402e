// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package envelope

import (
	"errors"
	"math"
	"runtime"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// CVResult reports a cross-validation dimension scan.
type CVResult struct {
	U      int       // Selected envelope dimension.
	PreErr []float64 // Root mean squared prediction error per dimension 0..r.
}

// CrossValidate chooses the response envelope dimension by k-fold prediction
// error, averaged over perms random permutations of the rows. Every
// (dimension, permutation, fold) cell refits the model on the training rows
// and scores ŷ = α̂ + β̂𝑥 on the held-out ones, giving
//
//	𝙿𝚛𝚎𝙴𝚛𝚛(u) = √(𝚂𝚂𝙴(u) / (𝚙𝚎𝚛𝚖𝚜·𝑛))
//
// All splits are drawn upfront from the seed, so equal seeds give equal
// results regardless of scheduling. The cells are independent and run on a
// pool of runtime.NumCPU() workers with the optimizer trace suppressed.
// A fit failure in any cell aborts the scan.
func CrossValidate(x, y mat.Matrix, folds, perms int, seed uint64, opts *Options) (*CVResult, error) {
	if err := checkRegression(x, y, 0); err != nil {
		return nil, err
	}
	n, _ := x.Dims()
	_, r := y.Dims()
	switch {
	case folds < 2 || folds > n:
		return nil, errors.New("fold count must lie in [2, n]")
	case perms < 1:
		return nil, errors.New("permutation count must greater than 0")
	}

	opt := opts.normalize()
	opt.Verbose = false

	xd := mat.DenseCopyOf(x)
	yd := mat.DenseCopyOf(y)

	rnd := rand.New(rand.NewSource(seed))
	splits := make([][]int, perms)
	for i := range splits {
		splits[i] = rnd.Perm(n)
	}

	type cell struct{ u, perm, fold, slot int }

	cells := (r + 1) * perms * folds
	sse := make([]float64, cells)
	errs := make([]error, cells)

	tasks := make(chan cell, cells)
	var wg sync.WaitGroup
	for w := runtime.NumCPU(); w > 0; w-- {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range tasks {
				sse[c.slot], errs[c.slot] = cvCell(xd, yd, splits[c.perm], folds, c.fold, c.u, opt)
			}
		}()
	}
	for u := 0; u <= r; u++ {
		for perm := 0; perm < perms; perm++ {
			for fold := 0; fold < folds; fold++ {
				slot := (u*perms+perm)*folds + fold
				tasks <- cell{u: u, perm: perm, fold: fold, slot: slot}
			}
		}
	}
	close(tasks)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	res := &CVResult{PreErr: make([]float64, r+1)}
	best := math.Inf(1)
	for u := 0; u <= r; u++ {
		var total float64
		for slot := u * perms * folds; slot < (u+1)*perms*folds; slot++ {
			total += sse[slot]
		}
		pe := math.Sqrt(total / float64(perms*n))
		res.PreErr[u] = pe
		if pe < best {
			best = pe
			res.U = u
		}
	}
	return res, nil
}

// cvCell refits one dimension with one fold of one permutation held out and
// returns the squared prediction error over the held-out rows.
func cvCell(x, y *mat.Dense, perm []int, folds, fold, u int, opt Options) (float64, error) {
	n, p := x.Dims()
	_, r := y.Dims()

	// Contiguous blocks of the permuted order, remainder spread evenly.
	lo, hi := fold*n/folds, (fold+1)*n/folds
	test := perm[lo:hi]
	train := make([]int, 0, n-len(test))
	train = append(train, perm[:lo]...)
	train = append(train, perm[hi:]...)

	m, err := newMoments(selectRows(x, train), selectRows(y, train))
	if err != nil {
		return zero, err
	}
	model, err := fitMoments(m, u, opt)
	if err != nil {
		return zero, err
	}

	var sse float64
	for _, row := range test {
		for i := 0; i < r; i++ {
			pred := model.Alpha.AtVec(i)
			for j := 0; j < p; j++ {
				pred += model.Beta.At(i, j) * x.At(row, j)
			}
			d := y.At(row, i) - pred
			sse += d * d
		}
	}
	return sse, nil
}
