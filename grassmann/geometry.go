// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grassmann

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// tangent projects an ambient gradient onto the horizontal space at basis r:
//
//	𝚝𝚊𝚗 g = g - r(rᵀg)
//
// dst must not alias g.
func tangent(dst, r, g, kk *mat.Dense) {
	kk.Mul(r.T(), g)
	dst.Mul(r, kk)
	dst.Sub(g, dst)
}

// transport carries a tangent vector from a nearby tangent space into the one
// at basis r by projection, overwriting v.
func transport(v, r, kk, work *mat.Dense) {
	kk.Mul(r.T(), v)
	work.Mul(r, kk)
	v.Sub(v, work)
}

// retract maps r + t·d back onto the manifold through the thin QR factor.
func retract(dst, r, d *mat.Dense, t float64, work *mat.Dense) {
	work.Scale(t, d)
	work.Add(r, work)
	qf(dst, work)
}

// qf orthonormalizes the columns of a into dst, fixing column signs so the
// triangular factor carries a positive diagonal. dst and a may be the same
// matrix. a is assumed to have full column rank.
func qf(dst, a *mat.Dense) {
	n, k := a.Dims()
	var qr mat.QR
	qr.Factorize(a)
	var q, rr mat.Dense
	qr.QTo(&q)
	qr.RTo(&rr)
	dst.Copy(q.Slice(0, n, 0, k))
	for j := 0; j < k; j++ {
		if rr.At(j, j) < zero {
			for i := 0; i < n; i++ {
				dst.Set(i, j, -dst.At(i, j))
			}
		}
	}
}

// frobInner is the Frobenius inner product ⟨a,b⟩ = ∑ᵢⱼ aᵢⱼ·bᵢⱼ.
func frobInner(a, b *mat.Dense) float64 {
	ra, rb := a.RawMatrix(), b.RawMatrix()
	if ra.Rows != rb.Rows || ra.Cols != rb.Cols {
		panic("bound check error")
	}
	if ra.Stride == ra.Cols && rb.Stride == rb.Cols {
		return floats.Dot(ra.Data, rb.Data)
	}
	var dot float64
	for i := 0; i < ra.Rows; i++ {
		av := ra.Data[i*ra.Stride : i*ra.Stride+ra.Cols]
		bv := rb.Data[i*rb.Stride : i*rb.Stride+rb.Cols]
		dot += floats.Dot(av, bv)
	}
	return dot
}

func frobNorm(a *mat.Dense) float64 {
	return math.Sqrt(frobInner(a, a))
}
