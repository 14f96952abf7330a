// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package panoc

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SpecializedLBFGS is an L-BFGS memory whose secant pairs are built from
// the projected-gradient residual R(x) = x - Π_C(x - γ∇ψ(x)) instead of
// the raw gradient difference. It keeps the trailing window of points and
// gradients alongside the pairs, so when γ changes every retained
// residual difference can be recomputed at the new step size and the
// memory survives without a reset.
//
// Initialize must be called once before the first Update.
type SpecializedLBFGS struct {
	n, mem int

	x, g *mat.Dense // (mem+1) × n chronological ring of points and gradients
	s, d *mat.Dense // mem × n pair cache, pair i joins points i and i+1
	std  []float64

	tail     int // storage row of the oldest point
	pts      int // stored points; retained pairs = pts - 1
	pairTail int // storage row of the oldest pair

	xHat  []float64 // x̂ of the newest point at the current γ
	gamma float64

	res0, res1 []float64 // residual scratch
	alpha, rho []float64 // two-loop scratch
}

func newSpecializedLBFGS(n, mem int) *SpecializedLBFGS {
	return &SpecializedLBFGS{
		n: n, mem: mem,
		x:     mat.NewDense(mem+1, n, nil),
		g:     mat.NewDense(mem+1, n, nil),
		s:     mat.NewDense(mem, n, nil),
		d:     mat.NewDense(mem, n, nil),
		std:   make([]float64, mem),
		xHat:  make([]float64, n),
		res0:  make([]float64, n),
		res1:  make([]float64, n),
		alpha: make([]float64, mem),
		rho:   make([]float64, mem),
	}
}

// ptRow returns the storage row of the i-th oldest point, i ∈ [0, pts).
func (sl *SpecializedLBFGS) ptRow(i int) int {
	return (sl.tail + i) % (sl.mem + 1)
}

// pairRow returns the storage row of the i-th oldest pair, i ∈ [0, pts-1).
func (sl *SpecializedLBFGS) pairRow(i int) int {
	return (sl.pairTail + i) % sl.mem
}

// Initialize seeds the memory with the first iterate, its gradient, its
// projected-gradient point x̂ and the step size γ.
func (sl *SpecializedLBFGS) Initialize(x, gradPsi, xHat []float64, gamma float64) {
	if sl.n > len(x) || sl.n > len(gradPsi) || sl.n > len(xHat) {
		panic("bound check error")
	}
	sl.tail, sl.pts, sl.pairTail = 0, 1, 0
	copy(sl.x.RawRowView(0), x[:sl.n])
	copy(sl.g.RawRowView(0), gradPsi[:sl.n])
	copy(sl.xHat, xHat[:sl.n])
	sl.gamma = gamma
}

// Update advances the memory to the iterate x with gradient gradPsi and
// projected point xHat, all taken at step size gamma. When gamma differs
// from the stored one, the retained residual differences are first
// recomputed at the new step size over the box c, discarding any stale
// pairs that lose the curvature condition. Reports whether the new pair
// was accepted.
func (sl *SpecializedLBFGS) Update(x, gradPsi, xHat []float64, c *Box, gamma float64) bool {
	if sl.n > len(x) || sl.n > len(gradPsi) || sl.n > len(xHat) {
		panic("bound check error")
	}
	if sl.pts == 0 {
		panic("specialized L-BFGS must be initialized before update")
	}
	if gamma != sl.gamma {
		sl.rescale(c, gamma)
	}

	last := sl.ptRow(sl.pts - 1)
	xk := sl.x.RawRowView(last)

	// s = xₖ₊₁ - xₖ
	s := sl.res0
	floats.SubTo(s, x[:sl.n], xk)
	// d = (xₖ₊₁ - x̂ₖ₊₁) - (xₖ - x̂ₖ)
	d := sl.res1
	for i := 0; i < sl.n; i++ {
		d[i] = (x[i] - xHat[i]) - (xk[i] - sl.xHat[i])
	}

	std := floats.Dot(s, d)
	if !(std > 0) || !allFinite(s) || !allFinite(d) {
		return false
	}

	if sl.pts == sl.mem+1 { // evict the oldest point and pair
		sl.tail = (sl.tail + 1) % (sl.mem + 1)
		sl.pairTail = (sl.pairTail + 1) % sl.mem
		sl.pts--
	}

	pr := sl.pairRow(sl.pts - 1)
	copy(sl.s.RawRowView(pr), s)
	copy(sl.d.RawRowView(pr), d)
	sl.std[pr] = std

	xr := sl.ptRow(sl.pts)
	copy(sl.x.RawRowView(xr), x[:sl.n])
	copy(sl.g.RawRowView(xr), gradPsi[:sl.n])
	copy(sl.xHat, xHat[:sl.n])
	sl.pts++
	return true
}

// rescale recomputes every retained residual difference at the new step
// size and drops the pairs that no longer satisfy the curvature
// condition, keeping the newest consecutive run.
func (sl *SpecializedLBFGS) rescale(c *Box, gamma float64) {
	r0, r1 := sl.res0, sl.res1
	proxResidual(c, gamma, sl.x.RawRowView(sl.ptRow(0)), sl.g.RawRowView(sl.ptRow(0)), r0)
	for i := 1; i < sl.pts; i++ {
		proxResidual(c, gamma, sl.x.RawRowView(sl.ptRow(i)), sl.g.RawRowView(sl.ptRow(i)), r1)
		pr := sl.pairRow(i - 1)
		d := sl.d.RawRowView(pr)
		floats.SubTo(d, r1, r0)
		sl.std[pr] = floats.Dot(sl.s.RawRowView(pr), d)
		r0, r1 = r1, r0
	}

	// x̂ of the newest point at the new γ
	xn := sl.x.RawRowView(sl.ptRow(sl.pts - 1))
	for i := 0; i < sl.n; i++ {
		sl.xHat[i] = xn[i] - r0[i]
	}
	sl.gamma = gamma

	drop := 0
	for i := 0; i < sl.pts-1; i++ {
		pr := sl.pairRow(i)
		if !(sl.std[pr] > 0) || !allFinite(sl.d.RawRowView(pr)) {
			drop = i + 1
		}
	}
	if drop > 0 {
		sl.tail = (sl.tail + drop) % (sl.mem + 1)
		sl.pairTail = (sl.pairTail + drop) % sl.mem
		sl.pts -= drop
	}
}

// proxResidual computes r = x - Π_C(x - γg) in displacement form.
func proxResidual(c *Box, gamma float64, x, g, r []float64) {
	n := len(r)
	if n > len(x) || n > len(g) || n > len(c.Lower) || n > len(c.Upper) {
		panic("bound check error")
	}
	for i := 0; i < n; i++ {
		pi := -gamma * g[i]
		if l := c.Lower[i] - x[i]; pi < l {
			pi = l
		}
		if u := c.Upper[i] - x[i]; pi > u {
			pi = u
		}
		r[i] = -pi
	}
}

// Apply multiplies q in place by the inverse Hessian approximation.
// With no retained pairs q is left untouched.
func (sl *SpecializedLBFGS) Apply(q []float64) {
	if sl.n > len(q) {
		panic("bound check error")
	}
	pairs := sl.pts - 1
	if pairs <= 0 {
		return
	}
	q = q[:sl.n]
	for i := pairs - 1; i >= 0; i-- { // newest to oldest
		j := sl.pairRow(i)
		s, d := sl.s.RawRowView(j), sl.d.RawRowView(j)
		sl.rho[j] = 1 / sl.std[j]
		sl.alpha[j] = sl.rho[j] * floats.Dot(s, q)
		floats.AddScaled(q, -sl.alpha[j], d)
	}
	newest := sl.pairRow(pairs - 1)
	d := sl.d.RawRowView(newest)
	floats.Scale(sl.std[newest]/floats.Dot(d, d), q)
	for i := 0; i < pairs; i++ { // oldest to newest
		j := sl.pairRow(i)
		s, d := sl.s.RawRowView(j), sl.d.RawRowView(j)
		beta := sl.rho[j] * floats.Dot(d, q)
		floats.AddScaled(q, sl.alpha[j]-beta, s)
	}
}

// Reset drops every retained pair, keeping the newest point as the seed
// for subsequent updates.
func (sl *SpecializedLBFGS) Reset() {
	if sl.pts > 0 {
		newest := sl.ptRow(sl.pts - 1)
		if newest != 0 {
			copy(sl.x.RawRowView(0), sl.x.RawRowView(newest))
			copy(sl.g.RawRowView(0), sl.g.RawRowView(newest))
		}
		sl.pts = 1
	}
	sl.tail, sl.pairTail = 0, 0
}
