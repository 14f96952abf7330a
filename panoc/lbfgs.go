// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package panoc

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LBFGS is a limited-memory BFGS approximation of the inverse Hessian,
// stored as a ring of secant pairs (s, d) with one history slot per row.
// An empty memory applies the identity.
type LBFGS struct {
	n, mem int

	s, d *mat.Dense // mem × n, slot j holds the j-th retained pair
	std  []float64  // cached sᵀd per slot

	head  int // slot of the next insertion
	count int // retained pairs, ≤ mem

	alpha, rho []float64 // two-loop scratch
}

func newLBFGS(n, mem int) *LBFGS {
	return &LBFGS{
		n: n, mem: mem,
		s:     mat.NewDense(mem, n, nil),
		d:     mat.NewDense(mem, n, nil),
		std:   make([]float64, mem),
		alpha: make([]float64, mem),
		rho:   make([]float64, mem),
	}
}

// slot returns the storage row of the i-th most recent pair, i ∈ [0, count).
func (l *LBFGS) slot(i int) int {
	return ((l.head-1-i)%l.mem + l.mem) % l.mem
}

// Update inserts the secant pair (s, d), evicting the oldest pair when
// the memory is full. The pair is rejected when the curvature condition
// sᵀd > 0 fails or either vector is non-finite.
func (l *LBFGS) Update(s, d []float64) bool {
	if l.n > len(s) || l.n > len(d) {
		panic("bound check error")
	}
	std := floats.Dot(s[:l.n], d[:l.n])
	if !(std > 0) || !allFinite(s[:l.n]) || !allFinite(d[:l.n]) {
		return false
	}
	copy(l.s.RawRowView(l.head), s[:l.n])
	copy(l.d.RawRowView(l.head), d[:l.n])
	l.std[l.head] = std
	l.head = (l.head + 1) % l.mem
	if l.count < l.mem {
		l.count++
	}
	return true
}

// Apply multiplies q in place by the inverse Hessian approximation using
// the two-loop recursion. The initial scaling is sᵀd/dᵀd of the newest
// pair; with an empty memory q is left untouched.
func (l *LBFGS) Apply(q []float64) {
	if l.n > len(q) {
		panic("bound check error")
	}
	if l.count == 0 {
		return
	}
	q = q[:l.n]
	for i := 0; i < l.count; i++ { // newest to oldest
		j := l.slot(i)
		s, d := l.s.RawRowView(j), l.d.RawRowView(j)
		l.rho[j] = 1 / l.std[j]
		l.alpha[j] = l.rho[j] * floats.Dot(s, q)
		floats.AddScaled(q, -l.alpha[j], d)
	}
	newest := l.slot(0)
	d := l.d.RawRowView(newest)
	floats.Scale(l.std[newest]/floats.Dot(d, d), q)
	for i := l.count - 1; i >= 0; i-- { // oldest to newest
		j := l.slot(i)
		s, d := l.s.RawRowView(j), l.d.RawRowView(j)
		beta := l.rho[j] * floats.Dot(d, q)
		floats.AddScaled(q, l.alpha[j]-beta, s)
	}
}

// Reset empties the memory.
func (l *LBFGS) Reset() {
	l.head, l.count = 0, 0
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
