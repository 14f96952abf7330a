// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package panoc

import (
	"math"

	"github.com/pkg/errors"
)

// Box is a rectangular feasible set { v : Lower ≤ v ≤ Upper } with the
// bounds taken componentwise. Infinite bounds are allowed on either side.
type Box struct {
	Lower, Upper []float64
}

// NewBox returns the unbounded box (-∞,+∞)ⁿ.
func NewBox(n int) Box {
	b := Box{
		Lower: make([]float64, n),
		Upper: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		b.Lower[i] = math.Inf(-1)
		b.Upper[i] = math.Inf(1)
	}
	return b
}

func (b *Box) check(n int) error {
	if len(b.Lower) != n || len(b.Upper) != n {
		return errors.Errorf("box dimension must equal to %d", n)
	}
	for i := 0; i < n; i++ {
		if !(b.Lower[i] <= b.Upper[i]) {
			return errors.Errorf("box range at %d has no feasible solution", i)
		}
	}
	return nil
}

// Project stores Π(v) = 𝚖𝚒𝚗(𝚖𝚊𝚡(v, Lower), Upper) into dst.
// The dst may alias v.
func (b *Box) Project(dst, v []float64) {
	n := len(v)
	if n > len(dst) || n > len(b.Lower) || n > len(b.Upper) {
		panic("bound check error")
	}
	for i := 0; i < n; i++ {
		p := v[i]
		if l := b.Lower[i]; p < l {
			p = l
		}
		if u := b.Upper[i]; p > u {
			p = u
		}
		dst[i] = p
	}
}

// ProjectingDifference stores the residual v - Π(v) into dst.
// The dst may alias v.
func (b *Box) ProjectingDifference(dst, v []float64) {
	n := len(v)
	if n > len(dst) || n > len(b.Lower) || n > len(b.Upper) {
		panic("bound check error")
	}
	for i := 0; i < n; i++ {
		p := v[i]
		if l := b.Lower[i]; p < l {
			p = l
		}
		if u := b.Upper[i]; p > u {
			p = u
		}
		dst[i] = v[i] - p
	}
}
