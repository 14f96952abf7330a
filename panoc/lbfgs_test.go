// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package panoc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestLBFGSEmptyIdentity(t *testing.T) {

	l := newLBFGS(3, 5)
	q := []float64{1, -2, 3}
	want := []float64{1, -2, 3}
	l.Apply(q)
	assert.Equal(t, want, q)

	// Identity again after a reset
	require.True(t, l.Update([]float64{1, 0, 0}, []float64{2, 0, 0}))
	l.Reset()
	l.Apply(q)
	assert.Equal(t, want, q)
}

func TestLBFGSRejection(t *testing.T) {

	l := newLBFGS(2, 3)

	// Non-positive curvature
	assert.False(t, l.Update([]float64{1, 0}, []float64{-1, 0}))
	assert.False(t, l.Update([]float64{1, 0}, []float64{0, 1}))
	// Non-finite entries
	assert.False(t, l.Update([]float64{math.NaN(), 0}, []float64{1, 0}))
	assert.False(t, l.Update([]float64{1, 0}, []float64{math.Inf(1), 0}))
	assert.Equal(t, 0, l.count)

	assert.True(t, l.Update([]float64{1, 0}, []float64{2, 0}))
	assert.Equal(t, 1, l.count)
}

// The inverse Hessian approximation satisfies the newest secant equation
// exactly: Apply(d) = s for the most recently retained pair.
func TestLBFGSSecantEquation(t *testing.T) {

	l := newLBFGS(2, 3)

	pairs := [][2][]float64{
		{{1, 0}, {2, 0.5}},
		{{0.5, 1}, {0.25, 3}},
		{{-1, 0.5}, {-2, 2}},
	}
	for _, p := range pairs {
		require.True(t, l.Update(p[0], p[1]))
		q := append([]float64(nil), p[1]...)
		l.Apply(q)
		for i := range q {
			assert.InDelta(t, p[0][i], q[i], 1e-12)
		}
	}
}

func TestLBFGSSingleCoordinateScaling(t *testing.T) {

	// With a single pair along e₀, H acts as sᵀd/dᵀd on the orthogonal
	// complement and maps d to s.
	l := newLBFGS(2, 4)
	require.True(t, l.Update([]float64{3, 0}, []float64{6, 0}))

	q := []float64{0, 1}
	l.Apply(q)
	assert.InDelta(t, 0.5, q[1], 1e-15) // sᵀd/dᵀd = 18/36
	assert.InDelta(t, 0.0, q[0], 1e-15)
}

func TestLBFGSRingEviction(t *testing.T) {

	l := newLBFGS(1, 2)
	require.True(t, l.Update([]float64{1}, []float64{1}))
	require.True(t, l.Update([]float64{2}, []float64{1}))
	require.True(t, l.Update([]float64{4}, []float64{1}))
	assert.Equal(t, 2, l.count)

	// Newest pair s=4, d=1 still satisfied after eviction
	q := []float64{1}
	l.Apply(q)
	assert.InDelta(t, 4.0, q[0], 1e-12)
}

func TestLBFGSQuadraticDescent(t *testing.T) {

	// On f(x) = ½xᵀ𝚍𝚒𝚊𝚐(1,10)x the quasi-Newton direction from exact
	// secant pairs approximates the Newton step Q⁻¹g.
	grad := func(x []float64) []float64 { return []float64{x[0], 10 * x[1]} }

	l := newLBFGS(2, 10)
	x0, x1 := []float64{1, 1}, []float64{0.5, 0.2}
	x2 := []float64{0.25, 0.05}

	s1 := []float64{x1[0] - x0[0], x1[1] - x0[1]}
	d1 := []float64{grad(x1)[0] - grad(x0)[0], grad(x1)[1] - grad(x0)[1]}
	require.True(t, l.Update(s1, d1))
	s2 := []float64{x2[0] - x1[0], x2[1] - x1[1]}
	d2 := []float64{grad(x2)[0] - grad(x1)[0], grad(x2)[1] - grad(x1)[1]}
	require.True(t, l.Update(s2, d2))

	q := grad(x2)
	l.Apply(q)
	// H g stays a descent direction: gᵀHg > 0
	assert.True(t, floats.Dot(q, grad(x2)) > 0)
}
