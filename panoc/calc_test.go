// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package panoc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats/scalar"
)

// One-dimensional penalized problem with a single constraint x ≥ 1:
//
//	ψ(x) = x² + ½Σ(ζ - Π(ζ))² with ζ = x + y/Σ, enforced via D = [1,∞).
func penalizedProblem() *Problem {
	d := NewBox(1)
	d.Lower[0] = 1
	return &Problem{
		N: 1, M: 1,
		C: NewBox(1),
		D: d,
		F: func(x []float64) float64 { return x[0] * x[0] },
		GradF: func(x, grad []float64) {
			grad[0] = 2 * x[0]
		},
		G: func(x, gx []float64) {
			gx[0] = x[0]
		},
		GradG: func(x, v, grad []float64) {
			grad[0] = v[0]
		},
	}
}

func TestCalcPsiHatY(t *testing.T) {

	p := penalizedProblem()
	sigma := []float64{10}
	y := []float64{2}

	x := []float64{0.5}
	yHat := make([]float64, 1)
	psi := calcPsiHatY(p, x, y, sigma, yHat)

	// ζ = 0.5 + 2/10 = 0.7, d = 0.7 - 1 = -0.3, ŷ = -3
	require.InDelta(t, -3.0, yHat[0], 1e-15)
	// ψ = 0.25 + ½·10·0.09 = 0.7
	require.True(t, scalar.EqualWithinAbs(psi, 0.7, 1e-14))

	// Feasible point: no penalty
	x[0] = 2
	y[0] = 0
	psi = calcPsiHatY(p, x, y, sigma, yHat)
	assert.Equal(t, 0.0, yHat[0])
	assert.Equal(t, 4.0, psi)
}

func TestCalcGradPsi(t *testing.T) {

	p := penalizedProblem()
	sigma := []float64{10}
	y := []float64{2}
	x := []float64{0.5}

	yHat := make([]float64, 1)
	grad := make([]float64, 1)
	workN := make([]float64, 1)
	workM := make([]float64, 1)

	calcPsiHatY(p, x, y, sigma, yHat)
	calcGradPsiFromHatY(p, x, yHat, grad, workN)
	// ∇ψ = 2x + ŷ = 1 - 3
	require.True(t, scalar.EqualWithinAbs(grad[0], -2.0, 1e-14))

	// The combined kernel agrees
	grad2 := make([]float64, 1)
	psi := calcPsiGradPsi(p, x, y, sigma, grad2, workN, workM)
	assert.Equal(t, grad[0], grad2[0])
	require.True(t, scalar.EqualWithinAbs(psi, 0.7, 1e-14))

	// The gradient-only kernel agrees
	grad3 := make([]float64, 1)
	calcGradPsi(p, x, y, sigma, grad3, workN, workM)
	assert.Equal(t, grad[0], grad3[0])
}

func TestCalcHatZ(t *testing.T) {

	p := penalizedProblem()
	sigma := []float64{10}
	y := []float64{2}
	xHat := []float64{0.5}

	z := make([]float64, 1)
	errZ := make([]float64, 1)
	calcHatZ(p, xHat, y, sigma, z, errZ)

	// ζ = 0.7, ẑ = Π(ζ, [1,∞)) = 1, err = g(x̂) - ẑ = -0.5
	assert.Equal(t, 1.0, z[0])
	require.True(t, scalar.EqualWithinAbs(errZ[0], -0.5, 1e-15))
}

func TestCalcXHatSmallStep(t *testing.T) {

	// With the step well inside the bounds the displacement is exactly
	// -γ∇ψ, even when x is many orders of magnitude larger.
	c := NewBox(2)
	c.Lower = []float64{-1e10, -1e10}
	c.Upper = []float64{1e10, 1e10}
	p := &Problem{
		N: 2, M: 0, C: c, D: NewBox(0),
		F:     func(x []float64) float64 { return 0 },
		GradF: func(x, grad []float64) { grad[0], grad[1] = 3, -4 },
	}

	x := []float64{1e8, -1e8}
	grad := []float64{3, -4}
	xHat := make([]float64, 2)
	pv := make([]float64, 2)

	gamma := 1e-9
	progress := calcXHat(p, gamma, x, grad, xHat, pv)
	assert.Equal(t, -gamma*3, pv[0])
	assert.Equal(t, gamma*4, pv[1])
	assert.False(t, progress) // ‖p‖/‖x‖ far below machine precision
}

func TestCalcXHatClip(t *testing.T) {

	c := Box{Lower: []float64{-1, -1}, Upper: []float64{1, 1}}
	p := &Problem{
		N: 2, M: 0, C: c, D: NewBox(0),
		F:     func(x []float64) float64 { return 0 },
		GradF: func(x, grad []float64) {},
	}

	x := []float64{0.5, -0.5}
	grad := []float64{-100, 100}
	xHat := make([]float64, 2)
	pv := make([]float64, 2)

	progress := calcXHat(p, 1.0, x, grad, xHat, pv)
	assert.True(t, progress)
	assert.Equal(t, []float64{1, -1}, xHat)
	assert.Equal(t, []float64{0.5, -0.5}, pv)
}

func TestCalcErrorStopCrit(t *testing.T) {

	pv := []float64{1e-12, -2e-12}
	gradHat := []float64{1 + 1e-12, 2}
	grad := []float64{1, 2}
	work := make([]float64, 2)

	// γ⁻¹p + (∇ψ̂ - ∇ψ) with γ = 1e-6: the gradient difference must be
	// formed first or the small entries drown in the large ones.
	eps := calcErrorStopCrit(pv, 1e-6, gradHat, grad, work)
	require.True(t, scalar.EqualWithinAbs(eps, 2e-6, 1e-18))

	// Exact fixed point
	zero := []float64{0, 0}
	eps = calcErrorStopCrit(zero, 1e-6, grad, grad, work)
	assert.Equal(t, 0.0, eps)

	// Non-finite residual propagates
	eps = calcErrorStopCrit([]float64{math.NaN(), 0}, 1, grad, grad, work)
	assert.True(t, math.IsNaN(eps))
}
