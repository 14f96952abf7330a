// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package numdiff estimates derivatives of vector functions by finite
// differences.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
package numdiff

import (
	"math"

	"github.com/pkg/errors"
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

// Jacobian approximates the m×n Jacobian ∂yᵢ/∂xⱼ of a dense vector
// function by finite differences, one column per perturbed variable.
//
// A Jacobian keeps evaluation scratch between calls and is not safe for
// concurrent use.
type Jacobian struct {
	N, M int
	// Function of which to estimate the derivatives.
	// The argument x passed to this function is an n-vector.
	// The result is stored in an m-vector y.
	Func func(x, y []float64)
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute the absolute step size as
	//   h = RelStep × 𝚜𝚒𝚐𝚗(x₀) × 𝚖𝚊𝚡(1, |x₀|)
	// with RelStep selected automatically when zero (√ε for Forward,
	// ∛ε for Central).
	RelStep float64

	y0, y1 []float64
}

// Check validates the specification.
func (j *Jacobian) Check() (err error) {
	switch {
	case j.N <= 0 || j.M <= 0:
		err = errors.New("negative dimensions")
	case j.Method != Forward && j.Method != Central:
		err = errors.New("unknown method")
	case j.Func == nil:
		err = errors.New("object function is required")
	case j.RelStep < 0:
		err = errors.New("relative step must not less than 0")
	}
	return
}

func (j *Jacobian) relStep() float64 {
	if j.RelStep > 0 {
		return j.RelStep
	}
	if j.Method == Central {
		return cubeEps
	}
	return sqrtEps
}

// Approx estimates the Jacobian at x0 and stores it into jac in row-major
// order, jac[i*n+j] = ∂yᵢ/∂xⱼ. The x0 is perturbed in place during the
// evaluation and restored before return.
func (j *Jacobian) Approx(x0, jac []float64) {

	n, m := j.N, j.M
	if len(x0) != n || len(jac) != m*n {
		panic("bound check error")
	}
	if j.y0 == nil {
		j.y0 = make([]float64, m)
		j.y1 = make([]float64, m)
	}

	rel := j.relStep()
	if j.Method == Forward {
		j.Func(x0, j.y0)
	}

	for c := 0; c < n; c++ {
		xc := x0[c]
		h := rel * math.Max(1, math.Abs(xc))
		if math.Signbit(xc) {
			h = -h
		}
		// Exactly representable step
		h = (xc + h) - xc

		switch j.Method {
		case Forward:
			x0[c] = xc + h
			j.Func(x0, j.y1)
			for r := 0; r < m; r++ {
				jac[r*n+c] = (j.y1[r] - j.y0[r]) / h
			}
		case Central:
			x0[c] = xc - h
			j.Func(x0, j.y0)
			x0[c] = xc + h
			j.Func(x0, j.y1)
			for r := 0; r < m; r++ {
				jac[r*n+c] = (j.y1[r] - j.y0[r]) / (2 * h)
			}
		}
		x0[c] = xc
	}
}
