// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package panoc

import (
	"github.com/pkg/errors"

	"github.com/curioloop/panoc/numdiff"
)

// Problem describes the smooth constrained minimization target
//
//	𝚖𝚒𝚗𝚒𝚖𝚒𝚣𝚎 f(x)  𝚜𝚞𝚋𝚓𝚎𝚌𝚝 𝚝𝚘  x ∈ C, g(x) ∈ D
//
// where the general constraint g(x) ∈ D is handled through the augmented
// Lagrangian weights passed to Solver.Solve. A Problem is immutable for
// the duration of a solve. The callbacks must be deterministic in their
// inputs, must not retain the slices passed to them, and must treat every
// argument except the documented output as read-only.
type Problem struct {
	N int // Dimension of the decision variable x
	M int // Number of general constraints g(x)

	C Box // Feasible box for x, dimension n
	D Box // Feasible box for g(x), dimension m

	// F evaluates the smooth cost f(x).
	F func(x []float64) float64
	// GradF stores ∇f(x) into grad (dimension n).
	GradF func(x, grad []float64)
	// G stores g(x) into gx (dimension m).
	G func(x, gx []float64)
	// GradG stores the adjoint product ∇g(x)ᵀv into grad (dimension n),
	// with v of dimension m.
	GradG func(x, v, grad []float64)
}

func (p *Problem) check() (err error) {
	switch {
	case p.N <= 0:
		err = errors.New("problem dimension must greater than 0")
	case p.M < 0:
		err = errors.New("constraint number must not less than 0")
	case p.F == nil || p.GradF == nil:
		err = errors.New("cost function and gradient are required")
	case p.M > 0 && (p.G == nil || p.GradG == nil):
		err = errors.New("constraint function and gradient are required")
	default:
		if err = p.C.check(p.N); err == nil {
			err = p.D.check(p.M)
		}
	}
	return
}

// ApproxProblem builds a Problem whose gradients are supplied by central
// finite differences, for targets where hand-coded derivatives are not
// available. The g callback may be nil when m is 0.
//
// The returned Problem shares finite-difference scratch between calls and
// is not safe for concurrent solves. Each gradient evaluation costs 2n
// evaluations of the underlying callback, so prefer exact derivatives
// anywhere performance matters.
func ApproxProblem(n, m int, c, d Box, f func(x []float64) float64, g func(x, gx []float64)) *Problem {

	fdf := &numdiff.Jacobian{
		N: n, M: 1,
		Method: numdiff.Central,
		Func: func(x, fx []float64) {
			fx[0] = f(x)
		},
	}
	if err := fdf.Check(); err != nil {
		panic(err)
	}

	p := &Problem{
		N: n, M: m,
		C: c, D: d,
		F: f,
		GradF: func(x, grad []float64) {
			fdf.Approx(x, grad)
		},
	}

	if m == 0 {
		p.G = func(x, gx []float64) {}
		p.GradG = func(x, v, grad []float64) {
			for i := range grad {
				grad[i] = 0
			}
		}
		return p
	}

	fdg := &numdiff.Jacobian{N: n, M: m, Method: numdiff.Central, Func: g}
	if err := fdg.Check(); err != nil {
		panic(err)
	}
	jac := make([]float64, m*n)
	p.G = g
	p.GradG = func(x, v, grad []float64) {
		fdg.Approx(x, jac)
		for j := 0; j < n; j++ {
			jv := 0.0
			for i := 0; i < m; i++ {
				jv += jac[i*n+j] * v[i]
			}
			grad[j] = jv
		}
	}
	return p
}
