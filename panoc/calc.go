// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package panoc

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Augmented Lagrangian merit function
//
//	ψ(x) = f(x) + ½ 𝚍𝚒𝚜𝚝²_Σ(g(x) + Σ⁻¹y, D)
//
// and the helper quantities the solver derives from it. All kernels write
// into caller-owned scratch and never allocate.

// calcPsiHatY computes ψ(x) together with ŷ = Σ(ζ - Π(ζ, D)) where
// ζ = g(x) + Σ⁻¹y. The ŷ can later be reused to evaluate ∇ψ(x).
// The weighted inner product dᵀŷ is accumulated in the same pass that
// forms ŷ, so no separate pass over the m-vector is needed for it.
func calcPsiHatY(p *Problem, x, y, sigma, yHat []float64) float64 {
	m := p.M
	if m > len(y) || m > len(sigma) || m > len(yHat) {
		panic("bound check error")
	}
	if m == 0 {
		return p.F(x)
	}
	// g(x)
	p.G(x, yHat)
	// ζ = g(x) + Σ⁻¹y
	for i := 0; i < m; i++ {
		yHat[i] += y[i] / sigma[i]
	}
	// d = ζ - Π(ζ, D)
	p.D.ProjectingDifference(yHat, yHat)
	// dᵀŷ, ŷ = Σd
	dty := 0.0
	for i := 0; i < m; i++ {
		d := yHat[i]
		dty += d * sigma[i] * d
		yHat[i] = sigma[i] * d
	}
	// ψ(x) = f(x) + ½ dᵀŷ
	return p.F(x) + 0.5*dty
}

// calcGradPsiFromHatY computes ∇ψ(x) = ∇f(x) + ∇g(x)ᵀŷ using a
// previously computed ŷ. Uses one n-vector of scratch.
func calcGradPsiFromHatY(p *Problem, x, yHat, gradPsi, workN []float64) {
	p.GradF(x, gradPsi)
	if p.M > 0 {
		p.GradG(x, yHat, workN)
		floats.Add(gradPsi, workN[:p.N])
	}
}

// calcPsiGradPsi computes both ψ(x) and ∇ψ(x); the intermediate ŷ is
// stored in workM.
func calcPsiGradPsi(p *Problem, x, y, sigma, gradPsi, workN, workM []float64) float64 {
	psi := calcPsiHatY(p, x, y, sigma, workM)
	calcGradPsiFromHatY(p, x, workM, gradPsi, workN)
	return psi
}

// calcGradPsi computes ∇ψ(x) alone, skipping the cost evaluation.
func calcGradPsi(p *Problem, x, y, sigma, gradPsi, workN, workM []float64) {
	m := p.M
	if m > len(y) || m > len(sigma) || m > len(workM) {
		panic("bound check error")
	}
	if m == 0 {
		p.GradF(x, gradPsi)
		return
	}
	p.G(x, workM)
	for i := 0; i < m; i++ {
		workM[i] += y[i] / sigma[i]
	}
	p.D.ProjectingDifference(workM, workM)
	for i := 0; i < m; i++ {
		workM[i] *= sigma[i]
	}
	calcGradPsiFromHatY(p, x, workM, gradPsi, workN)
}

// calcHatZ recovers ẑ = Π(g(x̂) + Σ⁻¹y, D) and the slack error
// errZ = g(x̂) - ẑ for the multiplier update of the outer method.
func calcHatZ(p *Problem, xHat, y, sigma, z, errZ []float64) {
	m := p.M
	if m > len(y) || m > len(sigma) || m > len(z) || m > len(errZ) {
		panic("bound check error")
	}
	if m == 0 {
		return
	}
	// g(x̂)
	p.G(xHat, errZ)
	// ζ = g(x̂) + Σ⁻¹y
	for i := 0; i < m; i++ {
		z[i] = errZ[i] + y[i]/sigma[i]
	}
	// ẑ = Π(ζ, D)
	p.D.Project(z, z)
	// g(x̂) - ẑ
	floats.Sub(errZ[:m], z[:m])
}

// calcXHat performs the projected gradient step
//
//	x̂ = Π_C(x - γ∇ψ(x)),  p = x̂ - x
//
// in displacement form: p is clipped against the distances to the bounds
// before x̂ is formed, which keeps p accurate when the step is small
// relative to x. Reports whether any progress was made, i.e. whether
// ‖p‖/‖x‖ exceeds the machine precision.
func calcXHat(p *Problem, gamma float64, x, gradPsi, xHat, pv []float64) bool {
	n := p.N
	c := &p.C
	if n > len(x) || n > len(gradPsi) || n > len(xHat) || n > len(pv) ||
		n > len(c.Lower) || n > len(c.Upper) {
		panic("bound check error")
	}
	for i := 0; i < n; i++ {
		pi := -gamma * gradPsi[i]
		if l := c.Lower[i] - x[i]; pi < l {
			pi = l
		}
		if u := c.Upper[i] - x[i]; pi > u {
			pi = u
		}
		pv[i] = pi
		xHat[i] = x[i] + pi
	}
	quot := math.Sqrt(floats.Dot(pv[:n], pv[:n]) / floats.Dot(x[:n], x[:n]))
	return quot > epsmch
}

// calcErrorStopCrit evaluates the fixed-point residual
//
//	εₖ = ‖γ⁻¹pₖ + (∇ψ(x̂ₖ) - ∇ψ(xₖ))‖∞
//
// forming the gradient difference first so that significance is kept
// when the step is tiny.
func calcErrorStopCrit(pv []float64, gamma float64, gradHatPsi, gradPsi, work []float64) float64 {
	floats.SubTo(work[:len(pv)], gradHatPsi, gradPsi)
	floats.AddScaled(work[:len(pv)], 1/gamma, pv)
	return floats.Norm(work[:len(pv)], math.Inf(1))
}
