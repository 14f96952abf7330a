// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package panoc

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Solve minimizes ψ(x) = f(x) + ½ 𝚍𝚒𝚜𝚝²_Σ(g(x) + Σ⁻¹y, D) over the box C
// by the proximal averaged Newton-type iteration: a forward-backward
// envelope line search that blends the projected gradient step with an
// L-BFGS step, with online backtracking of the Lipschitz estimate.
//
// On entry x holds the initial guess and y the current Lagrange
// multipliers; sigma holds the positive penalty weights Σ. On return
// with Converged, MaxIter, MaxTime or Interrupted, x, y, z and errZ hold
// the final iterate, the candidate multipliers ŷ, the projected
// constraint value ẑ and the slack error g(x)-ẑ for the outer method.
// On a NotFinite failure inside the iteration x holds the last iterate
// xₖ and y, z and errZ are left unchanged. On a NotFinite failure before
// the first iteration only the returned Stats is reliable.
//
// Mismatched slice lengths and invalid problems are contract violations
// and panic.
func (s *Solver) Solve(prob *Problem, x, z, y, errZ, sigma []float64, eps float64) Stats {

	start := time.Now()
	var stats Stats

	if err := prob.check(); err != nil {
		panic(err)
	}
	n, m := prob.N, prob.M
	if len(x) != n || len(z) != m || len(y) != m || len(errZ) != m || len(sigma) != m {
		panic("bound check error")
	}

	params := &s.params
	log := &s.logger

	var lbfgs *LBFGS
	var slbfgs *SpecializedLBFGS
	if params.SpecializedLBFGS {
		slbfgs = newSpecializedLBFGS(n, params.LBFGSMem)
	} else {
		lbfgs = newLBFGS(n, params.LBFGSMem)
	}

	var (
		xk       = make([]float64, n) // Value of x at the beginning of the iteration
		xHatK    = make([]float64, n) // Value of x after a projected gradient step
		xk1      = make([]float64, n) // xₖ for next iteration
		xHatK1   = make([]float64, n) // x̂ₖ for next iteration
		yHatK    = make([]float64, m) // ŷ(x̂ₖ) = y + Σ (g(x̂ₖ) - ẑₖ)
		yHatK1   = make([]float64, m) // ŷ(x̂ₖ) for next iteration
		pk       = make([]float64, n) // x̂ₖ - xₖ
		pk1      = make([]float64, n) // x̂ₖ₊₁ - xₖ₊₁
		qk       = make([]float64, n) // Quasi-Newton step Hₖpₖ
		gradPsiK = make([]float64, n) // ∇ψ(xₖ)
		gradHatK = make([]float64, n) // ∇ψ(x̂ₖ)
		gradPsi1 = make([]float64, n) // ∇ψ(xₖ₊₁)

		workN = make([]float64, n)
		workM = make([]float64, m)
	)
	copy(xk, x)

	// Estimate the Lipschitz constant of ∇ψ by finite difference:
	// perturb x by h = 𝚖𝚊𝚡(|x|·ε, δ) and compare gradients.
	lip := &params.Lipschitz
	h := qk
	for i := 0; i < n; i++ {
		hi := math.Abs(xk[i] * lip.Epsilon)
		if hi < lip.Delta {
			hi = lip.Delta
		}
		h[i] = hi
		xk1[i] = xk[i] + hi
	}

	// ∇ψ(x₀+h)
	calcGradPsi(prob, xk1, y, sigma, gradPsi1, workN, workM)
	// ψ(x₀), ∇ψ(x₀)
	psi := calcPsiGradPsi(prob, xk, y, sigma, gradPsiK, workN, workM)

	L := floats.Distance(gradPsi1, gradPsiK, 2) / floats.Norm(h, 2)
	if L < epsmch {
		L = epsmch
	} else if math.IsNaN(L) || math.IsInf(L, 0) {
		stats.Status = NotFinite
		stats.Elapsed = time.Since(start)
		return stats
	}

	gamma := lip.GammaFactor / L
	sigmaK := gamma * (1 - gamma*L) / 2

	// x̂₀, p₀ (projected gradient step, progress not checked here)
	calcXHat(prob, gamma, xk, gradPsiK, xHatK, pk)
	// ψ(x̂₀) and ŷ(x̂₀)
	psiHat := calcPsiHatY(prob, xHatK, y, sigma, yHatK)

	gdotp := floats.Dot(gradPsiK, pk)
	normsqp := floats.Dot(pk, pk)

	// Forward-backward envelope φ₀
	phi := psi + normsqp/(2*gamma) + gdotp

	for k := 0; k <= params.MaxIter; k++ {

		// Decrease the step size until the quadratic upper bound holds:
		//   ψ(x̂ₖ) ≤ ψ(xₖ) + ∇ψ(xₖ)ᵀpₖ + ½L‖pₖ‖²
		if k == 0 || !params.UpdateLipschitzInLinesearch {
			for psiHat > psi+gdotp+0.5*L*normsqp {
				L *= 2
				sigmaK /= 2
				gamma /= 2

				// Flush L-BFGS since γ changed
				if k > 0 && !params.SpecializedLBFGS {
					lbfgs.Reset()
				}

				calcXHat(prob, gamma, xk, gradPsiK, xHatK, pk)
				gdotp = floats.Dot(gradPsiK, pk)
				normsqp = floats.Dot(pk, pk)
				psiHat = calcPsiHatY(prob, xHatK, y, sigma, yHatK)
			}
		}

		if params.SpecializedLBFGS && k == 0 {
			slbfgs.Initialize(xk, gradPsiK, xHatK, gamma)
		}

		// ∇ψ(x̂ₖ) from the cached ŷ(x̂ₖ)
		calcGradPsiFromHatY(prob, xHatK, yHatK, gradHatK, workN)

		epsK := calcErrorStopCrit(pk, gamma, gradHatK, gradPsiK, workN)

		if params.PrintInterval != 0 && k%params.PrintInterval == 0 && log.enable(LogIter) {
			log.log("[PANOC] %6d: ψ = %13.6e, ‖∇ψ‖ = %13.6e, ‖p‖ = %13.6e, γ = %13.6e, εₖ = %13.6e\n",
				k, psi, floats.Norm(gradPsiK, 2), math.Sqrt(normsqp), gamma, epsK)
		}

		elapsed := time.Since(start)
		outOfTime := elapsed > params.MaxTime

		if epsK <= eps || k == params.MaxIter || outOfTime {
			if params.PrintInterval > 0 && log.enable(LogVerbose) {
				s.printFinal(prob, k, gamma, gradPsiK, gradHatK, pk, xk, xHatK, workN)
			}
			calcHatZ(prob, xHatK, y, sigma, z, errZ)
			copy(x, xHatK)
			copy(y, yHatK)

			stats.Iterations = k
			stats.Epsilon = epsK
			stats.Elapsed = elapsed
			switch {
			case epsK <= eps:
				stats.Status = Converged
			case outOfTime:
				stats.Status = MaxTime
			default:
				stats.Status = MaxIter
			}
			return stats
		} else if math.IsNaN(epsK) || math.IsInf(epsK, 0) {
			if log.enable(LogExit) {
				log.log("[PANOC] inf/NaN at iteration %d\n", k)
				logVec(log, "qₖ₋₁", qk)
				logVec(log, "xₖ  ", xk)
				logVec(log, "x̂ₖ  ", xHatK)
				logVec(log, "ŷx̂ₖ ", yHatK)
				logVec(log, "pₖ  ", pk)
				logVec(log, "∇ψ̂ₖ ", gradHatK)
				logVec(log, "∇ψₖ ", gradPsiK)
				log.log("γₖ:   %v\n", gamma)
			}
			copy(x, xk)

			stats.Iterations = k
			stats.Epsilon = epsK
			stats.Elapsed = elapsed
			stats.Status = NotFinite
			return stats
		} else if s.interrupt.Load() {
			calcHatZ(prob, xHatK, y, sigma, z, errZ)
			copy(x, xHatK)
			copy(y, yHatK)

			stats.Iterations = k
			stats.Epsilon = epsK
			stats.Elapsed = elapsed
			stats.Status = Interrupted
			return stats
		}

		// Quasi-Newton step qₖ = Hₖpₖ
		tau := 1.0
		if k == 0 {
			tau = 0
		} else {
			copy(qk, pk)
			if params.SpecializedLBFGS {
				slbfgs.Apply(qk)
			} else {
				lbfgs.Apply(qk)
			}
			if floats.HasNaN(qk) {
				tau = 0
				stats.LBFGSFailures++
				if params.SpecializedLBFGS {
					slbfgs.Reset()
				} else {
					lbfgs.Reset()
				}
			}
		}

		// Line search on the forward-backward envelope:
		//   φ(xₖ₊₁) ≤ φ(xₖ) - σₖ‖pₖ‖²/γₖ²
		// with xₖ₊₁ = xₖ + (1-τ)pₖ + τqₖ, halving τ after each trial.
		signorm := sigmaK * normsqp / (gamma * gamma)

		var L1, sigmaK1, gamma1 float64
		var psi1, psiHat1, gdotp1, normsqp1, phi1 float64
		for {
			L1, sigmaK1, gamma1 = L, sigmaK, gamma

			if tau/2 < params.TauMin { // line search failed
				xk1, xHatK = xHatK, xk1 // safe prox step
			} else {
				for i := 0; i < n; i++ {
					xk1[i] = xk[i] + (1-tau)*pk[i] + tau*qk[i]
				}
			}

			// ψ(xₖ₊₁), ∇ψ(xₖ₊₁)
			psi1 = calcPsiGradPsi(prob, xk1, y, sigma, gradPsi1, workN, workM)
			// x̂ₖ₊₁, pₖ₊₁
			calcXHat(prob, gamma1, xk1, gradPsi1, xHatK1, pk1)
			// ψ(x̂ₖ₊₁) and ŷ(x̂ₖ₊₁)
			psiHat1 = calcPsiHatY(prob, xHatK1, y, sigma, yHatK1)

			gdotp1 = floats.Dot(gradPsi1, pk1)
			normsqp1 = floats.Dot(pk1, pk1)

			if params.UpdateLipschitzInLinesearch {
				for psiHat1 > psi1+gdotp1+0.5*L1*normsqp1 {
					L1 *= 2
					sigmaK1 /= 2
					gamma1 /= 2
					if !params.SpecializedLBFGS {
						lbfgs.Reset()
					}
					calcXHat(prob, gamma1, xk1, gradPsi1, xHatK1, pk1)
					gdotp1 = floats.Dot(gradPsi1, pk1)
					normsqp1 = floats.Dot(pk1, pk1)
					psiHat1 = calcPsiHatY(prob, xHatK1, y, sigma, yHatK1)
				}
			}

			phi1 = psi1 + normsqp1/(2*gamma1) + gdotp1

			tau /= 2
			if phi1 <= phi-signorm || tau < params.TauMin {
				break
			}
		}

		// τ < τ_min means the safe prox step was accepted
		if tau < params.TauMin && k != 0 {
			stats.LinesearchFailures++
		}

		var accepted bool
		if params.SpecializedLBFGS {
			accepted = slbfgs.Update(xk1, gradPsi1, xHatK1, &prob.C, gamma1)
		} else {
			floats.SubTo(workN, xk1, xk) // s = xₖ₊₁ - xₖ
			floats.SubTo(qk, pk, pk1)    // d = pₖ - pₖ₊₁
			accepted = lbfgs.Update(workN, qk)
		}
		if !accepted {
			stats.LBFGSRejected++
		}

		// Advance the iteration, rotating buffer ownership
		L, sigmaK, gamma = L1, sigmaK1, gamma1
		psi, psiHat, phi = psi1, psiHat1, phi1

		xk, xk1 = xk1, xk
		xHatK, xHatK1 = xHatK1, xHatK
		yHatK, yHatK1 = yHatK1, yHatK
		pk, pk1 = pk1, pk
		gradPsiK, gradPsi1 = gradPsi1, gradPsiK
		gdotp, normsqp = gdotp1, normsqp1
	}
	panic("panoc: iteration loop error")
}

// printFinal dumps the terminal iterate state for debugging runs.
func (s *Solver) printFinal(prob *Problem, k int, gamma float64, gradPsiK, gradHatK, pk, xk, xHatK, work []float64) {
	log := &s.logger
	log.log("[PANOC] final state at iteration %d\n", k)
	logVec(log, "∇ψₖ      ", gradPsiK)
	logVec(log, "∇ψ̂ₖ      ", gradHatK)
	floats.SubTo(work, gradHatK, gradPsiK)
	logVec(log, "∇ψ̂ₖ - ∇ψₖ", work)
	floats.ScaleTo(work, 1/gamma, pk)
	logVec(log, "p/γ      ", work)
	logVec(log, "p        ", pk)
	floats.ScaleTo(work, gamma, gradPsiK)
	logVec(log, "γ·∇ψₖ    ", work)
	logVec(log, "xl       ", prob.C.Lower)
	logVec(log, "x        ", xk)
	logVec(log, "xu       ", prob.C.Upper)
	logVec(log, "x̂        ", xHatK)
	log.log("γ:         %v\n", gamma)
}

func logVec(log *Logger, name string, v []float64) {
	log.log("%s: ", name)
	for i, x := range v {
		if i > 0 {
			log.log("\t")
		}
		log.log("%.16g", x)
	}
	log.log("\n")
}
