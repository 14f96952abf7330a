// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package panoc

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var epsmch = math.Nextafter(1, 2) - 1

// LogLevel controls the frequency and type of logger output.
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogExit print diagnostics on abnormal termination only
	LogExit LogLevel = 0
	// LogIter print a progress line every PrintInterval iterations
	LogIter LogLevel = 1
	// LogVerbose print also the full iterate state at exit
	LogVerbose LogLevel = 2
)

// Logger handles logging output for the solver.
// Note the writer must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// Status reports how a solve terminated.
type Status int

const (
	// Converged the fixed-point residual dropped below the tolerance.
	Converged Status = iota
	// MaxIter the iteration budget was exhausted.
	MaxIter
	// MaxTime the wall-clock budget was exhausted.
	MaxTime
	// NotFinite a quantity required to decide the next step was NaN or Inf.
	NotFinite
	// Interrupted an external cancellation was requested.
	Interrupted
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "Converged"
	case MaxIter:
		return "MaxIter"
	case MaxTime:
		return "MaxTime"
	case NotFinite:
		return "NotFinite"
	case Interrupted:
		return "Interrupted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Stats summarizes a single solve.
type Stats struct {
	Status     Status        // Final status after the solve.
	Iterations int           // Number of outer iterations performed.
	Epsilon    float64       // Fixed-point residual at termination.
	Elapsed    time.Duration // Wall-clock time spent.

	LBFGSFailures      int // Quasi-Newton steps discarded for NaN entries.
	LBFGSRejected      int // Secant pairs rejected by the curvature or finiteness check.
	LinesearchFailures int // Iterations that fell back to the safe prox step.
}

// LipschitzParams controls the finite-difference estimate of the initial
// gradient Lipschitz constant and the step size derived from it.
type LipschitzParams struct {
	// Relative perturbation h = 𝚖𝚊𝚡(|x|·Epsilon, Delta).
	Epsilon float64
	// Absolute perturbation floor, dominant where x is near zero.
	Delta float64
	// Step size factor γ = GammaFactor / L, in (0,1).
	GammaFactor float64
}

// Params specifies the configuration of a solve.
// Zero-valued fields are replaced by the documented defaults in New.
type Params struct {
	// L-BFGS history depth. Default 10.
	LBFGSMem int
	// Iteration cap. Default 100.
	MaxIter int
	// Wall-clock cap. Default 5 minutes.
	MaxTime time.Duration
	// Minimum line-search parameter τ before the safe prox step is
	// declared, in (0,1). Default 1/256.
	TauMin float64
	// Initial Lipschitz estimation. Defaults ε=1e-6, δ=1e-12, factor=0.95.
	Lipschitz LipschitzParams
	// Permit the Lipschitz constant to grow inside the line search
	// instead of only in the per-iteration backtracking.
	UpdateLipschitzInLinesearch bool
	// Use the projection-aware L-BFGS variant that survives step size
	// changes without a reset.
	SpecializedLBFGS bool
	// Emit a progress line every PrintInterval iterations; 0 disables.
	PrintInterval int
}

// New validates the parameters and creates a solver. A nil logger
// defaults to LogIter on stdout so that PrintInterval alone controls
// the progress output.
func (p *Params) New(logger *Logger) (*Solver, error) {

	if logger == nil {
		logger = &Logger{Level: LogIter}
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}

	params := *p
	if params.LBFGSMem == 0 {
		params.LBFGSMem = 10
	}
	if params.MaxIter == 0 {
		params.MaxIter = 100
	}
	if params.MaxTime == 0 {
		params.MaxTime = 5 * time.Minute
	}
	if params.TauMin == 0 {
		params.TauMin = 1.0 / 256
	}
	lip := &params.Lipschitz
	if lip.Epsilon == 0 {
		lip.Epsilon = 1e-6
	}
	if lip.Delta == 0 {
		lip.Delta = 1e-12
	}
	if lip.GammaFactor == 0 {
		lip.GammaFactor = 0.95
	}

	var err error
	switch {
	case params.LBFGSMem < 0:
		err = errors.New("history depth must greater than 0")
	case params.MaxIter < 0:
		err = errors.New("max iteration must greater than 0")
	case params.MaxTime < 0:
		err = errors.New("max time must greater than 0")
	case params.TauMin < 0 || params.TauMin >= 1:
		err = errors.New("minimum line-search parameter must lie in (0,1)")
	case lip.Epsilon < 0:
		err = errors.New("relative perturbation must not less than 0")
	case lip.Delta <= 0:
		err = errors.New("absolute perturbation must greater than 0")
	case lip.GammaFactor <= 0 || lip.GammaFactor >= 1:
		err = errors.New("step size factor must lie in (0,1)")
	case params.PrintInterval < 0:
		err = errors.New("print interval must not less than 0")
	}
	if err != nil {
		return nil, err
	}

	return &Solver{params: params, logger: *logger}, nil
}

// Solver runs the proximal averaged Newton-type iteration for a given
// parameter set. A Solver is reusable across problems and solves; the
// per-solve working memory is allocated on entry to Solve.
type Solver struct {
	params    Params
	logger    Logger
	interrupt atomic.Bool
}

// Interrupt requests an orderly stop of the running solve. It may be
// called from any goroutine; the solve returns with status Interrupted
// at the next outer iteration. The flag is not cleared by Solve, so a
// reused Solver must call ClearInterrupt first.
func (s *Solver) Interrupt() {
	s.interrupt.Store(true)
}

// ClearInterrupt rearms a solver whose interrupt flag was set.
func (s *Solver) ClearInterrupt() {
	s.interrupt.Store(false)
}
