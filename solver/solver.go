// Package solver implements a Levenberg-Marquardt nonlinear least squares minimizer with
// trust-region style damping control and per-iteration callbacks.
package solver

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/logging"
)

// Problem is a sum of squared residuals over a dense parameter vector.
type Problem interface {
	NumParameters() int
	NumResiduals() int
	// Evaluate fills residuals at params. When jacobian is non-nil it has been reset and must be
	// filled with d residual / d params as well.
	Evaluate(params, residuals []float64, jacobian *Jacobian) error
}

// Termination describes why a solve stopped.
type Termination int

// The known terminations.
const (
	DidNotRun Termination = iota
	ParameterTolerance
	FunctionTolerance
	GradientTolerance
	NoConvergence
	NumericalFailure
	UserAbort
	UserSuccess
)

func (t Termination) String() string {
	switch t {
	case DidNotRun:
		return "did not run"
	case ParameterTolerance:
		return "parameter tolerance"
	case FunctionTolerance:
		return "function tolerance"
	case GradientTolerance:
		return "gradient tolerance"
	case NoConvergence:
		return "no convergence"
	case NumericalFailure:
		return "numerical failure"
	case UserAbort:
		return "user abort"
	case UserSuccess:
		return "user success"
	}
	return fmt.Sprintf("termination(%d)", int(t))
}

// Converged reports whether the solve stopped at an acceptable minimum.
func (t Termination) Converged() bool {
	switch t {
	case ParameterTolerance, FunctionTolerance, GradientTolerance, UserSuccess:
		return true
	case DidNotRun, NoConvergence, NumericalFailure, UserAbort:
	}
	return false
}

// CallbackResult tells the solver how to proceed after an iteration.
type CallbackResult int

// The callback results.
const (
	Continue CallbackResult = iota
	Abort
	TerminateSuccessfully
)

// IterationSummary is handed to callbacks once per iteration, including iteration zero.
type IterationSummary struct {
	Iteration    int
	Cost         float64
	StepAccepted bool
	// Parameters is the current solution. Callbacks must not modify it.
	Parameters []float64
}

// Callback observes the solve.
type Callback func(IterationSummary) CallbackResult

// Options controls the solve.
type Options struct {
	MaxIterations            int
	ParameterTolerance       float64
	FunctionTolerance        float64
	GradientTolerance        float64
	InitialTrustRegionRadius float64
	Callbacks                []Callback
	// Logger, when set, receives a debug line per iteration.
	Logger logging.Logger
}

// DefaultOptions returns the usual tolerances.
func DefaultOptions() Options {
	return Options{
		MaxIterations:            50,
		ParameterTolerance:       1e-8,
		FunctionTolerance:        1e-6,
		GradientTolerance:        1e-10,
		InitialTrustRegionRadius: 1e4,
	}
}

// Summary describes a finished solve.
type Summary struct {
	Termination Termination
	Iterations  int
	InitialCost float64
	FinalCost   float64
}

const (
	minDiagonal           = 1e-6
	maxDiagonal           = 1e32
	minRelativeDecrease   = 1e-3
	maxTrustRegionRadius  = 1e16
	minTrustRegionRadius  = 1e-32
	maxConsecutiveFailure = 32
)

// Solve minimizes 0.5 * |r(params)|² in place. An error is only returned when the problem itself
// fails to evaluate; numerical trouble is reported through the summary.
func Solve(problem Problem, params []float64, opts Options) (Summary, error) {
	n := problem.NumParameters()
	m := problem.NumResiduals()
	summary := Summary{Termination: DidNotRun}
	if len(params) != n {
		return summary, errors.Errorf("expected %d parameters, got %d", n, len(params))
	}
	if n == 0 || m == 0 {
		return summary, nil
	}
	if opts.InitialTrustRegionRadius <= 0 {
		opts.InitialTrustRegionRadius = DefaultOptions().InitialTrustRegionRadius
	}

	residuals := make([]float64, m)
	jac := NewJacobian(m, n)
	if err := problem.Evaluate(params, residuals, jac); err != nil {
		return summary, err
	}
	cost := halfSquaredNorm(residuals)
	summary.InitialCost = cost
	summary.FinalCost = cost
	if !isFinite(cost) {
		summary.Termination = NumericalFailure
		return summary, nil
	}

	if term, stop := runCallbacks(opts, IterationSummary{Cost: cost, StepAccepted: true, Parameters: params}); stop {
		summary.Termination = term
		return summary, nil
	}

	radius := opts.InitialTrustRegionRadius
	decreaseFactor := 2.0
	failures := 0

	candidate := make([]float64, n)
	candidateResiduals := make([]float64, m)
	jtj, jtr := jac.normalEquations(residuals)

	for iter := 1; ; iter++ {
		if floats.Norm(jtr, math.Inf(1)) <= opts.GradientTolerance {
			summary.Termination = GradientTolerance
			return summary, nil
		}
		if iter > opts.MaxIterations {
			summary.Termination = NoConvergence
			return summary, nil
		}
		summary.Iterations = iter

		step, ok := dampedStep(jtj, jtr, radius)
		accepted := false
		if ok {
			stepNorm := floats.Norm(step, 2)
			if stepNorm <= (floats.Norm(params, 2)+opts.ParameterTolerance)*opts.ParameterTolerance {
				summary.Termination = ParameterTolerance
				return summary, nil
			}

			floats.AddTo(candidate, params, step)
			if err := problem.Evaluate(candidate, candidateResiduals, nil); err != nil {
				return summary, err
			}
			newCost := halfSquaredNorm(candidateResiduals)

			// Predicted decrease of the linearized model.
			jstep := jac.mulVec(step)
			modelDecrease := -(floats.Dot(jtr, step) + 0.5*floats.Dot(jstep, jstep))
			rho := (cost - newCost) / modelDecrease
			if isFinite(newCost) && modelDecrease > 0 && rho > minRelativeDecrease {
				accepted = true
				relativeChange := math.Abs(cost-newCost) / cost
				copy(params, candidate)
				jac.Reset()
				if err := problem.Evaluate(params, residuals, jac); err != nil {
					return summary, err
				}
				cost = halfSquaredNorm(residuals)
				summary.FinalCost = cost
				jtj, jtr = jac.normalEquations(residuals)

				radius = math.Min(maxTrustRegionRadius, radius/math.Max(1.0/3.0, 1-math.Pow(2*rho-1, 3)))
				decreaseFactor = 2
				failures = 0

				if relativeChange <= opts.FunctionTolerance {
					summary.Termination = FunctionTolerance
					return summary, nil
				}
			}
		}
		if !accepted {
			radius /= decreaseFactor
			decreaseFactor *= 2
			failures++
			if radius < minTrustRegionRadius {
				summary.Termination = ParameterTolerance
				return summary, nil
			}
			if failures > maxConsecutiveFailure {
				summary.Termination = NumericalFailure
				return summary, nil
			}
		}

		if opts.Logger != nil && logging.Verbosity() > 1 {
			opts.Logger.Debugw("lm iteration", "iteration", iter, "cost", cost, "radius", radius, "accepted", accepted)
		}
		if term, stop := runCallbacks(opts, IterationSummary{
			Iteration: iter, Cost: cost, StepAccepted: accepted, Parameters: params,
		}); stop {
			summary.Termination = term
			return summary, nil
		}
	}
}

// dampedStep solves (JᵀJ + D/radius) δ = -Jᵀr where D is the clamped diagonal of JᵀJ.
func dampedStep(jtj *mat.SymDense, jtr []float64, radius float64) ([]float64, bool) {
	n := len(jtr)
	damped := mat.NewSymDense(n, nil)
	damped.CopySym(jtj)
	for i := 0; i < n; i++ {
		d := math.Min(maxDiagonal, math.Max(minDiagonal, jtj.At(i, i)))
		damped.SetSym(i, i, jtj.At(i, i)+d/radius)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(damped); !ok {
		return nil, false
	}
	rhs := mat.NewVecDense(n, nil)
	for i, g := range jtr {
		rhs.SetVec(i, -g)
	}
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, rhs); err != nil {
		return nil, false
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = step.AtVec(i)
		if !isFinite(out[i]) {
			return nil, false
		}
	}
	return out, true
}

func runCallbacks(opts Options, it IterationSummary) (Termination, bool) {
	for _, cb := range opts.Callbacks {
		switch cb(it) {
		case Abort:
			return UserAbort, true
		case TerminateSuccessfully:
			return UserSuccess, true
		case Continue:
		}
	}
	return DidNotRun, false
}

func halfSquaredNorm(r []float64) float64 {
	return 0.5 * floats.Dot(r, r)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
