// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package solver implements damped nonlinear least squares with robust loss
// functions. It backs the joint-center and joint-axis estimators.
package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Strategy selects the iteration scheme. The set is closed: every strategy
// maps (options, residual function) to fitted parameters.
type Strategy int

const (
	// LevenbergMarquardt adaptively dampens Gauss-Newton steps.
	LevenbergMarquardt Strategy = iota
	// GaussNewton takes undamped steps; faster on well-conditioned problems.
	GaussNewton
)

// ParseStrategy maps a configuration string onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "lm", "levenberg-marquardt":
		return LevenbergMarquardt, nil
	case "gauss-newton", "gn":
		return GaussNewton, nil
	}
	return 0, fmt.Errorf("solver: unknown strategy %q", s)
}

func (s Strategy) String() string {
	switch s {
	case LevenbergMarquardt:
		return "levenberg-marquardt"
	case GaussNewton:
		return "gauss-newton"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Loss selects the robust loss applied to squared residuals. Sub-quadratic
// losses down-weight outliers such as soft-tissue artifact samples.
type Loss int

const (
	Linear Loss = iota
	SoftL1
	Arctan
	Cauchy
)

// ParseLoss maps a configuration string onto a Loss.
func ParseLoss(s string) (Loss, error) {
	switch s {
	case "", "linear":
		return Linear, nil
	case "soft_l1":
		return SoftL1, nil
	case "arctan":
		return Arctan, nil
	case "cauchy":
		return Cauchy, nil
	}
	return 0, fmt.Errorf("solver: unknown loss %q", s)
}

func (l Loss) String() string {
	switch l {
	case Linear:
		return "linear"
	case SoftL1:
		return "soft_l1"
	case Arctan:
		return "arctan"
	case Cauchy:
		return "cauchy"
	}
	return fmt.Sprintf("Loss(%d)", int(l))
}

// rho evaluates the loss and its derivative at z = (r/scale)^2.
func (l Loss) rho(z float64) (val, deriv float64) {
	switch l {
	case SoftL1:
		s := math.Sqrt(1 + z)
		return 2 * (s - 1), 1 / s
	case Arctan:
		return math.Atan(z), 1 / (1 + z*z)
	case Cauchy:
		return math.Log1p(z), 1 / (1 + z)
	default:
		return z, 1
	}
}

// Options configures a solve.
type Options struct {
	Strategy          Strategy
	Loss              Loss
	LossScale         float64
	MaxIterations     int
	GradientTolerance float64
	StepTolerance     float64
}

// DefaultOptions returns the solver tuning shared by the estimators.
func DefaultOptions() Options {
	return Options{
		Strategy:          LevenbergMarquardt,
		Loss:              Linear,
		LossScale:         1.0,
		MaxIterations:     200,
		GradientTolerance: 1e-10,
		StepTolerance:     1e-12,
	}
}

// Validate rejects unusable option combinations.
func (o Options) Validate() error {
	if o.LossScale <= 0 {
		return fmt.Errorf("solver: loss scale must be positive (got %g)", o.LossScale)
	}
	if o.MaxIterations < 1 {
		return fmt.Errorf("solver: max iterations must be at least 1 (got %d)", o.MaxIterations)
	}
	if o.GradientTolerance <= 0 || o.StepTolerance <= 0 {
		return fmt.Errorf("solver: tolerances must be positive (got %g, %g)", o.GradientTolerance, o.StepTolerance)
	}
	return nil
}

// Problem is a residual vector to minimize in the least-squares sense.
type Problem struct {
	// NumResiduals is the length of the residual vector.
	NumResiduals int
	// Residuals writes the residuals at x into out (len NumResiduals).
	Residuals func(x, out []float64)
	// Jacobian optionally writes the m-by-n Jacobian at x. When nil, a
	// forward-difference approximation is used.
	Jacobian func(x []float64, j *mat.Dense)
}

// Result is a converged fit.
type Result struct {
	// X holds the fitted parameters.
	X []float64
	// Cost is the final robust cost, 0.5 * scale^2 * sum rho((r/scale)^2).
	Cost float64
	// Residuals holds the raw (unweighted) residuals at X.
	Residuals []float64
	// Iterations counts accepted iterations.
	Iterations int
}

// DivergenceError reports a solve that exhausted its iteration budget
// without meeting the gradient or step tolerances.
type DivergenceError struct {
	Iterations int
	Cost       float64
	GradNorm   float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("solver: no convergence after %d iterations (cost %.6g, gradient norm %.3g)",
		e.Iterations, e.Cost, e.GradNorm)
}

// Solve minimizes the robust least-squares cost of p starting from x0.
func Solve(p Problem, x0 []float64, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if p.NumResiduals < len(x0) {
		return nil, fmt.Errorf("solver: %d residuals cannot determine %d parameters", p.NumResiduals, len(x0))
	}

	n := len(x0)
	m := p.NumResiduals
	x := append([]float64(nil), x0...)

	r := make([]float64, m)
	p.Residuals(x, r)
	cost := robustCost(r, opts)

	jac := mat.NewDense(m, n, nil)
	lambda := 1e-3
	if opts.Strategy == GaussNewton {
		lambda = 0
	}

	var iterations int
	for iterations = 0; iterations < opts.MaxIterations; iterations++ {
		evalJacobian(p, x, r, jac)

		// Robust weighting: scale residual and Jacobian rows by sqrt(rho').
		wr := make([]float64, m)
		wj := mat.NewDense(m, n, nil)
		for i := 0; i < m; i++ {
			z := (r[i] / opts.LossScale) * (r[i] / opts.LossScale)
			_, d := opts.Loss.rho(z)
			w := math.Sqrt(d)
			wr[i] = w * r[i]
			for j := 0; j < n; j++ {
				wj.Set(i, j, w*jac.At(i, j))
			}
		}

		// Normal equations: (J'J + lambda diag(J'J)) step = -J'r.
		var jtj mat.Dense
		jtj.Mul(wj.T(), wj)
		grad := make([]float64, n)
		for j := 0; j < n; j++ {
			var g float64
			for i := 0; i < m; i++ {
				g += wj.At(i, j) * wr[i]
			}
			grad[j] = g
		}
		gradNorm := infNorm(grad)
		if gradNorm < opts.GradientTolerance {
			return finish(p, x, iterations, opts), nil
		}

		accepted := false
		for try := 0; try < 40; try++ {
			a := mat.DenseCopyOf(&jtj)
			for j := 0; j < n; j++ {
				d := jtj.At(j, j)
				if d == 0 {
					d = 1
				}
				a.Set(j, j, d+lambda*d)
			}
			step := mat.NewVecDense(n, nil)
			negGrad := mat.NewVecDense(n, nil)
			for j := 0; j < n; j++ {
				negGrad.SetVec(j, -grad[j])
			}
			if err := step.SolveVec(a, negGrad); err != nil {
				if opts.Strategy == GaussNewton {
					return nil, fmt.Errorf("solver: singular normal equations: %w", err)
				}
				lambda *= 10
				continue
			}

			trial := make([]float64, n)
			for j := 0; j < n; j++ {
				trial[j] = x[j] + step.AtVec(j)
			}
			rTrial := make([]float64, m)
			p.Residuals(trial, rTrial)
			costTrial := robustCost(rTrial, opts)

			if costTrial < cost || opts.Strategy == GaussNewton {
				stepNorm := vecNorm(step)
				x = trial
				copy(r, rTrial)
				cost = costTrial
				if opts.Strategy == LevenbergMarquardt && lambda > 1e-12 {
					lambda /= 3
				}
				accepted = true
				if stepNorm < opts.StepTolerance*(sliceNorm(x)+opts.StepTolerance) {
					return finish(p, x, iterations+1, opts), nil
				}
				break
			}
			if opts.Strategy == GaussNewton {
				break
			}
			lambda *= 10
		}
		if !accepted {
			// Damping saturated without improvement: treat the current
			// point as stationary if the gradient is small, else report.
			if gradNorm < math.Sqrt(opts.GradientTolerance) {
				return finish(p, x, iterations, opts), nil
			}
			return nil, &DivergenceError{Iterations: iterations, Cost: cost, GradNorm: gradNorm}
		}
	}

	r2 := make([]float64, m)
	p.Residuals(x, r2)
	return nil, &DivergenceError{Iterations: iterations, Cost: robustCost(r2, opts), GradNorm: math.NaN()}
}

func finish(p Problem, x []float64, iters int, opts Options) *Result {
	r := make([]float64, p.NumResiduals)
	p.Residuals(x, r)
	return &Result{
		X:          x,
		Cost:       robustCost(r, opts),
		Residuals:  r,
		Iterations: iters,
	}
}

func robustCost(r []float64, opts Options) float64 {
	s2 := opts.LossScale * opts.LossScale
	var c float64
	for _, ri := range r {
		v, _ := opts.Loss.rho(ri * ri / s2)
		c += v
	}
	return 0.5 * s2 * c
}

func evalJacobian(p Problem, x, r []float64, jac *mat.Dense) {
	if p.Jacobian != nil {
		p.Jacobian(x, jac)
		return
	}
	n := len(x)
	m := p.NumResiduals
	xp := append([]float64(nil), x...)
	rp := make([]float64, m)
	for j := 0; j < n; j++ {
		h := math.Sqrt(2.2e-16) * math.Max(math.Abs(x[j]), 1)
		xp[j] = x[j] + h
		p.Residuals(xp, rp)
		for i := 0; i < m; i++ {
			jac.Set(i, j, (rp[i]-r[i])/h)
		}
		xp[j] = x[j]
	}
}

func infNorm(v []float64) float64 {
	var n float64
	for _, x := range v {
		n = math.Max(n, math.Abs(x))
	}
	return n
}

func sliceNorm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func vecNorm(v *mat.VecDense) float64 {
	var s float64
	for i := 0; i < v.Len(); i++ {
		s += v.AtVec(i) * v.AtVec(i)
	}
	return math.Sqrt(s)
}
