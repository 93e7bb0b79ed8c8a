// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, LevenbergMarquardt, s)

	s, err = ParseStrategy("gauss-newton")
	require.NoError(t, err)
	assert.Equal(t, GaussNewton, s)

	_, err = ParseStrategy("bfgs")
	require.Error(t, err)

	assert.Equal(t, "levenberg-marquardt", LevenbergMarquardt.String())
	assert.Equal(t, "gauss-newton", GaussNewton.String())
}

func TestParseLoss(t *testing.T) {
	for name, want := range map[string]Loss{
		"":        Linear,
		"linear":  Linear,
		"soft_l1": SoftL1,
		"arctan":  Arctan,
		"cauchy":  Cauchy,
	} {
		got, err := ParseLoss(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseLoss("huber")
	require.Error(t, err)
}

func TestLossRhoProperties(t *testing.T) {
	// All losses agree with linear near zero and grow sub-quadratically.
	for _, l := range []Loss{Linear, SoftL1, Arctan, Cauchy} {
		v, d := l.rho(0)
		assert.InDelta(t, 0, v, 1e-12, l.String())
		assert.InDelta(t, 1, d, 1e-12, l.String())
	}
	for _, l := range []Loss{SoftL1, Arctan, Cauchy} {
		v, d := l.rho(100)
		assert.Less(t, v, 100.0, l.String())
		assert.Less(t, d, 1.0, l.String())
	}
}

// expProblem fits y = a*exp(b*t) on noise-free samples.
func expProblem(a, b float64) Problem {
	const m = 30
	ts := make([]float64, m)
	ys := make([]float64, m)
	for i := range ts {
		ts[i] = float64(i) / 10
		ys[i] = a * math.Exp(b*ts[i])
	}
	return Problem{
		NumResiduals: m,
		Residuals: func(x, out []float64) {
			for i := range out {
				out[i] = x[0]*math.Exp(x[1]*ts[i]) - ys[i]
			}
		},
	}
}

func TestSolveExponentialFit(t *testing.T) {
	res, err := Solve(expProblem(2.0, -1.5), []float64{1, -1}, DefaultOptions())
	require.NoError(t, err)

	assert.InDelta(t, 2.0, res.X[0], 1e-6)
	assert.InDelta(t, -1.5, res.X[1], 1e-6)
	assert.Less(t, res.Cost, 1e-10)
	assert.Len(t, res.Residuals, 30)
}

func TestSolveGaussNewtonLinearProblem(t *testing.T) {
	// Fitting a line is exactly solvable in one Gauss-Newton step.
	const m = 20
	problem := Problem{
		NumResiduals: m,
		Residuals: func(x, out []float64) {
			for i := 0; i < m; i++ {
				ti := float64(i)
				out[i] = x[0]*ti + x[1] - (2*ti + 1)
			}
		},
	}
	opts := DefaultOptions()
	opts.Strategy = GaussNewton

	res, err := Solve(problem, []float64{0, 0}, opts)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.X[0], 1e-6)
	assert.InDelta(t, 1.0, res.X[1], 1e-6)
}

func TestSolveRobustLossRejectsOutliers(t *testing.T) {
	// Line fit with three gross outliers.
	const m = 25
	ys := make([]float64, m)
	for i := range ys {
		ys[i] = 2*float64(i) + 1
	}
	ys[4] += 50
	ys[11] += 50
	ys[19] -= 50

	problem := Problem{
		NumResiduals: m,
		Residuals: func(x, out []float64) {
			for i := 0; i < m; i++ {
				out[i] = x[0]*float64(i) + x[1] - ys[i]
			}
		},
	}

	linOpts := DefaultOptions()
	linRes, err := Solve(problem, []float64{0, 0}, linOpts)
	require.NoError(t, err)

	robOpts := DefaultOptions()
	robOpts.Loss = Cauchy
	robRes, err := Solve(problem, []float64{0, 0}, robOpts)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, robRes.X[0], 0.1, "robust slope")
	assert.Less(t, math.Abs(robRes.X[0]-2), math.Abs(linRes.X[0]-2),
		"robust fit should beat plain least squares on contaminated data")
}

func TestSolveDivergence(t *testing.T) {
	// Rosenbrock valley: far too hard for two iterations.
	problem := Problem{
		NumResiduals: 2,
		Residuals: func(x, out []float64) {
			out[0] = 10 * (x[1] - x[0]*x[0])
			out[1] = 1 - x[0]
		},
	}
	opts := DefaultOptions()
	opts.MaxIterations = 2

	_, err := Solve(problem, []float64{-1.2, 1}, opts)
	require.Error(t, err)
	var div *DivergenceError
	require.ErrorAs(t, err, &div)
	assert.Contains(t, div.Error(), "no convergence")
}

func TestSolveRejectsUnderdeterminedProblem(t *testing.T) {
	problem := Problem{
		NumResiduals: 1,
		Residuals:    func(x, out []float64) { out[0] = x[0] + x[1] },
	}
	_, err := Solve(problem, []float64{0, 0}, DefaultOptions())
	require.Error(t, err)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.LossScale = 0
	assert.Error(t, bad.Validate())

	bad = DefaultOptions()
	bad.MaxIterations = 0
	assert.Error(t, bad.Validate())

	bad = DefaultOptions()
	bad.StepTolerance = 0
	assert.Error(t, bad.Validate())
}
