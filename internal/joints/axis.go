// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package joints

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/solver"
)

// AxisOptions configures hinge-axis estimation.
type AxisOptions struct {
	Solver solver.Options
	// MinSamples is the minimum number of samples with usable rotation.
	MinSamples int
}

// DefaultAxisOptions returns the defaults used for knee
// flexion/extension trials.
func DefaultAxisOptions() AxisOptions {
	so := solver.DefaultOptions()
	so.Loss = solver.Arctan
	so.LossScale = 0.5
	return AxisOptions{Solver: so, MinSamples: 200}
}

// AxisEstimate is a fitted hinge axis, as a unit direction in each sensor's
// local frame. The direction is ambiguous up to sign; callers apply the
// anatomical sign convention downstream.
type AxisEstimate struct {
	Prox r3.Vector
	Dist r3.Vector
	// Residual is the RMS per-sample residual of the hinge constraint.
	Residual float64
}

// EstimateKneeAxis fits a fixed hinge axis to a motion in which the relative
// rotation between the two sensors is dominated by a single axis. For a pure
// hinge, the component of each sensor's angular velocity orthogonal to the
// hinge axis has equal magnitude on both sides, so the fit minimizes
// |w1 x j1| - |w2 x j2| over unit axes j1, j2 parameterized in spherical
// coordinates.
func EstimateKneeAxis(prox, dist *imu.Stream, opts AxisOptions) (*AxisEstimate, error) {
	if err := opts.Solver.Validate(); err != nil {
		return nil, err
	}
	if err := imu.ValidatePair("knee axis", prox, dist); err != nil {
		return nil, err
	}
	if err := checkObservable("axis", prox, dist); err != nil {
		return nil, err
	}

	// Retain samples with meaningful relative rotation.
	var idx []int
	for i := 0; i < prox.Len(); i++ {
		if prox.Gyro[i].Norm() > 0.15 || dist.Gyro[i].Norm() > 0.15 {
			idx = append(idx, i)
		}
	}
	if len(idx) < opts.MinSamples {
		return nil, &InsufficientMotionError{
			Estimator: "axis",
			Needed:    opts.MinSamples,
			Got:       len(idx),
			Detail:    "too few samples with rotation above 0.15 rad/s",
		}
	}

	// Deterministic initialization: dominant angular velocity direction of
	// each sensor over the retained samples.
	t1, p1 := toSpherical(principalDirection(prox.Gyro, idx))
	t2, p2 := toSpherical(principalDirection(dist.Gyro, idx))
	x0 := []float64{t1, p1, t2, p2}

	problem := solver.Problem{
		NumResiduals: len(idx),
		Residuals: func(x, out []float64) {
			j1 := fromSpherical(x[0], x[1])
			j2 := fromSpherical(x[2], x[3])
			for k, i := range idx {
				out[k] = prox.Gyro[i].Cross(j1).Norm() - dist.Gyro[i].Cross(j2).Norm()
			}
		},
	}
	res, err := solver.Solve(problem, x0, opts.Solver)
	if err != nil {
		return nil, fmt.Errorf("joints: axis fit: %w", err)
	}

	j1 := fromSpherical(res.X[0], res.X[1])
	j2 := fromSpherical(res.X[2], res.X[3])

	// Canonical hemisphere: align each axis with its sensor's mean rotation.
	if j1.Dot(meanVec(prox.Gyro, idx)) < 0 {
		j1 = j1.Mul(-1)
	}
	if j2.Dot(meanVec(dist.Gyro, idx)) < 0 {
		j2 = j2.Mul(-1)
	}

	var ss float64
	for _, r := range res.Residuals {
		ss += r * r
	}
	return &AxisEstimate{
		Prox:     j1,
		Dist:     j2,
		Residual: math.Sqrt(ss / float64(len(idx))),
	}, nil
}

// fromSpherical maps polar angle theta and azimuth phi onto a unit vector.
func fromSpherical(theta, phi float64) r3.Vector {
	return r3.Vector{
		X: math.Sin(theta) * math.Cos(phi),
		Y: math.Sin(theta) * math.Sin(phi),
		Z: math.Cos(theta),
	}
}

func toSpherical(v r3.Vector) (theta, phi float64) {
	u := v.Normalize()
	return math.Acos(math.Max(-1, math.Min(1, u.Z))), math.Atan2(u.Y, u.X)
}

// principalDirection returns the dominant direction of a vector set via
// power iteration on the (sign-folded) outer-product sum.
func principalDirection(vs []r3.Vector, idx []int) r3.Vector {
	// Fold signs so opposing rotations reinforce one axis.
	ref := vs[idx[0]]
	var m [3][3]float64
	for _, i := range idx {
		v := vs[i]
		if v.Dot(ref) < 0 {
			v = v.Mul(-1)
		}
		m[0][0] += v.X * v.X
		m[0][1] += v.X * v.Y
		m[0][2] += v.X * v.Z
		m[1][1] += v.Y * v.Y
		m[1][2] += v.Y * v.Z
		m[2][2] += v.Z * v.Z
	}
	m[1][0], m[2][0], m[2][1] = m[0][1], m[0][2], m[1][2]

	u := r3.Vector{X: 1, Y: 1, Z: 1}.Normalize()
	for iter := 0; iter < 50; iter++ {
		u = r3.Vector{
			X: m[0][0]*u.X + m[0][1]*u.Y + m[0][2]*u.Z,
			Y: m[1][0]*u.X + m[1][1]*u.Y + m[1][2]*u.Z,
			Z: m[2][0]*u.X + m[2][1]*u.Y + m[2][2]*u.Z,
		}
		n := u.Norm()
		if n == 0 {
			return r3.Vector{Z: 1}
		}
		u = u.Mul(1 / n)
	}
	return u
}

func meanVec(vs []r3.Vector, idx []int) r3.Vector {
	var m r3.Vector
	ref := vs[idx[0]]
	for _, i := range idx {
		v := vs[i]
		if v.Dot(ref) < 0 {
			v = v.Mul(-1)
		}
		m = m.Add(v)
	}
	return m.Mul(1 / float64(len(idx)))
}
