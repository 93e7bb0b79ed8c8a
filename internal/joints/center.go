// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package joints estimates functional joint parameters (centers of rotation,
// hinge axes) from paired MIMU streams on adjacent body segments.
package joints

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/hip_kinematics/internal/filters"
	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/orientation"
	"github.com/relabs-tech/hip_kinematics/internal/solver"
)

// CenterMethod selects the joint-center fitting scheme.
type CenterMethod int

const (
	// MethodSAC wraps the linear stacked least-squares fit in a seeded
	// sample-consensus loop: minimal subsets are fitted, all samples scored,
	// and the largest inlier set refitted. Robust to soft-tissue artifact
	// and sensor slippage.
	MethodSAC CenterMethod = iota
	// MethodSSFC fits all retained samples directly with a nonlinear
	// magnitude-difference residual and a configurable robust loss.
	MethodSSFC
)

// ParseCenterMethod maps a configuration string onto a CenterMethod.
func ParseCenterMethod(s string) (CenterMethod, error) {
	switch s {
	case "", "SAC", "sac":
		return MethodSAC, nil
	case "SSFC", "ssfc":
		return MethodSSFC, nil
	}
	return 0, fmt.Errorf("joints: unknown center method %q", s)
}

// MaskData selects which channel drives the high-motion input mask.
type MaskData int

const (
	// MaskAccel keeps samples whose acceleration magnitude deviates from
	// gravity on both sensors.
	MaskAccel MaskData = iota
	// MaskGyro keeps samples whose angular rate magnitude exceeds a
	// threshold on both sensors.
	MaskGyro
)

// ParseMaskData maps a configuration string onto a MaskData.
func ParseMaskData(s string) (MaskData, error) {
	switch s {
	case "", "acc", "accel":
		return MaskAccel, nil
	case "gyr", "gyro":
		return MaskGyro, nil
	}
	return 0, fmt.Errorf("joints: unknown mask data %q", s)
}

// ConsensusOptions tunes the sample-consensus loop used by MethodSAC.
type ConsensusOptions struct {
	// Trials is the number of random minimal subsets to fit.
	Trials int `yaml:"trials"`
	// SubsetSize is the number of samples per minimal subset.
	SubsetSize int `yaml:"subset_size"`
	// InlierThreshold is the per-sample residual bound in m/s^2.
	InlierThreshold float64 `yaml:"inlier_threshold"`
	// Seed makes subset sampling reproducible.
	Seed int64 `yaml:"seed"`
}

// CenterOptions configures joint-center estimation.
type CenterOptions struct {
	Gravity    float64
	Method     CenterMethod
	MaskInput  bool
	MaskData   MaskData
	MinSamples int
	Consensus  ConsensusOptions
	Solver     solver.Options
	// Band limits the angular-acceleration differentiation.
	Band filters.Band
}

// DefaultCenterOptions returns the defaults used for hip trials.
func DefaultCenterOptions() CenterOptions {
	so := solver.DefaultOptions()
	so.Loss = solver.Arctan
	so.LossScale = 0.5
	return CenterOptions{
		Gravity:    imu.Gravity,
		Method:     MethodSAC,
		MaskInput:  true,
		MaskData:   MaskAccel,
		MinSamples: 1000,
		Consensus: ConsensusOptions{
			Trials:          100,
			SubsetSize:      24,
			InlierThreshold: 0.5,
			Seed:            1,
		},
		Solver: so,
		Band:   filters.Band{Low: 0, High: 12},
	}
}

// Validate rejects unusable configurations.
func (o CenterOptions) Validate() error {
	if o.Gravity <= 0 {
		return fmt.Errorf("joints: gravity must be positive (got %g)", o.Gravity)
	}
	if o.MinSamples < 10 {
		return fmt.Errorf("joints: min samples must be at least 10 (got %d)", o.MinSamples)
	}
	if o.Method == MethodSAC {
		if o.Consensus.Trials < 1 {
			return fmt.Errorf("joints: consensus trials must be at least 1 (got %d)", o.Consensus.Trials)
		}
		if o.Consensus.SubsetSize < 2 {
			return fmt.Errorf("joints: consensus subset size must be at least 2 (got %d)", o.Consensus.SubsetSize)
		}
		if o.Consensus.InlierThreshold <= 0 {
			return fmt.Errorf("joints: inlier threshold must be positive (got %g)", o.Consensus.InlierThreshold)
		}
	}
	return o.Solver.Validate()
}

// CenterEstimate is a fitted joint center: the vector from the joint center
// to each sensor, expressed in that sensor's local frame.
type CenterEstimate struct {
	Prox r3.Vector
	Dist r3.Vector
	// Residual is the RMS per-sample residual over the samples used.
	Residual float64
	// Inliers marks, per input sample, whether the sample contributed to the
	// final fit. For MethodSSFC this equals the input mask.
	Inliers []bool
	// InlierCount is the number of true entries in Inliers.
	InlierCount int
}

// EstimateCenter fits the ball-joint model to a proximal/distal stream pair.
// Instantaneous accelerations are explained by rigid-body kinematics about an
// unknown fixed offset per sensor: a = a_center + w x (w x r) + wd x r.
//
// rel must hold the per-sample rotation from the distal into the proximal
// sensor frame (from the orientation estimator); it is required by the
// linear fit inside MethodSAC and, when present, seeds the nonlinear fit
// of MethodSSFC.
func EstimateCenter(prox, dist *imu.Stream, rel []orientation.Quaternion, opts CenterOptions) (*CenterEstimate, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := imu.ValidatePair("joint center", prox, dist); err != nil {
		return nil, err
	}
	n := prox.Len()
	if opts.Method == MethodSAC && len(rel) != n {
		return nil, &imu.ShapeError{
			Context: "joint center",
			Detail:  fmt.Sprintf("relative rotation series has %d samples, streams have %d", len(rel), n),
		}
	}

	if err := checkObservable("center", prox, dist); err != nil {
		return nil, err
	}

	proxWD, err := filters.AngularAcceleration(prox.Gyro, prox.SampleRate, opts.Band)
	if err != nil {
		return nil, err
	}
	distWD, err := filters.AngularAcceleration(dist.Gyro, dist.SampleRate, opts.Band)
	if err != nil {
		return nil, err
	}

	idx, err := maskSamples(prox, dist, opts)
	if err != nil {
		return nil, err
	}

	switch opts.Method {
	case MethodSAC:
		return consensusCenter(prox, dist, proxWD, distWD, rel, idx, opts)
	case MethodSSFC:
		return sphericalCenter(prox, dist, proxWD, distWD, rel, idx, opts)
	}
	return nil, fmt.Errorf("joints: unknown center method %d", opts.Method)
}

// checkObservable rejects trials without enough rotational motion for the
// center to be observable at all.
func checkObservable(estimator string, prox, dist *imu.Stream) error {
	var peak float64
	for i := 0; i < prox.Len(); i++ {
		peak = math.Max(peak, math.Min(prox.Gyro[i].Norm(), dist.Gyro[i].Norm()))
	}
	if peak < 0.2 {
		return &DegenerateGeometryError{
			Estimator: estimator,
			Detail:    fmt.Sprintf("peak shared angular rate %.3f rad/s below 0.2", peak),
		}
	}
	return nil
}

// maskSamples returns the indices retained for fitting. The threshold is
// relaxed in steps until MinSamples survive; running out of slack reports
// insufficient motion.
func maskSamples(prox, dist *imu.Stream, opts CenterOptions) ([]int, error) {
	n := prox.Len()
	if !opts.MaskInput {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}

	keep := func(i int, thresh float64) bool {
		switch opts.MaskData {
		case MaskGyro:
			return prox.Gyro[i].Norm() > thresh && dist.Gyro[i].Norm() > thresh
		default:
			pa := math.Abs(prox.Accel[i].Norm() - opts.Gravity)
			da := math.Abs(dist.Accel[i].Norm() - opts.Gravity)
			return pa > thresh && da > thresh
		}
	}

	// Starting threshold, relaxation step and floor follow the published
	// accelerometer masking scheme; the gyro variant uses rad/s analogues.
	thresh, step, floor := 0.8, 0.05, 0.09
	if opts.MaskData == MaskGyro {
		thresh, step, floor = 3.0, 0.15, 0.25
	}

	for {
		var idx []int
		for i := 0; i < n; i++ {
			if keep(i, thresh) {
				idx = append(idx, i)
			}
		}
		if len(idx) >= opts.MinSamples {
			return idx, nil
		}
		thresh -= step
		if thresh < floor {
			return nil, &InsufficientMotionError{
				Estimator: "center",
				Needed:    opts.MinSamples,
				Got:       len(idx),
				Detail:    "trial has too little high-motion data; use another trial",
			}
		}
	}
}

// kinematicMatrix builds the skew-symmetric product matrix K such that
// K r = w x (w x r) + wd x r.
func kinematicMatrix(w, wd r3.Vector) [3][3]float64 {
	return [3][3]float64{
		{-w.Y*w.Y - w.Z*w.Z, w.X*w.Y - wd.Z, wd.Y + w.X*w.Z},
		{wd.Z + w.X*w.Y, -w.X*w.X - w.Z*w.Z, w.Y*w.Z - wd.X},
		{w.X*w.Z - wd.Y, wd.X + w.Y*w.Z, -w.X*w.X - w.Y*w.Y},
	}
}

// linearFit solves the stacked system K1 r1 - R K2 r2 = a1 - R a2 over the
// given sample indices by linear least squares.
func linearFit(prox, dist *imu.Stream, proxWD, distWD []r3.Vector, rel []orientation.Quaternion, idx []int) ([6]float64, error) {
	rows := 3 * len(idx)
	a := mat.NewDense(rows, 6, nil)
	b := mat.NewVecDense(rows, nil)

	for k, i := range idx {
		k1 := kinematicMatrix(prox.Gyro[i], proxWD[i])
		k2 := kinematicMatrix(dist.Gyro[i], distWD[i])
		rm := rel[i].RotationMatrix()

		// -R*K2 block and b = a1 - R*a2.
		var rk2 [3][3]float64
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				rk2[r][c] = rm[r][0]*k2[0][c] + rm[r][1]*k2[1][c] + rm[r][2]*k2[2][c]
			}
		}
		ra2 := rel[i].Rotate(dist.Accel[i])
		rhs := prox.Accel[i].Sub(ra2)

		base := 3 * k
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				a.Set(base+r, c, k1[r][c])
				a.Set(base+r, 3+c, -rk2[r][c])
			}
		}
		b.SetVec(base+0, rhs.X)
		b.SetVec(base+1, rhs.Y)
		b.SetVec(base+2, rhs.Z)
	}

	var qr mat.QR
	qr.Factorize(a)
	x := mat.NewDense(6, 1, nil)
	if err := qr.SolveTo(x, false, b); err != nil {
		return [6]float64{}, fmt.Errorf("joints: center linear solve: %w", err)
	}
	var out [6]float64
	for j := 0; j < 6; j++ {
		out[j] = x.At(j, 0)
	}
	return out, nil
}

// linearResidual scores one sample against a candidate center pair.
func linearResidual(prox, dist *imu.Stream, proxWD, distWD []r3.Vector, rel []orientation.Quaternion, r [6]float64, i int) float64 {
	r1 := r3.Vector{X: r[0], Y: r[1], Z: r[2]}
	r2 := r3.Vector{X: r[3], Y: r[4], Z: r[5]}
	at1 := prox.Accel[i].Sub(applyKinematic(prox.Gyro[i], proxWD[i], r1))
	at2 := dist.Accel[i].Sub(applyKinematic(dist.Gyro[i], distWD[i], r2))
	return at1.Sub(rel[i].Rotate(at2)).Norm()
}

func applyKinematic(w, wd, r r3.Vector) r3.Vector {
	return w.Cross(w.Cross(r)).Add(wd.Cross(r))
}

// sphericalCenter fits the magnitude-difference residual over the retained
// samples with the configured robust loss. The magnitude residual has
// spurious stationary points near the origin, so the solve is seeded from
// the linear fit whenever relative rotations are available.
func sphericalCenter(prox, dist *imu.Stream, proxWD, distWD []r3.Vector, rel []orientation.Quaternion, idx []int, opts CenterOptions) (*CenterEstimate, error) {
	if len(idx) < opts.MinSamples {
		return nil, &InsufficientMotionError{
			Estimator: "center", Needed: opts.MinSamples, Got: len(idx),
			Detail: "after masking",
		}
	}
	problem := solver.Problem{
		NumResiduals: len(idx),
		Residuals: func(x, out []float64) {
			r1 := r3.Vector{X: x[0], Y: x[1], Z: x[2]}
			r2 := r3.Vector{X: x[3], Y: x[4], Z: x[5]}
			for k, i := range idx {
				at1 := prox.Accel[i].Sub(applyKinematic(prox.Gyro[i], proxWD[i], r1))
				at2 := dist.Accel[i].Sub(applyKinematic(dist.Gyro[i], distWD[i], r2))
				out[k] = at1.Norm() - at2.Norm()
			}
		},
	}
	x0 := make([]float64, 6)
	if len(rel) == prox.Len() {
		if seed, err := linearFit(prox, dist, proxWD, distWD, rel, idx); err == nil {
			copy(x0, seed[:])
		}
	}
	res, err := solver.Solve(problem, x0, opts.Solver)
	if err != nil {
		return nil, fmt.Errorf("joints: center fit: %w", err)
	}

	inliers := make([]bool, prox.Len())
	for _, i := range idx {
		inliers[i] = true
	}
	var ss float64
	for _, r := range res.Residuals {
		ss += r * r
	}
	return &CenterEstimate{
		Prox:        r3.Vector{X: res.X[0], Y: res.X[1], Z: res.X[2]},
		Dist:        r3.Vector{X: res.X[3], Y: res.X[4], Z: res.X[5]},
		Residual:    math.Sqrt(ss / float64(len(idx))),
		Inliers:     inliers,
		InlierCount: len(idx),
	}, nil
}
