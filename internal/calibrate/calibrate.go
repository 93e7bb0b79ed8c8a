// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibrate fits the fixed sensor-to-segment alignments from a
// static pose and a star calibration movement.
//
// Mounting assumption: each sensor is worn so that its +Z axis points
// roughly toward the subject's right. The static pose fixes the segment long
// axis from gravity; the star movement fixes the mediolateral axis from the
// dominant flexion direction; the hemisphere of that axis is resolved with
// the mounting assumption.
package calibrate

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/joints"
	"github.com/relabs-tech/hip_kinematics/internal/orientation"
)

// Options tunes joint calibration.
type Options struct {
	Axis joints.AxisOptions
	// MaxStaticGyro is the largest mean angular rate (rad/s) accepted as a
	// static pose.
	MaxStaticGyro float64
	// MaxStaticAccelDev is the largest accepted deviation of the mean static
	// acceleration magnitude from gravity, in m/s^2.
	MaxStaticAccelDev float64
}

// DefaultOptions returns the calibration defaults.
func DefaultOptions() Options {
	return Options{
		Axis:              joints.DefaultAxisOptions(),
		MaxStaticGyro:     0.1,
		MaxStaticAccelDev: 1.0,
	}
}

// StaticStats summarizes a static-pose recording for one sensor.
type StaticStats struct {
	// GravitySensor is the unit gravity (up) direction in the sensor frame.
	GravitySensor r3.Vector
	// GyroBias is the mean angular rate during the pose.
	GyroBias r3.Vector
	// AccelMag is the mean acceleration magnitude.
	AccelMag float64
}

// AnalyzeStatic derives gravity direction and gyro bias from a static pose.
func AnalyzeStatic(s *imu.Stream, opts Options) (*StaticStats, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var aSum, gSum r3.Vector
	for i := 0; i < s.Len(); i++ {
		aSum = aSum.Add(s.Accel[i])
		gSum = gSum.Add(s.Gyro[i])
	}
	n := float64(s.Len())
	aMean := aSum.Mul(1 / n)
	gMean := gSum.Mul(1 / n)

	if gMean.Norm() > opts.MaxStaticGyro {
		return nil, fmt.Errorf("calibrate: static pose has mean angular rate %.3f rad/s (max %.3f); subject was moving",
			gMean.Norm(), opts.MaxStaticGyro)
	}
	if dev := math.Abs(aMean.Norm() - imu.Gravity); dev > opts.MaxStaticAccelDev {
		return nil, fmt.Errorf("calibrate: static acceleration magnitude off gravity by %.2f m/s^2 (max %.2f)",
			dev, opts.MaxStaticAccelDev)
	}
	return &StaticStats{
		GravitySensor: aMean.Normalize(),
		GyroBias:      gMean,
		AccelMag:      aMean.Norm(),
	}, nil
}

// SegmentFrame builds the sensor-to-segment rotation from the sensor-frame
// gravity (up) direction and mediolateral (right) axis. The returned
// quaternion maps sensor-frame vectors into the segment frame (X anterior,
// Y up, Z right); the residual is the angle in radians by which the
// mediolateral axis had to be tilted to sit orthogonal to gravity.
func SegmentFrame(up, right r3.Vector) (orientation.Quaternion, float64, error) {
	y := up.Normalize()
	zRaw := right.Sub(y.Mul(right.Dot(y)))
	if zRaw.Norm() < 1e-6 {
		return orientation.Identity(), 0,
			fmt.Errorf("calibrate: mediolateral axis parallel to gravity; frames are degenerate")
	}
	z := zRaw.Normalize()
	x := y.Cross(z)

	residual := math.Acos(math.Max(-1, math.Min(1, right.Normalize().Dot(z))))

	// Rows are the segment axes expressed in the sensor frame, so the matrix
	// maps sensor coordinates into segment coordinates.
	m := [3][3]float64{
		{x.X, x.Y, x.Z},
		{y.X, y.Y, y.Z},
		{z.X, z.Y, z.Z},
	}
	return orientation.FromRotationMatrix(m), residual, nil
}

// SensorCalibration is the fitted per-sensor calibration. Immutable once
// computed.
type SensorCalibration struct {
	// Alignment maps sensor-frame vectors into the segment frame.
	Alignment orientation.Quaternion `json:"alignment"`
	// GyroBias from the static pose, subtracted before orientation
	// estimation and joint fitting.
	GyroBias r3.Vector `json:"gyro_bias"`
	// Residual is the mediolateral-axis fit residual in radians.
	Residual float64 `json:"residual"`
}

// JointCalibration is the fitted calibration for one hip: the proximal
// (pelvis) and distal (thigh) sensor alignments plus diagnostics from the
// star-movement axis fit.
type JointCalibration struct {
	Prox SensorCalibration      `json:"prox"`
	Dist SensorCalibration      `json:"dist"`
	Axis *joints.AxisEstimate   `json:"axis"`
	Star *joints.CenterEstimate `json:"center,omitempty"`
}

// CalibrateJoint fits sensor-to-segment alignments for one joint from a
// static pose and a star movement. The static block fixes gravity and gyro
// bias per sensor; the star block is used to observe the dominant flexion
// axis between the two sensors, which becomes the shared mediolateral axis.
//
// hingeAxis optionally supplies an externally fitted hinge axis (e.g. from a
// knee flexion trial) for the distal sensor, overriding the star-derived
// axis direction to disambiguate the coronal plane.
func CalibrateJoint(staticProx, staticDist, starProx, starDist *imu.Stream, hingeAxis *r3.Vector, opts Options) (*JointCalibration, error) {
	if err := imu.ValidatePair("calibration static", staticProx, staticDist); err != nil {
		return nil, err
	}
	if err := imu.ValidatePair("calibration star", starProx, starDist); err != nil {
		return nil, err
	}

	proxStatic, err := AnalyzeStatic(staticProx, opts)
	if err != nil {
		return nil, fmt.Errorf("proximal sensor: %w", err)
	}
	distStatic, err := AnalyzeStatic(staticDist, opts)
	if err != nil {
		return nil, fmt.Errorf("distal sensor: %w", err)
	}

	// Star movement: dominant relative-rotation axis in each sensor frame.
	axis, err := joints.EstimateKneeAxis(
		BiasCorrected(starProx, proxStatic.GyroBias),
		BiasCorrected(starDist, distStatic.GyroBias),
		opts.Axis,
	)
	if err != nil {
		return nil, fmt.Errorf("star axis fit: %w", err)
	}

	proxAxis := resolveHemisphere(axis.Prox)
	distAxis := resolveHemisphere(axis.Dist)
	if hingeAxis != nil {
		distAxis = resolveHemisphere(*hingeAxis)
	}

	proxAlign, proxRes, err := SegmentFrame(proxStatic.GravitySensor, proxAxis)
	if err != nil {
		return nil, fmt.Errorf("proximal sensor: %w", err)
	}
	distAlign, distRes, err := SegmentFrame(distStatic.GravitySensor, distAxis)
	if err != nil {
		return nil, fmt.Errorf("distal sensor: %w", err)
	}

	return &JointCalibration{
		Prox: SensorCalibration{Alignment: proxAlign, GyroBias: proxStatic.GyroBias, Residual: proxRes},
		Dist: SensorCalibration{Alignment: distAlign, GyroBias: distStatic.GyroBias, Residual: distRes},
		Axis: axis,
	}, nil
}

// resolveHemisphere applies the mounting assumption: the mediolateral axis
// points toward the subject's right, which is the hemisphere of sensor +Z.
func resolveHemisphere(axis r3.Vector) r3.Vector {
	if axis.Z < 0 {
		return axis.Mul(-1)
	}
	return axis
}

// BiasCorrected returns a copy of s with the gyro bias subtracted. The input
// stream is not modified.
func BiasCorrected(s *imu.Stream, bias r3.Vector) *imu.Stream {
	out := &imu.Stream{
		SampleRate: s.SampleRate,
		Gyro:       make([]r3.Vector, len(s.Gyro)),
		Accel:      s.Accel,
		Mag:        s.Mag,
	}
	for i, g := range s.Gyro {
		out.Gyro[i] = g.Sub(bias)
	}
	return out
}
