// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pipeline sequences calibration and estimation over recorded
// trials and holds the fitted parameters between calls.
package pipeline

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/hip_kinematics/internal/angles"
	"github.com/relabs-tech/hip_kinematics/internal/calibrate"
	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/joints"
	"github.com/relabs-tech/hip_kinematics/internal/orientation"
)

// Sensor names used across trials, sessions and MQTT topics.
const (
	SensorPelvis     = "pelvis"
	SensorLeftThigh  = "left_thigh"
	SensorRightThigh = "right_thigh"
	SensorLeftShank  = "left_shank"
	SensorRightShank = "right_shank"
)

// Trial is one synchronized multi-sensor recording block. Pelvis and both
// thighs are required; shanks are optional and enable knee-axis
// disambiguation during calibration.
type Trial struct {
	Pelvis     *imu.Stream
	LeftThigh  *imu.Stream
	RightThigh *imu.Stream
	LeftShank  *imu.Stream
	RightShank *imu.Stream
}

// Validate checks presence and pairwise consistency of the required streams.
func (t *Trial) Validate(context string) error {
	if t == nil {
		return &imu.ShapeError{Context: context, Detail: "nil trial"}
	}
	if t.Pelvis == nil || t.LeftThigh == nil || t.RightThigh == nil {
		return &imu.ShapeError{Context: context, Detail: "pelvis and both thigh streams are required"}
	}
	if err := imu.ValidatePair(context+" pelvis/left_thigh", t.Pelvis, t.LeftThigh); err != nil {
		return err
	}
	if err := imu.ValidatePair(context+" pelvis/right_thigh", t.Pelvis, t.RightThigh); err != nil {
		return err
	}
	if t.LeftShank != nil {
		if err := imu.ValidatePair(context+" left_thigh/left_shank", t.LeftThigh, t.LeftShank); err != nil {
			return err
		}
	}
	if t.RightShank != nil {
		if err := imu.ValidatePair(context+" right_thigh/right_shank", t.RightThigh, t.RightShank); err != nil {
			return err
		}
	}
	return nil
}

// Options configures a pipeline run.
type Options struct {
	Filter      orientation.FilterParams
	Center      joints.CenterOptions
	Calibration calibrate.Options
	// Seed drives the sample-consensus subsets for reproducible runs. It
	// overrides Center.Consensus.Seed.
	Seed int64
}

// DefaultOptions returns the defaults for hip trials.
func DefaultOptions() Options {
	return Options{
		Filter:      orientation.DefaultFilterParams(),
		Center:      joints.DefaultCenterOptions(),
		Calibration: calibrate.DefaultOptions(),
		Seed:        1,
	}
}

// Validate rejects unusable configurations before any data is touched.
func (o Options) Validate() error {
	if err := o.Filter.Validate(); err != nil {
		return err
	}
	if err := o.Center.Validate(); err != nil {
		return err
	}
	return o.Calibration.Axis.Solver.Validate()
}

// Calibration is the complete fitted state for both hips. Immutable once
// produced; Estimate only reads it.
type Calibration struct {
	Left  *calibrate.JointCalibration `json:"left"`
	Right *calibrate.JointCalibration `json:"right"`

	LeftCenter  *joints.CenterEstimate `json:"left_center"`
	RightCenter *joints.CenterEstimate `json:"right_center"`
}

// EstimateOptions tunes one Estimate call.
type EstimateOptions struct {
	// ReturnOrientation includes the intermediate per-sensor orientation
	// series in the result.
	ReturnOrientation bool
}

// Result is the output of one Estimate call.
type Result struct {
	Left  angles.Series
	Right angles.Series
	// Orientation maps sensor name to its orientation series. Nil unless
	// requested.
	Orientation map[string][]orientation.Quaternion
}

// Pipeline computes hip joint angles from wearable MIMU trials. Construct
// with New, call Calibrate once with the static and star blocks, then
// Estimate for each motion trial.
type Pipeline struct {
	opts Options
	cal  *Calibration
}

// New validates the configuration and returns a pipeline.
func New(opts Options) (*Pipeline, error) {
	centerOpts := opts.Center
	centerOpts.Consensus.Seed = opts.Seed
	opts.Center = centerOpts
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{opts: opts}, nil
}

// Calibration returns the fitted state, or nil before Calibrate.
func (p *Pipeline) Calibration() *Calibration { return p.cal }

// SetCalibration installs previously fitted (persisted) state.
func (p *Pipeline) SetCalibration(c *Calibration) error {
	if c == nil || c.Left == nil || c.Right == nil {
		return fmt.Errorf("pipeline: incomplete calibration")
	}
	p.cal = c
	return nil
}

// Calibrate fits both hips from a static pose block and a star movement
// block. On success the fitted parameters are held for subsequent Estimate
// calls; on error any previous calibration is left untouched.
func (p *Pipeline) Calibrate(static, star *Trial) error {
	if err := static.Validate("static"); err != nil {
		return err
	}
	if err := star.Validate("star"); err != nil {
		return err
	}

	left, leftCenter, err := p.calibrateSide(static, star, angles.Left)
	if err != nil {
		return fmt.Errorf("pipeline: left hip: %w", err)
	}
	right, rightCenter, err := p.calibrateSide(static, star, angles.Right)
	if err != nil {
		return fmt.Errorf("pipeline: right hip: %w", err)
	}

	p.cal = &Calibration{
		Left:        left,
		Right:       right,
		LeftCenter:  leftCenter,
		RightCenter: rightCenter,
	}
	return nil
}

func (p *Pipeline) calibrateSide(static, star *Trial, side angles.Side) (*calibrate.JointCalibration, *joints.CenterEstimate, error) {
	staticThigh, starThigh := static.RightThigh, star.RightThigh
	shank := star.RightShank
	if side == angles.Left {
		staticThigh, starThigh = static.LeftThigh, star.LeftThigh
		shank = star.LeftShank
	}

	// Knee hinge axis, when a shank sensor was worn: fixes the thigh
	// coronal plane more reliably than the star fit alone.
	var hingeAxis *r3.Vector
	if shank != nil {
		axis, err := joints.EstimateKneeAxis(starThigh, shank, p.opts.Calibration.Axis)
		if err != nil {
			return nil, nil, fmt.Errorf("knee axis: %w", err)
		}
		v := axis.Prox
		hingeAxis = &v
	}

	cal, err := calibrate.CalibrateJoint(
		static.Pelvis, staticThigh,
		star.Pelvis, starThigh,
		hingeAxis,
		p.opts.Calibration,
	)
	if err != nil {
		return nil, nil, err
	}

	// Functional joint center from the star block, on bias-corrected
	// streams with the relative orientation from the filter.
	pelvisCorr := calibrate.BiasCorrected(star.Pelvis, cal.Prox.GyroBias)
	thighCorr := calibrate.BiasCorrected(starThigh, cal.Dist.GyroBias)

	qPelvis, err := orientation.Estimate(pelvisCorr, p.opts.Filter)
	if err != nil {
		return nil, nil, fmt.Errorf("pelvis orientation: %w", err)
	}
	qThigh, err := orientation.Estimate(thighCorr, p.opts.Filter)
	if err != nil {
		return nil, nil, fmt.Errorf("thigh orientation: %w", err)
	}
	rel, err := orientation.RelativeSeries(qPelvis, qThigh)
	if err != nil {
		return nil, nil, err
	}

	center, err := joints.EstimateCenter(pelvisCorr, thighCorr, rel, p.opts.Center)
	if err != nil {
		return nil, nil, fmt.Errorf("joint center: %w", err)
	}
	return cal, center, nil
}

// Estimate computes both hips' joint angle series for one motion trial,
// using the calibration fitted earlier.
func (p *Pipeline) Estimate(motion *Trial, opts EstimateOptions) (*Result, error) {
	if p.cal == nil {
		return nil, fmt.Errorf("pipeline: Estimate called before Calibrate")
	}
	if err := motion.Validate("motion"); err != nil {
		return nil, err
	}

	// Pelvis bias from either side's fit; both come from the same static
	// block.
	qPelvis, err := orientation.Estimate(
		calibrate.BiasCorrected(motion.Pelvis, p.cal.Right.Prox.GyroBias), p.opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("pipeline: pelvis orientation: %w", err)
	}
	qLeft, err := orientation.Estimate(
		calibrate.BiasCorrected(motion.LeftThigh, p.cal.Left.Dist.GyroBias), p.opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("pipeline: left thigh orientation: %w", err)
	}
	qRight, err := orientation.Estimate(
		calibrate.BiasCorrected(motion.RightThigh, p.cal.Right.Dist.GyroBias), p.opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("pipeline: right thigh orientation: %w", err)
	}

	leftSeries, err := angles.Compute(qPelvis, qLeft,
		p.cal.Left.Prox.Alignment, p.cal.Left.Dist.Alignment, angles.Left)
	if err != nil {
		return nil, fmt.Errorf("pipeline: left angles: %w", err)
	}
	rightSeries, err := angles.Compute(qPelvis, qRight,
		p.cal.Right.Prox.Alignment, p.cal.Right.Dist.Alignment, angles.Right)
	if err != nil {
		return nil, fmt.Errorf("pipeline: right angles: %w", err)
	}

	res := &Result{Left: leftSeries, Right: rightSeries}
	if opts.ReturnOrientation {
		res.Orientation = map[string][]orientation.Quaternion{
			SensorPelvis:     qPelvis,
			SensorLeftThigh:  qLeft,
			SensorRightThigh: qRight,
		}
	}
	return res, nil
}
