// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/hip_kinematics/internal/imu"
)

// FilterParams tunes the complementary orientation filter.
type FilterParams struct {
	// SigmaG and SigmaA are the gyro and accelerometer noise densities. Only
	// their ratio matters: it sets how strongly gravity observations pull on
	// the integrated orientation.
	SigmaG float64 `yaml:"sigma_g"`
	SigmaA float64 `yaml:"sigma_a"`
	// ErrorFactor bounds the accepted relative deviation of the measured
	// acceleration magnitude from gravity. Samples outside the bound are
	// treated as motion-corrupted and integrate gyro only.
	ErrorFactor float64 `yaml:"error_factor"`
	// C is the overall drift-correction gain.
	C float64 `yaml:"c"`
	// N is the initialization window length in samples. The first N samples
	// are assumed quasi-static and seed the initial orientation and the gyro
	// bias estimate.
	N int `yaml:"n"`
}

// DefaultFilterParams returns the tuning used for the wearable MPU-9250 rig.
func DefaultFilterParams() FilterParams {
	return FilterParams{
		SigmaG:      0.01,
		SigmaA:      0.1,
		ErrorFactor: 0.1,
		C:           2.0,
		N:           64,
	}
}

// Validate rejects non-physical parameter combinations.
func (p FilterParams) Validate() error {
	if p.SigmaG <= 0 || p.SigmaA <= 0 {
		return fmt.Errorf("orientation: sigma_g and sigma_a must be positive (got %g, %g)", p.SigmaG, p.SigmaA)
	}
	if p.ErrorFactor <= 0 {
		return fmt.Errorf("orientation: error_factor must be positive (got %g)", p.ErrorFactor)
	}
	if p.C <= 0 {
		return fmt.Errorf("orientation: gain c must be positive (got %g)", p.C)
	}
	if p.N < 1 {
		return fmt.Errorf("orientation: init window n must be at least 1 (got %d)", p.N)
	}
	return nil
}

// Filter fuses gyro integration with gravity (and optional heading)
// observations into a continuous orientation estimate. The estimate maps the
// sensor frame into a gravity-aligned global frame with +Z up.
//
// The correction is a proportional-integral feedback on the measured vs
// predicted gravity direction, with the proportional gain derived from C and
// the sigma ratio. High-acceleration samples, where the accelerometer does
// not observe gravity, are gated out by ErrorFactor and propagate by gyro
// integration alone.
type Filter struct {
	params FilterParams
	dt     float64
	kp, ki float64

	q        Quaternion
	bias     r3.Vector
	integral r3.Vector

	// Init window accumulation.
	warm      int
	accSum    r3.Vector
	gyrSum    r3.Vector
	magSum    r3.Vector
	magRef    r3.Vector
	magRefMag float64
	useMag    bool
	ready     bool
}

// NewFilter returns a filter for a stream sampled at sampleRate Hz.
func NewFilter(sampleRate float64, p FilterParams) (*Filter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("orientation: sample rate must be positive (got %g)", sampleRate)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	kp := p.C * p.SigmaG / (p.SigmaG + p.SigmaA)
	return &Filter{
		params: p,
		dt:     1.0 / sampleRate,
		kp:     kp,
		ki:     kp / 10,
		q:      Identity(),
	}, nil
}

// Update advances the filter by one sample and returns the current estimate.
// Pass hasMag=false when no magnetometer reading is available for the
// sample. During the first N samples the filter accumulates its
// initialization window and returns the gravity-aligned seed estimate.
func (f *Filter) Update(gyro, accel, mag r3.Vector, hasMag bool) Quaternion {
	if !f.ready {
		f.accSum = f.accSum.Add(accel)
		f.gyrSum = f.gyrSum.Add(gyro)
		if hasMag {
			f.magSum = f.magSum.Add(mag)
		}
		f.warm++
		if f.warm >= f.params.N {
			f.initialize(hasMag)
		}
		// Seed estimate for the warmup region: align measured gravity only.
		if accel.Norm() > 0 {
			return FromTwoVectors(accel, r3.Vector{Z: 1})
		}
		return f.q
	}

	w := gyro.Sub(f.bias)

	// Gravity observation, gated on acceleration magnitude.
	var e r3.Vector
	an := accel.Norm()
	if math.Abs(an-imu.Gravity) <= f.params.ErrorFactor*imu.Gravity {
		ahat := accel.Mul(1 / an)
		// Predicted gravity direction in the sensor frame.
		vg := f.q.Conj().Rotate(r3.Vector{Z: 1})
		e = ahat.Cross(vg)
	}

	// Heading observation from the magnetometer, gated on field magnitude.
	if f.useMag && hasMag {
		mn := mag.Norm()
		if mn > 0 && math.Abs(mn-f.magRefMag) <= 0.2*f.magRefMag {
			mhat := mag.Mul(1 / mn)
			vm := f.q.Conj().Rotate(f.magRef)
			e = e.Add(mhat.Cross(vm).Mul(0.5))
		}
	}

	f.integral = f.integral.Add(e.Mul(f.ki * f.dt))
	wc := w.Add(e.Mul(f.kp)).Add(f.integral)

	dq := FromAxisAngle(wc, wc.Norm()*f.dt)
	next := f.q.Mul(dq).Normalize()
	if next.Dot(f.q) < 0 {
		next = next.Neg()
	}
	f.q = next
	return f.q
}

// initialize seats the orientation and gyro bias from the warmup window.
func (f *Filter) initialize(hasMag bool) {
	n := float64(f.warm)
	aMean := f.accSum.Mul(1 / n)
	f.bias = f.gyrSum.Mul(1 / n)

	if aMean.Norm() == 0 {
		f.q = Identity()
	} else {
		f.q = FromTwoVectors(aMean, r3.Vector{Z: 1})
	}

	if hasMag && f.magSum.Norm() > 0 {
		mMean := f.magSum.Mul(1 / n)
		// Rotate about global Z so the initial horizontal field points +X.
		mg := f.q.Rotate(mMean)
		heading := math.Atan2(mg.Y, mg.X)
		f.q = FromAxisAngle(r3.Vector{Z: 1}, -heading).Mul(f.q).Normalize()
		f.magRef = f.q.Rotate(mMean).Normalize()
		f.magRefMag = mMean.Norm()
		f.useMag = true
	}

	f.ready = true
}

// Estimate runs the filter over a whole stream and returns one unit
// quaternion per input sample. The output is sign-continuous: consecutive
// quaternions never flip hemisphere.
func Estimate(s *imu.Stream, p FilterParams) ([]Quaternion, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if p.N > s.Len() {
		return nil, &imu.ShapeError{
			Context: "orientation",
			Detail:  fmt.Sprintf("init window n=%d exceeds stream length %d", p.N, s.Len()),
		}
	}
	f, err := NewFilter(s.SampleRate, p)
	if err != nil {
		return nil, err
	}

	out := make([]Quaternion, s.Len())
	for i := 0; i < s.Len(); i++ {
		var mag r3.Vector
		hasMag := s.Mag != nil
		if hasMag {
			mag = s.Mag[i]
		}
		out[i] = f.Update(s.Gyro[i], s.Accel[i], mag, hasMag)
	}

	// Sign continuity across the warmup boundary and beyond.
	for i := 1; i < len(out); i++ {
		if out[i].Dot(out[i-1]) < 0 {
			out[i] = out[i].Neg()
		}
	}
	return out, nil
}

// RelativeSeries composes two orientation series into the per-sample
// rotation that maps the second sensor's frame into the first's:
// R_a_b[i] = conj(a[i]) * b[i].
func RelativeSeries(a, b []Quaternion) ([]Quaternion, error) {
	if len(a) != len(b) {
		return nil, &imu.ShapeError{
			Context: "orientation",
			Detail:  fmt.Sprintf("series have %d and %d samples", len(a), len(b)),
		}
	}
	out := make([]Quaternion, len(a))
	for i := range a {
		out[i] = a[i].Conj().Mul(b[i])
	}
	return out, nil
}
