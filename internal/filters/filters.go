// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package filters provides the signal conditioning used ahead of the joint
// estimators: numerical differentiation and Butterworth smoothing.
package filters

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Band is a frequency band in Hz for a named signal. A non-positive Low
// disables the high-pass half; High must be positive and below Nyquist to
// take effect.
type Band struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// Validate checks the band against the stream sample rate.
func (b Band) Validate(sampleRate float64) error {
	nyquist := sampleRate / 2
	if b.High <= 0 || b.High >= nyquist {
		return fmt.Errorf("filters: band high cutoff %g Hz outside (0, %g)", b.High, nyquist)
	}
	if b.Low < 0 || b.Low >= b.High {
		return fmt.Errorf("filters: band low cutoff %g Hz outside [0, %g)", b.Low, b.High)
	}
	return nil
}

// Derivative computes the time derivative of a vector sequence by central
// differences, with one-sided differences at the boundaries.
func Derivative(x []r3.Vector, dt float64) []r3.Vector {
	n := len(x)
	out := make([]r3.Vector, n)
	if n < 2 {
		return out
	}
	out[0] = x[1].Sub(x[0]).Mul(1 / dt)
	out[n-1] = x[n-1].Sub(x[n-2]).Mul(1 / dt)
	for i := 1; i < n-1; i++ {
		out[i] = x[i+1].Sub(x[i-1]).Mul(1 / (2 * dt))
	}
	return out
}

// biquad holds second-order section coefficients (a0 normalized to 1).
type biquad struct {
	b0, b1, b2, a1, a2 float64
}

func (f biquad) apply(x []float64) []float64 {
	out := make([]float64, len(x))
	var x1, x2, y1, y2 float64
	for i, v := range x {
		y := f.b0*v + f.b1*x1 + f.b2*x2 - f.a1*y1 - f.a2*y2
		x2, x1 = x1, v
		y2, y1 = y1, y
		out[i] = y
	}
	return out
}

// lowPassBiquad returns a 2nd-order Butterworth low-pass section (bilinear
// transform, Q = 1/sqrt(2)).
func lowPassBiquad(cutoff, rate float64) biquad {
	w0 := 2 * math.Pi * cutoff / rate
	alpha := math.Sin(w0) / math.Sqrt2
	cw := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: (1 - cw) / 2 / a0,
		b1: (1 - cw) / a0,
		b2: (1 - cw) / 2 / a0,
		a1: -2 * cw / a0,
		a2: (1 - alpha) / a0,
	}
}

// highPassBiquad returns a 2nd-order Butterworth high-pass section.
func highPassBiquad(cutoff, rate float64) biquad {
	w0 := 2 * math.Pi * cutoff / rate
	alpha := math.Sin(w0) / math.Sqrt2
	cw := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: (1 + cw) / 2 / a0,
		b1: -(1 + cw) / a0,
		b2: (1 + cw) / 2 / a0,
		a1: -2 * cw / a0,
		a2: (1 - alpha) / a0,
	}
}

// filtfilt applies the section forward and backward for zero phase lag. The
// joint estimators match samples across sensors, so phase distortion would
// bias the fits.
func filtfilt(f biquad, x []float64) []float64 {
	y := f.apply(x)
	reverse(y)
	y = f.apply(y)
	reverse(y)
	return y
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

func applyVec(x []r3.Vector, filt func([]float64) []float64) []r3.Vector {
	n := len(x)
	xs := make([]float64, n)
	ys := make([]float64, n)
	zs := make([]float64, n)
	for i, v := range x {
		xs[i], ys[i], zs[i] = v.X, v.Y, v.Z
	}
	xs, ys, zs = filt(xs), filt(ys), filt(zs)
	out := make([]r3.Vector, n)
	for i := range out {
		out[i] = r3.Vector{X: xs[i], Y: ys[i], Z: zs[i]}
	}
	return out
}

// LowPass applies a zero-phase 2nd-order Butterworth low-pass to each
// component of x.
func LowPass(x []r3.Vector, cutoff, rate float64) []r3.Vector {
	bq := lowPassBiquad(cutoff, rate)
	return applyVec(x, func(s []float64) []float64 { return filtfilt(bq, s) })
}

// BandPass applies a zero-phase band-pass built from high- and low-pass
// Butterworth sections. A non-positive low cutoff degenerates to LowPass.
func BandPass(x []r3.Vector, band Band, rate float64) []r3.Vector {
	out := LowPass(x, band.High, rate)
	if band.Low > 0 {
		hq := highPassBiquad(band.Low, rate)
		out = applyVec(out, func(s []float64) []float64 { return filtfilt(hq, s) })
	}
	return out
}

// AngularAcceleration derives band-limited angular acceleration from a gyro
// sequence: smooth within the band, then differentiate.
func AngularAcceleration(gyro []r3.Vector, rate float64, band Band) ([]r3.Vector, error) {
	if err := band.Validate(rate); err != nil {
		return nil, err
	}
	smoothed := BandPass(gyro, band, rate)
	return Derivative(smoothed, 1/rate), nil
}
