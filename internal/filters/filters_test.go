// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package filters

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sine returns n samples of sin(2*pi*f*t) on the X component.
func sine(n int, f, rate float64) []r3.Vector {
	out := make([]r3.Vector, n)
	for i := range out {
		out[i] = r3.Vector{X: math.Sin(2 * math.Pi * f * float64(i) / rate)}
	}
	return out
}

func TestBandValidate(t *testing.T) {
	require.NoError(t, Band{Low: 0, High: 12}.Validate(100))
	require.NoError(t, Band{Low: 0.5, High: 20}.Validate(100))

	assert.Error(t, Band{Low: 0, High: 0}.Validate(100))
	assert.Error(t, Band{Low: 0, High: 50}.Validate(100), "high at nyquist")
	assert.Error(t, Band{Low: -1, High: 10}.Validate(100))
	assert.Error(t, Band{Low: 10, High: 10}.Validate(100))
}

func TestDerivativeOfSine(t *testing.T) {
	const (
		n    = 400
		f    = 1.0
		rate = 200.0
	)
	d := Derivative(sine(n, f, rate), 1/rate)
	require.Len(t, d, n)

	// Interior samples: d/dt sin(wt) = w cos(wt).
	w := 2 * math.Pi * f
	for i := 10; i < n-10; i++ {
		want := w * math.Cos(w*float64(i)/rate)
		assert.InDelta(t, want, d[i].X, 0.01*w, "sample %d", i)
		assert.Zero(t, d[i].Y)
		assert.Zero(t, d[i].Z)
	}
}

func TestDerivativeShortInputs(t *testing.T) {
	assert.Len(t, Derivative(nil, 0.01), 0)
	one := Derivative([]r3.Vector{{X: 3}}, 0.01)
	require.Len(t, one, 1)
	assert.Equal(t, r3.Vector{}, one[0])
}

func rmsX(x []r3.Vector, lo, hi int) float64 {
	var s float64
	for i := lo; i < hi; i++ {
		s += x[i].X * x[i].X
	}
	return math.Sqrt(s / float64(hi-lo))
}

func TestLowPassSelectivity(t *testing.T) {
	const (
		n    = 1000
		rate = 200.0
	)
	inBand := LowPass(sine(n, 2, rate), 10, rate)
	stop := LowPass(sine(n, 40, rate), 10, rate)

	ref := math.Sqrt2 / 2 // RMS of a unit sine
	assert.InDelta(t, ref, rmsX(inBand, 100, n-100), 0.05*ref, "passband amplitude")
	assert.Less(t, rmsX(stop, 100, n-100), 0.1*ref, "stopband attenuation")
}

func TestBandPassRemovesDC(t *testing.T) {
	const (
		n    = 1000
		rate = 100.0
	)
	x := make([]r3.Vector, n)
	for i := range x {
		x[i] = r3.Vector{X: 5}
	}
	out := BandPass(x, Band{Low: 1, High: 12}, rate)
	for i := 300; i < n-300; i++ {
		assert.InDelta(t, 0, out[i].X, 1e-3, "sample %d", i)
	}
}

func TestAngularAccelerationOfSine(t *testing.T) {
	const (
		n    = 800
		f    = 1.0
		rate = 100.0
	)
	wd, err := AngularAcceleration(sine(n, f, rate), rate, Band{Low: 0, High: 12})
	require.NoError(t, err)
	require.Len(t, wd, n)

	w := 2 * math.Pi * f
	for i := 100; i < n-100; i++ {
		want := w * math.Cos(w*float64(i)/rate)
		assert.InDelta(t, want, wd[i].X, 0.02*w, "sample %d", i)
	}
}

func TestAngularAccelerationRejectsBadBand(t *testing.T) {
	_, err := AngularAcceleration(sine(100, 1, 100), 100, Band{Low: 0, High: 80})
	require.Error(t, err)
}
