// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Gravity is the local gravitational acceleration in m/s^2.
const Gravity = 9.81

// Stream is one sensor's complete recording for a single trial. All vectors
// are expressed in the sensor's local frame; the sample rate is constant for
// the whole stream. Streams are read-only inputs: estimators never mutate
// them.
type Stream struct {
	// SampleRate in Hz.
	SampleRate float64
	// Gyro holds angular velocity in rad/s.
	Gyro []r3.Vector
	// Accel holds specific force in m/s^2.
	Accel []r3.Vector
	// Mag holds the magnetic field in arbitrary consistent units. Nil when
	// the sensor has no magnetometer or the channel was not recorded.
	Mag []r3.Vector
}

// Len returns the number of samples in the stream.
func (s *Stream) Len() int { return len(s.Gyro) }

// Dt returns the sampling interval in seconds.
func (s *Stream) Dt() float64 { return 1.0 / s.SampleRate }

// ShapeError reports mismatched channel lengths or sample rates, either
// within one stream or between two streams that must be paired.
type ShapeError struct {
	Context string
	Detail  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("imu: %s: %s", e.Context, e.Detail)
}

// Validate checks internal consistency of a single stream.
func (s *Stream) Validate() error {
	if s == nil {
		return &ShapeError{Context: "stream", Detail: "nil stream"}
	}
	if s.SampleRate <= 0 || math.IsNaN(s.SampleRate) {
		return &ShapeError{Context: "stream", Detail: fmt.Sprintf("invalid sample rate %v", s.SampleRate)}
	}
	if len(s.Gyro) == 0 {
		return &ShapeError{Context: "stream", Detail: "empty gyro channel"}
	}
	if len(s.Accel) != len(s.Gyro) {
		return &ShapeError{
			Context: "stream",
			Detail:  fmt.Sprintf("accel has %d samples, gyro has %d", len(s.Accel), len(s.Gyro)),
		}
	}
	if s.Mag != nil && len(s.Mag) != len(s.Gyro) {
		return &ShapeError{
			Context: "stream",
			Detail:  fmt.Sprintf("mag has %d samples, gyro has %d", len(s.Mag), len(s.Gyro)),
		}
	}
	return nil
}

// ValidatePair checks that two streams can be processed together: both valid
// on their own, equal length and equal sample rate.
func ValidatePair(context string, a, b *Stream) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%s: first stream: %w", context, err)
	}
	if err := b.Validate(); err != nil {
		return fmt.Errorf("%s: second stream: %w", context, err)
	}
	if a.Len() != b.Len() {
		return &ShapeError{
			Context: context,
			Detail:  fmt.Sprintf("streams have %d and %d samples", a.Len(), b.Len()),
		}
	}
	if a.SampleRate != b.SampleRate {
		return &ShapeError{
			Context: context,
			Detail:  fmt.Sprintf("streams sampled at %g Hz and %g Hz", a.SampleRate, b.SampleRate),
		}
	}
	return nil
}
