// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package angles decomposes calibrated segment orientations into clinical
// hip joint angles.
//
// Convention (fixed; flagged for clinical review): segment frames have X
// anterior, Y proximal (up in quiet standing) and Z pointing to the
// subject's right. The pelvis-to-thigh relative rotation is decomposed with
// the mobile Z-X'-Y'' Cardan sequence: flexion(+)/extension about Z,
// adduction(+)/abduction about the once-rotated X, internal(+)/external
// rotation about the twice-rotated Y. Left-side adduction and rotation are
// sign-flipped so positive means the same clinical direction on both sides.
package angles

import (
	"fmt"
	"math"

	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/orientation"
)

// Side identifies which hip a series belongs to.
type Side int

const (
	Right Side = iota
	Left
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Sample is one joint angle triple in degrees.
type Sample struct {
	Flexion   float64 `json:"flexion"`
	Adduction float64 `json:"adduction"`
	Rotation  float64 `json:"rotation"`
}

// Series is a joint angle time series, one Sample per input sample.
type Series []Sample

// Compute produces the hip angle series from per-sample sensor orientations
// and the fitted sensor-to-segment alignments. proxAlign and distAlign map
// sensor-frame vectors into the respective segment frames.
//
// The output has the same length as the inputs and is continuous: each
// channel is unwrapped so consecutive samples never jump by a full turn.
// Recomputation from identical inputs yields an identical series.
func Compute(prox, dist []orientation.Quaternion, proxAlign, distAlign orientation.Quaternion, side Side) (Series, error) {
	if len(prox) != len(dist) {
		return nil, &imu.ShapeError{
			Context: "angles",
			Detail:  fmt.Sprintf("orientation series have %d and %d samples", len(prox), len(dist)),
		}
	}

	out := make(Series, len(prox))
	var prev [3]float64
	for i := range prox {
		// Segment orientation in the global frame: sensor orientation
		// composed with the inverse sensor-to-segment alignment.
		qp := prox[i].Mul(proxAlign.Conj())
		qd := dist[i].Mul(distAlign.Conj())
		rel := qp.Conj().Mul(qd)

		flex, add, rot := cardanZXY(rel.RotationMatrix())
		cur := [3]float64{flex, add, rot}
		if i > 0 {
			for c := 0; c < 3; c++ {
				cur[c] = unwrapNear(cur[c], prev[c])
			}
		}
		prev = cur

		const r2d = 180.0 / math.Pi
		s := Sample{
			Flexion:   cur[0] * r2d,
			Adduction: cur[1] * r2d,
			Rotation:  cur[2] * r2d,
		}
		if side == Left {
			s.Adduction = -s.Adduction
			s.Rotation = -s.Rotation
		}
		out[i] = s
	}
	return out, nil
}

// cardanZXY decomposes R = Rz(a) Rx(b) Ry(c) into (a, b, c) radians.
func cardanZXY(m [3][3]float64) (a, b, c float64) {
	sb := m[2][1]
	if sb > 1 {
		sb = 1
	} else if sb < -1 {
		sb = -1
	}
	b = math.Asin(sb)
	a = math.Atan2(-m[0][1], m[1][1])
	c = math.Atan2(-m[2][0], m[2][2])
	return a, b, c
}

// unwrapNear shifts x by multiples of 2*pi to land within pi of ref.
func unwrapNear(x, ref float64) float64 {
	for x-ref > math.Pi {
		x -= 2 * math.Pi
	}
	for x-ref < -math.Pi {
		x += 2 * math.Pi
	}
	return x
}
