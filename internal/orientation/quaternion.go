// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/golang/geo/r3"
)

// Quaternion is a rotation as a unit quaternion in Hamilton convention.
// Throughout the package a quaternion maps vectors from the sensor (or
// segment) frame into the global frame: v_global = q * v * q'.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity returns the identity rotation.
func Identity() Quaternion { return Quaternion{W: 1} }

// FromAxisAngle builds the rotation of angle radians about axis. The axis
// does not need to be normalized.
func FromAxisAngle(axis r3.Vector, angle float64) Quaternion {
	n := axis.Norm()
	if n == 0 {
		return Identity()
	}
	s := math.Sin(angle/2) / n
	return Quaternion{
		W: math.Cos(angle / 2),
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
	}
}

// Mul returns the Hamilton product q*p: the rotation p followed by q.
func (q Quaternion) Mul(p Quaternion) Quaternion {
	return Quaternion{
		W: q.W*p.W - q.X*p.X - q.Y*p.Y - q.Z*p.Z,
		X: q.W*p.X + q.X*p.W + q.Y*p.Z - q.Z*p.Y,
		Y: q.W*p.Y - q.X*p.Z + q.Y*p.W + q.Z*p.X,
		Z: q.W*p.Z + q.X*p.Y - q.Y*p.X + q.Z*p.W,
	}
}

// Conj returns the conjugate, which for a unit quaternion is the inverse
// rotation.
func (q Quaternion) Conj() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Norm returns the quaternion magnitude.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Dot returns the four-dimensional dot product with p.
func (q Quaternion) Dot(p Quaternion) float64 {
	return q.W*p.W + q.X*p.X + q.Y*p.Y + q.Z*p.Z
}

// Normalize returns q scaled to unit norm. The zero quaternion normalizes to
// identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return Identity()
	}
	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Neg returns the antipodal quaternion, which represents the same rotation.
func (q Quaternion) Neg() Quaternion {
	return Quaternion{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Rotate applies the rotation to v: returns q * v * q'.
func (q Quaternion) Rotate(v r3.Vector) r3.Vector {
	// Expanded form of q*(0,v)*q' for unit q.
	tx := 2 * (q.Y*v.Z - q.Z*v.Y)
	ty := 2 * (q.Z*v.X - q.X*v.Z)
	tz := 2 * (q.X*v.Y - q.Y*v.X)
	return r3.Vector{
		X: v.X + q.W*tx + q.Y*tz - q.Z*ty,
		Y: v.Y + q.W*ty + q.Z*tx - q.X*tz,
		Z: v.Z + q.W*tz + q.X*ty - q.Y*tx,
	}
}

// RotationMatrix returns the 3x3 direction cosine matrix equivalent to q,
// in row-major order.
func (q Quaternion) RotationMatrix() [3][3]float64 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y)},
		{2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x)},
		{2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y)},
	}
}

// FromRotationMatrix recovers the unit quaternion from an orthonormal
// rotation matrix, using the numerically stable branch on the largest
// diagonal term.
func FromRotationMatrix(m [3][3]float64) Quaternion {
	tr := m[0][0] + m[1][1] + m[2][2]
	var q Quaternion
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = Quaternion{
			W: s / 4,
			X: (m[2][1] - m[1][2]) / s,
			Y: (m[0][2] - m[2][0]) / s,
			Z: (m[1][0] - m[0][1]) / s,
		}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		q = Quaternion{
			W: (m[2][1] - m[1][2]) / s,
			X: s / 4,
			Y: (m[0][1] + m[1][0]) / s,
			Z: (m[0][2] + m[2][0]) / s,
		}
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		q = Quaternion{
			W: (m[0][2] - m[2][0]) / s,
			X: (m[0][1] + m[1][0]) / s,
			Y: s / 4,
			Z: (m[1][2] + m[2][1]) / s,
		}
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		q = Quaternion{
			W: (m[1][0] - m[0][1]) / s,
			X: (m[0][2] + m[2][0]) / s,
			Y: (m[1][2] + m[2][1]) / s,
			Z: s / 4,
		}
	}
	return q.Normalize()
}

// FromTwoVectors returns the shortest rotation taking direction from onto
// direction to.
func FromTwoVectors(from, to r3.Vector) Quaternion {
	f := from.Normalize()
	t := to.Normalize()
	d := f.Dot(t)
	if d < -1+1e-12 {
		// Antiparallel: rotate pi about any axis orthogonal to f.
		ortho := f.Ortho()
		return FromAxisAngle(ortho, math.Pi)
	}
	axis := f.Cross(t)
	q := Quaternion{W: 1 + d, X: axis.X, Y: axis.Y, Z: axis.Z}
	return q.Normalize()
}
