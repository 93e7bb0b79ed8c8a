package orientation

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertQuatEqual(t *testing.T, want, got Quaternion, tol float64) {
	t.Helper()
	// Antipodal quaternions are the same rotation.
	assert.InDelta(t, 1, math.Abs(want.Dot(got)), tol)
}

func TestRotationMatrixKnownValues(t *testing.T) {
	// 120 degree rotation about (1,1,1): cyclic permutation of the axes.
	q := Quaternion{W: 0.5, X: 0.5, Y: 0.5, Z: 0.5}
	m := q.RotationMatrix()
	want := [3][3]float64{
		{0, 0, 1},
		{1, 0, 0},
		{0, 1, 0},
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			assert.InDelta(t, want[r][c], m[r][c], 1e-12, "m[%d][%d]", r, c)
		}
	}
}

func TestMulComposesRotations(t *testing.T) {
	q1 := FromAxisAngle(r3.Vector{X: 1, Y: -2, Z: 0.5}, 0.7)
	q2 := FromAxisAngle(r3.Vector{X: 0.3, Y: 1, Z: 2}, -1.1)

	v := r3.Vector{X: 0.2, Y: -1.4, Z: 0.9}
	got := q1.Mul(q2).Rotate(v)
	want := q1.Rotate(q2.Rotate(v))
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
	assert.InDelta(t, want.Z, got.Z, 1e-12)
}

func TestRotateMatchesRotationMatrix(t *testing.T) {
	q := FromAxisAngle(r3.Vector{X: -0.4, Y: 0.9, Z: 1.3}, 2.2)
	m := q.RotationMatrix()
	v := r3.Vector{X: 1.5, Y: -0.3, Z: 0.8}

	got := q.Rotate(v)
	want := r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
	assert.InDelta(t, want.Z, got.Z, 1e-12)
}

func TestConjIsInverse(t *testing.T) {
	q := FromAxisAngle(r3.Vector{X: 0.1, Y: 0.7, Z: -0.3}, 1.9)
	id := q.Mul(q.Conj())
	assertQuatEqual(t, Identity(), id, 1e-12)

	v := r3.Vector{X: -2, Y: 0.5, Z: 1}
	back := q.Conj().Rotate(q.Rotate(v))
	assert.InDelta(t, v.X, back.X, 1e-12)
	assert.InDelta(t, v.Y, back.Y, 1e-12)
	assert.InDelta(t, v.Z, back.Z, 1e-12)
}

func TestFromRotationMatrixRoundTrip(t *testing.T) {
	cases := []Quaternion{
		Identity(),
		FromAxisAngle(r3.Vector{Z: 1}, 0.5),
		FromAxisAngle(r3.Vector{X: 1, Y: 1}, math.Pi), // W near zero
		FromAxisAngle(r3.Vector{X: 1}, math.Pi),
		FromAxisAngle(r3.Vector{Y: 1}, math.Pi),
		FromAxisAngle(r3.Vector{X: -0.2, Y: 0.9, Z: 0.4}, 2.8),
	}
	for _, q := range cases {
		got := FromRotationMatrix(q.RotationMatrix())
		assertQuatEqual(t, q, got, 1e-10)
		assert.InDelta(t, 1, got.Norm(), 1e-12)
	}
}

func TestFromTwoVectors(t *testing.T) {
	from := r3.Vector{X: 1, Y: 2, Z: -0.5}
	to := r3.Vector{X: -0.3, Y: 0.1, Z: 1}
	q := FromTwoVectors(from, to)

	got := q.Rotate(from.Normalize())
	want := to.Normalize()
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
	assert.InDelta(t, want.Z, got.Z, 1e-12)
}

func TestFromTwoVectorsAntiparallel(t *testing.T) {
	q := FromTwoVectors(r3.Vector{X: 1}, r3.Vector{X: -1})
	require.InDelta(t, 1, q.Norm(), 1e-12)
	got := q.Rotate(r3.Vector{X: 1})
	assert.InDelta(t, -1, got.X, 1e-9)
	assert.InDelta(t, 0, got.Y, 1e-9)
	assert.InDelta(t, 0, got.Z, 1e-9)
}

func TestDegenerateInputs(t *testing.T) {
	assert.Equal(t, Identity(), FromAxisAngle(r3.Vector{}, 1.2))
	assert.Equal(t, Identity(), Quaternion{}.Normalize())
}

func TestPoseFromQuaternion(t *testing.T) {
	p := PoseFromQuaternion(Identity())
	assert.InDelta(t, 0, p.Roll, 1e-12)
	assert.InDelta(t, 0, p.Pitch, 1e-12)
	assert.InDelta(t, 0, p.Yaw, 1e-12)

	p = PoseFromQuaternion(FromAxisAngle(r3.Vector{Z: 1}, math.Pi/2))
	assert.InDelta(t, 90, p.Yaw, 1e-9)
	assert.InDelta(t, 0, p.Roll, 1e-9)

	p = PoseFromQuaternion(FromAxisAngle(r3.Vector{X: 1}, math.Pi/4))
	assert.InDelta(t, 45, p.Roll, 1e-9)
}
