package orientation

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hip_kinematics/internal/imu"
)

func testFilterParams() FilterParams {
	p := DefaultFilterParams()
	p.N = 16
	return p
}

// staticStream returns a stream holding the given accel with zero gyro.
func staticStream(n int, rate float64, accel r3.Vector) *imu.Stream {
	s := &imu.Stream{SampleRate: rate}
	for i := 0; i < n; i++ {
		s.Gyro = append(s.Gyro, r3.Vector{})
		s.Accel = append(s.Accel, accel)
	}
	return s
}

func TestEstimateStaticLevel(t *testing.T) {
	s := staticStream(200, 100, r3.Vector{Z: imu.Gravity})
	qs, err := Estimate(s, testFilterParams())
	require.NoError(t, err)
	require.Len(t, qs, 200)

	last := qs[len(qs)-1]
	assertQuatEqual(t, Identity(), last, 1e-9)
	assert.InDelta(t, 1, last.Norm(), 1e-9)
}

func TestEstimateStaticTilted(t *testing.T) {
	// Gravity along the sensor X axis: the estimate must map sensor X up.
	s := staticStream(200, 100, r3.Vector{X: imu.Gravity})
	qs, err := Estimate(s, testFilterParams())
	require.NoError(t, err)

	up := qs[len(qs)-1].Rotate(r3.Vector{X: 1})
	assert.InDelta(t, 0, up.X, 1e-9)
	assert.InDelta(t, 0, up.Y, 1e-9)
	assert.InDelta(t, 1, up.Z, 1e-9)
}

func TestEstimateYawIntegration(t *testing.T) {
	// Static warmup, then constant rotation about the vertical axis. The
	// accelerometer never observes yaw, so the result is pure integration.
	const (
		rate   = 100.0
		static = 50
		moving = 300
		w      = 1.2
	)
	s := &imu.Stream{SampleRate: rate}
	for i := 0; i < static; i++ {
		s.Gyro = append(s.Gyro, r3.Vector{})
		s.Accel = append(s.Accel, r3.Vector{Z: imu.Gravity})
	}
	for i := 0; i < moving; i++ {
		s.Gyro = append(s.Gyro, r3.Vector{Z: w})
		s.Accel = append(s.Accel, r3.Vector{Z: imu.Gravity})
	}

	qs, err := Estimate(s, testFilterParams())
	require.NoError(t, err)

	want := FromAxisAngle(r3.Vector{Z: 1}, w*moving/rate)
	assertQuatEqual(t, want, qs[len(qs)-1], 1e-9)
}

func TestEstimateSignContinuity(t *testing.T) {
	// More than a full turn: the raw quaternion passes through the antipode.
	s := &imu.Stream{SampleRate: 100}
	for i := 0; i < 32; i++ {
		s.Gyro = append(s.Gyro, r3.Vector{})
		s.Accel = append(s.Accel, r3.Vector{Z: imu.Gravity})
	}
	for i := 0; i < 400; i++ {
		s.Gyro = append(s.Gyro, r3.Vector{Z: 2.0})
		s.Accel = append(s.Accel, r3.Vector{Z: imu.Gravity})
	}

	qs, err := Estimate(s, testFilterParams())
	require.NoError(t, err)
	for i := 1; i < len(qs); i++ {
		assert.GreaterOrEqual(t, qs[i].Dot(qs[i-1]), 0.0, "hemisphere flip at sample %d", i)
	}
}

func TestEstimateWithMagnetometerStatic(t *testing.T) {
	s := staticStream(200, 100, r3.Vector{Z: imu.Gravity})
	s.Mag = make([]r3.Vector, 200)
	for i := range s.Mag {
		s.Mag[i] = r3.Vector{X: 0.5, Z: -0.3}
	}
	qs, err := Estimate(s, testFilterParams())
	require.NoError(t, err)
	assertQuatEqual(t, Identity(), qs[len(qs)-1], 1e-9)
}

func TestEstimateWindowTooLong(t *testing.T) {
	s := staticStream(10, 100, r3.Vector{Z: imu.Gravity})
	p := testFilterParams()
	p.N = 64

	_, err := Estimate(s, p)
	require.Error(t, err)
	var shape *imu.ShapeError
	assert.ErrorAs(t, err, &shape)
}

func TestNewFilterRejectsBadInputs(t *testing.T) {
	_, err := NewFilter(0, DefaultFilterParams())
	require.Error(t, err)

	p := DefaultFilterParams()
	p.SigmaG = 0
	_, err = NewFilter(100, p)
	require.Error(t, err)

	p = DefaultFilterParams()
	p.N = 0
	_, err = NewFilter(100, p)
	require.Error(t, err)
}

func TestRelativeSeries(t *testing.T) {
	a := []Quaternion{Identity(), FromAxisAngle(r3.Vector{Z: 1}, 0.3)}
	b := []Quaternion{Identity(), FromAxisAngle(r3.Vector{Z: 1}, 0.8)}

	rel, err := RelativeSeries(a, b)
	require.NoError(t, err)
	require.Len(t, rel, 2)
	assertQuatEqual(t, Identity(), rel[0], 1e-12)
	assertQuatEqual(t, FromAxisAngle(r3.Vector{Z: 1}, 0.5), rel[1], 1e-12)

	_, err = RelativeSeries(a, b[:1])
	require.Error(t, err)
}

func TestFilterParamsValidate(t *testing.T) {
	require.NoError(t, DefaultFilterParams().Validate())

	bad := DefaultFilterParams()
	bad.ErrorFactor = -0.1
	require.Error(t, bad.Validate())

	bad = DefaultFilterParams()
	bad.C = 0
	require.Error(t, bad.Validate())
}

func TestFilterGainDerivation(t *testing.T) {
	p := DefaultFilterParams()
	f, err := NewFilter(100, p)
	require.NoError(t, err)
	wantKp := p.C * p.SigmaG / (p.SigmaG + p.SigmaA)
	assert.InDelta(t, wantKp, f.kp, 1e-15)
	assert.InDelta(t, wantKp/10, f.ki, 1e-15)
	assert.False(t, math.IsNaN(f.dt))
}
