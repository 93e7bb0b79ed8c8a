// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/hip_kinematics/internal/angles"
	"github.com/relabs-tech/hip_kinematics/internal/calibrate"
	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/joints"
	"github.com/relabs-tech/hip_kinematics/internal/orientation"
	"github.com/relabs-tech/hip_kinematics/internal/pipeline"
)

func sampleStream(n int, withMag bool) *imu.Stream {
	s := &imu.Stream{SampleRate: 100}
	for i := 0; i < n; i++ {
		f := float64(i)
		s.Gyro = append(s.Gyro, r3.Vector{X: 0.1 * f, Y: -0.2 * f, Z: 0.3})
		s.Accel = append(s.Accel, r3.Vector{X: f, Y: 9.81, Z: -f / 2})
		if withMag {
			s.Mag = append(s.Mag, r3.Vector{X: 22 + f, Y: -5, Z: 41})
		}
	}
	return s
}

func TestStreamRoundTrip(t *testing.T) {
	for _, withMag := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "trial.csv")
		in := sampleStream(5, withMag)
		require.NoError(t, WriteStream(path, in))

		out, err := ReadStream(path, 100)
		require.NoError(t, err)
		assert.Equal(t, in.Gyro, out.Gyro)
		assert.Equal(t, in.Accel, out.Accel)
		assert.Equal(t, in.Mag, out.Mag)
		assert.Equal(t, 100.0, out.SampleRate)
	}
}

func TestReadStreamMissingFile(t *testing.T) {
	_, err := ReadStream(filepath.Join(t.TempDir(), "absent.csv"), 100)
	require.Error(t, err)
}

func TestReadStreamBadColumnCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.csv")
	require.NoError(t, os.WriteFile(path, []byte("gx,gy,gz,ax\n1,2,3,4\n"), 0o644))
	_, err := ReadStream(path, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 6 or 9")
}

func TestReadStreamBadHeader(t *testing.T) {
	// Column-swapped file: accel before gyro. Must not load silently.
	path := filepath.Join(t.TempDir(), "trial.csv")
	require.NoError(t, os.WriteFile(path,
		[]byte("ax,ay,az,gx,gy,gz\n1,2,3,4,5,6\n"), 0o644))
	_, err := ReadStream(path, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `want "gx"`)
}

func TestReadStreamBadCell(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.csv")
	require.NoError(t, os.WriteFile(path,
		[]byte("gx,gy,gz,ax,ay,az\n1,2,nope,4,5,6\n"), 0o644))
	_, err := ReadStream(path, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
	assert.Contains(t, err.Error(), "gz")
}

func TestReadStreamEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.csv")
	require.NoError(t, os.WriteFile(path, []byte("gx,gy,gz,ax,ay,az\n"), 0o644))
	_, err := ReadStream(path, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no samples")
}

func TestWriteStreamRejectsInvalid(t *testing.T) {
	s := sampleStream(3, false)
	s.Accel = s.Accel[:2]
	err := WriteStream(filepath.Join(t.TempDir(), "trial.csv"), s)
	require.Error(t, err)
}

func TestWriteAngles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walk_left.csv")
	series := angles.Series{
		{Flexion: 12.5, Adduction: -3.25, Rotation: 0.5},
		{Flexion: 13, Adduction: -3, Rotation: 0.75},
	}
	require.NoError(t, WriteAngles(path, series, 100))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "time_s,flexion_deg,adduction_deg,rotation_deg", lines[0])
	assert.Equal(t, "0.000000,12.5000,-3.2500,0.5000", lines[1])
	assert.Equal(t, "0.010000,13.0000,-3.0000,0.7500", lines[2])
}

func sampleCalibration() *pipeline.Calibration {
	joint := func(z float64) *calibrate.JointCalibration {
		return &calibrate.JointCalibration{
			Prox: calibrate.SensorCalibration{
				Alignment: orientation.FromAxisAngle(r3.Vector{X: 1}, 0.5),
				GyroBias:  r3.Vector{X: 0.01, Z: z},
				Residual:  0.02,
			},
			Dist: calibrate.SensorCalibration{
				Alignment: orientation.FromAxisAngle(r3.Vector{Z: 1}, -0.25),
			},
			Axis: &joints.AxisEstimate{
				Prox:     r3.Vector{Z: 1},
				Dist:     r3.Vector{X: 0.1, Z: 0.99},
				Residual: 0.03,
			},
		}
	}
	return &pipeline.Calibration{
		Left:  joint(-0.004),
		Right: joint(0.002),
		LeftCenter: &joints.CenterEstimate{
			Prox:        r3.Vector{X: 0.08, Y: 0.11, Z: 0.22},
			Dist:        r3.Vector{X: 0.03, Y: 0.18, Z: 0.02},
			Residual:    0.15,
			InlierCount: 712,
		},
		RightCenter: &joints.CenterEstimate{
			Prox: r3.Vector{X: 0.08, Y: 0.11, Z: 0.02},
			Dist: r3.Vector{X: -0.02, Y: 0.16, Z: -0.04},
		},
	}
}

func TestCalibrationRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	in := sampleCalibration()
	require.NoError(t, SaveCalibration(path, in))

	out, err := LoadCalibration(path)
	require.NoError(t, err)
	assert.Equal(t, in.Left.Prox, out.Left.Prox)
	assert.Equal(t, in.Right.Dist.Alignment, out.Right.Dist.Alignment)
	assert.Equal(t, in.Left.Axis.Dist, out.Left.Axis.Dist)
	assert.Equal(t, in.LeftCenter.Prox, out.LeftCenter.Prox)
	assert.Equal(t, in.LeftCenter.InlierCount, out.LeftCenter.InlierCount)
}

func TestLoadCalibrationIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err := LoadCalibration(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete")
}

func TestLoadCalibrationBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadCalibration(path)
	require.Error(t, err)
}
