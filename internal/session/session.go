// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session persists trials, joint-angle output and fitted
// calibrations on disk. Trials are plain CSV, one row per sample;
// calibrations are JSON.
package session

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/golang/geo/r3"

	"github.com/relabs-tech/hip_kinematics/internal/angles"
	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/pipeline"
)

var streamHeader = []string{"gx", "gy", "gz", "ax", "ay", "az"}
var streamHeaderMag = []string{"gx", "gy", "gz", "ax", "ay", "az", "mx", "my", "mz"}

// ReadStream loads one sensor's trial CSV. Columns are gx,gy,gz,ax,ay,az
// with optional mx,my,mz; the first row must be the header.
func ReadStream(path string, sampleRate float64) (*imu.Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open trial: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("session: %s has no samples", path)
	}

	cols := len(rows[0])
	if cols != 6 && cols != 9 {
		return nil, fmt.Errorf("session: %s has %d columns, want 6 or 9", path, cols)
	}
	want := streamHeader
	if cols == 9 {
		want = streamHeaderMag
	}
	for i, name := range want {
		if rows[0][i] != name {
			return nil, fmt.Errorf("session: %s header column %d is %q, want %q", path, i+1, rows[0][i], name)
		}
	}

	s := &imu.Stream{SampleRate: sampleRate}
	if cols == 9 {
		s.Mag = make([]r3.Vector, 0, len(rows)-1)
	}
	for ln, row := range rows[1:] {
		vals := make([]float64, cols)
		for i, cell := range row {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("session: %s row %d column %s: %w", path, ln+2, rows[0][i], err)
			}
			vals[i] = v
		}
		s.Gyro = append(s.Gyro, r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]})
		s.Accel = append(s.Accel, r3.Vector{X: vals[3], Y: vals[4], Z: vals[5]})
		if cols == 9 {
			s.Mag = append(s.Mag, r3.Vector{X: vals[6], Y: vals[7], Z: vals[8]})
		}
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("session: %s: %w", path, err)
	}
	return s, nil
}

// WriteStream stores a stream as a trial CSV.
func WriteStream(path string, s *imu.Stream) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("session: write %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("session: create trial: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := streamHeader
	if s.Mag != nil {
		header = streamHeaderMag
	}
	if err := w.Write(header); err != nil {
		return err
	}
	fmtF := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for i := 0; i < s.Len(); i++ {
		row := []string{
			fmtF(s.Gyro[i].X), fmtF(s.Gyro[i].Y), fmtF(s.Gyro[i].Z),
			fmtF(s.Accel[i].X), fmtF(s.Accel[i].Y), fmtF(s.Accel[i].Z),
		}
		if s.Mag != nil {
			row = append(row, fmtF(s.Mag[i].X), fmtF(s.Mag[i].Y), fmtF(s.Mag[i].Z))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteAngles stores a joint angle series as CSV with a time column.
func WriteAngles(path string, series angles.Series, sampleRate float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("session: create angles: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time_s", "flexion_deg", "adduction_deg", "rotation_deg"}); err != nil {
		return err
	}
	for i, s := range series {
		row := []string{
			strconv.FormatFloat(float64(i)/sampleRate, 'f', 6, 64),
			strconv.FormatFloat(s.Flexion, 'f', 4, 64),
			strconv.FormatFloat(s.Adduction, 'f', 4, 64),
			strconv.FormatFloat(s.Rotation, 'f', 4, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// SaveCalibration persists a fitted calibration as JSON.
func SaveCalibration(path string, c *pipeline.Calibration) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("session: write calibration: %w", err)
	}
	return nil
}

// LoadCalibration reads a persisted calibration.
func LoadCalibration(path string) (*pipeline.Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read calibration: %w", err)
	}
	var c pipeline.Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("session: parse calibration %s: %w", path, err)
	}
	if c.Left == nil || c.Right == nil {
		return nil, fmt.Errorf("session: calibration %s is incomplete", path)
	}
	return &c, nil
}
