// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app holds the long-running entry points behind the cmd/ binaries:
// batch processing of recorded sessions, serial capture from the wearable
// hub, live streaming over MQTT and the web view.
package app

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/relabs-tech/hip_kinematics/internal/config"
	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/pipeline"
	"github.com/relabs-tech/hip_kinematics/internal/session"
)

// RunProcess runs the full batch pipeline over the session named in the
// configuration: calibrate from the static and star blocks, then produce a
// left and right hip angle CSV for every motion trial.
func RunProcess() error {
	cfg := config.Get()

	rate := cfg.Session.SampleRate
	if rate <= 0 {
		return fmt.Errorf("process: session sample_rate is required")
	}

	opts, err := cfg.PipelineOptions()
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}
	p, err := pipeline.New(opts)
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}

	// ---- 1) Calibrate from the static and star blocks ----
	static, err := loadTrial(cfg.Session.Static, rate)
	if err != nil {
		return fmt.Errorf("process: static block: %w", err)
	}
	star, err := loadTrial(cfg.Session.Star, rate)
	if err != nil {
		return fmt.Errorf("process: star block: %w", err)
	}

	log.Println("process: calibrating from static and star blocks")
	if err := p.Calibrate(static, star); err != nil {
		return fmt.Errorf("process: calibrate: %w", err)
	}
	cal := p.Calibration()
	log.Printf("process: left joint center [%.3f %.3f %.3f] m (pelvis sensor frame), %d/%d inliers",
		cal.LeftCenter.Prox.X, cal.LeftCenter.Prox.Y, cal.LeftCenter.Prox.Z,
		cal.LeftCenter.InlierCount, len(cal.LeftCenter.Inliers))
	log.Printf("process: right joint center [%.3f %.3f %.3f] m (pelvis sensor frame), %d/%d inliers",
		cal.RightCenter.Prox.X, cal.RightCenter.Prox.Y, cal.RightCenter.Prox.Z,
		cal.RightCenter.InlierCount, len(cal.RightCenter.Inliers))

	if cfg.Calibration != "" {
		if err := session.SaveCalibration(cfg.Calibration, cal); err != nil {
			return fmt.Errorf("process: %w", err)
		}
		log.Printf("process: calibration saved to %s", cfg.Calibration)
	}

	// ---- 2) Estimate every motion trial ----
	for _, m := range cfg.Session.Motions {
		trial, err := loadTrial(m.TrialFiles, rate)
		if err != nil {
			return fmt.Errorf("process: trial %s: %w", m.Name, err)
		}
		res, err := p.Estimate(trial, pipeline.EstimateOptions{})
		if err != nil {
			return fmt.Errorf("process: trial %s: %w", m.Name, err)
		}

		leftPath := filepath.Join(cfg.OutputDir, m.Name+"_left.csv")
		rightPath := filepath.Join(cfg.OutputDir, m.Name+"_right.csv")
		if err := session.WriteAngles(leftPath, res.Left, rate); err != nil {
			return fmt.Errorf("process: trial %s: %w", m.Name, err)
		}
		if err := session.WriteAngles(rightPath, res.Right, rate); err != nil {
			return fmt.Errorf("process: trial %s: %w", m.Name, err)
		}
		log.Printf("process: trial %s: %d samples -> %s, %s", m.Name, len(res.Left), leftPath, rightPath)
	}

	log.Printf("process: done, %d motion trial(s)", len(cfg.Session.Motions))
	return nil
}

// loadTrial reads the per-sensor CSVs of one trial block. Shank files are
// optional; without them the thigh coronal plane comes from the star
// movement alone.
func loadTrial(files config.TrialFiles, rate float64) (*pipeline.Trial, error) {
	required := func(path, sensor string) (*imu.Stream, error) {
		if path == "" {
			return nil, fmt.Errorf("no %s file configured", sensor)
		}
		return session.ReadStream(path, rate)
	}

	var t pipeline.Trial
	var err error
	if t.Pelvis, err = required(files.Pelvis, pipeline.SensorPelvis); err != nil {
		return nil, err
	}
	if t.LeftThigh, err = required(files.LeftThigh, pipeline.SensorLeftThigh); err != nil {
		return nil, err
	}
	if t.RightThigh, err = required(files.RightThigh, pipeline.SensorRightThigh); err != nil {
		return nil, err
	}
	if files.LeftShank != "" {
		if t.LeftShank, err = session.ReadStream(files.LeftShank, rate); err != nil {
			return nil, err
		}
	}
	if files.RightShank != "" {
		if t.RightShank, err = session.ReadStream(files.RightShank, rate); err != nil {
			return nil, err
		}
	}
	return &t, nil
}
