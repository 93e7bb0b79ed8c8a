// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package config loads the YAML configuration shared by the command-line
// tools. Unknown keys are rejected so typos fail at load time rather than
// silently running with defaults.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/hip_kinematics/internal/filters"
	"github.com/relabs-tech/hip_kinematics/internal/joints"
	"github.com/relabs-tech/hip_kinematics/internal/orientation"
	"github.com/relabs-tech/hip_kinematics/internal/pipeline"
	"github.com/relabs-tech/hip_kinematics/internal/solver"
)

// TrialFiles names the per-sensor CSV files of one trial.
type TrialFiles struct {
	Pelvis     string `yaml:"pelvis"`
	LeftThigh  string `yaml:"left_thigh"`
	RightThigh string `yaml:"right_thigh"`
	LeftShank  string `yaml:"left_shank"`
	RightShank string `yaml:"right_shank"`
}

// NamedTrial is a motion trial with an output name.
type NamedTrial struct {
	Name       string `yaml:"name"`
	TrialFiles `yaml:",inline"`
}

// SessionConfig describes one recorded session on disk.
type SessionConfig struct {
	SampleRate float64      `yaml:"sample_rate"`
	Static     TrialFiles   `yaml:"static"`
	Star       TrialFiles   `yaml:"star"`
	Motions    []NamedTrial `yaml:"motions"`
}

// SolverConfig selects an optimizer backend by name.
type SolverConfig struct {
	Method        string  `yaml:"method"`
	Loss          string  `yaml:"loss"`
	LossScale     float64 `yaml:"loss_scale"`
	MaxIterations int     `yaml:"max_iterations"`
}

func (s SolverConfig) options(base solver.Options) (solver.Options, error) {
	var err error
	if s.Method != "" {
		if base.Strategy, err = solver.ParseStrategy(s.Method); err != nil {
			return base, err
		}
	}
	if s.Loss != "" {
		if base.Loss, err = solver.ParseLoss(s.Loss); err != nil {
			return base, err
		}
	}
	if s.LossScale > 0 {
		base.LossScale = s.LossScale
	}
	if s.MaxIterations > 0 {
		base.MaxIterations = s.MaxIterations
	}
	return base, nil
}

// JointCenterConfig configures the joint-center estimator.
type JointCenterConfig struct {
	Method     string                  `yaml:"method"`
	MaskInput  *bool                   `yaml:"mask_input"`
	MaskData   string                  `yaml:"mask_data"`
	MinSamples int                     `yaml:"min_samples"`
	Opt        SolverConfig            `yaml:"opt"`
	Consensus  joints.ConsensusOptions `yaml:"consensus"`
}

// MQTTConfig configures the live-streaming tools.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// SampleTopic returns the raw-sample topic for a sensor.
func (m MQTTConfig) SampleTopic(sensor string) string { return m.TopicPrefix + "/imu/" + sensor }

// PoseTopic returns the per-sensor orientation topic.
func (m MQTTConfig) PoseTopic(sensor string) string { return m.TopicPrefix + "/pose/" + sensor }

// AngleTopic returns the joint-angle topic for a side ("left"/"right").
func (m MQTTConfig) AngleTopic(side string) string { return m.TopicPrefix + "/angles/" + side }

// SerialConfig configures the wearable-hub serial capture.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate uint   `yaml:"baud_rate"`
}

// SPIConfig configures the bench-rig MPU-9250.
type SPIConfig struct {
	Device string `yaml:"device"`
}

// WebConfig configures the live web view.
type WebConfig struct {
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// Config is the root configuration document.
type Config struct {
	Session     SessionConfig            `yaml:"session"`
	Filter      orientation.FilterParams `yaml:"filter"`
	JointCenter JointCenterConfig        `yaml:"joint_center"`
	KneeAxis    SolverConfig             `yaml:"knee_axis"`
	Bands       map[string]filters.Band  `yaml:"bands"`
	Seed        int64                    `yaml:"seed"`
	OutputDir   string                   `yaml:"output_dir"`

	Calibration string       `yaml:"calibration"` // persisted calibration path
	MQTT        MQTTConfig   `yaml:"mqtt"`
	Serial      SerialConfig `yaml:"serial"`
	SPI         SPIConfig    `yaml:"spi"`
	Web         WebConfig    `yaml:"web"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	cfg := defaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	popts := pipeline.DefaultOptions()
	return &Config{
		Filter: popts.Filter,
		Bands: map[string]filters.Band{
			"angular_acceleration": popts.Center.Band,
		},
		Seed:      popts.Seed,
		OutputDir: ".",
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "hipkin",
			TopicPrefix: "hipkin",
		},
		Serial: SerialConfig{BaudRate: 115200},
		Web:    WebConfig{Port: 8080, StaticDir: "web"},
	}
}

func (c *Config) validate() error {
	if c.Session.SampleRate < 0 {
		return fmt.Errorf("session sample_rate must not be negative (got %g)", c.Session.SampleRate)
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web port %d out of range", c.Web.Port)
	}
	// Fail early on bad estimator configuration.
	_, err := c.PipelineOptions()
	return err
}

// PipelineOptions converts the document into validated pipeline options.
func (c *Config) PipelineOptions() (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()
	opts.Filter = c.Filter
	opts.Seed = c.Seed

	var err error
	if opts.Center.Method, err = joints.ParseCenterMethod(c.JointCenter.Method); err != nil {
		return opts, err
	}
	if opts.Center.MaskData, err = joints.ParseMaskData(c.JointCenter.MaskData); err != nil {
		return opts, err
	}
	if c.JointCenter.MaskInput != nil {
		opts.Center.MaskInput = *c.JointCenter.MaskInput
	}
	if c.JointCenter.MinSamples > 0 {
		opts.Center.MinSamples = c.JointCenter.MinSamples
	}
	if c.JointCenter.Consensus.Trials > 0 {
		opts.Center.Consensus.Trials = c.JointCenter.Consensus.Trials
	}
	if c.JointCenter.Consensus.SubsetSize > 0 {
		opts.Center.Consensus.SubsetSize = c.JointCenter.Consensus.SubsetSize
	}
	if c.JointCenter.Consensus.InlierThreshold > 0 {
		opts.Center.Consensus.InlierThreshold = c.JointCenter.Consensus.InlierThreshold
	}
	if opts.Center.Solver, err = c.JointCenter.Opt.options(opts.Center.Solver); err != nil {
		return opts, err
	}
	if opts.Calibration.Axis.Solver, err = c.KneeAxis.options(opts.Calibration.Axis.Solver); err != nil {
		return opts, err
	}
	if band, ok := c.Bands["angular_acceleration"]; ok {
		opts.Center.Band = band
	}
	return opts, opts.Validate()
}

// Singleton access for the app layer: Load once at startup, Get everywhere
// after.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// InitGlobal loads the global configuration exactly once.
func InitGlobal(path string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(path)
	})
	return err
}

// Get returns the global configuration; nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
