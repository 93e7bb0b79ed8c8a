// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/hip_kinematics/internal/app"
	"github.com/relabs-tech/hip_kinematics/internal/config"
	"github.com/relabs-tech/hip_kinematics/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "./hipkin_config.yaml", "path to configuration file")
	sensor := flag.String("sensor", pipeline.SensorPelvis, "sensor name for the bench-rig IMU (live mode only)")
	flag.Parse()

	log.Println("starting hip-kinematics producer (samples, poses, angles → MQTT)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunProducer(*sensor); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
