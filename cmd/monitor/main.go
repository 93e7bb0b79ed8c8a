// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/hip_kinematics/internal/app"
	"github.com/relabs-tech/hip_kinematics/internal/config"
)

func main() {
	configPath := flag.String("config", "./hipkin_config.yaml", "path to configuration file")
	flag.Parse()

	log.Println("starting hip-kinematics console monitor (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunMonitor(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
