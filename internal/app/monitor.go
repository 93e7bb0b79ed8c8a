package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/hip_kinematics/internal/angles"
	"github.com/relabs-tech/hip_kinematics/internal/config"
	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/orientation"
	"github.com/relabs-tech/hip_kinematics/internal/pipeline"
)

// RunMonitor subscribes to everything the producer publishes and prints one
// line per message, for eyeballing a live session from a terminal.
func RunMonitor() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-monitor")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("monitor: MQTT connect: %w", token.Error())
	}
	log.Printf("monitor: connected to MQTT broker at %s", cfg.MQTT.Broker)

	sensorList := []string{
		pipeline.SensorPelvis,
		pipeline.SensorLeftThigh,
		pipeline.SensorRightThigh,
		pipeline.SensorLeftShank,
		pipeline.SensorRightShank,
	}

	// Subscribe to raw samples per sensor
	for _, sensor := range sensorList {
		topic := cfg.MQTT.SampleTopic(sensor)
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var s imu.Sample
			if err := json.Unmarshal(msg.Payload(), &s); err != nil {
				log.Printf("monitor: sample unmarshal error: %v", err)
				return
			}
			fmt.Printf(
				"[IMU ] %-12s gx=%7.3f gy=%7.3f gz=%7.3f  ax=%7.2f ay=%7.2f az=%7.2f\n",
				s.Source, s.Gx, s.Gy, s.Gz, s.Ax, s.Ay, s.Az,
			)
		})
		if token.Wait(); token.Error() != nil {
			return fmt.Errorf("monitor: subscribe %s: %w", topic, token.Error())
		}
	}
	log.Println("monitor: subscribed to raw sample topics")

	// Subscribe to per-sensor orientation
	for _, sensor := range sensorList {
		sensor := sensor
		topic := cfg.MQTT.PoseTopic(sensor)
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var p orientation.Pose
			if err := json.Unmarshal(msg.Payload(), &p); err != nil {
				log.Printf("monitor: pose unmarshal error: %v", err)
				return
			}
			fmt.Printf(
				"[POSE] %-12s ROLL=%7.2f  PITCH=%7.2f  YAW=%7.2f\n",
				sensor, p.Roll, p.Pitch, p.Yaw,
			)
		})
		if token.Wait(); token.Error() != nil {
			return fmt.Errorf("monitor: subscribe %s: %w", topic, token.Error())
		}
	}
	log.Println("monitor: subscribed to pose topics")

	// Subscribe to hip angles
	for _, side := range []string{"left", "right"} {
		side := side
		topic := cfg.MQTT.AngleTopic(side)
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			var a angles.Sample
			if err := json.Unmarshal(msg.Payload(), &a); err != nil {
				log.Printf("monitor: angle unmarshal error: %v", err)
				return
			}
			fmt.Printf(
				"[ANGL] %-5s FLEX=%7.2f  ADD=%7.2f  ROT=%7.2f\n",
				side, a.Flexion, a.Adduction, a.Rotation,
			)
		})
		if token.Wait(); token.Error() != nil {
			return fmt.Errorf("monitor: subscribe %s: %w", topic, token.Error())
		}
	}
	log.Println("monitor: subscribed to angle topics")

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("monitor: shutting down")
	client.Disconnect(250)
	return nil
}
