package app

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/hip_kinematics/internal/config"
	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/orientation"
	"github.com/relabs-tech/hip_kinematics/internal/pipeline"
	"github.com/relabs-tech/hip_kinematics/internal/sensors"
	"github.com/relabs-tech/hip_kinematics/internal/session"
)

// RunProducer streams samples, per-sensor orientation and (when a saved
// calibration is available) hip angles over MQTT.
//
// With an SPI device configured it reads the bench-rig MPU-9250 live as the
// named sensor. Otherwise it replays the first motion trial of the session
// at its recorded rate, which drives the monitor and web view without
// hardware attached.
func RunProducer(sensor string) error {
	cfg := config.Get()

	// ---- 1) Connect to MQTT broker ----
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-producer")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("producer: MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("producer: connected to MQTT broker at %s", cfg.MQTT.Broker)

	if cfg.SPI.Device != "" {
		return runLiveProducer(client, sensor)
	}
	return runReplayProducer(client)
}

// runLiveProducer streams one bench-rig IMU through the orientation filter.
func runLiveProducer(client mqtt.Client, sensor string) error {
	cfg := config.Get()

	rate := cfg.Session.SampleRate
	if rate <= 0 {
		return fmt.Errorf("producer: session sample_rate is required")
	}

	dev, err := sensors.Open(sensor, cfg.SPI.Device)
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	defer dev.Close()

	filter, err := orientation.NewFilter(rate, cfg.Filter)
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}

	log.Printf("producer: live mode, streaming %s from %s at %g Hz", sensor, cfg.SPI.Device, rate)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	for range ticker.C {
		sample, err := dev.NextSample()
		if err != nil {
			log.Printf("producer: sample read error: %v", err)
			continue
		}
		sample.Source = sensor

		q := filter.Update(sample.GyroVec(), sample.AccelVec(), sample.MagVec(), sample.HasMag)
		publishJSON(client, cfg.MQTT.SampleTopic(sensor), sample)
		publishJSON(client, cfg.MQTT.PoseTopic(sensor), orientation.PoseFromQuaternion(q))
	}
	return nil
}

// runReplayProducer plays back a recorded motion trial over MQTT in real
// time.
func runReplayProducer(client mqtt.Client) error {
	cfg := config.Get()

	rate := cfg.Session.SampleRate
	if rate <= 0 {
		return fmt.Errorf("producer: session sample_rate is required")
	}
	if len(cfg.Session.Motions) == 0 {
		return fmt.Errorf("producer: replay mode needs at least one motion trial in the session")
	}

	motion := cfg.Session.Motions[0]
	trial, err := loadTrial(motion.TrialFiles, rate)
	if err != nil {
		return fmt.Errorf("producer: trial %s: %w", motion.Name, err)
	}

	popts, err := cfg.PipelineOptions()
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	p, err := pipeline.New(popts)
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}

	// ---- 2) Precompute orientation and, with a calibration, hip angles ----
	var res *pipeline.Result
	if cfg.Calibration != "" {
		cal, err := session.LoadCalibration(cfg.Calibration)
		if err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		if err := p.SetCalibration(cal); err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		res, err = p.Estimate(trial, pipeline.EstimateOptions{ReturnOrientation: true})
		if err != nil {
			return fmt.Errorf("producer: trial %s: %w", motion.Name, err)
		}
		log.Printf("producer: replaying trial %s with hip angles (calibration %s)", motion.Name, cfg.Calibration)
	} else {
		log.Printf("producer: replaying trial %s, no calibration configured, angles disabled", motion.Name)
	}

	streams := map[string]*imu.Stream{
		pipeline.SensorPelvis:     trial.Pelvis,
		pipeline.SensorLeftThigh:  trial.LeftThigh,
		pipeline.SensorRightThigh: trial.RightThigh,
	}
	if trial.LeftShank != nil {
		streams[pipeline.SensorLeftShank] = trial.LeftShank
	}
	if trial.RightShank != nil {
		streams[pipeline.SensorRightShank] = trial.RightShank
	}

	// Without a calibration the replay still serves per-sensor orientation.
	poses := make(map[string][]orientation.Quaternion)
	if res != nil {
		poses = res.Orientation
	} else {
		for sensor, s := range streams {
			qs, err := orientation.Estimate(s, cfg.Filter)
			if err != nil {
				return fmt.Errorf("producer: %s orientation: %w", sensor, err)
			}
			poses[sensor] = qs
		}
	}

	// ---- 3) Publish sample by sample at the recorded rate ----
	n := trial.Pelvis.Len()
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	i := 0
	for range ticker.C {
		if i >= n {
			log.Printf("producer: trial %s finished (%d samples)", motion.Name, n)
			return nil
		}
		for sensor, s := range streams {
			publishJSON(client, cfg.MQTT.SampleTopic(sensor), streamSample(sensor, s, i))
			// Estimate only returns orientation for the sensors it uses, so
			// shanks may have no pose series.
			if qs := poses[sensor]; i < len(qs) {
				publishJSON(client, cfg.MQTT.PoseTopic(sensor), orientation.PoseFromQuaternion(qs[i]))
			}
		}
		if res != nil {
			publishJSON(client, cfg.MQTT.AngleTopic("left"), res.Left[i])
			publishJSON(client, cfg.MQTT.AngleTopic("right"), res.Right[i])
		}
		i++
	}
	return nil
}

func publishJSON(client mqtt.Client, topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("producer: json marshal error (%s): %v", topic, err)
		return
	}
	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		log.Printf("producer: MQTT publish error (%s): %v", topic, token.Error())
	}
}

func streamSample(sensor string, s *imu.Stream, i int) imu.Sample {
	out := imu.Sample{
		Source: sensor,
		Gx:     s.Gyro[i].X, Gy: s.Gyro[i].Y, Gz: s.Gyro[i].Z,
		Ax: s.Accel[i].X, Ay: s.Accel[i].Y, Az: s.Accel[i].Z,
	}
	if i < len(s.Mag) {
		out.Mx, out.My, out.Mz = s.Mag[i].X, s.Mag[i].Y, s.Mag[i].Z
		out.HasMag = true
	}
	return out
}
