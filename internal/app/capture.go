package app

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/hip_kinematics/internal/config"
	"github.com/relabs-tech/hip_kinematics/internal/imu"
	"github.com/relabs-tech/hip_kinematics/internal/pipeline"
	"github.com/relabs-tech/hip_kinematics/internal/session"
)

// RunCapture records one trial block from the wearable hub's serial port.
// The hub emits one line per sample:
//
//	<sensor>,<gx>,<gy>,<gz>,<ax>,<ay>,<az>[,<mx>,<my>,<mz>]
//
// with gyro in rad/s and accel in m/s^2. Capture runs until Ctrl+C, then
// writes one CSV per sensor into the output directory, named
// "<name>_<sensor>.csv".
func RunCapture(name string) error {
	cfg := config.Get()

	rate := cfg.Session.SampleRate
	if rate <= 0 {
		return fmt.Errorf("capture: session sample_rate is required")
	}
	if cfg.Serial.Port == "" {
		return fmt.Errorf("capture: serial port is required")
	}

	// ---- 1) Open the hub serial port ----
	serialOpts := serial.OpenOptions{
		PortName:        cfg.Serial.Port,
		BaudRate:        cfg.Serial.BaudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	port, err := serial.Open(serialOpts)
	if err != nil {
		return fmt.Errorf("capture: open serial: %w", err)
	}
	defer port.Close()
	log.Printf("capture: serial port opened on %s at %d baud", serialOpts.PortName, serialOpts.BaudRate)

	// ---- 2) Accumulate samples per sensor until interrupted ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(port)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				readErr <- err
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	streams := make(map[string]*imu.Stream)
	total, dropped := 0, 0

capture:
	for {
		select {
		case <-sigCh:
			log.Println("capture: interrupted, writing trial files")
			break capture
		case err := <-readErr:
			return fmt.Errorf("capture: serial read: %w", err)
		case line := <-lines:
			if line == "" {
				continue
			}
			sample, err := parseHubLine(line)
			if err != nil {
				dropped++
				continue
			}
			s, ok := streams[sample.Source]
			if !ok {
				s = &imu.Stream{SampleRate: rate}
				streams[sample.Source] = s
			}
			s.Gyro = append(s.Gyro, sample.GyroVec())
			s.Accel = append(s.Accel, sample.AccelVec())
			if sample.HasMag {
				s.Mag = append(s.Mag, sample.MagVec())
			}
			total++
			if total%1000 == 0 {
				log.Printf("capture: %d samples across %d sensors", total, len(streams))
			}
		}
	}
	if dropped > 0 {
		log.Printf("capture: dropped %d malformed line(s)", dropped)
	}

	// ---- 3) Write one CSV per sensor ----
	for sensor, s := range streams {
		// Partial mag columns would make the file unreadable; keep mag only
		// when every sample carried it.
		if len(s.Mag) > 0 && len(s.Mag) != len(s.Gyro) {
			log.Printf("capture: %s: mag present on %d/%d samples, dropping mag columns", sensor, len(s.Mag), len(s.Gyro))
			s.Mag = nil
		}
		path := filepath.Join(cfg.OutputDir, name+"_"+sensor+".csv")
		if err := session.WriteStream(path, s); err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		log.Printf("capture: wrote %d samples for %s to %s", s.Len(), sensor, path)
	}
	if _, ok := streams[pipeline.SensorPelvis]; !ok {
		log.Println("capture: WARNING: no pelvis samples seen, trial is unusable for calibration")
	}
	return nil
}

func parseHubLine(line string) (imu.Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 7 && len(fields) != 10 {
		return imu.Sample{}, fmt.Errorf("capture: want 7 or 10 fields, got %d", len(fields))
	}

	vals := make([]float64, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return imu.Sample{}, fmt.Errorf("capture: field %d: %w", i+1, err)
		}
		vals[i] = v
	}

	s := imu.Sample{
		Source: strings.TrimSpace(fields[0]),
		Gx:     vals[0], Gy: vals[1], Gz: vals[2],
		Ax: vals[3], Ay: vals[4], Az: vals[5],
	}
	if len(vals) == 9 {
		s.Mx, s.My, s.Mz = vals[6], vals[7], vals[8]
		s.HasMag = true
	}
	return s, nil
}
