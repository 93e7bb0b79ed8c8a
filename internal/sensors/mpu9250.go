// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors drives the bench-rig MPU-9250 at register level over SPI.
// The rig is used to validate the wearable pipeline against a wired sensor;
// the magnetometer (behind the internal I2C master) is left disabled, the
// orientation filter treats heading correction as optional.
package sensors

import (
	"fmt"
	"log"
	"math"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/hip_kinematics/internal/imu"
)

// MPU-9250 register addresses.
const (
	regSmplrtDiv    = 0x19
	regConfig       = 0x1A
	regGyroConfig   = 0x1B
	regAccelConfig  = 0x1C
	regAccelConfig2 = 0x1D
	regAccelXOutH   = 0x3B
	regPwrMgmt1     = 0x6B
	regWhoAmI       = 0x75

	whoAmIValue = 0x71
	readFlag    = 0x80
)

const (
	gravity = imu.Gravity
	// Scale factors for the ranges configured in Open: gyro ±2000 dps,
	// accel ±16 g.
	gyroScale  = 2000.0 / 32768.0 * math.Pi / 180.0 // rad/s per LSB
	accelScale = 16.0 / 32768.0 * gravity                    // m/s^2 per LSB
)

// MPU9250 is one SPI-attached IMU.
type MPU9250 struct {
	name string
	port spi.PortCloser
	conn spi.Conn
}

// Open initializes the IMU on the named SPI device (e.g. "/dev/spidev0.0").
func Open(name, device string) (*MPU9250, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: periph host init: %w", name, err)
	}

	port, err := spireg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: open SPI %s: %w", name, device, err)
	}
	conn, err := port.Connect(1*physic.MegaHertz, spi.Mode3, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("%s IMU: SPI connect: %w", name, err)
	}

	m := &MPU9250{name: name, port: port, conn: conn}

	id, err := m.readReg(regWhoAmI)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("%s IMU: WHO_AM_I read: %w", name, err)
	}
	if id != whoAmIValue {
		port.Close()
		return nil, fmt.Errorf("%s IMU: WHO_AM_I = 0x%02X, want 0x%02X", name, id, whoAmIValue)
	}

	// Wake with PLL clock source, then configure ranges and filtering:
	// gyro ±2000 dps, accel ±16 g, DLPF 41 Hz, 200 Hz output rate.
	steps := []struct {
		reg, val byte
		what     string
	}{
		{regPwrMgmt1, 0x01, "power management"},
		{regConfig, 0x03, "gyro DLPF"},
		{regSmplrtDiv, 0x04, "sample rate divider"},
		{regGyroConfig, 0x18, "gyro range"},
		{regAccelConfig, 0x18, "accel range"},
		{regAccelConfig2, 0x03, "accel DLPF"},
	}
	for _, s := range steps {
		if err := m.writeReg(s.reg, s.val); err != nil {
			port.Close()
			return nil, fmt.Errorf("%s IMU: set %s: %w", name, s.what, err)
		}
	}

	log.Printf("%s IMU: initialized on %s (±2000 dps, ±16 g, 200 Hz)", name, device)
	return m, nil
}

// Close releases the SPI port.
func (m *MPU9250) Close() error { return m.port.Close() }

func (m *MPU9250) readReg(reg byte) (byte, error) {
	w := []byte{reg | readFlag, 0}
	r := make([]byte, 2)
	if err := m.conn.Tx(w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (m *MPU9250) writeReg(reg, val byte) error {
	return m.conn.Tx([]byte{reg, val}, make([]byte, 2))
}

// NextSample burst-reads accel and gyro and converts to SI units. Implements
// imu.SampleSource.
func (m *MPU9250) NextSample() (imu.Sample, error) {
	// ACCEL_XOUT_H through GYRO_ZOUT_L is a contiguous 14-byte block
	// (temperature in the middle).
	w := make([]byte, 15)
	w[0] = regAccelXOutH | readFlag
	r := make([]byte, 15)
	if err := m.conn.Tx(w, r); err != nil {
		return imu.Sample{}, fmt.Errorf("%s IMU: burst read: %w", m.name, err)
	}
	raw := r[1:]
	word := func(i int) int16 { return int16(raw[i])<<8 | int16(raw[i+1]) }

	return imu.Sample{
		Source: m.name,
		Ax:     float64(word(0)) * accelScale,
		Ay:     float64(word(2)) * accelScale,
		Az:     float64(word(4)) * accelScale,
		Gx:     float64(word(8)) * gyroScale,
		Gy:     float64(word(10)) * gyroScale,
		Gz:     float64(word(12)) * gyroScale,
	}, nil
}
