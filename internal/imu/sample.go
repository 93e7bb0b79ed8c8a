package imu

import "github.com/golang/geo/r3"

// Sample is a single MIMU reading on the wire (MQTT, serial capture).
type Sample struct {
	Source string `json:"source"` // "pelvis", "left_thigh", "right_thigh", ...

	Gx float64 `json:"gx"` // gyro, rad/s
	Gy float64 `json:"gy"`
	Gz float64 `json:"gz"`

	Ax float64 `json:"ax"` // accel, m/s^2
	Ay float64 `json:"ay"`
	Az float64 `json:"az"`

	Mx float64 `json:"mx"` // magnetometer, arbitrary units
	My float64 `json:"my"`
	Mz float64 `json:"mz"`

	HasMag bool `json:"has_mag"`
}

// SampleSource is anything that can produce MIMU samples over time.
type SampleSource interface {
	NextSample() (Sample, error)
}

// GyroVec returns the angular velocity as a vector.
func (s Sample) GyroVec() r3.Vector { return r3.Vector{X: s.Gx, Y: s.Gy, Z: s.Gz} }

// AccelVec returns the specific force as a vector.
func (s Sample) AccelVec() r3.Vector { return r3.Vector{X: s.Ax, Y: s.Ay, Z: s.Az} }

// MagVec returns the magnetic field as a vector.
func (s Sample) MagVec() r3.Vector { return r3.Vector{X: s.Mx, Y: s.My, Z: s.Mz} }
