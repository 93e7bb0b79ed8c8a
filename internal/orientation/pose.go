package orientation

import (
	"math"
)

// Pose is the wire representation of a single orientation estimate, used by
// the live streaming tools. Angles are in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// PoseFromQuaternion converts a unit quaternion to aerospace-style
// roll/pitch/yaw in degrees, for display only. The kinematics pipeline works
// on quaternions; this exists for the console and web monitors.
func PoseFromQuaternion(q Quaternion) Pose {
	roll := math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))
	v := 2 * (q.W*q.Y - q.Z*q.X)
	var pitch float64
	switch {
	case v >= 1:
		pitch = math.Pi / 2
	case v <= -1:
		pitch = -math.Pi / 2
	default:
		pitch = math.Asin(v)
	}
	yaw := math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))

	const r2d = 180.0 / math.Pi
	return Pose{Roll: roll * r2d, Pitch: pitch * r2d, Yaw: yaw * r2d}
}
