// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import "math"

// GravityAttitude estimates roll/pitch from a single accelerometer reading
// under the stationary assumption that the only specific force present is
// gravity. Yaw is unobservable from accelerometer alone and is left at 0,
// matching the legacy tilt estimate this replaces.
func GravityAttitude(accel [3]float64) Pose {
	ax, ay, az := accel[0], accel[1], accel[2]

	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
		Yaw:   0,
	}
}

// TiltCompensatedHeading derives a heading angle (radians) from a
// simultaneous accelerometer and magnetometer reading: it levels the
// magnetometer vector into the horizontal plane defined by the gravity
// vector (using the same roll/pitch GravityAttitude would report), then
// takes atan2 of the leveled components. Zero means the field points along
// the body's +X axis once leveled; the angle increases toward +Y. This is
// the natural complement to GravityAttitude's tilt-only estimate once a
// magnetometer side channel is available.
func TiltCompensatedHeading(accel, mag [3]float64) float64 {
	pose := GravityAttitude(accel)
	rollRad := pose.Roll * math.Pi / 180.0
	pitchRad := pose.Pitch * math.Pi / 180.0

	sinR, cosR := math.Sincos(rollRad)
	sinP, cosP := math.Sincos(pitchRad)

	mx, my, mz := mag[0], mag[1], mag[2]
	xh := mx*cosP + mz*sinP
	yh := mx*sinR*sinP + my*cosR - mz*sinR*cosP

	return math.Atan2(yh, xh)
}

// GravityMagAttitude extends GravityAttitude with a magnetometer-derived
// yaw via TiltCompensatedHeading, giving a full 3-axis attitude estimate
// from a single accel+mag sample pair rather than leaving yaw unobservable.
func GravityMagAttitude(accel, mag [3]float64) Pose {
	pose := GravityAttitude(accel)
	pose.Yaw = TiltCompensatedHeading(accel, mag) * 180.0 / math.Pi
	return pose
}

// FromRotation converts a world_R_cam rotation matrix, as carried by a VIO
// pose, into the roll/pitch/yaw representation the legacy console/web
// display expects. Uses the standard Z-Y-X (yaw-pitch-roll) extraction.
func FromRotation(r [3][3]float64) Pose {
	pitchRad := math.Asin(clamp(-r[2][0], -1, 1))

	var rollRad, yawRad float64
	if math.Abs(r[2][0]) < 0.9999999 {
		rollRad = math.Atan2(r[2][1], r[2][2])
		yawRad = math.Atan2(r[1][0], r[0][0])
	} else {
		// Gimbal lock: roll and yaw trade off against each other; pin yaw.
		rollRad = math.Atan2(-r[1][2], r[1][1])
		yawRad = 0
	}

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
		Yaw:   yawRad * 180.0 / math.Pi,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
