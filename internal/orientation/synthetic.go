// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/relabs-tech/inertial_computer/internal/imu"
)

// CircularTrajectory generates the ground-truth IMU stream for a body
// moving at constant angular rate around a circle of the given radius in
// the world XY plane, gravity along +Z. It exists for integration tests
// that need motion richer than a stationary IMU source — exercising
// preintegration and propagation with nonzero gyro/accel instead of the
// rest-only signal a mock source gives.
type CircularTrajectory struct {
	Radius       float64 // meters
	AngularSpeed float64 // rad/s about the world Z axis
	Gravity      float64 // m/s^2, defaults to 9.81 if zero
}

// SampleAt returns the synthetic inertial reading at time t seconds into
// the trajectory. The body yaws with the path at the constant angular
// rate, so in the body frame the gyro reading is just that yaw rate and
// the accelerometer reads a constant centripetal term on X plus gravity
// on Z.
func (c CircularTrajectory) SampleAt(t float64, sensorID int) imu.Sample {
	g := c.Gravity
	if g == 0 {
		g = 9.81
	}
	centripetal := c.Radius * c.AngularSpeed * c.AngularSpeed

	return imu.Sample{
		TimestampNs: int64(t * 1e9),
		Gyro:        [3]float64{0, 0, c.AngularSpeed},
		Accel:       [3]float64{centripetal, 0, g},
		SensorID:    sensorID,
	}
}

// PositionAt returns the ground-truth world-frame position at time t,
// used by tests to check propagated pose error against truth.
func (c CircularTrajectory) PositionAt(t float64) [3]float64 {
	theta := c.AngularSpeed * t
	return [3]float64{c.Radius * math.Cos(theta), c.Radius * math.Sin(theta), 0}
}
