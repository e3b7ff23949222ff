// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/inertial_computer/internal/config"
	imu_raw "github.com/relabs-tech/inertial_computer/internal/imu"
)

// accelLSBPerG and gyroLSBPerDPS are the MPU9250 full-scale sensitivities,
// indexed by the IMU_ACCEL_RANGE/IMU_GYRO_RANGE register codes (datasheet
// table 6.2).
var accelLSBPerG = [4]float64{16384, 8192, 4096, 2048}
var gyroLSBPerDPS = [4]float64{131, 65.5, 32.8, 16.4}

const gravityMS2 = 9.80665

// ToInertialSample converts a raw register reading into the physical-unit
// sample the VIO ring buffer consumes, using the configured full-scale
// ranges to recover m/s^2 and rad/s from ADC counts.
func ToInertialSample(raw imu_raw.IMURaw, cfg *config.Config, timestampNs int64) imu_raw.Sample {
	accelLSB := accelLSBPerG[cfg.IMUAccelRange&0x3]
	gyroLSB := gyroLSBPerDPS[cfg.IMUGyroRange&0x3]

	toAccel := func(raw int16) float64 { return float64(raw) / accelLSB * gravityMS2 }
	toGyro := func(raw int16) float64 { return float64(raw) / gyroLSB * math.Pi / 180.0 }

	sensorID := 0
	if raw.Source == "right" {
		sensorID = 1
	}

	return imu_raw.Sample{
		TimestampNs: timestampNs,
		Gyro:        [3]float64{toGyro(raw.Gx), toGyro(raw.Gy), toGyro(raw.Gz)},
		Accel:       [3]float64{toAccel(raw.Ax), toAccel(raw.Ay), toAccel(raw.Az)},
		SensorID:    sensorID,
	}
}

// FeedRingBuffer reads the left IMU once and, on success, converts and
// pushes the reading into ring. The caller drives the sampling loop (a
// ticker at cfg.IMUSampleInterval, matching the ambient producer's own
// cadence).
func (m *IMUManager) FeedRingBuffer(ring *imu_raw.RingBuffer, cfg *config.Config, at time.Time) error {
	raw, err := m.ReadLeftIMU()
	if err != nil {
		return fmt.Errorf("feed ring buffer: %w", err)
	}
	raw.Source = "left"
	return ring.Push(ToInertialSample(raw, cfg, at.UnixNano()))
}
