// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration holds the artifact format shared by the guided
// terminal wizard (cmd/calibration) and the websocket wizard
// (internal/app's HandleCalibrationWS): a single JSON file per calibration
// run, and the bias each one contributes back to the VIO IMU ring buffer at
// startup.
package calibration

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/relabs-tech/inertial_computer/internal/config"
)

// Result is the canonical calibration artifact. Both wizards populate one of
// these from their own richer session state (gyro rotation stats, per-pose
// accel stats, mag range coverage, ...) and hand it to Save; biases and
// scales are stored in raw ADC counts, the units the IMU actually reports in,
// so a change of full-scale range doesn't invalidate a saved calibration.
type Result struct {
	SchemaVersion int       `json:"schema_version"`
	IMU           string    `json:"imu"` // "left" or "right"
	CalibratedAt  time.Time `json:"calibrated_at"`

	GyroBias   [3]float64 `json:"gyro_bias_counts"`
	AccelBias  [3]float64 `json:"accel_bias_counts"`
	AccelScale [3]float64 `json:"accel_scale_counts"` // 1.0 means unscaled
	MagOffset  [3]float64 `json:"mag_offset_counts"`
	MagScale   [3]float64 `json:"mag_scale_counts"`

	Confidence   float64 `json:"confidence"` // 0..1 overall quality estimate
	TotalSamples int     `json:"total_samples"`
}

// Save writes res as "<imu>_<timestamp>_inertial_calibration.json" under dir
// and returns the path written. dir is created if missing.
func Save(dir string, res Result) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("calibration: create dir %s: %w", dir, err)
	}

	ts := res.CalibratedAt.Format("2006-01-02T15-04-05Z07-00")
	name := fmt.Sprintf("%s_%s_inertial_calibration.json", res.IMU, ts)
	path := filepath.Join(dir, name)

	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("calibration: marshal result: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("calibration: write %s: %w", path, err)
	}
	return path, nil
}

// LoadLatest returns the Result from the most recently written
// "*_inertial_calibration.json" file under dir for the given IMU ("left" or
// "right"). Returns an error if dir holds no matching file.
func LoadLatest(dir, imu string) (Result, error) {
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, fmt.Errorf("calibration: read dir %s: %w", dir, err)
	}

	prefix := imu + "_"
	const suffix = "_inertial_calibration.json"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, prefix) && strings.HasSuffix(n, suffix) {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return Result{}, fmt.Errorf("calibration: no calibration file for imu %q under %s", imu, dir)
	}
	sort.Strings(names) // RFC3339-derived timestamps sort lexically by time
	latest := names[len(names)-1]

	b, err := os.ReadFile(filepath.Join(dir, latest))
	if err != nil {
		return Result{}, fmt.Errorf("calibration: read %s: %w", latest, err)
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		return Result{}, fmt.Errorf("calibration: unmarshal %s: %w", latest, err)
	}
	return res, nil
}

// accelLSBPerG and gyroLSBPerDPS mirror internal/sensors.ToInertialSample's
// tables (MPU9250 full-scale sensitivities, datasheet table 6.2), since a
// calibration's bias counts must be converted with the same ranges the VIO
// feed path uses to turn raw samples into physical units.
var accelLSBPerG = [4]float64{16384, 8192, 4096, 2048}
var gyroLSBPerDPS = [4]float64{131, 65.5, 32.8, 16.4}

const gravityMS2 = 9.80665

// PhysicalBias converts the stored count-domain gyro/accel bias into the
// rad/s and m/s^2 units internal/imu.RingBuffer.SetBias expects, using the
// IMU's configured full-scale ranges.
func (r Result) PhysicalBias(cfg *config.Config) (gyroRadPerSec, accelMS2 [3]float64) {
	accelLSB := accelLSBPerG[cfg.IMUAccelRange&0x3]
	gyroLSB := gyroLSBPerDPS[cfg.IMUGyroRange&0x3]

	for i := 0; i < 3; i++ {
		gyroRadPerSec[i] = r.GyroBias[i] / gyroLSB * math.Pi / 180.0
		accelMS2[i] = r.AccelBias[i] / accelLSB * gravityMS2
	}
	return gyroRadPerSec, accelMS2
}
