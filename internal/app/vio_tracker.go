// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"github.com/relabs-tech/inertial_computer/internal/landmark"
	"github.com/relabs-tech/inertial_computer/internal/vio"
)

// noopTracker is the placeholder feature tracker wired in until a real
// FAST-detector-plus-tracker is plugged into cmd/vio_node: it keeps the
// frame orchestrator runnable end to end (IMU propagation, publication)
// with zero landmarks, the same role orientation.NewMockSource plays for
// the legacy orientation producer while real hardware is unavailable.
type noopTracker struct{}

func (noopTracker) Track(img vio.Image, poseID int) ([]*landmark.Landmark, error) {
	return nil, nil
}
