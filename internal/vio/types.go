// Package vio implements the frame orchestrator: the single consumer
// thread that owns the image queue and drives one full estimation cycle
// per frame — IMU preintegration, handing the frame to the upstream
// tracker, outlier rejection, data association, and the solver update —
// without performing estimation itself.
package vio

import "github.com/relabs-tech/inertial_computer/internal/landmark"

// Image is a single camera frame handed to the orchestrator. Decoding
// and calibration are external collaborators; only the timestamp and
// camera index are consumed here.
type Image struct {
	TimestampNs int64
	CamIndex    int
	Width       int
	Height      int
	Stride      int
	Pixels      []byte
}

// PoseSample is the on_pose output emitted once per processed frame.
type PoseSample struct {
	TimestampNs int64
	R           [3][3]float64
	P           [3]float64
	V           [3]float64
}

// PointSample is one entry of the on_world_points output.
type PointSample struct {
	ID        int
	Position  [3]float64
	SlamPoint bool
}

// PoseSink and PointSink are the publication adapters: out of scope for
// this core (an MQTT or web publisher wires one in), consumed here only
// as plain callbacks invoked from the single VIO worker.
type PoseSink func(PoseSample)
type PointSink func([]PointSample)

// Tracker is the upstream FAST-detector-plus-feature-tracker
// collaborator: out of scope for this core, consumed only through this
// interface. Given a new image and the id of the pose slot it will be
// associated with, it updates and returns the currently live landmark
// set with this frame's observations appended to each.
type Tracker interface {
	Track(img Image, poseID int) ([]*landmark.Landmark, error)
}
