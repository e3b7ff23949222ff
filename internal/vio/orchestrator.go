package vio

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/relabs-tech/inertial_computer/internal/association"
	"github.com/relabs-tech/inertial_computer/internal/camera"
	"github.com/relabs-tech/inertial_computer/internal/imu"
	"github.com/relabs-tech/inertial_computer/internal/landmark"
	"github.com/relabs-tech/inertial_computer/internal/ransac"
	"github.com/relabs-tech/inertial_computer/internal/solver"
	"gonum.org/v1/gonum/mat"
)

// Config bundles the per-run tuning the orchestrator and the
// data-association pass share.
type Config struct {
	Association     association.Config
	ImageStartIndex  int // skip this many frames before the first pose slot
	SerialRun        bool
	MaxRunFPS        float64
	ImageQueueDepth  int

	// NominalFrameIntervalNs is the expected inter-frame gap; a gap more
	// than 1.5x this is logged as a dropped-frame warning. Zero disables
	// the check.
	NominalFrameIntervalNs int64
}

// Orchestrator is the single-consumer-thread frame scheduler described
// in the concurrency model: it owns the image queue, requests a new
// pose slot per frame, and is the sole mutator of filter, landmark,
// pose and preintegration state. It performs no estimation itself.
type Orchestrator struct {
	cfg     Config
	ring    *imu.RingBuffer
	cam     camera.Model
	solver  solver.Solver
	tracker Tracker
	rng     *rand.Rand

	onPose   PoseSink
	onPoints PointSink

	images chan Image
	serial chan struct{}

	haveLastFrame bool
	lastFrameT    int64
	frameID       int
	nextPoseID    int

	tracked    []*landmark.Landmark
	buffered   []*landmark.Landmark
	slamPoints []*landmark.PointState
	poses      []*solver.Pose

	stats              association.Stats
	staticFrames       int
	frameDropWarnings  int
}

// StaticFrames and FrameDropWarnings are the frame-level observability
// counters alongside Stats: frames skipped as stationary, and frames whose
// inter-arrival gap exceeded 1.5x the nominal camera period.
func (o *Orchestrator) StaticFrames() int      { return o.staticFrames }
func (o *Orchestrator) FrameDropWarnings() int { return o.frameDropWarnings }

// NewOrchestrator wires the ring buffer, camera model, solver and
// upstream tracker together. onPose/onPoints may be nil.
func NewOrchestrator(ring *imu.RingBuffer, cam camera.Model, solv solver.Solver, tracker Tracker, cfg Config, onPose PoseSink, onPoints PointSink) *Orchestrator {
	depth := cfg.ImageQueueDepth
	if depth <= 0 {
		depth = 8
	}
	return &Orchestrator{
		cfg:      cfg,
		ring:     ring,
		cam:      cam,
		solver:   solv,
		tracker:  tracker,
		rng:      rand.New(rand.NewSource(1)),
		onPose:   onPose,
		onPoints: onPoints,
		images:   make(chan Image, depth),
		serial:   make(chan struct{}),
	}
}

// PushIMU feeds a single inertial sample into the ring buffer. Safe to
// call concurrently with Run from the IMU producer goroutine.
func (o *Orchestrator) PushIMU(s imu.Sample) error { return o.ring.Push(s) }

// PushImage enqueues a new frame, skipping the first ImageStartIndex
// frames entirely. In serial mode it blocks until Run has fully
// processed this frame, giving a deterministic single-thread
// interleave between producer and worker; otherwise it returns as soon
// as the frame is queued.
func (o *Orchestrator) PushImage(img Image) {
	o.frameID++
	if o.frameID <= o.cfg.ImageStartIndex {
		return
	}
	o.images <- img
	if o.cfg.SerialRun {
		<-o.serial
	}
}

// Stats returns the cumulative data-association observability counters.
func (o *Orchestrator) Stats() association.Stats { return o.stats }

// Run drains the image queue until ctx is cancelled, processing frames
// one at a time. It must not be called concurrently with itself.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case img := <-o.images:
			start := time.Now()
			if err := o.processFrame(img); err != nil {
				log.Printf("vio: frame at t=%d dropped: %v", img.TimestampNs, err)
			}
			if o.cfg.SerialRun {
				o.serial <- struct{}{}
			}
			if o.cfg.MaxRunFPS > 0 {
				budget := time.Duration(float64(time.Second) / o.cfg.MaxRunFPS)
				if sleep := budget - time.Since(start); sleep > 0 {
					time.Sleep(sleep)
				}
			}
		}
	}
}

// processFrame runs one full estimation cycle: preintegrate IMU since
// the previous frame, propagate a new pose, hand the frame to the
// tracker, reject outliers by two-point RANSAC, run data association,
// and publish the result.
func (o *Orchestrator) processFrame(img Image) error {
	pose := solver.NewPose(o.nextPoseID, identity3(), [3]float64{})
	o.nextPoseID++

	var dR ransac.Rotation
	haveDR := false

	if o.haveLastFrame && len(o.poses) > 0 {
		if o.cfg.NominalFrameIntervalNs > 0 {
			gap := img.TimestampNs - o.lastFrameT
			if gap > (o.cfg.NominalFrameIntervalNs*3)/2 {
				o.frameDropWarnings++
				log.Printf("vio: frame gap %dns exceeds 1.5x nominal %dns, dropped frame suspected", gap, o.cfg.NominalFrameIntervalNs)
			}
		}

		prev := o.poses[len(o.poses)-1]
		delta := imu.NewDelta()
		if err := o.ring.Preintegrate(o.lastFrameT, img.TimestampNs, delta, o.cfg.SerialRun, nil); err != nil {
			return fmt.Errorf("preintegrate: %w", err)
		}
		propagate(prev, pose, delta, o.ring.Gravity())
		dR = relativeRotation(prev, pose)
		haveDR = true
	}
	o.lastFrameT = img.TimestampNs
	o.haveLastFrame = true

	tracked, err := o.tracker.Track(img, pose.ID())
	if err != nil {
		return fmt.Errorf("track: %w", err)
	}
	o.tracked = tracked

	if haveDR && len(o.tracked) > 0 {
		ransac.RejectOutliers(o.tracked, img.CamIndex, dR, o.frameID, ransac.DefaultOptions(), o.rng)
	}

	o.poses = append(o.poses, pose)
	if len(o.poses) > o.cfg.Association.MaxWindowSize {
		o.poses = o.poses[1:]
	}

	if o.ring.DetectStatic(img.TimestampNs) {
		o.ring.UpdateBiasByStatic(img.TimestampNs)
		o.buffered = nil
		o.staticFrames++
	} else {
		o.stats = association.Associate(o.tracked, &o.buffered, o.slamPoints, o.solver, o.cam, o.cfg.Association, o.frameID)
		o.slamPoints = collectSlamPoints(o.tracked)
	}

	if o.onPose != nil {
		o.onPose(toPoseSample(pose, img.TimestampNs))
	}
	if o.onPoints != nil {
		o.onPoints(toPointSamples(o.slamPoints))
	}
	return nil
}

// collectSlamPoints rebuilds the persistent SLAM point set from this
// frame's tracked landmarks: any landmark the solver has promoted to a
// persistent point stays tracked as long as the upstream tracker keeps
// following it.
func collectSlamPoints(tracked []*landmark.Landmark) []*landmark.PointState {
	var out []*landmark.PointState
	for _, lm := range tracked {
		if lm.PointState != nil && lm.PointState.FlagSlamPoint {
			out = append(out, lm.PointState)
		}
	}
	return out
}

// propagate advances cur from prev using a preintegrated IMU delta:
// R1 = R0*dR, v1 = v0 + g*dt + R0*dv, p1 = p0 + v0*dt + 0.5*g*dt^2 + R0*dp.
// gravity is the world-frame gravity vector, taken as the negative of
// the ring buffer's stationary-accelerometer estimate under the
// convention that the first pose's attitude defines the world frame.
func propagate(prev, cur *solver.Pose, delta *imu.Delta, gravityEstimate [3]float64) {
	dt := float64(delta.DT) / 1e9
	g := scale3(gravityEstimate, -1)

	var r1 mat.Dense
	r1.Mul(prev.R, delta.DR)
	cur.R = &r1

	dv := rotate3(prev.R, delta.DV)
	dp := rotate3(prev.R, delta.DP)

	cur.Vel = add3(prev.Vel, add3(scale3(g, dt), dv))
	cur.Pos = add3(prev.Pos, add3(scale3(prev.Vel, dt), add3(scale3(g, 0.5*dt*dt), dp)))
}

// relativeRotation returns the inter-frame rotation that rotates a
// prev-frame bearing ray into cur's frame, matching the convention
// RANSAC and the solver's relative-transform helper both expect.
func relativeRotation(prev, cur *solver.Pose) ransac.Rotation {
	var rel mat.Dense
	rel.Mul(cur.R.T(), prev.R)
	return denseToArray3(&rel)
}

func toPoseSample(p *solver.Pose, t int64) PoseSample {
	return PoseSample{TimestampNs: t, R: denseToArray3(p.R), P: p.Pos, V: p.Vel}
}

func toPointSamples(points []*landmark.PointState) []PointSample {
	out := make([]PointSample, len(points))
	for i, ps := range points {
		id := 0
		if ps.Host != nil {
			id = ps.Host.ID
		}
		out[i] = PointSample{ID: id, Position: ps.Position, SlamPoint: ps.FlagSlamPoint}
	}
	return out
}

func identity3() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	m.Set(0, 0, 1)
	m.Set(1, 1, 1)
	m.Set(2, 2, 1)
	return m
}

func denseToArray3(m *mat.Dense) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func rotate3(r *mat.Dense, v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = r.At(i, 0)*v[0] + r.At(i, 1)*v[1] + r.At(i, 2)*v[2]
	}
	return out
}

func add3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func scale3(v [3]float64, s float64) [3]float64 {
	return [3]float64{v[0] * s, v[1] * s, v[2] * s}
}
