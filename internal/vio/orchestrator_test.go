package vio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/inertial_computer/internal/association"
	"github.com/relabs-tech/inertial_computer/internal/camera"
	"github.com/relabs-tech/inertial_computer/internal/imu"
	"github.com/relabs-tech/inertial_computer/internal/landmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTracker struct {
	calls int
}

func (s *stubTracker) Track(img Image, poseID int) ([]*landmark.Landmark, error) {
	s.calls++
	return nil, nil
}

type stubSolver struct{}

func (stubSolver) Triangulate(lm *landmark.Landmark) bool                   { return false }
func (stubSolver) ComputeJacobians(lm *landmark.Landmark) bool              { return false }
func (stubSolver) MahalanobisTest(ps *landmark.PointState) bool             { return false }
func (stubSolver) AddSlamPoint(ps *landmark.PointState)                     {}
func (stubSolver) AddMsckfPoint(ps *landmark.PointState)                    {}

func testRing() *imu.RingBuffer {
	return imu.NewRingBuffer(256, imu.NoiseParams{GyroNoise: 1e-3, AccNoise: 1e-2, IMUFPS: 200})
}

func pushStationaryIMU(t *testing.T, ring *imu.RingBuffer, n int, startNs, stepNs int64) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, ring.Push(imu.Sample{
			TimestampNs: startNs + int64(i)*stepNs,
			Accel:       [3]float64{0, 0, 9.81},
		}))
	}
}

func TestPushImageSerialModeBlocksUntilProcessed(t *testing.T) {
	ring := testRing()
	pushStationaryIMU(t, ring, 50, 0, int64(time.Millisecond))

	cam := &camera.Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	tracker := &stubTracker{}
	cfg := Config{Association: association.Config{MaxWindowSize: 10, MaxPointSize: 16, MaxObsSize: 1000, MaxAdditionalMsckfPoint: 1}, SerialRun: true}

	o := NewOrchestrator(ring, cam, stubSolver{}, tracker, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.PushImage(Image{TimestampNs: int64(10 * time.Millisecond)})
	assert.Equal(t, 1, tracker.calls)

	o.PushImage(Image{TimestampNs: int64(20 * time.Millisecond)})
	assert.Equal(t, 2, tracker.calls)
}

func TestPushImageSkipsImageStartIndex(t *testing.T) {
	ring := testRing()
	pushStationaryIMU(t, ring, 50, 0, int64(time.Millisecond))

	cam := &camera.Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	tracker := &stubTracker{}
	cfg := Config{Association: association.Config{MaxWindowSize: 10, MaxPointSize: 16, MaxObsSize: 1000, MaxAdditionalMsckfPoint: 1}, SerialRun: true, ImageStartIndex: 2}

	o := NewOrchestrator(ring, cam, stubSolver{}, tracker, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.PushImage(Image{TimestampNs: int64(10 * time.Millisecond)})
	o.PushImage(Image{TimestampNs: int64(20 * time.Millisecond)})
	assert.Equal(t, 0, tracker.calls)

	o.PushImage(Image{TimestampNs: int64(30 * time.Millisecond)})
	assert.Equal(t, 1, tracker.calls)
}

func TestPushImageParallelModeDoesNotBlock(t *testing.T) {
	ring := testRing()
	pushStationaryIMU(t, ring, 50, 0, int64(time.Millisecond))

	cam := &camera.Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	tracker := &stubTracker{}
	cfg := Config{Association: association.Config{MaxWindowSize: 10, MaxPointSize: 16, MaxObsSize: 1000, MaxAdditionalMsckfPoint: 1}}

	o := NewOrchestrator(ring, cam, stubSolver{}, tracker, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.Run(ctx)
	}()

	o.PushImage(Image{TimestampNs: int64(10 * time.Millisecond)})

	require.Eventually(t, func() bool { return tracker.calls >= 1 }, time.Second, time.Millisecond)
}

func TestOnPoseCallbackReceivesStationaryPropagation(t *testing.T) {
	ring := testRing()
	pushStationaryIMU(t, ring, 50, 0, int64(time.Millisecond))

	cam := &camera.Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	tracker := &stubTracker{}
	cfg := Config{Association: association.Config{MaxWindowSize: 10, MaxPointSize: 16, MaxObsSize: 1000, MaxAdditionalMsckfPoint: 1}, SerialRun: true}

	var mu sync.Mutex
	var poses []PoseSample
	onPose := func(p PoseSample) {
		mu.Lock()
		defer mu.Unlock()
		poses = append(poses, p)
	}

	o := NewOrchestrator(ring, cam, stubSolver{}, tracker, cfg, onPose, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.PushImage(Image{TimestampNs: int64(10 * time.Millisecond)})
	o.PushImage(Image{TimestampNs: int64(20 * time.Millisecond)})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, poses, 2)
	// Stationary: position should stay near the origin between frames.
	for k := 0; k < 3; k++ {
		assert.InDelta(t, 0, poses[1].P[k], 0.05)
	}
}

func TestStaticFrameSkipsDataAssociation(t *testing.T) {
	ring := testRing()
	pushStationaryIMU(t, ring, 200, 0, int64(time.Millisecond))

	cam := &camera.Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	tracker := &stubTracker{}
	cfg := Config{Association: association.Config{MaxWindowSize: 10, MaxPointSize: 16, MaxObsSize: 1000, MaxAdditionalMsckfPoint: 1}, SerialRun: true}

	o := NewOrchestrator(ring, cam, stubSolver{}, tracker, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.PushImage(Image{TimestampNs: int64(100 * time.Millisecond)})
	o.PushImage(Image{TimestampNs: int64(150 * time.Millisecond)})

	assert.Equal(t, 2, o.StaticFrames())
	assert.Equal(t, 2, tracker.calls)
}

func TestFrameDropWarningCountsLargeGaps(t *testing.T) {
	ring := testRing()
	pushStationaryIMU(t, ring, 50, 0, int64(time.Millisecond))

	cam := &camera.Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	tracker := &stubTracker{}
	cfg := Config{
		Association:            association.Config{MaxWindowSize: 10, MaxPointSize: 16, MaxObsSize: 1000, MaxAdditionalMsckfPoint: 1},
		SerialRun:               true,
		NominalFrameIntervalNs: int64(10 * time.Millisecond),
	}

	o := NewOrchestrator(ring, cam, stubSolver{}, tracker, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.PushImage(Image{TimestampNs: int64(10 * time.Millisecond)})
	o.PushImage(Image{TimestampNs: int64(40 * time.Millisecond)}) // 30ms gap, > 1.5x 10ms nominal

	assert.Equal(t, 1, o.FrameDropWarnings())
}
