package solver

import (
	"testing"

	"github.com/relabs-tech/inertial_computer/internal/camera"
	"github.com/relabs-tech/inertial_computer/internal/landmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func identity() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	m.Set(0, 0, 1)
	m.Set(1, 1, 1)
	m.Set(2, 2, 1)
	return m
}

// syntheticLandmark builds a landmark with observations of a known 3-D
// point from three poses spread in the XY plane, all facing +Z, using an
// exact Pinhole projection (no noise) so Triangulate should recover the
// point closely.
func syntheticLandmark(cam camera.Model, point [3]float64) (*landmark.Landmark, []*Pose) {
	poses := []*Pose{
		NewPose(0, identity(), [3]float64{0, 0, 0}),
		NewPose(1, identity(), [3]float64{0.2, 0, 0}),
		NewPose(2, identity(), [3]float64{-0.1, 0.1, 0}),
	}

	lm := &landmark.Landmark{ID: 1, FlagDeadAll: true, RayAngle: 0.1}
	for _, p := range poses {
		xCam := [3]float64{point[0] - p.Pos[0], point[1] - p.Pos[1], point[2] - p.Pos[2]}
		px := cam.Project(xCam)
		ray := cam.Bearing(px)
		lm.PushObservation(0, &landmark.VisualObservation{Px: px, Ray: ray, Pose: p})
	}
	return lm, poses
}

func TestTriangulateRecoversKnownPoint(t *testing.T) {
	cam := &camera.Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	point := [3]float64{0.3, -0.2, 3.0}
	lm, _ := syntheticLandmark(cam, point)

	s := NewSquareRootEKF(cam)
	ok := s.Triangulate(lm)
	require.True(t, ok)
	require.NotNil(t, lm.PointState)

	for k := 0; k < 3; k++ {
		assert.InDelta(t, point[k], lm.PointState.Position[k], 1e-2)
	}
}

func TestTriangulateFailsWithFewerThanTwoObservations(t *testing.T) {
	cam := &camera.Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	s := NewSquareRootEKF(cam)
	lm := &landmark.Landmark{ID: 2}
	lm.PushObservation(0, &landmark.VisualObservation{Px: [2]float64{320, 240}, Ray: [3]float64{0, 0, 1}, Pose: NewPose(0, identity(), [3]float64{})})
	assert.False(t, s.Triangulate(lm))
}

func TestComputeJacobiansAndMahalanobisAcceptCleanObservation(t *testing.T) {
	cam := &camera.Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	point := [3]float64{0.1, 0.05, 2.5}
	lm, _ := syntheticLandmark(cam, point)

	s := NewSquareRootEKF(cam)
	require.True(t, s.Triangulate(lm))
	require.True(t, s.ComputeJacobians(lm))
	assert.True(t, s.MahalanobisTest(lm.PointState))
}

func TestAddSlamPointAndAddMsckfPointConsumeThePendingUpdate(t *testing.T) {
	cam := &camera.Pinhole{Fx: 500, Fy: 500, Cx: 320, Cy: 240, W: 640, H: 480}
	point := [3]float64{0.1, 0.05, 2.5}
	lm, poses := syntheticLandmark(cam, point)

	s := NewSquareRootEKF(cam)
	require.True(t, s.Triangulate(lm))
	require.True(t, s.ComputeJacobians(lm))

	s.AddMsckfPoint(lm.PointState)
	assert.False(t, lm.PointState.FlagSlamPoint)
	assert.Equal(t, 1, s.Stats().MsckfAdded)
	_, stillPending := s.pending[lm.ID]
	assert.False(t, stillPending)

	// A clean, near-exact observation shouldn't produce a wild pose
	// correction.
	for _, p := range poses {
		for _, c := range p.Correction {
			assert.Less(t, c, 1.0)
		}
	}

	require.True(t, s.ComputeJacobians(lm))
	s.AddSlamPoint(lm.PointState)
	assert.True(t, lm.PointState.FlagSlamPoint)
	assert.Equal(t, 1, s.Stats().SlamAdded)
}
