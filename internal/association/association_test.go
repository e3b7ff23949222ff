package association

import (
	"testing"

	"github.com/relabs-tech/inertial_computer/internal/landmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCam struct {
	w, h   int
	stereo bool
}

func (c fakeCam) Width() int                                    { return c.w }
func (c fakeCam) Height() int                                   { return c.h }
func (c fakeCam) IsStereo() bool                                { return c.stereo }
func (c fakeCam) Bearing(px [2]float64) [3]float64               { return [3]float64{px[0], px[1], 1} }
func (c fakeCam) Project(x [3]float64) [2]float64                { return [2]float64{x[0], x[1]} }
func (c fakeCam) DistortionJacobian(x [3]float64) [2][3]float64 { return [2][3]float64{} }

type fakePose struct{ id int }

func (p *fakePose) ID() int                          { return p.id }
func (p *fakePose) ForgetObservation(landmarkID int) {}

// fakeSolver lets tests control exactly which stage of the pipeline
// succeeds or fails, and records every call it receives.
type fakeSolver struct {
	triangulateOK    bool
	jacobiansOK      bool
	mahalanobisOK    bool
	triangulateCalls int
	slamAdds         int
	msckfAdds        int
}

func (s *fakeSolver) Triangulate(lm *landmark.Landmark) bool {
	s.triangulateCalls++
	if !s.triangulateOK {
		return false
	}
	lm.PointState = &landmark.PointState{Host: lm}
	return true
}

func (s *fakeSolver) ComputeJacobians(lm *landmark.Landmark) bool { return s.jacobiansOK }
func (s *fakeSolver) MahalanobisTest(ps *landmark.PointState) bool { return s.mahalanobisOK }
func (s *fakeSolver) AddSlamPoint(ps *landmark.PointState) {
	s.slamAdds++
	ps.FlagSlamPoint = true
}
func (s *fakeSolver) AddMsckfPoint(ps *landmark.PointState) { s.msckfAdds++ }

func withPixel(lm *landmark.Landmark, px [2]float64) *landmark.Landmark {
	lm.PushObservation(0, &landmark.VisualObservation{Px: px, Pose: &fakePose{id: lm.ID}})
	return lm
}

func deadAllCandidate(id int, px [2]float64) *landmark.Landmark {
	lm := withPixel(&landmark.Landmark{ID: id, FlagDeadAll: true, NumObsTracked: 8, ValidObsNum: 5, RayAngle: float64(id)}, px)
	return lm
}

func TestClassifyTrackedPromotesOrReleases(t *testing.T) {
	promotedDead := deadAllCandidate(1, [2]float64{10, 10})
	releasedDead := withPixel(&landmark.Landmark{ID: 2, FlagDeadAll: true, NumObsTracked: 8, ValidObsNum: 1}, [2]float64{10, 10})
	promotedAlive := withPixel(&landmark.Landmark{ID: 3, NumObsTracked: 7, ValidObsNum: 6, RayAngle: 0.5}, [2]float64{10, 10})
	skippedSlam := &landmark.Landmark{ID: 4, PointState: &landmark.PointState{FlagSlamPoint: true}}
	ignoredAlive := withPixel(&landmark.Landmark{ID: 5, NumObsTracked: 2, ValidObsNum: 1}, [2]float64{10, 10})

	promoted := classifyTracked([]*landmark.Landmark{promotedDead, releasedDead, promotedAlive, skippedSlam, ignoredAlive})

	ids := map[int]bool{}
	for _, lm := range promoted {
		ids[lm.ID] = true
	}
	assert.True(t, ids[1])
	assert.True(t, ids[3])
	assert.False(t, ids[2])
	assert.False(t, ids[4])
	assert.False(t, ids[5])
}

func TestAdmissionBudgetArithmetic(t *testing.T) {
	cfg := Config{MaxWindowSize: 10, MaxObsSize: 1000, MaxAdditionalMsckfPoint: 2}
	// (1000 - 2*10*2 - 5*5) / (10*2) = (1000-40-25)/20 = 935/20 = 46
	assert.Equal(t, 46, admissionBudget(cfg, 5))
}

func TestAdmissionBudgetNeverNegative(t *testing.T) {
	cfg := Config{MaxWindowSize: 10, MaxObsSize: 10, MaxAdditionalMsckfPoint: 5}
	assert.Equal(t, 0, admissionBudget(cfg, 50))
}

func TestAssociateAdmitsAsMsckfWhenNotSlamCandidate(t *testing.T) {
	cam := fakeCam{w: 64, h: 64}
	cfg := Config{MaxWindowSize: 10, MaxPointSize: 16, MaxObsSize: 1000, MaxAdditionalMsckfPoint: 1}
	solv := &fakeSolver{triangulateOK: true, jacobiansOK: true, mahalanobisOK: true}

	lm := deadAllCandidate(1, [2]float64{5, 5})
	var buffered []*landmark.Landmark

	stats := Associate([]*landmark.Landmark{lm}, &buffered, nil, solv, cam, cfg, 1)

	assert.Equal(t, 1, stats.Triangulated)
	assert.Equal(t, 1, stats.MsckfAdmitted)
	assert.Equal(t, 0, stats.SlamAdmitted)
	assert.True(t, lm.FlagDeadAll)
}

func TestAssociateAdmitsAsSlamWhenCandidateAndAliveAndSlotAvailable(t *testing.T) {
	cam := fakeCam{w: 64, h: 64}
	cfg := Config{MaxWindowSize: 10, MaxPointSize: 16, MaxObsSize: 1000, MaxAdditionalMsckfPoint: 1}
	solv := &fakeSolver{triangulateOK: true, jacobiansOK: true, mahalanobisOK: true}

	lm := withPixel(&landmark.Landmark{ID: 1, NumObsTracked: 7, ValidObsNum: 6, FlagSlamCandidate: true, RayAngle: 1}, [2]float64{5, 5})
	var buffered []*landmark.Landmark

	stats := Associate([]*landmark.Landmark{lm}, &buffered, nil, solv, cam, cfg, 1)

	assert.Equal(t, 1, stats.SlamAdmitted)
	assert.Equal(t, 0, stats.MsckfAdmitted)
	require.NotNil(t, lm.PointState)
	assert.True(t, lm.PointState.FlagSlamPoint)
}

func TestAssociateCountsGateFailuresAndDefersDeadAll(t *testing.T) {
	cam := fakeCam{w: 64, h: 64}
	cfg := Config{MaxWindowSize: 10, MaxPointSize: 16, MaxObsSize: 1000, MaxAdditionalMsckfPoint: 1}
	solv := &fakeSolver{triangulateOK: true, jacobiansOK: true, mahalanobisOK: false}

	lm := deadAllCandidate(1, [2]float64{5, 5})
	var buffered []*landmark.Landmark

	stats := Associate([]*landmark.Landmark{lm}, &buffered, nil, solv, cam, cfg, 1)

	assert.Equal(t, 1, stats.MahalanobisReject)
	assert.Equal(t, 0, stats.Admitted())
	assert.Len(t, buffered, 1)
}

func TestAssociateFallsBackToStereoWhenGridAdmitsNothing(t *testing.T) {
	cam := fakeCam{w: 64, h: 64, stereo: true}
	cfg := Config{MaxWindowSize: 1, MaxPointSize: 4, MaxObsSize: 1, MaxAdditionalMsckfPoint: 10, Stereo: true}
	solv := &fakeSolver{triangulateOK: true, jacobiansOK: true, mahalanobisOK: true}

	lm := deadAllCandidate(1, [2]float64{5, 5})
	var buffered []*landmark.Landmark

	stats := Associate([]*landmark.Landmark{lm}, &buffered, nil, solv, cam, cfg, 1)

	assert.Equal(t, 1, stats.MsckfAdmitted)
}

func slamPointAt(px [2]float64) *landmark.PointState {
	lm := withPixel(&landmark.Landmark{}, px)
	ps := &landmark.PointState{Host: lm, FlagSlamPoint: true}
	lm.PointState = ps
	return ps
}

func TestSlamSlotsByQuadrantDeficitFillDoesNotMarginalizeBelowCap(t *testing.T) {
	cam := fakeCam{w: 64, h: 64}
	// One lopsided quadrant (6 points) but total (6) is well below
	// MaxPointSize (16): must stay in the deficit-fill branch, never mark
	// anything for marginalization, regardless of the skew.
	var slamPoints []*landmark.PointState
	for i := 0; i < 6; i++ {
		slamPoints = append(slamPoints, slamPointAt([2]float64{5, 5}))
	}

	slots := slamSlotsByQuadrant(slamPoints, cam, 16)

	total := 0
	for _, s := range slots {
		total += s
	}
	assert.Equal(t, 10, total) // 16 - 6 existing
	for _, ps := range slamPoints {
		assert.False(t, ps.FlagToNextMarginalize)
	}
}

func TestSlamSlotsByQuadrantMarksOnlyThirdPointWhenAtCap(t *testing.T) {
	cam := fakeCam{w: 64, h: 64}
	// At MaxPointSize (16) total: quadrant 0 holds 5 (over its even share
	// of 4), quadrants 1/2/3 hold 4/4/3 (at or under). Only the single
	// over-full quadrant should have its third point marked, and exactly
	// one slot granted back.
	var slamPoints []*landmark.PointState
	for i := 0; i < 5; i++ {
		slamPoints = append(slamPoints, slamPointAt([2]float64{5, 5})) // quadrant 0
	}
	for i := 0; i < 4; i++ {
		slamPoints = append(slamPoints, slamPointAt([2]float64{60, 5})) // quadrant 1
	}
	for i := 0; i < 4; i++ {
		slamPoints = append(slamPoints, slamPointAt([2]float64{5, 60})) // quadrant 2
	}
	for i := 0; i < 3; i++ {
		slamPoints = append(slamPoints, slamPointAt([2]float64{60, 60})) // quadrant 3
	}

	slots := slamSlotsByQuadrant(slamPoints, cam, 16)

	marked := 0
	for i, ps := range slamPoints {
		if ps.FlagToNextMarginalize {
			marked++
			assert.Equal(t, 2, i, "only the third point added to the over-full quadrant should be marked")
		}
	}
	assert.Equal(t, 1, marked)

	total := 0
	for _, s := range slots {
		total += s
	}
	assert.Equal(t, 1, total)
}

func TestAbsorbBufferedPromotesEnoughValidObsElseReleases(t *testing.T) {
	keep := &landmark.Landmark{ID: 1, ValidObsNum: 6}
	drop := &landmark.Landmark{ID: 2, ValidObsNum: 1}
	buf := []*landmark.Landmark{keep, drop}

	promoted := absorbBuffered(&buf)

	assert.Len(t, promoted, 1)
	assert.Equal(t, 1, promoted[0].ID)
	assert.Nil(t, buf)
}
